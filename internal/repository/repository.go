// Package repository is the persistence gateway over Postgres. All
// operations are safe for concurrent use; writes pass a weighted
// semaphore so a burst of slow inserts cannot exhaust the pool that
// reads depend on.
package repository

import (
	"context"
	"errors"

	"golang.org/x/sync/semaphore"
)

var ErrNotFound = errors.New("not found")

// WriteLimiter bounds concurrent write statements.
type WriteLimiter struct {
	sem *semaphore.Weighted
}

// NewWriteLimiter sizes the limiter; n <= 0 falls back to 16.
func NewWriteLimiter(n int64) *WriteLimiter {
	if n <= 0 {
		n = 16
	}
	return &WriteLimiter{sem: semaphore.NewWeighted(n)}
}

func (l *WriteLimiter) acquire(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

func (l *WriteLimiter) release() {
	l.sem.Release(1)
}
