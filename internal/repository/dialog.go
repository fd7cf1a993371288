package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatcenter/chatcenter/internal/logger"
	"github.com/chatcenter/chatcenter/internal/model"
)

// ErrSelfDialog rejects a dialog between a user and themselves.
var ErrSelfDialog = errors.New("dialog with self")

const dialogCols = `id, left_user_id, right_user_id, status, created_at, updated_at`

type DialogRepository struct {
	pool    *pgxpool.Pool
	limiter *WriteLimiter
}

func NewDialogRepository(pool *pgxpool.Pool, limiter *WriteLimiter) *DialogRepository {
	return &DialogRepository{pool: pool, limiter: limiter}
}

func scanDialog(s interface{ Scan(dest ...any) error }, d *model.Dialog) error {
	return s.Scan(&d.ID, &d.LeftUserID, &d.RightUserID, &d.Status, &d.CreatedAt, &d.UpdatedAt)
}

// normalizePair orders the two user ids; dialog rows always store the
// smaller id on the left so the pair is unique in both orderings.
func normalizePair(a, b int64) (int64, int64) {
	if a > b {
		return b, a
	}
	return a, b
}

// Get returns the enabled dialog between the two users regardless of
// argument order, or ErrNotFound.
func (r *DialogRepository) Get(ctx context.Context, userA, userB int64) (*model.Dialog, error) {
	defer logger.DeferLogDuration("dialog.Get", time.Now())()
	left, right := normalizePair(userA, userB)
	d := &model.Dialog{}
	row := r.pool.QueryRow(ctx,
		`SELECT `+dialogCols+` FROM dialogs
		 WHERE left_user_id = $1 AND right_user_id = $2 AND status = 'enable'`,
		left, right,
	)
	if err := scanDialog(row, d); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("dialogRepo.Get: %w", err)
	}
	return d, nil
}

// GetByID returns the dialog row by primary key.
func (r *DialogRepository) GetByID(ctx context.Context, id int64) (*model.Dialog, error) {
	defer logger.DeferLogDuration("dialog.GetByID", time.Now())()
	d := &model.Dialog{}
	row := r.pool.QueryRow(ctx, `SELECT `+dialogCols+` FROM dialogs WHERE id = $1`, id)
	if err := scanDialog(row, d); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("dialogRepo.GetByID: %w", err)
	}
	return d, nil
}

// GetOrCreate returns the dialog between the two users, creating it if
// absent. A disabled row is re-enabled and its update time touched. The
// upsert makes the call idempotent under concurrency.
func (r *DialogRepository) GetOrCreate(ctx context.Context, userA, userB int64) (*model.Dialog, error) {
	defer logger.DeferLogDuration("dialog.GetOrCreate", time.Now())()
	if userA == userB {
		return nil, ErrSelfDialog
	}
	if err := r.limiter.acquire(ctx); err != nil {
		return nil, fmt.Errorf("dialogRepo.GetOrCreate acquire: %w", err)
	}
	defer r.limiter.release()

	left, right := normalizePair(userA, userB)
	now := time.Now().UTC()
	d := &model.Dialog{}
	row := r.pool.QueryRow(ctx,
		`INSERT INTO dialogs (left_user_id, right_user_id, status, created_at, updated_at)
		 VALUES ($1, $2, 'enable', $3, $3)
		 ON CONFLICT (left_user_id, right_user_id)
		 DO UPDATE SET status = 'enable', updated_at = $3
		 RETURNING `+dialogCols,
		left, right, now,
	)
	if err := scanDialog(row, d); err != nil {
		return nil, fmt.Errorf("dialogRepo.GetOrCreate: %w", err)
	}
	return d, nil
}
