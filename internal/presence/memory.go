package presence

import (
	"context"
	"sync"
	"time"

	"github.com/chatcenter/chatcenter/internal/model"
)

type slot struct {
	addr string
	exp  time.Time
}

// MemoryRegistry is a single-process Registry used in -dev and tests.
type MemoryRegistry struct {
	mu     sync.RWMutex
	ttl    time.Duration
	slots  map[string]slot
	online map[int64]struct{}
	groups map[int64]map[int64]struct{}
}

func NewMemory(ttl time.Duration) *MemoryRegistry {
	if ttl <= 0 {
		ttl = 65 * time.Second
	}
	return &MemoryRegistry{
		ttl:    ttl,
		slots:  make(map[string]slot),
		online: make(map[int64]struct{}),
		groups: make(map[int64]map[int64]struct{}),
	}
}

func (r *MemoryRegistry) Close() error { return nil }

func (r *MemoryRegistry) Register(ctx context.Context, userID int64, device model.Device, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := connectionKey(userID, device)
	if s, ok := r.slots[key]; ok && time.Now().Before(s.exp) {
		return ErrDeviceBusy
	}
	r.slots[key] = slot{addr: addr, exp: time.Now().Add(r.ttl)}
	return nil
}

func (r *MemoryRegistry) Unregister(ctx context.Context, userID int64, device model.Device, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := connectionKey(userID, device)
	if s, ok := r.slots[key]; ok && s.addr == addr {
		delete(r.slots, key)
	}
	return nil
}

func (r *MemoryRegistry) Refresh(ctx context.Context, userID int64, device model.Device, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := connectionKey(userID, device)
	if s, ok := r.slots[key]; ok && s.addr == addr {
		r.slots[key] = slot{addr: addr, exp: time.Now().Add(r.ttl)}
	}
	return nil
}

func (r *MemoryRegistry) Lookup(ctx context.Context, userID int64, device model.Device) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.slots[connectionKey(userID, device)]
	if !ok || time.Now().After(s.exp) {
		return "", nil
	}
	return s.addr, nil
}

func (r *MemoryRegistry) SetOnline(ctx context.Context, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.online[userID] = struct{}{}
	return nil
}

func (r *MemoryRegistry) ClearOnline(ctx context.Context, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.online, userID)
	return nil
}

func (r *MemoryRegistry) IsOnline(ctx context.Context, userID int64) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.online[userID]
	return ok, nil
}

func (r *MemoryRegistry) GroupsOf(ctx context.Context, userID int64) ([]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.groups[userID]
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *MemoryRegistry) SeedGroups(ctx context.Context, userID int64, groupIDs []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.groups[userID]
	if set == nil {
		set = make(map[int64]struct{}, len(groupIDs))
		r.groups[userID] = set
	}
	for _, id := range groupIDs {
		set[id] = struct{}{}
	}
	return nil
}

func (r *MemoryRegistry) AddGroup(ctx context.Context, userID int64, groupID int64) error {
	return r.SeedGroups(ctx, userID, []int64{groupID})
}

func (r *MemoryRegistry) RemoveGroup(ctx context.Context, userID int64, groupID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set := r.groups[userID]; set != nil {
		delete(set, groupID)
	}
	return nil
}
