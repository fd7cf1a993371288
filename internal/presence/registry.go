// Package presence tracks which user devices are reachable and at what
// transport address. The connection key is the fleet-wide device slot:
// its presence alone enforces at most one socket per (user, device).
package presence

import (
	"context"
	"errors"
	"fmt"

	"github.com/chatcenter/chatcenter/internal/model"
)

// ErrDeviceBusy is returned by Register when the device slot is held.
var ErrDeviceBusy = errors.New("device slot busy")

// Registry is the KV-backed presence record.
// Implementations: redis (production), memory (-dev and tests).
type Registry interface {
	// Register claims the (user, device) slot for addr. Fails with
	// ErrDeviceBusy when a live slot exists; the existing key is not touched.
	Register(ctx context.Context, userID int64, device model.Device, addr string) error
	// Unregister releases the slot only if it still holds addr, so a
	// stale socket cannot clobber a replacement session.
	Unregister(ctx context.Context, userID int64, device model.Device, addr string) error
	// Refresh extends the slot TTL if it still holds addr.
	Refresh(ctx context.Context, userID int64, device model.Device, addr string) error
	// Lookup returns the transport address of the slot, or "" when absent.
	Lookup(ctx context.Context, userID int64, device model.Device) (string, error)

	SetOnline(ctx context.Context, userID int64) error
	ClearOnline(ctx context.Context, userID int64) error
	IsOnline(ctx context.Context, userID int64) (bool, error)

	// GroupsOf returns the group ids the user belongs to. The set is
	// maintained out-of-band on membership changes; SeedGroups fills it
	// for users whose membership predates the populator.
	GroupsOf(ctx context.Context, userID int64) ([]int64, error)
	SeedGroups(ctx context.Context, userID int64, groupIDs []int64) error
	AddGroup(ctx context.Context, userID int64, groupID int64) error
	RemoveGroup(ctx context.Context, userID int64, groupID int64) error

	Close() error
}

func onlineKey(userID int64) string {
	return fmt.Sprintf("Profile:Online:%d", userID)
}

func connectionKey(userID int64, device model.Device) string {
	return fmt.Sprintf("Profile:Connection:%d-%s", userID, device)
}

func groupsKey(userID int64) string {
	return fmt.Sprintf("Profile:Group:%d", userID)
}
