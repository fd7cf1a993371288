// Package broker is the cross-node fan-out layer. Every socket holds a
// Subscription on its own transport address; conversations map to named
// group keys. Dialogs never use group keys: they are delivered
// point-to-point by publishing to the recipient's address.
package broker

import (
	"context"
	"fmt"
)

// SystemGroupKey is the group every authenticated socket joins.
const SystemGroupKey = "SystemCenter"

// GroupKey returns the broker key of a group conversation.
func GroupKey(groupID int64) string {
	return fmt.Sprintf("Group-%d", groupID)
}

// Subscription is one socket's view of the broker. Messages published
// to the socket's address or to any added group key arrive on Messages,
// in per-key publication order.
type Subscription interface {
	// Add joins the given group keys.
	Add(ctx context.Context, keys ...string) error
	// Discard leaves the given group keys. Discarding a key that was
	// never added is a no-op.
	Discard(ctx context.Context, keys ...string) error
	// Messages delivers payloads until Close. The channel is closed
	// after Close returns.
	Messages() <-chan []byte
	// Close tears the subscription down. Safe to call more than once.
	Close() error
}

// Broker provides group publish and point-to-point send over a shared
// transport. Implementations: redis Pub/Sub (production), memory.
type Broker interface {
	// Subscribe attaches a socket under its transport address.
	Subscribe(ctx context.Context, addr string) (Subscription, error)
	// Publish sends payload to every subscriber of key. Publishing to
	// an address key is the point-to-point primitive; to an absent key
	// it is a silent no-op.
	Publish(ctx context.Context, key string, payload []byte) error
	Close() error
}
