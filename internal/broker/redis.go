package broker

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/chatcenter/chatcenter/internal/logger"
)

const messageBufSize = 256

// RedisBroker fans out over Redis Pub/Sub. Each socket gets its own
// PubSub connection subscribed to the socket address plus group
// channels; Redis preserves publication order per channel.
type RedisBroker struct {
	cli *redis.Client
}

// NewRedis wraps an existing Redis client. The client is shared with
// the presence registry and closed by its owner.
func NewRedis(cli *redis.Client) *RedisBroker {
	return &RedisBroker{cli: cli}
}

func (b *RedisBroker) Close() error { return nil }

func (b *RedisBroker) Subscribe(ctx context.Context, addr string) (Subscription, error) {
	ps := b.cli.Subscribe(ctx, addr)
	// Force the subscription onto the wire before the caller relies on it.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("broker.Subscribe %s: %w", addr, err)
	}
	sub := &redisSubscription{ps: ps, out: make(chan []byte, messageBufSize)}
	go sub.forward(addr)
	return sub, nil
}

func (b *RedisBroker) Publish(ctx context.Context, key string, payload []byte) error {
	if err := b.cli.Publish(ctx, key, payload).Err(); err != nil {
		return fmt.Errorf("broker.Publish %s: %w", key, err)
	}
	return nil
}

type redisSubscription struct {
	ps  *redis.PubSub
	out chan []byte
}

func (s *redisSubscription) forward(addr string) {
	defer close(s.out)
	for msg := range s.ps.Channel() {
		select {
		case s.out <- []byte(msg.Payload):
		default:
			// Subscriber is not draining; drop rather than stall the
			// shared PubSub reader.
			logger.Errorf("broker: subscriber %s buffer full, dropping message", addr)
		}
	}
}

func (s *redisSubscription) Add(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.ps.Subscribe(ctx, keys...); err != nil {
		return fmt.Errorf("broker.Add: %w", err)
	}
	return nil
}

func (s *redisSubscription) Discard(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.ps.Unsubscribe(ctx, keys...); err != nil {
		return fmt.Errorf("broker.Discard: %w", err)
	}
	return nil
}

func (s *redisSubscription) Messages() <-chan []byte { return s.out }

// Close is idempotent: go-redis PubSub.Close tolerates repeat calls.
func (s *redisSubscription) Close() error { return s.ps.Close() }
