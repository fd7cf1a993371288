package broker

import (
	"context"
	"sync"

	"github.com/chatcenter/chatcenter/internal/logger"
)

// MemoryBroker is a single-process Broker for -dev and tests.
type MemoryBroker struct {
	mu   sync.RWMutex
	subs map[string]map[*memorySubscription]struct{}
}

func NewMemory() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[*memorySubscription]struct{})}
}

func (b *MemoryBroker) Close() error { return nil }

func (b *MemoryBroker) Subscribe(ctx context.Context, addr string) (Subscription, error) {
	sub := &memorySubscription{
		broker: b,
		out:    make(chan []byte, messageBufSize),
		keys:   map[string]struct{}{addr: {}},
	}
	b.attach(sub, addr)
	return sub, nil
}

func (b *MemoryBroker) Publish(ctx context.Context, key string, payload []byte) error {
	b.mu.RLock()
	targets := make([]*memorySubscription, 0, len(b.subs[key]))
	for s := range b.subs[key] {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	for _, s := range targets {
		s.deliver(key, payload)
	}
	return nil
}

func (b *MemoryBroker) attach(sub *memorySubscription, keys ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, key := range keys {
		set := b.subs[key]
		if set == nil {
			set = make(map[*memorySubscription]struct{})
			b.subs[key] = set
		}
		set[sub] = struct{}{}
	}
}

func (b *MemoryBroker) detach(sub *memorySubscription, keys ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, key := range keys {
		if set := b.subs[key]; set != nil {
			delete(set, sub)
			if len(set) == 0 {
				delete(b.subs, key)
			}
		}
	}
}

type memorySubscription struct {
	broker *MemoryBroker

	mu     sync.Mutex
	out    chan []byte
	keys   map[string]struct{}
	closed bool
}

func (s *memorySubscription) deliver(key string, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.out <- payload:
	default:
		logger.Errorf("broker: memory subscriber buffer full on %s, dropping", key)
	}
}

func (s *memorySubscription) Add(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	added := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := s.keys[k]; !ok {
			s.keys[k] = struct{}{}
			added = append(added, k)
		}
	}
	s.mu.Unlock()
	s.broker.attach(s, added...)
	return nil
}

func (s *memorySubscription) Discard(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	removed := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := s.keys[k]; ok {
			delete(s.keys, k)
			removed = append(removed, k)
		}
	}
	s.mu.Unlock()
	s.broker.detach(s, removed...)
	return nil
}

func (s *memorySubscription) Messages() <-chan []byte { return s.out }

func (s *memorySubscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	keys := make([]string, 0, len(s.keys))
	for k := range s.keys {
		keys = append(keys, k)
	}
	s.keys = map[string]struct{}{}
	s.mu.Unlock()

	s.broker.detach(s, keys...)

	s.mu.Lock()
	close(s.out)
	s.mu.Unlock()
	return nil
}
