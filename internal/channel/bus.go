// Package channel provides the per-user broadcast channel bus. A channel is
// a named group that outbound events are published to; whoever holds the
// user's live connection subscribes to that user's channel and forwards
// events down the socket. Two implementations exist: a NATS-backed bus for
// multi-node deployments (nats.go) and an in-process bus used in
// single-node mode and in tests.
package channel

import (
	"fmt"
	"sync"

	"github.com/kamwali/realtime/internal/presence"
)

// Subscription is a handle to an active channel subscription.
type Subscription interface {
	// Unsubscribe removes the subscription. Safe to call once.
	Unsubscribe() error
}

// Bus is the publish/subscribe surface the relay and broadcaster are built
// on. Publishing to a channel nobody subscribes to is a successful no-op.
type Bus interface {
	Publish(key presence.ChannelKey, data []byte) error
	Subscribe(key presence.ChannelKey, fn func(data []byte)) (Subscription, error)
	Close()
}

// ---------------------------------------------------------------------------
// In-process bus
// ---------------------------------------------------------------------------

// MemoryBus is a process-local Bus. Handlers run synchronously in the
// publisher's goroutine, which keeps single-node delivery ordered and makes
// test assertions deterministic.
type MemoryBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[presence.ChannelKey]map[int]func(data []byte)
	closed bool
}

// NewMemoryBus returns an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs: make(map[presence.ChannelKey]map[int]func(data []byte)),
	}
}

// Publish delivers data to every handler subscribed to key.
func (b *MemoryBus) Publish(key presence.ChannelKey, data []byte) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("channel: bus closed")
	}
	handlers := make([]func(data []byte), 0, len(b.subs[key]))
	for _, fn := range b.subs[key] {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(data)
	}
	return nil
}

// Subscribe registers a handler for key and returns its subscription handle.
func (b *MemoryBus) Subscribe(key presence.ChannelKey, fn func(data []byte)) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("channel: bus closed")
	}

	if b.subs[key] == nil {
		b.subs[key] = make(map[int]func(data []byte))
	}
	id := b.nextID
	b.nextID++
	b.subs[key][id] = fn

	return &memorySubscription{bus: b, key: key, id: id}, nil
}

// Close drops all subscriptions. Further publishes and subscribes fail.
func (b *MemoryBus) Close() {
	b.mu.Lock()
	b.closed = true
	b.subs = make(map[presence.ChannelKey]map[int]func(data []byte))
	b.mu.Unlock()
}

type memorySubscription struct {
	bus  *MemoryBus
	key  presence.ChannelKey
	id   int
	once sync.Once
}

func (s *memorySubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		if handlers, ok := s.bus.subs[s.key]; ok {
			delete(handlers, s.id)
			if len(handlers) == 0 {
				delete(s.bus.subs, s.key)
			}
		}
		s.bus.mu.Unlock()
	})
	return nil
}
