package events

import (
	"context"
	"sync"
)

// subscriberBuffer bounds each subscriber's queue. A full queue drops the
// event for that subscriber only.
const subscriberBuffer = 64

type subscriber struct {
	filter Filter
	ch     chan Event
}

// MemoryBus fans events out to in-process subscribers.
type MemoryBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]*subscriber
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[int]*subscriber)}
}

// Publish delivers e to every matching subscriber without blocking.
func (b *MemoryBus) Publish(_ context.Context, e Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !s.filter.Match(e) {
			continue
		}
		select {
		case s.ch <- e:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber. The subscription is closed when ctx ends
// or Close is called.
func (b *MemoryBus) Subscribe(ctx context.Context, f Filter) (*Subscription, error) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	s := &subscriber{filter: f, ch: make(chan Event, subscriberBuffer)}
	b.subs[id] = s
	b.mu.Unlock()

	stop := make(chan struct{})
	sub := NewSubscription(s.ch, func() {
		close(stop)
		b.mu.Lock()
		delete(b.subs, id)
		close(s.ch)
		b.mu.Unlock()
	})

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-stop:
		}
	}()

	return sub, nil
}

// Subscribers returns the number of live subscriptions.
func (b *MemoryBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
