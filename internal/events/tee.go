package events

import (
	"context"
	"log/slog"
	"sync"
)

// sinkQueueSize bounds how many events may wait for one slow sink.
const sinkQueueSize = 1024

type queued struct {
	ctx context.Context
	e   Event
}

// Tee publishes to a primary bus and copies each event to extra sinks. Each
// sink is fed from its own queue by its own goroutine, in publish order, so a
// slow or unreachable sink never delays the caller. When a queue is full the
// event is dropped for that sink and logged. Sink failures never reach the
// caller.
type Tee struct {
	Bus
	queues []chan queued
	log    *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewTee wraps bus with sinks. Call Close to drain the queues.
func NewTee(bus Bus, log *slog.Logger, sinks ...Publisher) *Tee {
	t := &Tee{Bus: bus, log: log}
	for _, s := range sinks {
		q := make(chan queued, sinkQueueSize)
		t.queues = append(t.queues, q)
		t.wg.Add(1)
		go t.drain(s, q)
	}
	return t
}

func (t *Tee) drain(sink Publisher, q <-chan queued) {
	defer t.wg.Done()
	for item := range q {
		if err := sink.Publish(item.ctx, item.e); err != nil {
			t.log.Warn("event_sink_failed", "type", item.e.Type, "error", err)
		}
	}
}

// Publish sends e to the primary bus and queues it for every sink.
func (t *Tee) Publish(ctx context.Context, e Event) error {
	err := t.Bus.Publish(ctx, e)

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return err
	}
	item := queued{ctx: context.WithoutCancel(ctx), e: e}
	for _, q := range t.queues {
		select {
		case q <- item:
		default:
			t.log.Warn("event_sink_queue_full", "type", e.Type)
		}
	}
	return err
}

// Close stops accepting events and waits until every queued event has been
// handed to its sink or ctx ends.
func (t *Tee) Close(ctx context.Context) error {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		for _, q := range t.queues {
			close(q)
		}
	}
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
