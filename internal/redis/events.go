package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"mototaxi/internal/events"
)

const (
	rideChannelPrefix   = "events:ride:"
	driverChannelPrefix = "events:driver:"
	eventBuffer         = 64
)

// EventBus carries ride events over Redis pub/sub so that every server
// instance sees changes made by any other.
type EventBus struct {
	client *redis.Client
	log    *slog.Logger
}

// NewEventBus creates a new EventBus.
func NewEventBus(client *redis.Client, log *slog.Logger) *EventBus {
	return &EventBus{client: client, log: log}
}

// Publish sends e on the ride channel and on one channel per concerned driver.
func (b *EventBus) Publish(ctx context.Context, e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	pipe := b.client.Pipeline()
	if e.Ride != nil {
		pipe.Publish(ctx, rideChannelPrefix+e.Ride.ID, data)
	}
	for _, d := range e.Drivers {
		pipe.Publish(ctx, driverChannelPrefix+d, data)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Subscribe listens on the narrowest channel the filter allows. It returns
// once Redis has confirmed the subscription.
func (b *EventBus) Subscribe(ctx context.Context, f events.Filter) (*events.Subscription, error) {
	var ps *redis.PubSub
	switch {
	case f.RideID != "":
		ps = b.client.Subscribe(ctx, rideChannelPrefix+f.RideID)
	case f.DriverID != "":
		ps = b.client.Subscribe(ctx, driverChannelPrefix+f.DriverID)
	default:
		ps = b.client.PSubscribe(ctx, rideChannelPrefix+"*")
	}

	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan events.Event, eventBuffer)
	msgs := ps.Channel()
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer close(out)
		for msg := range msgs {
			var e events.Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				b.log.Warn("event_decode_failed", "channel", msg.Channel, "error", err)
				continue
			}
			if !f.Match(e) {
				continue
			}
			select {
			case out <- e:
			default:
				b.log.Warn("event_dropped", "channel", msg.Channel, "type", e.Type)
			}
		}
	}()

	sub := events.NewSubscription(out, func() { _ = ps.Close() })
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-done:
		}
	}()
	return sub, nil
}
