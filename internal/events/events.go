// Package events carries ride change notifications between the store, the
// dispatcher and connected clients.
package events

import (
	"context"
	"sync"
	"time"

	"mototaxi/internal/domain"
)

// Type names what changed on a ride.
type Type string

const (
	TypeRideCreated    Type = "ride.created"
	TypeOfferSent      Type = "ride.offer_sent"
	TypeOfferWithdrawn Type = "ride.offer_withdrawn"
	TypeStatusChanged  Type = "ride.status_changed"
	TypeRideUpdated    Type = "ride.updated"
)

// Event is a snapshot of a ride after a change.
type Event struct {
	Type Type         `json:"type"`
	Ride *domain.Ride `json:"ride"`
	// Drivers lists every driver the change concerns: the assigned driver,
	// the current target and a target that was just replaced or cleared.
	Drivers []string  `json:"drivers,omitempty"`
	At      time.Time `json:"at"`
}

// Concerns reports whether driverID is affected by the event.
func (e Event) Concerns(driverID string) bool {
	for _, d := range e.Drivers {
		if d == driverID {
			return true
		}
	}
	return false
}

// Filter selects events. A zero Filter matches everything.
type Filter struct {
	RideID   string
	DriverID string
}

// Match reports whether e passes the filter.
func (f Filter) Match(e Event) bool {
	if f.RideID != "" && (e.Ride == nil || e.Ride.ID != f.RideID) {
		return false
	}
	if f.DriverID != "" && !e.Concerns(f.DriverID) {
		return false
	}
	return true
}

// Publisher accepts events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Bus is a publisher that can also be subscribed to.
type Bus interface {
	Publisher
	Subscribe(ctx context.Context, f Filter) (*Subscription, error)
}

// Subscription delivers matching events on C until closed.
type Subscription struct {
	C <-chan Event

	once   sync.Once
	cancel func()
}

// NewSubscription wraps a channel and the function that tears it down.
func NewSubscription(c <-chan Event, cancel func()) *Subscription {
	return &Subscription{C: c, cancel: cancel}
}

// Close stops delivery. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

func driversOf(r *domain.Ride, extra ...string) []string {
	var out []string
	add := func(id string) {
		if id == "" {
			return
		}
		for _, d := range out {
			if d == id {
				return
			}
		}
		out = append(out, id)
	}
	add(r.DriverID)
	add(r.TargetDriverID)
	for _, id := range extra {
		add(id)
	}
	return out
}
