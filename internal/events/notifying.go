package events

import (
	"context"
	"log/slog"
	"time"

	"mototaxi/internal/domain"
	"mototaxi/internal/metrics"
	"mototaxi/internal/repository"
)

// NotifyingRideRepository publishes an event after every successful write.
// Publishing is best effort: the write has already happened.
type NotifyingRideRepository struct {
	repository.RideRepository
	pub Publisher
	log *slog.Logger
}

// NewNotifyingRideRepository wraps repo.
func NewNotifyingRideRepository(repo repository.RideRepository, pub Publisher, log *slog.Logger) *NotifyingRideRepository {
	return &NotifyingRideRepository{RideRepository: repo, pub: pub, log: log}
}

// Create persists ride and announces it.
func (r *NotifyingRideRepository) Create(ctx context.Context, ride *domain.Ride) error {
	if err := r.RideRepository.Create(ctx, ride); err != nil {
		return err
	}
	r.publish(ctx, Event{Type: TypeRideCreated, Ride: ride.Clone(), Drivers: driversOf(ride)})
	return nil
}

// Update applies the change and announces the new state.
func (r *NotifyingRideRepository) Update(ctx context.Context, id string, patch repository.RidePatch, cond repository.RideCondition) (*domain.Ride, error) {
	var before *domain.Ride
	if patch.TargetDriverID != nil || patch.Status != nil {
		// Read only for event typing; a failure here degrades to TypeRideUpdated.
		before, _ = r.RideRepository.GetByID(ctx, id)
	}

	after, err := r.RideRepository.Update(ctx, id, patch, cond)
	if err != nil {
		return nil, err
	}

	e := Event{Type: TypeRideUpdated, Ride: after.Clone()}
	var previousTarget string
	if before != nil {
		previousTarget = before.TargetDriverID
		switch {
		case before.Status != after.Status:
			e.Type = TypeStatusChanged
		case after.TargetDriverID != "" && after.TargetDriverID != before.TargetDriverID:
			e.Type = TypeOfferSent
		case after.TargetDriverID == "" && before.TargetDriverID != "":
			e.Type = TypeOfferWithdrawn
		}
	}
	e.Drivers = driversOf(after, previousTarget)
	r.publish(ctx, e)
	return after, nil
}

func (r *NotifyingRideRepository) publish(ctx context.Context, e Event) {
	e.At = time.Now().UTC()
	metrics.EventsPublished.WithLabelValues(string(e.Type)).Inc()
	if err := r.pub.Publish(ctx, e); err != nil {
		r.log.Warn("event_publish_failed", "ride_id", e.Ride.ID, "type", e.Type, "error", err)
	}
}
