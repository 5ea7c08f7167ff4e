package service

import (
	"context"
	"errors"
	"log/slog"

	"mototaxi/internal/domain"
	"mototaxi/internal/metrics"
	"mototaxi/internal/repository"
)

// TripService moves an assigned ride through driver-reported progress.
type TripService struct {
	rideRepo repository.RideRepository
	drivers  *DriverService
	notifier *NotificationService
	log      *slog.Logger
}

// NewTripService creates a new TripService.
func NewTripService(
	rideRepo repository.RideRepository,
	drivers *DriverService,
	notifier *NotificationService,
	log *slog.Logger,
) *TripService {
	return &TripService{
		rideRepo: rideRepo,
		drivers:  drivers,
		notifier: notifier,
		log:      log,
	}
}

// ProgressRequest identifies the driver reporting progress on a ride.
type ProgressRequest struct {
	RideID   string
	DriverID string
}

// MarkEnRoute records that the driver is heading to pickup.
func (s *TripService) MarkEnRoute(ctx context.Context, req ProgressRequest) (*domain.Ride, error) {
	return s.advance(ctx, req, domain.RideStatusEnRoute)
}

// StartTrip records that the passenger is on board.
func (s *TripService) StartTrip(ctx context.Context, req ProgressRequest) (*domain.Ride, error) {
	return s.advance(ctx, req, domain.RideStatusInProgress)
}

// CompleteRide finishes the ride. The final fare is the estimate frozen at
// creation.
func (s *TripService) CompleteRide(ctx context.Context, req ProgressRequest) (*domain.Ride, error) {
	return s.advance(ctx, req, domain.RideStatusCompleted)
}

// advance applies a driver-reported transition. A ride already in a
// terminal state is returned unchanged with no error, as is a repeat of the
// transition that already happened.
func (s *TripService) advance(ctx context.Context, req ProgressRequest, to domain.RideStatus) (*domain.Ride, error) {
	if req.RideID == "" {
		return nil, ErrInvalidRideID
	}
	if req.DriverID == "" {
		return nil, ErrInvalidDriverID
	}

	ride, err := s.rideRepo.GetByID(ctx, req.RideID)
	if err != nil {
		return nil, err
	}
	if ride.Status.IsTerminal() {
		return ride, nil
	}
	if ride.DriverID != req.DriverID {
		return nil, ErrDriverNotAssignedToRide
	}
	if ride.Status == to {
		return ride, nil
	}
	if !domain.CanTransition(ride.Status, to) {
		return nil, ErrInvalidTransition
	}

	patch := repository.RidePatch{Status: &to}
	if to == domain.RideStatusCompleted {
		finalFare := ride.EstimatedFare
		patch.FinalFare = &finalFare
	}

	updated, err := s.rideRepo.Update(ctx, req.RideID, patch, repository.RideCondition{
		Statuses: domain.SourcesFor(to),
		DriverID: req.DriverID,
	})
	if errors.Is(err, repository.ErrNoMatch) {
		// Lost a race with a cancellation or a duplicate report.
		current, readErr := s.rideRepo.GetByID(ctx, req.RideID)
		if readErr != nil {
			return nil, readErr
		}
		if current.Status.IsTerminal() || current.Status == to {
			return current, nil
		}
		return nil, ErrInvalidTransition
	}
	if err != nil {
		return nil, err
	}

	s.log.Info("ride_progress", "ride_id", updated.ID, "driver_id", req.DriverID, "status", updated.Status)
	if to == domain.RideStatusCompleted {
		metrics.RideOutcomes.WithLabelValues(string(domain.RideStatusCompleted), "").Inc()
		s.drivers.releaseDriver(ctx, req.DriverID)
	}
	_ = s.notifier.NotifyProgress(ctx, updated)
	return updated, nil
}
