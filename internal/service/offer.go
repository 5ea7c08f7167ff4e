package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"mototaxi/internal/domain"
	"mototaxi/internal/fare"
	"mototaxi/internal/geo"
	"mototaxi/internal/metrics"
	"mototaxi/internal/repository"
)

// Offer is what a candidate driver sees while targeted by a pending ride.
type Offer struct {
	RideID           string
	DriverID         string
	Ride             *domain.Ride
	PickupDistanceKm float64
	ArrivalMinutes   int
	DriverEarnings   float64
	Currency         string
	ExpiresAt        time.Time
}

// PolicySource supplies the pricing policy in force.
type PolicySource interface {
	Current(ctx context.Context) (domain.PricingPolicy, error)
}

func buildOffer(ride *domain.Ride, driverID string, driverPos geo.Coordinate, policy domain.PricingPolicy) Offer {
	o := Offer{
		RideID:         ride.ID,
		DriverID:       driverID,
		Ride:           ride,
		DriverEarnings: fare.DriverEarnings(ride.EstimatedFare, ride.VehicleClass, policy),
		Currency:       policy.Currency,
		ExpiresAt:      ride.OfferExpiresAt,
	}
	if driverPos.Valid() {
		o.PickupDistanceKm = geo.DistanceKm(driverPos, ride.Pickup.Coordinate)
		o.ArrivalMinutes = fare.ArrivalMinutes(o.PickupDistanceKm)
	}
	return o
}

// OfferService is the driver side of dispatch: it lists, accepts and skips
// offers.
type OfferService struct {
	rideRepo   repository.RideRepository
	driverRepo repository.DriverRepository
	drivers    *DriverService
	pricing    PolicySource
	notifier   *NotificationService
	log        *slog.Logger
}

// NewOfferService creates a new OfferService.
func NewOfferService(
	rideRepo repository.RideRepository,
	driverRepo repository.DriverRepository,
	drivers *DriverService,
	pricing PolicySource,
	notifier *NotificationService,
	log *slog.Logger,
) *OfferService {
	return &OfferService{
		rideRepo:   rideRepo,
		driverRepo: driverRepo,
		drivers:    drivers,
		pricing:    pricing,
		notifier:   notifier,
		log:        log,
	}
}

// PendingOffers returns the live offers targeting driverID.
func (s *OfferService) PendingOffers(ctx context.Context, driverID string) ([]Offer, error) {
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}
	driver, err := s.driverRepo.GetByID(ctx, driverID)
	if err != nil {
		return nil, err
	}

	rides, err := s.rideRepo.List(ctx, repository.RideQuery{
		TargetDriverID: driverID,
		Statuses:       []domain.RideStatus{domain.RideStatusPending},
	})
	if err != nil {
		return nil, err
	}

	policy, err := s.pricing.Current(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	offers := make([]Offer, 0, len(rides))
	for _, ride := range rides {
		if !ride.OfferExpiresAt.IsZero() && now.After(ride.OfferExpiresAt) {
			continue
		}
		offers = append(offers, buildOffer(ride, driverID, driver.Position, policy))
	}
	return offers, nil
}

// AcceptOffer assigns the ride to driverID if it is still pending and not
// offered to someone else. Exactly one of any number of concurrent callers
// succeeds; the others get ErrRideAlreadyTaken.
func (s *OfferService) AcceptOffer(ctx context.Context, driverID, rideID string) (*domain.Ride, error) {
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}
	if rideID == "" {
		return nil, ErrInvalidRideID
	}

	driver, err := s.driverRepo.GetByID(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if !driver.Eligible() {
		return nil, ErrDriverNotEligible
	}

	accepted := domain.RideStatusAccepted
	ride, err := s.rideRepo.Update(ctx, rideID,
		repository.RidePatch{
			Status:         &accepted,
			DriverID:       &driverID,
			TargetDriverID: &driverID,
		},
		repository.RideCondition{
			Statuses:      []domain.RideStatus{domain.RideStatusPending},
			TargetUnsetOr: driverID,
		},
	)
	if errors.Is(err, repository.ErrNoMatch) {
		metrics.OfferResults.WithLabelValues("race_lost").Inc()
		s.log.Info("offer_race_lost", "ride_id", rideID, "driver_id", driverID)
		return nil, ErrRideAlreadyTaken
	}
	if err != nil {
		return nil, err
	}

	metrics.OfferResults.WithLabelValues("accepted").Inc()
	s.log.Info("offer_accepted", "ride_id", rideID, "driver_id", driverID)

	if _, err := s.drivers.setOnTrip(ctx, driverID, true); err != nil {
		s.log.Warn("driver_mark_busy_failed", "driver_id", driverID, "error", err)
	}
	_ = s.notifier.NotifyDriverFound(ctx, ride)
	return ride, nil
}

// SkipOffer clears the target if it is still driverID. Skipping an offer
// that has already moved on is a no-op.
func (s *OfferService) SkipOffer(ctx context.Context, driverID, rideID string) error {
	if driverID == "" {
		return ErrInvalidDriverID
	}
	if rideID == "" {
		return ErrInvalidRideID
	}

	none := ""
	_, err := s.rideRepo.Update(ctx, rideID,
		repository.RidePatch{TargetDriverID: &none},
		repository.RideCondition{
			Statuses:       []domain.RideStatus{domain.RideStatusPending},
			TargetDriverID: driverID,
		},
	)
	if errors.Is(err, repository.ErrNoMatch) {
		return nil
	}
	if err != nil {
		return err
	}

	metrics.OfferResults.WithLabelValues("skipped").Inc()
	s.log.Info("offer_skipped", "ride_id", rideID, "driver_id", driverID)
	return nil
}
