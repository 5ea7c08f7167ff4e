package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"mototaxi/internal/domain"
	"mototaxi/internal/fare"
	"mototaxi/internal/geo"
	"mototaxi/internal/metrics"
	"mototaxi/internal/repository"
)

// DispatchStarter launches dispatch for a newly created ride.
type DispatchStarter interface {
	Start(rideID string) bool
}

// Ensure Dispatcher implements DispatchStarter.
var _ DispatchStarter = (*Dispatcher)(nil)

// RideService handles passenger-side ride operations.
type RideService struct {
	rideRepo   repository.RideRepository
	dispatcher DispatchStarter
	pricing    PolicySource
	drivers    *DriverService
	notifier   *NotificationService
	log        *slog.Logger
}

// NewRideService creates a new RideService.
func NewRideService(
	rideRepo repository.RideRepository,
	dispatcher DispatchStarter,
	pricing PolicySource,
	drivers *DriverService,
	notifier *NotificationService,
	log *slog.Logger,
) *RideService {
	return &RideService{
		rideRepo:   rideRepo,
		dispatcher: dispatcher,
		pricing:    pricing,
		drivers:    drivers,
		notifier:   notifier,
		log:        log,
	}
}

// TripRequest describes a trip to price or request.
type TripRequest struct {
	Pickup        domain.Location
	Destination   domain.Location
	Stops         []domain.Location
	VehicleClass  domain.VehicleClass  // defaults to moto
	PaymentMethod domain.PaymentMethod // defaults to cash
}

// CreateRideRequest contains the parameters for creating a ride.
type CreateRideRequest struct {
	PassengerID string
	TripRequest
}

// EstimateFare prices a trip without creating anything.
func (s *RideService) EstimateFare(ctx context.Context, req TripRequest) (fare.Estimate, error) {
	req, err := normalizeTrip(req)
	if err != nil {
		return fare.Estimate{}, err
	}
	policy, err := s.pricing.Current(ctx)
	if err != nil {
		return fare.Estimate{}, err
	}
	return fare.EstimateFare(tripDistance(req), req.VehicleClass, policy), nil
}

// RequestRide creates a pending ride with a frozen estimate and starts
// dispatch for it.
func (s *RideService) RequestRide(ctx context.Context, req CreateRideRequest) (*domain.Ride, error) {
	if strings.TrimSpace(req.PassengerID) == "" {
		return nil, ErrInvalidPassengerID
	}
	trip, err := normalizeTrip(req.TripRequest)
	if err != nil {
		return nil, err
	}

	policy, err := s.pricing.Current(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	ride := &domain.Ride{
		ID:            uuid.New().String(),
		PassengerID:   req.PassengerID,
		Pickup:        trip.Pickup,
		Destination:   trip.Destination,
		Stops:         trip.Stops,
		VehicleClass:  trip.VehicleClass,
		PaymentMethod: trip.PaymentMethod,
		Status:        domain.RideStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	est := fare.EstimateFare(ride.RouteKm(), ride.VehicleClass, policy)
	ride.DistanceKm = est.DistanceKm
	ride.EstimatedFare = est.Price
	ride.EstimatedMinutes = est.ETAMinutes

	if err := s.rideRepo.Create(ctx, ride); err != nil {
		return nil, err
	}
	metrics.RidesRequested.WithLabelValues(string(ride.VehicleClass)).Inc()
	s.log.Info("ride_requested",
		"ride_id", ride.ID,
		"passenger_id", ride.PassengerID,
		"distance_km", ride.DistanceKm,
		"estimated_fare", ride.EstimatedFare,
	)

	if s.dispatcher != nil {
		s.dispatcher.Start(ride.ID)
	}
	return ride, nil
}

// GetRide retrieves a ride.
func (s *RideService) GetRide(ctx context.Context, rideID string) (*domain.Ride, error) {
	if rideID == "" {
		return nil, ErrInvalidRideID
	}
	return s.rideRepo.GetByID(ctx, rideID)
}

// ListRides returns a passenger's rides, newest first.
func (s *RideService) ListRides(ctx context.Context, passengerID string, limit int) ([]*domain.Ride, error) {
	if passengerID == "" {
		return nil, ErrInvalidPassengerID
	}
	return s.rideRepo.List(ctx, repository.RideQuery{PassengerID: passengerID, Limit: limit})
}

// CancelRideRequest contains the parameters for cancelling a ride.
type CancelRideRequest struct {
	RideID      string
	PassengerID string
}

// CancelRide cancels a ride from any non-terminal state. Cancelling a ride
// that already ended returns it unchanged.
func (s *RideService) CancelRide(ctx context.Context, req CancelRideRequest) (*domain.Ride, error) {
	if req.RideID == "" {
		return nil, ErrInvalidRideID
	}

	ride, err := s.rideRepo.GetByID(ctx, req.RideID)
	if err != nil {
		return nil, err
	}
	if req.PassengerID != "" && ride.PassengerID != req.PassengerID {
		return nil, ErrRideNotOwned
	}
	if ride.Status.IsTerminal() {
		return ride, nil
	}

	cancelled := domain.RideStatusCancelled
	reason := domain.CancelReasonPassenger
	none := ""
	updated, err := s.rideRepo.Update(ctx, req.RideID,
		repository.RidePatch{Status: &cancelled, CancelReason: &reason, TargetDriverID: &none},
		repository.RideCondition{Statuses: domain.SourcesFor(domain.RideStatusCancelled)},
	)
	if errors.Is(err, repository.ErrNoMatch) {
		// Someone else ended it first.
		return s.rideRepo.GetByID(ctx, req.RideID)
	}
	if err != nil {
		return nil, err
	}

	metrics.RideOutcomes.WithLabelValues(string(domain.RideStatusCancelled), reason).Inc()
	s.log.Info("ride_cancelled", "ride_id", updated.ID, "driver_id", updated.DriverID, "from_status", ride.Status)

	if updated.DriverID != "" {
		s.drivers.releaseDriver(ctx, updated.DriverID)
		_ = s.notifier.NotifyRideCancelled(ctx, updated)
	}
	return updated, nil
}

func normalizeTrip(req TripRequest) (TripRequest, error) {
	if !usable(req.Pickup) {
		return req, ErrInvalidPickupLocation
	}
	if !usable(req.Destination) {
		return req, ErrInvalidDestinationLocation
	}
	for _, stop := range req.Stops {
		if !usable(stop) {
			return req, ErrInvalidStopLocation
		}
	}

	if req.VehicleClass == "" {
		req.VehicleClass = domain.VehicleClassMoto
	}
	if !isKnownVehicleClass(req.VehicleClass) {
		return req, ErrInvalidVehicleClass
	}

	method, err := ValidatePaymentMethod(string(req.PaymentMethod))
	if err != nil {
		return req, err
	}
	req.PaymentMethod = method
	return req, nil
}

// usable rejects out-of-range coordinates and the all-zero location a
// missing JSON field decodes to.
func usable(loc domain.Location) bool {
	if loc.Name == "" && loc.Lat == 0 && loc.Lng == 0 {
		return false
	}
	return loc.Valid()
}

// tripDistance is the straight-line length through every stop.
func tripDistance(req TripRequest) float64 {
	return geo.PathKm(domain.RoutePoints(req.Pickup, req.Stops, req.Destination)...)
}

// ValidatePaymentMethod validates a payment method string.
func ValidatePaymentMethod(method string) (domain.PaymentMethod, error) {
	switch domain.PaymentMethod(method) {
	case domain.PaymentMethodCash, domain.PaymentMethodMpesa, domain.PaymentMethodEmola:
		return domain.PaymentMethod(method), nil
	case "":
		return domain.PaymentMethodCash, nil // Default to cash
	default:
		return "", ErrInvalidPaymentMethod
	}
}
