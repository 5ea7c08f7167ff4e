package tests

import (
	"context"
	"testing"
	"time"

	"mototaxi/internal/domain"
	"mototaxi/internal/events"
	"mototaxi/internal/geo"
	"mototaxi/internal/logging"
	"mototaxi/internal/service"
)

// Quelimane landmarks used across tests.
var (
	mercadoCentral = domain.Location{Name: "Mercado Central", Coordinate: geo.Coordinate{Lat: -17.8764, Lng: 36.8878}}
	aeroporto      = domain.Location{Name: "Aeroporto", Coordinate: geo.Coordinate{Lat: -17.8536, Lng: 36.8875}}
	catedral       = domain.Location{Name: "Catedral", Coordinate: geo.Coordinate{Lat: -17.8700, Lng: 36.8880}}
)

// harness wires the services the way cmd/server does, on mocks and an
// in-process bus.
type harness struct {
	rides     *MockRideRepository
	drivers   *MockDriverRepository
	locations *MockLocationStore
	cache     *MockDriverCache
	locks     *MockLockStore
	directory *MockDirectory
	bus       *events.MemoryBus

	pricing    *service.PricingService
	driverSvc  *service.DriverService
	offerSvc   *service.OfferService
	tripSvc    *service.TripService
	rideSvc    *service.RideService
	dispatcher *service.Dispatcher
	starter    *MockDispatchStarter
}

func testDispatchConfig(offerTimeout time.Duration) service.DispatchConfig {
	return service.DispatchConfig{
		OfferTimeout:   offerTimeout,
		SearchRadiusKm: 5,
		LockTTL:        10 * time.Second,
	}
}

// newHarness builds the services. RideService gets a recording starter so
// tests drive Dispatch explicitly.
func newHarness(t *testing.T, cfg service.DispatchConfig, candidates ...service.Candidate) *harness {
	t.Helper()
	log := logging.Discard()

	h := &harness{
		rides:     NewMockRideRepository(),
		drivers:   NewMockDriverRepository(),
		locations: NewMockLocationStore(),
		cache:     NewMockDriverCache(),
		locks:     NewMockLockStore(),
		directory: NewMockDirectory(candidates...),
		bus:       events.NewMemoryBus(),
		starter:   NewMockDispatchStarter(),
	}
	store := events.NewNotifyingRideRepository(h.rides, h.bus, log)
	notifier := service.NewNotificationService(log)

	h.pricing = service.NewPricingService(NewMockPricingRepository(), NewMockPricingCache(), log)
	h.driverSvc = service.NewDriverService(h.locations, h.cache, h.drivers, h.directory, notifier, log)
	h.dispatcher = service.NewDispatcher(store, h.directory, h.locks, h.bus, h.pricing, notifier, cfg, log)
	h.offerSvc = service.NewOfferService(store, h.drivers, h.driverSvc, h.pricing, notifier, log)
	h.tripSvc = service.NewTripService(store, h.driverSvc, notifier, log)
	h.rideSvc = service.NewRideService(store, h.starter, h.pricing, h.driverSvc, notifier, log)

	t.Cleanup(func() {
		ctx, cancel := contextWithTimeout(2 * time.Second)
		defer cancel()
		_ = h.dispatcher.Shutdown(ctx)
	})
	return h
}

// addDriver registers an active, available driver near pos.
func (h *harness) addDriver(id string, class domain.VehicleClass, pos geo.Coordinate) service.Candidate {
	h.drivers.AddDriver(&domain.Driver{
		ID:           id,
		Name:         "Driver " + id,
		Phone:        "+25884" + id,
		Status:       domain.DriverStatusActive,
		VehicleClass: class,
		Available:    true,
		Position:     pos,
		LastSeenAt:   time.Now(),
	})
	return service.Candidate{DriverID: id, VehicleClass: class, Position: pos}
}

// addPendingRide stores a pending moto ride from Mercado Central to the airport.
func (h *harness) addPendingRide(id string) *domain.Ride {
	now := time.Now().UTC()
	ride := &domain.Ride{
		ID:            id,
		PassengerID:   "passenger-1",
		Pickup:        mercadoCentral,
		Destination:   aeroporto,
		VehicleClass:  domain.VehicleClassMoto,
		PaymentMethod: domain.PaymentMethodCash,
		DistanceKm:    2.54,
		EstimatedFare: 113,
		Status:        domain.RideStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	h.rides.AddRide(ride)
	return ride
}

// addAssignedRide stores a ride already accepted by driverID.
func (h *harness) addAssignedRide(id, driverID string, status domain.RideStatus) *domain.Ride {
	ride := h.addPendingRide(id)
	ride.Status = status
	ride.DriverID = driverID
	ride.TargetDriverID = driverID
	ride.AcceptedAt = time.Now().UTC()
	h.rides.AddRide(ride)
	return ride
}

// near returns a point about km north of the pickup.
func near(km float64) geo.Coordinate {
	return geo.Coordinate{Lat: mercadoCentral.Lat + km/111.2, Lng: mercadoCentral.Lng}
}

// waitFor polls cond until it holds or timeout passes.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func contextWithTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}
