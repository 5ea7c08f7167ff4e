package tests

import (
	"context"
	"errors"
	"testing"
	"time"

	"mototaxi/internal/domain"
	"mototaxi/internal/geo"
	"mototaxi/internal/logging"
	"mototaxi/internal/redis"
	"mototaxi/internal/service"
)

// ──────────────────────────────────────────────
// 1. REGISTRATION AND STATUS
// ──────────────────────────────────────────────

func TestRegisterDriver_PendingApprovalAndDuplicatePhone(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testDispatchConfig(time.Second))
	req := service.RegisterDriverRequest{Name: "  Joaquim  ", Phone: "+258840000001"}

	driver, err := h.driverSvc.Register(context.Background(), req)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if driver.Status != domain.DriverStatusPendingApproval {
		t.Errorf("expected pending_approval, got %s", driver.Status)
	}
	if driver.Name != "Joaquim" || driver.VehicleClass != domain.VehicleClassMoto {
		t.Errorf("unexpected driver %+v", driver)
	}
	if driver.Available {
		t.Error("a new driver must start offline")
	}

	again, err := h.driverSvc.Register(context.Background(), req)
	if !errors.Is(err, service.ErrDriverAlreadyRegistered) {
		t.Fatalf("expected ErrDriverAlreadyRegistered, got %v", err)
	}
	if again == nil || again.ID != driver.ID {
		t.Error("duplicate registration must return the existing driver")
	}
	if h.drivers.CreateCallCount != 1 {
		t.Errorf("expected 1 create, got %d", h.drivers.CreateCallCount)
	}
}

func TestRegisterDriver_Validation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testDispatchConfig(time.Second))
	cases := []struct {
		req  service.RegisterDriverRequest
		want error
	}{
		{service.RegisterDriverRequest{Phone: "+258840000001"}, service.ErrInvalidDriverName},
		{service.RegisterDriverRequest{Name: "Ana"}, service.ErrInvalidPhone},
		{service.RegisterDriverRequest{Name: "Ana", Phone: "+258840000001", VehicleClass: "bus"}, service.ErrInvalidVehicleClass},
	}
	for _, tc := range cases {
		if _, err := h.driverSvc.Register(context.Background(), tc.req); !errors.Is(err, tc.want) {
			t.Errorf("Register(%+v): expected %v, got %v", tc.req, tc.want, err)
		}
	}
}

func TestSetStatus_ApprovesAndInvalidatesCache(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testDispatchConfig(time.Second))
	h.addDriver("d1", domain.VehicleClassMoto, near(0.3))
	h.drivers.UpdateStatus(context.Background(), "d1", domain.DriverStatusPendingApproval)
	h.cache.SetDriversBatch(context.Background(), []*redis.CachedDriver{{ID: "d1", Status: "pending_approval"}})

	driver, err := h.driverSvc.SetStatus(context.Background(), "d1", domain.DriverStatusActive)
	if err != nil {
		t.Fatalf("set status: %v", err)
	}
	if driver.Status != domain.DriverStatusActive {
		t.Errorf("expected active, got %s", driver.Status)
	}
	if h.cache.IsCached("d1") {
		t.Error("stale cache entry must be invalidated")
	}

	if _, err := h.driverSvc.SetStatus(context.Background(), "d1", "suspended"); !errors.Is(err, service.ErrInvalidDriverStatus) {
		t.Errorf("expected ErrInvalidDriverStatus, got %v", err)
	}
}

// ──────────────────────────────────────────────
// 2. PRESENCE
// ──────────────────────────────────────────────

func TestPresence_OnlineUpdateOffline(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testDispatchConfig(time.Second))
	h.addDriver("d1", domain.VehicleClassMoto, geo.Coordinate{})
	h.drivers.UpdateAvailability(context.Background(), "d1", false)

	driver, err := h.driverSvc.GoOnline(context.Background(), service.UpdateLocationRequest{DriverID: "d1", Position: near(0.4)})
	if err != nil {
		t.Fatalf("go online: %v", err)
	}
	if !driver.Available || driver.Position != near(0.4) {
		t.Errorf("expected available at the reported position, got %+v", driver)
	}
	if !h.locations.HasLocation("d1") || !h.cache.IsAvailable("d1") {
		t.Error("online driver must be indexed and in the available set")
	}

	if err := h.driverSvc.UpdateLocation(context.Background(), service.UpdateLocationRequest{DriverID: "d1", Position: near(0.6)}); err != nil {
		t.Fatalf("update location: %v", err)
	}
	if got := h.drivers.GetDriver("d1"); got.Position != near(0.6) {
		t.Errorf("position not updated: %v", got.Position)
	}

	if err := h.driverSvc.GoOffline(context.Background(), "d1"); err != nil {
		t.Fatalf("go offline: %v", err)
	}
	if h.locations.HasLocation("d1") || h.cache.IsAvailable("d1") {
		t.Error("offline driver must leave the index and the available set")
	}

	// Offline drivers still record position, but are not re-indexed.
	if err := h.driverSvc.UpdateLocation(context.Background(), service.UpdateLocationRequest{DriverID: "d1", Position: near(0.7)}); err != nil {
		t.Fatalf("update location offline: %v", err)
	}
	if h.locations.HasLocation("d1") {
		t.Error("offline driver must not be re-indexed")
	}
}

func TestPresence_OfflineDuringTripStaysOfflineAfterRelease(t *testing.T) {
	t.Parallel()

	for _, end := range []string{"complete", "cancel"} {
		end := end
		t.Run(end, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, testDispatchConfig(time.Second))
			h.addDriver("d1", domain.VehicleClassMoto, near(0.3))
			h.addPendingRide("r1")
			ctx := context.Background()

			if _, err := h.offerSvc.AcceptOffer(ctx, "d1", "r1"); err != nil {
				t.Fatalf("accept: %v", err)
			}
			if err := h.driverSvc.GoOffline(ctx, "d1"); err != nil {
				t.Fatalf("go offline: %v", err)
			}

			var err error
			if end == "complete" {
				_, err = h.tripSvc.CompleteRide(ctx, service.ProgressRequest{RideID: "r1", DriverID: "d1"})
			} else {
				_, err = h.rideSvc.CancelRide(ctx, service.CancelRideRequest{RideID: "r1", PassengerID: "passenger-1"})
			}
			if err != nil {
				t.Fatalf("%s: %v", end, err)
			}

			d := h.drivers.GetDriver("d1")
			if d.Available || d.OnTrip {
				t.Errorf("expected offline and free, got available=%v on_trip=%v", d.Available, d.OnTrip)
			}
			if h.cache.IsAvailable("d1") || h.locations.HasLocation("d1") {
				t.Error("released offline driver must stay out of the available set and the index")
			}

			h.addPendingRide("r2")
			if _, err := h.offerSvc.AcceptOffer(ctx, "d1", "r2"); !errors.Is(err, service.ErrDriverNotEligible) {
				t.Errorf("expected ErrDriverNotEligible, got %v", err)
			}
		})
	}
}

func TestPresence_ReleaseReindexesAtStoredPosition(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testDispatchConfig(time.Second))
	h.addDriver("d1", domain.VehicleClassMoto, near(0.3))
	h.locations.SetLocation("d1", near(0.3))
	h.addPendingRide("r1")
	ctx := context.Background()

	if _, err := h.offerSvc.AcceptOffer(ctx, "d1", "r1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	// The drop-off position reaches the database but not the index.
	if err := h.drivers.UpdatePosition(ctx, "d1", near(2.5), time.Now()); err != nil {
		t.Fatalf("update position: %v", err)
	}

	if _, err := h.tripSvc.CompleteRide(ctx, service.ProgressRequest{RideID: "r1", DriverID: "d1"}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	pos, ok := h.locations.Location("d1")
	if !ok || pos != near(2.5) {
		t.Errorf("expected index at the stored position %v, got %v (indexed=%v)", near(2.5), pos, ok)
	}
	if !h.cache.IsAvailable("d1") {
		t.Error("released online driver must rejoin the available set")
	}
}

func TestPresence_LocationPushesContinueDuringTrip(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testDispatchConfig(time.Second))
	h.addDriver("d1", domain.VehicleClassMoto, near(0.3))
	h.addPendingRide("r1")
	ctx := context.Background()

	if _, err := h.offerSvc.AcceptOffer(ctx, "d1", "r1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := h.driverSvc.UpdateLocation(ctx, service.UpdateLocationRequest{DriverID: "d1", Position: near(1.2)}); err != nil {
		t.Fatalf("update location: %v", err)
	}
	if pos, ok := h.locations.Location("d1"); !ok || pos != near(1.2) {
		t.Errorf("on-trip driver must keep moving in the index, got %v (indexed=%v)", pos, ok)
	}
}

func TestPresence_RejectsBadInput(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testDispatchConfig(time.Second))
	h.addDriver("d1", domain.VehicleClassMoto, near(0.3))

	if _, err := h.driverSvc.GoOnline(context.Background(), service.UpdateLocationRequest{DriverID: "d1", Position: geo.Coordinate{Lat: 100}}); !errors.Is(err, service.ErrInvalidLocation) {
		t.Errorf("expected ErrInvalidLocation, got %v", err)
	}
	if err := h.driverSvc.UpdateLocation(context.Background(), service.UpdateLocationRequest{Position: near(0.1)}); !errors.Is(err, service.ErrInvalidDriverID) {
		t.Errorf("expected ErrInvalidDriverID, got %v", err)
	}
	if _, err := h.driverSvc.GoOnline(context.Background(), service.UpdateLocationRequest{DriverID: "ghost", Position: near(0.1)}); err == nil {
		t.Error("expected an error for an unknown driver")
	}
}

// ──────────────────────────────────────────────
// 3. DIRECTORY
// ──────────────────────────────────────────────

func TestGeoDirectory_FiltersIneligibleAndFillsCache(t *testing.T) {
	t.Parallel()

	drivers := NewMockDriverRepository()
	locations := NewMockLocationStore()
	cache := NewMockDriverCache()

	for _, d := range []*domain.Driver{
		{ID: "ok", Status: domain.DriverStatusActive, Available: true, VehicleClass: domain.VehicleClassMoto},
		{ID: "busy", Status: domain.DriverStatusActive, Available: true, OnTrip: true, VehicleClass: domain.VehicleClassMoto},
		{ID: "offline", Status: domain.DriverStatusActive, Available: false, VehicleClass: domain.VehicleClassMoto},
		{ID: "pending", Status: domain.DriverStatusPendingApproval, Available: true, VehicleClass: domain.VehicleClassMoto},
	} {
		drivers.AddDriver(d)
	}
	locations.SetLocation("ok", near(0.5))
	locations.SetLocation("busy", near(0.2))
	locations.SetLocation("offline", near(0.25))
	locations.SetLocation("pending", near(0.3))
	locations.SetLocation("unknown", near(0.1))
	locations.SetLocation("far", near(20))

	dir := service.NewGeoDirectory(locations, cache, drivers)
	got, err := dir.Eligible(context.Background(), mercadoCentral.Coordinate, 5)
	if err != nil {
		t.Fatalf("eligible: %v", err)
	}
	if len(got) != 1 || got[0].DriverID != "ok" {
		t.Fatalf("expected only ok, got %+v", got)
	}
	if got[0].VehicleClass != domain.VehicleClassMoto {
		t.Errorf("expected moto class, got %s", got[0].VehicleClass)
	}
	if !cache.IsCached("ok") || !cache.IsCached("busy") {
		t.Error("repository reads must be written back to the cache")
	}
}

func TestGeoDirectory_ScansRepositoryWithoutLocationStore(t *testing.T) {
	t.Parallel()

	drivers := NewMockDriverRepository()
	drivers.AddDriver(&domain.Driver{ID: "seen", Status: domain.DriverStatusActive, Available: true, Position: near(0.2), LastSeenAt: time.Now()})
	drivers.AddDriver(&domain.Driver{ID: "never", Status: domain.DriverStatusActive, Available: true})

	dir := service.NewGeoDirectory(nil, nil, drivers)
	got, err := dir.Eligible(context.Background(), mercadoCentral.Coordinate, 5)
	if err != nil {
		t.Fatalf("eligible: %v", err)
	}
	if len(got) != 1 || got[0].DriverID != "seen" {
		t.Errorf("expected only seen, got %+v", got)
	}
}

func TestGeoDirectory_LocationStoreFailure(t *testing.T) {
	t.Parallel()

	locations := NewMockLocationStore()
	locations.FindNearbyDriversError = ErrMockTimeout

	dir := service.NewGeoDirectory(locations, nil, NewMockDriverRepository())
	if _, err := dir.Eligible(context.Background(), mercadoCentral.Coordinate, 5); !errors.Is(err, ErrMockTimeout) {
		t.Errorf("expected wrapped ErrMockTimeout, got %v", err)
	}
}

func TestSyntheticDirectory_OnlyWhenEmpty(t *testing.T) {
	t.Parallel()

	empty := service.NewSyntheticDirectory(NewMockDirectory(), 6)
	got, err := empty.Eligible(context.Background(), mercadoCentral.Coordinate, 2)
	if err != nil {
		t.Fatalf("eligible: %v", err)
	}
	if len(got) != 6 {
		t.Fatalf("expected 6 markers, got %d", len(got))
	}
	for _, c := range got {
		if !c.Synthetic {
			t.Errorf("%s must be marked synthetic", c.DriverID)
		}
		if km := geo.DistanceKm(c.Position, mercadoCentral.Coordinate); km > 2.05 {
			t.Errorf("%s placed %.2f km away, outside the radius", c.DriverID, km)
		}
	}

	known := service.Candidate{DriverID: "d1", Position: near(0.3)}
	populated := service.NewSyntheticDirectory(NewMockDirectory(known), 6)
	got, _ = populated.Eligible(context.Background(), mercadoCentral.Coordinate, 2)
	if len(got) != 1 || got[0].Synthetic {
		t.Errorf("real drivers must be returned untouched, got %+v", got)
	}
}

func TestNearby_ValidatesPoint(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testDispatchConfig(time.Second))
	if _, err := h.driverSvc.Nearby(context.Background(), geo.Coordinate{Lat: -95}, 5); !errors.Is(err, service.ErrInvalidLocation) {
		t.Errorf("expected ErrInvalidLocation, got %v", err)
	}
}

// ──────────────────────────────────────────────
// 4. PRICING
// ──────────────────────────────────────────────

func TestPricing_DefaultUntilSavedThenCached(t *testing.T) {
	t.Parallel()

	repo := NewMockPricingRepository()
	cache := NewMockPricingCache()
	svc := service.NewPricingService(repo, cache, logging.Discard())

	policy, err := svc.Current(context.Background())
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if policy.Rates[domain.VehicleClassMoto].BaseFare != 50 {
		t.Errorf("expected default moto base 50, got %v", policy.Rates[domain.VehicleClassMoto].BaseFare)
	}

	updated := domain.DefaultPricingPolicy()
	updated.Rates[domain.VehicleClassMoto] = domain.Rate{BaseFare: 60, PerKmRate: 30, CommissionRate: 0.2}
	updated.Currency = ""
	saved, err := svc.Update(context.Background(), updated)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if saved.Currency != "MZN" {
		t.Errorf("currency must default to MZN, got %q", saved.Currency)
	}
	if cache.InvalidateCallCount != 1 {
		t.Errorf("expected cache invalidation, got %d", cache.InvalidateCallCount)
	}

	policy, _ = svc.Current(context.Background())
	if policy.Rates[domain.VehicleClassMoto].BaseFare != 60 {
		t.Errorf("expected the saved policy, got %+v", policy.Rates[domain.VehicleClassMoto])
	}
	if !cache.Cached() {
		t.Error("policy read from the repository must be cached")
	}

	reads := repo.GetCallCount
	svc.Current(context.Background())
	if repo.GetCallCount != reads {
		t.Error("a cached policy must not hit the repository")
	}
}

func TestPricing_UpdateValidation(t *testing.T) {
	t.Parallel()

	repo := NewMockPricingRepository()
	svc := service.NewPricingService(repo, nil, logging.Discard())

	negative := domain.DefaultPricingPolicy()
	negative.Rates[domain.VehicleClassMoto] = domain.Rate{BaseFare: -5}
	if _, err := svc.Update(context.Background(), negative); !errors.Is(err, service.ErrInvalidPricingPolicy) {
		t.Errorf("expected ErrInvalidPricingPolicy, got %v", err)
	}

	unknown := domain.DefaultPricingPolicy()
	unknown.Rates["bus"] = domain.Rate{BaseFare: 10, PerKmRate: 5}
	if _, err := svc.Update(context.Background(), unknown); !errors.Is(err, service.ErrInvalidVehicleClass) {
		t.Errorf("expected ErrInvalidVehicleClass, got %v", err)
	}

	if repo.SaveCallCount != 0 {
		t.Errorf("invalid policies must not be saved, got %d saves", repo.SaveCallCount)
	}
}

func TestPricing_RepositoryFailureSurfaces(t *testing.T) {
	t.Parallel()

	repo := NewMockPricingRepository()
	repo.GetError = ErrMockTimeout
	svc := service.NewPricingService(repo, nil, logging.Discard())

	if _, err := svc.Current(context.Background()); !errors.Is(err, ErrMockTimeout) {
		t.Errorf("expected ErrMockTimeout, got %v", err)
	}
}
