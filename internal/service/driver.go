package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"mototaxi/internal/domain"
	"mototaxi/internal/geo"
	"mototaxi/internal/metrics"
	"mototaxi/internal/redis"
	"mototaxi/internal/repository"
)

// DriverService handles driver registration and presence.
type DriverService struct {
	locationStore redis.LocationStoreInterface
	cacheStore    redis.DriverCacheInterface
	driverRepo    repository.DriverRepository
	nearby        DriverDirectory
	notifier      *NotificationService
	log           *slog.Logger
}

// NewDriverService creates a new DriverService. locationStore and cacheStore
// may be nil; nearby backs the passenger map view.
func NewDriverService(
	locationStore redis.LocationStoreInterface,
	cacheStore redis.DriverCacheInterface,
	driverRepo repository.DriverRepository,
	nearby DriverDirectory,
	notifier *NotificationService,
	log *slog.Logger,
) *DriverService {
	return &DriverService{
		locationStore: locationStore,
		cacheStore:    cacheStore,
		driverRepo:    driverRepo,
		nearby:        nearby,
		notifier:      notifier,
		log:           log,
	}
}

// RegisterDriverRequest contains the parameters for registering a driver.
type RegisterDriverRequest struct {
	Name         string
	Phone        string
	VehicleClass domain.VehicleClass
}

// Register creates a driver awaiting approval. A phone number that is already
// registered returns the existing driver with ErrDriverAlreadyRegistered.
func (s *DriverService) Register(ctx context.Context, req RegisterDriverRequest) (*domain.Driver, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Name == "" {
		return nil, ErrInvalidDriverName
	}
	if req.Phone == "" {
		return nil, ErrInvalidPhone
	}
	if req.VehicleClass == "" {
		req.VehicleClass = domain.VehicleClassMoto
	}
	if !isKnownVehicleClass(req.VehicleClass) {
		return nil, ErrInvalidVehicleClass
	}

	existing, err := s.driverRepo.GetByPhone(ctx, req.Phone)
	if err == nil {
		return existing, ErrDriverAlreadyRegistered
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	driver := &domain.Driver{
		ID:           uuid.New().String(),
		Name:         req.Name,
		Phone:        req.Phone,
		Status:       domain.DriverStatusPendingApproval,
		VehicleClass: req.VehicleClass,
	}
	if err := s.driverRepo.Create(ctx, driver); err != nil {
		return nil, err
	}
	s.log.Info("driver_registered", "driver_id", driver.ID, "vehicle_class", driver.VehicleClass)
	return driver, nil
}

// GetDriver returns one driver.
func (s *DriverService) GetDriver(ctx context.Context, driverID string) (*domain.Driver, error) {
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}
	return s.driverRepo.GetByID(ctx, driverID)
}

// ListDrivers returns all registered drivers.
func (s *DriverService) ListDrivers(ctx context.Context) ([]*domain.Driver, error) {
	return s.driverRepo.GetAll(ctx)
}

// SetStatus changes a driver's operational status. Admin only.
func (s *DriverService) SetStatus(ctx context.Context, driverID string, status domain.DriverStatus) (*domain.Driver, error) {
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}
	if !status.Valid() {
		return nil, ErrInvalidDriverStatus
	}
	if err := s.driverRepo.UpdateStatus(ctx, driverID, status); err != nil {
		return nil, err
	}
	s.invalidateDriverCache(ctx, driverID)

	driver, err := s.driverRepo.GetByID(ctx, driverID)
	if err != nil {
		return nil, err
	}
	_ = s.notifier.NotifyDriverStatus(ctx, driver)
	return driver, nil
}

// UpdateLocationRequest contains the parameters for updating driver location.
type UpdateLocationRequest struct {
	DriverID string
	Position geo.Coordinate
}

// GoOnline marks the driver available at the given position.
func (s *DriverService) GoOnline(ctx context.Context, req UpdateLocationRequest) (*domain.Driver, error) {
	if req.DriverID == "" {
		return nil, ErrInvalidDriverID
	}
	if !req.Position.Valid() {
		return nil, ErrInvalidLocation
	}

	if err := s.driverRepo.UpdatePosition(ctx, req.DriverID, req.Position, time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := s.setAvailability(ctx, req.DriverID, true); err != nil {
		return nil, err
	}
	if s.locationStore != nil {
		if err := s.locationStore.UpdateLocation(ctx, req.DriverID, req.Position); err != nil {
			return nil, err
		}
	}

	return s.driverRepo.GetByID(ctx, req.DriverID)
}

// UpdateLocation records a periodic position push.
func (s *DriverService) UpdateLocation(ctx context.Context, req UpdateLocationRequest) error {
	if req.DriverID == "" {
		return ErrInvalidDriverID
	}
	if !req.Position.Valid() {
		return ErrInvalidLocation
	}

	if err := s.driverRepo.UpdatePosition(ctx, req.DriverID, req.Position, time.Now().UTC()); err != nil {
		return err
	}

	if s.locationStore == nil {
		return nil
	}
	driver, err := s.driverRepo.GetByID(ctx, req.DriverID)
	if err != nil {
		return err
	}
	// Only online drivers are kept in the GEO index. Drivers on a trip keep
	// moving in it; the directory filters them out.
	if !driver.Available {
		return nil
	}
	return s.locationStore.UpdateLocation(ctx, req.DriverID, req.Position)
}

// GoOffline marks the driver unavailable and drops them from the GEO index.
// An outstanding offer simply times out.
func (s *DriverService) GoOffline(ctx context.Context, driverID string) error {
	if driverID == "" {
		return ErrInvalidDriverID
	}

	if err := s.setAvailability(ctx, driverID, false); err != nil {
		return err
	}
	if s.locationStore != nil {
		return s.locationStore.RemoveLocation(ctx, driverID)
	}
	return nil
}

// Nearby returns drivers a passenger may see on the map.
func (s *DriverService) Nearby(ctx context.Context, near geo.Coordinate, radiusKm float64) ([]Candidate, error) {
	if !near.Valid() {
		return nil, ErrInvalidLocation
	}
	return s.nearby.Eligible(ctx, near, radiusKm)
}

// setAvailability flips the online flag and keeps the cache in step. A
// driver on a trip stays out of the available set until released.
func (s *DriverService) setAvailability(ctx context.Context, driverID string, available bool) error {
	driver, err := s.driverRepo.GetByID(ctx, driverID)
	if err != nil {
		return err
	}
	if err := s.driverRepo.UpdateAvailability(ctx, driverID, available); err != nil {
		return err
	}
	switch {
	case available && !driver.Available:
		metrics.DriversOnline.Inc()
	case !available && driver.Available:
		metrics.DriversOnline.Dec()
	}
	s.invalidateDriverCache(ctx, driverID)
	s.syncAvailableSet(ctx, driverID, available && !driver.OnTrip)
	return nil
}

// setOnTrip marks the driver busy or free without touching their online flag.
func (s *DriverService) setOnTrip(ctx context.Context, driverID string, onTrip bool) (*domain.Driver, error) {
	if err := s.driverRepo.UpdateOnTrip(ctx, driverID, onTrip); err != nil {
		return nil, err
	}
	s.invalidateDriverCache(ctx, driverID)

	driver, err := s.driverRepo.GetByID(ctx, driverID)
	if err != nil {
		return nil, err
	}
	s.syncAvailableSet(ctx, driverID, driver.Eligible())
	return driver, nil
}

func (s *DriverService) syncAvailableSet(ctx context.Context, driverID string, in bool) {
	if s.cacheStore == nil {
		return
	}
	if in {
		_ = s.cacheStore.AddAvailableDriver(ctx, driverID)
	} else {
		_ = s.cacheStore.RemoveAvailableDriver(ctx, driverID)
	}
}

// releaseDriver frees an assigned driver after their ride ended. A driver who
// went offline during the trip stays offline. An online driver is re-indexed
// at their last stored position. Failures are logged: the ride outcome
// already stands.
func (s *DriverService) releaseDriver(ctx context.Context, driverID string) {
	if driverID == "" {
		return
	}
	driver, err := s.setOnTrip(ctx, driverID, false)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.log.Warn("driver_release_failed", "driver_id", driverID, "error", err)
		}
		return
	}
	if s.locationStore == nil || !driver.Available || !driver.Position.Valid() {
		return
	}
	if err := s.locationStore.UpdateLocation(ctx, driverID, driver.Position); err != nil {
		s.log.Warn("driver_reindex_failed", "driver_id", driverID, "error", err)
	}
}

func (s *DriverService) invalidateDriverCache(ctx context.Context, driverID string) {
	if s.cacheStore == nil {
		return
	}
	_ = s.cacheStore.InvalidateDriver(ctx, driverID)
}
