package redis

import (
	"context"
	"time"

	"mototaxi/internal/domain"
	"mototaxi/internal/events"
	"mototaxi/internal/geo"
)

// LocationStoreInterface defines the interface for driver location operations.
type LocationStoreInterface interface {
	UpdateLocation(ctx context.Context, driverID string, pos geo.Coordinate) error
	FindNearbyDrivers(ctx context.Context, center geo.Coordinate, radiusKm float64) ([]DriverLocation, error)
	RemoveLocation(ctx context.Context, driverID string) error
}

// LockStoreInterface defines the interface for distributed locking.
type LockStoreInterface interface {
	AcquireRideLock(ctx context.Context, rideID, owner string, ttl time.Duration) (bool, error)
	RefreshRideLock(ctx context.Context, rideID, owner string, ttl time.Duration) (bool, error)
	ReleaseRideLock(ctx context.Context, rideID, owner string) error
	AcquireDriverLock(ctx context.Context, driverID, owner string, ttl time.Duration) (bool, error)
	ReleaseDriverLock(ctx context.Context, driverID, owner string) error
}

// DriverCacheInterface defines the driver cache operations.
type DriverCacheInterface interface {
	GetDriversBatch(ctx context.Context, driverIDs []string) (map[string]*CachedDriver, []string, error)
	SetDriversBatch(ctx context.Context, drivers []*CachedDriver) error
	InvalidateDriver(ctx context.Context, driverID string) error
	AddAvailableDriver(ctx context.Context, driverID string) error
	RemoveAvailableDriver(ctx context.Context, driverID string) error
}

// PricingCacheInterface defines the pricing cache operations.
type PricingCacheInterface interface {
	GetPricing(ctx context.Context) (*domain.PricingPolicy, error)
	SetPricing(ctx context.Context, policy domain.PricingPolicy) error
	InvalidatePricing(ctx context.Context) error
}

// Ensure concrete types implement interfaces.
var (
	_ LocationStoreInterface = (*LocationStore)(nil)
	_ LockStoreInterface     = (*LockStore)(nil)
	_ DriverCacheInterface   = (*CacheStore)(nil)
	_ PricingCacheInterface  = (*CacheStore)(nil)
	_ events.Bus             = (*EventBus)(nil)
)
