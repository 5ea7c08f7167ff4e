package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"mototaxi/internal/domain"
)

// CacheStore handles entity caching in Redis.
type CacheStore struct {
	client *redis.Client
}

// NewCacheStore creates a new CacheStore.
func NewCacheStore(client *redis.Client) *CacheStore {
	return &CacheStore{client: client}
}

// Cache TTL constants
const (
	DriverCacheTTL  = 30 * time.Second // availability flips often
	PricingCacheTTL = 5 * time.Minute
)

// Key names
const (
	driverCachePrefix   = "cache:driver:"
	pricingCacheKey     = "cache:pricing"
	availableDriversKey = "available_drivers"
)

// CachedDriver represents a cached driver entity.
type CachedDriver struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Status       string `json:"status"`
	VehicleClass string `json:"vehicle_class"`
	Available    bool   `json:"available"`
	OnTrip       bool   `json:"on_trip"`
}

// NewCachedDriver flattens a driver for caching.
func NewCachedDriver(d *domain.Driver) *CachedDriver {
	return &CachedDriver{
		ID:           d.ID,
		Name:         d.Name,
		Phone:        d.Phone,
		Status:       string(d.Status),
		VehicleClass: string(d.VehicleClass),
		Available:    d.Available,
		OnTrip:       d.OnTrip,
	}
}

// Eligible reports whether the cached driver may receive offers.
func (c *CachedDriver) Eligible() bool {
	return c.Available && !c.OnTrip && domain.DriverStatus(c.Status) == domain.DriverStatusActive
}

type cachedRate struct {
	BaseFare       float64 `json:"base_fare"`
	PerKmRate      float64 `json:"per_km_rate"`
	CommissionRate float64 `json:"commission_rate"`
}

type cachedPricing struct {
	Currency string                `json:"currency"`
	Rates    map[string]cachedRate `json:"rates"`
}

// InvalidateDriver removes a driver from cache.
func (s *CacheStore) InvalidateDriver(ctx context.Context, driverID string) error {
	return s.client.Del(ctx, driverCachePrefix+driverID).Err()
}

// GetDriversBatch retrieves multiple drivers from cache using pipeline.
// Returns a map of driverID -> CachedDriver, and a slice of missing IDs.
func (s *CacheStore) GetDriversBatch(ctx context.Context, driverIDs []string) (map[string]*CachedDriver, []string, error) {
	result := make(map[string]*CachedDriver, len(driverIDs))
	if len(driverIDs) == 0 {
		return result, nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(driverIDs))
	for _, id := range driverIDs {
		cmds[id] = pipe.Get(ctx, driverCachePrefix+id)
	}

	// Exec reports redis.Nil when any key is missing; per-command errors are
	// inspected below.
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, nil, err
	}

	var missing []string
	for _, id := range driverIDs {
		data, err := cmds[id].Bytes()
		if err != nil {
			missing = append(missing, id)
			continue
		}

		var driver CachedDriver
		if err := json.Unmarshal(data, &driver); err != nil {
			missing = append(missing, id)
			continue
		}
		result[id] = &driver
	}

	return result, missing, nil
}

// SetDriversBatch stores multiple drivers in cache using pipeline.
func (s *CacheStore) SetDriversBatch(ctx context.Context, drivers []*CachedDriver) error {
	if len(drivers) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, driver := range drivers {
		data, err := json.Marshal(driver)
		if err != nil {
			continue
		}
		pipe.Set(ctx, driverCachePrefix+driver.ID, data, DriverCacheTTL)
	}

	_, err := pipe.Exec(ctx)
	return err
}

// AddAvailableDriver adds a driver to the set of available driver IDs.
func (s *CacheStore) AddAvailableDriver(ctx context.Context, driverID string) error {
	return s.client.SAdd(ctx, availableDriversKey, driverID).Err()
}

// RemoveAvailableDriver removes a driver from the available set.
func (s *CacheStore) RemoveAvailableDriver(ctx context.Context, driverID string) error {
	return s.client.SRem(ctx, availableDriversKey, driverID).Err()
}

// CountAvailableDrivers returns the size of the available set.
func (s *CacheStore) CountAvailableDrivers(ctx context.Context) (int64, error) {
	return s.client.SCard(ctx, availableDriversKey).Result()
}

// GetPricing returns the cached policy, or nil on a miss.
func (s *CacheStore) GetPricing(ctx context.Context) (*domain.PricingPolicy, error) {
	data, err := s.client.Get(ctx, pricingCacheKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var cached cachedPricing
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}

	policy := &domain.PricingPolicy{
		Currency: cached.Currency,
		Rates:    make(map[domain.VehicleClass]domain.Rate, len(cached.Rates)),
	}
	for class, r := range cached.Rates {
		policy.Rates[domain.VehicleClass(class)] = domain.Rate(r)
	}
	return policy, nil
}

// SetPricing caches policy.
func (s *CacheStore) SetPricing(ctx context.Context, policy domain.PricingPolicy) error {
	cached := cachedPricing{Currency: policy.Currency, Rates: make(map[string]cachedRate, len(policy.Rates))}
	for class, r := range policy.Rates {
		cached.Rates[string(class)] = cachedRate(r)
	}
	data, err := json.Marshal(cached)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, pricingCacheKey, data, PricingCacheTTL).Err()
}

// InvalidatePricing drops the cached policy.
func (s *CacheStore) InvalidatePricing(ctx context.Context) error {
	return s.client.Del(ctx, pricingCacheKey).Err()
}
