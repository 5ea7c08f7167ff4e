package tests

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"mototaxi/internal/domain"
	"mototaxi/internal/geo"
	"mototaxi/internal/redis"
	"mototaxi/internal/repository"
	"mototaxi/internal/service"
)

// ──────────────────────────────────────────────
// MOCK DRIVER REPOSITORY
// ──────────────────────────────────────────────

// MockDriverRepository is a mock implementation of DriverRepository.
type MockDriverRepository struct {
	mu      sync.RWMutex
	drivers map[string]*domain.Driver

	// Counters for verification
	CreateCallCount             int32
	UpdateStatusCallCount       int32
	UpdateAvailabilityCallCount int32
	UpdateOnTripCallCount       int32

	// Error injection
	CreateError       error
	GetByIDError      error
	UpdateStatusError error
}

// NewMockDriverRepository creates a new mock driver repository.
func NewMockDriverRepository() *MockDriverRepository {
	return &MockDriverRepository{
		drivers: make(map[string]*domain.Driver),
	}
}

// AddDriver adds a driver to the mock repository.
func (m *MockDriverRepository) AddDriver(driver *domain.Driver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[driver.ID] = driver
}

func (m *MockDriverRepository) Create(ctx context.Context, driver *domain.Driver) error {
	atomic.AddInt32(&m.CreateCallCount, 1)
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copy := *driver
	m.drivers[driver.ID] = &copy
	return nil
}

func (m *MockDriverRepository) GetByID(ctx context.Context, id string) (*domain.Driver, error) {
	if m.GetByIDError != nil {
		return nil, m.GetByIDError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	driver, ok := m.drivers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	// Return a copy to avoid mutation issues.
	copy := *driver
	return &copy, nil
}

func (m *MockDriverRepository) GetByPhone(ctx context.Context, phone string) (*domain.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.drivers {
		if d.Phone == phone {
			copy := *d
			return &copy, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *MockDriverRepository) GetAll(ctx context.Context) ([]*domain.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*domain.Driver, 0, len(m.drivers))
	for _, d := range m.drivers {
		copy := *d
		result = append(result, &copy)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MockDriverRepository) ListEligible(ctx context.Context) ([]*domain.Driver, error) {
	all, _ := m.GetAll(ctx)
	result := make([]*domain.Driver, 0, len(all))
	for _, d := range all {
		if d.Eligible() {
			result = append(result, d)
		}
	}
	return result, nil
}

func (m *MockDriverRepository) UpdateStatus(ctx context.Context, id string, status domain.DriverStatus) error {
	atomic.AddInt32(&m.UpdateStatusCallCount, 1)
	if m.UpdateStatusError != nil {
		return m.UpdateStatusError
	}
	return m.mutate(id, func(d *domain.Driver) { d.Status = status })
}

func (m *MockDriverRepository) UpdateAvailability(ctx context.Context, id string, available bool) error {
	atomic.AddInt32(&m.UpdateAvailabilityCallCount, 1)
	return m.mutate(id, func(d *domain.Driver) { d.Available = available })
}

func (m *MockDriverRepository) UpdateOnTrip(ctx context.Context, id string, onTrip bool) error {
	atomic.AddInt32(&m.UpdateOnTripCallCount, 1)
	return m.mutate(id, func(d *domain.Driver) { d.OnTrip = onTrip })
}

func (m *MockDriverRepository) UpdatePosition(ctx context.Context, id string, pos geo.Coordinate, seenAt time.Time) error {
	return m.mutate(id, func(d *domain.Driver) {
		d.Position = pos
		d.LastSeenAt = seenAt
	})
}

func (m *MockDriverRepository) mutate(id string, fn func(*domain.Driver)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	driver, ok := m.drivers[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(driver)
	return nil
}

// GetDriver returns driver for test assertions.
func (m *MockDriverRepository) GetDriver(id string) *domain.Driver {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil
	}
	copy := *d
	return &copy
}

// ──────────────────────────────────────────────
// MOCK RIDE REPOSITORY
// ──────────────────────────────────────────────

// MockRideRepository is a mock implementation of RideRepository. Update
// evaluates the condition and applies the patch under one lock, which is
// the atomicity the PostgreSQL UPDATE ... WHERE gives.
type MockRideRepository struct {
	mu    sync.RWMutex
	rides map[string]*domain.Ride

	// targetWrites records every TargetDriverID a successful update wrote.
	targetWrites map[string][]string

	// Counters for verification
	CreateCallCount int32
	UpdateCallCount int32
	NoMatchCount    int32

	// Error injection
	CreateError  error
	UpdateError  error
	GetByIDError error
	ListError    error
	// FailUpdates makes the next N updates fail with ErrMockTimeout.
	FailUpdates int32
}

// NewMockRideRepository creates a new mock ride repository.
func NewMockRideRepository() *MockRideRepository {
	return &MockRideRepository{
		rides:        make(map[string]*domain.Ride),
		targetWrites: make(map[string][]string),
	}
}

// AddRide adds a ride to the mock repository.
func (m *MockRideRepository) AddRide(ride *domain.Ride) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[ride.ID] = ride.Clone()
}

func (m *MockRideRepository) Create(ctx context.Context, ride *domain.Ride) error {
	atomic.AddInt32(&m.CreateCallCount, 1)
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.rides[ride.ID]; exists {
		return ErrMockDBConstraint
	}
	m.rides[ride.ID] = ride.Clone()
	return nil
}

func (m *MockRideRepository) GetByID(ctx context.Context, id string) (*domain.Ride, error) {
	if m.GetByIDError != nil {
		return nil, m.GetByIDError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ride, ok := m.rides[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return ride.Clone(), nil
}

func (m *MockRideRepository) List(ctx context.Context, q repository.RideQuery) ([]*domain.Ride, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	cond := repository.RideCondition{Statuses: q.Statuses, DriverID: q.DriverID, TargetDriverID: q.TargetDriverID}
	result := make([]*domain.Ride, 0)
	for _, r := range m.rides {
		if q.PassengerID != "" && r.PassengerID != q.PassengerID {
			continue
		}
		if !cond.Matches(r) {
			continue
		}
		if q.After != nil && !q.After.Before(r) {
			continue
		}
		result = append(result, r.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

func (m *MockRideRepository) Update(ctx context.Context, id string, patch repository.RidePatch, cond repository.RideCondition) (*domain.Ride, error) {
	atomic.AddInt32(&m.UpdateCallCount, 1)
	if m.UpdateError != nil {
		return nil, m.UpdateError
	}
	if atomic.LoadInt32(&m.FailUpdates) > 0 && atomic.AddInt32(&m.FailUpdates, -1) >= 0 {
		return nil, ErrMockTimeout
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ride, ok := m.rides[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if !cond.Matches(ride) {
		atomic.AddInt32(&m.NoMatchCount, 1)
		return nil, repository.ErrNoMatch
	}
	patch.Apply(ride, time.Now())
	if patch.TargetDriverID != nil {
		m.targetWrites[id] = append(m.targetWrites[id], *patch.TargetDriverID)
	}
	return ride.Clone(), nil
}

// GetRide returns the ride by ID (for test assertions).
func (m *MockRideRepository) GetRide(id string) *domain.Ride {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ride, ok := m.rides[id]
	if !ok {
		return nil
	}
	return ride.Clone()
}

// TargetWrites returns every target written for the ride, in order.
func (m *MockRideRepository) TargetWrites(id string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.targetWrites[id]...)
}

// CountRides returns the number of rides.
func (m *MockRideRepository) CountRides() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rides)
}

// ──────────────────────────────────────────────
// MOCK PRICING REPOSITORY AND CACHE
// ──────────────────────────────────────────────

// MockPricingRepository is a mock implementation of PricingRepository.
type MockPricingRepository struct {
	mu     sync.Mutex
	policy *domain.PricingPolicy

	GetCallCount  int32
	SaveCallCount int32

	GetError  error
	SaveError error
}

// NewMockPricingRepository creates an empty pricing repository.
func NewMockPricingRepository() *MockPricingRepository {
	return &MockPricingRepository{}
}

func (m *MockPricingRepository) Get(ctx context.Context) (*domain.PricingPolicy, error) {
	atomic.AddInt32(&m.GetCallCount, 1)
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.policy == nil {
		return nil, repository.ErrNotFound
	}
	p := clonePolicy(*m.policy)
	return &p, nil
}

func (m *MockPricingRepository) Save(ctx context.Context, policy domain.PricingPolicy) error {
	atomic.AddInt32(&m.SaveCallCount, 1)
	if m.SaveError != nil {
		return m.SaveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p := clonePolicy(policy)
	m.policy = &p
	return nil
}

// MockPricingCache is a mock implementation of PricingCacheInterface.
type MockPricingCache struct {
	mu     sync.Mutex
	policy *domain.PricingPolicy

	InvalidateCallCount int32
}

// NewMockPricingCache creates an empty pricing cache.
func NewMockPricingCache() *MockPricingCache {
	return &MockPricingCache{}
}

func (m *MockPricingCache) GetPricing(ctx context.Context) (*domain.PricingPolicy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.policy == nil {
		return nil, nil
	}
	p := clonePolicy(*m.policy)
	return &p, nil
}

func (m *MockPricingCache) SetPricing(ctx context.Context, policy domain.PricingPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := clonePolicy(policy)
	m.policy = &p
	return nil
}

func (m *MockPricingCache) InvalidatePricing(ctx context.Context) error {
	atomic.AddInt32(&m.InvalidateCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy = nil
	return nil
}

// Cached reports whether a policy is cached.
func (m *MockPricingCache) Cached() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.policy != nil
}

func clonePolicy(p domain.PricingPolicy) domain.PricingPolicy {
	out := domain.PricingPolicy{Currency: p.Currency, Rates: make(map[domain.VehicleClass]domain.Rate, len(p.Rates))}
	for k, v := range p.Rates {
		out.Rates[k] = v
	}
	return out
}

// ──────────────────────────────────────────────
// MOCK LOCATION STORE
// ──────────────────────────────────────────────

// MockLocationStore is a mock implementation of LocationStore.
type MockLocationStore struct {
	mu        sync.RWMutex
	locations map[string]geo.Coordinate

	// Counters
	UpdateLocationCallCount int32

	// Error injection
	UpdateLocationError    error
	FindNearbyDriversError error
}

// NewMockLocationStore creates a new mock location store.
func NewMockLocationStore() *MockLocationStore {
	return &MockLocationStore{
		locations: make(map[string]geo.Coordinate),
	}
}

// SetLocation places a driver in the index (for test setup).
func (m *MockLocationStore) SetLocation(driverID string, pos geo.Coordinate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations[driverID] = pos
}

func (m *MockLocationStore) UpdateLocation(ctx context.Context, driverID string, pos geo.Coordinate) error {
	atomic.AddInt32(&m.UpdateLocationCallCount, 1)
	if m.UpdateLocationError != nil {
		return m.UpdateLocationError
	}
	m.SetLocation(driverID, pos)
	return nil
}

// FindNearbyDrivers filters by haversine distance and sorts nearest first,
// like GEOSEARCH ... ASC.
func (m *MockLocationStore) FindNearbyDrivers(ctx context.Context, center geo.Coordinate, radiusKm float64) ([]redis.DriverLocation, error) {
	if m.FindNearbyDriversError != nil {
		return nil, m.FindNearbyDriversError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]redis.DriverLocation, 0, len(m.locations))
	for id, pos := range m.locations {
		km := geo.DistanceKm(center, pos)
		if km <= radiusKm {
			result = append(result, redis.DriverLocation{DriverID: id, Position: pos, DistanceKm: km})
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].DistanceKm < result[j].DistanceKm })
	return result, nil
}

func (m *MockLocationStore) RemoveLocation(ctx context.Context, driverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locations, driverID)
	return nil
}

// Location returns the indexed position of a driver.
func (m *MockLocationStore) Location(driverID string) (geo.Coordinate, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.locations[driverID]
	return pos, ok
}

// HasLocation checks if a driver location exists.
func (m *MockLocationStore) HasLocation(driverID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.locations[driverID]
	return ok
}

// ──────────────────────────────────────────────
// MOCK DRIVER CACHE
// ──────────────────────────────────────────────

// MockDriverCache is a mock implementation of DriverCacheInterface.
type MockDriverCache struct {
	mu        sync.Mutex
	drivers   map[string]*redis.CachedDriver
	available map[string]bool

	BatchCallCount      int32
	InvalidateCallCount int32

	BatchError error
}

// NewMockDriverCache creates an empty driver cache.
func NewMockDriverCache() *MockDriverCache {
	return &MockDriverCache{
		drivers:   make(map[string]*redis.CachedDriver),
		available: make(map[string]bool),
	}
}

func (m *MockDriverCache) GetDriversBatch(ctx context.Context, driverIDs []string) (map[string]*redis.CachedDriver, []string, error) {
	atomic.AddInt32(&m.BatchCallCount, 1)
	if m.BatchError != nil {
		return nil, nil, m.BatchError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	found := make(map[string]*redis.CachedDriver)
	var missing []string
	for _, id := range driverIDs {
		if d, ok := m.drivers[id]; ok {
			copy := *d
			found[id] = &copy
		} else {
			missing = append(missing, id)
		}
	}
	return found, missing, nil
}

func (m *MockDriverCache) SetDriversBatch(ctx context.Context, drivers []*redis.CachedDriver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range drivers {
		copy := *d
		m.drivers[d.ID] = &copy
	}
	return nil
}

func (m *MockDriverCache) InvalidateDriver(ctx context.Context, driverID string) error {
	atomic.AddInt32(&m.InvalidateCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.drivers, driverID)
	return nil
}

func (m *MockDriverCache) AddAvailableDriver(ctx context.Context, driverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available[driverID] = true
	return nil
}

func (m *MockDriverCache) RemoveAvailableDriver(ctx context.Context, driverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.available, driverID)
	return nil
}

// IsCached reports whether the driver has a cache entry.
func (m *MockDriverCache) IsCached(driverID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.drivers[driverID]
	return ok
}

// IsAvailable reports whether the driver is in the available set.
func (m *MockDriverCache) IsAvailable(driverID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available[driverID]
}

// ──────────────────────────────────────────────
// MOCK LOCK STORE
// ──────────────────────────────────────────────

type mockLock struct {
	owner   string
	expires time.Time
}

// MockLockStore is a mock implementation of LockStore.
type MockLockStore struct {
	mu    sync.Mutex
	locks map[string]mockLock

	// Counters
	AcquireCallCount int32
	ReleaseCallCount int32

	// Error injection
	AcquireError error
}

// NewMockLockStore creates a new mock lock store.
func NewMockLockStore() *MockLockStore {
	return &MockLockStore{
		locks: make(map[string]mockLock),
	}
}

func (m *MockLockStore) acquire(key, owner string, ttl time.Duration) (bool, error) {
	atomic.AddInt32(&m.AcquireCallCount, 1)
	if m.AcquireError != nil {
		return false, m.AcquireError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, exists := m.locks[key]; exists && time.Now().Before(l.expires) {
		return false, nil // Lock still held.
	}
	m.locks[key] = mockLock{owner: owner, expires: time.Now().Add(ttl)}
	return true, nil
}

func (m *MockLockStore) release(key, owner string) error {
	atomic.AddInt32(&m.ReleaseCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, exists := m.locks[key]; exists && l.owner == owner {
		delete(m.locks, key)
	}
	return nil
}

func (m *MockLockStore) AcquireRideLock(ctx context.Context, rideID, owner string, ttl time.Duration) (bool, error) {
	return m.acquire("ride:"+rideID, owner, ttl)
}

func (m *MockLockStore) RefreshRideLock(ctx context.Context, rideID, owner string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, exists := m.locks["ride:"+rideID]
	if !exists || l.owner != owner {
		return false, nil
	}
	l.expires = time.Now().Add(ttl)
	m.locks["ride:"+rideID] = l
	return true, nil
}

func (m *MockLockStore) ReleaseRideLock(ctx context.Context, rideID, owner string) error {
	return m.release("ride:"+rideID, owner)
}

func (m *MockLockStore) AcquireDriverLock(ctx context.Context, driverID, owner string, ttl time.Duration) (bool, error) {
	return m.acquire("driver:"+driverID, owner, ttl)
}

func (m *MockLockStore) ReleaseDriverLock(ctx context.Context, driverID, owner string) error {
	return m.release("driver:"+driverID, owner)
}

// HoldDriver locks a driver on behalf of someone else (for test setup).
func (m *MockLockStore) HoldDriver(driverID string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locks["driver:"+driverID] = mockLock{owner: "someone-else", expires: time.Now().Add(ttl)}
}

// HoldRide locks a ride on behalf of someone else (for test setup).
func (m *MockLockStore) HoldRide(rideID string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locks["ride:"+rideID] = mockLock{owner: "someone-else", expires: time.Now().Add(ttl)}
}

// IsLocked checks if a driver is locked (for test assertions).
func (m *MockLockStore) IsLocked(driverID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, exists := m.locks["driver:"+driverID]
	return exists && time.Now().Before(l.expires)
}

// IsRideLocked checks if a ride is locked (for test assertions).
func (m *MockLockStore) IsRideLocked(rideID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, exists := m.locks["ride:"+rideID]
	return exists && time.Now().Before(l.expires)
}

// ──────────────────────────────────────────────
// MOCK DIRECTORY AND DISPATCH STARTER
// ──────────────────────────────────────────────

// MockDirectory returns a fixed candidate list.
type MockDirectory struct {
	mu         sync.Mutex
	candidates []service.Candidate

	EligibleCallCount int32
	EligibleError     error
}

// NewMockDirectory creates a directory returning candidates.
func NewMockDirectory(candidates ...service.Candidate) *MockDirectory {
	return &MockDirectory{candidates: candidates}
}

// SetCandidates replaces the candidate list.
func (m *MockDirectory) SetCandidates(candidates ...service.Candidate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidates = candidates
}

func (m *MockDirectory) Eligible(ctx context.Context, near geo.Coordinate, radiusKm float64) ([]service.Candidate, error) {
	atomic.AddInt32(&m.EligibleCallCount, 1)
	if m.EligibleError != nil {
		return nil, m.EligibleError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]service.Candidate(nil), m.candidates...), nil
}

// MockDispatchStarter records which rides were handed to dispatch.
type MockDispatchStarter struct {
	mu      sync.Mutex
	started []string
}

// NewMockDispatchStarter creates a starter that never runs anything.
func NewMockDispatchStarter() *MockDispatchStarter {
	return &MockDispatchStarter{}
}

func (m *MockDispatchStarter) Start(rideID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = append(m.started, rideID)
	return true
}

// Started returns the ride ids passed to Start.
func (m *MockDispatchStarter) Started() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.started...)
}

// ──────────────────────────────────────────────
// HELPER ERRORS
// ──────────────────────────────────────────────

var (
	ErrMockDBConstraint = errors.New("mock: unique constraint violation")
	ErrMockTimeout      = errors.New("mock: operation timeout")
)
