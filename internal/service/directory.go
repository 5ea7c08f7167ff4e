package service

import (
	"context"
	"errors"
	"fmt"
	"math"

	"mototaxi/internal/domain"
	"mototaxi/internal/geo"
	"mototaxi/internal/redis"
	"mototaxi/internal/repository"
)

// Candidate is an eligible driver with a known position.
type Candidate struct {
	DriverID     string
	VehicleClass domain.VehicleClass
	Position     geo.Coordinate
	Synthetic    bool
}

// DriverDirectory answers which drivers may be offered a ride near a point.
type DriverDirectory interface {
	Eligible(ctx context.Context, near geo.Coordinate, radiusKm float64) ([]Candidate, error)
}

// GeoDirectory finds candidates through the Redis GEO index and checks
// eligibility against the driver cache, falling back to the repository on a
// cache miss. Without a location store it scans eligible drivers in the
// repository.
type GeoDirectory struct {
	locationStore redis.LocationStoreInterface
	cacheStore    redis.DriverCacheInterface
	driverRepo    repository.DriverRepository
}

// NewGeoDirectory creates a GeoDirectory. locationStore and cacheStore may be nil.
func NewGeoDirectory(
	locationStore redis.LocationStoreInterface,
	cacheStore redis.DriverCacheInterface,
	driverRepo repository.DriverRepository,
) *GeoDirectory {
	return &GeoDirectory{
		locationStore: locationStore,
		cacheStore:    cacheStore,
		driverRepo:    driverRepo,
	}
}

// Eligible returns available, active drivers near the given point.
func (d *GeoDirectory) Eligible(ctx context.Context, near geo.Coordinate, radiusKm float64) ([]Candidate, error) {
	if d.locationStore == nil {
		return d.scanRepository(ctx)
	}

	nearby, err := d.locationStore.FindNearbyDrivers(ctx, near, radiusKm)
	if err != nil {
		return nil, fmt.Errorf("find nearby drivers: %w", err)
	}
	if len(nearby) == 0 {
		return nil, nil
	}

	driverIDs := make([]string, len(nearby))
	for i, loc := range nearby {
		driverIDs[i] = loc.DriverID
	}

	cached, missingIDs := d.getDriversBatch(ctx, driverIDs)

	var fresh []*redis.CachedDriver
	for _, id := range missingIDs {
		driver, err := d.driverRepo.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return nil, err
		}
		c := redis.NewCachedDriver(driver)
		cached[id] = c
		fresh = append(fresh, c)
	}
	if d.cacheStore != nil && len(fresh) > 0 {
		_ = d.cacheStore.SetDriversBatch(ctx, fresh)
	}

	candidates := make([]Candidate, 0, len(nearby))
	for _, loc := range nearby {
		c, ok := cached[loc.DriverID]
		if !ok || !c.Eligible() {
			continue
		}
		candidates = append(candidates, Candidate{
			DriverID:     loc.DriverID,
			VehicleClass: domain.VehicleClass(c.VehicleClass),
			Position:     loc.Position,
		})
	}
	return candidates, nil
}

func (d *GeoDirectory) getDriversBatch(ctx context.Context, driverIDs []string) (map[string]*redis.CachedDriver, []string) {
	if d.cacheStore == nil {
		return make(map[string]*redis.CachedDriver), driverIDs
	}
	cached, missing, err := d.cacheStore.GetDriversBatch(ctx, driverIDs)
	if err != nil {
		return make(map[string]*redis.CachedDriver), driverIDs
	}
	return cached, missing
}

func (d *GeoDirectory) scanRepository(ctx context.Context) ([]Candidate, error) {
	drivers, err := d.driverRepo.ListEligible(ctx)
	if err != nil {
		return nil, err
	}
	candidates := make([]Candidate, 0, len(drivers))
	for _, drv := range drivers {
		// A driver who never reported a position cannot be ranked.
		if drv.LastSeenAt.IsZero() || !drv.Position.Valid() {
			continue
		}
		candidates = append(candidates, Candidate{
			DriverID:     drv.ID,
			VehicleClass: drv.VehicleClass,
			Position:     drv.Position,
		})
	}
	return candidates, nil
}

// SyntheticDirectory adds demo markers around the query point when the wrapped
// directory finds nobody. It only feeds the passenger map; dispatch never
// uses it.
type SyntheticDirectory struct {
	DriverDirectory
	count int
}

// NewSyntheticDirectory wraps next, generating count markers when it is empty.
func NewSyntheticDirectory(next DriverDirectory, count int) *SyntheticDirectory {
	return &SyntheticDirectory{DriverDirectory: next, count: count}
}

// Eligible returns real candidates, or synthetic ones if there are none.
func (s *SyntheticDirectory) Eligible(ctx context.Context, near geo.Coordinate, radiusKm float64) ([]Candidate, error) {
	found, err := s.DriverDirectory.Eligible(ctx, near, radiusKm)
	if err != nil || len(found) > 0 {
		return found, err
	}

	out := make([]Candidate, 0, s.count)
	for i := 0; i < s.count; i++ {
		// Spread markers on a spiral inside the radius.
		km := radiusKm * float64(i+1) / float64(s.count+1)
		bearing := float64(i) * 2.39996 // golden angle, radians
		out = append(out, Candidate{
			DriverID:     fmt.Sprintf("synthetic-%d", i+1),
			VehicleClass: domain.VehicleClassMoto,
			Position:     offset(near, km, bearing),
			Synthetic:    true,
		})
	}
	return out, nil
}

// offset moves c by km along bearing using a flat-earth approximation,
// adequate at city scale.
func offset(c geo.Coordinate, km, bearing float64) geo.Coordinate {
	const kmPerDegree = 111.32
	dLat := km * math.Cos(bearing) / kmPerDegree
	dLng := km * math.Sin(bearing) / (kmPerDegree * math.Cos(c.Lat*math.Pi/180))
	return geo.Coordinate{Lat: c.Lat + dLat, Lng: c.Lng + dLng}
}
