package redis

import (
	"context"

	"github.com/redis/go-redis/v9"

	"mototaxi/internal/geo"
)

const driverLocationKey = "drivers:locations"

// DriverLocation is a driver's indexed position.
type DriverLocation struct {
	DriverID   string
	Position   geo.Coordinate
	DistanceKm float64 // from the query center, set by FindNearbyDrivers
}

// LocationStore handles driver location operations in Redis.
type LocationStore struct {
	client *redis.Client
}

// NewLocationStore creates a new LocationStore.
func NewLocationStore(client *redis.Client) *LocationStore {
	return &LocationStore{client: client}
}

// UpdateLocation stores a driver's location using GEOADD.
func (s *LocationStore) UpdateLocation(ctx context.Context, driverID string, pos geo.Coordinate) error {
	return s.client.GeoAdd(ctx, driverLocationKey, &redis.GeoLocation{
		Name:      driverID,
		Longitude: pos.Lng,
		Latitude:  pos.Lat,
	}).Err()
}

// FindNearbyDrivers returns drivers within radiusKm of center, nearest first.
func (s *LocationStore) FindNearbyDrivers(ctx context.Context, center geo.Coordinate, radiusKm float64) ([]DriverLocation, error) {
	results, err := s.client.GeoSearchLocation(ctx, driverLocationKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  center.Lng,
			Latitude:   center.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, err
	}

	locations := make([]DriverLocation, 0, len(results))
	for _, r := range results {
		locations = append(locations, DriverLocation{
			DriverID:   r.Name,
			Position:   geo.Coordinate{Lat: r.Latitude, Lng: r.Longitude},
			DistanceKm: r.Dist,
		})
	}

	return locations, nil
}

// RemoveLocation removes a driver's location from the geo index.
func (s *LocationStore) RemoveLocation(ctx context.Context, driverID string) error {
	return s.client.ZRem(ctx, driverLocationKey, driverID).Err()
}
