package geo

import "math"

// EarthRadiusKm is the mean Earth radius used for all distance calculations.
const EarthRadiusKm = 6371.0

// Coordinate is a point in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinate lies within latitude/longitude bounds.
// NaN and infinite values are rejected.
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// DistanceKm returns the great-circle distance between a and b using the
// Haversine formula. NaN inputs propagate NaN.
func DistanceKm(a, b Coordinate) float64 {
	dLat := toRadians(b.Lat - a.Lat)
	dLng := toRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(a.Lat))*math.Cos(toRadians(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)

	// Rounding can push h a hair above 1 for antipodal points.
	if h > 1 {
		h = 1
	}

	return EarthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// PathKm returns the length of the polyline through points, leg by leg.
func PathKm(points ...Coordinate) float64 {
	total := 0.0
	for i := 1; i < len(points); i++ {
		total += DistanceKm(points[i-1], points[i])
	}
	return total
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
