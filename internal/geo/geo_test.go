package geo

import (
	"math"
	"testing"
)

var quelimane = []Coordinate{
	{Lat: -17.8764, Lng: 36.8878},
	{Lat: -17.8536, Lng: 36.8875},
	{Lat: -17.8786, Lng: 36.8883},
	{Lat: -17.8650, Lng: 36.9100},
	{Lat: -17.9000, Lng: 36.8500},
}

func TestDistanceKm_SamePointIsZero(t *testing.T) {
	for _, c := range quelimane {
		if d := DistanceKm(c, c); d != 0 {
			t.Errorf("DistanceKm(%v, %v) = %f, want 0", c, c, d)
		}
	}
}

func TestDistanceKm_Symmetric(t *testing.T) {
	for _, a := range quelimane {
		for _, b := range quelimane {
			ab := DistanceKm(a, b)
			ba := DistanceKm(b, a)
			if math.Abs(ab-ba) > 1e-9 {
				t.Errorf("DistanceKm not symmetric for %v, %v: %f vs %f", a, b, ab, ba)
			}
		}
	}
}

func TestDistanceKm_TriangleInequality(t *testing.T) {
	const tolerance = 1e-9
	for _, a := range quelimane {
		for _, b := range quelimane {
			for _, c := range quelimane {
				if DistanceKm(a, c) > DistanceKm(a, b)+DistanceKm(b, c)+tolerance {
					t.Errorf("triangle inequality violated for %v, %v, %v", a, b, c)
				}
			}
		}
	}
}

func TestDistanceKm_KnownDistance(t *testing.T) {
	pickup := Coordinate{Lat: -17.8764, Lng: 36.8878}
	destination := Coordinate{Lat: -17.8536, Lng: 36.8875}

	got := DistanceKm(pickup, destination)
	if math.Abs(got-2.53) > 0.01 {
		t.Errorf("DistanceKm = %f, want ~2.53", got)
	}
}

func TestDistanceKm_NaNPropagates(t *testing.T) {
	got := DistanceKm(Coordinate{Lat: math.NaN(), Lng: 0}, Coordinate{})
	if !math.IsNaN(got) {
		t.Errorf("expected NaN, got %f", got)
	}
}

func TestPathKm(t *testing.T) {
	a, b, c := quelimane[0], quelimane[1], quelimane[3]

	if got := PathKm(a); got != 0 {
		t.Errorf("PathKm of one point = %f, want 0", got)
	}

	want := DistanceKm(a, b) + DistanceKm(b, c)
	if got := PathKm(a, b, c); math.Abs(got-want) > 1e-9 {
		t.Errorf("PathKm = %f, want %f", got, want)
	}
}

func TestCoordinateValid(t *testing.T) {
	cases := []struct {
		c    Coordinate
		want bool
	}{
		{Coordinate{Lat: -17.87, Lng: 36.88}, true},
		{Coordinate{Lat: 0, Lng: 0}, true},
		{Coordinate{Lat: 91, Lng: 0}, false},
		{Coordinate{Lat: 0, Lng: -181}, false},
		{Coordinate{Lat: math.NaN(), Lng: 0}, false},
		{Coordinate{Lat: 0, Lng: math.Inf(1)}, false},
	}
	for _, tc := range cases {
		if got := tc.c.Valid(); got != tc.want {
			t.Errorf("%v.Valid() = %v, want %v", tc.c, got, tc.want)
		}
	}
}
