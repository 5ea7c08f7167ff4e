package domain

import (
	"time"

	"mototaxi/internal/geo"
)

// RideStatus represents the lifecycle state of a ride.
type RideStatus string

const (
	RideStatusPending    RideStatus = "pending"
	RideStatusAccepted   RideStatus = "accepted"
	RideStatusEnRoute    RideStatus = "en_route"
	RideStatusInProgress RideStatus = "in_progress"
	RideStatusCompleted  RideStatus = "completed"
	RideStatusCancelled  RideStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s RideStatus) IsTerminal() bool {
	return s == RideStatusCompleted || s == RideStatusCancelled
}

// Valid reports whether s is a known status.
func (s RideStatus) Valid() bool {
	switch s {
	case RideStatusPending, RideStatusAccepted, RideStatusEnRoute,
		RideStatusInProgress, RideStatusCompleted, RideStatusCancelled:
		return true
	}
	return false
}

// rideTransitions is the ride state diagram as code. Terminal states have
// no entry.
var rideTransitions = map[RideStatus][]RideStatus{
	RideStatusPending:    {RideStatusAccepted, RideStatusCancelled},
	RideStatusAccepted:   {RideStatusEnRoute, RideStatusInProgress, RideStatusCompleted, RideStatusCancelled},
	RideStatusEnRoute:    {RideStatusInProgress, RideStatusCompleted, RideStatusCancelled},
	RideStatusInProgress: {RideStatusCompleted, RideStatusCancelled},
}

// CanTransition reports whether a ride may move from one status to another.
func CanTransition(from, to RideStatus) bool {
	for _, s := range rideTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SourcesFor returns every status from which to is reachable in one step.
// Used to build conditional store updates.
func SourcesFor(to RideStatus) []RideStatus {
	var sources []RideStatus
	for _, from := range []RideStatus{
		RideStatusPending, RideStatusAccepted, RideStatusEnRoute, RideStatusInProgress,
	} {
		if CanTransition(from, to) {
			sources = append(sources, from)
		}
	}
	return sources
}

// VehicleClass is the service class a passenger requests.
type VehicleClass string

const (
	VehicleClassMoto    VehicleClass = "moto"
	VehicleClassTxopela VehicleClass = "txopela" // three-wheeler
)

// PaymentMethod is informational; no settlement happens in this service.
type PaymentMethod string

const (
	PaymentMethodCash  PaymentMethod = "cash"
	PaymentMethodMpesa PaymentMethod = "mpesa"
	PaymentMethodEmola PaymentMethod = "emola"
)

// Cancel reasons recorded on the ride.
const (
	CancelReasonPassenger = "passenger_cancelled"
	CancelReasonNoDrivers = "no_drivers_available"
)

// Location is a named point.
type Location struct {
	Name string
	geo.Coordinate
}

// Ride represents a passenger trip request.
//
// TargetDriverID and OfferExpiresAt belong to the dispatcher: they describe
// the offer in flight while the ride is pending. Once DriverID is set and the
// ride leaves pending they carry no meaning.
type Ride struct {
	ID             string
	PassengerID    string
	DriverID       string
	TargetDriverID string
	OfferExpiresAt time.Time

	Pickup      Location
	Destination Location
	Stops       []Location

	VehicleClass  VehicleClass
	PaymentMethod PaymentMethod

	// Frozen at creation.
	DistanceKm       float64
	EstimatedFare    float64
	EstimatedMinutes int

	FinalFare    float64
	Status       RideStatus
	CancelReason string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	AcceptedAt  time.Time
	CompletedAt time.Time
	CancelledAt time.Time
}

// Route returns pickup, stops in order, then destination.
func (r *Ride) Route() []geo.Coordinate {
	return RoutePoints(r.Pickup, r.Stops, r.Destination)
}

// RoutePoints lists the coordinates of a trip in travel order.
func RoutePoints(pickup Location, stops []Location, destination Location) []geo.Coordinate {
	route := make([]geo.Coordinate, 0, len(stops)+2)
	route = append(route, pickup.Coordinate)
	for _, s := range stops {
		route = append(route, s.Coordinate)
	}
	return append(route, destination.Coordinate)
}

// RouteKm is the straight-line length of the route through every stop.
func (r *Ride) RouteKm() float64 {
	return geo.PathKm(r.Route()...)
}

// HasOffer reports whether a candidate is currently being offered the ride.
func (r *Ride) HasOffer() bool {
	return r.Status == RideStatusPending && r.TargetDriverID != ""
}

// Clone returns a deep copy.
func (r *Ride) Clone() *Ride {
	c := *r
	if r.Stops != nil {
		c.Stops = append([]Location(nil), r.Stops...)
	}
	return &c
}
