package handler

import (
	"time"

	"mototaxi/internal/domain"
	"mototaxi/internal/geo"
	"mototaxi/internal/service"
)

// LocationDTO is a named point on the wire.
type LocationDTO struct {
	Name string  `json:"name,omitempty"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

func (l LocationDTO) toDomain() domain.Location {
	return domain.Location{Name: l.Name, Coordinate: geo.Coordinate{Lat: l.Lat, Lng: l.Lng}}
}

func toLocationDTO(l domain.Location) LocationDTO {
	return LocationDTO{Name: l.Name, Lat: l.Lat, Lng: l.Lng}
}

// TripBody is the trip part shared by estimate and request bodies.
type TripBody struct {
	Pickup        LocationDTO   `json:"pickup"`
	Destination   LocationDTO   `json:"destination"`
	Stops         []LocationDTO `json:"stops,omitempty"`
	VehicleClass  string        `json:"vehicle_class,omitempty"`  // moto, txopela
	PaymentMethod string        `json:"payment_method,omitempty"` // cash, mpesa, emola
}

func (b TripBody) toRequest() service.TripRequest {
	req := service.TripRequest{
		Pickup:        b.Pickup.toDomain(),
		Destination:   b.Destination.toDomain(),
		VehicleClass:  domain.VehicleClass(b.VehicleClass),
		PaymentMethod: domain.PaymentMethod(b.PaymentMethod),
	}
	for _, s := range b.Stops {
		req.Stops = append(req.Stops, s.toDomain())
	}
	return req
}

// RideResponse is the HTTP representation of a ride.
type RideResponse struct {
	ID               string        `json:"id"`
	PassengerID      string        `json:"passenger_id"`
	DriverID         string        `json:"driver_id,omitempty"`
	Pickup           LocationDTO   `json:"pickup"`
	Destination      LocationDTO   `json:"destination"`
	Stops            []LocationDTO `json:"stops,omitempty"`
	VehicleClass     string        `json:"vehicle_class"`
	PaymentMethod    string        `json:"payment_method"`
	Status           string        `json:"status"`
	DistanceKm       float64       `json:"distance_km"`
	EstimatedFare    float64       `json:"estimated_fare"`
	EstimatedMinutes int           `json:"estimated_minutes"`
	FinalFare        float64       `json:"final_fare,omitempty"`
	CancelReason     string        `json:"cancel_reason,omitempty"`
	Searching        bool          `json:"searching"`
	CreatedAt        string        `json:"created_at"`
	AcceptedAt       string        `json:"accepted_at,omitempty"`
	CompletedAt      string        `json:"completed_at,omitempty"`
	CancelledAt      string        `json:"cancelled_at,omitempty"`
}

func toRideResponse(r *domain.Ride) RideResponse {
	resp := RideResponse{
		ID:               r.ID,
		PassengerID:      r.PassengerID,
		DriverID:         r.DriverID,
		Pickup:           toLocationDTO(r.Pickup),
		Destination:      toLocationDTO(r.Destination),
		VehicleClass:     string(r.VehicleClass),
		PaymentMethod:    string(r.PaymentMethod),
		Status:           string(r.Status),
		DistanceKm:       r.DistanceKm,
		EstimatedFare:    r.EstimatedFare,
		EstimatedMinutes: r.EstimatedMinutes,
		FinalFare:        r.FinalFare,
		CancelReason:     r.CancelReason,
		Searching:        r.Status == domain.RideStatusPending,
		CreatedAt:        formatTime(r.CreatedAt),
		AcceptedAt:       formatTime(r.AcceptedAt),
		CompletedAt:      formatTime(r.CompletedAt),
		CancelledAt:      formatTime(r.CancelledAt),
	}
	for _, s := range r.Stops {
		resp.Stops = append(resp.Stops, toLocationDTO(s))
	}
	return resp
}

func toRideResponses(rides []*domain.Ride) []RideResponse {
	out := make([]RideResponse, 0, len(rides))
	for _, r := range rides {
		out = append(out, toRideResponse(r))
	}
	return out
}

// OfferResponse is what a driver sees for an incoming offer.
type OfferResponse struct {
	RideID           string        `json:"ride_id"`
	Pickup           LocationDTO   `json:"pickup"`
	Destination      LocationDTO   `json:"destination"`
	Stops            []LocationDTO `json:"stops,omitempty"`
	VehicleClass     string        `json:"vehicle_class"`
	PaymentMethod    string        `json:"payment_method"`
	Fare             float64       `json:"fare"`
	DistanceKm       float64       `json:"distance_km"`
	PickupDistanceKm float64       `json:"pickup_distance_km"`
	ArrivalMinutes   int           `json:"arrival_minutes"`
	DriverEarnings   float64       `json:"driver_earnings"`
	Currency         string        `json:"currency"`
	ExpiresAt        string        `json:"expires_at,omitempty"`
}

func toOfferResponses(offers []service.Offer) []OfferResponse {
	out := make([]OfferResponse, 0, len(offers))
	for _, o := range offers {
		resp := OfferResponse{
			RideID:           o.RideID,
			Pickup:           toLocationDTO(o.Ride.Pickup),
			Destination:      toLocationDTO(o.Ride.Destination),
			VehicleClass:     string(o.Ride.VehicleClass),
			PaymentMethod:    string(o.Ride.PaymentMethod),
			Fare:             o.Ride.EstimatedFare,
			DistanceKm:       o.Ride.DistanceKm,
			PickupDistanceKm: o.PickupDistanceKm,
			ArrivalMinutes:   o.ArrivalMinutes,
			DriverEarnings:   o.DriverEarnings,
			Currency:         o.Currency,
			ExpiresAt:        formatTime(o.ExpiresAt),
		}
		for _, s := range o.Ride.Stops {
			resp.Stops = append(resp.Stops, toLocationDTO(s))
		}
		out = append(out, resp)
	}
	return out
}

// DriverResponse is the HTTP response for driver data.
type DriverResponse struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Phone        string  `json:"phone"`
	Status       string  `json:"status"`
	VehicleClass string  `json:"vehicle_class"`
	Available    bool    `json:"available"`
	OnTrip       bool    `json:"on_trip"`
	Lat          float64 `json:"lat,omitempty"`
	Lng          float64 `json:"lng,omitempty"`
	LastSeenAt   string  `json:"last_seen_at,omitempty"`
}

func toDriverResponse(d *domain.Driver) DriverResponse {
	return DriverResponse{
		ID:           d.ID,
		Name:         d.Name,
		Phone:        d.Phone,
		Status:       string(d.Status),
		VehicleClass: string(d.VehicleClass),
		Available:    d.Available,
		OnTrip:       d.OnTrip,
		Lat:          d.Position.Lat,
		Lng:          d.Position.Lng,
		LastSeenAt:   formatTime(d.LastSeenAt),
	}
}

// RateDTO is one vehicle class's prices.
type RateDTO struct {
	BaseFare       float64 `json:"base_fare"`
	PerKmRate      float64 `json:"per_km_rate"`
	CommissionRate float64 `json:"commission_rate"`
}

// PricingPolicyDTO is the admin view of the pricing policy.
type PricingPolicyDTO struct {
	Currency string             `json:"currency"`
	Rates    map[string]RateDTO `json:"rates"`
}

func (p PricingPolicyDTO) toDomain() domain.PricingPolicy {
	policy := domain.PricingPolicy{
		Currency: p.Currency,
		Rates:    make(map[domain.VehicleClass]domain.Rate, len(p.Rates)),
	}
	for class, r := range p.Rates {
		policy.Rates[domain.VehicleClass(class)] = domain.Rate{
			BaseFare:       r.BaseFare,
			PerKmRate:      r.PerKmRate,
			CommissionRate: r.CommissionRate,
		}
	}
	return policy
}

func toPricingPolicyDTO(p domain.PricingPolicy) PricingPolicyDTO {
	dto := PricingPolicyDTO{Currency: p.Currency, Rates: make(map[string]RateDTO, len(p.Rates))}
	for class, r := range p.Rates {
		dto.Rates[string(class)] = RateDTO{
			BaseFare:       r.BaseFare,
			PerKmRate:      r.PerKmRate,
			CommissionRate: r.CommissionRate,
		}
	}
	return dto
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
