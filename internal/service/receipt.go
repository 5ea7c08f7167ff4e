package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"mototaxi/internal/domain"
	"mototaxi/internal/fare"
	"mototaxi/internal/repository"
)

// Receipt is the fare breakdown of a completed ride.
type Receipt struct {
	RideID         string
	PassengerID    string
	DriverID       string
	Pickup         domain.Location
	Destination    domain.Location
	Stops          []domain.Location
	VehicleClass   domain.VehicleClass
	PaymentMethod  domain.PaymentMethod
	DistanceKm     float64
	BaseFare       float64
	DistanceCharge float64
	TotalFare      float64
	Commission     float64
	DriverEarnings float64
	Currency       string
	Duration       time.Duration // acceptance to completion
	CompletedAt    time.Time
}

// ReceiptService builds receipts for completed rides.
type ReceiptService struct {
	rideRepo repository.RideRepository
	pricing  PolicySource
}

// NewReceiptService creates a new ReceiptService.
func NewReceiptService(rideRepo repository.RideRepository, pricing PolicySource) *ReceiptService {
	return &ReceiptService{rideRepo: rideRepo, pricing: pricing}
}

// GenerateReceipt builds the receipt for rideID. Rides that are not completed
// have none.
func (s *ReceiptService) GenerateReceipt(ctx context.Context, rideID string) (*Receipt, error) {
	if rideID == "" {
		return nil, ErrInvalidRideID
	}
	ride, err := s.rideRepo.GetByID(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.Status != domain.RideStatusCompleted {
		return nil, ErrInvalidTransition
	}

	policy, err := s.pricing.Current(ctx)
	if err != nil {
		return nil, err
	}
	rate, _ := policy.Rate(ride.VehicleClass)

	// The total is frozen; the breakdown is derived from it, so a policy edit
	// after the ride only shifts the split, never the total.
	base := math.Min(rate.BaseFare, ride.FinalFare)
	earnings := fare.DriverEarnings(ride.FinalFare, ride.VehicleClass, policy)

	receipt := &Receipt{
		RideID:         ride.ID,
		PassengerID:    ride.PassengerID,
		DriverID:       ride.DriverID,
		Pickup:         ride.Pickup,
		Destination:    ride.Destination,
		Stops:          ride.Stops,
		VehicleClass:   ride.VehicleClass,
		PaymentMethod:  ride.PaymentMethod,
		DistanceKm:     ride.DistanceKm,
		BaseFare:       base,
		DistanceCharge: ride.FinalFare - base,
		TotalFare:      ride.FinalFare,
		Commission:     math.Round((ride.FinalFare-earnings)*100) / 100,
		DriverEarnings: earnings,
		Currency:       policy.Currency,
		CompletedAt:    ride.CompletedAt,
	}
	if !ride.AcceptedAt.IsZero() && !ride.CompletedAt.IsZero() {
		receipt.Duration = ride.CompletedAt.Sub(ride.AcceptedAt)
	}
	return receipt, nil
}

// FormatReceipt renders the receipt as plain text (for SMS or print).
func (s *ReceiptService) FormatReceipt(r *Receipt) string {
	var b strings.Builder
	b.WriteString("=====================================\n")
	b.WriteString("            RIDE RECEIPT\n")
	b.WriteString("=====================================\n")
	fmt.Fprintf(&b, "Ride:        %s\n", r.RideID)
	fmt.Fprintf(&b, "Date:        %s\n", r.CompletedAt.Format("02 Jan 2006 15:04"))
	b.WriteString("\nTRIP\n-------------------------------------\n")
	fmt.Fprintf(&b, "From:        %s\n", r.Pickup.Name)
	for _, stop := range r.Stops {
		fmt.Fprintf(&b, "Via:         %s\n", stop.Name)
	}
	fmt.Fprintf(&b, "To:          %s\n", r.Destination.Name)
	fmt.Fprintf(&b, "Distance:    %s km\n", formatFloat(r.DistanceKm))
	fmt.Fprintf(&b, "Duration:    %s\n", formatDuration(r.Duration))
	b.WriteString("\nFARE\n-------------------------------------\n")
	fmt.Fprintf(&b, "Base fare:   %s %s\n", formatFloat(r.BaseFare), r.Currency)
	fmt.Fprintf(&b, "Distance:    %s %s\n", formatFloat(r.DistanceCharge), r.Currency)
	fmt.Fprintf(&b, "TOTAL:       %s %s\n", formatFloat(r.TotalFare), r.Currency)
	fmt.Fprintf(&b, "Paid with:   %s\n", r.PaymentMethod)
	b.WriteString("=====================================\n")
	return b.String()
}

func formatFloat(f float64) string {
	return fmt.Sprintf("%.2f", f)
}

func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%d min", int(d.Minutes()))
}
