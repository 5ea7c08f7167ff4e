package fare

import (
	"math"

	"mototaxi/internal/domain"
)

const (
	// TripMinutesPerKm estimates trip duration from straight-line distance.
	TripMinutesPerKm = 3.0

	// ArrivalMinutesPerKm estimates how long a driver needs to reach pickup.
	ArrivalMinutesPerKm = 5.0
)

// Estimate is a displayed price and duration. Neither is a guarantee.
type Estimate struct {
	DistanceKm float64
	Price      float64
	Currency   string
	ETAMinutes int
}

// EstimateFare prices a trip of distanceKm for class under policy.
//
// price = max(base, round(base + distanceKm*perKm)). A class missing from the
// policy prices at zero rates; callers validate the class before requesting.
func EstimateFare(distanceKm float64, class domain.VehicleClass, policy domain.PricingPolicy) Estimate {
	rate, _ := policy.Rate(class)

	price := math.Round(rate.BaseFare + distanceKm*rate.PerKmRate)
	if price < rate.BaseFare {
		price = rate.BaseFare
	}

	return Estimate{
		DistanceKm: distanceKm,
		Price:      price,
		Currency:   policy.Currency,
		ETAMinutes: minutes(distanceKm, TripMinutesPerKm),
	}
}

// ArrivalMinutes estimates driver-to-pickup time.
func ArrivalMinutes(distanceKm float64) int {
	return minutes(distanceKm, ArrivalMinutesPerKm)
}

// DriverEarnings is the price net of platform commission.
func DriverEarnings(price float64, class domain.VehicleClass, policy domain.PricingPolicy) float64 {
	rate, _ := policy.Rate(class)
	return math.Round(price*(1-rate.CommissionRate)*100) / 100
}

func minutes(distanceKm, perKm float64) int {
	if distanceKm <= 0 || math.IsNaN(distanceKm) {
		return 0
	}
	return int(math.Ceil(distanceKm * perKm))
}
