package domain

// Rate holds the prices for one vehicle class.
type Rate struct {
	BaseFare       float64
	PerKmRate      float64
	CommissionRate float64 // platform share, 0..1
}

// PricingPolicy maps each vehicle class to its rate. Admins edit it; the fare
// estimator only reads it.
type PricingPolicy struct {
	Currency string
	Rates    map[VehicleClass]Rate
}

// DefaultPricingPolicy is used until an admin stores a policy.
func DefaultPricingPolicy() PricingPolicy {
	return PricingPolicy{
		Currency: "MZN",
		Rates: map[VehicleClass]Rate{
			VehicleClassMoto:    {BaseFare: 50, PerKmRate: 25, CommissionRate: 0.15},
			VehicleClassTxopela: {BaseFare: 80, PerKmRate: 35, CommissionRate: 0.15},
		},
	}
}

// Rate returns the rate for class and whether the class is priced.
func (p PricingPolicy) Rate(class VehicleClass) (Rate, bool) {
	r, ok := p.Rates[class]
	return r, ok
}

// Valid reports whether every rate is non-negative and commission is a fraction.
func (p PricingPolicy) Valid() bool {
	if len(p.Rates) == 0 {
		return false
	}
	for class, r := range p.Rates {
		if class == "" || r.BaseFare < 0 || r.PerKmRate < 0 {
			return false
		}
		if r.CommissionRate < 0 || r.CommissionRate >= 1 {
			return false
		}
	}
	return true
}
