package service

import "errors"

var (
	// ErrNoDriversAvailable is returned when no eligible driver is within range.
	ErrNoDriversAvailable = errors.New("no drivers available")

	// ErrRideAlreadyTaken is returned to a driver whose accept lost the race.
	ErrRideAlreadyTaken = errors.New("ride already taken")

	// ErrInvalidTransition is returned when a status change skips the lifecycle order.
	ErrInvalidTransition = errors.New("invalid ride status transition")

	// ErrDriverNotAssignedToRide is returned when driver is not assigned to the ride.
	ErrDriverNotAssignedToRide = errors.New("driver not assigned to this ride")

	// ErrDriverNotEligible is returned when an inactive or unavailable driver acts on an offer.
	ErrDriverNotEligible = errors.New("driver not eligible for offers")

	// ErrRideNotOwned is returned when a passenger acts on someone else's ride.
	ErrRideNotOwned = errors.New("ride belongs to another passenger")

	// ErrDriverAlreadyRegistered is returned when the phone number is taken.
	ErrDriverAlreadyRegistered = errors.New("driver already registered")

	// ErrDispatchInProgress is returned when another loop already owns the ride.
	ErrDispatchInProgress = errors.New("dispatch already in progress")
)

// Validation errors. Each is surfaced to the caller before any write.
var (
	ErrInvalidPassengerID         = errors.New("invalid passenger id")
	ErrInvalidRideID              = errors.New("invalid ride id")
	ErrInvalidDriverID            = errors.New("invalid driver id")
	ErrInvalidPickupLocation      = errors.New("invalid pickup location")
	ErrInvalidDestinationLocation = errors.New("invalid destination location")
	ErrInvalidStopLocation        = errors.New("invalid stop location")
	ErrInvalidLocation            = errors.New("invalid location")
	ErrInvalidVehicleClass        = errors.New("invalid vehicle class")
	ErrInvalidPaymentMethod       = errors.New("invalid payment method")
	ErrInvalidPricingPolicy       = errors.New("invalid pricing policy")
	ErrInvalidDriverStatus        = errors.New("invalid driver status")
	ErrInvalidDriverName          = errors.New("invalid driver name")
	ErrInvalidPhone               = errors.New("invalid phone number")
)

var validationErrors = []error{
	ErrInvalidPassengerID,
	ErrInvalidRideID,
	ErrInvalidDriverID,
	ErrInvalidPickupLocation,
	ErrInvalidDestinationLocation,
	ErrInvalidStopLocation,
	ErrInvalidLocation,
	ErrInvalidVehicleClass,
	ErrInvalidPaymentMethod,
	ErrInvalidPricingPolicy,
	ErrInvalidDriverStatus,
	ErrInvalidDriverName,
	ErrInvalidPhone,
}

// IsValidation reports whether err is a request validation failure.
func IsValidation(err error) bool {
	for _, v := range validationErrors {
		if errors.Is(err, v) {
			return true
		}
	}
	return false
}
