package domain

import (
	"time"

	"mototaxi/internal/geo"
)

// DriverStatus is the operational (approval) status of a driver.
type DriverStatus string

const (
	DriverStatusPendingApproval DriverStatus = "pending_approval"
	DriverStatusActive          DriverStatus = "active"
	DriverStatusRejected        DriverStatus = "rejected"
)

// Valid reports whether s is a known status.
func (s DriverStatus) Valid() bool {
	switch s {
	case DriverStatusPendingApproval, DriverStatusActive, DriverStatusRejected:
		return true
	}
	return false
}

// Driver represents a registered driver and their presence. Available is
// the driver's own online switch; OnTrip is set while a ride is assigned.
type Driver struct {
	ID           string
	Name         string
	Phone        string
	Status       DriverStatus
	VehicleClass VehicleClass
	Available    bool
	OnTrip       bool
	Position     geo.Coordinate
	LastSeenAt   time.Time
}

// Eligible reports whether the driver may be offered rides.
func (d *Driver) Eligible() bool {
	return d.Available && !d.OnTrip && d.Status == DriverStatusActive
}
