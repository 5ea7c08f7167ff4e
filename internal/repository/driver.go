package repository

import (
	"context"
	"time"

	"mototaxi/internal/domain"
	"mototaxi/internal/geo"
)

// DriverRepository defines the persistence operations for drivers.
type DriverRepository interface {
	// Create adds a new driver.
	Create(ctx context.Context, driver *domain.Driver) error

	// GetByID retrieves a driver by ID.
	GetByID(ctx context.Context, id string) (*domain.Driver, error)

	// GetByPhone retrieves a driver by phone number.
	GetByPhone(ctx context.Context, phone string) (*domain.Driver, error)

	// GetAll retrieves all drivers.
	GetAll(ctx context.Context) ([]*domain.Driver, error)

	// ListEligible returns drivers that are available, active and not on a trip.
	ListEligible(ctx context.Context) ([]*domain.Driver, error)

	// UpdateStatus updates the operational status of a driver.
	UpdateStatus(ctx context.Context, id string, status domain.DriverStatus) error

	// UpdateAvailability sets whether the driver is online.
	UpdateAvailability(ctx context.Context, id string, available bool) error

	// UpdateOnTrip marks the driver as assigned to a ride or free again.
	UpdateOnTrip(ctx context.Context, id string, onTrip bool) error

	// UpdatePosition records the driver's last known position.
	UpdatePosition(ctx context.Context, id string, pos geo.Coordinate, seenAt time.Time) error
}
