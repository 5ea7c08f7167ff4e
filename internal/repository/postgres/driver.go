package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"mototaxi/internal/domain"
	"mototaxi/internal/geo"
	"mototaxi/internal/repository"
)

const driverColumns = `id, COALESCE(name, ''), COALESCE(phone, ''), status, vehicle_class, available, on_trip, lat, lng, last_seen_at`

// DriverRepository is a PostgreSQL implementation of repository.DriverRepository.
type DriverRepository struct {
	q Querier
}

// NewDriverRepository creates a new PostgreSQL driver repository.
func NewDriverRepository(db *sql.DB) *DriverRepository {
	return &DriverRepository{q: db}
}

// Create adds a new driver.
func (r *DriverRepository) Create(ctx context.Context, driver *domain.Driver) error {
	query := `INSERT INTO drivers (id, name, phone, status, vehicle_class, available, on_trip, lat, lng, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.q.ExecContext(ctx, query,
		driver.ID,
		driver.Name,
		driver.Phone,
		driver.Status,
		driver.VehicleClass,
		driver.Available,
		driver.OnTrip,
		driver.Position.Lat,
		driver.Position.Lng,
		nullTime(driver.LastSeenAt),
	)
	return err
}

func scanDriver(row rowScanner) (*domain.Driver, error) {
	var driver domain.Driver
	var seen sql.NullTime
	if err := row.Scan(
		&driver.ID,
		&driver.Name,
		&driver.Phone,
		&driver.Status,
		&driver.VehicleClass,
		&driver.Available,
		&driver.OnTrip,
		&driver.Position.Lat,
		&driver.Position.Lng,
		&seen,
	); err != nil {
		return nil, err
	}
	driver.LastSeenAt = seen.Time
	return &driver, nil
}

func (r *DriverRepository) getOne(ctx context.Context, query string, arg any) (*domain.Driver, error) {
	driver, err := scanDriver(r.q.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return driver, nil
}

// GetByID retrieves a driver by ID.
func (r *DriverRepository) GetByID(ctx context.Context, id string) (*domain.Driver, error) {
	return r.getOne(ctx, `SELECT `+driverColumns+` FROM drivers WHERE id = $1`, id)
}

// GetByPhone retrieves a driver by phone number.
func (r *DriverRepository) GetByPhone(ctx context.Context, phone string) (*domain.Driver, error) {
	return r.getOne(ctx, `SELECT `+driverColumns+` FROM drivers WHERE phone = $1`, phone)
}

func (r *DriverRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Driver, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drivers []*domain.Driver
	for rows.Next() {
		driver, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		drivers = append(drivers, driver)
	}
	return drivers, rows.Err()
}

// GetAll retrieves all drivers.
func (r *DriverRepository) GetAll(ctx context.Context) ([]*domain.Driver, error) {
	return r.list(ctx, `SELECT `+driverColumns+` FROM drivers ORDER BY id`)
}

// ListEligible returns available drivers whose status is active and who are
// not on a trip.
func (r *DriverRepository) ListEligible(ctx context.Context) ([]*domain.Driver, error) {
	return r.list(ctx,
		`SELECT `+driverColumns+` FROM drivers WHERE available AND NOT on_trip AND status = $1 ORDER BY id`,
		domain.DriverStatusActive,
	)
}

func (r *DriverRepository) execOne(ctx context.Context, query string, args ...any) error {
	result, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// UpdateStatus updates the operational status of a driver.
func (r *DriverRepository) UpdateStatus(ctx context.Context, id string, status domain.DriverStatus) error {
	return r.execOne(ctx, `UPDATE drivers SET status = $1 WHERE id = $2`, status, id)
}

// UpdateAvailability sets whether the driver is online.
func (r *DriverRepository) UpdateAvailability(ctx context.Context, id string, available bool) error {
	return r.execOne(ctx, `UPDATE drivers SET available = $1 WHERE id = $2`, available, id)
}

// UpdateOnTrip marks the driver as assigned to a ride or free again.
func (r *DriverRepository) UpdateOnTrip(ctx context.Context, id string, onTrip bool) error {
	return r.execOne(ctx, `UPDATE drivers SET on_trip = $1 WHERE id = $2`, onTrip, id)
}

// UpdatePosition records the driver's last known position.
func (r *DriverRepository) UpdatePosition(ctx context.Context, id string, pos geo.Coordinate, seenAt time.Time) error {
	return r.execOne(ctx,
		`UPDATE drivers SET lat = $1, lng = $2, last_seen_at = $3 WHERE id = $4`,
		pos.Lat, pos.Lng, seenAt, id,
	)
}
