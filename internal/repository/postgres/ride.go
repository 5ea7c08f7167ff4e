package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"mototaxi/internal/domain"
	"mototaxi/internal/repository"
)

const rideColumns = `id, passenger_id, driver_id, target_driver_id, offer_expires_at,
	pickup_name, pickup_lat, pickup_lng, destination_name, destination_lat, destination_lng, stops,
	vehicle_class, payment_method, distance_km, estimated_fare, estimated_minutes,
	final_fare, status, cancel_reason,
	created_at, updated_at, accepted_at, completed_at, cancelled_at`

// RideRepository is a PostgreSQL implementation of repository.RideRepository.
type RideRepository struct {
	q Querier
}

// NewRideRepository creates a new PostgreSQL ride repository.
func NewRideRepository(db *sql.DB) *RideRepository {
	return &RideRepository{q: db}
}

type stopRow struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

func encodeStops(stops []domain.Location) ([]byte, error) {
	rows := make([]stopRow, 0, len(stops))
	for _, s := range stops {
		rows = append(rows, stopRow{Name: s.Name, Lat: s.Lat, Lng: s.Lng})
	}
	return json.Marshal(rows)
}

func decodeStops(raw []byte) ([]domain.Location, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var rows []stopRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	stops := make([]domain.Location, 0, len(rows))
	for _, r := range rows {
		var loc domain.Location
		loc.Name, loc.Lat, loc.Lng = r.Name, r.Lat, r.Lng
		stops = append(stops, loc)
	}
	return stops, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// Create persists a new ride.
func (r *RideRepository) Create(ctx context.Context, ride *domain.Ride) error {
	stops, err := encodeStops(ride.Stops)
	if err != nil {
		return fmt.Errorf("encode stops: %w", err)
	}

	query := `INSERT INTO rides (` + rideColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)`

	_, err = r.q.ExecContext(ctx, query,
		ride.ID,
		ride.PassengerID,
		nullString(ride.DriverID),
		nullString(ride.TargetDriverID),
		nullTime(ride.OfferExpiresAt),
		ride.Pickup.Name, ride.Pickup.Lat, ride.Pickup.Lng,
		ride.Destination.Name, ride.Destination.Lat, ride.Destination.Lng,
		stops,
		ride.VehicleClass,
		ride.PaymentMethod,
		ride.DistanceKm,
		ride.EstimatedFare,
		ride.EstimatedMinutes,
		ride.FinalFare,
		ride.Status,
		nullString(ride.CancelReason),
		ride.CreatedAt,
		ride.UpdatedAt,
		nullTime(ride.AcceptedAt),
		nullTime(ride.CompletedAt),
		nullTime(ride.CancelledAt),
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner) (*domain.Ride, error) {
	var (
		ride                             domain.Ride
		driverID, targetID, cancelReason sql.NullString
		offerExpires, accepted           sql.NullTime
		completed, cancelled             sql.NullTime
		stops                            []byte
	)
	err := row.Scan(
		&ride.ID,
		&ride.PassengerID,
		&driverID,
		&targetID,
		&offerExpires,
		&ride.Pickup.Name, &ride.Pickup.Lat, &ride.Pickup.Lng,
		&ride.Destination.Name, &ride.Destination.Lat, &ride.Destination.Lng,
		&stops,
		&ride.VehicleClass,
		&ride.PaymentMethod,
		&ride.DistanceKm,
		&ride.EstimatedFare,
		&ride.EstimatedMinutes,
		&ride.FinalFare,
		&ride.Status,
		&cancelReason,
		&ride.CreatedAt,
		&ride.UpdatedAt,
		&accepted,
		&completed,
		&cancelled,
	)
	if err != nil {
		return nil, err
	}

	ride.DriverID = driverID.String
	ride.TargetDriverID = targetID.String
	ride.CancelReason = cancelReason.String
	ride.OfferExpiresAt = offerExpires.Time
	ride.AcceptedAt = accepted.Time
	ride.CompletedAt = completed.Time
	ride.CancelledAt = cancelled.Time

	if ride.Stops, err = decodeStops(stops); err != nil {
		return nil, fmt.Errorf("decode stops: %w", err)
	}
	return &ride, nil
}

// GetByID retrieves a ride by ID.
func (r *RideRepository) GetByID(ctx context.Context, id string) (*domain.Ride, error) {
	query := `SELECT ` + rideColumns + ` FROM rides WHERE id = $1`

	ride, err := scanRide(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return ride, nil
}

// List returns rides matching q, newest first.
func (r *RideRepository) List(ctx context.Context, q repository.RideQuery) ([]*domain.Ride, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.PassengerID != "" {
		where = append(where, "passenger_id = "+arg(q.PassengerID))
	}
	if q.DriverID != "" {
		where = append(where, "driver_id = "+arg(q.DriverID))
	}
	if q.TargetDriverID != "" {
		where = append(where, "target_driver_id = "+arg(q.TargetDriverID))
	}
	if len(q.Statuses) > 0 {
		where = append(where, "status = ANY("+arg(pq.Array(statusStrings(q.Statuses)))+")")
	}
	if q.After != nil {
		where = append(where, "(created_at, id) < ("+arg(q.After.CreatedAt)+", "+arg(q.After.ID)+")")
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + rideColumns + ` FROM rides`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT " + arg(limit)

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rides []*domain.Ride
	for rows.Next() {
		ride, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		rides = append(rides, ride)
	}
	return rides, rows.Err()
}

// Update applies patch in a single statement guarded by cond.
func (r *RideRepository) Update(ctx context.Context, id string, patch repository.RidePatch, cond repository.RideCondition) (*domain.Ride, error) {
	var (
		set   []string
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	now := time.Now().UTC()
	set = append(set, "updated_at = "+arg(now))

	if patch.Status != nil {
		set = append(set, "status = "+arg(*patch.Status))
		switch *patch.Status {
		case domain.RideStatusAccepted:
			set = append(set, "accepted_at = "+arg(now))
		case domain.RideStatusCompleted:
			set = append(set, "completed_at = "+arg(now))
		case domain.RideStatusCancelled:
			set = append(set, "cancelled_at = "+arg(now))
		}
	}
	if patch.DriverID != nil {
		set = append(set, "driver_id = "+arg(nullString(*patch.DriverID)))
	}
	if patch.TargetDriverID != nil {
		set = append(set, "target_driver_id = "+arg(nullString(*patch.TargetDriverID)))
	}
	if patch.OfferExpiresAt != nil {
		set = append(set, "offer_expires_at = "+arg(nullTime(*patch.OfferExpiresAt)))
	}
	if patch.FinalFare != nil {
		set = append(set, "final_fare = "+arg(*patch.FinalFare))
	}
	if patch.CancelReason != nil {
		set = append(set, "cancel_reason = "+arg(nullString(*patch.CancelReason)))
	}

	where = append(where, "id = "+arg(id))
	if len(cond.Statuses) > 0 {
		where = append(where, "status = ANY("+arg(pq.Array(statusStrings(cond.Statuses)))+")")
	}
	if cond.DriverID != "" {
		where = append(where, "driver_id = "+arg(cond.DriverID))
	}
	if cond.TargetDriverID != "" {
		where = append(where, "target_driver_id = "+arg(cond.TargetDriverID))
	}
	if cond.TargetUnsetOr != "" {
		where = append(where, "(target_driver_id IS NULL OR target_driver_id = "+arg(cond.TargetUnsetOr)+")")
	}

	query := `UPDATE rides SET ` + strings.Join(set, ", ") +
		` WHERE ` + strings.Join(where, " AND ") +
		` RETURNING ` + rideColumns

	ride, err := scanRide(r.q.QueryRowContext(ctx, query, args...))
	if err == nil {
		return ride, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	// Zero rows: either the ride is gone or the guard failed.
	var exists bool
	if err := r.q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM rides WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, repository.ErrNotFound
	}
	return nil, repository.ErrNoMatch
}

func statusStrings(statuses []domain.RideStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
