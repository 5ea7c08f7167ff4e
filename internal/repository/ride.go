package repository

import (
	"context"
	"time"

	"mototaxi/internal/domain"
)

// RidePatch lists the fields an update writes. Nil fields are left untouched.
type RidePatch struct {
	Status         *domain.RideStatus
	DriverID       *string
	TargetDriverID *string // empty string clears the target
	OfferExpiresAt *time.Time
	FinalFare      *float64
	CancelReason   *string
}

// RideCondition guards an update. The update applies only if every set
// field holds for the stored row.
type RideCondition struct {
	// Statuses the row must be in. Empty means any status.
	Statuses []domain.RideStatus
	// DriverID the row must be assigned to.
	DriverID string
	// TargetDriverID the row must currently target.
	TargetDriverID string
	// TargetUnsetOr requires the row to have no target or this target.
	TargetUnsetOr string
}

// Matches reports whether ride satisfies the condition.
func (c RideCondition) Matches(ride *domain.Ride) bool {
	if len(c.Statuses) > 0 {
		found := false
		for _, s := range c.Statuses {
			if ride.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if c.DriverID != "" && ride.DriverID != c.DriverID {
		return false
	}
	if c.TargetDriverID != "" && ride.TargetDriverID != c.TargetDriverID {
		return false
	}
	if c.TargetUnsetOr != "" && ride.TargetDriverID != "" && ride.TargetDriverID != c.TargetUnsetOr {
		return false
	}
	return true
}

// Apply writes the patch onto ride, stamping status timestamps at now.
func (p RidePatch) Apply(ride *domain.Ride, now time.Time) {
	if p.Status != nil {
		ride.Status = *p.Status
		switch *p.Status {
		case domain.RideStatusAccepted:
			ride.AcceptedAt = now
		case domain.RideStatusCompleted:
			ride.CompletedAt = now
		case domain.RideStatusCancelled:
			ride.CancelledAt = now
		}
	}
	if p.DriverID != nil {
		ride.DriverID = *p.DriverID
	}
	if p.TargetDriverID != nil {
		ride.TargetDriverID = *p.TargetDriverID
	}
	if p.OfferExpiresAt != nil {
		ride.OfferExpiresAt = *p.OfferExpiresAt
	}
	if p.FinalFare != nil {
		ride.FinalFare = *p.FinalFare
	}
	if p.CancelReason != nil {
		ride.CancelReason = *p.CancelReason
	}
	ride.UpdatedAt = now
}

// RideQuery filters a ride listing. Results are newest first, ties broken
// by descending ID.
type RideQuery struct {
	PassengerID    string
	DriverID       string
	TargetDriverID string
	Statuses       []domain.RideStatus
	Limit          int

	// After is a keyset cursor: only rides ordered after it are returned.
	// Pass the last ride of the previous page.
	After *RideCursor
}

// RideCursor marks a position in a listing.
type RideCursor struct {
	CreatedAt time.Time
	ID        string
}

// CursorOf returns the cursor positioned at ride.
func CursorOf(ride *domain.Ride) *RideCursor {
	return &RideCursor{CreatedAt: ride.CreatedAt, ID: ride.ID}
}

// Before reports whether ride sorts after the cursor in a listing.
func (c *RideCursor) Before(ride *domain.Ride) bool {
	if ride.CreatedAt.Equal(c.CreatedAt) {
		return ride.ID < c.ID
	}
	return ride.CreatedAt.Before(c.CreatedAt)
}

// RideRepository is the ride record store.
type RideRepository interface {
	// Create persists a new ride.
	Create(ctx context.Context, ride *domain.Ride) error

	// GetByID retrieves a ride by ID.
	GetByID(ctx context.Context, id string) (*domain.Ride, error)

	// List returns rides matching q.
	List(ctx context.Context, q RideQuery) ([]*domain.Ride, error)

	// Update applies patch if cond holds and returns the updated row.
	// Returns ErrNoMatch when the row exists but cond fails.
	Update(ctx context.Context, id string, patch RidePatch, cond RideCondition) (*domain.Ride, error)
}
