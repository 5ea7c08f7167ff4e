package repository

import (
	"context"

	"mototaxi/internal/domain"
)

// PricingRepository stores the pricing policy.
type PricingRepository interface {
	// Get returns the stored policy, or ErrNotFound if none was saved.
	Get(ctx context.Context) (*domain.PricingPolicy, error)

	// Save replaces the stored policy.
	Save(ctx context.Context, policy domain.PricingPolicy) error
}
