package postgres

import (
	"context"
	"database/sql"

	"mototaxi/internal/domain"
	"mototaxi/internal/repository"
)

// PricingRepository stores the pricing policy, one row per vehicle class.
type PricingRepository struct {
	db *sql.DB
}

// NewPricingRepository creates a new PostgreSQL pricing repository.
func NewPricingRepository(db *sql.DB) *PricingRepository {
	return &PricingRepository{db: db}
}

// Get loads the stored policy.
func (r *PricingRepository) Get(ctx context.Context) (*domain.PricingPolicy, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT vehicle_class, currency, base_fare, per_km_rate, commission_rate FROM pricing_rates ORDER BY vehicle_class`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	policy := domain.PricingPolicy{Rates: make(map[domain.VehicleClass]domain.Rate)}
	for rows.Next() {
		var class domain.VehicleClass
		var rate domain.Rate
		if err := rows.Scan(&class, &policy.Currency, &rate.BaseFare, &rate.PerKmRate, &rate.CommissionRate); err != nil {
			return nil, err
		}
		policy.Rates[class] = rate
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(policy.Rates) == 0 {
		return nil, repository.ErrNotFound
	}
	return &policy, nil
}

// Save replaces the stored policy in one transaction.
func (r *PricingRepository) Save(ctx context.Context, policy domain.PricingPolicy) error {
	return inTx(ctx, r.db, func(q Querier) error {
		if _, err := q.ExecContext(ctx, `DELETE FROM pricing_rates`); err != nil {
			return err
		}
		for class, rate := range policy.Rates {
			if _, err := q.ExecContext(ctx,
				`INSERT INTO pricing_rates (vehicle_class, currency, base_fare, per_km_rate, commission_rate) VALUES ($1, $2, $3, $4, $5)`,
				class, policy.Currency, rate.BaseFare, rate.PerKmRate, rate.CommissionRate,
			); err != nil {
				return err
			}
		}
		return nil
	})
}
