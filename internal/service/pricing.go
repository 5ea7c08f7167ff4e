package service

import (
	"context"
	"errors"
	"log/slog"

	"mototaxi/internal/domain"
	"mototaxi/internal/redis"
	"mototaxi/internal/repository"
)

// PricingService serves the current pricing policy.
type PricingService struct {
	repo  repository.PricingRepository
	cache redis.PricingCacheInterface
	log   *slog.Logger
}

// NewPricingService creates a new PricingService. cache may be nil.
func NewPricingService(repo repository.PricingRepository, cache redis.PricingCacheInterface, log *slog.Logger) *PricingService {
	return &PricingService{repo: repo, cache: cache, log: log}
}

// Current returns the stored policy, falling back to the default when none
// has been saved.
func (s *PricingService) Current(ctx context.Context) (domain.PricingPolicy, error) {
	if s.cache != nil {
		cached, err := s.cache.GetPricing(ctx)
		if err != nil {
			s.log.Warn("pricing_cache_read_failed", "error", err)
		} else if cached != nil {
			return *cached, nil
		}
	}

	policy, err := s.repo.Get(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.DefaultPricingPolicy(), nil
	}
	if err != nil {
		return domain.PricingPolicy{}, err
	}

	if s.cache != nil {
		if err := s.cache.SetPricing(ctx, *policy); err != nil {
			s.log.Warn("pricing_cache_write_failed", "error", err)
		}
	}
	return *policy, nil
}

// Update validates and stores policy.
func (s *PricingService) Update(ctx context.Context, policy domain.PricingPolicy) (domain.PricingPolicy, error) {
	if policy.Currency == "" {
		policy.Currency = domain.DefaultPricingPolicy().Currency
	}
	if !policy.Valid() {
		return domain.PricingPolicy{}, ErrInvalidPricingPolicy
	}
	for class := range policy.Rates {
		if !isKnownVehicleClass(class) {
			return domain.PricingPolicy{}, ErrInvalidVehicleClass
		}
	}

	if err := s.repo.Save(ctx, policy); err != nil {
		return domain.PricingPolicy{}, err
	}
	if s.cache != nil {
		if err := s.cache.InvalidatePricing(ctx); err != nil {
			s.log.Warn("pricing_cache_invalidate_failed", "error", err)
		}
	}
	s.log.Info("pricing_updated", "currency", policy.Currency, "classes", len(policy.Rates))
	return policy, nil
}

func isKnownVehicleClass(c domain.VehicleClass) bool {
	return c == domain.VehicleClassMoto || c == domain.VehicleClassTxopela
}
