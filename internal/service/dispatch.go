package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"mototaxi/internal/domain"
	"mototaxi/internal/events"
	"mototaxi/internal/geo"
	"mototaxi/internal/metrics"
	"mototaxi/internal/redis"
	"mototaxi/internal/repository"
)

// DispatchConfig tunes the offer loop.
type DispatchConfig struct {
	OfferTimeout   time.Duration
	SearchRadiusKm float64
	LockTTL        time.Duration
}

// DispatchOutcome is how a dispatch loop ended.
type DispatchOutcome string

const (
	// OutcomeAccepted means a driver took the ride.
	OutcomeAccepted DispatchOutcome = "accepted"
	// OutcomeNoDrivers means the ride was cancelled for lack of drivers.
	OutcomeNoDrivers DispatchOutcome = "no_drivers"
	// OutcomeStopped means the ride left pending some other way, e.g. the
	// passenger cancelled.
	OutcomeStopped DispatchOutcome = "stopped"
	// OutcomeAborted means the loop was interrupted before an outcome, by
	// shutdown or by losing the ride lock.
	OutcomeAborted DispatchOutcome = "aborted"
)

// DispatchResult summarizes one dispatch loop.
type DispatchResult struct {
	RideID   string
	Outcome  DispatchOutcome
	DriverID string
	Offers   int
}

// Dispatcher runs one offer loop per pending ride. Offers within a ride are
// strictly sequential; loops for different rides are independent.
type Dispatcher struct {
	rideRepo  repository.RideRepository
	directory DriverDirectory
	lockStore redis.LockStoreInterface
	bus       events.Bus
	pricing   PolicySource
	notifier  *NotificationService
	cfg       DispatchConfig
	log       *slog.Logger
	owner     string

	mu     sync.Mutex
	active map[string]struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewDispatcher creates a Dispatcher. lockStore and bus may be nil: without a
// lock store there is no cross-instance exclusivity, without a bus each offer
// waits out its full window.
func NewDispatcher(
	rideRepo repository.RideRepository,
	directory DriverDirectory,
	lockStore redis.LockStoreInterface,
	bus events.Bus,
	pricing PolicySource,
	notifier *NotificationService,
	cfg DispatchConfig,
	log *slog.Logger,
) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		rideRepo:  rideRepo,
		directory: directory,
		lockStore: lockStore,
		bus:       bus,
		pricing:   pricing,
		notifier:  notifier,
		cfg:       cfg,
		log:       log.With("component", "dispatcher"),
		owner:     uuid.New().String(),
		active:    make(map[string]struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the loop for rideID in the background. It returns false if
// this instance already runs a loop for the ride or is shutting down.
func (d *Dispatcher) Start(rideID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx.Err() != nil {
		return false
	}
	if _, ok := d.active[rideID]; ok {
		return false
	}
	d.active[rideID] = struct{}{}
	d.wg.Add(1)
	metrics.ActiveDispatches.Inc()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.log.Error("dispatch_panic", "ride_id", rideID, "panic", r)
			}
			d.mu.Lock()
			delete(d.active, rideID)
			d.mu.Unlock()
			metrics.ActiveDispatches.Dec()
			d.wg.Done()
		}()

		result, err := d.Dispatch(d.ctx, rideID)
		if err != nil {
			d.log.Error("dispatch_failed", "ride_id", rideID, "error", err)
			return
		}
		d.log.Info("dispatch_finished",
			"ride_id", rideID,
			"outcome", result.Outcome,
			"driver_id", result.DriverID,
			"offers", result.Offers,
		)
	}()
	return true
}

// Active reports whether a loop for rideID is running on this instance.
func (d *Dispatcher) Active(rideID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.active[rideID]
	return ok
}

// resumePageSize bounds each listing Resume makes.
const resumePageSize = 500

// Resume restarts loops for every pending ride, e.g. after a restart. A ride
// whose offer is still in flight first waits out the remaining window.
func (d *Dispatcher) Resume(ctx context.Context) (int, error) {
	q := repository.RideQuery{
		Statuses: []domain.RideStatus{domain.RideStatusPending},
		Limit:    resumePageSize,
	}
	started := 0
	for {
		rides, err := d.rideRepo.List(ctx, q)
		if err != nil {
			return started, fmt.Errorf("list pending rides: %w", err)
		}
		for _, ride := range rides {
			if d.Start(ride.ID) {
				started++
			}
		}
		if len(rides) < resumePageSize {
			break
		}
		q.After = repository.CursorOf(rides[len(rides)-1])
	}
	d.log.Info("dispatch_resumed", "rides", started)
	return started, nil
}

// Shutdown stops all loops and waits for them to exit or ctx to end.
// Interrupted rides stay pending and are picked up by Resume.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.cancel()
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatch runs the offer loop for rideID to an outcome and returns it.
func (d *Dispatcher) Dispatch(ctx context.Context, rideID string) (DispatchResult, error) {
	start := time.Now()
	result := DispatchResult{RideID: rideID}

	if d.lockStore != nil {
		ok, err := d.lockStore.AcquireRideLock(ctx, rideID, d.owner, d.cfg.LockTTL)
		if err != nil {
			return result, fmt.Errorf("acquire ride lock: %w", err)
		}
		if !ok {
			return result, ErrDispatchInProgress
		}
		defer func() {
			if err := d.lockStore.ReleaseRideLock(context.Background(), rideID, d.owner); err != nil {
				d.log.Warn("ride_lock_release_failed", "ride_id", rideID, "error", err)
			}
		}()
	}

	ride, err := d.rideRepo.GetByID(ctx, rideID)
	if err != nil {
		return result, err
	}
	if ride.Status != domain.RideStatusPending {
		return d.finish(result, ride, start), nil
	}

	// Subscribe before the first offer so no change is missed.
	var sub *events.Subscription
	if d.bus != nil {
		sub, err = d.bus.Subscribe(ctx, events.Filter{RideID: rideID})
		if err != nil {
			d.log.Warn("dispatch_subscribe_failed", "ride_id", rideID, "error", err)
			sub = nil
		} else {
			defer sub.Close()
		}
	}

	offered := make(map[string]bool)
	clearTarget := false

	// An offer left in flight by a previous process keeps its window.
	if ride.HasOffer() {
		clearTarget = true
		offered[ride.TargetDriverID] = true
		if time.Now().Before(ride.OfferExpiresAt) {
			d.log.Info("offer_resumed", "ride_id", rideID, "driver_id", ride.TargetDriverID, "expires_at", ride.OfferExpiresAt)
			if d.awaitOffer(ctx, sub, ride.TargetDriverID, ride.UpdatedAt, ride.OfferExpiresAt) == waitAborted {
				result.Outcome = OutcomeAborted
				return result, nil
			}
		}
	}

	candidates, err := d.rankedCandidates(ctx, ride)
	if err != nil {
		// Without a directory there is nobody to offer to; the passenger sees
		// the no-drivers outcome and can retry.
		metrics.DispatchErrors.Inc()
		d.log.Error("dispatch_directory_failed", "ride_id", rideID, "error", err)
	}

	for i, cand := range candidates {
		if offered[cand.DriverID] {
			continue
		}
		attempt := i + 1
		log := d.log.With("ride_id", rideID, "driver_id", cand.DriverID, "attempt", attempt)

		if ctx.Err() != nil {
			result.Outcome = OutcomeAborted
			return result, nil
		}

		current, err := d.rideRepo.GetByID(ctx, rideID)
		if err != nil {
			metrics.DispatchErrors.Inc()
			log.Warn("dispatch_read_failed", "error", err)
			continue
		}
		if current.Status != domain.RideStatusPending {
			return d.finish(result, current, start), nil
		}

		if d.lockStore != nil {
			held, err := d.lockStore.RefreshRideLock(ctx, rideID, d.owner, d.cfg.LockTTL)
			if err != nil {
				log.Warn("ride_lock_refresh_failed", "error", err)
			} else if !held {
				log.Warn("ride_lock_lost")
				result.Outcome = OutcomeAborted
				return result, nil
			}
		}

		offer, stop, err := d.offer(ctx, log, current, cand)
		if err != nil {
			metrics.DispatchErrors.Inc()
			log.Warn("offer_write_failed", "error", err)
			continue
		}
		if stop != nil {
			return d.finish(result, stop, start), nil
		}
		if offer == nil {
			continue
		}
		offered[cand.DriverID] = true
		clearTarget = true
		result.Offers++

		outcome := d.awaitOffer(ctx, sub, cand.DriverID, offer.UpdatedAt, offer.OfferExpiresAt)
		d.releaseDriver(cand.DriverID)
		if outcome == waitAborted {
			result.Outcome = OutcomeAborted
			return result, nil
		}

		after, err := d.rideRepo.GetByID(ctx, rideID)
		if err != nil {
			metrics.DispatchErrors.Inc()
			log.Warn("dispatch_read_failed", "error", err)
			continue
		}
		if after.Status != domain.RideStatusPending {
			return d.finish(result, after, start), nil
		}
		if outcome == waitExpired {
			metrics.OfferResults.WithLabelValues("timeout").Inc()
			log.Info("offer_timeout")
		} else {
			log.Info("offer_passed")
		}
	}

	return d.giveUp(ctx, result, clearTarget, start)
}

// rankedCandidates returns eligible drivers of the ride's class within the
// search radius, nearest first.
func (d *Dispatcher) rankedCandidates(ctx context.Context, ride *domain.Ride) ([]Candidate, error) {
	found, err := d.directory.Eligible(ctx, ride.Pickup.Coordinate, d.cfg.SearchRadiusKm)
	if err != nil {
		return nil, err
	}

	type ranked struct {
		Candidate
		km float64
	}
	in := make([]ranked, 0, len(found))
	for _, c := range found {
		if c.Synthetic || (c.VehicleClass != "" && c.VehicleClass != ride.VehicleClass) {
			continue
		}
		km := geo.DistanceKm(c.Position, ride.Pickup.Coordinate)
		// NaN fails this comparison too.
		if !(km <= d.cfg.SearchRadiusKm) {
			continue
		}
		in = append(in, ranked{Candidate: c, km: km})
	}

	sort.SliceStable(in, func(i, j int) bool {
		if in[i].km != in[j].km {
			return in[i].km < in[j].km
		}
		return in[i].DriverID < in[j].DriverID
	})

	out := make([]Candidate, len(in))
	for i, r := range in {
		out[i] = r.Candidate
	}
	return out, nil
}

// offer reserves the driver and writes the target. It returns the updated
// ride, or stop when the ride is no longer pending, or neither when the
// candidate was skipped because another ride holds them.
func (d *Dispatcher) offer(ctx context.Context, log *slog.Logger, ride *domain.Ride, cand Candidate) (offer, stop *domain.Ride, err error) {
	if d.lockStore != nil {
		ok, err := d.lockStore.AcquireDriverLock(ctx, cand.DriverID, d.owner, d.cfg.OfferTimeout)
		if err != nil {
			return nil, nil, fmt.Errorf("acquire driver lock: %w", err)
		}
		if !ok {
			log.Info("driver_busy_with_other_offer")
			return nil, nil, nil
		}
	}

	expires := time.Now().Add(d.cfg.OfferTimeout)
	target := cand.DriverID
	updated, err := d.rideRepo.Update(ctx, ride.ID,
		repository.RidePatch{TargetDriverID: &target, OfferExpiresAt: &expires},
		repository.RideCondition{Statuses: []domain.RideStatus{domain.RideStatusPending}},
	)
	if err != nil {
		d.releaseDriver(cand.DriverID)
		if errors.Is(err, repository.ErrNoMatch) {
			current, readErr := d.rideRepo.GetByID(ctx, ride.ID)
			if readErr != nil {
				return nil, nil, readErr
			}
			return nil, current, nil
		}
		return nil, nil, err
	}

	metrics.OffersSent.Inc()
	log.Info("offer_sent", "expires_at", expires)

	if d.pricing != nil {
		if policy, err := d.pricing.Current(ctx); err == nil {
			_ = d.notifier.NotifyRideOffered(ctx, updated, buildOffer(updated, cand.DriverID, cand.Position, policy))
		}
	}
	return updated, nil, nil
}

type waitResult int

const (
	waitExpired waitResult = iota
	waitChanged
	waitAborted
)

// awaitOffer blocks until the offer to driverID expires, the ride changes in
// a way that ends the offer, or ctx ends. Events older than since belong to
// earlier offers and are ignored.
func (d *Dispatcher) awaitOffer(ctx context.Context, sub *events.Subscription, driverID string, since, expires time.Time) waitResult {
	timer := time.NewTimer(time.Until(expires))
	defer timer.Stop()

	var changes <-chan events.Event
	if sub != nil {
		changes = sub.C
	}

	for {
		select {
		case <-ctx.Done():
			return waitAborted
		case <-timer.C:
			return waitExpired
		case e, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			if e.Ride == nil || e.Ride.UpdatedAt.Before(since) {
				continue
			}
			if e.Ride.Status != domain.RideStatusPending || e.Ride.TargetDriverID != driverID {
				return waitChanged
			}
		}
	}
}

// giveUp records the no-drivers outcome unless the ride already left pending.
// The target is only written when an offer was ever made.
func (d *Dispatcher) giveUp(ctx context.Context, result DispatchResult, clearTarget bool, start time.Time) (DispatchResult, error) {
	cancelled := domain.RideStatusCancelled
	reason := domain.CancelReasonNoDrivers
	patch := repository.RidePatch{Status: &cancelled, CancelReason: &reason}
	if clearTarget {
		none := ""
		patch.TargetDriverID = &none
	}

	ride, err := d.rideRepo.Update(ctx, result.RideID, patch,
		repository.RideCondition{Statuses: []domain.RideStatus{domain.RideStatusPending}})
	if errors.Is(err, repository.ErrNoMatch) {
		current, readErr := d.rideRepo.GetByID(ctx, result.RideID)
		if readErr != nil {
			return result, readErr
		}
		return d.finish(result, current, start), nil
	}
	if err != nil {
		return result, fmt.Errorf("record no drivers outcome: %w", err)
	}

	metrics.RideOutcomes.WithLabelValues(string(domain.RideStatusCancelled), reason).Inc()
	_ = d.notifier.NotifyNoDrivers(ctx, ride)
	return d.finish(result, ride, start), nil
}

// finish classifies a ride that left pending.
func (d *Dispatcher) finish(result DispatchResult, ride *domain.Ride, start time.Time) DispatchResult {
	switch {
	case ride.Status == domain.RideStatusCancelled && ride.CancelReason == domain.CancelReasonNoDrivers:
		result.Outcome = OutcomeNoDrivers
	case ride.DriverID != "" && ride.Status != domain.RideStatusCancelled:
		result.Outcome = OutcomeAccepted
		result.DriverID = ride.DriverID
	default:
		result.Outcome = OutcomeStopped
	}
	metrics.DispatchDuration.WithLabelValues(string(result.Outcome)).Observe(time.Since(start).Seconds())
	return result
}

func (d *Dispatcher) releaseDriver(driverID string) {
	if d.lockStore == nil {
		return
	}
	if err := d.lockStore.ReleaseDriverLock(context.Background(), driverID, d.owner); err != nil {
		d.log.Warn("driver_lock_release_failed", "driver_id", driverID, "error", err)
	}
}
