package tests

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"mototaxi/internal/domain"
	"mototaxi/internal/events"
	"mototaxi/internal/service"
)

// ──────────────────────────────────────────────
// 1. OFFER SEQUENCE
// ──────────────────────────────────────────────

func TestDispatch_NobodyResponds_OffersNearestFirstThenGivesUp(t *testing.T) {
	t.Parallel()

	timeout := 80 * time.Millisecond
	h := newHarness(t, testDispatchConfig(timeout))
	far := h.addDriver("d2", domain.VehicleClassMoto, near(1.0))
	closest := h.addDriver("d1", domain.VehicleClassMoto, near(0.5))
	h.directory.SetCandidates(far, closest)
	h.addPendingRide("r1")

	rideEvents, err := h.bus.Subscribe(context.Background(), events.Filter{RideID: "r1"})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer rideEvents.Close()

	start := time.Now()
	result, err := h.dispatcher.Dispatch(context.Background(), "r1")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if result.Outcome != service.OutcomeNoDrivers {
		t.Errorf("expected no_drivers outcome, got %s", result.Outcome)
	}
	if result.Offers != 2 {
		t.Errorf("expected 2 offers, got %d", result.Offers)
	}
	if elapsed := time.Since(start); elapsed < 2*timeout {
		t.Errorf("each offer must wait its full window; finished after %s", elapsed)
	}

	want := []string{"d1", "d2", ""}
	if got := h.rides.TargetWrites("r1"); !equalStrings(got, want) {
		t.Errorf("expected target writes %v, got %v", want, got)
	}

	ride := h.rides.GetRide("r1")
	if ride.Status != domain.RideStatusCancelled {
		t.Errorf("expected cancelled ride, got %s", ride.Status)
	}
	if ride.CancelReason != domain.CancelReasonNoDrivers {
		t.Errorf("expected reason %q, got %q", domain.CancelReasonNoDrivers, ride.CancelReason)
	}

	var types []events.Type
	for len(types) < 3 {
		select {
		case e := <-rideEvents.C:
			types = append(types, e.Type)
		case <-time.After(time.Second):
			t.Fatalf("expected 3 ride events, got %v", types)
		}
	}
	if types[0] != events.TypeOfferSent || types[1] != events.TypeOfferSent || types[2] != events.TypeStatusChanged {
		t.Errorf("unexpected event sequence %v", types)
	}

	if h.locks.IsLocked("d1") || h.locks.IsLocked("d2") {
		t.Error("driver locks must be released after their offers")
	}
	if h.locks.IsRideLocked("r1") {
		t.Error("ride lock must be released when dispatch ends")
	}
}

func TestDispatch_NoCandidates_CancelsWithoutWritingTarget(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testDispatchConfig(time.Second))
	h.addPendingRide("r1")

	start := time.Now()
	result, err := h.dispatcher.Dispatch(context.Background(), "r1")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if result.Outcome != service.OutcomeNoDrivers || result.Offers != 0 {
		t.Errorf("expected no_drivers with 0 offers, got %s with %d", result.Outcome, result.Offers)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("an empty candidate list must not wait for a timeout")
	}
	if got := h.rides.TargetWrites("r1"); len(got) != 0 {
		t.Errorf("no target should ever be written, got %v", got)
	}
	if ride := h.rides.GetRide("r1"); ride.Status != domain.RideStatusCancelled {
		t.Errorf("expected cancelled, got %s", ride.Status)
	}
}

func TestDispatch_AcceptEndsLoopBeforeTimeout(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testDispatchConfig(5*time.Second))
	h.directory.SetCandidates(
		h.addDriver("d1", domain.VehicleClassMoto, near(0.3)),
		h.addDriver("d2", domain.VehicleClassMoto, near(0.8)),
	)
	h.addPendingRide("r1")

	done := runDispatch(h, "r1")
	waitFor(t, time.Second, "offer to d1", func() bool { return h.rides.GetRide("r1").TargetDriverID == "d1" })

	if _, err := h.offerSvc.AcceptOffer(context.Background(), "d1", "r1"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	res := awaitDispatch(t, done, 2*time.Second)
	if res.err != nil {
		t.Fatalf("dispatch: %v", res.err)
	}
	if res.result.Outcome != service.OutcomeAccepted || res.result.DriverID != "d1" {
		t.Errorf("expected accepted by d1, got %s by %q", res.result.Outcome, res.result.DriverID)
	}
	if got := h.rides.TargetWrites("r1"); !equalStrings(got, []string{"d1", "d1"}) {
		t.Errorf("d2 must never be offered, target writes %v", got)
	}
	if h.locks.IsLocked("d1") {
		t.Error("driver lock must be released once the offer is settled")
	}
	if d := h.drivers.GetDriver("d1"); !d.OnTrip || d.Eligible() {
		t.Error("accepting driver must be marked busy")
	}
}

func TestDispatch_SkipAdvancesToNextCandidateEarly(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testDispatchConfig(5*time.Second))
	h.directory.SetCandidates(
		h.addDriver("d1", domain.VehicleClassMoto, near(0.3)),
		h.addDriver("d2", domain.VehicleClassMoto, near(0.8)),
	)
	h.addPendingRide("r1")

	done := runDispatch(h, "r1")
	waitFor(t, time.Second, "offer to d1", func() bool { return h.rides.GetRide("r1").TargetDriverID == "d1" })

	if err := h.offerSvc.SkipOffer(context.Background(), "d1", "r1"); err != nil {
		t.Fatalf("skip: %v", err)
	}
	waitFor(t, time.Second, "offer to d2", func() bool { return h.rides.GetRide("r1").TargetDriverID == "d2" })

	if _, err := h.offerSvc.AcceptOffer(context.Background(), "d2", "r1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	res := awaitDispatch(t, done, 2*time.Second)
	if res.result.Outcome != service.OutcomeAccepted || res.result.DriverID != "d2" {
		t.Errorf("expected accepted by d2, got %s by %q", res.result.Outcome, res.result.DriverID)
	}
	if res.result.Offers != 2 {
		t.Errorf("expected 2 offers, got %d", res.result.Offers)
	}
}

// ──────────────────────────────────────────────
// 2. CANCELLATION AND FAILURES
// ──────────────────────────────────────────────

func TestDispatch_PassengerCancelStopsLoop(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testDispatchConfig(5*time.Second))
	h.directory.SetCandidates(
		h.addDriver("d1", domain.VehicleClassMoto, near(0.3)),
		h.addDriver("d2", domain.VehicleClassMoto, near(0.8)),
	)
	h.addPendingRide("r1")

	done := runDispatch(h, "r1")
	waitFor(t, time.Second, "offer to d1", func() bool { return h.rides.GetRide("r1").TargetDriverID == "d1" })

	if _, err := h.rideSvc.CancelRide(context.Background(), service.CancelRideRequest{RideID: "r1", PassengerID: "passenger-1"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	res := awaitDispatch(t, done, 2*time.Second)
	if res.result.Outcome != service.OutcomeStopped {
		t.Errorf("expected stopped outcome, got %s", res.result.Outcome)
	}
	// The cancel clears the target; nobody else is offered the ride.
	if got := h.rides.TargetWrites("r1"); !equalStrings(got, []string{"d1", ""}) {
		t.Errorf("unexpected target writes %v", got)
	}
	ride := h.rides.GetRide("r1")
	if ride.Status != domain.RideStatusCancelled || ride.CancelReason != domain.CancelReasonPassenger {
		t.Errorf("expected passenger cancellation, got %s/%s", ride.Status, ride.CancelReason)
	}
}

func TestDispatch_StoreWriteFailure_MovesToNextCandidate(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testDispatchConfig(60*time.Millisecond))
	h.directory.SetCandidates(
		h.addDriver("d1", domain.VehicleClassMoto, near(0.3)),
		h.addDriver("d2", domain.VehicleClassMoto, near(0.8)),
	)
	h.addPendingRide("r1")
	h.rides.FailUpdates = 1

	result, err := h.dispatcher.Dispatch(context.Background(), "r1")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if result.Offers != 1 {
		t.Errorf("expected the failed write to be skipped, got %d offers", result.Offers)
	}
	if got := h.rides.TargetWrites("r1"); !equalStrings(got, []string{"d2", ""}) {
		t.Errorf("expected target writes [d2 \"\"], got %v", got)
	}
	if result.Outcome != service.OutcomeNoDrivers {
		t.Errorf("expected no_drivers, got %s", result.Outcome)
	}
	if h.locks.IsLocked("d1") {
		t.Error("driver lock must be released when the offer write fails")
	}
}

func TestDispatch_DirectoryFailure_RecordsNoDrivers(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testDispatchConfig(time.Second))
	h.directory.EligibleError = ErrMockTimeout
	h.addPendingRide("r1")

	result, err := h.dispatcher.Dispatch(context.Background(), "r1")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result.Outcome != service.OutcomeNoDrivers {
		t.Errorf("expected no_drivers, got %s", result.Outcome)
	}
}

func TestDispatch_RideLockHeldElsewhere(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testDispatchConfig(time.Second))
	h.addPendingRide("r1")
	h.locks.HoldRide("r1", time.Minute)

	_, err := h.dispatcher.Dispatch(context.Background(), "r1")
	if !errors.Is(err, service.ErrDispatchInProgress) {
		t.Fatalf("expected ErrDispatchInProgress, got %v", err)
	}
	if ride := h.rides.GetRide("r1"); ride.Status != domain.RideStatusPending {
		t.Errorf("ride must stay pending, got %s", ride.Status)
	}
}

func TestDispatch_NonPendingRideIsLeftAlone(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testDispatchConfig(time.Second))
	h.addDriver("d1", domain.VehicleClassMoto, near(0.3))
	h.addAssignedRide("r1", "d1", domain.RideStatusAccepted)

	result, err := h.dispatcher.Dispatch(context.Background(), "r1")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result.Outcome != service.OutcomeAccepted || result.DriverID != "d1" {
		t.Errorf("expected accepted by d1, got %s by %q", result.Outcome, result.DriverID)
	}
	if n := h.rides.UpdateCallCount; n != 0 {
		t.Errorf("expected no writes, got %d", n)
	}
}

// ──────────────────────────────────────────────
// 3. CANDIDATE SELECTION
// ──────────────────────────────────────────────

func TestDispatch_FiltersRadiusClassAndSyntheticDrivers(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testDispatchConfig(time.Second))
	synthetic := h.addDriver("demo", domain.VehicleClassMoto, near(0.1))
	synthetic.Synthetic = true
	h.directory.SetCandidates(
		h.addDriver("far", domain.VehicleClassMoto, near(12)),
		h.addDriver("tuk", domain.VehicleClassTxopela, near(0.2)),
		synthetic,
	)
	h.addPendingRide("r1")

	result, err := h.dispatcher.Dispatch(context.Background(), "r1")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result.Offers != 0 || result.Outcome != service.OutcomeNoDrivers {
		t.Errorf("expected no offers, got %d (%s)", result.Offers, result.Outcome)
	}
	if got := h.rides.TargetWrites("r1"); len(got) != 0 {
		t.Errorf("expected no target writes, got %v", got)
	}
}

func TestDispatch_EqualDistanceOrderedByDriverID(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testDispatchConfig(30*time.Millisecond))
	pos := near(0.5)
	h.directory.SetCandidates(
		h.addDriver("d-b", domain.VehicleClassMoto, pos),
		h.addDriver("d-a", domain.VehicleClassMoto, pos),
	)
	h.addPendingRide("r1")

	if _, err := h.dispatcher.Dispatch(context.Background(), "r1"); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got := h.rides.TargetWrites("r1"); !equalStrings(got, []string{"d-a", "d-b", ""}) {
		t.Errorf("expected ties broken by id, got %v", got)
	}
}

func TestDispatch_DriverHoldingAnotherOfferIsSkipped(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testDispatchConfig(40*time.Millisecond))
	h.directory.SetCandidates(
		h.addDriver("d1", domain.VehicleClassMoto, near(0.3)),
		h.addDriver("d2", domain.VehicleClassMoto, near(0.8)),
	)
	h.addPendingRide("r1")
	h.locks.HoldDriver("d1", time.Minute)

	result, err := h.dispatcher.Dispatch(context.Background(), "r1")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got := h.rides.TargetWrites("r1"); !equalStrings(got, []string{"d2", ""}) {
		t.Errorf("expected only d2 offered, got %v", got)
	}
	if result.Offers != 1 {
		t.Errorf("expected 1 offer, got %d", result.Offers)
	}
}

// ──────────────────────────────────────────────
// 4. SUPERVISION
// ──────────────────────────────────────────────

func TestDispatcher_ResumeWaitsOutInFlightOffer(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testDispatchConfig(time.Second))
	h.directory.SetCandidates(h.addDriver("d1", domain.VehicleClassMoto, near(0.3)))

	ride := h.addPendingRide("r1")
	ride.TargetDriverID = "d1"
	ride.OfferExpiresAt = time.Now().Add(150 * time.Millisecond)
	h.rides.AddRide(ride)

	start := time.Now()
	n, err := h.dispatcher.Resume(context.Background())
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 resumed ride, got %d", n)
	}

	waitFor(t, 2*time.Second, "no-drivers outcome", func() bool {
		return h.rides.GetRide("r1").Status == domain.RideStatusCancelled
	})
	if time.Since(start) < 100*time.Millisecond {
		t.Error("the remaining offer window must be honoured")
	}
	// d1 already had its chance; only the final clear is written.
	if got := h.rides.TargetWrites("r1"); !equalStrings(got, []string{""}) {
		t.Errorf("expected only the final clear, got %v", got)
	}
}

func TestDispatcher_ResumePagesThroughEveryPendingRide(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testDispatchConfig(time.Second))
	// More than two listing pages; many share a created_at timestamp.
	const total = 1100
	for i := 0; i < total; i++ {
		h.addPendingRide(fmt.Sprintf("r%04d", i))
	}
	h.addAssignedRide("busy", "d9", domain.RideStatusAccepted)

	n, err := h.dispatcher.Resume(context.Background())
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if n != total {
		t.Fatalf("expected %d resumed rides, got %d", total, n)
	}

	waitFor(t, 5*time.Second, "every ride to reach an outcome", func() bool {
		for i := 0; i < total; i++ {
			if h.rides.GetRide(fmt.Sprintf("r%04d", i)).Status != domain.RideStatusCancelled {
				return false
			}
		}
		return true
	})
	if got := h.rides.GetRide("busy").Status; got != domain.RideStatusAccepted {
		t.Errorf("non-pending ride must be left alone, got %s", got)
	}
}

func TestDispatcher_StartIsExclusivePerRide(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testDispatchConfig(5*time.Second))
	h.directory.SetCandidates(h.addDriver("d1", domain.VehicleClassMoto, near(0.3)))
	h.addPendingRide("r1")

	if !h.dispatcher.Start("r1") {
		t.Fatal("first start must succeed")
	}
	if h.dispatcher.Start("r1") {
		t.Error("second start for the same ride must be refused")
	}
	if !h.dispatcher.Active("r1") {
		t.Error("expected an active loop")
	}
}

func TestDispatcher_ShutdownLeavesRidePending(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testDispatchConfig(5*time.Second))
	h.directory.SetCandidates(h.addDriver("d1", domain.VehicleClassMoto, near(0.3)))
	h.addPendingRide("r1")

	h.dispatcher.Start("r1")
	waitFor(t, time.Second, "offer to d1", func() bool { return h.rides.GetRide("r1").TargetDriverID == "d1" })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.dispatcher.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if h.dispatcher.Active("r1") {
		t.Error("loop must be gone after shutdown")
	}
	ride := h.rides.GetRide("r1")
	if ride.Status != domain.RideStatusPending || ride.TargetDriverID != "d1" {
		t.Errorf("ride must stay pending with its offer for Resume, got %s target %q", ride.Status, ride.TargetDriverID)
	}
	if h.dispatcher.Start("r2") {
		t.Error("start after shutdown must be refused")
	}
}

// ──────────────────────────────────────────────
// HELPERS
// ──────────────────────────────────────────────

type dispatchOutput struct {
	result service.DispatchResult
	err    error
}

func runDispatch(h *harness, rideID string) <-chan dispatchOutput {
	done := make(chan dispatchOutput, 1)
	go func() {
		result, err := h.dispatcher.Dispatch(context.Background(), rideID)
		done <- dispatchOutput{result: result, err: err}
	}()
	return done
}

func awaitDispatch(t *testing.T, done <-chan dispatchOutput, timeout time.Duration) dispatchOutput {
	t.Helper()
	select {
	case out := <-done:
		return out
	case <-time.After(timeout):
		t.Fatal("dispatch did not finish in time")
		return dispatchOutput{}
	}
}
