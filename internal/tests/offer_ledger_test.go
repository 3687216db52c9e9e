package tests

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"dispatch/internal/domain"
	"dispatch/internal/repository"
)

// ──────────────────────────────────────────────
// 2. OFFER LEDGER INVARIANTS
// ──────────────────────────────────────────────

func TestOfferLedger_OnePendingPerTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ledger := NewMockOfferLedger()
	deadline := time.Now().Add(time.Minute)

	if _, err := ledger.TryClaim(ctx, "trip-1", "driver-1", deadline); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A second claim for the same trip is rejected while the first is
	// still pending, regardless of driver.
	if _, err := ledger.TryClaim(ctx, "trip-1", "driver-2", deadline); !errors.Is(err, repository.ErrTripOfferActive) {
		t.Fatalf("expected ErrTripOfferActive, got %v", err)
	}
}

func TestOfferLedger_OnePendingPerDriver(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ledger := NewMockOfferLedger()
	deadline := time.Now().Add(time.Minute)

	if _, err := ledger.TryClaim(ctx, "trip-1", "driver-1", deadline); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The same driver cannot hold offers from two trips at once.
	if _, err := ledger.TryClaim(ctx, "trip-2", "driver-1", deadline); !errors.Is(err, repository.ErrDriverClaimed) {
		t.Fatalf("expected ErrDriverClaimed, got %v", err)
	}

	// Once the first offer resolves, the driver is claimable again.
	if err := ledger.Resolve(ctx, "trip-1", 1, domain.OfferOutcomeDeclined); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ledger.TryClaim(ctx, "trip-2", "driver-1", deadline); err != nil {
		t.Fatalf("expected claim after release, got %v", err)
	}
}

func TestOfferLedger_VersionsIncreasePerTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ledger := NewMockOfferLedger()
	deadline := time.Now().Add(time.Minute)

	for i := 1; i <= 3; i++ {
		offer, err := ledger.TryClaim(ctx, "trip-1", fmt.Sprintf("driver-%d", i), deadline)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if offer.Version != int64(i) {
			t.Fatalf("expected version %d, got %d", i, offer.Version)
		}
		if err := ledger.Resolve(ctx, "trip-1", offer.Version, domain.OfferOutcomeDeclined); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
}

func TestOfferLedger_ResolveIsSingleShot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ledger := NewMockOfferLedger()

	offer, err := ledger.TryClaim(ctx, "trip-1", "driver-1", time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := ledger.Resolve(ctx, "trip-1", offer.Version, domain.OfferOutcomeAccepted); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The second resolution, whatever the outcome, loses.
	if err := ledger.Resolve(ctx, "trip-1", offer.Version, domain.OfferOutcomeExpired); !errors.Is(err, repository.ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}

	history, err := ledger.History(ctx, "trip-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if history[0].Outcome != domain.OfferOutcomeAccepted {
		t.Errorf("first resolution overwritten: %s", history[0].Outcome)
	}
}

func TestOfferLedger_ResolveUnknownVersion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ledger := NewMockOfferLedger()

	if err := ledger.Resolve(ctx, "trip-1", 1, domain.OfferOutcomeAccepted); !errors.Is(err, repository.ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
}

func TestOfferLedger_ConcurrentClaims_OneDriverOneWinner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ledger := NewMockOfferLedger()
	deadline := time.Now().Add(time.Minute)

	const trips = 50

	var wg sync.WaitGroup
	results := make(chan error, trips)

	// Many trips race for the same driver at once.
	for i := 0; i < trips; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := ledger.TryClaim(ctx, fmt.Sprintf("trip-%d", i), "driver-hot", deadline)
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	wins, losses := 0, 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, repository.ErrDriverClaimed):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if wins != 1 {
		t.Errorf("expected exactly 1 winning claim, got %d", wins)
	}
	if losses != trips-1 {
		t.Errorf("expected %d losing claims, got %d", trips-1, losses)
	}
	if got, err := ledger.ActiveOfferForDriver(ctx, "driver-hot"); err != nil {
		t.Errorf("expected one active offer for driver-hot: %v", err)
	} else if !got.Pending() {
		t.Errorf("winning offer not pending: %+v", got)
	}
}

func TestOfferLedger_ConcurrentClaims_OneTripOneWinner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ledger := NewMockOfferLedger()
	deadline := time.Now().Add(time.Minute)

	const drivers = 50

	var wg sync.WaitGroup
	results := make(chan error, drivers)

	for i := 0; i < drivers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := ledger.TryClaim(ctx, "trip-hot", fmt.Sprintf("driver-%d", i), deadline)
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, repository.ErrTripOfferActive):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if wins != 1 {
		t.Errorf("expected exactly 1 winning claim, got %d", wins)
	}
	if ledger.PendingCount() != 1 {
		t.Errorf("expected 1 pending offer, got %d", ledger.PendingCount())
	}
}

func TestOfferLedger_ExpiredPending_FiltersByDeadline(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ledger := NewMockOfferLedger()
	now := time.Now()

	if _, err := ledger.TryClaim(ctx, "trip-old", "driver-1", now.Add(-time.Second)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ledger.TryClaim(ctx, "trip-new", "driver-2", now.Add(time.Minute)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expired, err := ledger.ExpiredPending(ctx, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(expired) != 1 {
		t.Fatalf("expected 1 expired offer, got %d", len(expired))
	}
	if expired[0].TripID != "trip-old" {
		t.Errorf("expected trip-old, got %s", expired[0].TripID)
	}
}
