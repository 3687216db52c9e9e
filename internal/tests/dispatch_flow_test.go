package tests

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"dispatch/internal/config"
	"dispatch/internal/domain"
	"dispatch/internal/redis"
	"dispatch/internal/service"
)

// ──────────────────────────────────────────────
// 1. DISPATCH FLOW END TO END
// ──────────────────────────────────────────────

type dispatchFixture struct {
	tripRepo    *MockTripRepository
	driverRepo  *MockDriverRepository
	ledger      *MockOfferLedger
	locations   *MockLocationStore
	notifier    *MockNotifier
	coordinator *service.Coordinator
}

func newDispatchFixture(t *testing.T, cfg config.DispatchConfig) *dispatchFixture {
	t.Helper()

	tripRepo := NewMockTripRepository()
	driverRepo := NewMockDriverRepository()
	ledger := NewMockOfferLedger()
	locations := NewMockLocationStore()
	notifier := NewMockNotifier()

	matcher := service.NewMatcher(locations, driverRepo, cfg.SearchRadiusKm)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	coordinator := service.NewCoordinator(tripRepo, driverRepo, ledger, matcher, notifier, notifier, cfg, logger)

	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = coordinator.Shutdown(shutdownCtx)
	})

	return &dispatchFixture{
		tripRepo:    tripRepo,
		driverRepo:  driverRepo,
		ledger:      ledger,
		locations:   locations,
		notifier:    notifier,
		coordinator: coordinator,
	}
}

func testDispatchConfig() config.DispatchConfig {
	return config.DispatchConfig{
		OfferTimeout:      200 * time.Millisecond,
		GlobalTimeout:     5 * time.Second,
		SearchRadiusKm:    5.0,
		FreshnessWindow:   5 * time.Minute,
		SweepInterval:     20 * time.Millisecond,
		ClaimRetryBackoff: 10 * time.Millisecond,
		ClaimRetryMax:     2,
	}
}

func (f *dispatchFixture) addOnlineDriver(id string, distanceKm float64, classes ...domain.VehicleClass) {
	if len(classes) == 0 {
		classes = []domain.VehicleClass{domain.VehicleClassBike}
	}
	f.driverRepo.AddDriver(&domain.Driver{
		ID:           id,
		Name:         "Driver " + id,
		Status:       domain.DriverStatusOnline,
		Approved:     true,
		Capabilities: classes,
	})
	f.locations.SetLocations(append(f.snapshotLocations(), redis.DriverLocation{
		DriverID:   id,
		DistanceKm: distanceKm,
		LocatedAt:  time.Now(),
	}))
}

func (f *dispatchFixture) snapshotLocations() []redis.DriverLocation {
	ctx := context.Background()
	locs, _ := f.locations.FindNearbyDrivers(ctx, 0, 0, 0)
	return locs
}

func (f *dispatchFixture) newTrip(id string) *domain.TripRequest {
	trip := &domain.TripRequest{
		ID:            id,
		CustomerID:    "customer-1",
		PickupLat:     12.9716,
		PickupLng:     77.5946,
		DeliveryLat:   12.9352,
		DeliveryLng:   77.6245,
		RequiredClass: domain.VehicleClassBike,
		State:         domain.TripStateCreated,
		CreatedAt:     time.Now(),
	}
	f.tripRepo.AddTrip(trip)
	return trip
}

// waitForOffer polls until the trip has an active offer.
func waitForOffer(t *testing.T, ledger *MockOfferLedger, tripID string) *domain.Offer {
	t.Helper()

	ctx := context.Background()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if offer, err := ledger.ActiveOffer(ctx, tripID); err == nil {
			return offer
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no active offer for trip %s within deadline", tripID)
	return nil
}

// waitForNextOffer polls until the trip has an active offer newer than
// the given version.
func waitForNextOffer(t *testing.T, ledger *MockOfferLedger, tripID string, after int64) *domain.Offer {
	t.Helper()

	ctx := context.Background()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if offer, err := ledger.ActiveOffer(ctx, tripID); err == nil && offer.Version > after {
			return offer
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no offer after version %d for trip %s within deadline", after, tripID)
	return nil
}

// waitForState polls until the trip reaches the wanted state.
func waitForState(t *testing.T, tripRepo *MockTripRepository, tripID string, want domain.TripState) *domain.TripRequest {
	t.Helper()

	ctx := context.Background()
	deadline := time.Now().Add(2 * time.Second)
	var last domain.TripState
	for time.Now().Before(deadline) {
		trip, err := tripRepo.GetByID(ctx, tripID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if trip.State == want {
			return trip
		}
		last = trip.State
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("trip %s never reached %s, last state %s", tripID, want, last)
	return nil
}

func TestDispatch_NearestDeclines_NextAccepts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newDispatchFixture(t, testDispatchConfig())
	f.addOnlineDriver("driver-near", 1.0)
	f.addOnlineDriver("driver-far", 4.0)

	trip := f.newTrip("trip-1")
	if err := f.coordinator.StartDispatch(trip); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Nearest driver gets the first offer.
	first := waitForOffer(t, f.ledger, trip.ID)
	if first.DriverID != "driver-near" {
		t.Fatalf("expected first offer for driver-near, got %s", first.DriverID)
	}
	if first.Version != 1 {
		t.Fatalf("expected version 1, got %d", first.Version)
	}

	if err := f.coordinator.DeclineOffer(ctx, trip.ID, first.DriverID, first.Version); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Session advances to the next candidate.
	second := waitForNextOffer(t, f.ledger, trip.ID, first.Version)
	if second.DriverID != "driver-far" {
		t.Fatalf("expected second offer for driver-far, got %s", second.DriverID)
	}

	assigned, err := f.coordinator.AcceptOffer(ctx, trip.ID, second.DriverID, second.Version)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if assigned.State != domain.TripStateAssigned {
		t.Errorf("expected state ASSIGNED, got %s", assigned.State)
	}
	if assigned.AssignedDriverID != "driver-far" {
		t.Errorf("expected assignee driver-far, got %s", assigned.AssignedDriverID)
	}

	waitForState(t, f.tripRepo, trip.ID, domain.TripStateAssigned)

	// Accepting driver went ON_JOB.
	driver, err := f.driverRepo.GetByID(ctx, "driver-far")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if driver.Status != domain.DriverStatusOnJob {
		t.Errorf("expected driver-far ON_JOB, got %s", driver.Status)
	}

	// History records both offers with their outcomes.
	history, err := f.ledger.History(ctx, trip.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 offers in history, got %d", len(history))
	}
	if history[0].Outcome != domain.OfferOutcomeDeclined {
		t.Errorf("expected first offer DECLINED, got %s", history[0].Outcome)
	}
	if history[1].Outcome != domain.OfferOutcomeAccepted {
		t.Errorf("expected second offer ACCEPTED, got %s", history[1].Outcome)
	}
}

func TestDispatch_NoEligibleDrivers_TerminatesWithoutOffers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newDispatchFixture(t, testDispatchConfig())

	trip := f.newTrip("trip-empty")
	if err := f.coordinator.StartDispatch(trip); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitForState(t, f.tripRepo, trip.ID, domain.TripStateNoDrivers)

	history, err := f.ledger.History(ctx, trip.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("expected no offers, got %d", len(history))
	}
	if f.notifier.OfferCount() != 0 {
		t.Errorf("expected no driver notifications, got %d", f.notifier.OfferCount())
	}
}

func TestDispatch_IneligibleDriversFilteredOut(t *testing.T) {
	t.Parallel()

	f := newDispatchFixture(t, testDispatchConfig())

	// Nearby but unusable: wrong class, offline, unapproved.
	f.addOnlineDriver("driver-car-only", 0.5, domain.VehicleClassCar)
	f.driverRepo.AddDriver(&domain.Driver{
		ID:           "driver-offline",
		Status:       domain.DriverStatusOffline,
		Approved:     true,
		Capabilities: []domain.VehicleClass{domain.VehicleClassBike},
	})
	f.driverRepo.AddDriver(&domain.Driver{
		ID:           "driver-unapproved",
		Status:       domain.DriverStatusOnline,
		Approved:     false,
		Capabilities: []domain.VehicleClass{domain.VehicleClassBike},
	})
	f.locations.SetLocations(append(f.snapshotLocations(),
		redis.DriverLocation{DriverID: "driver-offline", DistanceKm: 1.0, LocatedAt: time.Now()},
		redis.DriverLocation{DriverID: "driver-unapproved", DistanceKm: 1.5, LocatedAt: time.Now()},
	))

	trip := f.newTrip("trip-filtered")
	if err := f.coordinator.StartDispatch(trip); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitForState(t, f.tripRepo, trip.ID, domain.TripStateNoDrivers)
}

func TestDispatch_OfferExpires_AdvancesToNextCandidate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := testDispatchConfig()
	cfg.OfferTimeout = 60 * time.Millisecond
	f := newDispatchFixture(t, cfg)
	f.addOnlineDriver("driver-a", 1.0)
	f.addOnlineDriver("driver-b", 2.0)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sweeper := service.NewExpirySweeper(f.ledger, f.coordinator, cfg.SweepInterval, logger)
	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go sweeper.Run(sweepCtx)

	trip := f.newTrip("trip-timeout")
	if err := f.coordinator.StartDispatch(trip); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first := waitForOffer(t, f.ledger, trip.ID)
	if first.DriverID != "driver-a" {
		t.Fatalf("expected first offer for driver-a, got %s", first.DriverID)
	}

	// No response from driver-a; the sweeper times the offer out and the
	// session moves on.
	second := waitForNextOffer(t, f.ledger, trip.ID, first.Version)
	if second.DriverID != "driver-b" {
		t.Fatalf("expected second offer for driver-b, got %s", second.DriverID)
	}

	if _, err := f.coordinator.AcceptOffer(ctx, trip.ID, second.DriverID, second.Version); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitForState(t, f.tripRepo, trip.ID, domain.TripStateAssigned)

	history, err := f.ledger.History(ctx, trip.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if history[0].Outcome != domain.OfferOutcomeExpired {
		t.Errorf("expected first offer EXPIRED, got %s", history[0].Outcome)
	}
}

func TestDispatch_StaleAcceptAfterExpiry_Rejected(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := testDispatchConfig()
	f := newDispatchFixture(t, cfg)
	f.addOnlineDriver("driver-slow", 1.0)
	f.addOnlineDriver("driver-next", 2.0)

	trip := f.newTrip("trip-stale")
	if err := f.coordinator.StartDispatch(trip); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first := waitForOffer(t, f.ledger, trip.ID)

	// Expire the first offer by hand, the way the sweeper would.
	f.coordinator.HandleExpiry(ctx, first)

	second := waitForNextOffer(t, f.ledger, trip.ID, first.Version)

	// The slow driver's accept carries the old version and must bounce
	// without disturbing the live offer.
	_, err := f.coordinator.AcceptOffer(ctx, trip.ID, first.DriverID, first.Version)
	if err != service.ErrStaleOffer && err != service.ErrOfferNotForDriver {
		t.Fatalf("expected stale rejection, got %v", err)
	}

	active, err := f.ledger.ActiveOffer(ctx, trip.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if active.Version != second.Version || active.DriverID != second.DriverID {
		t.Errorf("live offer disturbed by stale accept: %+v", active)
	}

	// The live offer still works.
	if _, err := f.coordinator.AcceptOffer(ctx, trip.ID, second.DriverID, second.Version); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitForState(t, f.tripRepo, trip.ID, domain.TripStateAssigned)
}

func TestDispatch_TwoTripsOneDriver_SingleWinner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newDispatchFixture(t, testDispatchConfig())
	f.addOnlineDriver("driver-contested", 1.0)
	f.addOnlineDriver("driver-spare", 3.0)

	tripA := f.newTrip("trip-a")
	tripB := f.newTrip("trip-b")
	if err := f.coordinator.StartDispatch(tripA); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.coordinator.StartDispatch(tripB); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	offerA := waitForOffer(t, f.ledger, tripA.ID)
	offerB := waitForOffer(t, f.ledger, tripB.ID)

	// Both sessions rank driver-contested first; claim atomicity means
	// exactly one of them holds it, the other fell through to the spare.
	if offerA.DriverID == offerB.DriverID {
		t.Fatalf("both trips hold offers for %s", offerA.DriverID)
	}

	if _, err := f.coordinator.AcceptOffer(ctx, tripA.ID, offerA.DriverID, offerA.Version); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.coordinator.AcceptOffer(ctx, tripB.ID, offerB.DriverID, offerB.Version); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a := waitForState(t, f.tripRepo, tripA.ID, domain.TripStateAssigned)
	b := waitForState(t, f.tripRepo, tripB.ID, domain.TripStateAssigned)
	if a.AssignedDriverID == b.AssignedDriverID {
		t.Errorf("both trips assigned to %s", a.AssignedDriverID)
	}
}

func TestDispatch_GlobalTimeout_ExpiresTrip(t *testing.T) {
	t.Parallel()

	cfg := testDispatchConfig()
	cfg.OfferTimeout = 5 * time.Second
	cfg.GlobalTimeout = 100 * time.Millisecond
	f := newDispatchFixture(t, cfg)
	f.addOnlineDriver("driver-silent", 1.0)

	trip := f.newTrip("trip-global")
	if err := f.coordinator.StartDispatch(trip); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitForOffer(t, f.ledger, trip.ID)

	// The per-offer deadline is far out; the global cap fires first.
	waitForState(t, f.tripRepo, trip.ID, domain.TripStateExpired)

	if f.ledger.PendingCount() != 0 {
		t.Errorf("expected no pending offers after global timeout, got %d", f.ledger.PendingCount())
	}
}

func TestDispatch_DuplicateStart_Rejected(t *testing.T) {
	t.Parallel()

	f := newDispatchFixture(t, testDispatchConfig())
	f.addOnlineDriver("driver-1", 1.0)

	trip := f.newTrip("trip-dup")
	if err := f.coordinator.StartDispatch(trip); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.coordinator.StartDispatch(trip); err != service.ErrDispatchAlreadyRunning {
		t.Fatalf("expected ErrDispatchAlreadyRunning, got %v", err)
	}
}

func TestDispatch_ResponseValidation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newDispatchFixture(t, testDispatchConfig())
	f.addOnlineDriver("driver-right", 1.0)

	trip := f.newTrip("trip-validate")
	if err := f.coordinator.StartDispatch(trip); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	offer := waitForOffer(t, f.ledger, trip.ID)

	testCases := []struct {
		name     string
		tripID   string
		driverID string
		version  int64
		wantErr  error
	}{
		{
			name:     "wrong driver",
			tripID:   trip.ID,
			driverID: "driver-wrong",
			version:  offer.Version,
			wantErr:  service.ErrOfferNotForDriver,
		},
		{
			name:     "wrong version",
			tripID:   trip.ID,
			driverID: offer.DriverID,
			version:  offer.Version + 7,
			wantErr:  service.ErrStaleOffer,
		},
		{
			name:     "unknown trip",
			tripID:   "trip-nowhere",
			driverID: offer.DriverID,
			version:  offer.Version,
			wantErr:  service.ErrNoActiveOffer,
		},
		{
			name:     "empty driver",
			tripID:   trip.ID,
			driverID: "",
			version:  offer.Version,
			wantErr:  service.ErrInvalidDriverID,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.coordinator.AcceptOffer(ctx, tc.tripID, tc.driverID, tc.version); err != tc.wantErr {
				t.Errorf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}

	// The offer survived all the bad responses.
	active, err := f.ledger.ActiveOffer(ctx, trip.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if active.Version != offer.Version {
		t.Errorf("offer changed under invalid responses: %+v", active)
	}
}
