package tests

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"dispatch/internal/domain"
	"dispatch/internal/redis"
	"dispatch/internal/repository"
)

// ──────────────────────────────────────────────
// MOCK TRIP REPOSITORY
// ──────────────────────────────────────────────

// MockTripRepository is a mock implementation of repository.TripRepository.
type MockTripRepository struct {
	mu    sync.RWMutex
	trips map[string]*domain.TripRequest

	// Counters for verification
	CreateCallCount      int32
	UpdateStateCallCount int32

	// Error injection
	CreateError      error
	UpdateStateError error
}

// NewMockTripRepository creates a new mock trip repository.
func NewMockTripRepository() *MockTripRepository {
	return &MockTripRepository{
		trips: make(map[string]*domain.TripRequest),
	}
}

// AddTrip adds a trip to the mock repository.
func (m *MockTripRepository) AddTrip(trip *domain.TripRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trips[trip.ID] = trip
}

func (m *MockTripRepository) Create(ctx context.Context, trip *domain.TripRequest) error {
	atomic.AddInt32(&m.CreateCallCount, 1)
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trips[trip.ID] = trip
	return nil
}

func (m *MockTripRepository) GetByID(ctx context.Context, id string) (*domain.TripRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	trip, ok := m.trips[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	// Return a copy to avoid mutation issues.
	copy := *trip
	return &copy, nil
}

func (m *MockTripRepository) GetAll(ctx context.Context) ([]*domain.TripRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	trips := make([]*domain.TripRequest, 0, len(m.trips))
	for _, t := range m.trips {
		copy := *t
		trips = append(trips, &copy)
	}
	return trips, nil
}

func (m *MockTripRepository) UpdateState(ctx context.Context, id string, from []domain.TripState, to domain.TripState) error {
	atomic.AddInt32(&m.UpdateStateCallCount, 1)
	if m.UpdateStateError != nil {
		return m.UpdateStateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	trip, ok := m.trips[id]
	if !ok {
		return repository.ErrNotFound
	}
	if !stateIn(trip.State, from) {
		return repository.ErrStateConflict
	}
	trip.State = to
	return nil
}

func (m *MockTripRepository) Assign(ctx context.Context, id, driverID string, from []domain.TripState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	trip, ok := m.trips[id]
	if !ok {
		return repository.ErrNotFound
	}
	if !stateIn(trip.State, from) {
		return repository.ErrStateConflict
	}
	trip.State = domain.TripStateAssigned
	trip.AssignedDriverID = driverID
	return nil
}

func (m *MockTripRepository) Cancel(ctx context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	trip, ok := m.trips[id]
	if !ok {
		return repository.ErrNotFound
	}
	if trip.State.IsTerminal() {
		return repository.ErrStateConflict
	}
	trip.State = domain.TripStateCancelled
	trip.CancelledAt = time.Now()
	trip.CancelReason = reason
	return nil
}

func stateIn(state domain.TripState, states []domain.TripState) bool {
	for _, s := range states {
		if s == state {
			return true
		}
	}
	return false
}

// ──────────────────────────────────────────────
// MOCK DRIVER REPOSITORY
// ──────────────────────────────────────────────

// MockDriverRepository is a mock implementation of repository.DriverRepository.
type MockDriverRepository struct {
	mu      sync.RWMutex
	drivers map[string]*domain.Driver

	// Counters for verification
	UpdateStatusCallCount int32

	// Error injection
	GetError error
}

// NewMockDriverRepository creates a new mock driver repository.
func NewMockDriverRepository() *MockDriverRepository {
	return &MockDriverRepository{
		drivers: make(map[string]*domain.Driver),
	}
}

// AddDriver adds a driver to the mock repository.
func (m *MockDriverRepository) AddDriver(driver *domain.Driver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[driver.ID] = driver
}

func (m *MockDriverRepository) Create(ctx context.Context, driver *domain.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[driver.ID] = driver
	return nil
}

func (m *MockDriverRepository) GetByID(ctx context.Context, id string) (*domain.Driver, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	driver, ok := m.drivers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := *driver
	return &copy, nil
}

func (m *MockDriverRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*domain.Driver, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*domain.Driver, len(ids))
	for _, id := range ids {
		if driver, ok := m.drivers[id]; ok {
			copy := *driver
			out[id] = &copy
		}
	}
	return out, nil
}

func (m *MockDriverRepository) GetByPhone(ctx context.Context, phone string) (*domain.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.drivers {
		if d.Phone == phone {
			copy := *d
			return &copy, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *MockDriverRepository) UpdateStatus(ctx context.Context, id string, status domain.DriverStatus) error {
	atomic.AddInt32(&m.UpdateStatusCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	driver, ok := m.drivers[id]
	if !ok {
		return repository.ErrNotFound
	}
	driver.Status = status
	return nil
}

func (m *MockDriverRepository) UpdateEligibility(ctx context.Context, id string, status domain.DriverStatus, capabilities []domain.VehicleClass) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	driver, ok := m.drivers[id]
	if !ok {
		return repository.ErrNotFound
	}
	driver.Status = status
	driver.Capabilities = capabilities
	return nil
}

func (m *MockDriverRepository) SetApproved(ctx context.Context, id string, approved bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	driver, ok := m.drivers[id]
	if !ok {
		return repository.ErrNotFound
	}
	driver.Approved = approved
	return nil
}

// ──────────────────────────────────────────────
// MOCK LOCATION STORE
// ──────────────────────────────────────────────

// MockLocationStore is a mock implementation of redis.LocationStoreInterface.
type MockLocationStore struct {
	mu        sync.RWMutex
	locations []redis.DriverLocation

	// Counters for verification
	UpdateLocationCallCount int32

	// Error injection
	FindError error
}

// NewMockLocationStore creates a new mock location store.
func NewMockLocationStore() *MockLocationStore {
	return &MockLocationStore{}
}

// SetLocations replaces the nearby-driver result, already in
// nearest-first order the way the real store returns it.
func (m *MockLocationStore) SetLocations(locations []redis.DriverLocation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations = locations
}

// HasLocation reports whether a driver currently has a stored location.
func (m *MockLocationStore) HasLocation(driverID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, loc := range m.locations {
		if loc.DriverID == driverID {
			return true
		}
	}
	return false
}

func (m *MockLocationStore) UpdateLocation(ctx context.Context, driverID string, lat, lng float64) error {
	atomic.AddInt32(&m.UpdateLocationCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, loc := range m.locations {
		if loc.DriverID == driverID {
			m.locations[i].Lat = lat
			m.locations[i].Lng = lng
			m.locations[i].LocatedAt = time.Now()
			return nil
		}
	}
	m.locations = append(m.locations, redis.DriverLocation{
		DriverID:  driverID,
		Lat:       lat,
		Lng:       lng,
		LocatedAt: time.Now(),
	})
	return nil
}

func (m *MockLocationStore) FindNearbyDrivers(ctx context.Context, lat, lng, radiusKm float64) ([]redis.DriverLocation, error) {
	if m.FindError != nil {
		return nil, m.FindError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]redis.DriverLocation, len(m.locations))
	copy(out, m.locations)
	return out, nil
}

func (m *MockLocationStore) RemoveLocation(ctx context.Context, driverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, loc := range m.locations {
		if loc.DriverID == driverID {
			m.locations = append(m.locations[:i], m.locations[i+1:]...)
			return nil
		}
	}
	return nil
}

// ──────────────────────────────────────────────
// MOCK OFFER LEDGER
// ──────────────────────────────────────────────

// MockOfferLedger is an in-memory implementation of
// repository.OfferLedger. It enforces the same invariants as the
// PostgreSQL ledger under a single mutex, which makes it suitable for
// the concurrency property tests.
type MockOfferLedger struct {
	mu     sync.Mutex
	offers map[string][]*domain.Offer // by trip ID, version order

	// Counters for verification
	TryClaimCallCount int32
	ResolveCallCount  int32

	// Error injection
	TryClaimError error
	ResolveError  error
}

// NewMockOfferLedger creates a new mock offer ledger.
func NewMockOfferLedger() *MockOfferLedger {
	return &MockOfferLedger{
		offers: make(map[string][]*domain.Offer),
	}
}

func (m *MockOfferLedger) TryClaim(ctx context.Context, tripID, driverID string, deadline time.Time) (*domain.Offer, error) {
	atomic.AddInt32(&m.TryClaimCallCount, 1)
	if m.TryClaimError != nil {
		return nil, m.TryClaimError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, o := range m.offers[tripID] {
		if o.Pending() {
			return nil, repository.ErrTripOfferActive
		}
	}
	for _, offers := range m.offers {
		for _, o := range offers {
			if o.Pending() && o.DriverID == driverID {
				return nil, repository.ErrDriverClaimed
			}
		}
	}

	offer := &domain.Offer{
		TripID:    tripID,
		DriverID:  driverID,
		Version:   int64(len(m.offers[tripID]) + 1),
		Outcome:   domain.OfferOutcomePending,
		CreatedAt: time.Now(),
		Deadline:  deadline,
	}
	m.offers[tripID] = append(m.offers[tripID], offer)

	copy := *offer
	return &copy, nil
}

func (m *MockOfferLedger) Resolve(ctx context.Context, tripID string, version int64, outcome domain.OfferOutcome) error {
	atomic.AddInt32(&m.ResolveCallCount, 1)
	if m.ResolveError != nil {
		return m.ResolveError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, o := range m.offers[tripID] {
		if o.Version == version && o.Pending() {
			o.Outcome = outcome
			o.RespondedAt = time.Now()
			return nil
		}
	}
	return repository.ErrVersionMismatch
}

func (m *MockOfferLedger) ActiveOffer(ctx context.Context, tripID string) (*domain.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, o := range m.offers[tripID] {
		if o.Pending() {
			copy := *o
			return &copy, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *MockOfferLedger) ActiveOfferForDriver(ctx context.Context, driverID string) (*domain.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, offers := range m.offers {
		for _, o := range offers {
			if o.Pending() && o.DriverID == driverID {
				copy := *o
				return &copy, nil
			}
		}
	}
	return nil, repository.ErrNotFound
}

func (m *MockOfferLedger) ExpiredPending(ctx context.Context, now time.Time) ([]*domain.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []*domain.Offer
	for _, offers := range m.offers {
		for _, o := range offers {
			if o.Pending() && !o.Deadline.After(now) {
				copy := *o
				expired = append(expired, &copy)
			}
		}
	}
	return expired, nil
}

func (m *MockOfferLedger) History(ctx context.Context, tripID string) ([]*domain.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	history := make([]*domain.Offer, 0, len(m.offers[tripID]))
	for _, o := range m.offers[tripID] {
		copy := *o
		history = append(history, &copy)
	}
	return history, nil
}

// PendingCount returns the number of pending offers across all trips.
func (m *MockOfferLedger) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, offers := range m.offers {
		for _, o := range offers {
			if o.Pending() {
				count++
			}
		}
	}
	return count
}

// ──────────────────────────────────────────────
// MOCK NOTIFIER
// ──────────────────────────────────────────────

// OfferNotification records one driver notification.
type OfferNotification struct {
	DriverID string
	TripID   string
	Deadline time.Time
}

// OutcomeNotification records one customer notification.
type OutcomeNotification struct {
	TripID   string
	State    domain.TripState
	DriverID string
}

// MockNotifier records notifications for verification. It satisfies
// both service.DriverNotifier and service.CustomerNotifier.
type MockNotifier struct {
	mu       sync.Mutex
	Offers   []OfferNotification
	Outcomes []OutcomeNotification

	// Error injection
	NotifyError error
}

// NewMockNotifier creates a new mock notifier.
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

func (m *MockNotifier) NotifyDriverOfOffer(ctx context.Context, driverID, tripID string, deadline time.Time) error {
	if m.NotifyError != nil {
		return m.NotifyError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Offers = append(m.Offers, OfferNotification{DriverID: driverID, TripID: tripID, Deadline: deadline})
	return nil
}

func (m *MockNotifier) NotifyCustomerOfOutcome(ctx context.Context, tripID string, state domain.TripState, driverID string) error {
	if m.NotifyError != nil {
		return m.NotifyError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Outcomes = append(m.Outcomes, OutcomeNotification{TripID: tripID, State: state, DriverID: driverID})
	return nil
}

// OfferCount returns the number of driver notifications sent.
func (m *MockNotifier) OfferCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Offers)
}

// OutcomeCount returns the number of customer notifications sent.
func (m *MockNotifier) OutcomeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Outcomes)
}
