package service

import (
	"context"
	"sort"

	"dispatch/internal/domain"
	"dispatch/internal/redis"
	"dispatch/internal/repository"
)

// MatcherInterface defines the candidate ranking contract.
// This interface allows for testing with mock implementations.
type MatcherInterface interface {
	Rank(ctx context.Context, trip *domain.TripRequest, exclude map[string]bool) ([]domain.Candidate, error)
}

// Matcher ranks eligible drivers for a trip by proximity. Drivers
// failing the capability, approval, availability or freshness checks
// are excluded entirely. An empty result is a normal outcome, not an
// error: it is what drives NO_DRIVERS_AVAILABLE.
type Matcher struct {
	locationStore redis.LocationStoreInterface
	driverRepo    repository.DriverRepository
	radiusKm      float64
}

// NewMatcher creates a new Matcher searching within radiusKm of pickup.
func NewMatcher(locationStore redis.LocationStoreInterface, driverRepo repository.DriverRepository, radiusKm float64) *Matcher {
	return &Matcher{
		locationStore: locationStore,
		driverRepo:    driverRepo,
		radiusKm:      radiusKm,
	}
}

// Ensure Matcher implements MatcherInterface.
var _ MatcherInterface = (*Matcher)(nil)

// Rank returns the ordered candidate queue for a trip, nearest first.
// Ties are broken by driver ID so repeated calls over the same snapshot
// produce the same queue.
func (m *Matcher) Rank(ctx context.Context, trip *domain.TripRequest, exclude map[string]bool) ([]domain.Candidate, error) {
	// The location store already applies the freshness window and
	// sorts by distance; stale drivers are simply absent.
	nearby, err := m.locationStore.FindNearbyDrivers(ctx, trip.PickupLat, trip.PickupLng, m.radiusKm)
	if err != nil {
		return nil, err
	}
	if len(nearby) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(nearby))
	for _, loc := range nearby {
		if exclude[loc.DriverID] {
			continue
		}
		ids = append(ids, loc.DriverID)
	}

	drivers, err := m.driverRepo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	candidates := make([]domain.Candidate, 0, len(ids))
	for _, loc := range nearby {
		driver, ok := drivers[loc.DriverID]
		if !ok {
			continue
		}
		if !driver.Approved || driver.Status != domain.DriverStatusOnline {
			continue
		}
		if !driver.CanServe(trip.RequiredClass) {
			continue
		}
		candidates = append(candidates, domain.Candidate{
			DriverID:   loc.DriverID,
			DistanceKm: loc.DistanceKm,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].DistanceKm != candidates[j].DistanceKm {
			return candidates[i].DistanceKm < candidates[j].DistanceKm
		}
		return candidates[i].DriverID < candidates[j].DriverID
	})

	return candidates, nil
}
