package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	driverLocationKey = "drivers:locations"
	driverLocatedKey  = "drivers:located_at"
)

// DriverLocation represents a driver's last known position.
type DriverLocation struct {
	DriverID   string
	Lat        float64
	Lng        float64
	DistanceKm float64
	LocatedAt  time.Time
}

// LocationStore holds last-known driver positions in Redis. Positions
// older than the freshness window are treated as absent, never as "far
// away": a stale ping must not silently degrade ranking quality.
type LocationStore struct {
	client    *redis.Client
	freshness time.Duration
}

// NewLocationStore creates a new LocationStore with the given freshness
// window.
func NewLocationStore(client *redis.Client, freshness time.Duration) *LocationStore {
	return &LocationStore{client: client, freshness: freshness}
}

// UpdateLocation stores a driver's location and stamps the update time.
func (s *LocationStore) UpdateLocation(ctx context.Context, driverID string, lat, lng float64) error {
	pipe := s.client.Pipeline()
	pipe.GeoAdd(ctx, driverLocationKey, &redis.GeoLocation{
		Name:      driverID,
		Longitude: lng,
		Latitude:  lat,
	})
	pipe.HSet(ctx, driverLocatedKey, driverID, time.Now().UnixMilli())
	_, err := pipe.Exec(ctx)
	return err
}

// FindNearbyDrivers returns fresh driver positions within radiusKm of
// the given point, nearest first.
func (s *LocationStore) FindNearbyDrivers(ctx context.Context, lat, lng, radiusKm float64) ([]DriverLocation, error) {
	results, err := s.client.GeoRadius(ctx, driverLocationKey, lng, lat, &redis.GeoRadiusQuery{
		Radius:    radiusKm,
		Unit:      "km",
		WithCoord: true,
		WithDist:  true,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.Name
	}

	locatedAt, err := s.locatedAt(ctx, ids)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-s.freshness)
	locations := make([]DriverLocation, 0, len(results))
	for _, r := range results {
		ts, ok := locatedAt[r.Name]
		if !ok || ts.Before(cutoff) {
			continue
		}
		locations = append(locations, DriverLocation{
			DriverID:   r.Name,
			Lat:        r.Latitude,
			Lng:        r.Longitude,
			DistanceKm: r.Dist,
			LocatedAt:  ts,
		})
	}

	return locations, nil
}

// RemoveLocation removes a driver from the geo index.
func (s *LocationStore) RemoveLocation(ctx context.Context, driverID string) error {
	pipe := s.client.Pipeline()
	pipe.ZRem(ctx, driverLocationKey, driverID)
	pipe.HDel(ctx, driverLocatedKey, driverID)
	_, err := pipe.Exec(ctx)
	return err
}

// locatedAt returns the last update time for each known driver ID.
func (s *LocationStore) locatedAt(ctx context.Context, ids []string) (map[string]time.Time, error) {
	values, err := s.client.HMGet(ctx, driverLocatedKey, ids...).Result()
	if err != nil {
		return nil, err
	}

	out := make(map[string]time.Time, len(ids))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		millis, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		out[ids[i]] = time.UnixMilli(millis)
	}
	return out, nil
}
