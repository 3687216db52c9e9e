package service

import (
	"context"
	"errors"

	"dispatch/internal/domain"
	"dispatch/internal/redis"
	"dispatch/internal/repository"
)

// DriverService handles the driver-facing feeds: location pings and
// eligibility updates. Writes here originate in the driver app; the
// dispatch core only ever reads the resulting snapshots.
type DriverService struct {
	locationStore redis.LocationStoreInterface
	driverRepo    repository.DriverRepository
}

// NewDriverService creates a new DriverService.
func NewDriverService(locationStore redis.LocationStoreInterface, driverRepo repository.DriverRepository) *DriverService {
	return &DriverService{
		locationStore: locationStore,
		driverRepo:    driverRepo,
	}
}

// UpdateLocationRequest contains the parameters for a location ping.
type UpdateLocationRequest struct {
	DriverID string
	Lat      float64
	Lng      float64
}

// UpdateLocation records a driver's position and marks them ONLINE.
func (s *DriverService) UpdateLocation(ctx context.Context, req UpdateLocationRequest) error {
	if req.DriverID == "" {
		return ErrInvalidDriverID
	}
	if !isValidLatitude(req.Lat) || !isValidLongitude(req.Lng) {
		return ErrInvalidLocation
	}

	if err := s.locationStore.UpdateLocation(ctx, req.DriverID, req.Lat, req.Lng); err != nil {
		return err
	}

	// A driver on a job keeps pinging; only flip OFFLINE drivers back.
	driver, err := s.driverRepo.GetByID(ctx, req.DriverID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	if driver.Status == domain.DriverStatusOffline {
		if err := s.driverRepo.UpdateStatus(ctx, req.DriverID, domain.DriverStatusOnline); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
	}

	return nil
}

// UpdateEligibility applies an eligibility feed event: availability and
// capability set in one write.
func (s *DriverService) UpdateEligibility(ctx context.Context, driverID string, available bool, capabilities []domain.VehicleClass) error {
	if driverID == "" {
		return ErrInvalidDriverID
	}

	status := domain.DriverStatusOffline
	if available {
		status = domain.DriverStatusOnline
	}

	if err := s.driverRepo.UpdateEligibility(ctx, driverID, status, capabilities); err != nil {
		return err
	}

	if !available {
		// Going offline removes the driver from candidate search
		// immediately instead of waiting out the freshness window.
		return s.locationStore.RemoveLocation(ctx, driverID)
	}

	return nil
}
