package repository

import (
	"context"

	"dispatch/internal/domain"
)

// DriverRepository defines the persistence operations for the driver
// registry: approval, availability and capability facts.
type DriverRepository interface {
	// Create adds a new driver.
	Create(ctx context.Context, driver *domain.Driver) error

	// GetByID retrieves a driver by ID.
	GetByID(ctx context.Context, id string) (*domain.Driver, error)

	// GetByIDs retrieves the given drivers in one query. Missing IDs
	// are silently absent from the result.
	GetByIDs(ctx context.Context, ids []string) (map[string]*domain.Driver, error)

	// GetByPhone retrieves a driver by phone number.
	GetByPhone(ctx context.Context, phone string) (*domain.Driver, error)

	// UpdateStatus updates a driver's availability status.
	UpdateStatus(ctx context.Context, id string, status domain.DriverStatus) error

	// UpdateEligibility replaces a driver's availability and
	// capability set in one write (eligibility feed ingestion).
	UpdateEligibility(ctx context.Context, id string, status domain.DriverStatus, capabilities []domain.VehicleClass) error

	// SetApproved flips a driver's approval flag.
	SetApproved(ctx context.Context, id string, approved bool) error
}
