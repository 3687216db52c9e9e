package repository

import (
	"context"

	"dispatch/internal/domain"
)

// TripRepository defines the persistence operations for trip requests.
type TripRepository interface {
	// Create persists a new trip request.
	Create(ctx context.Context, trip *domain.TripRequest) error

	// GetByID retrieves a trip request by ID.
	GetByID(ctx context.Context, id string) (*domain.TripRequest, error)

	// GetAll retrieves recent trip requests.
	GetAll(ctx context.Context) ([]*domain.TripRequest, error)

	// UpdateState transitions a trip to the given state only if it is
	// currently in one of the expected states. Returns ErrStateConflict
	// when the guard fails, so callers never clobber a concurrent
	// transition.
	UpdateState(ctx context.Context, id string, from []domain.TripState, to domain.TripState) error

	// Assign marks a trip ASSIGNED to driverID, guarded the same way
	// as UpdateState.
	Assign(ctx context.Context, id, driverID string, from []domain.TripState) error

	// Cancel marks a trip CANCELLED with a reason, guarded against
	// terminal states.
	Cancel(ctx context.Context, id, reason string) error
}
