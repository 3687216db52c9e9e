package repository

import (
	"context"
	"time"

	"dispatch/internal/domain"
)

// OfferLedger is the durable record of the single active offer per trip
// and per driver. All mutation goes through TryClaim and Resolve, both
// of which must be implemented as one atomic conditional write; the
// ledger is the component that makes the single-owner invariant hold
// under concurrent dispatch sessions.
type OfferLedger interface {
	// TryClaim creates a pending offer of tripID to driverID with the
	// given response deadline. It succeeds only if the trip has no
	// pending offer AND the driver holds no pending offer on any trip.
	// Returns ErrTripOfferActive or ErrDriverClaimed on rejection.
	TryClaim(ctx context.Context, tripID, driverID string, deadline time.Time) (*domain.Offer, error)

	// Resolve records the outcome of the pending offer identified by
	// (tripID, version). Returns ErrVersionMismatch when that offer is
	// not pending anymore, in which case nothing was changed; callers
	// treat this as "already resolved by someone else".
	Resolve(ctx context.Context, tripID string, version int64, outcome domain.OfferOutcome) error

	// ActiveOffer returns the pending offer for a trip, or ErrNotFound.
	ActiveOffer(ctx context.Context, tripID string) (*domain.Offer, error)

	// ActiveOfferForDriver returns the pending offer held by a driver,
	// or ErrNotFound.
	ActiveOfferForDriver(ctx context.Context, driverID string) (*domain.Offer, error)

	// ExpiredPending returns offers still pending whose deadline is at
	// or before now. Used by the expiry sweeper.
	ExpiredPending(ctx context.Context, now time.Time) ([]*domain.Offer, error)

	// History returns all offers ever extended for a trip, oldest
	// first.
	History(ctx context.Context, tripID string) ([]*domain.Offer, error)
}
