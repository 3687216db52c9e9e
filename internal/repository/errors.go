package repository

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrTripOfferActive is returned by TryClaim when the trip already
	// has a pending offer.
	ErrTripOfferActive = errors.New("trip already has a pending offer")

	// ErrDriverClaimed is returned by TryClaim when the driver already
	// holds a pending offer on another trip.
	ErrDriverClaimed = errors.New("driver already holds a pending offer")

	// ErrVersionMismatch is returned by Resolve when the referenced
	// offer version is not the pending one. This is the normal outcome
	// of a resolution race (e.g. decline racing a sweep) and means the
	// offer was already resolved by someone else.
	ErrVersionMismatch = errors.New("offer version mismatch")

	// ErrStateConflict is returned by UpdateState when the trip is no
	// longer in any of the expected states.
	ErrStateConflict = errors.New("trip not in expected state")
)
