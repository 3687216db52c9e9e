package service

import "errors"

var (
	// ErrNoDriverAvailable is returned when no eligible driver exists.
	ErrNoDriverAvailable = errors.New("no driver available")

	// ErrStaleOffer is returned when an accept/decline references an
	// offer version that is no longer the active one. The trip has
	// moved on; the call has no side effect.
	ErrStaleOffer = errors.New("offer no longer active")

	// ErrNoActiveOffer is returned when a driver responds but holds no
	// pending offer at all.
	ErrNoActiveOffer = errors.New("no active offer")

	// ErrOfferNotForDriver is returned when a driver responds to an
	// offer that is held by a different driver.
	ErrOfferNotForDriver = errors.New("offer not addressed to this driver")

	// ErrTripAlreadyTerminal is returned when cancelling a trip that
	// already reached a terminal state.
	ErrTripAlreadyTerminal = errors.New("trip already in a terminal state")

	// ErrDispatchAlreadyRunning is returned when a dispatch session is
	// started twice for the same trip.
	ErrDispatchAlreadyRunning = errors.New("dispatch session already running")

	// ErrInvalidTripID is returned when the trip ID is empty.
	ErrInvalidTripID = errors.New("invalid trip id")

	// ErrInvalidDriverID is returned when the driver ID is empty.
	ErrInvalidDriverID = errors.New("invalid driver id")

	// ErrInvalidCustomerID is returned when the customer ID is empty.
	ErrInvalidCustomerID = errors.New("invalid customer id")

	// ErrInvalidPickupLocation is returned when pickup coordinates are invalid.
	ErrInvalidPickupLocation = errors.New("invalid pickup location")

	// ErrInvalidDeliveryLocation is returned when delivery coordinates are invalid.
	ErrInvalidDeliveryLocation = errors.New("invalid delivery location")

	// ErrInvalidVehicleClass is returned when the required vehicle class is unknown.
	ErrInvalidVehicleClass = errors.New("invalid vehicle class")

	// ErrInvalidLocation is returned when location coordinates are invalid.
	ErrInvalidLocation = errors.New("invalid location")
)

func isValidLatitude(lat float64) bool {
	return lat >= -90 && lat <= 90
}

func isValidLongitude(lng float64) bool {
	return lng >= -180 && lng <= 180
}
