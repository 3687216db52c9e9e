package domain

import "time"

// TripState represents the current lifecycle state of a trip request.
type TripState string

const (
	TripStateCreated     TripState = "CREATED"
	TripStateDispatching TripState = "DISPATCHING"
	TripStateOffered     TripState = "OFFERED"
	TripStateAssigned    TripState = "ASSIGNED"
	TripStateExpired     TripState = "EXPIRED"
	TripStateNoDrivers   TripState = "NO_DRIVERS_AVAILABLE"
	TripStateCancelled   TripState = "CANCELLED"
)

// IsTerminal reports whether no further transition can occur from s.
func (s TripState) IsTerminal() bool {
	switch s {
	case TripStateAssigned, TripStateExpired, TripStateNoDrivers, TripStateCancelled:
		return true
	}
	return false
}

// TripRequest represents a delivery request awaiting driver assignment.
// Created by order intake; mutated only by the dispatch coordinator and
// customer cancellation; never deleted (terminal trips are kept for audit).
type TripRequest struct {
	ID               string
	CustomerID       string
	PickupLat        float64
	PickupLng        float64
	DeliveryLat      float64
	DeliveryLng      float64
	RequiredClass    VehicleClass
	State            TripState
	AssignedDriverID string
	CreatedAt        time.Time
	CancelledAt      time.Time
	CancelReason     string
}
