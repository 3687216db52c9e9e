package domain

import "time"

// OfferOutcome represents the resolution of an offer.
type OfferOutcome string

const (
	OfferOutcomePending   OfferOutcome = "PENDING"
	OfferOutcomeAccepted  OfferOutcome = "ACCEPTED"
	OfferOutcomeDeclined  OfferOutcome = "DECLINED"
	OfferOutcomeExpired   OfferOutcome = "EXPIRED"
	OfferOutcomeCancelled OfferOutcome = "CANCELLED"
)

// Offer is the single currently-outstanding proposal of one trip to one
// driver. At most one pending offer exists per trip and per driver at
// any time; (TripID, Version) is the concurrency token callers must
// round-trip when accepting or declining. Once resolved an offer is
// immutable history.
type Offer struct {
	TripID      string
	DriverID    string
	Version     int64
	Outcome     OfferOutcome
	CreatedAt   time.Time
	Deadline    time.Time
	RespondedAt time.Time
}

// Pending reports whether the offer is still awaiting a response.
func (o *Offer) Pending() bool {
	return o.Outcome == OfferOutcomePending
}
