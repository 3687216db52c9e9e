package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"dispatch/internal/domain"
	"dispatch/internal/repository"
)

// OfferLedger is a PostgreSQL implementation of repository.OfferLedger.
//
// Both invariants are enforced inside single statements: TryClaim is one
// guarded INSERT, Resolve one guarded UPDATE. There is never a separate
// check-then-write, so two dispatch sessions racing for the same driver
// cannot both succeed. Partial unique indexes on (trip_id) and
// (driver_id) WHERE outcome = 'PENDING' back the same invariants at the
// schema level (see schema.sql).
type OfferLedger struct {
	q Querier
}

// NewOfferLedger creates a new PostgreSQL offer ledger.
func NewOfferLedger(db *sql.DB) *OfferLedger {
	return &OfferLedger{q: db}
}

const offerColumns = `trip_id, driver_id, version, outcome, created_at, deadline, responded_at`

// TryClaim atomically creates a pending offer of tripID to driverID.
func (l *OfferLedger) TryClaim(ctx context.Context, tripID, driverID string, deadline time.Time) (*domain.Offer, error) {
	query := `
		INSERT INTO offers (trip_id, driver_id, version, outcome, created_at, deadline)
		SELECT $1, $2,
		       COALESCE((SELECT MAX(version) FROM offers WHERE trip_id = $1), 0) + 1,
		       $3, now(), $4
		WHERE NOT EXISTS (SELECT 1 FROM offers WHERE trip_id = $1 AND outcome = $3)
		  AND NOT EXISTS (SELECT 1 FROM offers WHERE driver_id = $2 AND outcome = $3)
		RETURNING version, created_at
	`

	offer := &domain.Offer{
		TripID:   tripID,
		DriverID: driverID,
		Outcome:  domain.OfferOutcomePending,
		Deadline: deadline,
	}

	err := l.q.QueryRowContext(ctx, query, tripID, driverID, domain.OfferOutcomePending, deadline).
		Scan(&offer.Version, &offer.CreatedAt)
	if err == nil {
		return offer, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	// Zero rows: one of the guards held. Classify for the caller; the
	// claim itself was already decided atomically above.
	return nil, l.classifyRejection(ctx, tripID, driverID)
}

func (l *OfferLedger) classifyRejection(ctx context.Context, tripID, driverID string) error {
	var tripActive bool
	err := l.q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM offers WHERE trip_id = $1 AND outcome = $2)`,
		tripID, domain.OfferOutcomePending,
	).Scan(&tripActive)
	if err != nil {
		return err
	}
	if tripActive {
		return repository.ErrTripOfferActive
	}
	return repository.ErrDriverClaimed
}

// Resolve records the outcome of the pending offer (tripID, version).
func (l *OfferLedger) Resolve(ctx context.Context, tripID string, version int64, outcome domain.OfferOutcome) error {
	query := `
		UPDATE offers SET outcome = $1, responded_at = now()
		WHERE trip_id = $2 AND version = $3 AND outcome = $4
	`

	result, err := l.q.ExecContext(ctx, query, outcome, tripID, version, domain.OfferOutcomePending)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return repository.ErrVersionMismatch
	}
	return nil
}

// ActiveOffer returns the pending offer for a trip.
func (l *OfferLedger) ActiveOffer(ctx context.Context, tripID string) (*domain.Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM offers WHERE trip_id = $1 AND outcome = $2`
	return scanOffer(l.q.QueryRowContext(ctx, query, tripID, domain.OfferOutcomePending))
}

// ActiveOfferForDriver returns the pending offer held by a driver.
func (l *OfferLedger) ActiveOfferForDriver(ctx context.Context, driverID string) (*domain.Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM offers WHERE driver_id = $1 AND outcome = $2`
	return scanOffer(l.q.QueryRowContext(ctx, query, driverID, domain.OfferOutcomePending))
}

// ExpiredPending returns pending offers past their deadline.
func (l *OfferLedger) ExpiredPending(ctx context.Context, now time.Time) ([]*domain.Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM offers WHERE outcome = $1 AND deadline <= $2`

	rows, err := l.q.QueryContext(ctx, query, domain.OfferOutcomePending, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectOffers(rows)
}

// History returns all offers extended for a trip, oldest first.
func (l *OfferLedger) History(ctx context.Context, tripID string) ([]*domain.Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM offers WHERE trip_id = $1 ORDER BY version ASC`

	rows, err := l.q.QueryContext(ctx, query, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectOffers(rows)
}

func collectOffers(rows *sql.Rows) ([]*domain.Offer, error) {
	var offers []*domain.Offer
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, offer)
	}
	return offers, rows.Err()
}

func scanOffer(row rowScanner) (*domain.Offer, error) {
	var offer domain.Offer
	var respondedAt sql.NullTime

	err := row.Scan(
		&offer.TripID,
		&offer.DriverID,
		&offer.Version,
		&offer.Outcome,
		&offer.CreatedAt,
		&offer.Deadline,
		&respondedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	if respondedAt.Valid {
		offer.RespondedAt = respondedAt.Time
	}

	return &offer, nil
}
