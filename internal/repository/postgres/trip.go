package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"dispatch/internal/domain"
	"dispatch/internal/repository"
)

// TripRepository is a PostgreSQL implementation of repository.TripRepository.
type TripRepository struct {
	q Querier
}

// NewTripRepository creates a new PostgreSQL trip repository.
func NewTripRepository(db *sql.DB) *TripRepository {
	return &TripRepository{q: db}
}

// NewTripRepositoryWithTx creates a trip repository using a transaction.
func NewTripRepositoryWithTx(tx *sql.Tx) *TripRepository {
	return &TripRepository{q: tx}
}

// Create persists a new trip request.
func (r *TripRepository) Create(ctx context.Context, trip *domain.TripRequest) error {
	query := `
		INSERT INTO trips (id, customer_id, pickup_lat, pickup_lng, delivery_lat, delivery_lng, required_class, state, assigned_driver_id, cancelled_at, cancel_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	var assignedDriverID sql.NullString
	if trip.AssignedDriverID != "" {
		assignedDriverID = sql.NullString{String: trip.AssignedDriverID, Valid: true}
	}

	var cancelledAt sql.NullTime
	if !trip.CancelledAt.IsZero() {
		cancelledAt = sql.NullTime{Time: trip.CancelledAt, Valid: true}
	}

	var cancelReason sql.NullString
	if trip.CancelReason != "" {
		cancelReason = sql.NullString{String: trip.CancelReason, Valid: true}
	}

	_, err := r.q.ExecContext(ctx, query,
		trip.ID,
		trip.CustomerID,
		trip.PickupLat,
		trip.PickupLng,
		trip.DeliveryLat,
		trip.DeliveryLng,
		trip.RequiredClass,
		trip.State,
		assignedDriverID,
		cancelledAt,
		cancelReason,
		trip.CreatedAt,
	)

	return err
}

// GetByID retrieves a trip request by ID.
func (r *TripRepository) GetByID(ctx context.Context, id string) (*domain.TripRequest, error) {
	query := `
		SELECT id, customer_id, pickup_lat, pickup_lng, delivery_lat, delivery_lng, required_class, state, assigned_driver_id, cancelled_at, cancel_reason, created_at
		FROM trips WHERE id = $1
	`

	return scanTrip(r.q.QueryRowContext(ctx, query, id))
}

// GetAll retrieves recent trip requests.
func (r *TripRepository) GetAll(ctx context.Context) ([]*domain.TripRequest, error) {
	query := `
		SELECT id, customer_id, pickup_lat, pickup_lng, delivery_lat, delivery_lng, required_class, state, assigned_driver_id, cancelled_at, cancel_reason, created_at
		FROM trips ORDER BY created_at DESC LIMIT 100
	`

	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trips []*domain.TripRequest
	for rows.Next() {
		trip, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		trips = append(trips, trip)
	}
	return trips, rows.Err()
}

// UpdateState transitions a trip between states with a guard on the
// current state, so concurrent transitions never overwrite each other.
func (r *TripRepository) UpdateState(ctx context.Context, id string, from []domain.TripState, to domain.TripState) error {
	query := `UPDATE trips SET state = $1 WHERE id = $2 AND state = ANY($3)`

	result, err := r.q.ExecContext(ctx, query, to, id, pq.Array(stateStrings(from)))
	if err != nil {
		return err
	}

	return checkGuard(ctx, r.q, result, id)
}

// Assign marks a trip ASSIGNED to driverID, guarded on the current state.
func (r *TripRepository) Assign(ctx context.Context, id, driverID string, from []domain.TripState) error {
	query := `UPDATE trips SET state = $1, assigned_driver_id = $2 WHERE id = $3 AND state = ANY($4)`

	result, err := r.q.ExecContext(ctx, query, domain.TripStateAssigned, driverID, id, pq.Array(stateStrings(from)))
	if err != nil {
		return err
	}

	return checkGuard(ctx, r.q, result, id)
}

// Cancel marks a trip CANCELLED unless it is already terminal.
func (r *TripRepository) Cancel(ctx context.Context, id, reason string) error {
	query := `
		UPDATE trips SET state = $1, cancelled_at = now(), cancel_reason = $2
		WHERE id = $3 AND state NOT IN ($4, $5, $6, $7)
	`

	result, err := r.q.ExecContext(ctx, query,
		domain.TripStateCancelled,
		reason,
		id,
		domain.TripStateAssigned,
		domain.TripStateExpired,
		domain.TripStateNoDrivers,
		domain.TripStateCancelled,
	)
	if err != nil {
		return err
	}

	return checkGuard(ctx, r.q, result, id)
}

// checkGuard distinguishes a missing trip from a failed state guard
// after a conditional update touched zero rows.
func checkGuard(ctx context.Context, q Querier, result sql.Result, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected > 0 {
		return nil
	}

	var exists bool
	if err := q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM trips WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return repository.ErrNotFound
	}
	return repository.ErrStateConflict
}

func stateStrings(states []domain.TripState) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrip(row rowScanner) (*domain.TripRequest, error) {
	var trip domain.TripRequest
	var assignedDriverID sql.NullString
	var cancelledAt sql.NullTime
	var cancelReason sql.NullString

	err := row.Scan(
		&trip.ID,
		&trip.CustomerID,
		&trip.PickupLat,
		&trip.PickupLng,
		&trip.DeliveryLat,
		&trip.DeliveryLng,
		&trip.RequiredClass,
		&trip.State,
		&assignedDriverID,
		&cancelledAt,
		&cancelReason,
		&trip.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	if assignedDriverID.Valid {
		trip.AssignedDriverID = assignedDriverID.String
	}
	if cancelledAt.Valid {
		trip.CancelledAt = cancelledAt.Time
	}
	if cancelReason.Valid {
		trip.CancelReason = cancelReason.String
	}

	return &trip, nil
}
