package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"dispatch/internal/domain"
	"dispatch/internal/repository"
)

// DriverRepository is a PostgreSQL implementation of repository.DriverRepository.
type DriverRepository struct {
	q Querier
}

// NewDriverRepository creates a new PostgreSQL driver repository.
func NewDriverRepository(db *sql.DB) *DriverRepository {
	return &DriverRepository{q: db}
}

// Create adds a new driver.
func (r *DriverRepository) Create(ctx context.Context, driver *domain.Driver) error {
	query := `INSERT INTO drivers (id, name, phone, status, approved, capabilities) VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.q.ExecContext(ctx, query,
		driver.ID,
		driver.Name,
		driver.Phone,
		driver.Status,
		driver.Approved,
		pq.Array(classStrings(driver.Capabilities)),
	)
	return err
}

// GetByID retrieves a driver by ID.
func (r *DriverRepository) GetByID(ctx context.Context, id string) (*domain.Driver, error) {
	query := `SELECT id, COALESCE(name, ''), COALESCE(phone, ''), status, approved, capabilities FROM drivers WHERE id = $1`
	return scanDriver(r.q.QueryRowContext(ctx, query, id))
}

// GetByIDs retrieves the given drivers in one query.
func (r *DriverRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*domain.Driver, error) {
	if len(ids) == 0 {
		return map[string]*domain.Driver{}, nil
	}

	query := `SELECT id, COALESCE(name, ''), COALESCE(phone, ''), status, approved, capabilities FROM drivers WHERE id = ANY($1)`

	rows, err := r.q.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	drivers := make(map[string]*domain.Driver, len(ids))
	for rows.Next() {
		driver, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		drivers[driver.ID] = driver
	}
	return drivers, rows.Err()
}

// GetByPhone retrieves a driver by phone number.
func (r *DriverRepository) GetByPhone(ctx context.Context, phone string) (*domain.Driver, error) {
	query := `SELECT id, COALESCE(name, ''), COALESCE(phone, ''), status, approved, capabilities FROM drivers WHERE phone = $1`
	return scanDriver(r.q.QueryRowContext(ctx, query, phone))
}

// UpdateStatus updates a driver's availability status.
func (r *DriverRepository) UpdateStatus(ctx context.Context, id string, status domain.DriverStatus) error {
	query := `UPDATE drivers SET status = $1 WHERE id = $2`

	result, err := r.q.ExecContext(ctx, query, status, id)
	if err != nil {
		return err
	}

	return requireRow(result)
}

// UpdateEligibility replaces availability and capabilities in one write.
func (r *DriverRepository) UpdateEligibility(ctx context.Context, id string, status domain.DriverStatus, capabilities []domain.VehicleClass) error {
	query := `UPDATE drivers SET status = $1, capabilities = $2 WHERE id = $3`

	result, err := r.q.ExecContext(ctx, query, status, pq.Array(classStrings(capabilities)), id)
	if err != nil {
		return err
	}

	return requireRow(result)
}

// SetApproved flips a driver's approval flag.
func (r *DriverRepository) SetApproved(ctx context.Context, id string, approved bool) error {
	query := `UPDATE drivers SET approved = $1 WHERE id = $2`

	result, err := r.q.ExecContext(ctx, query, approved, id)
	if err != nil {
		return err
	}

	return requireRow(result)
}

func requireRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func classStrings(classes []domain.VehicleClass) []string {
	out := make([]string, len(classes))
	for i, c := range classes {
		out[i] = string(c)
	}
	return out
}

func scanDriver(row rowScanner) (*domain.Driver, error) {
	var driver domain.Driver
	var capabilities pq.StringArray

	err := row.Scan(
		&driver.ID,
		&driver.Name,
		&driver.Phone,
		&driver.Status,
		&driver.Approved,
		&capabilities,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	driver.Capabilities = make([]domain.VehicleClass, len(capabilities))
	for i, c := range capabilities {
		driver.Capabilities[i] = domain.VehicleClass(c)
	}

	return &driver, nil
}
