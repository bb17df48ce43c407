package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/roadside-dispatch/internal/models"
)

// PostgresStore persists requests in a single table. The conditional
// transitions run as UPDATE ... WHERE status = '<expected>'; a zero
// RowsAffected is disambiguated into not-found vs lost-race by re-reading
// the row.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing handle, used by tests and the
// migration path in cmd/server.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const requestColumns = `id, customer_id, provider_id, vehicle_type, description,
customer_lat, customer_lng, provider_lat, provider_lng, status, rating, feedback,
created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, r *models.Request) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO requests
(id, customer_id, vehicle_type, description, customer_lat, customer_lng, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		r.ID, r.CustomerID, r.VehicleType, r.Description,
		r.CustomerLocation.Lat, r.CustomerLocation.Lng, string(r.Status), r.CreatedAt, r.UpdatedAt)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*models.Request, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = $1`, id)
	return scanRequest(row)
}

func (p *PostgresStore) ListPending(ctx context.Context) ([]*models.Request, error) {
	return p.query(ctx, `SELECT `+requestColumns+` FROM requests WHERE status = 'pending' ORDER BY created_at DESC, id DESC`)
}

func (p *PostgresStore) ListByCustomer(ctx context.Context, customerID string) ([]*models.Request, error) {
	return p.query(ctx, `SELECT `+requestColumns+` FROM requests WHERE customer_id = $1 ORDER BY created_at DESC, id DESC`, customerID)
}

func (p *PostgresStore) ActiveForProvider(ctx context.Context, providerID string) (*models.Request, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests
WHERE provider_id = $1 AND status IN ('accepted','completed')
ORDER BY updated_at DESC LIMIT 1`, providerID)
	return scanRequest(row)
}

func (p *PostgresStore) CompletedForCustomer(ctx context.Context, customerID string) ([]*models.Request, error) {
	return p.query(ctx, `SELECT `+requestColumns+` FROM requests
WHERE customer_id = $1 AND status IN ('completed','closed') ORDER BY updated_at DESC, id DESC`, customerID)
}

func (p *PostgresStore) CompletedForProvider(ctx context.Context, providerID string) ([]*models.Request, error) {
	return p.query(ctx, `SELECT `+requestColumns+` FROM requests
WHERE provider_id = $1 AND status IN ('completed','closed') ORDER BY updated_at DESC, id DESC`, providerID)
}

func (p *PostgresStore) Accept(ctx context.Context, id, providerID string, lat, lng float64) (*models.Request, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE requests
SET status = 'accepted', provider_id = $1, provider_lat = $2, provider_lng = $3, updated_at = $4
WHERE id = $5 AND status = 'pending'`,
		providerID, lat, lng, time.Now().UTC(), id)
	if err != nil {
		return nil, err
	}
	if err := p.checkTransition(ctx, res, id, ErrNotPending); err != nil {
		return nil, err
	}
	return p.Get(ctx, id)
}

func (p *PostgresStore) Complete(ctx context.Context, id string, rating int, feedback string) (*models.Request, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE requests
SET status = 'completed', rating = $1, feedback = $2, updated_at = $3
WHERE id = $4 AND status = 'accepted'`,
		rating, feedback, time.Now().UTC(), id)
	if err != nil {
		return nil, err
	}
	if err := p.checkTransition(ctx, res, id, ErrWrongStatus); err != nil {
		return nil, err
	}
	return p.Get(ctx, id)
}

func (p *PostgresStore) Close(ctx context.Context, id string) (*models.Request, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE requests
SET status = 'closed', updated_at = $1
WHERE id = $2 AND status = 'completed'`,
		time.Now().UTC(), id)
	if err != nil {
		return nil, err
	}
	if err := p.checkTransition(ctx, res, id, ErrWrongStatus); err != nil {
		return nil, err
	}
	return p.Get(ctx, id)
}

func (p *PostgresStore) SetProviderLocation(ctx context.Context, id string, lat, lng float64) (*models.Request, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE requests
SET provider_lat = $1, provider_lng = $2, updated_at = $3 WHERE id = $4`,
		lat, lng, time.Now().UTC(), id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return p.Get(ctx, id)
}

// checkTransition maps a zero-row conditional update to the right error:
// the row is either missing entirely or its status had already moved on.
func (p *PostgresStore) checkTransition(ctx context.Context, res sql.Result, id string, raceErr error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM requests WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return raceErr
}

func (p *PostgresStore) query(ctx context.Context, q string, args ...any) ([]*models.Request, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*models.Request, 0)
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*models.Request, error) {
	var r models.Request
	var providerID, feedback sql.NullString
	var provLat, provLng sql.NullFloat64
	var rating sql.NullInt64
	var status string
	err := row.Scan(&r.ID, &r.CustomerID, &providerID, &r.VehicleType, &r.Description,
		&r.CustomerLocation.Lat, &r.CustomerLocation.Lng, &provLat, &provLng,
		&status, &rating, &feedback, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.Status = models.Status(status)
	if providerID.Valid {
		r.ProviderID = providerID.String
	}
	if provLat.Valid && provLng.Valid {
		r.ProviderLocation = &models.Coord{Lat: provLat.Float64, Lng: provLng.Float64}
	}
	if rating.Valid {
		v := int(rating.Int64)
		r.Rating = &v
	}
	if feedback.Valid {
		r.Feedback = feedback.String
	}
	return &r, nil
}
