package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

const rideColumns = `id, rider_id, driver_id, pickup_lat, pickup_lng, pickup_address, drop_lat, drop_lng, drop_address, fare, distance_km, status, created_at, updated_at`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an already opened handle.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

// Migrate applies the embedded schema. Statements are idempotent.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	b, err := migrations.ReadFile("migrations/001_create_rides.sql")
	if err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
		return fmt.Errorf("apply 001_create_rides.sql: %w", err)
	}
	return nil
}

func (p *PostgresStore) InsertRide(ctx context.Context, r *models.Ride) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO rides(`+rideColumns+`) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		r.ID, r.RiderID, r.DriverID, r.PickupLat, r.PickupLng, r.PickupAddress, r.DropLat, r.DropLng, r.DropAddress,
		r.Fare, r.DistanceKm, string(r.Status), r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert ride %s: %w", r.ID, err)
	}
	return nil
}

func (p *PostgresStore) GetRide(ctx context.Context, id string) (models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, id)
	r, err := scanRide(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Ride{}, fmt.Errorf("ride %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Ride{}, fmt.Errorf("get ride %s: %w", id, err)
	}
	return r, nil
}

// TransitionRide is a single conditional UPDATE; two concurrent callers
// can never both see their WHERE clause hold.
func (p *PostgresStore) TransitionRide(ctx context.Context, id string, t Transition) (models.Ride, error) {
	from := make([]string, 0, len(t.From))
	for _, s := range t.From {
		from = append(from, string(s))
	}
	row := p.db.QueryRowContext(ctx, `
		UPDATE rides
		SET status = $1,
		    driver_id = COALESCE(NULLIF($2, ''), driver_id),
		    updated_at = now()
		WHERE id = $3
		  AND status = ANY($4)
		  AND ($2 = '' OR driver_id IS NULL)
		  AND ($5 = '' OR driver_id = $5)
		RETURNING `+rideColumns,
		string(t.To), t.BindDriver, id, pq.Array(from), t.RequireDriver)
	r, err := scanRide(row)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Ride{}, fmt.Errorf("transition ride %s: %w", id, err)
	}

	// The update matched nothing: tell a missing ride from a lost race.
	var status string
	err = p.db.QueryRowContext(ctx, `SELECT status FROM rides WHERE id = $1`, id).Scan(&status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return models.Ride{}, fmt.Errorf("ride %s: %w", id, ErrNotFound)
	case err != nil:
		return models.Ride{}, fmt.Errorf("transition ride %s: %w", id, err)
	}
	return models.Ride{}, fmt.Errorf("ride %s is %s: %w", id, status, ErrConflict)
}

func (p *PostgresStore) ListRides(ctx context.Context, f models.RideFilter) ([]models.Ride, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.RiderID != "" {
		args = append(args, f.RiderID)
		where = append(where, fmt.Sprintf("rider_id = $%d", len(args)))
	}
	q := `SELECT ` + rideColumns + ` FROM rides`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list rides: %w", err)
	}
	defer rows.Close()

	var out []models.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ride: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

func (p *PostgresStore) GetProfile(ctx context.Context, id string) (models.Profile, error) {
	var (
		pr   models.Profile
		role string
	)
	err := p.db.QueryRowContext(ctx, `SELECT id, email, mobile, full_name, user_type, created_at FROM profiles WHERE id = $1`, id).
		Scan(&pr.ID, &pr.Email, &pr.Mobile, &pr.FullName, &role, &pr.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Profile{}, fmt.Errorf("profile %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Profile{}, fmt.Errorf("get profile %s: %w", id, err)
	}
	pr.Role = models.Role(role)
	return pr, nil
}

func (p *PostgresStore) InsertProfileIfAbsent(ctx context.Context, pr models.Profile) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO profiles (id, email, mobile, full_name, user_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		pr.ID, pr.Email, pr.Mobile, pr.FullName, string(pr.Role), pr.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert profile %s: %w", pr.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *PostgresStore) Close() error { return p.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanRide(s scanner) (models.Ride, error) {
	var (
		r        models.Ride
		driverID sql.NullString
		status   string
	)
	err := s.Scan(&r.ID, &r.RiderID, &driverID, &r.PickupLat, &r.PickupLng, &r.PickupAddress,
		&r.DropLat, &r.DropLng, &r.DropAddress, &r.Fare, &r.DistanceKm, &status, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return models.Ride{}, err
	}
	if driverID.Valid {
		d := driverID.String
		r.DriverID = &d
	}
	r.Status = models.RideStatus(status)
	return r, nil
}
