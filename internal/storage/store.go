package storage

import (
	"context"

	"github.com/example/ride-dispatch/internal/models"
)

var (
	ErrNotFound = models.ErrNotFound
	ErrConflict = models.ErrConflict
)

// Transition describes a conditional status change applied as one
// compare-and-set: it succeeds only while the ride's status is in From.
type Transition struct {
	From []models.RideStatus
	To   models.RideStatus
	// BindDriver assigns the driver; the ride must not have one yet.
	BindDriver string
	// RequireDriver restricts the change to rides assigned to this driver.
	RequireDriver string
}

// Store is the persistence the dispatch core needs for rides and profiles.
type Store interface {
	InsertRide(ctx context.Context, r *models.Ride) error
	GetRide(ctx context.Context, id string) (models.Ride, error)
	// TransitionRide returns ErrNotFound for unknown rides and ErrConflict
	// when the condition does not hold. Nothing is written on error.
	TransitionRide(ctx context.Context, id string, t Transition) (models.Ride, error)
	// ListRides returns rides newest first.
	ListRides(ctx context.Context, f models.RideFilter) ([]models.Ride, error)

	GetProfile(ctx context.Context, id string) (models.Profile, error)
	// InsertProfileIfAbsent reports whether a row was created.
	InsertProfileIfAbsent(ctx context.Context, p models.Profile) (bool, error)

	Ping(ctx context.Context) error
}
