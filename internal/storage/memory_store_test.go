package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/models"
)

func newRide(id string, created time.Time) *models.Ride {
	return &models.Ride{
		ID:        id,
		RiderID:   "rider-1",
		PickupLat: 19.0330, PickupLng: 73.0297,
		DropLat: 18.9894, DropLng: 73.1175,
		Fare:       150,
		DistanceKm: 5.5,
		Status:     models.StatusRequested,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

func accept(driver string) Transition {
	return Transition{From: models.SourcesFor(models.StatusAccepted), To: models.StatusAccepted, BindDriver: driver}
}

func TestMemoryStoreSingleWinnerUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	require.NoError(t, m.InsertRide(ctx, newRide("r1", time.Now())))

	const n = 64
	var (
		wg      sync.WaitGroup
		wins    atomic.Int32
		winner  atomic.Value
		lostErr atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d := fmt.Sprintf("d%02d", i)
			if _, err := m.TransitionRide(ctx, "r1", accept(d)); err == nil {
				wins.Add(1)
				winner.Store(d)
			} else if errors.Is(err, ErrConflict) {
				lostErr.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, wins.Load())
	assert.EqualValues(t, n-1, lostErr.Load())
	r, err := m.GetRide(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, r.Status)
	assert.Equal(t, winner.Load(), r.AssignedDriver())
}

func TestMemoryStoreTransitionRules(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	require.NoError(t, m.InsertRide(ctx, newRide("r1", time.Now())))

	_, err := m.TransitionRide(ctx, "r1", Transition{From: models.SourcesFor(models.StatusOngoing), To: models.StatusOngoing})
	assert.ErrorIs(t, err, ErrConflict, "requested cannot go straight to ongoing")

	_, err = m.TransitionRide(ctx, "r1", accept("d1"))
	require.NoError(t, err)

	_, err = m.TransitionRide(ctx, "r1", Transition{From: models.SourcesFor(models.StatusOngoing), To: models.StatusOngoing, RequireDriver: "d2"})
	assert.ErrorIs(t, err, ErrConflict, "only the assigned driver may start")

	r, err := m.TransitionRide(ctx, "r1", Transition{From: models.SourcesFor(models.StatusOngoing), To: models.StatusOngoing, RequireDriver: "d1"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusOngoing, r.Status)
	assert.Equal(t, "d1", r.AssignedDriver())

	_, err = m.TransitionRide(ctx, "r1", Transition{From: models.SourcesFor(models.StatusCompleted), To: models.StatusCompleted, RequireDriver: "d1"})
	require.NoError(t, err)

	_, err = m.TransitionRide(ctx, "r1", Transition{From: models.SourcesFor(models.StatusCancelled), To: models.StatusCancelled})
	assert.ErrorIs(t, err, ErrConflict, "completed is terminal")

	r, err = m.GetRide(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, r.Status)
}

func TestMemoryStoreNotFound(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	_, err := m.GetRide(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.TransitionRide(ctx, "nope", accept("d1"))
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.GetProfile(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	require.NoError(t, m.InsertRide(ctx, newRide("r1", time.Now())))
	r, err := m.TransitionRide(ctx, "r1", accept("d1"))
	require.NoError(t, err)
	*r.DriverID = "mallory"

	got, _ := m.GetRide(ctx, "r1")
	assert.Equal(t, "d1", got.AssignedDriver())
}

func TestMemoryStoreListRides(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		require.NoError(t, m.InsertRide(ctx, newRide(fmt.Sprintf("r%d", i), base.Add(time.Duration(i)*time.Minute))))
	}
	_, err := m.TransitionRide(ctx, "r1", accept("d1"))
	require.NoError(t, err)

	all, err := m.ListRides(ctx, models.RideFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "r3", all[0].ID)

	pending, err := m.ListRides(ctx, models.RideFilter{Status: models.StatusRequested, Limit: 2})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, []string{"r3", "r2"}, []string{pending[0].ID, pending[1].ID})
}

func TestMemoryStoreProfileInsertIfAbsent(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	created, err := m.InsertProfileIfAbsent(ctx, models.Profile{ID: "u1", FullName: "First"})
	require.NoError(t, err)
	assert.True(t, created)
	created, err = m.InsertProfileIfAbsent(ctx, models.Profile{ID: "u1", FullName: "Second"})
	require.NoError(t, err)
	assert.False(t, created)

	p, err := m.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "First", p.FullName)
	assert.Equal(t, 1, m.ProfileCount())
}

func TestCancelledRideKeepsItsDriver(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	require.NoError(t, m.InsertRide(ctx, newRide("held", time.Now())))
	require.NoError(t, m.InsertRide(ctx, newRide("open", time.Now())))
	cancel := Transition{From: models.SourcesFor(models.StatusCancelled), To: models.StatusCancelled}

	_, err := m.TransitionRide(ctx, "held", accept("d1"))
	require.NoError(t, err)
	r, err := m.TransitionRide(ctx, "held", cancel)
	require.NoError(t, err)
	assert.Equal(t, "d1", r.AssignedDriver())

	r, err = m.TransitionRide(ctx, "open", cancel)
	require.NoError(t, err)
	assert.Nil(t, r.DriverID)
}
