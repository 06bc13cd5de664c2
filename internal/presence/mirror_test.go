package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

// flakyMirror fails the first failSave calls to Save.
type flakyMirror struct {
	mu       sync.Mutex
	failSave int
	calls    int
	saved    map[string]models.DriverPresence
}

func (f *flakyMirror) Save(ctx context.Context, p models.DriverPresence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failSave {
		return errors.New("redis down")
	}
	if f.saved == nil {
		f.saved = make(map[string]models.DriverPresence)
	}
	f.saved[p.DriverID] = p
	return nil
}

func (f *flakyMirror) Load(ctx context.Context) ([]models.DriverPresence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.DriverPresence, 0, len(f.saved))
	for _, p := range f.saved {
		out = append(out, p)
	}
	return out, nil
}

func fastWriter(m Mirror, retries uint64) *MirrorWriter {
	w := NewMirrorWriter(m, time.Second, nil)
	w.newBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), retries)
	}
	return w
}

func TestMirrorWriterRetriesUntilSuccess(t *testing.T) {
	f := &flakyMirror{failSave: 2}
	w := fastWriter(f, 3)
	w.Enqueue(models.DriverPresence{DriverID: "d1", Online: true, UpdatedAt: time.Now()})

	assert.Equal(t, 0, w.Flush(context.Background()))
	assert.Equal(t, 3, f.calls)
	assert.Contains(t, f.saved, "d1")
	assert.Equal(t, 0, w.Pending())
}

func TestMirrorWriterRequeuesWhenExhausted(t *testing.T) {
	f := &flakyMirror{failSave: 10}
	w := fastWriter(f, 2)
	w.Enqueue(models.DriverPresence{DriverID: "d1", UpdatedAt: time.Now()})

	assert.Equal(t, 1, w.Flush(context.Background()))
	assert.Equal(t, 1, w.Pending(), "failed write is buffered, not dropped")

	f.mu.Lock()
	f.failSave = 0
	f.mu.Unlock()
	assert.Equal(t, 0, w.Flush(context.Background()))
	assert.Equal(t, 0, w.Pending())
}

func TestMirrorWriterBoundsWholePass(t *testing.T) {
	f := &flakyMirror{failSave: 100}
	w := fastWriter(f, 2)
	now := time.Now()
	for _, id := range []string{"d1", "d2", "d3"} {
		w.Enqueue(models.DriverPresence{DriverID: id, UpdatedAt: now})
	}

	assert.Equal(t, 3, w.Flush(context.Background()))
	assert.Equal(t, 3, f.calls, "retry budget is per pass, not per driver")
	assert.Equal(t, 3, w.Pending())
}

func TestMirrorWriterResumesAfterTransientFailure(t *testing.T) {
	f := &flakyMirror{failSave: 1}
	w := fastWriter(f, 1)
	now := time.Now()
	for _, id := range []string{"d1", "d2", "d3"} {
		w.Enqueue(models.DriverPresence{DriverID: id, UpdatedAt: now})
	}

	assert.Equal(t, 0, w.Flush(context.Background()))
	assert.Equal(t, 4, f.calls)
	assert.Len(t, f.saved, 3)
}

func TestMirrorWriterCoalescesNewest(t *testing.T) {
	f := &flakyMirror{}
	w := fastWriter(f, 1)
	now := time.Now()
	w.Enqueue(models.DriverPresence{DriverID: "d1", Online: true, UpdatedAt: now})
	w.Enqueue(models.DriverPresence{DriverID: "d1", Online: false, UpdatedAt: now.Add(-time.Second)})
	w.Enqueue(models.DriverPresence{DriverID: "d2", UpdatedAt: now})
	assert.Equal(t, 2, w.Pending())

	w.Flush(context.Background())
	assert.True(t, f.saved["d1"].Online)
}

func TestMirrorWriterRunDrainsStoreChanges(t *testing.T) {
	f := &flakyMirror{}
	w := fastWriter(f, 1)
	s := NewStore(geo.DefaultPrecision, WithMirror(w))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	_, err := s.SetOnline(ctx, "d1", north(100))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		_, ok := f.saved["d1"]
		return ok
	}, time.Second, 5*time.Millisecond)
}

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func TestRedisMirrorRoundTrip(t *testing.T) {
	mr, client := setupMiniredis(t)
	defer mr.Close()
	m := NewRedisMirrorFromClient(client, "drivers_geo")
	ctx := context.Background()

	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	loc := models.Location{Lat: 19.033, Lng: 73.0297}
	require.NoError(t, m.Save(ctx, models.DriverPresence{DriverID: "d1", Online: true, Location: &loc, UpdatedAt: ts}))
	require.NoError(t, m.Save(ctx, models.DriverPresence{DriverID: "d2", Online: false, UpdatedAt: ts}))

	assert.Equal(t, "true", mr.HGet("driver:presence:d1", "online"))
	assert.True(t, mr.Exists("drivers_geo"))

	got, err := m.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	byID := map[string]models.DriverPresence{}
	for _, p := range got {
		byID[p.DriverID] = p
	}
	require.NotNil(t, byID["d1"].Location)
	assert.InDelta(t, 19.033, byID["d1"].Location.Lat, 1e-9)
	assert.True(t, byID["d1"].UpdatedAt.Equal(ts))
	assert.Nil(t, byID["d2"].Location)
	assert.False(t, byID["d2"].Online)
}

func TestRedisMirrorSaveFailsWhenServerDown(t *testing.T) {
	mr, client := setupMiniredis(t)
	m := NewRedisMirrorFromClient(client, "drivers_geo")
	mr.Close()

	err := m.Save(context.Background(), models.DriverPresence{DriverID: "d1", UpdatedAt: time.Now()})
	assert.Error(t, err)
}
