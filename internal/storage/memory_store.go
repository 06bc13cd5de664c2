package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// MemoryStore keeps rides and profiles in process. Each ride has its own
// lock so transitions on different rides never contend.
type MemoryStore struct {
	mu       sync.RWMutex
	rides    map[string]*rideEntry
	profiles map[string]models.Profile
	now      func() time.Time
}

type rideEntry struct {
	mu   sync.Mutex
	ride models.Ride
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:    make(map[string]*rideEntry),
		profiles: make(map[string]models.Profile),
		now:      time.Now,
	}
}

func (m *MemoryStore) InsertRide(ctx context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[r.ID]; ok {
		return fmt.Errorf("ride %s already exists", r.ID)
	}
	m.rides[r.ID] = &rideEntry{ride: copyRide(*r)}
	return nil
}

func (m *MemoryStore) entry(id string) (*rideEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.rides[id]
	return e, ok
}

func (m *MemoryStore) GetRide(ctx context.Context, id string) (models.Ride, error) {
	e, ok := m.entry(id)
	if !ok {
		return models.Ride{}, fmt.Errorf("ride %s: %w", id, ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyRide(e.ride), nil
}

func (m *MemoryStore) TransitionRide(ctx context.Context, id string, t Transition) (models.Ride, error) {
	e, ok := m.entry(id)
	if !ok {
		return models.Ride{}, fmt.Errorf("ride %s: %w", id, ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.ride
	if !statusIn(cur.Status, t.From) {
		return models.Ride{}, fmt.Errorf("ride %s is %s: %w", id, cur.Status, ErrConflict)
	}
	if t.BindDriver != "" && cur.DriverID != nil {
		return models.Ride{}, fmt.Errorf("ride %s already assigned: %w", id, ErrConflict)
	}
	if t.RequireDriver != "" && cur.AssignedDriver() != t.RequireDriver {
		return models.Ride{}, fmt.Errorf("ride %s not assigned to %s: %w", id, t.RequireDriver, ErrConflict)
	}

	cur.Status = t.To
	if t.BindDriver != "" {
		d := t.BindDriver
		cur.DriverID = &d
	}
	cur.UpdatedAt = m.now()
	e.ride = cur
	return copyRide(cur), nil
}

func (m *MemoryStore) ListRides(ctx context.Context, f models.RideFilter) ([]models.Ride, error) {
	m.mu.RLock()
	entries := make([]*rideEntry, 0, len(m.rides))
	for _, e := range m.rides {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make([]models.Ride, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		r := copyRide(e.ride)
		e.mu.Unlock()
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.RiderID != "" && r.RiderID != f.RiderID {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) GetProfile(ctx context.Context, id string) (models.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	if !ok {
		return models.Profile{}, fmt.Errorf("profile %s: %w", id, ErrNotFound)
	}
	return p, nil
}

func (m *MemoryStore) InsertProfileIfAbsent(ctx context.Context, p models.Profile) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[p.ID]; ok {
		return false, nil
	}
	m.profiles[p.ID] = p
	return true, nil
}

// ProfileCount is used by tests asserting self-heal idempotence.
func (m *MemoryStore) ProfileCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.profiles)
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func statusIn(s models.RideStatus, set []models.RideStatus) bool {
	for _, c := range set {
		if c == s {
			return true
		}
	}
	return false
}

func copyRide(r models.Ride) models.Ride {
	if r.DriverID != nil {
		d := *r.DriverID
		r.DriverID = &d
	}
	return r
}
