package presence

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// Store tracks the online flag and last known coordinate of every driver
// and answers proximity queries from an in-process geohash index. Only
// online drivers with a coordinate are kept in the index.
type Store struct {
	mu      sync.Mutex
	drivers map[string]models.DriverPresence
	index   *geo.Index
	mirror  *MirrorWriter
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Store)

// WithMirror replicates every presence change through w.
func WithMirror(w *MirrorWriter) Option { return func(s *Store) { s.mirror = w } }

func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.logger = l } }

func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

func NewStore(precision uint, opts ...Option) *Store {
	s := &Store{
		drivers: make(map[string]models.DriverPresence),
		index:   geo.NewIndex(precision),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetOnline marks the driver online at loc. Repeating it is harmless.
func (s *Store) SetOnline(ctx context.Context, driverID string, loc models.Location) (models.DriverPresence, error) {
	if err := validate(driverID, &loc); err != nil {
		return models.DriverPresence{}, err
	}
	return s.apply(driverID, func(p *models.DriverPresence) {
		p.Online = true
		p.Location = &loc
	}), nil
}

// SetOffline clears the online flag and keeps the last coordinate.
func (s *Store) SetOffline(ctx context.Context, driverID string) (models.DriverPresence, error) {
	if err := validate(driverID, nil); err != nil {
		return models.DriverPresence{}, err
	}
	return s.apply(driverID, func(p *models.DriverPresence) {
		p.Online = false
	}), nil
}

// UpdateLocation stores a new coordinate without touching the online flag.
// A driver seen for the first time here starts offline.
func (s *Store) UpdateLocation(ctx context.Context, driverID string, loc models.Location) (models.DriverPresence, error) {
	if err := validate(driverID, &loc); err != nil {
		return models.DriverPresence{}, err
	}
	return s.apply(driverID, func(p *models.DriverPresence) {
		p.Location = &loc
	}), nil
}

func (s *Store) apply(driverID string, mutate func(*models.DriverPresence)) models.DriverPresence {
	s.mu.Lock()
	p := s.drivers[driverID]
	p.DriverID = driverID
	mutate(&p)
	p.UpdatedAt = s.now()
	s.drivers[driverID] = p
	s.reindex(p)
	online := s.onlineCount()
	s.mu.Unlock()

	observability.DriversOnline.Set(float64(online))
	if s.mirror != nil {
		s.mirror.Enqueue(p)
	}
	return clone(p)
}

func (s *Store) reindex(p models.DriverPresence) {
	if p.Online && p.Location != nil {
		s.index.Upsert(geo.Point{ID: p.DriverID, Lat: p.Location.Lat, Lng: p.Location.Lng})
		return
	}
	s.index.Remove(p.DriverID)
}

func (s *Store) onlineCount() int {
	return s.index.Len()
}

// QueryNearby returns the online drivers within radiusMeters of center,
// nearest first, ties ordered by driver id.
func (s *Store) QueryNearby(center models.Location, radiusMeters float64) []models.Candidate {
	hits := s.index.Within(center.Lat, center.Lng, radiusMeters)
	out := make([]models.Candidate, 0, len(hits))
	for _, h := range hits {
		out = append(out, models.Candidate{
			DriverID:       h.ID,
			Location:       models.Location{Lat: h.Lat, Lng: h.Lng},
			DistanceMeters: h.Distance,
		})
	}
	return out
}

func (s *Store) Get(driverID string) (models.DriverPresence, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.drivers[driverID]
	return clone(p), ok
}

// Snapshot returns every known driver ordered by id.
func (s *Store) Snapshot() []models.DriverPresence {
	s.mu.Lock()
	out := make([]models.DriverPresence, 0, len(s.drivers))
	for _, p := range s.drivers {
		out = append(out, clone(p))
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].DriverID < out[j].DriverID })
	return out
}

// Restore warms the store from previously mirrored state. Entries already
// present with a newer timestamp win.
func (s *Store) Restore(entries []models.DriverPresence) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range entries {
		if p.DriverID == "" {
			continue
		}
		if cur, ok := s.drivers[p.DriverID]; ok && !cur.UpdatedAt.Before(p.UpdatedAt) {
			continue
		}
		s.drivers[p.DriverID] = p
		s.reindex(p)
		n++
	}
	observability.DriversOnline.Set(float64(s.onlineCount()))
	s.logger.Info("presence_restored", "entries", len(entries), "applied", n)
	return n
}

func validate(driverID string, loc *models.Location) error {
	if strings.TrimSpace(driverID) == "" {
		return fmt.Errorf("%w: driverId is required", models.ErrValidation)
	}
	if loc != nil && !geo.ValidCoordinate(loc.Lat, loc.Lng) {
		return fmt.Errorf("%w: invalid location %.6f,%.6f", models.ErrValidation, loc.Lat, loc.Lng)
	}
	return nil
}

func clone(p models.DriverPresence) models.DriverPresence {
	if p.Location != nil {
		l := *p.Location
		p.Location = &l
	}
	return p
}
