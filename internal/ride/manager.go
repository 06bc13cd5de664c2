package ride

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/example/ride-dispatch/internal/broadcast"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/registry"
	"github.com/example/ride-dispatch/internal/storage"
)

// DefaultBaseFare is the minimum fare a ride can be requested with.
const DefaultBaseFare = 40.0

// Notifier is the subset of the broadcaster the lifecycle needs.
type Notifier interface {
	RideUpdated(ctx context.Context, r models.Ride)
	RideAccepted(r models.Ride)
	RideUnavailable(origin registry.Channel, driverID string)
	RideCancelled(r models.Ride, by broadcast.Canceller)
	RideStatus(r models.Ride)
	Error(origin registry.Channel, room, message string)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, r models.Ride) (int, error)
}

// Request is a rider's ride request.
type Request struct {
	RiderID    string
	Pickup     models.Place
	Drop       models.Place
	Fare       float64
	DistanceKm float64
}

// Manager owns ride state transitions. Every transition is one store
// compare-and-set, so concurrent commands on the same ride serialise there.
type Manager struct {
	store    storage.Store
	notify   Notifier
	dispatch Dispatcher
	baseFare float64
	heal     singleflight.Group
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

type Option func(*Manager)

func WithBaseFare(f float64) Option { return func(m *Manager) { m.baseFare = f } }

func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func WithIDGenerator(f func() string) Option { return func(m *Manager) { m.newID = f } }

func NewManager(store storage.Store, notify Notifier, dispatch Dispatcher, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		notify:   notify,
		dispatch: dispatch,
		baseFare: DefaultBaseFare,
		logger:   slog.Default(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// CreateRide persists a requested ride and dispatches it. A persistence
// failure leaves no ride behind and tells the rider the request failed.
func (m *Manager) CreateRide(ctx context.Context, req Request) (models.Ride, error) {
	if err := m.validate(req); err != nil {
		return models.Ride{}, err
	}

	if err := m.ensureProfile(ctx, req.RiderID); err != nil {
		m.logger.Error("profile_self_heal_failed", "rider_id", req.RiderID, "error", err)
		m.notify.Error(nil, req.RiderID, broadcast.MsgRequestFailed)
		return models.Ride{}, fmt.Errorf("%w: self-heal profile %s: %v", models.ErrUpstream, req.RiderID, err)
	}

	now := m.now().UTC()
	r := models.Ride{
		ID:            m.newID(),
		RiderID:       req.RiderID,
		PickupLat:     req.Pickup.Lat,
		PickupLng:     req.Pickup.Lng,
		PickupAddress: req.Pickup.Address,
		DropLat:       req.Drop.Lat,
		DropLng:       req.Drop.Lng,
		DropAddress:   req.Drop.Address,
		Fare:          req.Fare,
		DistanceKm:    req.DistanceKm,
		Status:        models.StatusRequested,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.store.InsertRide(ctx, &r); err != nil {
		m.logger.Error("ride_insert_failed", "rider_id", req.RiderID, "error", err)
		m.notify.Error(nil, req.RiderID, broadcast.MsgRequestFailed)
		return models.Ride{}, fmt.Errorf("%w: %v", models.ErrUpstream, err)
	}
	observability.RidesTotal.WithLabelValues(string(models.StatusRequested)).Inc()
	m.logger.Info("ride_created", "ride_id", r.ID, "rider_id", r.RiderID, "fare", r.Fare)

	m.notify.RideUpdated(ctx, r)
	if _, err := m.dispatch.Dispatch(ctx, r); err != nil {
		// The ride exists and stays requested; nothing to undo.
		m.logger.Warn("ride_dispatch_failed", "ride_id", r.ID, "error", err)
	}
	return r, nil
}

func (m *Manager) validate(req Request) error {
	var problems []string
	if strings.TrimSpace(req.RiderID) == "" {
		problems = append(problems, "riderId is required")
	}
	if !geo.ValidCoordinate(req.Pickup.Lat, req.Pickup.Lng) {
		problems = append(problems, "pickup coordinate out of range")
	}
	if !geo.ValidCoordinate(req.Drop.Lat, req.Drop.Lng) {
		problems = append(problems, "drop coordinate out of range")
	}
	if req.Fare < m.baseFare {
		problems = append(problems, fmt.Sprintf("fare must be at least %.2f", m.baseFare))
	}
	if req.DistanceKm < 0 {
		problems = append(problems, "distance must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", models.ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

// ensureProfile inserts a placeholder profile for an unknown rider.
// Concurrent requests for the same rider share one check.
func (m *Manager) ensureProfile(ctx context.Context, riderID string) error {
	_, err, _ := m.heal.Do(riderID, func() (any, error) {
		_, err := m.store.GetProfile(ctx, riderID)
		if err == nil {
			return nil, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		created, err := m.store.InsertProfileIfAbsent(ctx, PlaceholderProfile(riderID, m.now().UTC()))
		if err != nil {
			return nil, err
		}
		if created {
			m.logger.Info("profile_self_healed", "rider_id", riderID)
		}
		return nil, nil
	})
	return err
}

// PlaceholderProfile is the minimal profile created for a rider the
// account store does not know.
func PlaceholderProfile(riderID string, now time.Time) models.Profile {
	prefix := riderID
	if len(prefix) > 4 {
		prefix = prefix[:4]
	}
	return models.Profile{
		ID:        riderID,
		Email:     fmt.Sprintf("healed_%s@panvel.app", prefix),
		Mobile:    "0000000000",
		FullName:  "Recovered User",
		Role:      models.RoleRider,
		CreatedAt: now,
	}
}

// AcceptRide binds driverID to a requested ride. Exactly one of any number
// of concurrent callers succeeds; the others are told the ride is taken on
// origin only.
func (m *Manager) AcceptRide(ctx context.Context, origin registry.Channel, driverID, rideID string) (models.Ride, error) {
	if driverID == "" || rideID == "" {
		return models.Ride{}, fmt.Errorf("%w: driverId and rideId are required", models.ErrValidation)
	}
	r, err := m.store.TransitionRide(ctx, rideID, storage.Transition{
		From:       models.SourcesFor(models.StatusAccepted),
		To:         models.StatusAccepted,
		BindDriver: driverID,
	})
	switch {
	case errors.Is(err, storage.ErrConflict), errors.Is(err, storage.ErrNotFound):
		observability.AcceptConflicts.Inc()
		m.logger.Info("ride_accept_conflict", "ride_id", rideID, "driver_id", driverID, "error", err)
		m.notify.RideUnavailable(origin, driverID)
		return models.Ride{}, err
	case err != nil:
		m.logger.Error("ride_accept_failed", "ride_id", rideID, "driver_id", driverID, "error", err)
		m.notify.Error(origin, driverID, "Failed to accept ride")
		return models.Ride{}, fmt.Errorf("%w: %v", models.ErrUpstream, err)
	}

	observability.RidesTotal.WithLabelValues(string(models.StatusAccepted)).Inc()
	m.logger.Info("ride_accepted", "ride_id", r.ID, "driver_id", driverID)
	m.notify.RideAccepted(r)
	m.notify.RideUpdated(ctx, r)
	return r, nil
}

// CancelRide cancels any ride that has not reached a terminal state. The
// status guard is the only precondition; isDriver picks who is told what.
func (m *Manager) CancelRide(ctx context.Context, origin registry.Channel, actorID, rideID string, isDriver bool) (models.Ride, error) {
	if actorID == "" || rideID == "" {
		return models.Ride{}, fmt.Errorf("%w: userId and rideId are required", models.ErrValidation)
	}
	by := broadcast.CancelledByRider
	if isDriver {
		by = broadcast.CancelledByDriver
	}
	return m.cancel(ctx, origin, actorID, rideID, by)
}

// AdminCancelRide is the operator override from the admin console. Errors
// are reported to origin, or to the admin room when origin is nil.
func (m *Manager) AdminCancelRide(ctx context.Context, origin registry.Channel, rideID string) (models.Ride, error) {
	if rideID == "" {
		return models.Ride{}, fmt.Errorf("%w: rideId is required", models.ErrValidation)
	}
	return m.cancel(ctx, origin, registry.AdminRoom, rideID, broadcast.CancelledByAdmin)
}

func (m *Manager) cancel(ctx context.Context, origin registry.Channel, actorID, rideID string, by broadcast.Canceller) (models.Ride, error) {
	r, err := m.store.TransitionRide(ctx, rideID, storage.Transition{
		From: models.SourcesFor(models.StatusCancelled),
		To:   models.StatusCancelled,
	})
	if err != nil {
		return models.Ride{}, m.transitionFailed(origin, actorID, rideID, "cancel", err)
	}
	observability.RidesTotal.WithLabelValues(string(models.StatusCancelled)).Inc()
	m.logger.Info("ride_cancelled", "ride_id", r.ID, "actor_id", actorID, "by", string(by))
	m.notify.RideCancelled(r, by)
	m.notify.RideUpdated(ctx, r)
	return r, nil
}

// StartRide moves an accepted ride to ongoing. Only the assigned driver
// may start it.
func (m *Manager) StartRide(ctx context.Context, origin registry.Channel, driverID, rideID string) (models.Ride, error) {
	return m.driverTransition(ctx, origin, driverID, rideID, models.StatusOngoing, "start")
}

// CompleteRide moves an ongoing ride to completed.
func (m *Manager) CompleteRide(ctx context.Context, origin registry.Channel, driverID, rideID string) (models.Ride, error) {
	return m.driverTransition(ctx, origin, driverID, rideID, models.StatusCompleted, "complete")
}

func (m *Manager) driverTransition(ctx context.Context, origin registry.Channel, driverID, rideID string, to models.RideStatus, verb string) (models.Ride, error) {
	if driverID == "" || rideID == "" {
		return models.Ride{}, fmt.Errorf("%w: driverId and rideId are required", models.ErrValidation)
	}
	r, err := m.store.TransitionRide(ctx, rideID, storage.Transition{
		From:          models.SourcesFor(to),
		To:            to,
		RequireDriver: driverID,
	})
	if err != nil {
		return models.Ride{}, m.transitionFailed(origin, driverID, rideID, verb, err)
	}
	observability.RidesTotal.WithLabelValues(string(to)).Inc()
	m.logger.Info("ride_"+string(to), "ride_id", r.ID, "driver_id", driverID)
	m.notify.RideStatus(r)
	m.notify.RideUpdated(ctx, r)
	return r, nil
}

// transitionFailed reports a rejected transition to the actor and maps
// store failures onto the upstream sentinel.
func (m *Manager) transitionFailed(origin registry.Channel, actorID, rideID, verb string, err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		m.notify.Error(origin, actorID, "Ride not found")
		return err
	case errors.Is(err, storage.ErrConflict):
		m.logger.Info("ride_"+verb+"_rejected", "ride_id", rideID, "actor_id", actorID, "error", err)
		m.notify.Error(origin, actorID, fmt.Sprintf("Ride cannot be %s", pastTense(verb)))
		return err
	default:
		m.logger.Error("ride_"+verb+"_failed", "ride_id", rideID, "actor_id", actorID, "error", err)
		m.notify.Error(origin, actorID, fmt.Sprintf("Failed to %s ride", verb))
		return fmt.Errorf("%w: %v", models.ErrUpstream, err)
	}
}

func pastTense(verb string) string {
	switch verb {
	case "cancel":
		return "cancelled"
	case "start":
		return "started"
	default:
		return verb + "d"
	}
}

// Get returns a single ride.
func (m *Manager) Get(ctx context.Context, rideID string) (models.Ride, error) {
	return m.store.GetRide(ctx, rideID)
}

// List returns rides newest first.
func (m *Manager) List(ctx context.Context, f models.RideFilter) ([]models.Ride, error) {
	return m.store.ListRides(ctx, f)
}
