package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/example/ride-dispatch/internal/broadcast"
	"github.com/example/ride-dispatch/internal/matcher"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/registry"
	"github.com/example/ride-dispatch/internal/ride"
	"github.com/example/ride-dispatch/internal/storage"
)

type Options struct {
	RadiusMeters     float64
	BaseFare         float64
	GeohashPrecision uint
	Mirror           *presence.MirrorWriter
	Sink             broadcast.Sink
	Logger           *slog.Logger
}

// Service is the dispatch core. It is built once per process and owns
// the registry, presence store, broadcaster, matcher and ride manager.
type Service struct {
	store    storage.Store
	registry *registry.Registry
	presence *presence.Store
	notify   *broadcast.Broadcaster
	rides    *ride.Manager
	logger   *slog.Logger
}

func New(store storage.Store, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := registry.New(logger)

	popts := []presence.Option{presence.WithLogger(logger)}
	if opts.Mirror != nil {
		popts = append(popts, presence.WithMirror(opts.Mirror))
	}
	ps := presence.NewStore(opts.GeohashPrecision, popts...)

	b := broadcast.New(reg, opts.Sink, logger)
	m := &matcher.Service{Geo: ps, Offers: b, RadiusMeters: opts.RadiusMeters, Logger: logger}

	ropts := []ride.Option{ride.WithLogger(logger)}
	if opts.BaseFare > 0 {
		ropts = append(ropts, ride.WithBaseFare(opts.BaseFare))
	}
	return &Service{
		store:    store,
		registry: reg,
		presence: ps,
		notify:   b,
		rides:    ride.NewManager(store, b, m, ropts...),
		logger:   logger,
	}
}

func (s *Service) Registry() *registry.Registry { return s.registry }

func (s *Service) Presence() *presence.Store { return s.presence }

func (s *Service) Rides() *ride.Manager { return s.rides }

// HandleInbound decodes a raw frame and handles it. Decode failures are
// answered on origin.
func (s *Service) HandleInbound(ctx context.Context, origin registry.Channel, in registry.Inbound) error {
	cmd, err := Decode(in.Event, in.Data)
	if err != nil {
		observability.CommandsTotal.WithLabelValues(eventLabel(in.Event), outcome(err)).Inc()
		s.reply(origin, err)
		return err
	}
	return s.Handle(ctx, origin, cmd)
}

// Handle runs one command. origin may be nil for commands that do not
// arrive over a client connection.
func (s *Service) Handle(ctx context.Context, origin registry.Channel, cmd Command) error {
	err := s.handle(ctx, origin, cmd)
	observability.CommandsTotal.WithLabelValues(cmd.Event(), outcome(err)).Inc()
	if errors.Is(err, models.ErrValidation) {
		s.reply(origin, err)
	}
	if err != nil {
		s.logger.Debug("command_failed", "event", cmd.Event(), "error", err)
	}
	return err
}

func (s *Service) handle(ctx context.Context, origin registry.Channel, cmd Command) error {
	switch c := cmd.(type) {
	case JoinRoom:
		if origin == nil {
			return fmt.Errorf("%w: join_room needs a connection", models.ErrValidation)
		}
		s.registry.Register(c.Identity, origin)
		return nil

	case JoinAdmin:
		if origin == nil {
			return fmt.Errorf("%w: join_admin needs a connection", models.ErrValidation)
		}
		s.registry.Join(registry.AdminRoom, origin)
		return nil

	case DriverOnline:
		if c.Location == nil {
			return fmt.Errorf("%w: driver_online requires a location", models.ErrValidation)
		}
		p, err := s.presence.SetOnline(ctx, c.DriverID, *c.Location)
		if err != nil {
			return err
		}
		s.notify.DriverUpdated(p)
		return nil

	case DriverOffline:
		p, err := s.presence.SetOffline(ctx, c.DriverID)
		if err != nil {
			return err
		}
		s.notify.DriverUpdated(p)
		return nil

	case UpdateLocation:
		if c.Location == nil {
			return fmt.Errorf("%w: update_location requires a location", models.ErrValidation)
		}
		if _, err := s.presence.UpdateLocation(ctx, c.DriverID, *c.Location); err != nil {
			return err
		}
		if c.RiderID != "" {
			s.notify.DriverLocation(c.RiderID, *c.Location)
		}
		return nil

	case RequestRide:
		_, err := s.rides.CreateRide(ctx, ride.Request{
			RiderID:    c.RiderID,
			Pickup:     c.Pickup,
			Drop:       c.Drop,
			Fare:       c.Fare,
			DistanceKm: c.Distance,
		})
		return err

	case AcceptRide:
		_, err := s.rides.AcceptRide(ctx, origin, c.DriverID, c.RideID)
		return err

	case CancelRide:
		_, err := s.rides.CancelRide(ctx, origin, c.UserID, c.RideID, c.IsDriver)
		return err

	case AdminCancelRide:
		if origin == nil || !slices.Contains(s.registry.Rooms(origin), registry.AdminRoom) {
			return fmt.Errorf("%w: admin_cancel_ride requires join_admin", models.ErrValidation)
		}
		_, err := s.rides.AdminCancelRide(ctx, origin, c.RideID)
		return err

	case StartRide:
		_, err := s.rides.StartRide(ctx, origin, c.DriverID, c.RideID)
		return err

	case CompleteRide:
		_, err := s.rides.CompleteRide(ctx, origin, c.DriverID, c.RideID)
		return err

	default:
		return fmt.Errorf("%w: unsupported command %T", models.ErrValidation, cmd)
	}
}

// Disconnect forgets a closed connection. Presence is left as is.
func (s *Service) Disconnect(ch registry.Channel) {
	s.registry.Remove(ch)
}

func (s *Service) reply(origin registry.Channel, err error) {
	if origin == nil {
		return
	}
	s.notify.Error(origin, "", err.Error())
}

// Dashboard is the admin overview.
type Dashboard struct {
	Rides   []models.Ride           `json:"rides"`
	Drivers []models.DriverPresence `json:"drivers"`
}

func (s *Service) Dashboard(ctx context.Context, limit int) (Dashboard, error) {
	rides, err := s.rides.List(ctx, models.RideFilter{Limit: limit})
	if err != nil {
		return Dashboard{}, fmt.Errorf("%w: %v", models.ErrUpstream, err)
	}
	if rides == nil {
		rides = []models.Ride{}
	}
	return Dashboard{Rides: rides, Drivers: s.presence.Snapshot()}, nil
}

func (s *Service) PendingRides(ctx context.Context, limit int) ([]models.Ride, error) {
	rides, err := s.rides.List(ctx, models.RideFilter{Status: models.StatusRequested, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUpstream, err)
	}
	if rides == nil {
		rides = []models.Ride{}
	}
	return rides, nil
}

func (s *Service) Ready(ctx context.Context) error { return s.store.Ping(ctx) }

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, models.ErrValidation):
		return "invalid"
	case errors.Is(err, models.ErrConflict):
		return "conflict"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

// eventLabel keeps unknown client-supplied names out of metric labels.
func eventLabel(event string) string {
	switch event {
	case EventJoinRoom, EventJoinAdmin, EventDriverOnline, EventDriverOffline, EventUpdateLocation,
		EventRequestRide, EventAcceptRide, EventCancelRide, EventStartRide, EventCompleteRide, EventAdminCancel:
		return event
	}
	return "unknown"
}
