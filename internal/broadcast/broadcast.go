package broadcast

import (
	"context"
	"log/slog"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/registry"
)

const (
	EventDriverUpdated   = "driver_updated"
	EventRideUpdated     = "ride_updated"
	EventNewRideRequest  = "new_ride_request"
	EventRideAccepted    = "ride_accepted"
	EventRideUnavailable = "ride_unavailable"
	EventRideCancelled   = "ride_cancelled"
	EventRideStatus      = "ride_status"
	EventDriverLocation  = "driver_location_update"
	EventNoDriversFound  = "no_drivers_found"
	EventError           = "error"
)

const (
	MsgRideTaken       = "Ride already taken"
	MsgRequestFailed   = "Failed to request ride"
	ReasonDriverCancel = "Driver cancelled the ride."
	ReasonSelfCancel   = "You cancelled the ride."
	ReasonRiderCancel  = "User cancelled the ride."
	ReasonAdminCancel  = "Ride cancelled by admin."
)

// Canceller identifies who cancelled a ride; it picks the reason each
// party is shown.
type Canceller string

const (
	CancelledByRider  Canceller = "rider"
	CancelledByDriver Canceller = "driver"
	CancelledByAdmin  Canceller = "admin"
)

// Message is one outbound event. Channel, when set, overrides Room and
// addresses the originating connection only.
type Message struct {
	Room    string
	Channel registry.Channel
	Event   string
	Payload any
}

// Publisher delivers messages to rooms or single channels.
type Publisher interface {
	Broadcast(room, event string, payload any) int
	Send(ch registry.Channel, event string, payload any) error
}

// Sink receives every ride state change for consumers outside the process.
type Sink interface {
	PublishRide(ctx context.Context, r models.Ride) error
}

// Broadcaster turns lifecycle facts into outbound messages. It holds no
// state of its own.
type Broadcaster struct {
	pub    Publisher
	sink   Sink
	logger *slog.Logger
}

func New(pub Publisher, sink Sink, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{pub: pub, sink: sink, logger: logger}
}

func (b *Broadcaster) publish(msgs ...Message) {
	for _, m := range msgs {
		if m.Channel != nil {
			_ = b.pub.Send(m.Channel, m.Event, m.Payload)
			continue
		}
		b.pub.Broadcast(m.Room, m.Event, m.Payload)
	}
}

func (b *Broadcaster) DriverUpdated(p models.DriverPresence) { b.publish(TranslateDriverUpdated(p)) }

// RideUpdated notifies admins and forwards the ride to the sink. A sink
// failure is logged and counted only.
func (b *Broadcaster) RideUpdated(ctx context.Context, r models.Ride) {
	b.publish(TranslateRideUpdated(r))
	if b.sink == nil {
		return
	}
	if err := b.sink.PublishRide(ctx, r); err != nil {
		observability.SinkErrors.Inc()
		b.logger.Warn("ride_sink_failed", "ride_id", r.ID, "status", r.Status, "error", err)
	}
}

func (b *Broadcaster) RideOffer(r models.Ride, c models.Candidate) {
	b.publish(TranslateRideOffer(r, c))
}

func (b *Broadcaster) RideAccepted(r models.Ride) { b.publish(TranslateRideAccepted(r)) }

// RideUnavailable answers the losing driver. A nil origin falls back to
// the driver's personal room.
func (b *Broadcaster) RideUnavailable(origin registry.Channel, driverID string) {
	b.publish(TranslateRideUnavailable(origin, driverID))
}

func (b *Broadcaster) RideCancelled(r models.Ride, by Canceller) {
	b.publish(TranslateRideCancelled(r, by)...)
}

func (b *Broadcaster) RideStatus(r models.Ride) { b.publish(TranslateRideStatus(r)) }

func (b *Broadcaster) DriverLocation(riderID string, loc models.Location) {
	b.publish(TranslateDriverLocation(riderID, loc))
}

func (b *Broadcaster) NoDriversFound(r models.Ride) { b.publish(TranslateNoDriversFound(r)) }

// Error reports a failure to origin, or to room when origin is nil.
func (b *Broadcaster) Error(origin registry.Channel, room, message string) {
	b.publish(TranslateError(origin, room, message))
}
