package broadcast

import (
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/registry"
)

type DriverUpdatedPayload struct {
	DriverID string  `json:"driverId"`
	Online   bool    `json:"is_online"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
}

type RideOfferPayload struct {
	RideID   string       `json:"rideId"`
	RiderID  string       `json:"riderId"`
	Pickup   models.Place `json:"pickup"`
	Drop     models.Place `json:"drop"`
	Fare     float64      `json:"fare"`
	Distance float64      `json:"distance"`
}

// RideAcceptedPayload flattens the accepted ride next to the two ids the
// rider client keys on.
type RideAcceptedPayload struct {
	DriverID string `json:"driverId"`
	RideID   string `json:"rideId"`
	models.Ride
}

type MessagePayload struct {
	Message string `json:"message"`
}

type CancelledPayload struct {
	Reason string `json:"reason"`
}

type RideStatusPayload struct {
	RideID string            `json:"rideId"`
	Status models.RideStatus `json:"status"`
	Ride   models.Ride       `json:"ride"`
}

func TranslateDriverUpdated(p models.DriverPresence) Message {
	pl := DriverUpdatedPayload{DriverID: p.DriverID, Online: p.Online}
	if p.Location != nil {
		pl.Lat, pl.Lng = p.Location.Lat, p.Location.Lng
	}
	return Message{Room: registry.AdminRoom, Event: EventDriverUpdated, Payload: pl}
}

func TranslateRideUpdated(r models.Ride) Message {
	return Message{Room: registry.AdminRoom, Event: EventRideUpdated, Payload: r}
}

func TranslateRideOffer(r models.Ride, c models.Candidate) Message {
	return Message{Room: c.DriverID, Event: EventNewRideRequest, Payload: RideOfferPayload{
		RideID:   r.ID,
		RiderID:  r.RiderID,
		Pickup:   r.Pickup(),
		Drop:     r.Drop(),
		Fare:     r.Fare,
		Distance: c.DistanceMeters,
	}}
}

func TranslateRideAccepted(r models.Ride) Message {
	return Message{Room: r.RiderID, Event: EventRideAccepted, Payload: RideAcceptedPayload{
		DriverID: r.AssignedDriver(),
		RideID:   r.ID,
		Ride:     r,
	}}
}

func TranslateRideUnavailable(origin registry.Channel, driverID string) Message {
	return Message{Room: driverID, Channel: origin, Event: EventRideUnavailable, Payload: MessagePayload{Message: MsgRideTaken}}
}

// TranslateRideCancelled always addresses the rider. The assigned driver is
// told too unless they cancelled it themselves.
func TranslateRideCancelled(r models.Ride, by Canceller) []Message {
	riderReason, driverReason := ReasonSelfCancel, ReasonRiderCancel
	switch by {
	case CancelledByDriver:
		riderReason = ReasonDriverCancel
	case CancelledByAdmin:
		riderReason, driverReason = ReasonAdminCancel, ReasonAdminCancel
	}
	out := []Message{{Room: r.RiderID, Event: EventRideCancelled, Payload: CancelledPayload{Reason: riderReason}}}
	if by != CancelledByDriver && r.AssignedDriver() != "" {
		out = append(out, Message{Room: r.AssignedDriver(), Event: EventRideCancelled, Payload: CancelledPayload{Reason: driverReason}})
	}
	return out
}

func TranslateRideStatus(r models.Ride) Message {
	return Message{Room: r.RiderID, Event: EventRideStatus, Payload: RideStatusPayload{RideID: r.ID, Status: r.Status, Ride: r}}
}

func TranslateDriverLocation(riderID string, loc models.Location) Message {
	return Message{Room: riderID, Event: EventDriverLocation, Payload: loc}
}

func TranslateNoDriversFound(r models.Ride) Message {
	return Message{Room: r.RiderID, Event: EventNoDriversFound, Payload: nil}
}

func TranslateError(origin registry.Channel, room, message string) Message {
	return Message{Room: room, Channel: origin, Event: EventError, Payload: MessagePayload{Message: message}}
}
