package service

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/example/ride-dispatch/internal/models"
)

// Inbound event names.
const (
	EventJoinRoom       = "join_room"
	EventJoinAdmin      = "join_admin"
	EventDriverOnline   = "driver_online"
	EventDriverOffline  = "driver_offline"
	EventUpdateLocation = "update_location"
	EventRequestRide    = "request_ride"
	EventAcceptRide     = "accept_ride"
	EventCancelRide     = "cancel_ride"
	EventStartRide      = "start_ride"
	EventCompleteRide   = "complete_ride"
	EventAdminCancel    = "admin_cancel_ride"
)

// Command is one decoded client command.
type Command interface {
	Event() string
}

type JoinRoom struct {
	Identity string
}

type JoinAdmin struct{}

type DriverOnline struct {
	DriverID string           `json:"driverId"`
	Location *models.Location `json:"location"`
}

type DriverOffline struct {
	DriverID string `json:"driverId"`
}

type UpdateLocation struct {
	DriverID string           `json:"driverId"`
	Location *models.Location `json:"location"`
	RiderID  string           `json:"riderId,omitempty"`
}

type RequestRide struct {
	RiderID  string       `json:"riderId"`
	Pickup   models.Place `json:"pickup"`
	Drop     models.Place `json:"drop"`
	Fare     float64      `json:"fare"`
	Distance float64      `json:"distance"`
}

type AcceptRide struct {
	DriverID string `json:"driverId"`
	RideID   string `json:"rideId"`
}

type CancelRide struct {
	RideID   string `json:"rideId"`
	UserID   string `json:"userId"`
	IsDriver bool   `json:"isDriver"`
}

type StartRide struct {
	DriverID string `json:"driverId"`
	RideID   string `json:"rideId"`
}

type CompleteRide struct {
	DriverID string `json:"driverId"`
	RideID   string `json:"rideId"`
}

// AdminCancelRide is only honoured on a connection that joined the admin room.
type AdminCancelRide struct {
	RideID string `json:"rideId"`
}

func (JoinRoom) Event() string        { return EventJoinRoom }
func (JoinAdmin) Event() string       { return EventJoinAdmin }
func (DriverOnline) Event() string    { return EventDriverOnline }
func (DriverOffline) Event() string   { return EventDriverOffline }
func (UpdateLocation) Event() string  { return EventUpdateLocation }
func (RequestRide) Event() string     { return EventRequestRide }
func (AcceptRide) Event() string      { return EventAcceptRide }
func (CancelRide) Event() string      { return EventCancelRide }
func (StartRide) Event() string       { return EventStartRide }
func (CompleteRide) Event() string    { return EventCompleteRide }
func (AdminCancelRide) Event() string { return EventAdminCancel }

// Decode turns an event name and its JSON payload into a Command. Unknown
// events and malformed payloads are validation errors.
func Decode(event string, data json.RawMessage) (Command, error) {
	switch event {
	case EventJoinRoom:
		return decodeJoinRoom(data)
	case EventJoinAdmin:
		return JoinAdmin{}, nil
	case EventDriverOnline:
		return decodeInto[DriverOnline](event, data)
	case EventDriverOffline:
		return decodeInto[DriverOffline](event, data)
	case EventUpdateLocation:
		return decodeInto[UpdateLocation](event, data)
	case EventRequestRide:
		return decodeInto[RequestRide](event, data)
	case EventAcceptRide:
		return decodeInto[AcceptRide](event, data)
	case EventCancelRide:
		return decodeInto[CancelRide](event, data)
	case EventStartRide:
		return decodeInto[StartRide](event, data)
	case EventCompleteRide:
		return decodeInto[CompleteRide](event, data)
	case EventAdminCancel:
		return decodeInto[AdminCancelRide](event, data)
	default:
		return nil, fmt.Errorf("%w: unknown event %q", models.ErrValidation, event)
	}
}

func decodeInto[T Command](event string, data json.RawMessage) (Command, error) {
	var cmd T
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s requires a payload", models.ErrValidation, event)
	}
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", models.ErrValidation, event, err)
	}
	return cmd, nil
}

// join_room carries the bare identity string; an object with userId is
// accepted too.
func decodeJoinRoom(data json.RawMessage) (Command, error) {
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		var obj struct {
			UserID string `json:"userId"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, fmt.Errorf("%w: join_room payload: %v", models.ErrValidation, err)
		}
		id = obj.UserID
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: join_room requires an identity", models.ErrValidation)
	}
	return JoinRoom{Identity: id}, nil
}
