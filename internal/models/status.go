package models

type RideStatus string

const (
	StatusRequested RideStatus = "requested"
	StatusAccepted  RideStatus = "accepted"
	StatusOngoing   RideStatus = "ongoing"
	StatusCompleted RideStatus = "completed"
	StatusCancelled RideStatus = "cancelled"
)

// transitions lists, for every target status, the statuses it may be reached from.
var transitions = map[RideStatus][]RideStatus{
	StatusAccepted:  {StatusRequested},
	StatusOngoing:   {StatusAccepted},
	StatusCompleted: {StatusOngoing},
	StatusCancelled: {StatusRequested, StatusAccepted, StatusOngoing},
}

// SourcesFor returns the statuses from which to is reachable.
func SourcesFor(to RideStatus) []RideStatus {
	src := transitions[to]
	out := make([]RideStatus, len(src))
	copy(out, src)
	return out
}

func CanTransition(from, to RideStatus) bool {
	for _, s := range transitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

func (s RideStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// HasDriver reports whether a ride in this status must carry a driver id.
func (s RideStatus) HasDriver() bool {
	return s == StatusAccepted || s == StatusOngoing || s == StatusCompleted
}

func (s RideStatus) Valid() bool {
	switch s {
	case StatusRequested, StatusAccepted, StatusOngoing, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}
