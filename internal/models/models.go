package models

import "time"

// Location is a WGS-84 coordinate.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Place is a pickup or drop point as entered by the rider.
type Place struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address"`
}

func (p Place) Location() Location { return Location{Lat: p.Lat, Lng: p.Lng} }

type Role string

const (
	RoleRider  Role = "rider"
	RoleDriver Role = "driver"
	RoleAdmin  Role = "admin"
)

// Profile is the externally owned account record. The dispatch core only
// ever reads it or inserts a placeholder for a missing rider.
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Mobile    string    `json:"mobile"`
	FullName  string    `json:"full_name"`
	Role      Role      `json:"user_type"`
	CreatedAt time.Time `json:"created_at"`
}

// DriverPresence is the online flag and last known coordinate of a driver.
type DriverPresence struct {
	DriverID  string    `json:"driverId"`
	Online    bool      `json:"is_online"`
	Location  *Location `json:"location"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Candidate is one result of a proximity query.
type Candidate struct {
	DriverID       string   `json:"driverId"`
	Location       Location `json:"location"`
	DistanceMeters float64  `json:"distance"`
}

type Ride struct {
	ID            string     `json:"id"`
	RiderID       string     `json:"rider_id"`
	DriverID      *string    `json:"driver_id"`
	PickupLat     float64    `json:"pickup_lat"`
	PickupLng     float64    `json:"pickup_lng"`
	PickupAddress string     `json:"pickup_address"`
	DropLat       float64    `json:"drop_lat"`
	DropLng       float64    `json:"drop_lng"`
	DropAddress   string     `json:"drop_address"`
	Fare          float64    `json:"fare"`
	DistanceKm    float64    `json:"distance_km"`
	Status        RideStatus `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (r Ride) Pickup() Place {
	return Place{Lat: r.PickupLat, Lng: r.PickupLng, Address: r.PickupAddress}
}

func (r Ride) Drop() Place {
	return Place{Lat: r.DropLat, Lng: r.DropLng, Address: r.DropAddress}
}

// AssignedDriver returns the bound driver id or "" while unassigned.
func (r Ride) AssignedDriver() string {
	if r.DriverID == nil {
		return ""
	}
	return *r.DriverID
}

// RideFilter narrows a ride listing. Zero values match everything.
type RideFilter struct {
	Status  RideStatus
	RiderID string
	Limit   int
}
