package model

import (
	"time"

	"github.com/kilianp07/smartzone/core/geo"
)

// DriverStatus is the availability state of a driver.
type DriverStatus string

const (
	DriverOffline   DriverStatus = "offline"
	DriverAvailable DriverStatus = "available"
	// DriverBusy means picking up or carrying a passenger.
	DriverBusy DriverStatus = "busy"
)

// Valid reports whether s is a known status.
func (s DriverStatus) Valid() bool {
	return s == DriverOffline || s == DriverAvailable || s == DriverBusy
}

// Driver is a simulated agent roaming the zone grid.
type Driver struct {
	ID          string       `json:"id" bson:"id"`
	Name        string       `json:"name" bson:"name"`
	VehicleType string       `json:"vehicle_type" bson:"vehicle_type"`
	Location    geo.Point    `json:"location" bson:"location"`
	Heading     float64      `json:"heading" bson:"heading"` // degrees, [0,360)
	Speed       float64      `json:"speed" bson:"speed"`     // km/h
	Status      DriverStatus `json:"status" bson:"status"`
	CurrentZone string       `json:"current_zone,omitempty" bson:"current_zone,omitempty"`
	Destination *geo.Point   `json:"destination,omitempty" bson:"destination,omitempty"`
	LastUpdated time.Time    `json:"last_updated" bson:"last_updated"`
}

// Clone returns a deep copy of the driver.
func (d Driver) Clone() Driver {
	if d.Destination != nil {
		dst := *d.Destination
		d.Destination = &dst
	}
	return d
}
