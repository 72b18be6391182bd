package model

import (
	"time"

	"github.com/kilianp07/smartzone/core/geo"
)

// MaxDemandLevel is the upper bound of Zone.DemandLevel.
const MaxDemandLevel = 10

// Zone is a hexagonal cell of the grid with its live demand/supply state.
type Zone struct {
	ID              string      `json:"zone_id" bson:"zone_id"`
	Center          geo.Point   `json:"center" bson:"center"`
	Boundary        geo.Polygon `json:"boundary" bson:"boundary"`
	DemandLevel     int         `json:"demand_level" bson:"demand_level"`
	IsSurge         bool        `json:"is_surge" bson:"is_surge"`
	CurrentRequests int         `json:"current_requests" bson:"current_requests"`
	DriversCount    int         `json:"drivers_count" bson:"drivers_count"`
	AverageWaitTime float64     `json:"average_wait_time" bson:"average_wait_time"`
}

// SurgeEvent is an append-only record of a surge state flip.
type SurgeEvent struct {
	ZoneID      string    `json:"zone_id" bson:"zone_id"`
	Timestamp   time.Time `json:"timestamp" bson:"timestamp"`
	DemandLevel int       `json:"demand_level" bson:"demand_level"`
	Multiplier  float64   `json:"multiplier" bson:"multiplier"`
	Active      bool      `json:"active" bson:"active"`
	Ratio       float64   `json:"demand_supply_ratio" bson:"demand_supply_ratio"`
}

// SurgeZone summarises a zone currently in surge.
type SurgeZone struct {
	ZoneID      string  `json:"zone_id"`
	DemandLevel int     `json:"demand_level"`
	Multiplier  float64 `json:"multiplier"`
}

// AlertType tells whether a driver entered or left a surge zone.
type AlertType string

const (
	AlertEnter AlertType = "enter"
	AlertExit  AlertType = "exit"
)

// GeofenceAlert is raised when a driver crosses a surge boundary.
type GeofenceAlert struct {
	DriverID  string    `json:"driver_id"`
	ZoneID    string    `json:"zone_id"`
	Type      AlertType `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// DemandPrediction is a forecast of ride requests for a zone and hour.
type DemandPrediction struct {
	ZoneID          string    `json:"zone_id"`
	Timestamp       time.Time `json:"timestamp"`
	PredictedDemand float64   `json:"predicted_demand"`
	Confidence      float64   `json:"confidence"`
}
