package metrics

import (
	"fmt"
	"time"

	"github.com/kilianp07/smartzone/core/model"
)

func errMissingType(i int) error { return fmt.Errorf("metrics.sinks[%d]: type is required", i) }

// RideTransitionEvent records one status change of a ride request.
type RideTransitionEvent struct {
	RequestID string
	DriverID  string
	Zone      string
	From      model.RequestStatus
	To        model.RequestStatus
	Fare      float64
	Time      time.Time
}

// MetricsSink is the minimal sink every backend implements.
type MetricsSink interface {
	RecordRideTransition(ev RideTransitionEvent) error
}

// SurgeRecorder records surge state flips.
type SurgeRecorder interface {
	RecordSurgeEvent(ev model.SurgeEvent) error
}

// GeofenceRecorder records surge boundary crossings.
type GeofenceRecorder interface {
	RecordGeofenceAlert(a model.GeofenceAlert) error
}

// FleetSnapshot summarises the fleet after a motion tick.
type FleetSnapshot struct {
	Available int
	Busy      int
	Offline   int
	Pending   int
	Active    int
	Time      time.Time
}

// FleetRecorder records fleet snapshots.
type FleetRecorder interface {
	RecordFleetSnapshot(s FleetSnapshot) error
}

// TickRecorder records the processing time of a motion tick.
type TickRecorder interface {
	RecordTickDuration(d time.Duration) error
}

// ForecastRecorder records demand predictions.
type ForecastRecorder interface {
	RecordForecast(p []model.DemandPrediction) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordRideTransition(RideTransitionEvent) error { return nil }
func (NopSink) RecordSurgeEvent(model.SurgeEvent) error        { return nil }
func (NopSink) RecordGeofenceAlert(model.GeofenceAlert) error  { return nil }
func (NopSink) RecordFleetSnapshot(FleetSnapshot) error        { return nil }
func (NopSink) RecordTickDuration(time.Duration) error         { return nil }
func (NopSink) RecordForecast([]model.DemandPrediction) error  { return nil }
