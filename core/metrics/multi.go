package metrics

import (
	"time"

	"github.com/kilianp07/smartzone/core/model"
)

// MultiSink fans events out to multiple sinks. Sinks that do not implement an
// optional recorder are skipped for that event.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordRideTransition forwards the event to all sinks, returning the first error encountered.
func (m *MultiSink) RecordRideTransition(ev RideTransitionEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordRideTransition(ev); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiSink) RecordSurgeEvent(ev model.SurgeEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(SurgeRecorder); ok {
			if err := rec.RecordSurgeEvent(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *MultiSink) RecordGeofenceAlert(a model.GeofenceAlert) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(GeofenceRecorder); ok {
			if err := rec.RecordGeofenceAlert(a); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *MultiSink) RecordFleetSnapshot(snap FleetSnapshot) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(FleetRecorder); ok {
			if err := rec.RecordFleetSnapshot(snap); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *MultiSink) RecordTickDuration(d time.Duration) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(TickRecorder); ok {
			if err := rec.RecordTickDuration(d); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *MultiSink) RecordForecast(p []model.DemandPrediction) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(ForecastRecorder); ok {
			if err := rec.RecordForecast(p); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close closes every sink that holds a connection.
func (m *MultiSink) Close() {
	for _, s := range m.Sinks {
		if c, ok := s.(interface{ Close() }); ok {
			c.Close()
		}
	}
}
