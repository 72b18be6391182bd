package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/smartzone/core/metrics"
	"github.com/kilianp07/smartzone/core/model"
)

// PromSink exposes simulation events as Prometheus metrics.
type PromSink struct {
	transitions *prometheus.CounterVec
	fares       prometheus.Histogram
	surgeEvents *prometheus.CounterVec
	multiplier  *prometheus.GaugeVec
	alerts      *prometheus.CounterVec
	drivers     *prometheus.GaugeVec
	requests    *prometheus.GaugeVec
	tick        prometheus.Histogram
	forecast    *prometheus.GaugeVec
}

// NewPromSink registers the metrics on the default Prometheus registerer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on reg. A nil registerer defaults
// to the global one. Collectors already registered are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smartzone_ride_transitions_total",
			Help: "Ride request status transitions",
		}, []string{"from", "to"}),
		fares: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "smartzone_ride_fare",
			Help:    "Estimated fare of completed rides",
			Buckets: prometheus.LinearBuckets(5, 5, 6),
		}),
		surgeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smartzone_surge_events_total",
			Help: "Surge activations and deactivations",
		}, []string{"active"}),
		multiplier: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "smartzone_surge_multiplier",
			Help: "Current surge multiplier per zone",
		}, []string{"zone"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smartzone_geofence_alerts_total",
			Help: "Drivers entering or leaving surge zones",
		}, []string{"type"}),
		drivers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "smartzone_drivers",
			Help: "Drivers per status",
		}, []string{"status"}),
		requests: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "smartzone_active_requests",
			Help: "Active ride requests by state",
		}, []string{"state"}),
		tick: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "smartzone_motion_tick_seconds",
			Help:    "Processing time of a motion tick",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 10),
		}),
		forecast: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "smartzone_forecast_demand",
			Help: "Predicted requests for the next hour per zone",
		}, []string{"zone"}),
	}

	var err error
	if s.transitions, err = register(reg, s.transitions); err != nil {
		return nil, err
	}
	if s.fares, err = register(reg, s.fares); err != nil {
		return nil, err
	}
	if s.surgeEvents, err = register(reg, s.surgeEvents); err != nil {
		return nil, err
	}
	if s.multiplier, err = register(reg, s.multiplier); err != nil {
		return nil, err
	}
	if s.alerts, err = register(reg, s.alerts); err != nil {
		return nil, err
	}
	if s.drivers, err = register(reg, s.drivers); err != nil {
		return nil, err
	}
	if s.requests, err = register(reg, s.requests); err != nil {
		return nil, err
	}
	if s.tick, err = register(reg, s.tick); err != nil {
		return nil, err
	}
	if s.forecast, err = register(reg, s.forecast); err != nil {
		return nil, err
	}
	return s, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordRideTransition counts the transition and observes the fare of
// completed rides.
func (s *PromSink) RecordRideTransition(ev coremetrics.RideTransitionEvent) error {
	from := string(ev.From)
	if from == "" {
		from = "new"
	}
	s.transitions.WithLabelValues(from, string(ev.To)).Inc()
	if ev.To == model.RequestCompleted {
		s.fares.Observe(ev.Fare)
	}
	return nil
}

// RecordSurgeEvent counts the flip and updates the zone multiplier.
func (s *PromSink) RecordSurgeEvent(ev model.SurgeEvent) error {
	if ev.Active {
		s.surgeEvents.WithLabelValues("true").Inc()
		s.multiplier.WithLabelValues(ev.ZoneID).Set(ev.Multiplier)
		return nil
	}
	s.surgeEvents.WithLabelValues("false").Inc()
	s.multiplier.DeleteLabelValues(ev.ZoneID)
	return nil
}

// RecordGeofenceAlert counts the alert by type.
func (s *PromSink) RecordGeofenceAlert(a model.GeofenceAlert) error {
	s.alerts.WithLabelValues(string(a.Type)).Inc()
	return nil
}

// RecordFleetSnapshot sets the driver and request gauges.
func (s *PromSink) RecordFleetSnapshot(snap coremetrics.FleetSnapshot) error {
	s.drivers.WithLabelValues(string(model.DriverAvailable)).Set(float64(snap.Available))
	s.drivers.WithLabelValues(string(model.DriverBusy)).Set(float64(snap.Busy))
	s.drivers.WithLabelValues(string(model.DriverOffline)).Set(float64(snap.Offline))
	s.requests.WithLabelValues("pending").Set(float64(snap.Pending))
	s.requests.WithLabelValues("matched").Set(float64(snap.Active))
	return nil
}

// RecordTickDuration observes the tick processing time.
func (s *PromSink) RecordTickDuration(d time.Duration) error {
	s.tick.Observe(d.Seconds())
	return nil
}

// RecordForecast sets the predicted demand per zone.
func (s *PromSink) RecordForecast(preds []model.DemandPrediction) error {
	for _, p := range preds {
		s.forecast.WithLabelValues(p.ZoneID).Set(p.PredictedDemand)
	}
	return nil
}
