// Package geofence detects drivers crossing surge zone boundaries.
package geofence

import (
	"context"
	"sync"
	"time"

	"github.com/kilianp07/smartzone/core/broadcast"
	"github.com/kilianp07/smartzone/core/logger"
	"github.com/kilianp07/smartzone/core/metrics"
	"github.com/kilianp07/smartzone/core/model"
)

// DefaultDedupCapacity bounds the number of remembered alerts.
const DefaultDedupCapacity = 1000

// SurgeLookup reports the surge flag of a zone and whether it is known.
type SurgeLookup interface {
	SurgeFlag(zoneID string) (surge bool, ok bool)
}

// ZoneAssigner records the zone a driver currently occupies.
type ZoneAssigner interface {
	SetZone(driverID, zoneID string) error
}

// Tracker raises ENTER/EXIT alerts when a driver crosses between surge and
// non-surge zones. Repeated alerts for the same driver, zone and type are
// suppressed while the key is still in the dedup ring.
type Tracker struct {
	zones   SurgeLookup
	assign  ZoneAssigner
	sink    broadcast.Sink
	metrics metrics.MetricsSink
	logger  logger.Logger
	now     func() time.Time

	mu   sync.Mutex
	seen *ring
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the alert timestamp source.
func WithClock(now func() time.Time) Option { return func(t *Tracker) { t.now = now } }

// WithMetrics records alerts on m.
func WithMetrics(m metrics.MetricsSink) Option { return func(t *Tracker) { t.metrics = m } }

// WithSink broadcasts alerts on s.
func WithSink(s broadcast.Sink) Option { return func(t *Tracker) { t.sink = s } }

// NewTracker creates a tracker remembering up to capacity alerts.
func NewTracker(zones SurgeLookup, assign ZoneAssigner, capacity int, log logger.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		zones:   zones,
		assign:  assign,
		sink:    broadcast.NopSink{},
		metrics: metrics.NopSink{},
		logger:  log,
		now:     func() time.Time { return time.Now().UTC() },
		seen:    newRing(capacity),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// CheckZoneTransition handles a driver moving from oldZone to newZone and
// reports whether the move entered a surge zone. Unknown zones are ignored.
func (t *Tracker) CheckZoneTransition(ctx context.Context, driverID, oldZone, newZone string) bool {
	if oldZone == newZone {
		return false
	}
	oldSurge, ok := t.zones.SurgeFlag(oldZone)
	if !ok {
		return false
	}
	newSurge, ok := t.zones.SurgeFlag(newZone)
	if !ok {
		return false
	}
	entering := !oldSurge && newSurge
	leaving := oldSurge && !newSurge
	defer t.setZone(driverID, newZone)
	if !entering && !leaving {
		return false
	}

	key := eventKey{driverID: driverID, zoneID: newZone, kind: model.AlertEnter}
	if leaving {
		key = eventKey{driverID: driverID, zoneID: oldZone, kind: model.AlertExit}
	}
	t.mu.Lock()
	dup := t.seen.contains(key)
	if !dup {
		t.seen.add(key)
	}
	t.mu.Unlock()
	if dup {
		t.logger.Debugf("suppressed duplicate %s alert for driver %s in %s", key.kind, driverID, key.zoneID)
		return entering
	}

	alert := model.GeofenceAlert{DriverID: driverID, ZoneID: key.zoneID, Type: key.kind, Timestamp: t.now()}
	t.logger.Infof("geofence alert: driver %s %s surge zone %s", driverID, key.kind, key.zoneID)
	if rec, ok := t.metrics.(metrics.GeofenceRecorder); ok {
		if err := rec.RecordGeofenceAlert(alert); err != nil {
			t.logger.Warnf("record geofence alert: %v", err)
		}
	}
	if err := t.sink.Publish(ctx, broadcast.NewMessage(broadcast.GeofenceAlert, alert, alert.Timestamp)); err != nil {
		t.logger.Debugf("broadcast geofence alert: %v", err)
	}
	return entering
}

// Remembered returns the number of alert keys currently in the dedup ring.
func (t *Tracker) Remembered() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seen.len()
}

func (t *Tracker) setZone(driverID, zoneID string) {
	if t.assign == nil {
		return
	}
	if err := t.assign.SetZone(driverID, zoneID); err != nil {
		t.logger.Warnf("assign zone %s to driver %s: %v", zoneID, driverID, err)
	}
}
