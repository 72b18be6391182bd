// Package motion advances drivers across the zone grid once per tick.
package motion

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/kilianp07/smartzone/core/fleet"
	"github.com/kilianp07/smartzone/core/geo"
	"github.com/kilianp07/smartzone/core/logger"
	"github.com/kilianp07/smartzone/core/metrics"
	"github.com/kilianp07/smartzone/core/model"
	"github.com/kilianp07/smartzone/core/zone"
)

// Config holds the kinematic parameters.
type Config struct {
	// ArrivalThreshold is the planar distance in degrees under which a
	// destination counts as reached (0.0005 is about 50 m).
	ArrivalThreshold float64 `json:"arrival_threshold"`
	MaxTurnDeg       float64 `json:"max_turn_deg"`
	WanderJitter     float64 `json:"wander_jitter"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.ArrivalThreshold == 0 {
		c.ArrivalThreshold = 0.0005
	}
	if c.MaxTurnDeg == 0 {
		c.MaxTurnDeg = 30
	}
	if c.WanderJitter == 0 {
		c.WanderJitter = 0.002
	}
}

// Validate checks the parameters.
func (c Config) Validate() error {
	if c.ArrivalThreshold <= 0 {
		return fmt.Errorf("arrival_threshold must be positive")
	}
	if c.MaxTurnDeg <= 0 || c.MaxTurnDeg > 180 {
		return fmt.Errorf("max_turn_deg must be within (0,180]")
	}
	if c.WanderJitter < 0 {
		return fmt.Errorf("wander_jitter must not be negative")
	}
	return nil
}

// Transitioner is told about every zone change.
type Transitioner interface {
	CheckZoneTransition(ctx context.Context, driverID, oldZone, newZone string) bool
}

// DriverSaver persists driver snapshots.
type DriverSaver interface {
	SaveDriver(ctx context.Context, d model.Driver) error
}

// Model moves the fleet. Tick must not be called concurrently.
type Model struct {
	cfg      Config
	grid     *zone.Grid
	zones    *zone.Registry
	fleet    *fleet.Registry
	geofence Transitioner
	store    DriverSaver
	metrics  metrics.MetricsSink
	logger   logger.Logger
	rng      *rand.Rand
	targets  []string
}

// New creates a motion model. Wander targets are drawn from targets, or from
// every grid zone when targets is empty.
func New(cfg Config, grid *zone.Grid, zones *zone.Registry, fl *fleet.Registry, gf Transitioner,
	st DriverSaver, m metrics.MetricsSink, log logger.Logger, rng *rand.Rand, targets []string) *Model {
	if len(targets) == 0 {
		targets = grid.IDs()
	}
	if m == nil {
		m = metrics.NopSink{}
	}
	return &Model{cfg: cfg, grid: grid, zones: zones, fleet: fl, geofence: gf, store: st,
		metrics: m, logger: log, rng: rng, targets: targets}
}

// Step applies the kinematic update to d for the elapsed simulated time:
// pick a wander target when idle, clear a reached destination or steer toward
// it, then move along the heading. A busy driver without a destination waits
// in place for its next leg.
func (m *Model) Step(d *model.Driver, elapsed time.Duration) {
	if d.Status == model.DriverOffline {
		return
	}
	if d.Destination == nil && d.Status == model.DriverAvailable {
		d.Destination = m.wanderTarget()
	}
	if d.Destination != nil {
		if geo.PlanarDistance(d.Location, *d.Destination) < m.cfg.ArrivalThreshold {
			d.Destination = nil
		} else {
			target := geo.Bearing(d.Location, *d.Destination)
			d.Heading = geo.AdjustHeading(d.Heading, target, m.cfg.MaxTurnDeg)
		}
	}
	if d.Destination == nil && d.Status == model.DriverBusy {
		return
	}
	d.Location = geo.Advance(d.Location, d.Heading, d.Speed, elapsed)
}

func (m *Model) wanderTarget() *geo.Point {
	if len(m.targets) == 0 {
		return nil
	}
	id := m.targets[m.rng.IntN(len(m.targets))]
	c, err := m.grid.CenterOf(id)
	if err != nil {
		m.logger.Debugf("wander target %s: %v", id, err)
		return nil
	}
	j := m.cfg.WanderJitter
	return &geo.Point{
		Lon: c.Lon + (m.rng.Float64()*2-1)*j,
		Lat: c.Lat + (m.rng.Float64()*2-1)*j,
	}
}

// Tick moves every non-offline driver once, reports zone changes, persists
// the drivers and then refreshes the per-zone driver counts.
func (m *Model) Tick(ctx context.Context, elapsed time.Duration, now time.Time) error {
	for _, snapshot := range m.fleet.Drivers() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if snapshot.Status == model.DriverOffline {
			continue
		}
		var oldZone string
		d, err := m.fleet.UpdateDriver(snapshot.ID, func(d *model.Driver) {
			oldZone = d.CurrentZone
			m.Step(d, elapsed)
			d.CurrentZone = m.grid.CellFor(d.Location)
			d.LastUpdated = now
		})
		if err != nil {
			m.logger.Debugf("motion: %v", err)
			continue
		}
		if d.CurrentZone != oldZone && m.geofence != nil {
			m.geofence.CheckZoneTransition(ctx, d.ID, oldZone, d.CurrentZone)
		}
		if m.store != nil {
			if err := m.store.SaveDriver(ctx, d); err != nil {
				m.logger.Warnf("save driver %s: %v", d.ID, err)
			}
		}
	}
	m.zones.SetDriverCounts(m.fleet.CountByZone())
	m.recordSnapshot(now)
	return nil
}

func (m *Model) recordSnapshot(now time.Time) {
	rec, ok := m.metrics.(metrics.FleetRecorder)
	if !ok {
		return
	}
	counts := m.fleet.StatusCounts()
	snap := metrics.FleetSnapshot{
		Available: counts[model.DriverAvailable],
		Busy:      counts[model.DriverBusy],
		Offline:   counts[model.DriverOffline],
		Time:      now,
	}
	for _, r := range m.fleet.ActiveRequests() {
		if r.Status == model.RequestPending {
			snap.Pending++
		} else {
			snap.Active++
		}
	}
	if err := rec.RecordFleetSnapshot(snap); err != nil {
		m.logger.Warnf("record fleet snapshot: %v", err)
	}
}
