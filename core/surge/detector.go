// Package surge recomputes per-zone demand and flips surge pricing on or off.
package surge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/smartzone/core/broadcast"
	"github.com/kilianp07/smartzone/core/logger"
	"github.com/kilianp07/smartzone/core/metrics"
	"github.com/kilianp07/smartzone/core/model"
	"github.com/kilianp07/smartzone/core/zone"
)

const (
	// RatioThreshold is the demand/supply ratio a zone must exceed to surge.
	RatioThreshold = 1.5
	MinMultiplier  = 1.0
	MaxMultiplier  = 3.0
)

// Config holds the detector parameters.
type Config struct {
	Threshold int           `json:"threshold"`
	Window    time.Duration `json:"window"`
	Interval  time.Duration `json:"interval"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.Threshold == 0 {
		c.Threshold = 5
	}
	if c.Window == 0 {
		c.Window = 10 * time.Minute
	}
	if c.Interval == 0 {
		c.Interval = 5 * time.Second
	}
}

// Validate checks the parameters.
func (c Config) Validate() error {
	if c.Threshold < 1 {
		return fmt.Errorf("surge threshold must be at least 1")
	}
	if c.Window <= 0 || c.Interval <= 0 {
		return fmt.Errorf("surge window and interval must be positive")
	}
	return nil
}

// Ratio is requests over available drivers, with the driver count floored to 1.
func Ratio(requests, drivers int) float64 {
	return float64(requests) / float64(max(1, drivers))
}

// DemandLevel maps the demand/supply ratio onto 0..10.
func DemandLevel(requests, drivers int) int {
	level := int(math.Floor(Ratio(requests, drivers) * 2))
	return min(model.MaxDemandLevel, max(0, level))
}

// Active reports whether a zone should surge. There is a single threshold for
// entering and leaving, so zones near it may flap.
func Active(requests, drivers, threshold int) bool {
	return requests >= threshold && Ratio(requests, drivers) > RatioThreshold
}

// Multiplier converts a demand level into a price multiplier in [1,3],
// rounded to one decimal.
func Multiplier(level int) float64 {
	m := 1.0 + float64(level)/10*2.0
	m = math.Max(MinMultiplier, math.Min(MaxMultiplier, m))
	return math.Round(m*10) / 10
}

// RequestCounter counts requests by pickup zone.
type RequestCounter interface {
	CountRequests(ctx context.Context, pickupZone string, since time.Time) (int, error)
}

// SupplyCounter counts available drivers in a zone.
type SupplyCounter interface {
	AvailableInZone(zoneID string) int
}

// EventStore persists surge history and zone state.
type EventStore interface {
	RequestCounter
	AppendSurgeEvent(ctx context.Context, ev model.SurgeEvent) error
	SaveZone(ctx context.Context, z model.Zone) error
}

// Detector evaluates every zone on each run. Zone state lives in the zone
// registry; the detector keeps the active multiplier table.
type Detector struct {
	cfg     Config
	zones   *zone.Registry
	supply  SupplyCounter
	store   EventStore
	sink    broadcast.Sink
	metrics metrics.MetricsSink
	logger  logger.Logger
	now     func() time.Time

	mu     sync.RWMutex
	active map[string]model.SurgeZone
}

// NewDetector creates a detector. A nil sink or metrics sink disables that output.
func NewDetector(cfg Config, zones *zone.Registry, supply SupplyCounter, st EventStore,
	sink broadcast.Sink, m metrics.MetricsSink, log logger.Logger) *Detector {
	if sink == nil {
		sink = broadcast.NopSink{}
	}
	if m == nil {
		m = metrics.NopSink{}
	}
	return &Detector{
		cfg: cfg, zones: zones, supply: supply, store: st, sink: sink, metrics: m, logger: log,
		now:    func() time.Time { return time.Now().UTC() },
		active: map[string]model.SurgeZone{},
	}
}

// SetClock overrides the time source used for the window and event timestamps.
func (d *Detector) SetClock(now func() time.Time) { d.now = now }

// Reset forgets every active surge.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.active = map[string]model.SurgeZone{}
	d.mu.Unlock()
}

// Evaluate recomputes demand for every zone and applies surge flips. Failures
// for one zone do not stop the others; they are joined in the returned error.
func (d *Detector) Evaluate(ctx context.Context) error {
	now := d.now()
	since := now.Add(-d.cfg.Window)
	var errs []error
	for _, z := range d.zones.Snapshot() {
		if err := ctx.Err(); err != nil {
			return err
		}
		requests, err := d.store.CountRequests(ctx, z.ID, since)
		if err != nil {
			errs = append(errs, fmt.Errorf("count requests in %s: %w", z.ID, err))
			continue
		}
		drivers := d.supply.AvailableInZone(z.ID)
		level := DemandLevel(requests, drivers)
		surge := Active(requests, drivers, d.cfg.Threshold)
		d.zones.SetDemand(z.ID, level)
		if surge == z.IsSurge {
			continue
		}
		if err := d.flip(ctx, z, surge, level, Ratio(requests, drivers), now); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Detector) flip(ctx context.Context, z model.Zone, surge bool, level int, ratio float64, now time.Time) error {
	mult := 1.0
	if surge {
		mult = Multiplier(level)
	}
	ev := model.SurgeEvent{
		ZoneID:      z.ID,
		Timestamp:   now,
		DemandLevel: level,
		Multiplier:  mult,
		Active:      surge,
		Ratio:       ratio,
	}
	d.zones.SetSurge(z.ID, surge, level)

	d.mu.Lock()
	if surge {
		d.active[z.ID] = model.SurgeZone{ZoneID: z.ID, DemandLevel: level, Multiplier: mult}
	} else {
		delete(d.active, z.ID)
	}
	d.mu.Unlock()

	if surge {
		d.logger.Infof("surge activated in %s: demand %d, ratio %.2f, multiplier %.1f", z.ID, level, ratio, mult)
	} else {
		d.logger.Infof("surge deactivated in %s: demand %d, ratio %.2f", z.ID, level, ratio)
	}
	if rec, ok := d.metrics.(metrics.SurgeRecorder); ok {
		if err := rec.RecordSurgeEvent(ev); err != nil {
			d.logger.Warnf("record surge event: %v", err)
		}
	}
	_ = d.sink.Publish(ctx, broadcast.NewMessage(broadcast.SurgeEvent, ev, now))

	var errs []error
	if err := d.store.AppendSurgeEvent(ctx, ev); err != nil {
		errs = append(errs, fmt.Errorf("append surge event for %s: %w", z.ID, err))
	}
	if updated, ok := d.zones.Get(z.ID); ok {
		if err := d.store.SaveZone(ctx, updated); err != nil {
			errs = append(errs, fmt.Errorf("save zone %s: %w", z.ID, err))
		}
	}
	return errors.Join(errs...)
}

// CurrentMultiplier returns the active multiplier of a zone, or 1.0.
func (d *Detector) CurrentMultiplier(zoneID string) float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if s, ok := d.active[zoneID]; ok {
		return s.Multiplier
	}
	return 1.0
}

// AllSurgeZones lists active surges sorted by zone id.
func (d *Detector) AllSurgeZones() []model.SurgeZone {
	d.mu.RLock()
	out := make([]model.SurgeZone, 0, len(d.active))
	for _, s := range d.active {
		out = append(out, s)
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ZoneID < out[j].ZoneID })
	return out
}
