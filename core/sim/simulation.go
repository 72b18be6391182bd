// Package sim wires the zone grid, the fleet and the ride, surge and
// geofence components into a running simulation.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/kilianp07/smartzone/core/broadcast"
	"github.com/kilianp07/smartzone/core/fleet"
	"github.com/kilianp07/smartzone/core/forecast"
	"github.com/kilianp07/smartzone/core/geofence"
	"github.com/kilianp07/smartzone/core/logger"
	"github.com/kilianp07/smartzone/core/metrics"
	"github.com/kilianp07/smartzone/core/model"
	"github.com/kilianp07/smartzone/core/monitoring"
	"github.com/kilianp07/smartzone/core/motion"
	"github.com/kilianp07/smartzone/core/ride"
	"github.com/kilianp07/smartzone/core/store"
	"github.com/kilianp07/smartzone/core/surge"
	"github.com/kilianp07/smartzone/core/zone"
)

// minTickPause keeps the motion loop from spinning when a tick overruns.
const minTickPause = 100 * time.Millisecond

// State is the shared state of one simulation. Components receive it by
// reference; there is no package level state.
type State struct {
	Grid  *zone.Grid
	Zones *zone.Registry
	Fleet *fleet.Registry
}

// NewState seeds zone state from the grid with an empty fleet.
func NewState(grid *zone.Grid) *State {
	return &State{Grid: grid, Zones: zone.NewRegistry(grid), Fleet: fleet.NewRegistry()}
}

// Simulation runs the motion, request, surge and forecast loops.
type Simulation struct {
	cfg      Config
	state    *State
	store    store.Store
	sink     broadcast.Sink
	metrics  metrics.MetricsSink
	logger   logger.Logger
	forecast forecast.Provider
	fcCfg    forecast.Config
	loc      *time.Location

	tracker  *geofence.Tracker
	detector *surge.Detector
	rides    *ride.Manager

	lifecycle sync.Mutex
	running   atomic.Bool
	cancel    context.CancelFunc
	loops     sync.WaitGroup
	runs      uint64
}

// Option configures a Simulation.
type Option func(*Simulation)

// WithForecast enables the forecast loops with provider p.
func WithForecast(p forecast.Provider, cfg forecast.Config) Option {
	return func(s *Simulation) {
		s.forecast = p
		s.fcCfg = cfg
	}
}

// New creates a stopped simulation. A nil sink or metrics sink disables that
// output.
func New(cfg Config, state *State, st store.Store, sink broadcast.Sink, m metrics.MetricsSink,
	log logger.Logger, opts ...Option) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = broadcast.NopSink{}
	}
	if m == nil {
		m = metrics.NopSink{}
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	s := &Simulation{cfg: cfg, state: state, store: st, sink: sink, metrics: m, logger: log, loc: loc}
	for _, o := range opts {
		o(s)
	}
	s.tracker = geofence.NewTracker(state.Zones, state.Fleet, cfg.DedupCapacity, log,
		geofence.WithSink(sink), geofence.WithMetrics(m))
	s.detector = surge.NewDetector(cfg.Surge, state.Zones, state.Fleet, st, sink, m, log)
	s.rides = ride.NewManager(cfg.Ride, cfg.TimeAcceleration, cfg.Motion.ArrivalThreshold,
		state.Fleet, state.Zones, st, sink, m, log)
	return s, nil
}

// State returns the shared state.
func (s *Simulation) State() *State { return s.state }

// Running reports whether the loops are active.
func (s *Simulation) Running() bool { return s.running.Load() }

// Start initialises the fleet over zoneIDs and launches the loops. Zone ids
// outside the grid are ignored; an empty list selects the whole grid. Calling
// Start on a running simulation does nothing.
func (s *Simulation) Start(ctx context.Context, zoneIDs []string) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.running.Load() {
		return nil
	}

	zones := s.activeZones(zoneIDs)
	if len(zones) == 0 {
		return fmt.Errorf("sim: none of %d zone ids belong to the grid", len(zoneIDs))
	}

	seed := s.cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	seed += s.runs
	s.runs++

	now := time.Now().UTC()
	drivers, err := NewFleet(s.cfg.Drivers, s.state.Grid, zones,
		rand.New(rand.NewPCG(seed, 1)), gofakeit.New(seed), now)
	if err != nil {
		return err
	}
	gen, err := ride.NewGenerator(s.state.Grid, zones, s.rides.RatePerSecond(),
		s.cfg.Ride.FareMin, s.cfg.Ride.FareMax, rand.New(rand.NewPCG(seed, 2)))
	if err != nil {
		return err
	}
	mover := motion.New(s.cfg.Motion, s.state.Grid, s.state.Zones, s.state.Fleet, s.tracker,
		s.store, s.metrics, s.logger, rand.New(rand.NewPCG(seed, 3)), zones)

	s.state.Fleet.Reset(drivers)
	s.state.Zones.Reset()
	s.state.Zones.SetDriverCounts(s.state.Fleet.CountByZone())
	s.detector.Reset()
	s.persist(ctx, drivers)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.running.Store(true)

	s.spawn(runCtx, "motion", s.motionLoop(mover))
	s.spawn(runCtx, "requests", s.requestLoop(gen))
	s.spawn(runCtx, "surge", s.surgeLoop())
	if s.forecast != nil {
		s.spawn(runCtx, "forecast-train", s.trainLoop())
		s.spawn(runCtx, "forecast-predict", s.predictLoop(zones))
	}
	s.logger.Infof("simulation started with %d drivers over %d zones", len(drivers), len(zones))
	return nil
}

// Stop cancels the loops and ride lifecycles and waits for them up to the
// configured grace period. Calling Stop on a stopped simulation does nothing.
func (s *Simulation) Stop(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if !s.running.Load() {
		return nil
	}
	s.cancel()
	s.running.Store(false)

	graceCtx, cancel := context.WithTimeout(ctx, s.cfg.StopGrace)
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.loops.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-graceCtx.Done():
		err = fmt.Errorf("sim: loops still running: %w", graceCtx.Err())
	}
	if rerr := s.rides.Wait(graceCtx); rerr != nil && err == nil {
		err = fmt.Errorf("sim: ride lifecycles still running: %w", rerr)
	}
	if err != nil {
		s.logger.Warnf("%v", err)
		return err
	}
	s.logger.Infof("simulation stopped")
	return nil
}

// CurrentSurgeMultiplier returns the multiplier of a zone, 1.0 outside surge.
func (s *Simulation) CurrentSurgeMultiplier(zoneID string) float64 {
	return s.detector.CurrentMultiplier(zoneID)
}

// AllSurgeZones lists the zones currently in surge.
func (s *Simulation) AllSurgeZones() []model.SurgeZone { return s.detector.AllSurgeZones() }

// CheckZoneTransition reports a driver zone change to the geofence tracker.
func (s *Simulation) CheckZoneTransition(ctx context.Context, driverID, oldZone, newZone string) bool {
	return s.tracker.CheckZoneTransition(ctx, driverID, oldZone, newZone)
}

// CancelRequest cancels an active request and frees its driver.
func (s *Simulation) CancelRequest(ctx context.Context, requestID string) (model.RideRequest, error) {
	return s.rides.Cancel(ctx, requestID)
}

// Drivers returns a snapshot of the fleet.
func (s *Simulation) Drivers() []model.Driver { return s.state.Fleet.Drivers() }

// ActiveRequests returns the pending and in-flight requests.
func (s *Simulation) ActiveRequests() []model.RideRequest { return s.state.Fleet.ActiveRequests() }

// Zones returns a snapshot of every zone.
func (s *Simulation) Zones() []model.Zone { return s.state.Zones.Snapshot() }

func (s *Simulation) activeZones(ids []string) []string {
	if len(ids) == 0 {
		return s.state.Grid.IDs()
	}
	seen := map[string]bool{}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if !s.state.Grid.Contains(id) {
			s.logger.Warnf("zone %s is not part of the grid, ignored", id)
			continue
		}
		out = append(out, id)
	}
	return out
}

func (s *Simulation) persist(ctx context.Context, drivers []model.Driver) {
	for _, z := range s.state.Zones.Snapshot() {
		if err := s.store.SaveZone(ctx, z); err != nil {
			s.logger.Warnf("save zone %s: %v", z.ID, err)
		}
	}
	for _, d := range drivers {
		if err := s.store.SaveDriver(ctx, d); err != nil {
			s.logger.Warnf("save driver %s: %v", d.ID, err)
		}
	}
}

// step is one loop iteration. It returns how long to wait before the next
// iteration given the time the body took.
type step struct {
	pause func(took time.Duration) time.Duration
	body  func(ctx context.Context) error
}

func (s *Simulation) spawn(ctx context.Context, name string, st step) {
	s.loops.Add(1)
	go func() {
		defer s.loops.Done()
		var took time.Duration
		timer := time.NewTimer(st.pause(0))
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
			start := time.Now()
			err := monitoring.Guard(name, func() error { return st.body(ctx) })
			took = time.Since(start)
			switch {
			case err == nil:
			case errors.Is(err, context.Canceled) && ctx.Err() != nil:
				return
			default:
				s.logger.Errorf("%s loop: %v", name, err)
				monitoring.CaptureException(err, map[string]string{"module": "sim", "loop": name})
			}
			timer.Reset(st.pause(took))
		}
	}()
}

func (s *Simulation) scaled(d time.Duration) time.Duration {
	return time.Duration(float64(d) / s.cfg.TimeAcceleration)
}

func (s *Simulation) motionLoop(mover *motion.Model) step {
	elapsed := time.Duration(float64(s.cfg.TickInterval) * s.cfg.TimeAcceleration)
	return step{
		pause: func(took time.Duration) time.Duration {
			return max(minTickPause, s.scaled(s.cfg.TickInterval)-took)
		},
		body: func(ctx context.Context) error {
			start := time.Now()
			if err := mover.Tick(ctx, elapsed, start.UTC()); err != nil {
				return err
			}
			_ = s.sink.Publish(ctx, broadcast.NewMessage(broadcast.DriverUpdates, s.state.Fleet.Drivers(), start.UTC()))
			if rec, ok := s.metrics.(metrics.TickRecorder); ok {
				if err := rec.RecordTickDuration(time.Since(start)); err != nil {
					s.logger.Warnf("record tick duration: %v", err)
				}
			}
			return nil
		},
	}
}

func (s *Simulation) requestLoop(gen *ride.Generator) step {
	return step{
		pause: func(time.Duration) time.Duration { return gen.NextDelay() },
		body: func(ctx context.Context) error {
			req, err := gen.Generate(time.Now().In(s.loc))
			if err != nil {
				return err
			}
			_, err = s.rides.Submit(ctx, req)
			return err
		},
	}
}

func (s *Simulation) surgeLoop() step {
	return step{
		pause: func(time.Duration) time.Duration { return s.scaled(s.cfg.Surge.Interval) },
		body: func(ctx context.Context) error {
			err := s.detector.Evaluate(ctx)
			_ = s.sink.Publish(ctx, broadcast.NewMessage(broadcast.ZoneUpdates, s.state.Zones.Snapshot(), time.Now().UTC()))
			return err
		},
	}
}

func (s *Simulation) trainLoop() step {
	first := true
	return step{
		pause: func(time.Duration) time.Duration {
			if first {
				first = false
				return 0
			}
			return s.fcCfg.TrainInterval
		},
		body: func(ctx context.Context) error {
			since := time.Now().UTC().Add(-s.fcCfg.History)
			history, err := s.store.ListRequests(ctx, store.RequestFilter{Since: since})
			if err != nil {
				return fmt.Errorf("load history: %w", err)
			}
			if err := s.forecast.Train(ctx, history); err != nil {
				return fmt.Errorf("train: %w", err)
			}
			s.logger.Debugf("forecast trained on %d requests", len(history))
			return nil
		},
	}
}

func (s *Simulation) predictLoop(zones []string) step {
	return step{
		pause: func(time.Duration) time.Duration { return s.fcCfg.PredictInterval },
		body: func(ctx context.Context) error {
			now := time.Now().UTC()
			next := now.Truncate(time.Hour).Add(time.Hour)
			var preds []model.DemandPrediction
			for _, id := range zones {
				if p, ok := s.forecast.Predict(id, next); ok {
					preds = append(preds, p)
				}
			}
			if len(preds) == 0 {
				return nil
			}
			_ = s.sink.Publish(ctx, broadcast.NewMessage(broadcast.DemandForecast, preds, now))
			if rec, ok := s.metrics.(metrics.ForecastRecorder); ok {
				return rec.RecordForecast(preds)
			}
			return nil
		},
	}
}
