// Package ride generates ride requests, matches them to drivers and drives
// each matched request through pickup and dropoff.
package ride

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/smartzone/core/broadcast"
	"github.com/kilianp07/smartzone/core/fleet"
	"github.com/kilianp07/smartzone/core/geo"
	"github.com/kilianp07/smartzone/core/logger"
	"github.com/kilianp07/smartzone/core/metrics"
	"github.com/kilianp07/smartzone/core/model"
	"github.com/kilianp07/smartzone/core/monitoring"
)

// Config holds the request and lifecycle parameters.
type Config struct {
	RequestsPerMinute float64       `json:"requests_per_minute"`
	PollInterval      time.Duration `json:"poll_interval"`
	FareMin           float64       `json:"fare_min"`
	FareMax           float64       `json:"fare_max"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.RequestsPerMinute == 0 {
		c.RequestsPerMinute = 5
	}
	if c.PollInterval == 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.FareMin == 0 && c.FareMax == 0 {
		c.FareMin, c.FareMax = 5, 30
	}
}

// Validate checks the parameters.
func (c Config) Validate() error {
	if c.RequestsPerMinute <= 0 {
		return fmt.Errorf("requests_per_minute must be positive")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.FareMin < 0 || c.FareMax < c.FareMin {
		return fmt.Errorf("fare range [%v,%v] is invalid", c.FareMin, c.FareMax)
	}
	return nil
}

// Matcher atomically pairs a pending request with a driver.
type Matcher interface {
	Claim(requestID string, at time.Time) (model.RideRequest, model.Driver, error)
}

// Store persists requests and drivers.
type Store interface {
	SaveRequest(ctx context.Context, r model.RideRequest) error
	SaveDriver(ctx context.Context, d model.Driver) error
}

// ZoneCounter counts requests per pickup zone.
type ZoneCounter interface {
	IncrementRequests(zoneID string) bool
}

// Manager owns request generation, matching and the per-request lifecycle
// tasks. Tasks are tracked so Wait can drain them after the context given to
// Spawn is cancelled.
type Manager struct {
	cfg       Config
	accel     float64
	threshold float64
	fleet     *fleet.Registry
	matcher   Matcher
	zones     ZoneCounter
	store     Store
	sink      broadcast.Sink
	metrics   metrics.MetricsSink
	logger    logger.Logger
	now       func() time.Time

	wg    sync.WaitGroup
	mu    sync.Mutex
	tasks map[string]context.CancelFunc
}

// NewManager creates a manager. accel scales the poll cadence and threshold
// is the arrival distance in degrees.
func NewManager(cfg Config, accel, threshold float64, fl *fleet.Registry, zones ZoneCounter, st Store,
	sink broadcast.Sink, m metrics.MetricsSink, log logger.Logger) *Manager {
	if sink == nil {
		sink = broadcast.NopSink{}
	}
	if m == nil {
		m = metrics.NopSink{}
	}
	if accel <= 0 {
		accel = 1
	}
	return &Manager{
		cfg: cfg, accel: accel, threshold: threshold,
		fleet: fl, matcher: fl, zones: zones, store: st, sink: sink, metrics: m, logger: log,
		now:   func() time.Time { return time.Now().UTC() },
		tasks: map[string]context.CancelFunc{},
	}
}

// SetClock overrides the time source.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// RatePerSecond is the request arrival rate in real time.
func (m *Manager) RatePerSecond() float64 { return m.cfg.RequestsPerMinute / 60 * m.accel }

// Submit registers a freshly generated pending request and tries to match it
// once. Unmatched requests stay pending; they are not retried.
func (m *Manager) Submit(ctx context.Context, req model.RideRequest) (model.RideRequest, error) {
	if req.Status != model.RequestPending {
		return req, fmt.Errorf("submit %s: %w", req.Status, model.ErrInvalidTransition)
	}
	m.zones.IncrementRequests(req.PickupZone)
	m.fleet.AddRequest(req)
	m.emit(ctx, "", req, model.Driver{})
	m.logger.Debugw("ride requested", map[string]any{"request_id": req.ID, "zone": req.PickupZone, "fare": req.EstimatedFare})
	return m.Match(ctx, req.ID)
}

// Match runs a single matching attempt. On success a lifecycle task is started.
func (m *Manager) Match(ctx context.Context, requestID string) (model.RideRequest, error) {
	req, d, err := m.matcher.Claim(requestID, m.now())
	if errors.Is(err, fleet.ErrNoDriverAvailable) {
		m.logger.Infof("no available driver for request %s, left pending", requestID)
		return req, nil
	}
	if err != nil {
		return req, err
	}
	m.logger.Infof("driver %s assigned to request %s", d.ID, req.ID)
	m.emit(ctx, model.RequestPending, req, d)
	m.startLifecycle(ctx, req.ID, d.ID)
	return req, nil
}

// Cancel cancels a non-terminal request and frees its driver. The lifecycle
// task of the request, if any, exits.
func (m *Manager) Cancel(ctx context.Context, requestID string) (model.RideRequest, error) {
	before, _ := m.fleet.Request(requestID)
	req, d, err := m.fleet.Cancel(requestID, m.now())
	if err != nil {
		return req, err
	}
	m.mu.Lock()
	if stop, ok := m.tasks[requestID]; ok {
		stop()
	}
	m.mu.Unlock()
	m.logger.Infof("request %s cancelled", requestID)
	m.emit(ctx, before.Status, req, d)
	return req, nil
}

// InFlight returns the number of running lifecycle tasks.
func (m *Manager) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Wait blocks until every lifecycle task has exited or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) startLifecycle(parent context.Context, requestID, driverID string) {
	ctx, cancel := context.WithCancel(parent)
	m.mu.Lock()
	m.tasks[requestID] = cancel
	m.mu.Unlock()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			cancel()
			m.mu.Lock()
			delete(m.tasks, requestID)
			m.mu.Unlock()
		}()
		err := monitoring.Guard("ride", func() error { return m.lifecycle(ctx, requestID, driverID) })
		if err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Errorf("lifecycle of request %s: %v", requestID, err)
			monitoring.CaptureException(err, map[string]string{"module": "ride", "request_id": requestID})
		}
	}()
}

// lifecycle polls the driver position until pickup, then until dropoff. A
// cancelled context leaves the request where it is.
func (m *Manager) lifecycle(ctx context.Context, requestID, driverID string) error {
	if err := m.awaitArrival(ctx, requestID, driverID, func(r model.RideRequest) geo.Point { return r.Pickup }); err != nil {
		return err
	}
	req, d, err := m.advance(requestID, m.fleet.StartTrip)
	if errors.Is(err, errRequestGone) {
		return nil
	}
	if err != nil {
		return err
	}
	m.logger.Infof("driver %s picked up request %s", driverID, requestID)
	m.emit(ctx, model.RequestAccepted, req, d)

	if err := m.awaitArrival(ctx, requestID, driverID, func(r model.RideRequest) geo.Point { return r.Dropoff }); err != nil {
		return err
	}
	req, d, err = m.advance(requestID, m.fleet.CompleteTrip)
	if errors.Is(err, errRequestGone) {
		return nil
	}
	if err != nil {
		return err
	}
	m.logger.Infof("driver %s completed request %s", driverID, requestID)
	m.emit(ctx, model.RequestInProgress, req, d)
	return nil
}

// errRequestGone marks a request cancelled between the arrival check and the
// transition.
var errRequestGone = errors.New("ride: request left the active set")

type transition func(requestID string, at time.Time) (model.RideRequest, model.Driver, error)

// advance applies a lifecycle transition. A request that is no longer active
// was cancelled concurrently, which is not a failure.
func (m *Manager) advance(requestID string, apply transition) (model.RideRequest, model.Driver, error) {
	req, d, err := apply(requestID, m.now())
	if errors.Is(err, fleet.ErrUnknownRequest) {
		m.logger.Debugf("request %s cancelled during its lifecycle", requestID)
		return req, d, errRequestGone
	}
	return req, d, err
}

func (m *Manager) awaitArrival(ctx context.Context, requestID, driverID string, target func(model.RideRequest) geo.Point) error {
	interval := time.Duration(float64(m.cfg.PollInterval) / m.accel)
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		req, ok := m.fleet.Request(requestID)
		if !ok {
			return context.Canceled
		}
		d, ok := m.fleet.Driver(driverID)
		if !ok {
			return fmt.Errorf("%w: %s", fleet.ErrUnknownDriver, driverID)
		}
		if geo.PlanarDistance(d.Location, target(req)) < m.threshold {
			return nil
		}
		timer.Reset(interval)
	}
}

// emit persists, broadcasts and records one transition. from is empty for a
// newly created request.
func (m *Manager) emit(ctx context.Context, from model.RequestStatus, req model.RideRequest, d model.Driver) {
	if err := m.store.SaveRequest(ctx, req); err != nil {
		m.logger.Warnf("save request %s: %v", req.ID, err)
	}
	if d.ID != "" {
		if err := m.store.SaveDriver(ctx, d); err != nil {
			m.logger.Warnf("save driver %s: %v", d.ID, err)
		}
	}
	_ = m.sink.Publish(ctx, broadcast.NewMessage(broadcast.RequestUpdates, req, req.UpdatedAt))
	ev := metrics.RideTransitionEvent{
		RequestID: req.ID,
		DriverID:  req.DriverID,
		Zone:      req.PickupZone,
		From:      from,
		To:        req.Status,
		Fare:      req.EstimatedFare,
		Time:      req.UpdatedAt,
	}
	if err := m.metrics.RecordRideTransition(ev); err != nil {
		m.logger.Warnf("record ride transition: %v", err)
	}
}
