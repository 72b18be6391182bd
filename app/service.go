package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/kilianp07/smartzone/config"
	"github.com/kilianp07/smartzone/core/broadcast"
	"github.com/kilianp07/smartzone/core/forecast"
	coremetrics "github.com/kilianp07/smartzone/core/metrics"
	coremon "github.com/kilianp07/smartzone/core/monitoring"
	"github.com/kilianp07/smartzone/core/sim"
	"github.com/kilianp07/smartzone/core/store"
	"github.com/kilianp07/smartzone/core/zone"
	_ "github.com/kilianp07/smartzone/infra/amqp"
	"github.com/kilianp07/smartzone/infra/logger"
	"github.com/kilianp07/smartzone/infra/metrics"
	_ "github.com/kilianp07/smartzone/infra/mongo"
	"github.com/kilianp07/smartzone/infra/monitoring"
	_ "github.com/kilianp07/smartzone/infra/mqtt"
	_ "github.com/kilianp07/smartzone/infra/sqlite"
)

// errNotRunning is returned to MQTT cancel commands received before a
// simulation is attached.
var errNotRunning = errors.New("app: no simulation attached")

// Service wires the simulation to its store, broadcast and metrics backends.
type Service struct {
	Sim *sim.Simulation

	// active receives cancel commands from this service's sinks.
	active  atomic.Pointer[sim.Simulation]
	cfg     *config.Config
	store   store.Store
	sink    *broadcast.MultiSink
	metrics coremetrics.MetricsSink
	log     logger.Logger
}

// OpenStore creates the configured store backend.
func OpenStore(cfg *config.Config) (store.Store, error) {
	st, err := store.New(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("store %s: %w", cfg.Store.Type, err)
	}
	return st, nil
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	logger.SetLevel(cfg.Logging.Level)
	logg := logger.New("service")

	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	coremon.Init(mon)

	grid, err := zone.NewGrid(cfg.Grid)
	if err != nil {
		return nil, fmt.Errorf("grid: %w", err)
	}
	st, err := OpenStore(cfg)
	if err != nil {
		return nil, err
	}
	m, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		_ = st.Close(context.Background())
		return nil, fmt.Errorf("metrics: %w", err)
	}
	svc := &Service{cfg: cfg, store: st, metrics: m, log: logg}
	sink, err := broadcast.New(cfg.Broadcast, logger.New("broadcast"), svc.cancelRequest)
	if err != nil {
		_ = st.Close(context.Background())
		return nil, fmt.Errorf("broadcast: %w", err)
	}

	var opts []sim.Option
	if cfg.Forecast.Enabled {
		p, err := forecast.New(cfg.Forecast.Provider)
		if err != nil {
			sink.Close()
			_ = st.Close(context.Background())
			return nil, fmt.Errorf("forecast: %w", err)
		}
		opts = append(opts, sim.WithForecast(p, cfg.Forecast))
	}
	simulation, err := sim.New(cfg.Simulation, sim.NewState(grid), st, sink, m, logger.New("sim"), opts...)
	if err != nil {
		sink.Close()
		_ = st.Close(context.Background())
		return nil, fmt.Errorf("simulation: %w", err)
	}
	svc.Sim, svc.sink = simulation, sink
	svc.active.Store(simulation)
	logg.Infof("grid of %d zones around %.4f,%.4f", grid.Len(), cfg.Grid.Center.Lat, cfg.Grid.Center.Lon)
	return svc, nil
}

// cancelRequest routes a remote cancel command to the attached simulation.
func (s *Service) cancelRequest(ctx context.Context, requestID string) error {
	running := s.active.Load()
	if running == nil {
		return errNotRunning
	}
	_, err := running.CancelRequest(ctx, requestID)
	return err
}

// Local returns the in-process broadcast sink, if one is configured.
func (s *Service) Local() (*broadcast.LocalSink, bool) { return s.sink.Local() }

// Run starts the simulation over zoneIDs (all zones when empty) and blocks
// until ctx is cancelled, then stops it.
func (s *Service) Run(ctx context.Context, zoneIDs []string) error {
	if s.cfg.Metrics.PrometheusPort != "" {
		metrics.StartPromServer(ctx, s.cfg.Metrics.PrometheusPort, nil, s.log)
		s.log.Infof("serving metrics on %s", s.cfg.Metrics.PrometheusPort)
	}
	if err := s.Sim.Start(ctx, zoneIDs); err != nil {
		return err
	}
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Simulation.StopGrace+time.Second)
	defer cancel()
	return s.Sim.Stop(stopCtx)
}

// Close releases the sinks and the store and flushes the monitor.
func (s *Service) Close() error {
	s.active.Store(nil)
	s.sink.Close()
	if c, ok := s.metrics.(interface{ Close() }); ok {
		c.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.store.Close(ctx)
	coremon.Flush(2 * time.Second)
	return err
}
