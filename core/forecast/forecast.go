package forecast

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/smartzone/core/factory"
	"github.com/kilianp07/smartzone/core/model"
)

// Provider forecasts the number of requests a zone receives in an hour.
type Provider interface {
	Train(ctx context.Context, history []model.RideRequest) error
	// Predict returns false when no model exists for the zone.
	Predict(zoneID string, at time.Time) (model.DemandPrediction, bool)
}

// Config controls the forecast loop of the simulation.
type Config struct {
	Enabled         bool                 `json:"enabled"`
	Provider        factory.ModuleConfig `json:"provider"`
	TrainInterval   time.Duration        `json:"train_interval"`
	PredictInterval time.Duration        `json:"predict_interval"`
	// History bounds the requests loaded for training.
	History time.Duration `json:"history"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.Provider.Type == "" {
		c.Provider.Type = "regression"
	}
	if c.TrainInterval == 0 {
		c.TrainInterval = time.Hour
	}
	if c.PredictInterval == 0 {
		c.PredictInterval = 5 * time.Minute
	}
	if c.History == 0 {
		c.History = 7 * 24 * time.Hour
	}
}

// Validate checks the intervals.
func (c Config) Validate() error {
	if c.TrainInterval <= 0 || c.PredictInterval <= 0 {
		return fmt.Errorf("forecast intervals must be positive")
	}
	if c.History <= 0 {
		return fmt.Errorf("forecast history must be positive")
	}
	return nil
}

var registry = factory.NewRegistry[Provider]()

// Register adds a provider factory identified by name.
func Register(name string, f factory.Factory[Provider]) error {
	return registry.Register(name, f)
}

func init() {
	_ = Register("regression", func(map[string]any) (Provider, error) {
		return NewRegressionProvider(), nil
	})
	_ = Register("static", func(conf map[string]any) (Provider, error) {
		var p StaticProvider
		if err := factory.Decode(conf, &p); err != nil {
			return nil, err
		}
		return &p, nil
	})
}

// New creates the configured provider.
func New(cfg factory.ModuleConfig) (Provider, error) {
	return registry.Create(cfg)
}

// StaticProvider returns fixed predictions. Zones without a configured
// value fall back to Default when it is set.
type StaticProvider struct {
	Demand     map[string]float64 `json:"demand"`
	Default    float64            `json:"default"`
	Confidence float64            `json:"confidence"`
}

// Train is a no-op.
func (*StaticProvider) Train(context.Context, []model.RideRequest) error { return nil }

// Predict returns the configured value for the zone.
func (s *StaticProvider) Predict(zoneID string, at time.Time) (model.DemandPrediction, bool) {
	v, ok := s.Demand[zoneID]
	if !ok {
		if s.Default == 0 {
			return model.DemandPrediction{}, false
		}
		v = s.Default
	}
	return model.DemandPrediction{
		ZoneID:          zoneID,
		Timestamp:       at.Truncate(time.Hour),
		PredictedDemand: v,
		Confidence:      s.Confidence,
	}, true
}
