package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/smartzone/core/factory"
	"github.com/kilianp07/smartzone/core/forecast"
	"github.com/kilianp07/smartzone/core/metrics"
	"github.com/kilianp07/smartzone/core/sim"
	"github.com/kilianp07/smartzone/core/zone"
	"github.com/kilianp07/smartzone/infra/monitoring"
)

// EnvPrefix prefixes environment overrides. SZ_SIMULATION__DRIVERS=20 sets
// simulation.drivers.
const EnvPrefix = "SZ_"

type Config struct {
	Grid       zone.Config            `json:"grid"`
	Simulation sim.Config             `json:"simulation"`
	Store      factory.ModuleConfig   `json:"store"`
	Broadcast  []factory.ModuleConfig `json:"broadcast"`
	Metrics    metrics.Config         `json:"metrics"`
	Forecast   forecast.Config        `json:"forecast"`
	Logging    LoggingConfig          `json:"logging"`
	Sentry     monitoring.Config      `json:"sentry"`
}

// Load reads the file at path, applies environment overrides, fills defaults
// and validates the result. An empty path loads defaults and the environment
// only.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		ext := strings.ToLower(filepath.Ext(path))
		var parser koanf.Parser
		switch ext {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", ext)
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, err
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills every section.
func (c *Config) SetDefaults() {
	c.Grid.SetDefaults()
	c.Simulation.SetDefaults()
	if c.Store.Type == "" {
		c.Store.Type = "memory"
	}
	c.Metrics.SetDefaults()
	c.Forecast.SetDefaults()
	c.Logging.SetDefaults()
}

// Validate checks every section and prefixes errors with the section name.
func (c Config) Validate() error {
	if err := c.Grid.Validate(); err != nil {
		return fmt.Errorf("grid: %w", err)
	}
	if err := c.Simulation.Validate(); err != nil {
		return fmt.Errorf("simulation: %w", err)
	}
	for i, b := range c.Broadcast {
		if b.Type == "" {
			return fmt.Errorf("broadcast[%d]: type is required", i)
		}
	}
	if err := c.Metrics.Validate(); err != nil {
		return err
	}
	if c.Forecast.Enabled {
		if err := c.Forecast.Validate(); err != nil {
			return fmt.Errorf("forecast: %w", err)
		}
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Sentry.Validate(); err != nil {
		return err
	}
	return nil
}
