package metrics

import "github.com/kilianp07/smartzone/core/factory"

// Config defines settings for metrics sinks.
type Config struct {
	Sinks          []factory.ModuleConfig `json:"sinks"`
	PrometheusPort string                 `json:"prometheus_port"`
}

// SetDefaults leaves the Prometheus endpoint disabled unless configured.
func (c *Config) SetDefaults() {}

// Validate checks that each sink declares a type.
func (c Config) Validate() error {
	for i, s := range c.Sinks {
		if s.Type == "" {
			return errMissingType(i)
		}
	}
	return nil
}
