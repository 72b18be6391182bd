package sim

import (
	"fmt"
	"time"

	"github.com/kilianp07/smartzone/core/geofence"
	"github.com/kilianp07/smartzone/core/motion"
	"github.com/kilianp07/smartzone/core/ride"
	"github.com/kilianp07/smartzone/core/surge"
)

// Config holds the simulation parameters.
type Config struct {
	Drivers          int           `json:"drivers"`
	TimeAcceleration float64       `json:"time_acceleration"`
	TickInterval     time.Duration `json:"tick_interval"`
	StopGrace        time.Duration `json:"stop_grace"`
	// Seed makes a run reproducible. Zero seeds from the clock.
	Seed          uint64        `json:"seed"`
	DedupCapacity int           `json:"dedup_capacity"`
	// Timezone is the IANA location whose clock drives rush-hour demand.
	// Empty means the process local time.
	Timezone string        `json:"timezone"`
	Motion   motion.Config `json:"motion"`
	Ride     ride.Config   `json:"ride"`
	Surge    surge.Config  `json:"surge"`
}

// Location resolves Timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// SetDefaults fills zero values, nested sections included.
func (c *Config) SetDefaults() {
	if c.Drivers == 0 {
		c.Drivers = 10
	}
	if c.TimeAcceleration == 0 {
		c.TimeAcceleration = 1
	}
	if c.TickInterval == 0 {
		c.TickInterval = time.Second
	}
	if c.StopGrace == 0 {
		c.StopGrace = 5 * time.Second
	}
	if c.DedupCapacity == 0 {
		c.DedupCapacity = geofence.DefaultDedupCapacity
	}
	c.Motion.SetDefaults()
	c.Ride.SetDefaults()
	c.Surge.SetDefaults()
}

// Validate checks the parameters.
func (c Config) Validate() error {
	if c.Drivers < 0 {
		return fmt.Errorf("drivers must not be negative")
	}
	if c.TimeAcceleration <= 0 {
		return fmt.Errorf("time_acceleration must be positive")
	}
	if c.TickInterval <= 0 || c.StopGrace <= 0 {
		return fmt.Errorf("tick_interval and stop_grace must be positive")
	}
	if c.DedupCapacity < 1 {
		return fmt.Errorf("dedup_capacity must be at least 1")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	if err := c.Motion.Validate(); err != nil {
		return fmt.Errorf("motion: %w", err)
	}
	if err := c.Ride.Validate(); err != nil {
		return fmt.Errorf("ride: %w", err)
	}
	if err := c.Surge.Validate(); err != nil {
		return fmt.Errorf("surge: %w", err)
	}
	return nil
}
