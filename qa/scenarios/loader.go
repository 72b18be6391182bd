package scenarios

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/smartzone/core/model"
)

// DriverDef places a driver at the center of a zone. Zone is an index into
// the sorted zone ids of the scenario grid.
type DriverDef struct {
	ID     string `yaml:"id"`
	Zone   int    `yaml:"zone"`
	Status string `yaml:"status"`
}

// StatusModel returns the driver status, defaulting to available.
func (d DriverDef) StatusModel() model.DriverStatus {
	if d.Status == "" {
		return model.DriverAvailable
	}
	return model.DriverStatus(d.Status)
}

// RequestDef creates Count requests picked up in Zone, AgeMinutes before the
// scenario clock.
type RequestDef struct {
	Zone       int `yaml:"zone"`
	Count      int `yaml:"count"`
	AgeMinutes int `yaml:"age_minutes"`
}

type Expected struct {
	Matched    int   `yaml:"matched"`
	Pending    int   `yaml:"pending"`
	SurgeZones []int `yaml:"surge_zones"`
	// Multipliers maps zone indexes to their expected surge multiplier.
	Multipliers map[int]float64 `yaml:"multipliers,omitempty"`
	DemandLevel map[int]int     `yaml:"demand_level,omitempty"`
}

type Scenario struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description,omitempty"`
	RadiusKm    float64      `yaml:"radius_km"`
	Threshold   int          `yaml:"threshold"`
	Drivers     []DriverDef  `yaml:"drivers"`
	Requests    []RequestDef `yaml:"requests"`
	Expected    Expected     `yaml:"expected"`
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	if sc.Name == "" {
		return nil, fmt.Errorf("%s: scenario name is required", path)
	}
	for _, d := range sc.Drivers {
		if !d.StatusModel().Valid() {
			return nil, fmt.Errorf("%s: driver %s has unknown status %q", path, d.ID, d.Status)
		}
	}
	return &sc, nil
}
