package sim

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/kilianp07/smartzone/core/geo"
	"github.com/kilianp07/smartzone/core/model"
	"github.com/kilianp07/smartzone/core/zone"
)

// VehicleTypes lists the vehicle classes assigned at fleet creation.
var VehicleTypes = []string{"sedan", "suv", "compact"}

const (
	minSpeed   = 15.0
	maxSpeed   = 50.0
	spawnNoise = 0.001
)

// NewFleet creates n available drivers spread over zones. Zones are used once
// each in random order before any is reused.
func NewFleet(n int, grid *zone.Grid, zones []string, rng *rand.Rand, faker *gofakeit.Faker, now time.Time) ([]model.Driver, error) {
	if n > 0 && len(zones) == 0 {
		return nil, fmt.Errorf("fleet: no zones to place %d drivers", n)
	}
	perm := rng.Perm(len(zones))
	drivers := make([]model.Driver, 0, n)
	for i := 0; i < n; i++ {
		var zoneID string
		if i < len(perm) {
			zoneID = zones[perm[i]]
		} else {
			zoneID = zones[rng.IntN(len(zones))]
		}
		c, err := grid.CenterOf(zoneID)
		if err != nil {
			return nil, err
		}
		loc := geo.Point{
			Lon: c.Lon + (rng.Float64()*2-1)*spawnNoise,
			Lat: c.Lat + (rng.Float64()*2-1)*spawnNoise,
		}
		drivers = append(drivers, model.Driver{
			ID:          fmt.Sprintf("driver_%d", i+1),
			Name:        faker.Name(),
			VehicleType: VehicleTypes[rng.IntN(len(VehicleTypes))],
			Location:    loc,
			Heading:     rng.Float64() * 360,
			Speed:       minSpeed + rng.Float64()*(maxSpeed-minSpeed),
			Status:      model.DriverAvailable,
			CurrentZone: grid.CellFor(loc),
			LastUpdated: now,
		})
	}
	return drivers, nil
}
