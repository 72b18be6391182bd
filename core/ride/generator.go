package ride

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/kilianp07/smartzone/core/model"
	"github.com/kilianp07/smartzone/core/zone"
)

// HashBias maps a zone id to a stable value in [0,1).
func HashBias(zoneID string) float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(zoneID))
	return float64(h.Sum64()%1000) / 1000
}

// ZoneWeights returns the pickup weight of each zone for the given hour.
// Morning rush favours zones with a high bias, evening rush those with a low
// bias, and late nights triple the top 30%. Every weight is then jittered by
// U(0.8,1.2).
func ZoneWeights(zones []string, hour int, rng *rand.Rand) []float64 {
	weights := make([]float64, len(zones))
	for i, id := range zones {
		w := 1.0
		h := HashBias(id)
		switch {
		case hour >= 7 && hour < 9:
			w *= 1 + h*2
		case hour >= 17 && hour < 19:
			w *= 1 + (1-h)*2
		case hour >= 22 || hour < 2:
			if h > 0.7 {
				w *= 3
			}
		}
		weights[i] = w * (0.8 + rng.Float64()*0.4)
	}
	return weights
}

func weightedIndex(weights []float64, rng *rand.Rand) int {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	r := rng.Float64() * total
	for i, w := range weights {
		if r < w {
			return i
		}
		r -= w
	}
	return len(weights) - 1
}

// Generator creates ride requests with exponentially distributed arrivals.
// It is not safe for concurrent use.
type Generator struct {
	grid    *zone.Grid
	zones   []string
	rng     *rand.Rand
	arrival distuv.Exponential
	fareMin float64
	fareMax float64
}

// NewGenerator draws pickups from zones. ratePerSecond is the arrival rate in
// simulated requests per real second.
func NewGenerator(grid *zone.Grid, zones []string, ratePerSecond, fareMin, fareMax float64, rng *rand.Rand) (*Generator, error) {
	if len(zones) == 0 {
		return nil, fmt.Errorf("ride generator: no zones")
	}
	if ratePerSecond <= 0 {
		return nil, fmt.Errorf("ride generator: rate must be positive")
	}
	return &Generator{
		grid:    grid,
		zones:   zones,
		rng:     rng,
		arrival: distuv.Exponential{Rate: ratePerSecond, Src: rng},
		fareMin: fareMin,
		fareMax: fareMax,
	}, nil
}

// NextDelay draws the wait before the next request.
func (g *Generator) NextDelay() time.Duration {
	return time.Duration(g.arrival.Rand() * float64(time.Second))
}

// Generate builds a pending request created at now. Zone weights follow the
// hour of now in its own location; timestamps are stored in UTC. The dropoff
// zone differs from the pickup zone unless only one zone exists.
func (g *Generator) Generate(now time.Time) (model.RideRequest, error) {
	pickupZone := g.zones[weightedIndex(ZoneWeights(g.zones, now.Hour(), g.rng), g.rng)]
	dropoffZone := pickupZone
	if len(g.zones) > 1 {
		i := g.rng.IntN(len(g.zones) - 1)
		if g.zones[i] == pickupZone {
			i = len(g.zones) - 1
		}
		dropoffZone = g.zones[i]
	}
	pickup, err := g.grid.RandomPointIn(pickupZone, g.rng)
	if err != nil {
		return model.RideRequest{}, err
	}
	dropoff, err := g.grid.RandomPointIn(dropoffZone, g.rng)
	if err != nil {
		return model.RideRequest{}, err
	}
	fare := g.fareMin + g.rng.Float64()*(g.fareMax-g.fareMin)
	return model.RideRequest{
		ID:            uuid.NewString(),
		UserID:        "user_" + uuid.NewString()[:8],
		Pickup:        pickup,
		Dropoff:       dropoff,
		PickupZone:    pickupZone,
		DropoffZone:   dropoffZone,
		Status:        model.RequestPending,
		CreatedAt:     now.UTC(),
		UpdatedAt:     now.UTC(),
		EstimatedFare: math.Round(fare*100) / 100,
	}, nil
}
