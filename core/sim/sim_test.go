package sim

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/smartzone/core/broadcast"
	"github.com/kilianp07/smartzone/core/forecast"
	"github.com/kilianp07/smartzone/core/geo"
	"github.com/kilianp07/smartzone/core/model"
	"github.com/kilianp07/smartzone/core/store"
	"github.com/kilianp07/smartzone/core/zone"
	"github.com/kilianp07/smartzone/infra/logger"
)

func testGrid(t *testing.T) *zone.Grid {
	t.Helper()
	cfg := zone.Config{RadiusKm: 2}
	cfg.SetDefaults()
	g, err := zone.NewGrid(cfg)
	require.NoError(t, err)
	return g
}

func testConfig() Config {
	cfg := Config{
		Drivers:          6,
		TimeAcceleration: 10,
		Seed:             42,
		StopGrace:        2 * time.Second,
	}
	cfg.Ride.RequestsPerMinute = 60
	cfg.Ride.PollInterval = 50 * time.Millisecond
	cfg.Surge.Interval = 200 * time.Millisecond
	cfg.SetDefaults()
	return cfg
}

func newSim(t *testing.T, sink broadcast.Sink, opts ...Option) (*Simulation, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	s, err := New(testConfig(), NewState(testGrid(t)), st, sink, nil, logger.NopLogger{}, opts...)
	require.NoError(t, err)
	return s, st
}

func stop(t *testing.T, s *Simulation) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.SetDefaults()
	require.NoError(t, c.Validate())
	assert.Equal(t, 10, c.Drivers)
	assert.Equal(t, 1.0, c.TimeAcceleration)
	assert.Equal(t, 5*time.Second, c.StopGrace)
	assert.Equal(t, 1000, c.DedupCapacity)

	loc, err := c.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)

	c.Timezone = "UTC"
	require.NoError(t, c.Validate())
	c.Timezone = "Nowhere/Atlantis"
	assert.Error(t, c.Validate())
	c.Timezone = ""

	c.TimeAcceleration = -1
	assert.Error(t, c.Validate())
}

func TestNewFleet(t *testing.T) {
	g := testGrid(t)
	zones := g.IDs()[:3]
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	drivers, err := NewFleet(5, g, zones, rand.New(rand.NewPCG(1, 1)), gofakeit.New(1), now)
	require.NoError(t, err)
	require.Len(t, drivers, 5)

	assert.Equal(t, "driver_1", drivers[0].ID)
	assert.Equal(t, "driver_5", drivers[4].ID)

	firstZones := map[string]bool{}
	for i, d := range drivers {
		assert.True(t, strings.HasPrefix(d.ID, "driver_"))
		assert.NotEmpty(t, d.Name)
		assert.Contains(t, VehicleTypes, d.VehicleType)
		assert.GreaterOrEqual(t, d.Speed, minSpeed)
		assert.Less(t, d.Speed, maxSpeed)
		assert.Equal(t, model.DriverAvailable, d.Status)
		assert.Nil(t, d.Destination)
		assert.Equal(t, now, d.LastUpdated)

		var nearest geo.Point
		best := 1.0
		for _, id := range zones {
			c, _ := g.CenterOf(id)
			if dist := geo.PlanarDistance(c, d.Location); dist < best {
				best, nearest = dist, c
			}
		}
		assert.LessOrEqual(t, best, spawnNoise*1.5, "driver %d at %+v near %+v", i, d.Location, nearest)
		if i < len(zones) {
			firstZones[nearestZone(g, zones, d.Location)] = true
		}
	}
	assert.Len(t, firstZones, len(zones), "each zone used once before reuse")

	_, err = NewFleet(1, g, nil, rand.New(rand.NewPCG(1, 1)), gofakeit.New(1), now)
	assert.Error(t, err)
}

func nearestZone(g *zone.Grid, zones []string, p geo.Point) string {
	best, bestID := 1.0, ""
	for _, id := range zones {
		c, _ := g.CenterOf(id)
		if d := geo.PlanarDistance(c, p); d < best {
			best, bestID = d, id
		}
	}
	return bestID
}

func TestStartIsIdempotent(t *testing.T) {
	s, st := newSim(t, nil)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx, nil))
	defer stop(t, s)
	assert.True(t, s.Running())

	before := s.Drivers()
	require.Len(t, before, 6)
	require.NoError(t, s.Start(ctx, nil))
	after := s.Drivers()
	require.Len(t, after, 6)
	for i := range before {
		assert.Equal(t, before[i].Name, after[i].Name)
	}

	zones, err := st.ListZones(ctx)
	require.NoError(t, err)
	assert.Len(t, zones, len(s.Zones()))
}

func TestStopIsIdempotent(t *testing.T) {
	s, _ := newSim(t, nil)
	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Start(context.Background(), nil))
	stop(t, s)
	assert.False(t, s.Running())
	stop(t, s)
}

func TestStartRejectsForeignZones(t *testing.T) {
	s, _ := newSim(t, nil)
	err := s.Start(context.Background(), []string{"not-a-zone"})
	assert.Error(t, err)
	assert.False(t, s.Running())
}

func TestRunGeneratesRequests(t *testing.T) {
	s, st := newSim(t, nil)
	ctx := context.Background()
	g := s.State().Grid
	zones := g.IDs()[:4]
	require.NoError(t, s.Start(ctx, append(zones, "bogus")))

	require.Eventually(t, func() bool {
		n, err := st.CountRequests(ctx, "", time.Time{})
		return err == nil && n > 0
	}, 3*time.Second, 20*time.Millisecond)
	stop(t, s)

	reqs, err := st.ListRequests(ctx, store.RequestFilter{})
	require.NoError(t, err)
	for _, r := range reqs {
		assert.Contains(t, zones, r.PickupZone)
		assert.True(t, r.Status.Valid())
	}
	for _, z := range zones {
		assert.GreaterOrEqual(t, s.CurrentSurgeMultiplier(z), 1.0)
	}
	for _, d := range s.Drivers() {
		assert.NotEmpty(t, d.CurrentZone)
	}
}

func TestCancelRequestUnknown(t *testing.T) {
	s, _ := newSim(t, nil)
	_, err := s.CancelRequest(context.Background(), "missing")
	assert.Error(t, err)
	assert.Empty(t, s.ActiveRequests())
	assert.Empty(t, s.AllSurgeZones())
	assert.False(t, s.CheckZoneTransition(context.Background(), "d", "a", "a"))
}

func TestForecastLoopBroadcasts(t *testing.T) {
	local := broadcast.NewLocalSink(256)
	defer local.Close()
	ch := local.Subscribe()

	g := testGrid(t)
	demand := map[string]float64{}
	for _, id := range g.IDs() {
		demand[id] = 3
	}
	fc := forecast.Config{PredictInterval: 20 * time.Millisecond}
	fc.SetDefaults()
	s, _ := newSim(t, local, WithForecast(&forecast.StaticProvider{Demand: demand, Confidence: 1}, fc))
	require.NoError(t, s.Start(context.Background(), nil))
	defer stop(t, s)

	deadline := time.After(3 * time.Second)
	for {
		select {
		case msg := <-ch:
			if msg.Type != broadcast.DemandForecast {
				continue
			}
			preds, ok := msg.Data.([]model.DemandPrediction)
			require.True(t, ok)
			assert.NotEmpty(t, preds)
			assert.Equal(t, 3.0, preds[0].PredictedDemand)
			return
		case <-deadline:
			t.Fatalf("no forecast broadcast")
		}
	}
}

// sleepySink takes delay per publish, like a broker under backpressure.
type sleepySink struct{ delay time.Duration }

func (s sleepySink) Publish(ctx context.Context, _ broadcast.Message) error {
	select {
	case <-time.After(s.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestSlowBrokerDoesNotStallTicks(t *testing.T) {
	local := broadcast.NewLocalSink(256)
	ch := local.Subscribe()
	multi := broadcast.NewMultiSink(nil, sleepySink{delay: 500 * time.Millisecond}, local)
	multi.DrainTimeout = 50 * time.Millisecond
	defer multi.Close()

	s, _ := newSim(t, multi)
	require.NoError(t, s.Start(context.Background(), nil))
	defer stop(t, s)

	ticks := 0
	deadline := time.After(1500 * time.Millisecond)
	for ticks < 8 {
		select {
		case msg := <-ch:
			if msg.Type == broadcast.DriverUpdates {
				ticks++
			}
		case <-deadline:
			t.Fatalf("only %d driver updates while the broker was slow", ticks)
		}
	}
}

func seedBacklog(t *testing.T, st *store.MemoryStore, zoneID string, n int) {
	t.Helper()
	now := time.Now().UTC()
	for i := 0; i < n; i++ {
		require.NoError(t, st.SaveRequest(context.Background(), model.RideRequest{
			ID:         fmt.Sprintf("backlog_%s_%d", zoneID, i),
			PickupZone: zoneID,
			Status:     model.RequestPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}))
	}
}

// assertSurgeConsistent checks that zone flags and the multiplier table agree.
func assertSurgeConsistent(t *testing.T, s *Simulation) {
	t.Helper()
	table := map[string]bool{}
	for _, z := range s.AllSurgeZones() {
		table[z.ZoneID] = true
	}
	for _, z := range s.Zones() {
		assert.Equal(t, z.IsSurge, table[z.ID], "zone %s", z.ID)
		if z.IsSurge {
			assert.Greater(t, s.CurrentSurgeMultiplier(z.ID), 1.0, "zone %s", z.ID)
		} else {
			assert.Equal(t, 1.0, s.CurrentSurgeMultiplier(z.ID), "zone %s", z.ID)
		}
	}
}

func TestRestartKeepsSurgeTableInSync(t *testing.T) {
	s, st := newSim(t, nil)
	ctx := context.Background()
	zoneID := s.State().Grid.IDs()[0]

	require.NoError(t, s.Start(ctx, nil))
	seedBacklog(t, st, zoneID, 20)
	require.NoError(t, s.detector.Evaluate(ctx))
	assert.Greater(t, s.CurrentSurgeMultiplier(zoneID), 1.0)
	stop(t, s)

	require.NoError(t, s.Start(ctx, nil))
	require.NoError(t, s.detector.Evaluate(ctx))
	stop(t, s)

	z, ok := s.State().Zones.Get(zoneID)
	require.True(t, ok)
	assert.True(t, z.IsSurge)
	assert.Greater(t, s.CurrentSurgeMultiplier(zoneID), 1.0)
	assert.NotEmpty(t, s.AllSurgeZones())
	assertSurgeConsistent(t, s)
}
