package surge

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/smartzone/core/broadcast"
	"github.com/kilianp07/smartzone/core/model"
	"github.com/kilianp07/smartzone/core/store"
	"github.com/kilianp07/smartzone/core/zone"
	"github.com/kilianp07/smartzone/infra/logger"
)

type fakeSupply map[string]int

func (f fakeSupply) AvailableInZone(id string) int { return f[id] }

func TestDemandLevelBounds(t *testing.T) {
	for requests := 0; requests <= 60; requests++ {
		for drivers := 0; drivers <= 20; drivers++ {
			l := DemandLevel(requests, drivers)
			if l < 0 || l > 10 {
				t.Fatalf("demand %d out of range for %d/%d", l, requests, drivers)
			}
		}
	}
	assert.Equal(t, 6, DemandLevel(6, 2))
	assert.Equal(t, 10, DemandLevel(50, 0))
	assert.Equal(t, 0, DemandLevel(0, 0))
}

func TestMultiplierRangeAndStep(t *testing.T) {
	for level := 0; level <= 10; level++ {
		m := Multiplier(level)
		assert.GreaterOrEqual(t, m, 1.0)
		assert.LessOrEqual(t, m, 3.0)
		assert.InDelta(t, math.Round(m*10), m*10, 1e-9, "level %d gives %v", level, m)
	}
	assert.InDelta(t, 2.2, Multiplier(6), 1e-12)
	assert.InDelta(t, 3.0, Multiplier(10), 1e-12)
	assert.InDelta(t, 1.0, Multiplier(0), 1e-12)
}

func TestActive(t *testing.T) {
	assert.True(t, Active(6, 2, 5))
	assert.False(t, Active(4, 0, 5), "below request threshold")
	assert.False(t, Active(6, 4, 5), "ratio exactly 1.5 does not surge")
	assert.True(t, Active(5, 0, 5), "no drivers counts as one")
}

type fixture struct {
	det    *Detector
	zones  *zone.Registry
	store  *store.MemoryStore
	supply fakeSupply
	sub    <-chan broadcast.Message
	hot    string
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gcfg := zone.Config{RadiusKm: 1}
	gcfg.SetDefaults()
	g, err := zone.NewGrid(gcfg)
	require.NoError(t, err)
	f := &fixture{
		zones:  zone.NewRegistry(g),
		store:  store.NewMemoryStore(),
		supply: fakeSupply{},
		hot:    g.IDs()[0],
		now:    time.Date(2025, 3, 3, 18, 0, 0, 0, time.UTC),
	}
	local := broadcast.NewLocalSink(8)
	f.sub = local.Subscribe()
	cfg := Config{}
	cfg.SetDefaults()
	f.det = NewDetector(cfg, f.zones, f.supply, f.store, local, nil, logger.NopLogger{})
	f.det.SetClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) addRequests(t *testing.T, zoneID string, n int, age time.Duration) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, f.store.SaveRequest(context.Background(), model.RideRequest{
			ID:         fmt.Sprintf("%s-%d-%d", zoneID, age, i),
			PickupZone: zoneID,
			Status:     model.RequestPending,
			CreatedAt:  f.now.Add(-age),
		}))
	}
}

// Six recent requests against two available drivers with threshold five.
func TestEvaluateActivatesSurge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addRequests(t, f.hot, 6, time.Minute)
	f.addRequests(t, f.hot, 10, 20*time.Minute)
	f.supply[f.hot] = 2

	require.NoError(t, f.det.Evaluate(ctx))

	z, _ := f.zones.Get(f.hot)
	assert.True(t, z.IsSurge)
	assert.Equal(t, 6, z.DemandLevel)
	assert.InDelta(t, 2.2, f.det.CurrentMultiplier(f.hot), 1e-12)
	assert.Equal(t, []model.SurgeZone{{ZoneID: f.hot, DemandLevel: 6, Multiplier: 2.2}}, f.det.AllSurgeZones())

	events, err := f.store.ListSurgeEvents(ctx, store.SurgeFilter{ZoneID: f.hot})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].Active)
	assert.InDelta(t, 3.0, events[0].Ratio, 1e-12)

	saved, err := f.store.GetZone(ctx, f.hot)
	require.NoError(t, err)
	assert.True(t, saved.IsSurge)

	msg := <-f.sub
	assert.Equal(t, broadcast.SurgeEvent, msg.Type)

	// no flip, no new event
	require.NoError(t, f.det.Evaluate(ctx))
	events, _ = f.store.ListSurgeEvents(ctx, store.SurgeFilter{})
	assert.Len(t, events, 1)
}

func TestEvaluateDeactivatesSurge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addRequests(t, f.hot, 6, time.Minute)
	f.supply[f.hot] = 1
	require.NoError(t, f.det.Evaluate(ctx))
	require.InDelta(t, 3.0, f.det.CurrentMultiplier(f.hot), 1e-12)

	f.supply[f.hot] = 6
	require.NoError(t, f.det.Evaluate(ctx))

	z, _ := f.zones.Get(f.hot)
	assert.False(t, z.IsSurge)
	assert.Equal(t, 2, z.DemandLevel)
	assert.InDelta(t, 1.0, f.det.CurrentMultiplier(f.hot), 1e-12)
	assert.Empty(t, f.det.AllSurgeZones())

	events, err := f.store.ListSurgeEvents(ctx, store.SurgeFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.False(t, events[0].Active)
	assert.InDelta(t, 1.0, events[0].Multiplier, 1e-12)
}

func TestEvaluateUpdatesDemandWithoutFlip(t *testing.T) {
	f := newFixture(t)
	f.addRequests(t, f.hot, 3, time.Minute)
	require.NoError(t, f.det.Evaluate(context.Background()))
	z, _ := f.zones.Get(f.hot)
	assert.False(t, z.IsSurge)
	assert.Equal(t, 6, z.DemandLevel)
	assert.Len(t, f.sub, 0)

	f.det.Reset()
	assert.Empty(t, f.det.AllSurgeZones())
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{}
	cfg.SetDefaults()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 10*time.Minute, cfg.Window)
	assert.Error(t, Config{Threshold: 0, Window: time.Minute, Interval: time.Second}.Validate())
}
