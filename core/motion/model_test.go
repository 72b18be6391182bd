package motion

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/smartzone/core/fleet"
	"github.com/kilianp07/smartzone/core/geo"
	"github.com/kilianp07/smartzone/core/metrics"
	"github.com/kilianp07/smartzone/core/model"
	"github.com/kilianp07/smartzone/core/store"
	"github.com/kilianp07/smartzone/core/zone"
	"github.com/kilianp07/smartzone/infra/logger"
)

type transition struct{ driver, from, to string }

type recordTransitions struct{ calls []transition }

func (r *recordTransitions) CheckZoneTransition(_ context.Context, driverID, oldZone, newZone string) bool {
	r.calls = append(r.calls, transition{driverID, oldZone, newZone})
	return false
}

type snapshotSink struct {
	metrics.NopSink
	snaps []metrics.FleetSnapshot
}

func (s *snapshotSink) RecordFleetSnapshot(snap metrics.FleetSnapshot) error {
	s.snaps = append(s.snaps, snap)
	return nil
}

type fixture struct {
	grid  *zone.Grid
	zones *zone.Registry
	fleet *fleet.Registry
	store *store.MemoryStore
	trans *recordTransitions
	sink  *snapshotSink
	model *Model
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gcfg := zone.Config{RadiusKm: 2}
	gcfg.SetDefaults()
	g, err := zone.NewGrid(gcfg)
	require.NoError(t, err)
	cfg := Config{}
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())
	f := &fixture{
		grid:  g,
		zones: zone.NewRegistry(g),
		fleet: fleet.NewRegistry(),
		store: store.NewMemoryStore(),
		trans: &recordTransitions{},
		sink:  &snapshotSink{},
	}
	f.model = New(cfg, g, f.zones, f.fleet, f.trans, f.store, f.sink, logger.NopLogger{},
		rand.New(rand.NewPCG(1, 2)), nil)
	return f
}

func TestStepTurnsTowardDestination(t *testing.T) {
	f := newFixture(t)
	dest := geo.Point{Lon: 103.9, Lat: 1.3521}
	d := model.Driver{
		ID:          "d1",
		Status:      model.DriverBusy,
		Location:    geo.Point{Lon: 103.8198, Lat: 1.3521},
		Heading:     0,
		Speed:       36,
		Destination: &dest,
	}
	f.model.Step(&d, 10*time.Second)
	assert.InDelta(t, 30, d.Heading, 1e-9)
	assert.Greater(t, d.Location.Lat, 1.3521)
	assert.NotNil(t, d.Destination)
}

func TestStepArrival(t *testing.T) {
	f := newFixture(t)
	start := geo.Point{Lon: 103.8198, Lat: 1.3521}
	dest := geo.Point{Lon: 103.8199, Lat: 1.3521}

	busy := model.Driver{ID: "b", Status: model.DriverBusy, Location: start, Speed: 40, Destination: &dest}
	f.model.Step(&busy, time.Second)
	assert.Nil(t, busy.Destination)
	assert.Equal(t, start, busy.Location)

	off := model.Driver{ID: "o", Status: model.DriverOffline, Location: start, Speed: 40}
	f.model.Step(&off, time.Second)
	assert.Equal(t, start, off.Location)
	assert.Nil(t, off.Destination)
}

func TestStepWanderTarget(t *testing.T) {
	f := newFixture(t)
	d := model.Driver{ID: "a", Status: model.DriverAvailable, Location: geo.Point{Lon: 103.8198, Lat: 1.3521}, Speed: 20}
	f.model.Step(&d, time.Second)
	require.NotNil(t, d.Destination)
	near := false
	for _, id := range f.grid.IDs() {
		c, _ := f.grid.CenterOf(id)
		if abs(c.Lon-d.Destination.Lon) <= 0.002 && abs(c.Lat-d.Destination.Lat) <= 0.002 {
			near = true
		}
	}
	assert.True(t, near, "wander target must be within jitter of a zone center")
}

func TestTickCrossesZone(t *testing.T) {
	f := newFixture(t)
	origin := f.grid.CellFor(geo.Point{Lon: 103.8198, Lat: 1.3521})
	neighbors, err := f.grid.Neighbors(origin, 1)
	require.NoError(t, err)
	var target string
	for _, n := range neighbors {
		if n != origin && f.grid.Contains(n) {
			target = n
			break
		}
	}
	require.NotEmpty(t, target)
	from, _ := f.grid.CenterOf(origin)
	to, _ := f.grid.CenterOf(target)

	f.fleet.Reset([]model.Driver{{
		ID:          "d1",
		Status:      model.DriverBusy,
		Location:    from,
		CurrentZone: origin,
		Heading:     geo.Bearing(from, to),
		Speed:       36,
		Destination: &to,
	}})

	now := time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 20; i++ {
		require.NoError(t, f.model.Tick(context.Background(), 10*time.Second, now))
	}

	d, ok := f.fleet.Driver("d1")
	require.True(t, ok)
	assert.Equal(t, target, d.CurrentZone)
	assert.Nil(t, d.Destination)
	require.NotEmpty(t, f.trans.calls)
	assert.Equal(t, transition{"d1", origin, target}, f.trans.calls[0])

	z, _ := f.zones.Get(target)
	assert.Equal(t, 1, z.DriversCount)
	z, _ = f.zones.Get(origin)
	assert.Zero(t, z.DriversCount)

	saved, err := f.store.GetDriver(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, target, saved.CurrentZone)

	require.Len(t, f.sink.snaps, 20)
	assert.Equal(t, 1, f.sink.snaps[0].Busy)
}

func TestTickStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.fleet.Reset([]model.Driver{{ID: "d1", Status: model.DriverAvailable, Speed: 20}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, f.model.Tick(ctx, time.Second, time.Now()), context.Canceled)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
