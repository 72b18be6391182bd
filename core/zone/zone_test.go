package zone

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/smartzone/core/geo"
)

func testGrid(t *testing.T) *Grid {
	t.Helper()
	cfg := Config{RadiusKm: 2}
	cfg.SetDefaults()
	g, err := NewGrid(cfg)
	require.NoError(t, err)
	return g
}

func TestNewGridCoversRadius(t *testing.T) {
	cfg := Config{RadiusKm: 2}
	cfg.SetDefaults()
	g := testGrid(t)
	require.Greater(t, g.Len(), 7)
	assert.Equal(t, 8, g.Resolution())
	for _, id := range g.IDs() {
		c, err := g.CenterOf(id)
		require.NoError(t, err)
		assert.LessOrEqual(t, geo.Haversine(cfg.Center, c), cfg.RadiusKm)
	}
	assert.True(t, g.Contains(g.CellFor(cfg.Center)))
}

func TestConfigValidate(t *testing.T) {
	assert.Error(t, Config{Resolution: 16, RadiusKm: 1}.Validate())
	assert.Error(t, Config{Resolution: 8}.Validate())
	assert.Error(t, Config{Resolution: 8, RadiusKm: 1, Center: geo.Point{Lat: 95}}.Validate())
	_, err := NewGrid(Config{Resolution: 8, RadiusKm: -1})
	assert.Error(t, err)
}

func TestGridLookups(t *testing.T) {
	g := testGrid(t)
	id := g.IDs()[0]

	boundary, err := g.BoundaryOf(id)
	require.NoError(t, err)
	assert.Len(t, boundary, 6)

	n, err := g.Neighbors(id, 1)
	require.NoError(t, err)
	assert.Len(t, n, 7)
	assert.Contains(t, n, id)

	_, err = g.CenterOf("nope")
	assert.ErrorIs(t, err, ErrUnknownZone)
	_, err = g.BoundaryOf("nope")
	assert.ErrorIs(t, err, ErrUnknownZone)
	_, err = g.Neighbors("nope", 1)
	assert.ErrorIs(t, err, ErrUnknownZone)
}

func TestRandomPointInZone(t *testing.T) {
	g := testGrid(t)
	rng := rand.New(rand.NewPCG(7, 7))
	for _, id := range g.IDs() {
		p, err := g.RandomPointIn(id, rng)
		require.NoError(t, err)
		boundary, _ := g.BoundaryOf(id)
		assert.True(t, boundary.Contains(p))
	}
	_, err := g.RandomPointIn("nope", rng)
	assert.ErrorIs(t, err, ErrUnknownZone)
}

func TestNewGridFromIDs(t *testing.T) {
	g := testGrid(t)
	ids := g.IDs()[:3]
	sub, err := NewGridFromIDs(8, ids)
	require.NoError(t, err)
	assert.Equal(t, ids, sub.IDs())

	_, err = NewGridFromIDs(8, []string{"not-a-cell"})
	assert.ErrorIs(t, err, ErrUnknownZone)
	_, err = NewGridFromIDs(7, ids)
	assert.ErrorIs(t, err, ErrUnknownZone)
	_, err = NewGridFromIDs(8, nil)
	assert.Error(t, err)
}

func TestRegistryState(t *testing.T) {
	g := testGrid(t)
	r := NewRegistry(g)
	ids := g.IDs()
	assert.Len(t, r.Snapshot(), g.Len())

	r.SetDriverCounts(map[string]int{ids[0]: 3})
	z, ok := r.Get(ids[0])
	require.True(t, ok)
	assert.Equal(t, 3, z.DriversCount)

	assert.True(t, r.IncrementRequests(ids[0]))
	assert.True(t, r.IncrementRequests(ids[0]))
	assert.False(t, r.IncrementRequests("nope"))
	z, _ = r.Get(ids[0])
	assert.Equal(t, 2, z.CurrentRequests)

	assert.True(t, r.SetSurge(ids[1], true, 6))
	surge, known := r.SurgeFlag(ids[1])
	assert.True(t, surge)
	assert.True(t, known)
	_, known = r.SurgeFlag("nope")
	assert.False(t, known)

	assert.True(t, r.SetDemand(ids[1], 2))
	z, _ = r.Get(ids[1])
	assert.Equal(t, 2, z.DemandLevel)
	assert.True(t, z.IsSurge)

	r.SetDriverCounts(nil)
	z, _ = r.Get(ids[0])
	assert.Zero(t, z.DriversCount)
}

func TestRegistryReset(t *testing.T) {
	cfg := Config{RadiusKm: 1}
	cfg.SetDefaults()
	g, err := NewGrid(cfg)
	require.NoError(t, err)
	r := NewRegistry(g)
	id := g.IDs()[0]

	r.SetSurge(id, true, 7)
	r.IncrementRequests(id)
	r.SetDriverCounts(map[string]int{id: 3})
	r.Reset()

	z, ok := r.Get(id)
	require.True(t, ok)
	assert.False(t, z.IsSurge)
	assert.Zero(t, z.DemandLevel)
	assert.Zero(t, z.CurrentRequests)
	assert.Zero(t, z.DriversCount)
	assert.Equal(t, g.Len(), len(r.Snapshot()))
}
