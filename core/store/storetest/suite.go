// Package storetest holds behaviour checks shared by every store backend.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/smartzone/core/geo"
	"github.com/kilianp07/smartzone/core/model"
	"github.com/kilianp07/smartzone/core/store"
)

// Run exercises a fresh store returned by newStore.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("zones", func(t *testing.T) { testZones(t, newStore(t)) })
	t.Run("drivers", func(t *testing.T) { testDrivers(t, newStore(t)) })
	t.Run("requests", func(t *testing.T) { testRequests(t, newStore(t)) })
	t.Run("surge", func(t *testing.T) { testSurge(t, newStore(t)) })
}

var base = time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)

func testZones(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.GetZone(ctx, "z1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	z := model.Zone{
		ID:       "z2",
		Center:   geo.Point{Lon: 103.8, Lat: 1.35},
		Boundary: geo.Polygon{{Lon: 103.7, Lat: 1.3}, {Lon: 103.9, Lat: 1.3}, {Lon: 103.8, Lat: 1.4}},
	}
	require.NoError(t, s.SaveZone(ctx, z))
	require.NoError(t, s.SaveZone(ctx, model.Zone{ID: "z1"}))
	z.IsSurge = true
	z.DemandLevel = 7
	require.NoError(t, s.SaveZone(ctx, z))

	got, err := s.GetZone(ctx, "z2")
	require.NoError(t, err)
	assert.True(t, got.IsSurge)
	assert.Equal(t, 7, got.DemandLevel)
	assert.Len(t, got.Boundary, 3)

	all, err := s.ListZones(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "z1", all[0].ID)
}

func testDrivers(t *testing.T, s store.Store) {
	ctx := context.Background()
	dest := geo.Point{Lon: 103.85, Lat: 1.36}
	drivers := []model.Driver{
		{ID: "d1", Status: model.DriverAvailable, CurrentZone: "a", Location: geo.Point{Lon: 103.80, Lat: 1.30}},
		{ID: "d2", Status: model.DriverBusy, CurrentZone: "a", Location: geo.Point{Lon: 103.90, Lat: 1.40}, Destination: &dest},
		{ID: "d3", Status: model.DriverAvailable, CurrentZone: "b", Location: geo.Point{Lon: 104.50, Lat: 1.40}},
	}
	for _, d := range drivers {
		require.NoError(t, s.SaveDriver(ctx, d))
	}
	got, err := s.GetDriver(ctx, "d2")
	require.NoError(t, err)
	require.NotNil(t, got.Destination)
	assert.InDelta(t, dest.Lon, got.Destination.Lon, 1e-9)

	_, err = s.GetDriver(ctx, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)

	avail, err := s.ListDrivers(ctx, store.DriverFilter{Status: model.DriverAvailable})
	require.NoError(t, err)
	assert.Len(t, avail, 2)

	inA, err := s.ListDrivers(ctx, store.DriverFilter{Zone: "a", Limit: 1})
	require.NoError(t, err)
	require.Len(t, inA, 1)
	assert.Equal(t, "d1", inA[0].ID)

	box := geo.BBox{MinLon: 103.7, MinLat: 1.2, MaxLon: 104.0, MaxLat: 1.5}
	within, err := s.ListDrivers(ctx, store.DriverFilter{Within: &box})
	require.NoError(t, err)
	assert.Len(t, within, 2)
}

func testRequests(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i, st := range []model.RequestStatus{model.RequestPending, model.RequestAccepted, model.RequestCompleted} {
		r := model.RideRequest{
			ID:         string(rune('a' + i)),
			PickupZone: "z",
			Pickup:     geo.Point{Lon: 103.8 + float64(i)*0.5, Lat: 1.35},
			Status:     st,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.SaveRequest(ctx, r))
	}
	require.NoError(t, s.SaveRequest(ctx, model.RideRequest{ID: "x", PickupZone: "other", CreatedAt: base}))

	r, err := s.GetRequest(ctx, "b")
	require.NoError(t, err)
	r.Status = model.RequestInProgress
	r.DriverID = "d1"
	require.NoError(t, s.SaveRequest(ctx, r))
	r, err = s.GetRequest(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, model.RequestInProgress, r.Status)
	assert.Equal(t, "d1", r.DriverID)

	_, err = s.GetRequest(ctx, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)

	list, err := s.ListRequests(ctx, store.RequestFilter{PickupZone: "z"})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "c", list[0].ID)
	assert.Equal(t, "a", list[2].ID)

	active, err := s.ListRequests(ctx, store.RequestFilter{
		Statuses: []model.RequestStatus{model.RequestPending, model.RequestInProgress},
		Limit:    1,
	})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "b", active[0].ID)

	box := geo.BBox{MinLon: 103.7, MinLat: 1.3, MaxLon: 104.0, MaxLat: 1.4}
	within, err := s.ListRequests(ctx, store.RequestFilter{Within: &box})
	require.NoError(t, err)
	assert.Len(t, within, 1)

	n, err := s.CountRequests(ctx, "z", base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = s.CountRequests(ctx, "missing", time.Time{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testSurge(t *testing.T, s store.Store) {
	ctx := context.Background()
	events := []model.SurgeEvent{
		{ZoneID: "z1", Timestamp: base, Active: true, DemandLevel: 6, Multiplier: 2.2, Ratio: 3},
		{ZoneID: "z2", Timestamp: base.Add(time.Minute), Active: true, DemandLevel: 10, Multiplier: 3},
		{ZoneID: "z1", Timestamp: base.Add(2 * time.Minute), Active: false, DemandLevel: 2, Multiplier: 1},
	}
	for _, ev := range events {
		require.NoError(t, s.AppendSurgeEvent(ctx, ev))
	}
	all, err := s.ListSurgeEvents(ctx, store.SurgeFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.False(t, all[0].Active)
	assert.True(t, all[0].Timestamp.Equal(base.Add(2*time.Minute)))

	z1, err := s.ListSurgeEvents(ctx, store.SurgeFilter{ZoneID: "z1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, z1, 1)
	assert.False(t, z1[0].Active)

	recent, err := s.ListSurgeEvents(ctx, store.SurgeFilter{Since: base.Add(30 * time.Second)})
	require.NoError(t, err)
	assert.Len(t, recent, 2)
	assert.InDelta(t, 3.0, all[1].Multiplier, 1e-9)
}
