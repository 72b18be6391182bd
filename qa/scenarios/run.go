package scenarios

import (
	"context"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kilianp07/smartzone/core/fleet"
	"github.com/kilianp07/smartzone/core/model"
	"github.com/kilianp07/smartzone/core/ride"
	"github.com/kilianp07/smartzone/core/store"
	"github.com/kilianp07/smartzone/core/surge"
	"github.com/kilianp07/smartzone/core/zone"
	"github.com/kilianp07/smartzone/infra/logger"
	"github.com/kilianp07/smartzone/infra/metrics"
)

var clock = time.Date(2025, 3, 3, 8, 30, 0, 0, time.UTC)

// RunScenario submits the scenario requests to a ride manager, runs one surge
// evaluation and checks the outcome.
func RunScenario(t *testing.T, sc *Scenario) {
	t.Helper()
	gridCfg := zone.Config{RadiusKm: sc.RadiusKm}
	gridCfg.SetDefaults()
	grid, err := zone.NewGrid(gridCfg)
	if err != nil {
		t.Fatalf("grid: %v", err)
	}
	ids := grid.IDs()
	zoneAt := func(i int) string {
		if i < 0 || i >= len(ids) {
			t.Fatalf("scenario %s: zone index %d outside grid of %d zones", sc.Name, i, len(ids))
		}
		return ids[i]
	}

	reg := prometheus.NewRegistry()
	sink, err := metrics.NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("prom sink: %v", err)
	}

	zones := zone.NewRegistry(grid)
	fl := fleet.NewRegistry()
	st := store.NewMemoryStore()

	drivers := make([]model.Driver, len(sc.Drivers))
	for i, d := range sc.Drivers {
		id := zoneAt(d.Zone)
		center, _ := grid.CenterOf(id)
		drivers[i] = model.Driver{ID: d.ID, Location: center, CurrentZone: id, Status: d.StatusModel(), LastUpdated: clock}
	}
	fl.Reset(drivers)
	zones.SetDriverCounts(fl.CountByZone())

	rideCfg := ride.Config{}
	rideCfg.SetDefaults()
	mgr := ride.NewManager(rideCfg, 1, 0.0005, fl, zones, st, nil, sink, logger.NopLogger{})
	mgr.SetClock(func() time.Time { return clock })

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		waitCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		_ = mgr.Wait(waitCtx)
	}()

	var submitted []string
	for _, def := range sc.Requests {
		pickupZone := zoneAt(def.Zone)
		dropoffZone := ids[(def.Zone+1)%len(ids)]
		pickup, _ := grid.CenterOf(pickupZone)
		dropoff, _ := grid.CenterOf(dropoffZone)
		created := clock.Add(-time.Duration(def.AgeMinutes) * time.Minute)
		for range def.Count {
			id := fmt.Sprintf("r%d", len(submitted))
			req := model.RideRequest{
				ID: id, UserID: "user_" + id,
				Pickup: pickup, Dropoff: dropoff,
				PickupZone: pickupZone, DropoffZone: dropoffZone,
				Status: model.RequestPending, CreatedAt: created, UpdatedAt: created,
			}
			if _, err := mgr.Submit(ctx, req); err != nil {
				t.Fatalf("submit %s: %v", id, err)
			}
			submitted = append(submitted, id)
		}
	}

	matched, pending := 0, 0
	for _, id := range submitted {
		req, ok := fl.Request(id)
		if !ok {
			t.Fatalf("request %s disappeared", id)
		}
		if req.DriverID != "" {
			matched++
		} else if req.Status == model.RequestPending {
			pending++
		}
	}
	if matched != sc.Expected.Matched || pending != sc.Expected.Pending {
		t.Errorf("scenario %s expected %d matched / %d pending, got %d / %d",
			sc.Name, sc.Expected.Matched, sc.Expected.Pending, matched, pending)
	}

	surgeCfg := surge.Config{Threshold: sc.Threshold}
	surgeCfg.SetDefaults()
	det := surge.NewDetector(surgeCfg, zones, fl, st, nil, sink, logger.NopLogger{})
	det.SetClock(func() time.Time { return clock })
	if err := det.Evaluate(ctx); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	var got []string
	for _, sz := range det.AllSurgeZones() {
		got = append(got, sz.ZoneID)
	}
	want := make([]string, len(sc.Expected.SurgeZones))
	for i, idx := range sc.Expected.SurgeZones {
		want[i] = zoneAt(idx)
	}
	slices.Sort(got)
	slices.Sort(want)
	if !slices.Equal(got, want) {
		t.Errorf("scenario %s expected surge zones %v, got %v", sc.Name, want, got)
	}
	n, err := testutil.GatherAndCount(reg, "smartzone_surge_multiplier")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n != len(want) {
		t.Errorf("scenario %s expected %d multiplier series, got %d", sc.Name, len(want), n)
	}
	for idx, m := range sc.Expected.Multipliers {
		if got := det.CurrentMultiplier(zoneAt(idx)); got != m {
			t.Errorf("scenario %s zone %d expected multiplier %.1f, got %.1f", sc.Name, idx, m, got)
		}
	}
	for idx, level := range sc.Expected.DemandLevel {
		z, _ := zones.Get(zoneAt(idx))
		if z.DemandLevel != level {
			t.Errorf("scenario %s zone %d expected demand level %d, got %d", sc.Name, idx, level, z.DemandLevel)
		}
	}
}
