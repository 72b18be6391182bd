package geofence

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/smartzone/core/broadcast"
	"github.com/kilianp07/smartzone/core/metrics"
	"github.com/kilianp07/smartzone/core/model"
	"github.com/kilianp07/smartzone/infra/logger"
)

type fakeZones map[string]bool

func (f fakeZones) SurgeFlag(id string) (bool, bool) {
	s, ok := f[id]
	return s, ok
}

type fakeAssigner struct{ zones map[string]string }

func (f *fakeAssigner) SetZone(driverID, zoneID string) error {
	f.zones[driverID] = zoneID
	return nil
}

type alertRecorder struct{ alerts []model.GeofenceAlert }

func (a *alertRecorder) RecordRideTransition(metrics.RideTransitionEvent) error { return nil }

func (a *alertRecorder) RecordGeofenceAlert(al model.GeofenceAlert) error {
	a.alerts = append(a.alerts, al)
	return nil
}

func newTestTracker(capacity int) (*Tracker, *fakeAssigner, *alertRecorder, <-chan broadcast.Message) {
	zones := fakeZones{"calm": false, "calm2": false, "hot": true}
	assign := &fakeAssigner{zones: map[string]string{}}
	rec := &alertRecorder{}
	local := broadcast.NewLocalSink(16)
	sub := local.Subscribe()
	at := time.Date(2025, 3, 3, 18, 0, 0, 0, time.UTC)
	tr := NewTracker(zones, assign, capacity, logger.NopLogger{},
		WithClock(func() time.Time { return at }),
		WithMetrics(rec),
		WithSink(local),
	)
	return tr, assign, rec, sub
}

// Enter, exit, then a suppressed re-enter.
func TestCheckZoneTransitionEnterExitDedup(t *testing.T) {
	ctx := context.Background()
	tr, assign, rec, sub := newTestTracker(0)

	assert.True(t, tr.CheckZoneTransition(ctx, "d1", "calm", "hot"))
	require.Len(t, rec.alerts, 1)
	assert.Equal(t, model.AlertEnter, rec.alerts[0].Type)
	assert.Equal(t, "hot", rec.alerts[0].ZoneID)
	assert.Equal(t, "hot", assign.zones["d1"])
	msg := <-sub
	assert.Equal(t, broadcast.GeofenceAlert, msg.Type)

	assert.False(t, tr.CheckZoneTransition(ctx, "d1", "hot", "calm"))
	require.Len(t, rec.alerts, 2)
	assert.Equal(t, model.AlertExit, rec.alerts[1].Type)
	assert.Equal(t, "hot", rec.alerts[1].ZoneID)
	assert.Equal(t, "calm", assign.zones["d1"])

	assert.True(t, tr.CheckZoneTransition(ctx, "d1", "calm", "hot"))
	assert.Len(t, rec.alerts, 2)
	assert.Equal(t, "hot", assign.zones["d1"])
	assert.Len(t, sub, 1)
}

func TestCheckZoneTransitionNoSurgeBoundary(t *testing.T) {
	ctx := context.Background()
	tr, assign, rec, _ := newTestTracker(0)

	assert.False(t, tr.CheckZoneTransition(ctx, "d1", "calm", "calm2"))
	assert.Empty(t, rec.alerts)
	assert.Equal(t, "calm2", assign.zones["d1"])

	assert.False(t, tr.CheckZoneTransition(ctx, "d2", "calm", "calm"))
	assert.False(t, tr.CheckZoneTransition(ctx, "d2", "calm", "nowhere"))
	assert.False(t, tr.CheckZoneTransition(ctx, "d2", "nowhere", "hot"))
	_, touched := assign.zones["d2"]
	assert.False(t, touched)
	assert.Empty(t, rec.alerts)
}

func TestDedupEvictsOldestFirst(t *testing.T) {
	ctx := context.Background()
	tr, _, rec, _ := newTestTracker(2)

	for i := 0; i < 3; i++ {
		tr.CheckZoneTransition(ctx, fmt.Sprintf("d%d", i), "calm", "hot")
	}
	assert.Len(t, rec.alerts, 3)
	assert.Equal(t, 2, tr.Remembered())

	// d0 was evicted, d2 is still remembered
	tr.CheckZoneTransition(ctx, "d0", "calm", "hot")
	assert.Len(t, rec.alerts, 4)
	tr.CheckZoneTransition(ctx, "d2", "calm", "hot")
	assert.Len(t, rec.alerts, 4)
}

func TestRing(t *testing.T) {
	r := newRing(2)
	a := eventKey{driverID: "a"}
	b := eventKey{driverID: "b"}
	c := eventKey{driverID: "c"}
	r.add(a)
	r.add(a)
	r.add(b)
	assert.Equal(t, 2, r.len())
	r.add(c)
	assert.False(t, r.contains(a))
	assert.True(t, r.contains(b))
	assert.True(t, r.contains(c))
}
