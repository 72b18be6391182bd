package store

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/kilianp07/smartzone/core/geo"
	"github.com/kilianp07/smartzone/core/model"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: not found")

// RequestFilter selects ride requests. Zero values match everything.
type RequestFilter struct {
	Statuses   []model.RequestStatus
	PickupZone string
	DriverID   string
	Since      time.Time
	Within     *geo.BBox
	Limit      int
}

// Match reports whether r satisfies the filter, ignoring Limit.
func (f RequestFilter) Match(r model.RideRequest) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, r.Status) {
		return false
	}
	if f.PickupZone != "" && r.PickupZone != f.PickupZone {
		return false
	}
	if f.DriverID != "" && r.DriverID != f.DriverID {
		return false
	}
	if !f.Since.IsZero() && r.CreatedAt.Before(f.Since) {
		return false
	}
	if f.Within != nil && !f.Within.Contains(r.Pickup) {
		return false
	}
	return true
}

// DriverFilter selects drivers. Zero values match everything.
type DriverFilter struct {
	Status model.DriverStatus
	Zone   string
	Within *geo.BBox
	Limit  int
}

// Match reports whether d satisfies the filter, ignoring Limit.
func (f DriverFilter) Match(d model.Driver) bool {
	if f.Status != "" && d.Status != f.Status {
		return false
	}
	if f.Zone != "" && d.CurrentZone != f.Zone {
		return false
	}
	if f.Within != nil && !f.Within.Contains(d.Location) {
		return false
	}
	return true
}

// SurgeFilter selects surge history records.
type SurgeFilter struct {
	ZoneID string
	Since  time.Time
	Limit  int
}

// Match reports whether ev satisfies the filter, ignoring Limit.
func (f SurgeFilter) Match(ev model.SurgeEvent) bool {
	if f.ZoneID != "" && ev.ZoneID != f.ZoneID {
		return false
	}
	return f.Since.IsZero() || !ev.Timestamp.Before(f.Since)
}

// Store persists zones, drivers, ride requests and surge history. Saves are
// upserts with last-write-wins semantics. Lists are sorted by id for zones and
// drivers and by time descending for requests and surge events.
type Store interface {
	SaveZone(ctx context.Context, z model.Zone) error
	GetZone(ctx context.Context, id string) (model.Zone, error)
	ListZones(ctx context.Context) ([]model.Zone, error)

	SaveDriver(ctx context.Context, d model.Driver) error
	GetDriver(ctx context.Context, id string) (model.Driver, error)
	ListDrivers(ctx context.Context, f DriverFilter) ([]model.Driver, error)

	SaveRequest(ctx context.Context, r model.RideRequest) error
	GetRequest(ctx context.Context, id string) (model.RideRequest, error)
	ListRequests(ctx context.Context, f RequestFilter) ([]model.RideRequest, error)
	CountRequests(ctx context.Context, pickupZone string, since time.Time) (int, error)

	AppendSurgeEvent(ctx context.Context, ev model.SurgeEvent) error
	ListSurgeEvents(ctx context.Context, f SurgeFilter) ([]model.SurgeEvent, error)

	Close(ctx context.Context) error
}

func limit[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}
