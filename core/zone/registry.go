package zone

import (
	"sort"
	"sync"

	"github.com/kilianp07/smartzone/core/geo"
	"github.com/kilianp07/smartzone/core/model"
)

// Registry holds the live state of every zone. It is shared by the motion
// model (driver counts) and the surge detector (demand and surge flags).
type Registry struct {
	mu    sync.RWMutex
	zones map[string]*model.Zone
}

// NewRegistry seeds one zero-state zone per grid cell.
func NewRegistry(g *Grid) *Registry {
	r := &Registry{zones: make(map[string]*model.Zone, g.Len())}
	for _, id := range g.ids {
		c := g.cells[id]
		boundary := make(geo.Polygon, len(c.boundary))
		copy(boundary, c.boundary)
		r.zones[id] = &model.Zone{ID: id, Center: c.center, Boundary: boundary}
	}
	return r
}

// Get returns a copy of the zone state.
func (r *Registry) Get(id string) (model.Zone, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	z, ok := r.zones[id]
	if !ok {
		return model.Zone{}, false
	}
	return *z, true
}

// SurgeFlag returns the surge flag of a zone and whether the zone is known.
func (r *Registry) SurgeFlag(id string) (surge bool, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	z, ok := r.zones[id]
	if !ok {
		return false, false
	}
	return z.IsSurge, true
}

// Snapshot returns copies of all zones sorted by id.
func (r *Registry) Snapshot() []model.Zone {
	r.mu.RLock()
	out := make([]model.Zone, 0, len(r.zones))
	for _, z := range r.zones {
		out = append(out, *z)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetDriverCounts replaces every zone's driver count. Zones missing from
// counts are reset to zero.
func (r *Registry) SetDriverCounts(counts map[string]int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, z := range r.zones {
		z.DriversCount = counts[id]
	}
}

// IncrementRequests bumps the cumulative request counter of a zone.
func (r *Registry) IncrementRequests(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	z, ok := r.zones[id]
	if ok {
		z.CurrentRequests++
	}
	return ok
}

// SetDemand updates the demand level of a zone.
func (r *Registry) SetDemand(id string, level int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	z, ok := r.zones[id]
	if ok {
		z.DemandLevel = level
	}
	return ok
}

// SetSurge updates the surge flag and the demand level together.
func (r *Registry) SetSurge(id string, surge bool, level int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	z, ok := r.zones[id]
	if ok {
		z.IsSurge = surge
		z.DemandLevel = level
	}
	return ok
}

// Reset returns every zone to its initial state: no surge, no demand and
// zeroed counters.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, z := range r.zones {
		z.IsSurge = false
		z.DemandLevel = 0
		z.CurrentRequests = 0
		z.DriversCount = 0
		z.AverageWaitTime = 0
	}
}
