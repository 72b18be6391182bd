// Package fleet holds the authoritative in-memory state of drivers and active
// ride requests for one simulation run.
package fleet

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/smartzone/core/geo"
	"github.com/kilianp07/smartzone/core/model"
)

var (
	// ErrUnknownDriver is returned for driver ids not in the fleet.
	ErrUnknownDriver = errors.New("fleet: unknown driver")
	// ErrUnknownRequest is returned for request ids not in the active set.
	ErrUnknownRequest = errors.New("fleet: unknown request")
	// ErrNoDriverAvailable is returned by Claim when every driver is busy or offline.
	ErrNoDriverAvailable = errors.New("fleet: no available driver")
)

// Registry guards drivers and active requests with a single mutex. Every
// method completes its mutation under the lock and returns copies.
type Registry struct {
	mu       sync.RWMutex
	drivers  map[string]*model.Driver
	requests map[string]*model.RideRequest
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		drivers:  map[string]*model.Driver{},
		requests: map[string]*model.RideRequest{},
	}
}

// Reset replaces the fleet and clears the active request set.
func (r *Registry) Reset(drivers []model.Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers = make(map[string]*model.Driver, len(drivers))
	for _, d := range drivers {
		c := d.Clone()
		r.drivers[d.ID] = &c
	}
	r.requests = map[string]*model.RideRequest{}
}

// Len returns the fleet size.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.drivers)
}

// Driver returns a copy of a driver.
func (r *Registry) Driver(id string) (model.Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[id]
	if !ok {
		return model.Driver{}, false
	}
	return d.Clone(), true
}

// Drivers returns copies of all drivers sorted by id.
func (r *Registry) Drivers() []model.Driver {
	r.mu.RLock()
	out := make([]model.Driver, 0, len(r.drivers))
	for _, d := range r.drivers {
		out = append(out, d.Clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpdateDriver applies fn to the stored driver and returns the result.
func (r *Registry) UpdateDriver(id string, fn func(*model.Driver)) (model.Driver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.drivers[id]
	if !ok {
		return model.Driver{}, fmt.Errorf("%w: %s", ErrUnknownDriver, id)
	}
	fn(d)
	return d.Clone(), nil
}

// SetZone records the zone a driver is in.
func (r *Registry) SetZone(driverID, zoneID string) error {
	_, err := r.UpdateDriver(driverID, func(d *model.Driver) { d.CurrentZone = zoneID })
	return err
}

// CountByZone returns the number of drivers per zone, regardless of status.
func (r *Registry) CountByZone() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := map[string]int{}
	for _, d := range r.drivers {
		if d.CurrentZone != "" {
			counts[d.CurrentZone]++
		}
	}
	return counts
}

// AvailableInZone returns the number of available drivers in a zone.
func (r *Registry) AvailableInZone(zoneID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, d := range r.drivers {
		if d.CurrentZone == zoneID && d.Status == model.DriverAvailable {
			n++
		}
	}
	return n
}

// StatusCounts returns the number of drivers per status.
func (r *Registry) StatusCounts() map[model.DriverStatus]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := map[model.DriverStatus]int{}
	for _, d := range r.drivers {
		counts[d.Status]++
	}
	return counts
}

// AddRequest inserts a request into the active set.
func (r *Registry) AddRequest(req model.RideRequest) {
	r.mu.Lock()
	c := req
	r.requests[req.ID] = &c
	r.mu.Unlock()
}

// Request returns a copy of an active request.
func (r *Registry) Request(id string) (model.RideRequest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	req, ok := r.requests[id]
	if !ok {
		return model.RideRequest{}, false
	}
	return *req, true
}

// ActiveRequests returns copies of the active requests, oldest first.
func (r *Registry) ActiveRequests() []model.RideRequest {
	r.mu.RLock()
	out := make([]model.RideRequest, 0, len(r.requests))
	for _, req := range r.requests {
		out = append(out, *req)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Claim matches a pending request with the nearest available driver by planar
// distance on raw coordinates. This is an approximation of travel distance
// and is kept as such. On success the request is accepted, the driver is busy
// and heads to the pickup point.
func (r *Registry) Claim(requestID string, at time.Time) (model.RideRequest, model.Driver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[requestID]
	if !ok {
		return model.RideRequest{}, model.Driver{}, fmt.Errorf("%w: %s", ErrUnknownRequest, requestID)
	}
	if req.Status != model.RequestPending {
		return model.RideRequest{}, model.Driver{}, fmt.Errorf("request %s is %s: %w", requestID, req.Status, model.ErrInvalidTransition)
	}

	var best *model.Driver
	bestDist := math.Inf(1)
	for _, d := range r.drivers {
		if d.Status != model.DriverAvailable {
			continue
		}
		dist := geo.PlanarDistance(d.Location, req.Pickup)
		if dist < bestDist || (dist == bestDist && best != nil && d.ID < best.ID) {
			best, bestDist = d, dist
		}
	}
	if best == nil {
		return *req, model.Driver{}, ErrNoDriverAvailable
	}

	if err := req.Transition(model.RequestAccepted, at); err != nil {
		return model.RideRequest{}, model.Driver{}, err
	}
	req.DriverID = best.ID
	best.Status = model.DriverBusy
	pickup := req.Pickup
	best.Destination = &pickup
	best.LastUpdated = at
	return *req, best.Clone(), nil
}

// StartTrip moves an accepted request to in progress and retargets its driver
// to the dropoff point.
func (r *Registry) StartTrip(requestID string, at time.Time) (model.RideRequest, model.Driver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, d, err := r.assignedLocked(requestID)
	if err != nil {
		return model.RideRequest{}, model.Driver{}, err
	}
	if err := req.Transition(model.RequestInProgress, at); err != nil {
		return model.RideRequest{}, model.Driver{}, err
	}
	dropoff := req.Dropoff
	d.Destination = &dropoff
	d.LastUpdated = at
	return *req, d.Clone(), nil
}

// CompleteTrip completes a request, frees its driver and removes the request
// from the active set.
func (r *Registry) CompleteTrip(requestID string, at time.Time) (model.RideRequest, model.Driver, error) {
	return r.finish(requestID, model.RequestCompleted, at)
}

// Cancel cancels any non-terminal request. Its driver, if any, becomes
// available with no destination.
func (r *Registry) Cancel(requestID string, at time.Time) (model.RideRequest, model.Driver, error) {
	return r.finish(requestID, model.RequestCancelled, at)
}

func (r *Registry) finish(requestID string, status model.RequestStatus, at time.Time) (model.RideRequest, model.Driver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[requestID]
	if !ok {
		return model.RideRequest{}, model.Driver{}, fmt.Errorf("%w: %s", ErrUnknownRequest, requestID)
	}
	if err := req.Transition(status, at); err != nil {
		return model.RideRequest{}, model.Driver{}, err
	}
	delete(r.requests, requestID)

	var freed model.Driver
	if d, ok := r.drivers[req.DriverID]; ok {
		d.Status = model.DriverAvailable
		d.Destination = nil
		d.LastUpdated = at
		freed = d.Clone()
	}
	return *req, freed, nil
}

func (r *Registry) assignedLocked(requestID string) (*model.RideRequest, *model.Driver, error) {
	req, ok := r.requests[requestID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownRequest, requestID)
	}
	d, ok := r.drivers[req.DriverID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q for request %s", ErrUnknownDriver, req.DriverID, requestID)
	}
	return req, d, nil
}
