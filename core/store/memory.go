package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/smartzone/core/model"
)

// MemoryStore keeps every collection in process memory. It is the default
// backend and is used by tests.
type MemoryStore struct {
	mu       sync.RWMutex
	zones    map[string]model.Zone
	drivers  map[string]model.Driver
	requests map[string]model.RideRequest
	surge    []model.SurgeEvent
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		zones:    map[string]model.Zone{},
		drivers:  map[string]model.Driver{},
		requests: map[string]model.RideRequest{},
	}
}

func (s *MemoryStore) SaveZone(_ context.Context, z model.Zone) error {
	s.mu.Lock()
	s.zones[z.ID] = z
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetZone(_ context.Context, id string) (model.Zone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	z, ok := s.zones[id]
	if !ok {
		return model.Zone{}, fmt.Errorf("zone %s: %w", id, ErrNotFound)
	}
	return z, nil
}

func (s *MemoryStore) ListZones(context.Context) ([]model.Zone, error) {
	s.mu.RLock()
	res := make([]model.Zone, 0, len(s.zones))
	for _, z := range s.zones {
		res = append(res, z)
	}
	s.mu.RUnlock()
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (s *MemoryStore) SaveDriver(_ context.Context, d model.Driver) error {
	s.mu.Lock()
	s.drivers[d.ID] = d.Clone()
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetDriver(_ context.Context, id string) (model.Driver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drivers[id]
	if !ok {
		return model.Driver{}, fmt.Errorf("driver %s: %w", id, ErrNotFound)
	}
	return d.Clone(), nil
}

func (s *MemoryStore) ListDrivers(_ context.Context, f DriverFilter) ([]model.Driver, error) {
	s.mu.RLock()
	var res []model.Driver
	for _, d := range s.drivers {
		if f.Match(d) {
			res = append(res, d.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return limit(res, f.Limit), nil
}

func (s *MemoryStore) SaveRequest(_ context.Context, r model.RideRequest) error {
	s.mu.Lock()
	s.requests[r.ID] = r
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetRequest(_ context.Context, id string) (model.RideRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return model.RideRequest{}, fmt.Errorf("request %s: %w", id, ErrNotFound)
	}
	return r, nil
}

func (s *MemoryStore) ListRequests(_ context.Context, f RequestFilter) ([]model.RideRequest, error) {
	s.mu.RLock()
	var res []model.RideRequest
	for _, r := range s.requests {
		if f.Match(r) {
			res = append(res, r)
		}
	}
	s.mu.RUnlock()
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	return limit(res, f.Limit), nil
}

func (s *MemoryStore) CountRequests(_ context.Context, pickupZone string, since time.Time) (int, error) {
	f := RequestFilter{PickupZone: pickupZone, Since: since}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.requests {
		if f.Match(r) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) AppendSurgeEvent(_ context.Context, ev model.SurgeEvent) error {
	s.mu.Lock()
	s.surge = append(s.surge, ev)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ListSurgeEvents(_ context.Context, f SurgeFilter) ([]model.SurgeEvent, error) {
	s.mu.RLock()
	var res []model.SurgeEvent
	for _, ev := range s.surge {
		if f.Match(ev) {
			res = append(res, ev)
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(res, func(i, j int) bool { return res[i].Timestamp.After(res[j].Timestamp) })
	return limit(res, f.Limit), nil
}

func (s *MemoryStore) Close(context.Context) error { return nil }
