package geofence

import "github.com/kilianp07/smartzone/core/model"

type eventKey struct {
	driverID string
	zoneID   string
	kind     model.AlertType
}

// ring remembers the most recent keys. Once full, the oldest key is evicted
// first.
type ring struct {
	keys  []eventKey
	index map[eventKey]struct{}
	next  int
	full  bool
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	return &ring{keys: make([]eventKey, capacity), index: make(map[eventKey]struct{}, capacity)}
}

func (r *ring) contains(k eventKey) bool {
	_, ok := r.index[k]
	return ok
}

func (r *ring) add(k eventKey) {
	if r.contains(k) {
		return
	}
	if r.full {
		delete(r.index, r.keys[r.next])
	}
	r.keys[r.next] = k
	r.index[k] = struct{}{}
	r.next++
	if r.next == len(r.keys) {
		r.next = 0
		r.full = true
	}
}

func (r *ring) len() int { return len(r.index) }
