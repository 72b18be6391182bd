package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/smartzone/core/geo"
)

// RequestStatus is the lifecycle state of a ride request.
type RequestStatus string

const (
	RequestPending    RequestStatus = "pending"
	RequestAccepted   RequestStatus = "accepted"
	RequestInProgress RequestStatus = "in_progress"
	RequestCompleted  RequestStatus = "completed"
	// RequestCancelled is only set by an administrative cancel.
	RequestCancelled RequestStatus = "cancelled"
)

var nextStatus = map[RequestStatus]RequestStatus{
	RequestPending:    RequestAccepted,
	RequestAccepted:   RequestInProgress,
	RequestInProgress: RequestCompleted,
}

// Terminal reports whether no further transition is possible.
func (s RequestStatus) Terminal() bool {
	return s == RequestCompleted || s == RequestCancelled
}

// Valid reports whether s is a known status.
func (s RequestStatus) Valid() bool {
	switch s {
	case RequestPending, RequestAccepted, RequestInProgress, RequestCompleted, RequestCancelled:
		return true
	}
	return false
}

// CanTransition reports whether the status may move to next. The lifecycle is
// linear and moves one step at a time; cancellation is allowed from any
// non-terminal state.
func (s RequestStatus) CanTransition(next RequestStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == RequestCancelled {
		return true
	}
	return nextStatus[s] == next
}

// ErrInvalidTransition is wrapped by Transition errors.
var ErrInvalidTransition = errors.New("invalid status transition")

// RideRequest is a rider's trip request.
type RideRequest struct {
	ID            string        `json:"id" bson:"id"`
	UserID        string        `json:"user_id" bson:"user_id"`
	Pickup        geo.Point     `json:"pickup_location" bson:"pickup_location"`
	Dropoff       geo.Point     `json:"dropoff_location" bson:"dropoff_location"`
	PickupZone    string        `json:"pickup_zone" bson:"pickup_zone"`
	DropoffZone   string        `json:"dropoff_zone" bson:"dropoff_zone"`
	Status        RequestStatus `json:"status" bson:"status"`
	CreatedAt     time.Time     `json:"created_at" bson:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" bson:"updated_at"`
	DriverID      string        `json:"driver_id,omitempty" bson:"driver_id,omitempty"`
	EstimatedFare float64       `json:"estimated_fare" bson:"estimated_fare"`
}

// Transition moves the request to next, enforcing the state machine.
func (r *RideRequest) Transition(next RequestStatus, at time.Time) error {
	if !r.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, next)
	}
	r.Status = next
	r.UpdatedAt = at
	return nil
}
