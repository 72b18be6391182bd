// Package broadcast fans simulation updates out to real-time subscribers.
// Publishing is fire and forget: a failing sink never affects the publisher.
package broadcast

import (
	"context"
	"encoding/json"
	"time"
)

// MessageType names the kind of update carried by a Message.
type MessageType string

const (
	DriverUpdates  MessageType = "driver_updates"
	ZoneUpdates    MessageType = "zone_updates"
	RequestUpdates MessageType = "request_updates"
	SurgeEvent     MessageType = "surge_event"
	GeofenceAlert  MessageType = "geofence_alert"
	DemandForecast MessageType = "demand_forecast"
)

// Message is the envelope sent to subscribers.
type Message struct {
	Type      MessageType `json:"type"`
	Data      any         `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewMessage stamps data with the given time.
func NewMessage(t MessageType, data any, at time.Time) Message {
	return Message{Type: t, Data: data, Timestamp: at}
}

// Encode renders the message as JSON for wire transports.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Sink delivers messages to subscribers.
type Sink interface {
	Publish(ctx context.Context, m Message) error
}

// CancelFunc cancels a ride request on behalf of a remote subscriber.
type CancelFunc func(ctx context.Context, requestID string) error

// ControlKey is the conf entry through which New hands a CancelFunc to sinks
// that accept control commands.
const ControlKey = "_on_cancel"

// NopSink drops every message.
type NopSink struct{}

func (NopSink) Publish(context.Context, Message) error { return nil }
