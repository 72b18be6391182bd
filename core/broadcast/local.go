package broadcast

import (
	"context"

	"github.com/kilianp07/smartzone/internal/eventbus"
)

// LocalSink delivers messages to in-process subscribers through a typed bus.
type LocalSink struct {
	bus *eventbus.TypedBus[Message]
}

// NewLocalSink creates a LocalSink whose subscribers buffer up to buffer messages.
func NewLocalSink(buffer int) *LocalSink {
	return &LocalSink{bus: eventbus.NewTyped[Message](buffer)}
}

// Publish never blocks; subscribers that are full miss the message.
func (s *LocalSink) Publish(_ context.Context, m Message) error {
	s.bus.Publish(m)
	return nil
}

// Subscribe returns a channel receiving every published message.
func (s *LocalSink) Subscribe() <-chan Message { return s.bus.Subscribe() }

// Unsubscribe releases a subscription.
func (s *LocalSink) Unsubscribe(ch <-chan Message) { s.bus.Unsubscribe(ch) }

// Dropped returns the number of messages lost by slow subscribers.
func (s *LocalSink) Dropped() uint64 { return s.bus.Dropped() }

// Close closes every subscription.
func (s *LocalSink) Close() { s.bus.Close() }
