package broadcast

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kilianp07/smartzone/core/logger"
	"github.com/kilianp07/smartzone/core/monitoring"
)

const (
	// QueueSize bounds the backlog of each network sink.
	QueueSize = 256
	// DefaultDrainTimeout is how long Close lets queued messages flush.
	DefaultDrainTimeout = 2 * time.Second
)

type worker struct {
	sink    Sink
	queue   chan Message
	dropped atomic.Uint64
}

// MultiSink publishes to every sink without waiting on the network. Sinks
// that never block (LocalSink, NopSink) are called inline; every other sink
// gets a bounded queue drained by its own goroutine. A full queue drops the
// message. Individual failures are logged, reported to the monitor and
// swallowed.
type MultiSink struct {
	Sinks        []Sink
	DrainTimeout time.Duration

	logger  logger.Logger
	workers []*worker
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewMultiSink starts one worker per network sink.
func NewMultiSink(log logger.Logger, sinks ...Sink) *MultiSink {
	ctx, cancel := context.WithCancel(context.Background())
	m := &MultiSink{
		Sinks:        sinks,
		DrainTimeout: DefaultDrainTimeout,
		logger:       log,
		workers:      make([]*worker, len(sinks)),
		ctx:          ctx,
		cancel:       cancel,
	}
	for i, s := range sinks {
		if inline(s) {
			continue
		}
		w := &worker{sink: s, queue: make(chan Message, QueueSize)}
		m.workers[i] = w
		m.wg.Add(1)
		go m.drain(w)
	}
	return m
}

func inline(s Sink) bool {
	switch s.(type) {
	case *LocalSink, NopSink:
		return true
	}
	return false
}

// Publish hands msg to every sink and always returns nil. It does not block
// on network sinks.
func (m *MultiSink) Publish(ctx context.Context, msg Message) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil
	}
	for i, s := range m.Sinks {
		w := m.workers[i]
		if w == nil {
			m.deliver(ctx, s, msg)
			continue
		}
		select {
		case w.queue <- msg:
		default:
			if n := w.dropped.Add(1); n == 1 || n%100 == 0 {
				m.warnf("broadcast queue of %T full, %d messages dropped", s, n)
			}
		}
	}
	return nil
}

// Dropped returns the number of messages lost to full queues.
func (m *MultiSink) Dropped() uint64 {
	var n uint64
	for _, w := range m.workers {
		if w != nil {
			n += w.dropped.Load()
		}
	}
	return n
}

func (m *MultiSink) drain(w *worker) {
	defer m.wg.Done()
	for msg := range w.queue {
		m.deliver(m.ctx, w.sink, msg)
	}
}

func (m *MultiSink) deliver(ctx context.Context, s Sink, msg Message) {
	if err := s.Publish(ctx, msg); err != nil {
		m.warnf("broadcast %s via %T failed: %v", msg.Type, s, err)
		monitoring.CaptureException(err, map[string]string{"module": "broadcast", "type": string(msg.Type)})
	}
}

func (m *MultiSink) warnf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Warnf(format, args...)
	}
}

// Close stops accepting messages, lets the queues flush for up to
// DrainTimeout, cancels whatever is still in flight and releases every sink
// holding a connection or subscriptions.
func (m *MultiSink) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for _, w := range m.workers {
		if w != nil {
			close(w.queue)
		}
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(m.DrainTimeout):
		m.cancel()
		select {
		case <-done:
		case <-time.After(m.DrainTimeout):
			m.warnf("broadcast workers still busy after close")
		}
	}
	m.cancel()

	for _, s := range m.Sinks {
		closeSink(s, m.logger)
	}
}

func closeSink(s Sink, log logger.Logger) {
	switch c := s.(type) {
	case interface{ Close() }:
		c.Close()
	case interface{ Close() error }:
		if err := c.Close(); err != nil && log != nil {
			log.Warnf("close %T: %v", s, err)
		}
	}
}
