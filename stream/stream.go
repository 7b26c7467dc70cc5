// Package stream multiplexes run events to per-run subscriber channels.
// Each run owns exactly one active subscriber; publishing never blocks on
// the subscriber's read speed.
package stream

import (
	"errors"
	"sync"

	"github.com/wsdl-king/DataAgent/event"
	"github.com/wsdl-king/DataAgent/log"
)

// Errors.
var (
	// ErrStreamNotFound is returned when no stream is open for a run.
	ErrStreamNotFound = errors.New("stream not found")
)

const defaultOutBuffer = 64

// Multiplexer owns the per-run subscriber channels.
type Multiplexer struct {
	mu      sync.Mutex
	streams map[string]*runStream
	outSize int
}

// MultiplexerOption configures a Multiplexer.
type MultiplexerOption func(*Multiplexer)

// WithSubscriberBuffer sets the capacity of subscriber channels.
func WithSubscriberBuffer(size int) MultiplexerOption {
	return func(m *Multiplexer) {
		if size > 0 {
			m.outSize = size
		}
	}
}

// NewMultiplexer creates an empty multiplexer.
func NewMultiplexer(opts ...MultiplexerOption) *Multiplexer {
	m := &Multiplexer{
		streams: make(map[string]*runStream),
		outSize: defaultOutBuffer,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open creates the subscriber channel for a run. A run has exactly one
// active subscriber: opening a stream for a run that already has one
// releases the previous subscriber first (its channel is closed without a
// terminal event), which is what happens when a client reconnects to
// resume a suspended run.
func (m *Multiplexer) Open(runID string) <-chan *event.Event {
	m.mu.Lock()
	prev := m.streams[runID]
	s := newRunStream(m.outSize)
	m.streams[runID] = s
	m.mu.Unlock()
	if prev != nil {
		log.Debugf("stream: replacing subscriber for run %s", runID)
		prev.abort()
	}
	go s.pump()
	return s.out
}

// Publish appends an event to the run's stream. It never blocks: events
// queue in a growable buffer until the subscriber drains them. The
// producer-boundary filter drops progress events with empty text;
// completion and error events always pass. Publishing a terminal event
// closes the stream after delivery. Events for unknown or closed streams
// are discarded, which is how a cancelled run's late output disappears.
func (m *Multiplexer) Publish(runID string, e *event.Event) {
	if e == nil || !e.Deliverable() {
		return
	}
	m.mu.Lock()
	s := m.streams[runID]
	if s != nil && e.Terminal() {
		delete(m.streams, runID)
	}
	m.mu.Unlock()
	if s == nil {
		return
	}
	s.publish(e)
}

// Cancel immediately releases the run's stream, dropping any undelivered
// events and closing the subscriber channel.
func (m *Multiplexer) Cancel(runID string) error {
	m.mu.Lock()
	s := m.streams[runID]
	delete(m.streams, runID)
	m.mu.Unlock()
	if s == nil {
		return ErrStreamNotFound
	}
	s.abort()
	return nil
}

// runStream is the single-producer/single-consumer queue for one run.
type runStream struct {
	mu     sync.Mutex
	buf    []*event.Event
	closed bool

	notify    chan struct{}
	done      chan struct{}
	abortOnce sync.Once
	out       chan *event.Event
}

func newRunStream(outSize int) *runStream {
	return &runStream{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		out:    make(chan *event.Event, outSize),
	}
}

func (s *runStream) publish(e *event.Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.buf = append(s.buf, e)
	if e.Terminal() {
		s.closed = true
	}
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *runStream) abort() {
	s.abortOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.buf = nil
		s.mu.Unlock()
		close(s.done)
	})
}

// pump drains the buffer into the subscriber channel. The producer stays
// decoupled from the subscriber: buffering happens in buf, delivery here.
func (s *runStream) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.buf) == 0 {
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-s.notify:
			case <-s.done:
				return
			}
			continue
		}
		e := s.buf[0]
		s.buf = s.buf[1:]
		s.mu.Unlock()
		select {
		case s.out <- e:
		case <-s.done:
			return
		}
	}
}
