// Package event provides the event model for run progress streaming.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Stream event kinds. Progress events carry the emitting node id as their
// kind; the two kinds below terminate the stream.
const (
	// KindComplete marks successful completion of a run.
	KindComplete = "complete"
	// KindError marks run failure. Error events carry a stable reason code.
	KindError = "error"
)

// Stable reason codes carried by error events.
const (
	CodeNodeFailed     = "node_failed"
	CodeRetryExhausted = "retry_exhausted"
	CodeDispatchError  = "dispatch_error"
	CodeRunCancelled   = "run_cancelled"
	CodeInternal       = "internal_error"
)

// Event is one unit of progress pushed to a run's subscriber.
type Event struct {
	// ID is the unique identifier of the event.
	ID string `json:"id"`

	// RunID identifies the run this event belongs to.
	RunID string `json:"runId"`

	// Kind is the node id for progress events, or KindComplete / KindError.
	Kind string `json:"kind"`

	// Text is the human-readable output of the step. Progress events with
	// empty text are filtered out before delivery.
	Text string `json:"text"`

	// Code is the stable reason code, set on error events only.
	Code string `json:"code,omitempty"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"timestamp"`
}

// Option configures an Event.
type Option func(*Event)

// WithText sets the event text.
func WithText(text string) Option {
	return func(e *Event) {
		e.Text = text
	}
}

// WithCode sets the error reason code.
func WithCode(code string) Option {
	return func(e *Event) {
		e.Code = code
	}
}

// New creates a new Event with generated ID and timestamp.
func New(runID, kind string, opts ...Option) *Event {
	e := &Event{
		ID:        uuid.New().String(),
		RunID:     runID,
		Kind:      kind,
		Timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewProgress creates a progress event for the given node.
func NewProgress(runID, node, text string) *Event {
	return New(runID, node, WithText(text))
}

// NewCompletion creates the terminal completion event.
func NewCompletion(runID, text string) *Event {
	return New(runID, KindComplete, WithText(text))
}

// NewError creates the terminal error event with a stable reason code.
func NewError(runID, code, message string) *Event {
	return New(runID, KindError, WithText(message), WithCode(code))
}

// Terminal reports whether the event closes the stream.
func (e *Event) Terminal() bool {
	return e.Kind == KindComplete || e.Kind == KindError
}

// Deliverable reports whether the event survives the producer-side filter.
// Completion and error events always pass, even with empty text.
func (e *Event) Deliverable() bool {
	return e.Terminal() || e.Text != ""
}

// Clone creates a copy of the event.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	clone := *e
	return &clone
}
