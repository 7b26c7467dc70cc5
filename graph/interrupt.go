package graph

import (
	"errors"
	"fmt"
	"time"
)

// InterruptError suspends graph execution at the node that returned it.
// The executor records the node id so a later resume call re-enters the
// graph at exactly that node. It is a control signal, not a failure.
type InterruptError struct {
	// Value describes what the run is waiting for (e.g. the plan awaiting
	// human review).
	Value any
	// NodeID is the node where the interrupt occurred. Filled in by the
	// executor.
	NodeID string
	// Step is the step number when the interrupt occurred.
	Step int
	// Timestamp is when the interrupt occurred.
	Timestamp time.Time
}

// Error returns the error message for the interrupt.
func (e *InterruptError) Error() string {
	return fmt.Sprintf("graph interrupted at node %s (step %d): %v", e.NodeID, e.Step, e.Value)
}

// NewInterruptError creates a new InterruptError with the given value.
func NewInterruptError(value any) *InterruptError {
	return &InterruptError{
		Value:     value,
		Timestamp: time.Now().UTC(),
	}
}

// AsInterruptError extracts an InterruptError from an error.
func AsInterruptError(err error) (*InterruptError, bool) {
	var ie *InterruptError
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}
