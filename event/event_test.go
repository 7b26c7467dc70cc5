package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTerminal(t *testing.T) {
	tests := []struct {
		name     string
		event    *Event
		terminal bool
	}{
		{"progress", NewProgress("r", "planner", "text"), false},
		{"completion", NewCompletion("r", "done"), true},
		{"error", NewError("r", CodeNodeFailed, "boom"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.event.Terminal())
		})
	}
}

func TestDeliverable(t *testing.T) {
	tests := []struct {
		name        string
		event       *Event
		deliverable bool
	}{
		{"progress with text", NewProgress("r", "planner", "text"), true},
		{"progress without text", NewProgress("r", "planner", ""), false},
		{"completion without text", NewCompletion("r", ""), true},
		{"error without text", NewError("r", CodeInternal, ""), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.deliverable, tt.event.Deliverable())
		})
	}
}

func TestNewAssignsIdentity(t *testing.T) {
	e := NewProgress("run-1", "planner", "thinking")
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "run-1", e.RunID)
	assert.Equal(t, "planner", e.Kind)
	assert.False(t, e.Timestamp.IsZero())

	e2 := NewProgress("run-1", "planner", "thinking")
	assert.NotEqual(t, e.ID, e2.ID)
}

func TestErrorCarriesCode(t *testing.T) {
	e := NewError("run-1", CodeRetryExhausted, "sql failed three times")
	assert.Equal(t, KindError, e.Kind)
	assert.Equal(t, CodeRetryExhausted, e.Code)
	assert.Equal(t, "sql failed three times", e.Text)
}

func TestClone(t *testing.T) {
	e := NewCompletion("run-1", "done")
	c := e.Clone()
	c.Text = "changed"
	assert.Equal(t, "done", e.Text)

	var nilEvent *Event
	assert.Nil(t, nilEvent.Clone())
}
