package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wsdl-king/DataAgent/event"
)

func drain(t *testing.T, ch <-chan *event.Event) []*event.Event {
	t.Helper()
	var out []*event.Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-timeout:
			t.Fatal("timed out draining stream")
		}
	}
}

func TestPublishDeliversInOrder(t *testing.T) {
	m := NewMultiplexer()
	ch := m.Open("run-1")

	m.Publish("run-1", event.NewProgress("run-1", "planner", "first"))
	m.Publish("run-1", event.NewProgress("run-1", "sql_execute", "second"))
	m.Publish("run-1", event.NewCompletion("run-1", "done"))

	events := drain(t, ch)
	require.Len(t, events, 3)
	assert.Equal(t, "first", events[0].Text)
	assert.Equal(t, "second", events[1].Text)
	assert.Equal(t, event.KindComplete, events[2].Kind)
}

func TestPublishFiltersEmptyProgress(t *testing.T) {
	m := NewMultiplexer()
	ch := m.Open("run-1")

	m.Publish("run-1", event.NewProgress("run-1", "plan_router", ""))
	m.Publish("run-1", event.NewCompletion("run-1", ""))

	events := drain(t, ch)
	require.Len(t, events, 1)
	assert.Equal(t, event.KindComplete, events[0].Kind)
}

func TestTerminalEventClosesStream(t *testing.T) {
	m := NewMultiplexer()
	ch := m.Open("run-1")

	m.Publish("run-1", event.NewError("run-1", event.CodeNodeFailed, "boom"))
	// Publishes after the terminal event are discarded.
	m.Publish("run-1", event.NewProgress("run-1", "report", "late"))

	events := drain(t, ch)
	require.Len(t, events, 1)
	assert.Equal(t, event.KindError, events[0].Kind)
}

func TestPublishNeverBlocks(t *testing.T) {
	// No subscriber reads while publishing far beyond the channel buffer.
	m := NewMultiplexer(WithSubscriberBuffer(1))
	ch := m.Open("run-1")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			m.Publish("run-1", event.NewProgress("run-1", "planner", "tick"))
		}
		m.Publish("run-1", event.NewCompletion("run-1", "done"))
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on slow subscriber")
	}

	events := drain(t, ch)
	assert.Len(t, events, 1001)
}

func TestCancelDropsBufferedEvents(t *testing.T) {
	m := NewMultiplexer(WithSubscriberBuffer(1))
	ch := m.Open("run-1")

	for i := 0; i < 10; i++ {
		m.Publish("run-1", event.NewProgress("run-1", "planner", "tick"))
	}
	require.NoError(t, m.Cancel("run-1"))

	// The channel closes; buffered but undelivered events are dropped, so
	// at most the in-flight few arrive.
	events := drain(t, ch)
	assert.Less(t, len(events), 10)

	assert.ErrorIs(t, m.Cancel("run-1"), ErrStreamNotFound)
}

func TestPublishToUnknownRunIsDiscarded(t *testing.T) {
	m := NewMultiplexer()
	m.Publish("ghost", event.NewCompletion("ghost", "done"))
}

func TestReopenReplacesSubscriber(t *testing.T) {
	m := NewMultiplexer()
	old := m.Open("run-1")
	fresh := m.Open("run-1")

	// The old channel closes without a terminal event.
	events := drain(t, old)
	assert.Empty(t, events)

	m.Publish("run-1", event.NewCompletion("run-1", "done"))
	events = drain(t, fresh)
	require.Len(t, events, 1)
	assert.Equal(t, event.KindComplete, events[0].Kind)
}
