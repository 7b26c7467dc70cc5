package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wsdl-king/DataAgent/event"
	"github.com/wsdl-king/DataAgent/graph"
	"github.com/wsdl-king/DataAgent/stream"
)

const (
	keyApproved = "approved"
	keyQuery    = "query"
)

// reviewGraph is a three node pipeline with a feedback gate in the middle.
func reviewGraph(t *testing.T) *graph.Graph {
	t.Helper()
	schema := graph.NewStateSchema().
		AddField(keyApproved, graph.StateField{Reducer: graph.ReplaceReducer}).
		AddField(keyQuery, graph.StateField{Reducer: graph.ReplaceReducer})
	g, err := graph.NewStateGraph(schema).
		AddNode("work", func(ctx context.Context, state graph.State) (graph.State, error) {
			return graph.State{graph.StateKeyNodeOutput: "working"}, nil
		}).
		AddNode("gate", func(ctx context.Context, state graph.State) (graph.State, error) {
			if ok, _ := state[keyApproved].(bool); ok {
				return graph.State{}, nil
			}
			return nil, graph.NewInterruptError("awaiting review")
		}).
		AddNode("finish", func(ctx context.Context, state graph.State) (graph.State, error) {
			return graph.State{graph.StateKeyLastResponse: "all done"}, nil
		}).
		SetEntryPoint("work").
		AddEdge("work", "gate").
		AddEdge("gate", "finish").
		SetFinishPoint("finish").
		Compile()
	require.NoError(t, err)
	return g
}

func newTestRunner(t *testing.T, g *graph.Graph) *Runner {
	t.Helper()
	exec, err := graph.NewExecutor(g)
	require.NoError(t, err)
	seed := func(req Request) graph.State {
		s := graph.State{keyQuery: req.Query}
		if req.ReviewEnabled {
			s[keyApproved] = false
		} else {
			s[keyApproved] = true
		}
		return s
	}
	inject := func(state graph.State, approved bool, content string) graph.State {
		next := state.Clone()
		next[keyApproved] = approved
		return next
	}
	r := New(exec, stream.NewMultiplexer(), seed, inject)
	t.Cleanup(r.Close)
	return r
}

func collect(t *testing.T, ch <-chan *event.Event) []*event.Event {
	t.Helper()
	var out []*event.Event
	timeout := time.After(3 * time.Second)
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-timeout:
			t.Fatal("timed out waiting for events")
		}
	}
}

func waitStatus(t *testing.T, r *Runner, runID string, want Status) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if run, err := r.Run(runID); err == nil && run.Status() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s never reached status %s", runID, want)
}

func TestSubmitCompletesWithoutReview(t *testing.T) {
	r := newTestRunner(t, reviewGraph(t))

	runID, ch, err := r.Submit(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	events := collect(t, ch)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, event.KindComplete, last.Kind)
	assert.Equal(t, "all done", last.Text)

	// Terminal runs leave the registry.
	_, err = r.Run(runID)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestSubmitSuspendsForReviewAndResumes(t *testing.T) {
	r := newTestRunner(t, reviewGraph(t))

	runID, ch, err := r.Submit(context.Background(), Request{Query: "q", ReviewEnabled: true})
	require.NoError(t, err)
	waitStatus(t, r, runID, StatusAwaitingFeedback)

	// The first subscriber saw progress but no terminal event.
	approved := true
	_, ch2, err := r.Submit(context.Background(), Request{
		RunID:            runID,
		FeedbackApproved: &approved,
	})
	require.NoError(t, err)

	// Opening the resume stream released the first subscriber.
	collect(t, ch)

	events := collect(t, ch2)
	require.NotEmpty(t, events)
	assert.Equal(t, event.KindComplete, events[len(events)-1].Kind)
}

func TestResumeErrors(t *testing.T) {
	r := newTestRunner(t, reviewGraph(t))
	approved := true

	t.Run("unknown run", func(t *testing.T) {
		_, _, err := r.Submit(context.Background(), Request{
			RunID:            "ghost",
			FeedbackApproved: &approved,
		})
		assert.ErrorIs(t, err, ErrRunNotFound)
	})

	t.Run("missing feedback", func(t *testing.T) {
		runID, _, err := r.Submit(context.Background(), Request{Query: "q", ReviewEnabled: true})
		require.NoError(t, err)
		waitStatus(t, r, runID, StatusAwaitingFeedback)

		_, _, err = r.Submit(context.Background(), Request{RunID: runID})
		assert.ErrorIs(t, err, ErrFeedbackRequired)
	})
}

func TestResumeConflictsWhileRunning(t *testing.T) {
	release := make(chan struct{})
	schema := graph.NewStateSchema()
	g, err := graph.NewStateGraph(schema).
		AddNode("slow", func(ctx context.Context, state graph.State) (graph.State, error) {
			select {
			case <-release:
				return graph.State{}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}).
		SetEntryPoint("slow").
		SetFinishPoint("slow").
		Compile()
	require.NoError(t, err)
	r := newTestRunner(t, g)
	defer close(release)

	runID, _, err := r.Submit(context.Background(), Request{Query: "q"})
	require.NoError(t, err)

	approved := true
	_, _, err = r.Submit(context.Background(), Request{
		RunID:            runID,
		FeedbackApproved: &approved,
	})
	assert.ErrorIs(t, err, ErrRunConflict)
}

func TestCancelEmitsErrorEventOnce(t *testing.T) {
	release := make(chan struct{})
	g, err := graph.NewStateGraph(graph.NewStateSchema()).
		AddNode("slow", func(ctx context.Context, state graph.State) (graph.State, error) {
			select {
			case <-release:
				return graph.State{}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}).
		SetEntryPoint("slow").
		SetFinishPoint("slow").
		Compile()
	require.NoError(t, err)
	r := newTestRunner(t, g)
	defer close(release)

	runID, ch, err := r.Submit(context.Background(), Request{Query: "q"})
	require.NoError(t, err)

	require.NoError(t, r.Cancel(runID))
	assert.ErrorIs(t, r.Cancel(runID), ErrRunNotFound)

	events := collect(t, ch)
	require.Len(t, events, 1)
	assert.Equal(t, event.KindError, events[0].Kind)
	assert.Equal(t, event.CodeRunCancelled, events[0].Code)
}

func TestFailedNodeEmitsErrorEvent(t *testing.T) {
	g, err := graph.NewStateGraph(graph.NewStateSchema()).
		AddNode("broken", func(ctx context.Context, state graph.State) (graph.State, error) {
			return nil, assert.AnError
		}).
		SetEntryPoint("broken").
		SetFinishPoint("broken").
		Compile()
	require.NoError(t, err)
	r := newTestRunner(t, g)

	runID, ch, err := r.Submit(context.Background(), Request{Query: "q"})
	require.NoError(t, err)

	events := collect(t, ch)
	require.Len(t, events, 1)
	assert.Equal(t, event.KindError, events[0].Kind)
	assert.Equal(t, event.CodeNodeFailed, events[0].Code)

	_, err = r.Run(runID)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestJanitorCancelsIdleRuns(t *testing.T) {
	g := reviewGraph(t)
	exec, err := graph.NewExecutor(g)
	require.NoError(t, err)
	r := New(exec, stream.NewMultiplexer(),
		func(req Request) graph.State {
			return graph.State{keyQuery: req.Query, keyApproved: false}
		},
		func(state graph.State, approved bool, content string) graph.State {
			return state
		},
		WithIdleTTL(50*time.Millisecond),
		WithSweepInterval(20*time.Millisecond),
	)
	t.Cleanup(r.Close)

	runID, _, err := r.Submit(context.Background(), Request{Query: "q", ReviewEnabled: true})
	require.NoError(t, err)
	waitStatus(t, r, runID, StatusAwaitingFeedback)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := r.Run(runID); err != nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("idle run was never swept")
}
