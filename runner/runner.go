// Package runner manages the lifecycle of workflow runs: creation, resume
// after human feedback, cancellation, and the in-memory run registry.
package runner

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/wsdl-king/DataAgent/event"
	"github.com/wsdl-king/DataAgent/graph"
	"github.com/wsdl-king/DataAgent/log"
	"github.com/wsdl-king/DataAgent/stream"
)

// Errors.
var (
	// ErrRunNotFound is returned for an unknown or already-terminal run id.
	ErrRunNotFound = errors.New("run not found")
	// ErrRunConflict is returned when the supplied run id names a run that
	// is not awaiting feedback.
	ErrRunConflict = errors.New("run is not awaiting feedback")
	// ErrFeedbackRequired is returned when a resume request carries no
	// feedback decision.
	ErrFeedbackRequired = errors.New("feedback is required to resume the run")
)

// Request is one user request against the workflow. An empty RunID starts
// a new run; a RunID naming a suspended run resumes it with the supplied
// feedback.
type Request struct {
	AgentID string
	RunID   string
	Query   string
	// ReviewEnabled pauses the run for human review after plan generation.
	ReviewEnabled bool
	// FeedbackApproved is the review decision on a resume request. Nil
	// means no decision was supplied.
	FeedbackApproved *bool
	FeedbackContent  string
	// AnalysisOnly ends the run after the first SQL result, skipping
	// analysis and report stages.
	AnalysisOnly bool
	// PlainReport renders the final report as raw markdown instead of HTML.
	PlainReport bool
}

// Seeder builds the initial state for a new run from the request.
type Seeder func(Request) graph.State

// FeedbackInjector merges a review decision into a suspended run's state.
type FeedbackInjector func(state graph.State, approved bool, content string) graph.State

// Runner drives runs of one compiled workflow graph. It is safe for
// concurrent use; runs are isolated by per-run state and per-run stream.
type Runner struct {
	executor *graph.Executor
	mux      *stream.Multiplexer
	registry *Registry
	seed     Seeder
	inject   FeedbackInjector

	idleTTL    time.Duration
	sweepEvery time.Duration
	stop       chan struct{}
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithIdleTTL sets how long an idle run survives in the registry. Runs
// awaiting feedback past the TTL are cancelled and removed.
func WithIdleTTL(ttl time.Duration) RunnerOption {
	return func(r *Runner) {
		if ttl > 0 {
			r.idleTTL = ttl
		}
	}
}

// WithSweepInterval sets how often the registry is swept for idle runs.
func WithSweepInterval(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.sweepEvery = d
		}
	}
}

// New creates a Runner and starts its idle-run janitor.
func New(
	executor *graph.Executor,
	mux *stream.Multiplexer,
	seed Seeder,
	inject FeedbackInjector,
	opts ...RunnerOption,
) *Runner {
	r := &Runner{
		executor:   executor,
		mux:        mux,
		registry:   NewRegistry(),
		seed:       seed,
		inject:     inject,
		idleTTL:    30 * time.Minute,
		sweepEvery: time.Minute,
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.janitor()
	return r
}

// Close stops the janitor. Live runs are left to finish.
func (r *Runner) Close() {
	close(r.stop)
}

// Registry exposes the run registry, mainly for inspection in tests.
func (r *Runner) Registry() *Registry {
	return r.registry
}

// Submit starts a new run or resumes a suspended one and returns the run
// id together with its subscriber channel. The run progresses on its own
// goroutine; the channel closes after the terminal event.
func (r *Runner) Submit(ctx context.Context, req Request) (string, <-chan *event.Event, error) {
	if req.RunID != "" {
		return r.resume(req)
	}
	runID := uuid.NewString()
	// The run outlives the submitting request: disconnects cancel it
	// explicitly rather than through the request context.
	runCtx, cancel := context.WithCancel(context.Background())
	run := newRun(runID, cancel)
	r.registry.Put(run)
	ch := r.mux.Open(runID)
	state := r.seed(req)
	log.Infof("run %s created for agent %s", runID, req.AgentID)
	go r.drive(runCtx, run, state, "")
	return runID, ch, nil
}

// resume re-enters a suspended run at its suspended node after injecting
// the supplied feedback into state.
func (r *Runner) resume(req Request) (string, <-chan *event.Event, error) {
	run, ok := r.registry.Get(req.RunID)
	if !ok {
		return "", nil, ErrRunNotFound
	}
	if run.Status() != StatusAwaitingFeedback {
		return "", nil, ErrRunConflict
	}
	if req.FeedbackApproved == nil {
		return "", nil, ErrFeedbackRequired
	}
	node, state, ok := run.beginResume()
	if !ok {
		return "", nil, ErrRunConflict
	}
	state = r.inject(state, *req.FeedbackApproved, req.FeedbackContent)
	runCtx, cancel := context.WithCancel(context.Background())
	run.mu.Lock()
	run.cancel = cancel
	run.mu.Unlock()
	ch := r.mux.Open(run.ID)
	log.Infof("run %s resumed at node %s (approved=%v)", run.ID, node, *req.FeedbackApproved)
	go r.drive(runCtx, run, state, node)
	return run.ID, ch, nil
}

// Cancel forces the run to Cancelled, emits the terminal error event and
// releases its stream. A second cancel returns ErrRunNotFound.
func (r *Runner) Cancel(runID string) error {
	run, ok := r.registry.Get(runID)
	if !ok {
		return ErrRunNotFound
	}
	if !run.finish(StatusCancelled) {
		return ErrRunNotFound
	}
	run.mu.Lock()
	cancel := run.cancel
	run.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.mux.Publish(runID, event.NewError(runID, event.CodeRunCancelled, "run cancelled"))
	r.registry.Remove(runID)
	log.Infof("run %s cancelled", runID)
	return nil
}

// Run looks up a live run.
func (r *Runner) Run(runID string) (*Run, error) {
	run, ok := r.registry.Get(runID)
	if !ok {
		return nil, ErrRunNotFound
	}
	return run, nil
}

// drive executes the graph for one run and settles the run's status from
// the outcome. It owns the run's state for the duration of the call.
func (r *Runner) drive(ctx context.Context, run *Run, state graph.State, startNode string) {
	result, err := r.executor.Execute(ctx, state, &graph.Invocation{
		RunID:     run.ID,
		StartNode: startNode,
		Emit: func(e *event.Event) {
			r.mux.Publish(run.ID, e)
		},
	})
	switch {
	case err != nil:
		if errors.Is(err, context.Canceled) {
			// Cancelled externally; Cancel already settled status and
			// stream, any late output was discarded by the multiplexer.
			return
		}
		if run.finish(StatusFailed) {
			r.mux.Publish(run.ID, event.NewError(run.ID, reasonCode(err), err.Error()))
		}
		r.registry.Remove(run.ID)
		log.Errorf("run %s failed: %v", run.ID, err)
	case result.Interrupted():
		if run.suspend(result.Interrupt.NodeID, result.State) {
			log.Infof("run %s awaiting feedback at node %s", run.ID, result.Interrupt.NodeID)
		}
	default:
		run.finish(StatusCompleted)
		r.registry.Remove(run.ID)
		log.Infof("run %s completed", run.ID)
	}
}

// reasonCoder lets domain errors carry their own stable stream code.
type reasonCoder interface {
	ReasonCode() string
}

func reasonCode(err error) string {
	var rc reasonCoder
	if errors.As(err, &rc) {
		return rc.ReasonCode()
	}
	if _, ok := graph.AsDispatchViolation(err); ok {
		return event.CodeDispatchError
	}
	var ne *graph.NodeExecutionError
	if errors.As(err, &ne) {
		return event.CodeNodeFailed
	}
	return event.CodeInternal
}

// janitor sweeps idle runs out of the registry.
func (r *Runner) janitor() {
	ticker := time.NewTicker(r.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			for _, run := range r.registry.expired(r.idleTTL) {
				log.Warnf("run %s idle past %s, cancelling", run.ID, r.idleTTL)
				if err := r.Cancel(run.ID); err != nil && !errors.Is(err, ErrRunNotFound) {
					log.Errorf("janitor cancel run %s: %v", run.ID, err)
				}
			}
		}
	}
}
