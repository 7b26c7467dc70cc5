package runner

import (
	"context"
	"sync"
	"time"

	"github.com/wsdl-king/DataAgent/graph"
)

// Status is the lifecycle state of a run.
type Status string

// Run statuses. All but StatusRunning stop scheduling; StatusAwaitingFeedback
// is resumable, the other three are final.
const (
	StatusRunning          Status = "running"
	StatusAwaitingFeedback Status = "awaiting_feedback"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusCancelled        Status = "cancelled"
)

// Terminal reports whether the status is final (not resumable).
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Run is one execution of the workflow graph for a single user request.
// Its state is mutated only by the goroutine driving it; the registry and
// HTTP handlers only observe status.
type Run struct {
	ID string

	mu            sync.Mutex
	status        Status
	suspendedNode string
	state         graph.State
	cancel        context.CancelFunc
	createdAt     time.Time
	updatedAt     time.Time
}

func newRun(id string, cancel context.CancelFunc) *Run {
	now := time.Now()
	return &Run{
		ID:        id,
		status:    StatusRunning,
		cancel:    cancel,
		createdAt: now,
		updatedAt: now,
	}
}

// Status returns the current lifecycle state.
func (r *Run) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// finish moves the run to a final status. It returns false when the run
// already reached a final status, so terminal transitions happen once.
func (r *Run) finish(status Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() {
		return false
	}
	r.status = status
	r.updatedAt = time.Now()
	return true
}

// suspend parks the run at the given node awaiting feedback, keeping the
// state established so far.
func (r *Run) suspend(node string, state graph.State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != StatusRunning {
		return false
	}
	r.status = StatusAwaitingFeedback
	r.suspendedNode = node
	r.state = state
	r.updatedAt = time.Now()
	return true
}

// beginResume flips an awaiting run back to running and hands out the
// suspended node and state. It returns false unless the run is awaiting
// feedback, which makes a concurrent double-resume lose cleanly.
func (r *Run) beginResume() (node string, state graph.State, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != StatusAwaitingFeedback {
		return "", nil, false
	}
	r.status = StatusRunning
	r.updatedAt = time.Now()
	return r.suspendedNode, r.state, true
}

func (r *Run) idleSince() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updatedAt
}
