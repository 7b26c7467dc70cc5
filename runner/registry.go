package runner

import (
	"sync"
	"time"
)

// Registry is the owned collection of live runs, keyed by run id. Runs are
// inserted on creation and removed on terminal status or idle timeout. The
// registry lock only guards insert/remove/lookup; per-run state has its
// own lock.
type Registry struct {
	mu   sync.Mutex
	runs map[string]*Run
}

// NewRegistry creates an empty run registry.
func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*Run)}
}

// Put inserts a run.
func (r *Registry) Put(run *Run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = run
}

// Get looks up a live run.
func (r *Registry) Get(id string) (*Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	return run, ok
}

// Remove deletes a run.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, id)
}

// Len returns the number of live runs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

// expired returns runs whose last transition is older than ttl.
func (r *Registry) expired(ttl time.Duration) []*Run {
	cutoff := time.Now().Add(-ttl)
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Run
	for _, run := range r.runs {
		if run.idleSince().Before(cutoff) {
			out = append(out, run)
		}
	}
	return out
}
