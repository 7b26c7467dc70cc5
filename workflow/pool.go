package workflow

import (
	"context"
	"runtime"

	"github.com/panjf2000/ants/v2"
)

// IOPool bounds the total concurrency of external calls (model, SQL,
// script execution) across all runs. The backlog is bounded too; once both
// are full, overflow work runs on the caller instead of queueing without
// limit.
type IOPool struct {
	pool *ants.Pool
}

// NewIOPool creates a pool of the given size. A non-positive size defaults
// to a multiple of the available parallelism.
func NewIOPool(size int) (*IOPool, error) {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0) * 4
	}
	p, err := ants.NewPool(size, ants.WithMaxBlockingTasks(size))
	if err != nil {
		return nil, err
	}
	return &IOPool{pool: p}, nil
}

// Do runs task on the pool and waits for it. When the pool and its backlog
// are saturated the task runs on the calling goroutine. A cancelled ctx
// abandons the wait; the task's eventual result is discarded, not
// interrupted.
func (p *IOPool) Do(ctx context.Context, task func()) error {
	done := make(chan struct{})
	if err := p.pool.Submit(func() {
		defer close(done)
		task()
	}); err != nil {
		task()
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release tears the pool down.
func (p *IOPool) Release() {
	p.pool.Release()
}
