// Package poolutil provides the Engine's goroutine worker pool and a
// reusable scratch-buffer pool for mutation output: an ants.Pool
// wrapper with submitted/completed/error counters, generalized from
// "submit HTTP request tasks" to "submit fuzzing-iteration tasks",
// plus sync.Pool-backed buffer reuse.
package poolutil

import (
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"
)

// Pool manages a bounded pool of goroutines, one per fuzzing worker
// slot.
type Pool struct {
	pool       *ants.Pool
	wg         sync.WaitGroup
	isShutdown atomic.Bool

	submitted atomic.Int64
	completed atomic.Int64
	errors    atomic.Int64
}

// Options configures a Pool.
type Options struct {
	Size        int
	PreAlloc    bool
	MaxBlocking int
}

// DefaultOptions returns sensible defaults: one goroutine slot per
// logical worker is typical, so Size should normally be set to
// threadsMax by the caller.
func DefaultOptions() *Options {
	return &Options{Size: 100, PreAlloc: true, MaxBlocking: 1000}
}

// New creates a Pool.
func New(opts *Options) (*Pool, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	p, err := ants.NewPool(opts.Size,
		ants.WithPreAlloc(opts.PreAlloc),
		ants.WithMaxBlockingTasks(opts.MaxBlocking),
	)
	if err != nil {
		return nil, err
	}
	return &Pool{pool: p}, nil
}

// Submit runs task on a pooled goroutine.
func (p *Pool) Submit(task func()) error {
	if p.isShutdown.Load() {
		return ants.ErrPoolClosed
	}
	p.submitted.Add(1)
	p.wg.Add(1)
	return p.pool.Submit(func() {
		defer p.wg.Done()
		defer p.completed.Add(1)
		task()
	})
}

// SubmitWithError runs task, counting a non-nil return as an error.
func (p *Pool) SubmitWithError(task func() error) error {
	return p.Submit(func() {
		if err := task(); err != nil {
			p.errors.Add(1)
		}
	})
}

// Wait blocks until every submitted task has completed.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Shutdown stops accepting new tasks, waits for in-flight ones, and
// releases the underlying ants pool.
func (p *Pool) Shutdown() {
	p.isShutdown.Store(true)
	p.Wait()
	p.pool.Release()
}

// Stats is a point-in-time snapshot of pool activity.
type Stats struct {
	Running   int
	Capacity  int
	Submitted int64
	Completed int64
	Errors    int64
}

// Stats reports current pool activity.
func (p *Pool) Stats() Stats {
	return Stats{
		Running:   p.pool.Running(),
		Capacity:  p.pool.Cap(),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Errors:    p.errors.Load(),
	}
}

// Tune dynamically adjusts the pool's goroutine capacity.
func (p *Pool) Tune(size int) {
	p.pool.Tune(size)
}
