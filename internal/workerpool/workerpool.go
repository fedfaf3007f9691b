// Package workerpool provides the three bounded-concurrency pools the
// pipeline is built from: a process pool and thread pool for volume
// encode/decode, and a transfer pool for rsync invocations. All three share
// the same shape — submit a task, block if saturated, join to wait for every
// submitted task to finish — built on golang.org/x/sync/errgroup and
// golang.org/x/sync/semaphore in place of ad hoc sync.WaitGroup bookkeeping.
package workerpool

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Pool runs tasks with bounded concurrency. Submit blocks until a slot is
// free or the pool's context is cancelled. Join waits for all submitted
// tasks and returns the first error encountered, if any.
type Pool struct {
	ctx  context.Context
	sem  *semaphore.Weighted
	g    *errgroup.Group
	size int
}

// New creates a pool with the given size. size <= 0 is treated as 1.
func New(ctx context.Context, size int) *Pool {
	if size <= 0 {
		size = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	return &Pool{
		ctx:  gctx,
		sem:  semaphore.NewWeighted(int64(size)),
		g:    g,
		size: size,
	}
}

// Size returns the configured concurrency of the pool.
func (p *Pool) Size() int {
	return p.size
}

// Submit blocks until a worker slot is available, then runs fn on a new
// goroutine. A non-nil error from fn cancels the pool's context (further
// Submit calls still run but see Done() on ctx) and is returned by Join.
func (p *Pool) Submit(fn func(ctx context.Context) error) error {
	if err := p.sem.Acquire(p.ctx, 1); err != nil {
		return err
	}
	p.g.Go(func() error {
		defer p.sem.Release(1)
		return fn(p.ctx)
	})
	return nil
}

// Join waits for every submitted task to complete and returns the first
// error, if any.
func (p *Pool) Join() error {
	return p.g.Wait()
}

// ClampProcessCount clamps the process pool size: non-positive values
// fall back to the logical CPU count, and any value above the CPU count
// is clamped down to it.
func ClampProcessCount(requested int) int {
	cpus := runtime.NumCPU()
	if requested <= 0 {
		return cpus
	}
	if requested > cpus {
		return cpus
	}
	return requested
}
