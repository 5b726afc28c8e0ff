package flow

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Executor runs blocking work with bounded parallelism. It is passed
// explicitly to the components that need it; there is no shared instance.
type Executor struct {
	sem      *semaphore.Weighted
	width    int
	inflight atomic.Int64
	wg       sync.WaitGroup
}

// NewExecutor creates an executor running at most width tasks at once.
// width <= 0 means runtime.NumCPU().
func NewExecutor(width int) *Executor {
	if width <= 0 {
		width = runtime.NumCPU()
	}
	return &Executor{sem: semaphore.NewWeighted(int64(width)), width: width}
}

// Width returns the parallelism bound.
func (e *Executor) Width() int { return e.width }

// InFlight returns the number of tasks currently running.
func (e *Executor) InFlight() int { return int(e.inflight.Load()) }

// Run waits for a free slot and then runs fn to completion on the calling
// goroutine. Waiting for a slot honours ctx; once fn has started it is not
// interrupted by Run.
func (e *Executor) Run(ctx context.Context, fn func()) error {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	e.wg.Add(1)
	e.inflight.Add(1)
	defer func() {
		e.inflight.Add(-1)
		e.wg.Done()
		e.sem.Release(1)
	}()
	fn()
	return nil
}

// Wait blocks until no task is running.
func (e *Executor) Wait() {
	e.wg.Wait()
}
