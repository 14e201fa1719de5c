package delivery

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/vinayprograms/taskbot/logging"
)

// Dispatcher runs sends as independent goroutines so a slow or
// rate-limited recipient never blocks a scheduler sweep. Every job shares
// the dispatcher's context; cancel it and call Wait on shutdown.
type Dispatcher struct {
	ctx     context.Context
	logger  *logging.Logger
	wg      sync.WaitGroup
	pending atomic.Int64
}

// NewDispatcher creates a dispatcher bound to ctx.
func NewDispatcher(ctx context.Context, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.New()
	}
	return &Dispatcher{ctx: ctx, logger: logger.WithComponent("dispatcher")}
}

// Go starts job unless the dispatcher's context is already done.
func (d *Dispatcher) Go(job func(ctx context.Context)) bool {
	if d.ctx.Err() != nil {
		d.logger.Warn("dispatcher stopped, send dropped")
		return false
	}
	d.wg.Add(1)
	d.pending.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.pending.Add(-1)
		job(d.ctx)
	}()
	return true
}

// Pending returns the number of running jobs.
func (d *Dispatcher) Pending() int {
	return int(d.pending.Load())
}

// Wait blocks until every started job has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Drain waits for running jobs or until ctx ends, whichever is first.
func (d *Dispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
