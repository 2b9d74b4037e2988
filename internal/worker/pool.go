// Package worker provides the cooperative scheduler that runs one
// goroutine per flow instance, adapted from the teacher's queue-backed
// Pool/Worker: here each Runnable IS the unit of work (a flow's own
// blocking Run loop) rather than a job pulled from a shared named queue,
// since flow instances don't share a queue the way the teacher's workers
// share queueName.
package worker

import (
	"context"
	"sync"

	"github.com/thin-edge/tedge-mapper-core/internal/logging"
)

// Runnable is anything the Pool can run to completion: a flow instance, a
// connector's receive loop, a stats publisher. Run must return promptly
// once ctx is cancelled.
type Runnable interface {
	Name() string
	Run(ctx context.Context) error
}

// Pool supervises a set of Runnables, starting each on its own goroutine
// and restarting it is intentionally NOT done here — a Runnable's own Run
// loop is responsible for retrying internally; the Pool only owns
// lifecycle (start/stop), not restart policy.
type Pool struct {
	log *logging.Scoped

	mu        sync.Mutex
	runnables []Runnable
	runCtx    context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	started   bool
}

// NewPool creates an empty Pool.
func NewPool(log *logging.Scoped) *Pool {
	if log == nil {
		log = logging.NewScoped(nil, nil)
	}
	return &Pool{log: log.With("component", "worker-pool")}
}

// Register adds r to the pool. If the pool is already started, r is
// started at once. The pool has no way to remove a single Runnable.
func (p *Pool) Register(r Runnable) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runnables = append(p.runnables, r)
	if p.started {
		p.startOneLocked(p.runCtx, r)
	}
}

// Start launches one goroutine per registered Runnable.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ctx, cancel := context.WithCancel(ctx)
	p.runCtx = ctx
	p.cancel = cancel
	p.started = true
	for _, r := range p.runnables {
		p.startOneLocked(ctx, r)
	}
}

func (p *Pool) startOneLocked(ctx context.Context, r Runnable) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		log := p.log.With("runnable", r.Name())
		defer logging.RecoverPanic(log)
		if err := r.Run(ctx); err != nil {
			log.WithError(err).Error("runnable exited with error")
		} else {
			log.Debug("runnable exited")
		}
	}()
}

// Stop cancels every Runnable's context and waits for all goroutines to
// return.
func (p *Pool) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}
