package flow

import (
	"context"
	"sync"

	"github.com/thin-edge/tedge-mapper-core/internal/logging"
	"github.com/thin-edge/tedge-mapper-core/internal/worker"
)

// managedRunnable lets Manager stop one flow instance without tearing
// down the whole worker.Pool, by deriving a child context the instance
// actually runs under and cancelling it independently of the pool's
// shared context.
type managedRunnable struct {
	inst *Instance
	stop chan struct{}
}

func (m *managedRunnable) Name() string { return m.inst.Name() }

func (m *managedRunnable) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-m.stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	return m.inst.Run(ctx)
}

// Manager owns the live set of flow instances, adding and removing them
// from a shared worker.Pool as the Loader reports directory changes —
// the "add/remove bookkeeping" the Pool's own docs defer to the flow
// engine rather than supporting itself.
type Manager struct {
	pool    *worker.Pool
	builder *Builder
	log     *logging.Scoped

	mu      sync.Mutex
	running map[string]*managedRunnable
}

// NewManager returns a Manager that registers/removes instances on pool,
// building each from def via builder.
func NewManager(pool *worker.Pool, builder *Builder, log *logging.Scoped) *Manager {
	if log == nil {
		log = logging.NewScoped(nil, nil)
	}
	return &Manager{pool: pool, builder: builder, log: log, running: make(map[string]*managedRunnable)}
}

// Add builds def and registers it on the pool, keyed by its file path.
func (m *Manager) Add(def *Definition) error {
	inst, err := m.builder.Build(def)
	if err != nil {
		return err
	}
	r := &managedRunnable{inst: inst, stop: make(chan struct{})}

	m.mu.Lock()
	m.running[def.Path] = r
	m.mu.Unlock()

	m.pool.Register(r)
	return nil
}

// Remove stops and forgets the flow instance registered under path, if
// any, and discards its flow context scope. The underlying goroutine exits on its own once the instance's Run
// observes the derived context cancellation.
func (m *Manager) Remove(path string) {
	m.mu.Lock()
	r, ok := m.running[path]
	delete(m.running, path)
	m.mu.Unlock()
	if ok {
		close(r.stop)
		m.builder.Store.DestroyFlow(path)
	}
}

// Reconcile applies a loader ChangeSet: removed flows are stopped,
// changed flows are stopped then rebuilt, added flows are started. A
// flow that fails to build is logged and left un-started; others are
// unaffected.
func (m *Manager) Reconcile(cs ChangeSet) {
	for _, path := range cs.Removed {
		m.Remove(path)
	}
	for path, def := range cs.Changed {
		m.Remove(path)
		if err := m.Add(def); err != nil {
			m.log.With("path", path).WithError(err).Error("failed to restart changed flow")
		}
	}
	for path, def := range cs.Added {
		if err := m.Add(def); err != nil {
			m.log.With("path", path).WithError(err).Error("failed to start added flow")
		}
	}
}
