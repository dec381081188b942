package workerpool

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"social-job-orchestrator/internal/domain"
	"social-job-orchestrator/internal/eventbus"
	"social-job-orchestrator/internal/queue"
)

// ManagerOptions configures concurrency defaults for pools the Manager
// creates.
type ManagerOptions struct {
	DefaultConcurrency int // per-queue worker count, default 3
	TenantConcurrency  int64 // per-tenant active-job cap, default 5
	LockDuration        Options
}

type runningPool struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns one Pool per (tenant, jobType) queue and the per-tenant
// semaphore shared across a tenant's pools, matching spec.md §5's
// scheduling model: "the number of simultaneously active jobs for a
// tenant is Σ pool_concurrency across that tenant's queues" — bounded
// here by an explicit cap rather than left unbounded.
type Manager struct {
	registry *queue.Registry
	store    Store
	bus      *eventbus.Bus
	dispatch Dispatch
	logger   *slog.Logger
	opts     ManagerOptions

	mu      sync.Mutex
	tenants map[string]*semaphore.Weighted
	pools   map[string]*runningPool // queueName -> running pool
}

func NewManager(registry *queue.Registry, store Store, bus *eventbus.Bus, dispatch Dispatch, logger *slog.Logger, opts ManagerOptions) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DefaultConcurrency <= 0 {
		opts.DefaultConcurrency = 3
	}
	if opts.TenantConcurrency <= 0 {
		opts.TenantConcurrency = 5
	}
	return &Manager{
		registry: registry,
		store:    store,
		bus:      bus,
		dispatch: dispatch,
		logger:   logger,
		opts:     opts,
		tenants:  make(map[string]*semaphore.Weighted),
		pools:    make(map[string]*runningPool),
	}
}

func (m *Manager) tenantSemaphore(tenantID string) *semaphore.Weighted {
	m.mu.Lock()
	defer m.mu.Unlock()
	sem, ok := m.tenants[tenantID]
	if !ok {
		sem = semaphore.NewWeighted(m.opts.TenantConcurrency)
		m.tenants[tenantID] = sem
	}
	return sem
}

// EnsurePool starts a pool for (tenantID, jobType) if one isn't already
// running; an already-running pool is left in place. ReplacePool is the
// call that swaps an existing pool after a graceful close of in-flight work.
func (m *Manager) EnsurePool(ctx context.Context, tenantID string, jobType domain.JobType, concurrency int) {
	queueName := m.registry.GetOrCreate(ctx, tenantID, jobType)

	m.mu.Lock()
	if _, running := m.pools[queueName]; running {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.startPool(ctx, queueName, tenantID, jobType, concurrency)
}

// ReplacePool gracefully stops any pool on queueName and starts a fresh
// one, per spec.md §4.3's "creating a pool replaces any existing pool".
func (m *Manager) ReplacePool(ctx context.Context, tenantID string, jobType domain.JobType, concurrency int) {
	queueName := queue.QueueName(tenantID, jobType)
	m.stopPool(queueName)
	m.registry.GetOrCreate(ctx, tenantID, jobType)
	m.startPool(ctx, queueName, tenantID, jobType, concurrency)
}

func (m *Manager) startPool(ctx context.Context, queueName, tenantID string, jobType domain.JobType, concurrency int) {
	if concurrency <= 0 {
		concurrency = m.opts.DefaultConcurrency
	}
	poolCtx, cancel := context.WithCancel(ctx)
	pool := New(queueName, tenantID, jobType, m.registry.Backend(), m.store, m.bus, m.dispatch, m.tenantSemaphore(tenantID), m.logger, Options{Concurrency: concurrency, LockDuration: m.opts.LockDuration.LockDuration})

	rp := &runningPool{cancel: cancel, done: make(chan struct{})}
	m.mu.Lock()
	m.pools[queueName] = rp
	m.mu.Unlock()

	go func() {
		defer close(rp.done)
		if err := pool.Run(poolCtx); err != nil && poolCtx.Err() == nil {
			m.logger.Error("workerpool: pool exited", "queue", queueName, "error", err)
		}
	}()
}

// stopPool cancels queueName's running pool and waits for its in-flight
// workers to drain before returning (graceful close).
func (m *Manager) stopPool(queueName string) {
	m.mu.Lock()
	rp, ok := m.pools[queueName]
	if ok {
		delete(m.pools, queueName)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	rp.cancel()
	<-rp.done
}

// Shutdown stops every running pool, waiting for in-flight workers up to
// the caller's ctx deadline.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	running := make([]*runningPool, 0, len(m.pools))
	for name, rp := range m.pools {
		running = append(running, rp)
		delete(m.pools, name)
	}
	m.mu.Unlock()

	for _, rp := range running {
		rp.cancel()
	}
wait:
	for _, rp := range running {
		select {
		case <-rp.done:
		case <-ctx.Done():
			break wait
		}
	}
	m.registry.Close()
}
