// Package workerpool implements the WorkerPool (spec.md §4.3): one pool
// per queue running C worker goroutines in a claim -> run -> report ->
// repeat loop, bounded both per-pool (concurrency C) and per-tenant (a
// shared semaphore across every queue belonging to that tenant, so a
// tenant with several job types still can't flood the process). The
// claim loop and graceful-shutdown shape are grounded on the teacher's
// worker/processor.go Run loop; the semaphore-bounded goroutine launch
// is grounded on manthysbr-auleOS's JobScheduler (golang.org/x/sync's
// semaphore.Weighted and errgroup, generalized from one global
// semaphore to one per tenant).
package workerpool

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"social-job-orchestrator/internal/domain"
	"social-job-orchestrator/internal/eventbus"
	"social-job-orchestrator/internal/jobsink"
	"social-job-orchestrator/internal/queue"
	"social-job-orchestrator/internal/telemetry"
)

// Store is the slice of job persistence the pool needs: load a claimed
// job's full record and persist state transitions.
type Store interface {
	Get(ctx context.Context, jobID string) (*domain.Job, error)
	Save(ctx context.Context, job *domain.Job) error
}

// Dispatch runs one job to completion (or to a propagated error) and
// returns its result. The WorkerPool injects a per-job logger and a
// progress callback; Dispatch itself is the Dispatcher's
// JobType -> executor lookup (kept out of this package per spec.md
// §9's cyclic-reference note: the registry and pool stay unaware of
// executor identities).
type Dispatch func(ctx context.Context, job *domain.Job, logger *slog.Logger, progress func(pct int)) (result any, err error)

// Options configures one Pool.
type Options struct {
	Concurrency  int
	LockDuration time.Duration
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 3
	}
	if o.LockDuration <= 0 {
		o.LockDuration = 30 * time.Second
	}
	return o
}

// Pool drives C worker goroutines against one queue.
type Pool struct {
	queueName string
	tenantID  string
	jobType   domain.JobType

	backend   queue.Backend
	store     Store
	bus       *eventbus.Bus
	dispatch  Dispatch
	tenantSem *semaphore.Weighted
	logger    *slog.Logger
	opts      Options
}

// New builds a Pool for (tenantID, jobType) over queueName. tenantSem is
// shared by every pool belonging to the same tenant.
func New(queueName, tenantID string, jobType domain.JobType, backend queue.Backend, store Store, bus *eventbus.Bus, dispatch Dispatch, tenantSem *semaphore.Weighted, logger *slog.Logger, opts Options) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		queueName: queueName,
		tenantID:  tenantID,
		jobType:   jobType,
		backend:   backend,
		store:     store,
		bus:       bus,
		dispatch:  dispatch,
		tenantSem: tenantSem,
		logger:    logger,
		opts:      opts.withDefaults(),
	}
}

// Run starts opts.Concurrency worker goroutines and blocks until ctx is
// cancelled or a worker returns a non-context error.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.opts.Concurrency; i++ {
		g.Go(func() error { return p.workerLoop(gctx) })
	}
	return g.Wait()
}

func (p *Pool) workerLoop(ctx context.Context) error {
	workerToken := uuid.NewString()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := p.tenantSem.Acquire(ctx, 1); err != nil {
			return ctx.Err()
		}

		jobID, ok, err := p.backend.Claim(ctx, p.queueName, workerToken)
		if err != nil {
			p.tenantSem.Release(1)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		if !ok {
			p.tenantSem.Release(1)
			continue
		}

		p.runJob(ctx, jobID, workerToken)
		p.tenantSem.Release(1)
	}
}

// runJob implements spec.md §4.3 steps 1-7 for a single claimed job.
func (p *Pool) runJob(ctx context.Context, jobID, workerToken string) {
	job, err := p.store.Get(ctx, jobID)
	if err != nil {
		p.logger.Error("workerpool: failed to load claimed job", "jobId", jobID, "error", err)
		_, _ = p.backend.Fail(ctx, p.queueName, jobID, err)
		return
	}

	if err := job.Activate(); err != nil {
		p.logger.Warn("workerpool: cannot activate claimed job", "jobId", jobID, "error", err)
		_, _ = p.backend.Fail(ctx, p.queueName, jobID, err)
		return
	}
	_ = p.store.Save(ctx, job)

	p.bus.Publish(eventbus.Event{Name: eventbus.JobStarted, TenantID: job.TenantID, JobID: job.ID, ParentID: job.ParentID, JobType: string(job.JobType)})
	telemetry.ActiveJobs.WithLabelValues(job.TenantID, string(job.JobType)).Inc()
	defer telemetry.ActiveJobs.WithLabelValues(job.TenantID, string(job.JobType)).Dec()

	sink := jobsink.New(job, p.bus)
	logger := sink.Logger()

	leaseCtx, cancelLease := context.WithCancel(ctx)
	defer cancelLease()
	go p.renewLeaseLoop(leaseCtx, jobID, workerToken)

	progress := func(pct int) {
		if err := job.AdvanceProgress(pct); err != nil {
			logger.Warn("progress update rejected", "error", err)
			return
		}
		_ = p.store.Save(ctx, job)
		_ = p.backend.ReportProgress(ctx, p.queueName, job.ID, job.ParentID, pct)
	}

	result, runErr := p.dispatch(leaseCtx, job, logger, progress)
	cancelLease()

	if runErr != nil {
		if leaseCtx.Err() != nil && ctx.Err() != nil {
			// Process shutdown cancelled the lease context; leave the job
			// for the queue to redeliver rather than recording a failure.
			return
		}
		logger.Error("job failed", "error", runErr)
		_ = job.Fail(runErr)
		_ = p.store.Save(ctx, job)
		permanent, ferr := p.backend.Fail(ctx, p.queueName, jobID, runErr)
		if ferr != nil {
			p.logger.Error("workerpool: backend.Fail error", "jobId", jobID, "error", ferr)
		}
		if permanent {
			p.bus.Publish(eventbus.Event{Name: eventbus.JobFailed, TenantID: job.TenantID, JobID: job.ID, ParentID: job.ParentID, JobType: string(job.JobType), Payload: runErr.Error()})
		}
		return
	}

	_ = job.Complete(result)
	_ = p.store.Save(ctx, job)
	if err := p.backend.Complete(ctx, p.queueName, jobID); err != nil {
		p.logger.Error("workerpool: backend.Complete error", "jobId", jobID, "error", err)
	}
	p.bus.Publish(eventbus.Event{Name: eventbus.JobCompleted, TenantID: job.TenantID, JobID: job.ID, ParentID: job.ParentID, JobType: string(job.JobType), Payload: result})
}

// renewLeaseLoop extends the job's lease at lockDuration/3 until ctx is
// cancelled (job finished or process shutdown), per spec.md §4.3 step 7.
func (p *Pool) renewLeaseLoop(ctx context.Context, jobID, workerToken string) {
	interval := p.opts.LockDuration / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.backend.RenewLease(ctx, p.queueName, jobID, workerToken, p.opts.LockDuration); err != nil {
				p.logger.Warn("workerpool: lease renewal failed", "jobId", jobID, "error", err)
			}
		}
	}
}
