package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"social-job-orchestrator/internal/domain"
	"social-job-orchestrator/internal/eventbus"
	"social-job-orchestrator/internal/telemetry"
)

const maintenanceInterval = 2 * time.Second

// Registry implements QueueRegistry (spec.md §4.2): a lazy map from
// (tenant, jobType) to a deterministically named queue, each wired once
// to the EventBus and to periodic scheduled-promotion/stalled-reclaim
// maintenance.
type Registry struct {
	backend Backend
	bus     *eventbus.Bus
	logger  *slog.Logger

	mu      sync.Mutex
	known   map[string]struct{} // queue names already wired
	cancels map[string]context.CancelFunc
}

func New(backend Backend, bus *eventbus.Bus, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		backend: backend,
		bus:     bus,
		logger:  logger,
		known:   make(map[string]struct{}),
		cancels: make(map[string]context.CancelFunc),
	}
}

// QueueName derives the deterministic queue name spec.md §4.2 calls for.
func QueueName(tenantID string, jobType domain.JobType) string {
	return fmt.Sprintf("bsky-%s-%s", jobType, tenantID)
}

// GetOrCreate returns the queue name for (tenantID, jobType), wiring its
// observation stream into the EventBus and starting its maintenance
// loop the first time it's seen.
func (r *Registry) GetOrCreate(ctx context.Context, tenantID string, jobType domain.JobType) string {
	name := QueueName(tenantID, jobType)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.known[name]; ok {
		return name
	}
	r.known[name] = struct{}{}

	wireCtx, cancel := context.WithCancel(ctx)
	r.cancels[name] = cancel
	go r.projectObservations(wireCtx, name, tenantID, jobType)
	go r.runMaintenance(wireCtx, name, tenantID, jobType)
	return name
}

// Backend exposes the underlying Backend for enqueue/claim/etc; the
// registry itself only owns naming and wiring.
func (r *Registry) Backend() Backend { return r.backend }

// DefaultOptions returns spec.md §4.2's default job options.
func (r *Registry) DefaultOptions() JobOptions {
	return DefaultJobOptions()
}

func (r *Registry) projectObservations(ctx context.Context, queueName, tenantID string, jobType domain.JobType) {
	ch := r.backend.Observe(queueName)
	for {
		select {
		case <-ctx.Done():
			return
		case o, ok := <-ch:
			if !ok {
				return
			}
			r.bus.Publish(eventbus.Event{
				Name:     observationToEventName(o.Name),
				TenantID: tenantID,
				JobID:    o.JobID,
				ParentID: o.ParentID,
				JobType:  string(jobType),
				Payload:  o.Payload,
			})
			switch o.Name {
			case ObsCompleted:
				telemetry.JobsCompleted.WithLabelValues(tenantID, string(jobType)).Inc()
			case ObsFailed:
				telemetry.JobsFailed.WithLabelValues(tenantID, string(jobType)).Inc()
			case ObsStalled:
				telemetry.JobsStalled.WithLabelValues(tenantID, string(jobType)).Inc()
			}
		}
	}
}

func observationToEventName(n ObservationName) eventbus.Name {
	switch n {
	case ObsCompleted:
		return eventbus.JobCompleted
	case ObsFailed:
		return eventbus.JobFailed
	case ObsProgress:
		return eventbus.JobProgress
	case ObsStalled:
		return eventbus.JobStalled
	default:
		return eventbus.WorkerError
	}
}

func (r *Registry) runMaintenance(ctx context.Context, queueName, tenantID string, jobType domain.JobType) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.backend.PromoteScheduled(ctx, queueName, time.Now(), 100); err != nil {
				r.logger.Warn("queue: promote scheduled failed", "queue", queueName, "error", err)
			}
			if _, err := r.backend.ReclaimStalled(ctx, queueName, time.Now(), 100); err != nil {
				r.logger.Warn("queue: reclaim stalled failed", "queue", queueName, "error", err)
			}
			if depth, err := r.backend.ReadyDepth(ctx, queueName); err == nil {
				telemetry.QueueDepth.WithLabelValues(tenantID, string(jobType)).Set(float64(depth))
			}
		}
	}
}

// Close stops every queue's maintenance and observation projection.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cancel := range r.cancels {
		cancel()
	}
}
