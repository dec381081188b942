// Package queue implements the QueueBackend contract (spec.md §4.1) and
// the QueueRegistry (§4.2) on top of Redis, adapted from the teacher's
// internal/queue/redis_queue.go: a ready list, scheduled/in-flight sorted
// sets, plus a Lua-scripted atomic claim. Extended here with per-queue
// parent-id indexing (for listByParent), stalled-count tracking (so a
// lease that lapses too many times fails permanently instead of
// retrying forever), and an observation channel the QueueRegistry
// drains to project job:completed|failed|progress|stalled into the
// EventBus.
package queue

import (
	"context"
	"time"
)

// JobOptions mirrors spec.md §4.1's enqueue opts.
type JobOptions struct {
	Priority               string
	DelayUntil             time.Time
	Attempts               int
	RemoveOnCompleteAge    time.Duration
	RemoveOnCompleteCount  int
	RemoveOnFailAge        time.Duration
	RemoveOnFailCount      int
}

// DefaultJobOptions matches spec.md §4.2's defaults: attempts=5,
// exponential backoff base 5s (applied by the backend on retry, not
// stored here), retain completed 1 day/1000 most recent, retain failed
// 7 days/3000 most recent.
func DefaultJobOptions() JobOptions {
	return JobOptions{
		Priority:              "default",
		Attempts:              5,
		RemoveOnCompleteAge:   24 * time.Hour,
		RemoveOnCompleteCount: 1000,
		RemoveOnFailAge:       7 * 24 * time.Hour,
		RemoveOnFailCount:     3000,
	}
}

// EnqueueItem is one member of an EnqueueBatch call.
type EnqueueItem struct {
	JobID    string
	ParentID string
	Opts     JobOptions
}

// ObservationName is one of the four terminal/progress signals a
// QueueBackend reports per spec.md §4.1; distinct from eventbus.Name so
// this package has no dependency on eventbus (the registry does the
// translation).
type ObservationName string

const (
	ObsCompleted ObservationName = "completed"
	ObsFailed    ObservationName = "failed"
	ObsProgress  ObservationName = "progress"
	ObsStalled   ObservationName = "stalled"
)

// Observation is one event off a queue's observation stream.
type Observation struct {
	Queue    string
	JobID    string
	ParentID string
	Name     ObservationName
	Payload  any
}

// Backend is the abstract QueueBackend spec.md §4.1 describes. A queue
// name is an opaque string the caller derives (QueueRegistry derives
// deterministic names from tenant+jobType).
type Backend interface {
	Enqueue(ctx context.Context, queueName, jobID, parentID string, opts JobOptions) error
	EnqueueBatch(ctx context.Context, queueName string, items []EnqueueItem) error

	// Claim blocks (subject to ctx) until a job is ready or ctx is done,
	// returning its id; workerToken is supplied by the caller to identify
	// the claiming worker.
	Claim(ctx context.Context, queueName, workerToken string) (jobID string, ok bool, err error)
	RenewLease(ctx context.Context, queueName, jobID, workerToken string, lockDuration time.Duration) error

	// Complete acknowledges success and drops the job's queue-side
	// bookkeeping (the Job record itself lives in the store).
	Complete(ctx context.Context, queueName, jobID string) error

	// Fail reports a terminal attempt failure. The backend decides,
	// based on attempts vs max and stalled-count, whether to requeue
	// with backoff or move to the dead-letter queue; it returns whether
	// the failure was permanent.
	Fail(ctx context.Context, queueName, jobID string, err error) (permanent bool, retErr error)

	// ReportProgress pushes a progress observation without altering
	// queue-side state (used by the WorkerPool after AdvanceProgress).
	ReportProgress(ctx context.Context, queueName, jobID, parentID string, pct int) error

	ListByParent(ctx context.Context, queueName, parentID string) ([]string, error)

	// PromoteScheduled and ReclaimStalled are periodic maintenance
	// operations; the QueueRegistry runs them on a ticker per queue.
	PromoteScheduled(ctx context.Context, queueName string, now time.Time, limit int64) (int, error)
	ReclaimStalled(ctx context.Context, queueName string, now time.Time, limit int64) ([]string, error)

	ReadyDepth(ctx context.Context, queueName string) (int64, error)
	DLQPeek(ctx context.Context, queueName string, count int64) ([]string, error)

	// Observe returns the queue's observation channel; QueueRegistry
	// subscribes once per queue at creation time.
	Observe(queueName string) <-chan Observation

	Close() error
}
