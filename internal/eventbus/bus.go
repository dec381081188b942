// Package eventbus is the process-local publish/subscribe layer for job
// lifecycle events (spec.md §4.9). It generalizes the channel-per-key,
// buffered-send, drop-on-full policy from
// manthysbr-auleOS/internal/core/services/eventbus.go — there keyed by
// job ID alone, here keyed by event name so a single subscriber (the
// FanoutHub) can listen to the whole
// job:added|started|progress|completed|failed|stalled|log|worker:error
// vocabulary from spec.md §4.9.
package eventbus

import (
	"log/slog"
	"sync"

	"social-job-orchestrator/internal/telemetry"
)

// Name is one of the fixed event names spec.md §4.9 defines.
type Name string

const (
	JobAdded     Name = "job:added"
	JobStarted   Name = "job:started"
	JobProgress  Name = "job:progress"
	JobCompleted Name = "job:completed"
	JobFailed    Name = "job:failed"
	JobStalled   Name = "job:stalled"
	JobLog       Name = "job:log"
	WorkerError  Name = "worker:error"
)

// Event is the envelope every subscriber receives; type-specific detail
// lives in Payload.
type Event struct {
	Name     Name
	TenantID string
	JobID    string
	ParentID string
	JobType  string
	Payload  any
}

const subscriberBuffer = 100

// Bus is a fan-out publisher keyed by event Name. Every subscriber gets
// its own buffered channel so a slow reader cannot block publication;
// per auleOS's policy, a full channel drops the event rather than
// blocking the publisher.
type Bus struct {
	logger *slog.Logger
	mu     sync.RWMutex
	subs   map[Name][]chan Event
	all    []chan Event
}

// New builds an empty Bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger, subs: make(map[Name][]chan Event)}
}

// Subscribe returns a channel that receives every event of the given
// name (or, if names is empty, every event published to the bus), plus
// an unsubscribe function.
func (b *Bus) Subscribe(names ...Name) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if len(names) == 0 {
		b.all = append(b.all, ch)
		return ch, func() { b.unsubscribeAll(ch) }
	}
	for _, n := range names {
		b.subs[n] = append(b.subs[n], ch)
	}
	return ch, func() { b.unsubscribeNamed(ch, names) }
}

func (b *Bus) unsubscribeAll(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, c := range b.all {
		if c == ch {
			b.all = append(b.all[:i], b.all[i+1:]...)
			close(ch)
			return
		}
	}
}

func (b *Bus) unsubscribeNamed(ch chan Event, names []Name) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, n := range names {
		subs := b.subs[n]
		for i, c := range subs {
			if c == ch {
				b.subs[n] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
	close(ch)
}

// Publish delivers e to every subscriber of e.Name plus every
// subscribe-all listener.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	deliver := func(ch chan Event) {
		select {
		case ch <- e:
		default:
			telemetry.EventBusDrops.WithLabelValues(string(e.Name)).Inc()
			b.logger.Warn("eventbus: channel full, dropping event", "name", e.Name, "jobId", e.JobID)
		}
	}
	for _, ch := range b.subs[e.Name] {
		deliver(ch)
	}
	for _, ch := range b.all {
		deliver(ch)
	}
}
