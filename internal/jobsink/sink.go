// Package jobsink implements JobLogSink (spec.md §4 row "JobLogSink"): a
// per-job slog.Handler that appends every record into the job's
// domain.LogRing and publishes it on the EventBus as job:log, so the
// FanoutHub can replay it to subscribers without re-reading from
// storage. One Sink is installed per active job by the WorkerPool
// (spec.md §4.3 step 2) and discarded once the job reaches a terminal
// state.
package jobsink

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"social-job-orchestrator/internal/domain"
	"social-job-orchestrator/internal/eventbus"
)

// Sink is a slog.Handler bound to one job. It is safe for concurrent use
// by multiple goroutines working the same job (a pacing loop and a
// progress callback, say), matching spec.md §5's shared-resource policy
// for a job's LogRing.
type Sink struct {
	job      *domain.Job
	bus      *eventbus.Bus
	tenantID string
	jobType  string
	parentID string

	mu     sync.Mutex
	attrs  []slog.Attr
	groups []string
}

// New builds a Sink writing into job's log ring and publishing job:log
// events tagged with job/tenant identity for the FanoutHub's delivery
// rule.
func New(job *domain.Job, bus *eventbus.Bus) *Sink {
	return &Sink{
		job:      job,
		bus:      bus,
		tenantID: job.TenantID,
		jobType:  string(job.JobType),
		parentID: job.ParentID,
	}
}

// Logger returns a *slog.Logger backed by this Sink.
func (s *Sink) Logger() *slog.Logger {
	return slog.New(s)
}

func (s *Sink) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

func (s *Sink) Handle(_ context.Context, r slog.Record) error {
	level := fromSlogLevel(r.Level)

	s.mu.Lock()
	msg := r.Message
	if len(s.groups) > 0 || len(s.attrs) > 0 {
		msg = appendAttrs(msg, s.attrs)
	}
	r.Attrs(func(a slog.Attr) bool {
		msg = appendAttr(msg, a)
		return true
	})
	s.mu.Unlock()

	entry := domain.LogEntry{
		Timestamp: r.Time,
		Level:     level,
		Message:   msg,
		Source:    domain.SourceStructured,
	}
	s.job.AppendLog(entry)

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Name:     eventbus.JobLog,
			TenantID: s.tenantID,
			JobID:    s.job.ID,
			ParentID: s.parentID,
			JobType:  s.jobType,
			Payload:  entry,
		})
	}
	return nil
}

func (s *Sink) WithAttrs(attrs []slog.Attr) slog.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := &Sink{
		job: s.job, bus: s.bus,
		tenantID: s.tenantID, jobType: s.jobType, parentID: s.parentID,
		attrs:  append(append([]slog.Attr(nil), s.attrs...), attrs...),
		groups: append([]string(nil), s.groups...),
	}
	return clone
}

func (s *Sink) WithGroup(name string) slog.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := &Sink{
		job: s.job, bus: s.bus,
		tenantID: s.tenantID, jobType: s.jobType, parentID: s.parentID,
		attrs:  append([]slog.Attr(nil), s.attrs...),
		groups: append(append([]string(nil), s.groups...), name),
	}
	return clone
}

func fromSlogLevel(l slog.Level) domain.LogLevel {
	switch {
	case l >= slog.LevelError:
		return domain.LogError
	case l >= slog.LevelWarn:
		return domain.LogWarn
	case l >= slog.LevelInfo:
		return domain.LogInfo
	default:
		return domain.LogDebug
	}
}

func appendAttrs(msg string, attrs []slog.Attr) string {
	for _, a := range attrs {
		msg = appendAttr(msg, a)
	}
	return msg
}

func appendAttr(msg string, a slog.Attr) string {
	return msg + " " + a.Key + "=" + a.Value.String()
}

// CapturedLine appends a pre-formatted line from captured ambient output
// (as opposed to a structured slog record) — e.g. a line relayed from a
// social.Client's own diagnostic logging.
func (s *Sink) CapturedLine(message string) {
	entry := domain.LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     domain.LogInfo,
		Message:   message,
		Source:    domain.SourceCaptured,
	}
	s.job.AppendLog(entry)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Name:     eventbus.JobLog,
			TenantID: s.tenantID,
			JobID:    s.job.ID,
			ParentID: s.parentID,
			JobType:  s.jobType,
			Payload:  entry,
		})
	}
}
