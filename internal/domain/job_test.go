package domain

import (
	"testing"
)

func TestJobLifecycle(t *testing.T) {
	job := NewJob("j1", "tenant-a", JobTypeEngagement, "", map[string]any{"k": "v"}, 0)
	if job.State != StateWaiting {
		t.Fatalf("expected waiting state, got %s", job.State)
	}
	if job.MaxAttempts != 5 {
		t.Fatalf("expected default max attempts 5, got %d", job.MaxAttempts)
	}

	if err := job.Activate(); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if job.State != StateActive || job.Attempts != 1 {
		t.Fatalf("expected active state with 1 attempt, got state=%s attempts=%d", job.State, job.Attempts)
	}
	if job.ProcessedAt.IsZero() {
		t.Fatalf("expected ProcessedAt to be stamped")
	}

	if err := job.AdvanceProgress(50); err != nil {
		t.Fatalf("advance progress: %v", err)
	}
	if err := job.AdvanceProgress(10); err == nil {
		t.Fatalf("expected progress regression to be rejected")
	}

	if err := job.Complete(map[string]any{"ok": true}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if job.Progress != 100 || job.FinishedAt.IsZero() {
		t.Fatalf("expected progress=100 and FinishedAt set after completion")
	}

	job.AppendLog(LogEntry{Message: "should be dropped"})
	if job.Logs.All() != nil && len(job.Logs.All()) != 0 {
		t.Fatalf("expected logs frozen after terminal state, got %d entries", len(job.Logs.All()))
	}
}

func TestJobFailTransition(t *testing.T) {
	job := NewJob("j2", "tenant-a", JobTypeChat, "", nil, 3)
	if err := job.Fail(nil); err == nil {
		t.Fatalf("expected fail to reject a waiting (non-active) job")
	}
	_ = job.Activate()
	if err := job.Fail(errFail{}); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if job.State != StateFailed || job.Error == "" {
		t.Fatalf("expected failed state with error message, got state=%s error=%q", job.State, job.Error)
	}
}

func TestJobStallAndReactivate(t *testing.T) {
	job := NewJob("j3", "tenant-a", JobTypeMassPost, "", nil, 0)
	_ = job.Activate()
	if err := job.Stall(); err != nil {
		t.Fatalf("stall: %v", err)
	}
	if job.State != StateStalled {
		t.Fatalf("expected stalled state, got %s", job.State)
	}
	if err := job.Activate(); err != nil {
		t.Fatalf("reactivate after stall: %v", err)
	}
	if job.Attempts != 2 {
		t.Fatalf("expected attempts bumped on reactivation, got %d", job.Attempts)
	}
}

type errFail struct{}

func (errFail) Error() string { return "boom" }
