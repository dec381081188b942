package jobsink

import (
	"testing"

	"social-job-orchestrator/internal/domain"
	"social-job-orchestrator/internal/eventbus"
)

func TestHandleAppendsLogAndPublishes(t *testing.T) {
	job := domain.NewJob("job-1", "tenant-a", domain.JobType("engage"), "", nil, 3)
	bus := eventbus.New(nil)
	ch, unsub := bus.Subscribe(eventbus.JobLog)
	defer unsub()

	sink := New(job, bus)
	sink.Logger().Info("hello world", "key", "value")

	logs := job.Logs.Recent(10)
	if len(logs) != 1 || logs[0].Message != "hello world key=value" {
		t.Fatalf("expected the log entry appended to the job's ring with inline attrs, got %+v", logs)
	}

	select {
	case e := <-ch:
		if e.Name != eventbus.JobLog || e.JobID != "job-1" {
			t.Fatalf("expected a job:log event for job-1, got %+v", e)
		}
	default:
		t.Fatalf("expected Handle to publish a job:log event on the bus")
	}
}

func TestWithAttrsClonesAndAppliesToSubsequentRecords(t *testing.T) {
	job := domain.NewJob("job-2", "tenant-a", domain.JobType("engage"), "", nil, 3)
	sink := New(job, nil)

	child := sink.Logger().With("component", "pacer")
	child.Info("tick")

	logs := job.Logs.Recent(10)
	if len(logs) != 1 || logs[0].Message != "tick component=pacer" {
		t.Fatalf("expected WithAttrs to append attrs to the logged message, got %+v", logs)
	}
}

func TestCapturedLineAppendsWithCapturedSource(t *testing.T) {
	job := domain.NewJob("job-3", "tenant-a", domain.JobType("engage"), "", nil, 3)
	sink := New(job, nil)

	sink.CapturedLine("raw output line")

	logs := job.Logs.Recent(10)
	if len(logs) != 1 || logs[0].Source != domain.SourceCaptured || logs[0].Message != "raw output line" {
		t.Fatalf("expected a captured log entry, got %+v", logs)
	}
}
