package eventbus

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"social-job-orchestrator/internal/telemetry"
)

func TestSubscribeNamedReceivesOnlyMatchingEvents(t *testing.T) {
	bus := New(nil)
	ch, unsub := bus.Subscribe(JobCompleted)
	defer unsub()

	bus.Publish(Event{Name: JobStarted, JobID: "a"})
	bus.Publish(Event{Name: JobCompleted, JobID: "b"})

	select {
	case e := <-ch:
		if e.JobID != "b" {
			t.Fatalf("expected only the JobCompleted event (JobID=b), got %+v", e)
		}
	default:
		t.Fatalf("expected a buffered event on the named subscription")
	}

	select {
	case e := <-ch:
		t.Fatalf("expected no second event (JobStarted should not reach a JobCompleted subscriber), got %+v", e)
	default:
	}
}

func TestSubscribeAllReceivesEveryEvent(t *testing.T) {
	bus := New(nil)
	ch, unsub := bus.Subscribe()
	defer unsub()

	bus.Publish(Event{Name: JobStarted, JobID: "a"})
	bus.Publish(Event{Name: JobFailed, JobID: "b"})

	first := <-ch
	second := <-ch
	if first.JobID != "a" || second.JobID != "b" {
		t.Fatalf("expected a subscribe-all listener to see both events in order, got %+v then %+v", first, second)
	}
}

func TestPublishDropsOnFullChannelAndIncrementsMetric(t *testing.T) {
	bus := New(nil)
	ch, unsub := bus.Subscribe(JobProgress)
	defer unsub()

	before := testutil.ToFloat64(telemetry.EventBusDrops.WithLabelValues(string(JobProgress)))

	for i := 0; i < subscriberBuffer+5; i++ {
		bus.Publish(Event{Name: JobProgress, JobID: "spammy"})
	}

	after := testutil.ToFloat64(telemetry.EventBusDrops.WithLabelValues(string(JobProgress)))
	if after <= before {
		t.Fatalf("expected EventBusDrops to increase once the subscriber's buffer filled, before=%v after=%v", before, after)
	}

	drained := 0
	for {
		select {
		case <-ch:
			drained++
		default:
			if drained != subscriberBuffer {
				t.Fatalf("expected exactly %d buffered events to survive the overflow, drained %d", subscriberBuffer, drained)
			}
			return
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New(nil)
	ch, unsub := bus.Subscribe(JobAdded)
	unsub()

	_, ok := <-ch
	if ok {
		t.Fatalf("expected the channel to be closed after unsubscribe")
	}
}
