package queue

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"social-job-orchestrator/internal/domain"
	"social-job-orchestrator/internal/eventbus"
)

func TestQueueNameIsDeterministicPerTenantAndJobType(t *testing.T) {
	a := QueueName("tenant-a", domain.JobType("engage"))
	b := QueueName("tenant-a", domain.JobType("engage"))
	c := QueueName("tenant-b", domain.JobType("engage"))
	if a != b {
		t.Fatalf("expected the same (tenant, jobType) pair to always derive the same queue name")
	}
	if a == c {
		t.Fatalf("expected different tenants to derive different queue names, got %q for both", a)
	}
}

func TestGetOrCreateProjectsObservationsOntoBus(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	backend := NewRedisBackend(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	bus := eventbus.New(nil)
	registry := New(backend, bus, nil)
	defer registry.Close()

	ch, unsub := bus.Subscribe(eventbus.JobCompleted)
	defer unsub()

	ctx := context.Background()
	name := registry.GetOrCreate(ctx, "tenant-a", domain.JobType("engage"))
	name2 := registry.GetOrCreate(ctx, "tenant-a", domain.JobType("engage"))
	if name != name2 {
		t.Fatalf("expected GetOrCreate to be idempotent for the same (tenant, jobType)")
	}

	if err := backend.Enqueue(ctx, name, "job-1", "", DefaultJobOptions()); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	ctx2, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if _, _, err := backend.Claim(ctx2, name, "worker-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := backend.Complete(ctx, name, "job-1"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	select {
	case e := <-ch:
		if e.JobID != "job-1" {
			t.Fatalf("expected the completion observation to project as a job:completed event for job-1, got %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected the registry to project the backend's completion observation onto the bus")
	}
}
