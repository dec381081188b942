// Package telemetry exposes the process's Prometheus metrics, grounded
// on the teacher's telemetry/metrics.go: a singleton registry and a
// promhttp handler. Extended with tenant/jobType label vectors so a
// single process serving many tenants' queues reports per-tenant
// breakdowns rather than one global counter.
package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var once sync.Once

var (
	JobsEnqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_enqueued_total", Help: "Total jobs enqueued",
	}, []string{"tenant", "jobType"})

	JobsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_completed_total", Help: "Jobs completed successfully",
	}, []string{"tenant", "jobType"})

	JobsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_failed_total", Help: "Jobs that reached a terminal failure",
	}, []string{"tenant", "jobType"})

	JobsStalled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_stalled_total", Help: "Stalled-lease detections",
	}, []string{"tenant", "jobType"})

	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "queue_ready_depth", Help: "Ready queue depth",
	}, []string{"tenant", "jobType"})

	ActiveJobs = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "jobs_active", Help: "Jobs currently leased by a worker",
	}, []string{"tenant", "jobType"})

	RateLimitRejects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rate_limit_rejects_total", Help: "Requests rejected by the token-bucket limiter",
	}, []string{"tenant"})

	EventBusDrops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eventbus_drops_total", Help: "Events dropped because a subscriber channel was full",
	}, []string{"event"})
)

// Handler exposes /metrics with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsEnqueued, JobsCompleted, JobsFailed, JobsStalled,
			QueueDepth, ActiveJobs, RateLimitRejects, EventBusDrops,
		)
	})
	return promhttp.Handler()
}
