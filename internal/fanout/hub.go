// Package fanout implements the FanoutHub (spec.md §4.9): the
// subscription room graph (user/job/group rooms), the delivery rule
// that keeps tenants from being flooded with unrelated telemetry, and
// the JobStateCache that lets late subscribers replay recent state and
// logs. SSE delivery is grounded on
// manthysbr-auleOS/pkg/kernel/server.go's handleConversationSSE
// (Flusher-based text/event-stream writer). Run holds the hub's single
// EventBus subscription and fans each event out to the buffered channel
// of every registered connection.
package fanout

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"social-job-orchestrator/internal/domain"
	"social-job-orchestrator/internal/eventbus"
)

const defaultReplayLogLines = 50
const connectionBuffer = 100

// Hub owns the subscription graph and the JobStateCache.
type Hub struct {
	bus *eventbus.Bus

	mu            sync.RWMutex
	subscriptions map[string]*domain.Subscription // subscriberId -> subscription
	stateCache    map[string]domain.JobProjection // jobId -> projection
	recentLogs    map[string][]domain.LogEntry    // jobId -> recent log lines

	connMu          sync.RWMutex
	liveConnections map[string][]*connection // subscriberId -> active SSE connections
}

// New builds a Hub wired to bus; the caller (WorkerPool/Dispatcher) is
// expected to have already published lifecycle events to bus.
func New(bus *eventbus.Bus) *Hub {
	return &Hub{
		bus:           bus,
		subscriptions: make(map[string]*domain.Subscription),
		stateCache:    make(map[string]domain.JobProjection),
		recentLogs:    make(map[string][]domain.LogEntry),
	}
}

// Subscribe registers subscriberId under user:<tenantId>.
func (h *Hub) Subscribe(subscriberID, tenantID string) *domain.Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub := domain.NewSubscription(subscriberID, tenantID)
	h.subscriptions[subscriberID] = sub
	return sub
}

// Unsubscribe drops a subscriber entirely (on disconnect).
func (h *Hub) Unsubscribe(subscriberID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subscriptions, subscriberID)
}

func (h *Hub) MonitorJob(subscriberID, jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subscriptions[subscriberID]; ok {
		sub.MonitorJob(jobID)
	}
}

func (h *Hub) MonitorGroup(subscriberID, parentID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subscriptions[subscriberID]; ok {
		sub.MonitorGroup(parentID)
	}
}

func (h *Hub) Unmonitor(subscriberID, jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subscriptions[subscriberID]; ok {
		sub.UnmonitorJob(jobID)
	}
}

// deliverable applies spec.md §4.9's delivery rule: for a candidate
// subscriber, deliver iff the event's jobId is watched, its parentId's
// group is watched, or the event was addressed to the user-room
// generally (i.e. it's a lifecycle event with no explicit watch
// requirement).
func deliverable(sub *domain.Subscription, e eventbus.Event, isLifecycleSummary bool) bool {
	if e.JobID != "" && sub.WatchesJob(e.JobID) {
		return true
	}
	if e.ParentID != "" && sub.WatchesGroup(e.ParentID) {
		return true
	}
	return isLifecycleSummary
}

// isLifecycleSummary reports whether e belongs to the small set of
// coarse lifecycle events every user-room subscriber sees regardless of
// explicit watches (job:added, job:started, job:completed, job:failed,
// job:stalled) as opposed to high-volume telemetry (job:progress,
// job:log) that must be explicitly watched.
func isLifecycleSummary(name eventbus.Name) bool {
	switch name {
	case eventbus.JobAdded, eventbus.JobStarted, eventbus.JobCompleted, eventbus.JobFailed, eventbus.JobStalled:
		return true
	default:
		return false
	}
}

// updateCache synchronously updates the JobStateCache and, for job:log
// events, the ring of recently replayed log lines.
func (h *Hub) updateCache(e eventbus.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if e.Name == eventbus.JobLog {
		entry, ok := e.Payload.(domain.LogEntry)
		if !ok {
			return
		}
		lines := h.recentLogs[e.JobID]
		lines = append(lines, entry)
		if len(lines) > defaultReplayLogLines {
			lines = lines[len(lines)-defaultReplayLogLines:]
		}
		h.recentLogs[e.JobID] = lines
		return
	}

	proj := h.stateCache[e.JobID]
	proj.JobID = e.JobID
	proj.TenantID = e.TenantID
	if e.ParentID != "" {
		proj.ParentID = e.ParentID
	}
	if e.JobType != "" {
		proj.JobType = domain.JobType(e.JobType)
	}
	proj.UpdatedAt = time.Now().UTC()

	switch e.Name {
	case eventbus.JobStarted:
		proj.State = domain.StateActive
	case eventbus.JobProgress:
		if pct, ok := e.Payload.(int); ok {
			proj.Progress = pct
		}
		proj.State = domain.StateActive
	case eventbus.JobCompleted:
		proj.State = domain.StateCompleted
		proj.Progress = 100
		proj.Result = e.Payload
	case eventbus.JobFailed:
		proj.State = domain.StateFailed
		if msg, ok := e.Payload.(string); ok {
			proj.Error = msg
		}
	case eventbus.JobStalled:
		proj.State = domain.StateStalled
	}
	h.stateCache[e.JobID] = proj
}

// Projection returns the last-known state for a job, for getJob/replay.
func (h *Hub) Projection(jobID string) (domain.JobProjection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.stateCache[jobID]
	return p, ok
}

// RecentLogs returns up to defaultReplayLogLines recent log lines for a job.
func (h *Hub) RecentLogs(jobID string) []domain.LogEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]domain.LogEntry(nil), h.recentLogs[jobID]...)
}

// Run drains the hub's bus subscription forever, updating the cache and
// then delivering to matching subscribers' per-connection channels. It
// is the single writer of stateCache/recentLogs so no separate lock
// ordering is needed between "cache update" and "delivery decision".
func (h *Hub) Run(stop <-chan struct{}) {
	ch, unsub := h.bus.Subscribe()
	defer unsub()
	for {
		select {
		case <-stop:
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			h.updateCache(e)
			h.deliverToConnections(e)
		}
	}
}

// connections tracks live SSE writers per subscriber, separate from the
// Subscription (watch-list) bookkeeping above.
type connection struct {
	subscriberID string
	tenantID     string
	events       chan eventbus.Event
}

func (h *Hub) deliverToConnections(e eventbus.Event) {
	h.mu.RLock()
	lifecycle := isLifecycleSummary(e.Name)
	candidates := make([]*domain.Subscription, 0, len(h.subscriptions))
	for _, sub := range h.subscriptions {
		if sub.TenantID != e.TenantID {
			continue
		}
		candidates = append(candidates, sub)
	}
	h.mu.RUnlock()

	h.connMu.RLock()
	defer h.connMu.RUnlock()
	for _, sub := range candidates {
		if !deliverable(sub, e, lifecycle) {
			continue
		}
		if conns, ok := h.liveConnections[sub.SubscriberID]; ok {
			for _, c := range conns {
				select {
				case c.events <- e:
				default:
				}
			}
		}
	}
}

// ServeSSE writes a text/event-stream response for one subscriber
// connection, grounded on auleOS's handleConversationSSE: it sets the
// SSE headers, registers a connection channel that Run feeds from the
// hub's bus subscription, and streams matching events until the request
// context is cancelled.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request, subscriberID, tenantID string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming not supported by response writer")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.Subscribe(subscriberID, tenantID)
	defer h.Unsubscribe(subscriberID)

	c := &connection{subscriberID: subscriberID, tenantID: tenantID, events: make(chan eventbus.Event, connectionBuffer)}
	h.registerConnection(c)
	defer h.unregisterConnection(c)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-c.events:
			if !ok {
				return nil
			}
			body, err := json.Marshal(e.Payload)
			if err != nil {
				body = []byte(`null`)
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Name, body)
			flusher.Flush()
		}
	}
}

func (h *Hub) registerConnection(c *connection) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.liveConnections == nil {
		h.liveConnections = make(map[string][]*connection)
	}
	h.liveConnections[c.subscriberID] = append(h.liveConnections[c.subscriberID], c)
}

func (h *Hub) unregisterConnection(c *connection) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	conns := h.liveConnections[c.subscriberID]
	for i, existing := range conns {
		if existing == c {
			h.liveConnections[c.subscriberID] = append(conns[:i], conns[i+1:]...)
			close(c.events)
			break
		}
	}
	if len(h.liveConnections[c.subscriberID]) == 0 {
		delete(h.liveConnections, c.subscriberID)
	}
}
