// Package intake implements the thin command surface spec.md §4/§6
// calls for: a chi router exposing enqueue/enqueueBulk/
// enqueueByCategory/getJob/listJobsByParent plus SSE subscription
// endpoints backed by the FanoutHub. Grounded on the teacher's
// internal/api/server.go (chi router, tenant-from-path, rate limiter
// checked ahead of the store write), extended with
// go-playground/validator request validation, the idiom
// joshua-sajeev-GoQueue uses for payload_validation.go.
package intake

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"social-job-orchestrator/internal/accounts"
	"social-job-orchestrator/internal/apierr"
	"social-job-orchestrator/internal/config"
	"social-job-orchestrator/internal/domain"
	"social-job-orchestrator/internal/fanout"
	"social-job-orchestrator/internal/queue"
	"social-job-orchestrator/internal/ratelimit"
	"social-job-orchestrator/internal/store"
	"social-job-orchestrator/internal/telemetry"
)

var validate = validator.New()

// Server wires the HTTP handlers for the intake command surface.
type Server struct {
	cfg      config.Config
	store    *store.Store
	accounts accounts.Store
	registry *queue.Registry
	hub      *fanout.Hub
	limiter  *ratelimit.TokenBucket
}

func New(cfg config.Config, st *store.Store, acc accounts.Store, registry *queue.Registry, hub *fanout.Hub, limiter *ratelimit.TokenBucket) *Server {
	return &Server{cfg: cfg, store: st, accounts: acc, registry: registry, hub: hub, limiter: limiter}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Route("/tenants/{tenant}/jobs/{jobType}", func(r chi.Router) {
		if s.limiter != nil {
			r.Use(ratelimit.Middleware(s.limiter, tenantFromRequest))
		}
		r.Post("/", s.handleEnqueue)
		r.Post("/bulk", s.handleEnqueueBulk)
		r.Post("/by-category", s.handleEnqueueByCategory)
		r.Get("/{jobId}", s.handleGetJob)
		r.Get("/parent/{parentId}", s.handleListByParent)
	})

	r.Route("/tenants/{tenant}/events", func(r chi.Router) {
		r.Get("/", s.handleSubscribe)
		r.Post("/monitor-job/{jobId}", s.handleMonitorJob)
		r.Post("/monitor-group/{parentId}", s.handleMonitorGroup)
		r.Post("/unmonitor/{jobId}", s.handleUnmonitor)
	})

	return r
}

func tenantFromRequest(r *http.Request) string {
	if tenant := chi.URLParam(r, "tenant"); tenant != "" {
		return tenant
	}
	if tenant := r.Header.Get("X-Tenant-ID"); tenant != "" {
		return tenant
	}
	return "default"
}

type enqueueRequest struct {
	Payload        map[string]any `json:"payload" validate:"required"`
	MaxAttempts    int            `json:"maxAttempts,omitempty" validate:"omitempty,min=1,max=20"`
	IdempotencyKey string         `json:"idempotencyKey,omitempty"`
}

type enqueueResponse struct {
	JobID      string `json:"jobId"`
	Idempotent bool   `json:"idempotent"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	jobType := domain.JobType(chi.URLParam(r, "jobType"))
	if !validJobType(jobType) {
		writeError(w, apierr.BadRequest("unknown job type %q", jobType))
		return
	}

	var req enqueueRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	job, idempotent, err := s.createJob(r, tenant, jobType, "", req.Payload, req.MaxAttempts, req.IdempotencyKey)
	if err != nil {
		writeError(w, err)
		return
	}
	if !idempotent {
		s.enqueue(r, tenant, jobType, job.ID, "")
	}
	writeJSON(w, http.StatusAccepted, enqueueResponse{JobID: job.ID, Idempotent: idempotent})
}

type enqueueBulkRequest struct {
	Payloads []map[string]any `json:"payloads" validate:"required,min=1,dive,required"`
}

type enqueueBulkResponse struct {
	ParentID string   `json:"parentId"`
	JobIDs   []string `json:"jobIds"`
}

func (s *Server) handleEnqueueBulk(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	jobType := domain.JobType(chi.URLParam(r, "jobType"))
	if !validJobType(jobType) {
		writeError(w, apierr.BadRequest("unknown job type %q", jobType))
		return
	}

	var req enqueueBulkRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	parentID := uuid.NewString()
	jobIDs := make([]string, 0, len(req.Payloads))
	for _, payload := range req.Payloads {
		job, idempotent, err := s.createJob(r, tenant, jobType, parentID, payload, 0, "")
		if err != nil {
			writeError(w, err)
			return
		}
		jobIDs = append(jobIDs, job.ID)
		if !idempotent {
			s.enqueue(r, tenant, jobType, job.ID, parentID)
		}
	}
	writeJSON(w, http.StatusAccepted, enqueueBulkResponse{ParentID: parentID, JobIDs: jobIDs})
}

type enqueueByCategoryRequest struct {
	CategoryID    string         `json:"categoryId" validate:"required"`
	SharedPayload map[string]any `json:"sharedPayload" validate:"required"`
}

type enqueueByCategoryResponse struct {
	ParentID     string   `json:"parentId"`
	JobIDs       []string `json:"jobIds"`
	AccountCount int      `json:"accountCount"`
}

// handleEnqueueByCategory expands one job per account in categoryId,
// threading that account's session/metadata into a copy of
// sharedPayload (spec.md §6's enqueueByCategory).
func (s *Server) handleEnqueueByCategory(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	jobType := domain.JobType(chi.URLParam(r, "jobType"))
	if !validJobType(jobType) {
		writeError(w, apierr.BadRequest("unknown job type %q", jobType))
		return
	}

	var req enqueueByCategoryRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	accts, err := s.accounts.AccountsByCategory(r.Context(), req.CategoryID)
	if err != nil {
		writeError(w, apierr.Internal("list accounts by category: %v", err))
		return
	}
	if len(accts) == 0 {
		writeError(w, apierr.NotFound("no accounts found in category %q", req.CategoryID))
		return
	}

	parentID := uuid.NewString()
	jobIDs := make([]string, 0, len(accts))
	for _, acct := range accts {
		payload := clonePayload(req.SharedPayload)
		payload["sessionData"] = acct.Session
		payload["accountMetadata"] = acct.Metadata

		job, idempotent, err := s.createJob(r, tenant, jobType, parentID, payload, 0, "")
		if err != nil {
			writeError(w, err)
			return
		}
		jobIDs = append(jobIDs, job.ID)
		if !idempotent {
			s.enqueue(r, tenant, jobType, job.ID, parentID)
		}
	}
	writeJSON(w, http.StatusAccepted, enqueueByCategoryResponse{ParentID: parentID, JobIDs: jobIDs, AccountCount: len(accts)})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	job, err := s.store.Get(r.Context(), jobID)
	if err != nil {
		writeError(w, apierr.NotFound("job %s not found", jobID))
		return
	}
	writeJSON(w, http.StatusOK, s.jobView(job))
}

func (s *Server) handleListByParent(w http.ResponseWriter, r *http.Request) {
	parentID := chi.URLParam(r, "parentId")
	jobs, err := s.store.ListByParent(r.Context(), parentID)
	if err != nil {
		writeError(w, apierr.Internal("list jobs by parent: %v", err))
		return
	}
	views := make([]any, len(jobs))
	for i, job := range jobs {
		views[i] = s.jobView(job)
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": views})
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	subscriberID := r.URL.Query().Get("subscriberId")
	if subscriberID == "" {
		subscriberID = uuid.NewString()
	}
	if err := s.hub.ServeSSE(w, r, subscriberID, tenant); err != nil {
		writeError(w, apierr.Internal("sse: %v", err))
	}
}

func (s *Server) handleMonitorJob(w http.ResponseWriter, r *http.Request) {
	subscriberID := r.URL.Query().Get("subscriberId")
	if subscriberID == "" {
		writeError(w, apierr.BadRequest("subscriberId is required"))
		return
	}
	s.hub.MonitorJob(subscriberID, chi.URLParam(r, "jobId"))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMonitorGroup(w http.ResponseWriter, r *http.Request) {
	subscriberID := r.URL.Query().Get("subscriberId")
	if subscriberID == "" {
		writeError(w, apierr.BadRequest("subscriberId is required"))
		return
	}
	s.hub.MonitorGroup(subscriberID, chi.URLParam(r, "parentId"))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUnmonitor(w http.ResponseWriter, r *http.Request) {
	subscriberID := r.URL.Query().Get("subscriberId")
	if subscriberID == "" {
		writeError(w, apierr.BadRequest("subscriberId is required"))
		return
	}
	s.hub.Unmonitor(subscriberID, chi.URLParam(r, "jobId"))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// createJob persists the job row and bumps the enqueue counter. The
// queue entry itself is only written once the caller confirms this
// wasn't an idempotent replay.
func (s *Server) createJob(r *http.Request, tenant string, jobType domain.JobType, parentID string, payload map[string]any, maxAttempts int, idempotencyKey string) (*domain.Job, bool, error) {
	job, idempotent, err := s.store.Create(r.Context(), store.CreateParams{
		ID:             uuid.NewString(),
		TenantID:       tenant,
		JobType:        jobType,
		ParentID:       parentID,
		Payload:        payload,
		MaxAttempts:    maxAttempts,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return nil, false, apierr.Internal("create job: %v", err)
	}
	if !idempotent {
		telemetry.JobsEnqueued.WithLabelValues(tenant, string(jobType)).Inc()
	}
	return job, idempotent, nil
}

func (s *Server) enqueue(r *http.Request, tenant string, jobType domain.JobType, jobID, parentID string) {
	queueName := s.registry.GetOrCreate(r.Context(), tenant, jobType)
	opts := s.registry.DefaultOptions()
	_ = s.registry.Backend().Enqueue(r.Context(), queueName, jobID, parentID, opts)
}

func (s *Server) jobView(job *domain.Job) map[string]any {
	view := map[string]any{
		"jobId":       job.ID,
		"tenantId":    job.TenantID,
		"jobType":     job.JobType,
		"parentId":    job.ParentID,
		"state":       job.State,
		"progress":    job.Progress,
		"attempts":    job.Attempts,
		"maxAttempts": job.MaxAttempts,
		"result":      job.Result,
		"error":       job.Error,
		"createdAt":   job.CreatedAt,
	}
	if proj, ok := s.hub.Projection(job.ID); ok {
		view["state"] = proj.State
		view["progress"] = proj.Progress
	}
	view["recentLogs"] = s.hub.RecentLogs(job.ID)
	return view
}

func validJobType(jt domain.JobType) bool {
	switch jt {
	case domain.JobTypeMassPost, domain.JobTypeEngagement, domain.JobTypeChat:
		return true
	default:
		return false
	}
}

func clonePayload(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func decodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apierr.BadRequest("invalid request body: %v", err)
	}
	if err := validate.Struct(dst); err != nil {
		var verr validator.ValidationErrors
		if errors.As(err, &verr) {
			e := apierr.BadRequest("validation failed")
			e.Fields = formatValidationErrors(verr)
			return e
		}
		return apierr.BadRequest("validation failed: %v", err)
	}
	return nil
}

// formatValidationErrors maps each failed field to its failed tag,
// the idiom joshua-sajeev-GoQueue uses in payload_validation.go.
func formatValidationErrors(verr validator.ValidationErrors) map[string]any {
	fields := make(map[string]any, len(verr))
	for _, fe := range verr {
		fields[fe.Field()] = "failed " + fe.Tag()
	}
	return fields
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) {
		apiErr = apierr.Internal(err.Error())
	}
	writeJSON(w, statusForKind(apiErr.Kind), map[string]any{
		"error":  apiErr.Message,
		"kind":   apiErr.Kind,
		"fields": apiErr.Fields,
	})
}

func statusForKind(kind apierr.Kind) int {
	switch kind {
	case apierr.KindBadRequest:
		return http.StatusBadRequest
	case apierr.KindNotFound:
		return http.StatusNotFound
	case apierr.KindRateLimited:
		return http.StatusTooManyRequests
	case apierr.KindBlobTooLarge:
		return http.StatusRequestEntityTooLarge
	case apierr.KindCancelled:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
