// Package store persists domain.Job records to Postgres, adapted from
// the teacher's internal/store/postgres.go: pgxpool for connection
// pooling, JSON-marshalled payload/result columns, and a transactional
// idempotency-key insert so enqueue() is safe to retry from the client
// side. The queue backend (internal/queue) owns only ready/in-flight
// bookkeeping; this package owns the authoritative Job record the
// WorkerPool loads on claim and the intake API reads for getJob.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"social-job-orchestrator/internal/domain"
)

// Store wraps pgxpool for Postgres persistence of Job records.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Pool exposes the underlying pool so sibling stores (accounts) can
// share one connection pool per process, per spec.md §5.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateParams collects inputs required to insert a new job row.
type CreateParams struct {
	ID             string
	TenantID       string
	JobType        domain.JobType
	ParentID       string
	Payload        map[string]any
	MaxAttempts    int
	IdempotencyKey string
}

// Create inserts a job row, honoring idempotency if an IdempotencyKey is
// set: a conflicting key returns the already-created job rather than a
// duplicate.
func (s *Store) Create(ctx context.Context, p CreateParams) (*domain.Job, bool, error) {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	payloadJSON, err := json.Marshal(p.Payload)
	if err != nil {
		return nil, false, fmt.Errorf("marshal payload: %w", err)
	}

	if p.IdempotencyKey != "" {
		if existing, found, err := s.FindByIdempotencyKey(ctx, p.IdempotencyKey); err != nil {
			return nil, false, err
		} else if found {
			return existing, true, nil
		}
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `
		INSERT INTO jobs (id, tenant_id, job_type, parent_id, payload, state, progress, attempts, max_attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, 0, $7, $8)
	`, p.ID, p.TenantID, string(p.JobType), nullIfEmpty(p.ParentID), payloadJSON, string(domain.StateWaiting), p.MaxAttempts, now)
	if err != nil {
		return nil, false, fmt.Errorf("insert job: %w", err)
	}

	if p.IdempotencyKey != "" {
		tag, err := tx.Exec(ctx, `
			INSERT INTO idempotency_keys (key, job_id, created_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (key) DO NOTHING
		`, p.IdempotencyKey, p.ID, now)
		if err != nil {
			return nil, false, fmt.Errorf("insert idempotency key: %w", err)
		}
		if tag.RowsAffected() == 0 {
			if err := tx.Rollback(ctx); err != nil {
				return nil, false, fmt.Errorf("rollback after idempotency conflict: %w", err)
			}
			existing, found, err := s.FindByIdempotencyKey(ctx, p.IdempotencyKey)
			if err != nil {
				return nil, false, err
			}
			if !found {
				return nil, false, errors.New("idempotency conflict but no existing job found")
			}
			return existing, true, nil
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit: %w", err)
	}

	job := domain.NewJob(p.ID, p.TenantID, p.JobType, p.ParentID, p.Payload, p.MaxAttempts)
	job.CreatedAt = now
	return job, false, nil
}

// FindByIdempotencyKey returns the job mapped to key, if any.
func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (*domain.Job, bool, error) {
	var jobID string
	err := s.pool.QueryRow(ctx, `SELECT job_id FROM idempotency_keys WHERE key = $1`, key).Scan(&jobID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query idempotency key: %w", err)
	}
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, false, err
	}
	return job, true, nil
}

// Get fetches a job by id. The returned Job's Logs ring starts empty —
// callers needing replay should consult the FanoutHub's JobStateCache,
// which retains recent lines in memory per spec.md §4.9.
func (s *Store) Get(ctx context.Context, id string) (*domain.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, job_type, parent_id, payload, state, progress, attempts, max_attempts,
		       result, error, created_at, processed_at, finished_at
		FROM jobs WHERE id = $1
	`, id)

	var (
		job         domain.Job
		parentID    pgtype.Text
		payloadJSON []byte
		resultJSON  []byte
		errText     pgtype.Text
		processedAt pgtype.Timestamptz
		finishedAt  pgtype.Timestamptz
		jobType     string
		state       string
	)

	if err := row.Scan(&job.ID, &job.TenantID, &jobType, &parentID, &payloadJSON, &state, &job.Progress,
		&job.Attempts, &job.MaxAttempts, &resultJSON, &errText, &job.CreatedAt, &processedAt, &finishedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("job %s not found: %w", id, err)
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}

	job.JobType = domain.JobType(jobType)
	job.State = domain.JobState(state)
	job.ParentID = parentID.String
	job.Error = errText.String
	if processedAt.Valid {
		job.ProcessedAt = processedAt.Time
	}
	if finishedAt.Valid {
		job.FinishedAt = finishedAt.Time
	}
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &job.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if len(resultJSON) > 0 && string(resultJSON) != "null" {
		var result any
		if err := json.Unmarshal(resultJSON, &result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
		job.Result = result
	}
	job.Logs = domain.NewLogRing(100)
	return &job, nil
}

// Save persists the mutable fields of job (state, progress, attempts,
// result, error, timestamps). Called by the WorkerPool after every
// state transition.
func (s *Store) Save(ctx context.Context, job *domain.Job) error {
	resultJSON, err := json.Marshal(job.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	var processedAt, finishedAt *time.Time
	if !job.ProcessedAt.IsZero() {
		processedAt = &job.ProcessedAt
	}
	if !job.FinishedAt.IsZero() {
		finishedAt = &job.FinishedAt
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE jobs
		SET state = $2, progress = $3, attempts = $4, result = $5, error = $6,
		    processed_at = $7, finished_at = $8
		WHERE id = $1
	`, job.ID, string(job.State), job.Progress, job.Attempts, resultJSON, nullIfEmpty(job.Error), processedAt, finishedAt)
	if err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

// ListByParent returns every job sharing parentID, newest first.
func (s *Store) ListByParent(ctx context.Context, parentID string) ([]*domain.Job, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM jobs WHERE parent_id = $1 ORDER BY created_at DESC`, parentID)
	if err != nil {
		return nil, fmt.Errorf("query jobs by parent %s: %w", parentID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job ids: %w", err)
	}

	jobs := make([]*domain.Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// TenantJobType names one (tenant, jobType) pair with pending or
// in-flight work, used by cmd/worker to discover which pools to run
// without hardcoding a tenant list.
type TenantJobType struct {
	TenantID string
	JobType  domain.JobType
}

// ActiveTenantJobTypes returns every (tenant, jobType) pair with at
// least one job not yet in a terminal state.
func (s *Store) ActiveTenantJobTypes(ctx context.Context) ([]TenantJobType, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT tenant_id, job_type FROM jobs
		WHERE state IN ($1, $2, $3)
	`, string(domain.StateWaiting), string(domain.StateActive), string(domain.StateStalled))
	if err != nil {
		return nil, fmt.Errorf("query active tenant job types: %w", err)
	}
	defer rows.Close()

	var out []TenantJobType
	for rows.Next() {
		var tjt TenantJobType
		var jobType string
		if err := rows.Scan(&tjt.TenantID, &jobType); err != nil {
			return nil, fmt.Errorf("scan tenant job type: %w", err)
		}
		tjt.JobType = domain.JobType(jobType)
		out = append(out, tjt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tenant job types: %w", err)
	}
	return out, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
