// Package accounts declares the AccountStore capability (out of scope
// per spec.md §1: "the core does not own the credential database") and
// a Postgres-backed implementation reusing the teacher's pgxpool idiom
// for the one write path the core actually needs: rotated-token
// write-back after a successful AuthCoordinator attempt.
package accounts

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"social-job-orchestrator/internal/domain"
)

// Store is the capability AuthCoordinator depends on.
type Store interface {
	// UpdateTokens persists the rotated access/refresh tokens (and,
	// when non-empty, did/email) for accountId. Concurrent callers for
	// the same account race last-writer-wins per spec.md §4.4.
	UpdateTokens(ctx context.Context, update domain.TokenUpdate) error

	// AccountsByCategory returns account metadata + session data for
	// every account in categoryID, used by enqueueByCategory.
	AccountsByCategory(ctx context.Context, categoryID string) ([]Account, error)
}

// Account pairs the session snapshot and metadata stored for one account.
type Account struct {
	Session  domain.SessionData
	Metadata domain.AccountMetadata
}

// PostgresStore is the production Store, backed by the same pgxpool the
// job store (internal/store) uses.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool; callers share one pool per process to
// avoid file-descriptor blowup, per spec.md §5.
func New(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) UpdateTokens(ctx context.Context, u domain.TokenUpdate) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE accounts
		SET access_token = $2,
		    refresh_token = $3,
		    did = COALESCE(NULLIF($4, ''), did),
		    email = COALESCE(NULLIF($5, ''), email),
		    updated_at = NOW()
		WHERE account_id = $1
	`, u.AccountID, u.AccessToken, u.RefreshToken, u.DID, u.Email)
	if err != nil {
		return fmt.Errorf("update tokens for account %s: %w", u.AccountID, err)
	}
	return nil
}

func (s *PostgresStore) AccountsByCategory(ctx context.Context, categoryID string) ([]Account, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT account_id, password, proxy, user_agent, endpoint, did, handle, email, access_token, refresh_token
		FROM accounts
		WHERE category_id = $1
	`, categoryID)
	if err != nil {
		return nil, fmt.Errorf("query accounts by category %s: %w", categoryID, err)
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		var a Account
		var password, proxy, userAgent, endpoint, email *string
		if err := rows.Scan(&a.Metadata.AccountID, &password, &proxy, &userAgent, &endpoint,
			&a.Session.DID, &a.Session.Handle, &email, &a.Session.AccessToken, &a.Session.RefreshToken); err != nil {
			return nil, fmt.Errorf("scan account row: %w", err)
		}
		a.Metadata.Password = deref(password)
		a.Metadata.Proxy = deref(proxy)
		a.Metadata.UserAgent = deref(userAgent)
		a.Metadata.Endpoint = deref(endpoint)
		a.Session.Email = deref(email)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return out, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
