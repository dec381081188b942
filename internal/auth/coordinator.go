// Package auth implements the three-stage credential recovery described
// in spec.md §4.4: refresh, then resume, then a fresh password login,
// the first of which succeeds wins. Token rotation is written back to
// the AccountStore as a side effect; the mutated session is never
// persisted beyond the tokens.
package auth

import (
	"context"
	"errors"
	"log/slog"

	"social-job-orchestrator/internal/accounts"
	"social-job-orchestrator/internal/apierr"
	"social-job-orchestrator/internal/domain"
	"social-job-orchestrator/internal/social"
)

// Coordinator resolves an authenticated social.Client for one job,
// re-runnable mid-job if an executor detects a lapsed session.
type Coordinator struct {
	factory social.Factory
	store   accounts.Store
	logger  *slog.Logger
}

// New builds a Coordinator. logger is typically the job's per-job
// logger (internal/jobsink), so auth attempts show up in that job's logs.
func New(factory social.Factory, store accounts.Store, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{factory: factory, store: store, logger: logger}
}

// Result is the authenticated client plus the (possibly rotated) session
// the caller should thread into its executor.
type Result struct {
	Client  social.Client
	Session domain.SessionData
	Method  string
}

// Authenticate attempts refresh, then resume, then login, in order.
func (c *Coordinator) Authenticate(ctx context.Context, session domain.SessionData, meta domain.AccountMetadata) (Result, error) {
	client, err := c.factory.New(ctx, meta)
	if err != nil {
		return Result{}, apierr.Internal("construct social client: %v", err)
	}

	var refreshErr, resumeErr, loginErr error

	if session.RefreshToken != "" {
		if rotated, err := client.RefreshSession(ctx, session.RefreshToken); err == nil {
			c.logger.Info("auth: refresh succeeded", "accountId", meta.AccountID)
			session.AccessToken = rotated.AccessToken
			session.RefreshToken = rotated.RefreshToken
			if rotated.DID != "" {
				session.DID = rotated.DID
			}
			if err := c.store.UpdateTokens(ctx, domain.TokenUpdate{
				AccountID:    meta.AccountID,
				AccessToken:  session.AccessToken,
				RefreshToken: session.RefreshToken,
				DID:          rotated.DID,
			}); err != nil {
				c.logger.Warn("auth: token write-back failed after refresh", "accountId", meta.AccountID, "error", err)
			}
			return Result{Client: client, Session: session, Method: "refresh"}, nil
		} else {
			refreshErr = err
			c.logger.Warn("auth: refresh failed", "accountId", meta.AccountID, "error", err)
		}
	} else {
		refreshErr = errors.New("no refresh token present")
	}

	if session.DID == "" {
		resumeErr = errors.New("DID missing")
		c.logger.Warn("auth: resume skipped, DID missing", "accountId", meta.AccountID)
	} else {
		if rotated, err := client.ResumeSession(ctx, session); err == nil {
			c.logger.Info("auth: resume succeeded", "accountId", meta.AccountID)
			return Result{Client: client, Session: rotated, Method: "resume"}, nil
		} else {
			resumeErr = err
			c.logger.Warn("auth: resume failed", "accountId", meta.AccountID, "error", err)
		}
	}

	if meta.Password != "" {
		if rotated, err := client.Login(ctx, session.Handle, meta.Password); err == nil {
			c.logger.Info("auth: fresh login succeeded", "accountId", meta.AccountID)
			if err := c.store.UpdateTokens(ctx, domain.TokenUpdate{
				AccountID:    meta.AccountID,
				AccessToken:  rotated.AccessToken,
				RefreshToken: rotated.RefreshToken,
				DID:          rotated.DID,
				Email:        rotated.Email,
			}); err != nil {
				c.logger.Warn("auth: token write-back failed after login", "accountId", meta.AccountID, "error", err)
			}
			return Result{Client: client, Session: rotated, Method: "login"}, nil
		} else {
			loginErr = err
			c.logger.Warn("auth: fresh login failed", "accountId", meta.AccountID, "error", err)
		}
	} else {
		loginErr = errors.New("no password available for fresh login")
	}

	return Result{}, apierr.AuthExhausted(refreshErr, resumeErr, loginErr)
}
