package ratelimit

import (
	"errors"
	"net/http"

	"social-job-orchestrator/internal/apierr"
	"social-job-orchestrator/internal/telemetry"
)

// Middleware builds a chi-compatible http.Handler wrapper that rate
// limits by tenantID (extracted from the request by tenantFn, typically
// a path or header lookup already performed by the intake router).
func Middleware(bucket *TokenBucket, tenantFn func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := tenantFn(r)
			if tenantID == "" {
				next.ServeHTTP(w, r)
				return
			}
			if _, err := bucket.AllowTenant(r.Context(), tenantID); err != nil {
				var apiErr *apierr.Error
				if errors.As(err, &apiErr) && apiErr.Kind == apierr.KindRateLimited {
					telemetry.RateLimitRejects.WithLabelValues(tenantID).Inc()
					http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
