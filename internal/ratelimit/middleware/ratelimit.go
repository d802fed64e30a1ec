// Package middleware applies the per-tenant request limit to authenticated
// routes.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"taskgate/internal/ratelimit/bucket"
	"taskgate/internal/ratelimit/metrics"
	"taskgate/pkg/platform/circuit"
	"taskgate/pkg/platform/httputil"
	"taskgate/pkg/requestcontext"
)

// Limiter is satisfied by bucket.InMemory and bucket.Redis.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*bucket.Result, error)
}

type Middleware struct {
	primary  Limiter
	fallback Limiter
	breaker  *circuit.Breaker
	limit    int
	window   time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Middleware)

// WithFallback answers checks from fallback while breaker is open or the
// primary errors.
func WithFallback(fallback Limiter, breaker *circuit.Breaker) Option {
	return func(m *Middleware) {
		m.fallback = fallback
		m.breaker = breaker
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Middleware) { m.metrics = mt }
}

func New(primary Limiter, limit int, window time.Duration, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		primary: primary,
		limit:   limit,
		window:  window,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type exceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
}

// PerTenant must run after authentication. Requests without a principal and
// requests whose limit cannot be checked at all pass through.
func (m *Middleware) PerTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		p, ok := requestcontext.PrincipalFrom(ctx)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		result, degraded, err := m.check(ctx, "tenant:"+p.TenantID.String())
		if err != nil {
			m.logger.ErrorContext(ctx, "rate limit check failed",
				"request_id", requestcontext.RequestID(ctx),
				"tenant_id", p.TenantID.String(),
				"error", err,
			)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
		if degraded {
			w.Header().Set("X-RateLimit-Status", "degraded")
		}

		if !result.Allowed {
			m.metrics.IncRejected(degraded)
			m.logger.WarnContext(ctx, "tenant rate limit exceeded",
				"request_id", requestcontext.RequestID(ctx),
				"tenant_id", p.TenantID.String(),
				"degraded", degraded,
			)
			w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
			httputil.WriteJSON(w, http.StatusTooManyRequests, exceededResponse{
				Error:      "rate_limit_exceeded",
				Message:    "Too many requests for this tenant. Please try again later.",
				RetryAfter: result.RetryAfter,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// check returns the answering limiter's result and whether it was the fallback.
func (m *Middleware) check(ctx context.Context, key string) (*bucket.Result, bool, error) {
	if m.fallback == nil {
		res, err := m.primary.Allow(ctx, key, m.limit, m.window)
		return res, false, err
	}

	if m.breaker.Allow() {
		res, err := m.primary.Allow(ctx, key, m.limit, m.window)
		if err == nil {
			m.breaker.RecordSuccess()
			return res, false, nil
		}
		m.metrics.IncStoreFailure()
		if _, change := m.breaker.RecordFailure(); change.Opened {
			m.logger.WarnContext(ctx, "rate limit store circuit opened", "error", err)
		}
	}

	m.metrics.IncDegraded()
	res, err := m.fallback.Allow(ctx, key, m.limit, m.window)
	return res, true, err
}
