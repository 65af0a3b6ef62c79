// Package ratelimit bounds how fast callers may write to the matrix. Limits are sliding
// windows keyed by the calling service, or by client address for anonymous requests.
package ratelimit

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"matrix/pkg/platform/httputil"
	request "matrix/pkg/platform/middleware/request"
	"matrix/pkg/requestcontext"
)

// Result is the outcome of one admission check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the whole number of seconds until the window admits again.
func (r *Result) RetryAfter(now time.Time) int {
	secs := int(r.ResetAt.Sub(now).Seconds() + 0.999)
	return max(secs, 1)
}

// Store records admitted requests per key inside a sliding window.
type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (*Result, error)
}

type exceededResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

// Middleware admits at most limit requests per key per window.
type Middleware struct {
	store    Store
	limit    int
	window   time.Duration
	scope    string
	logger   *slog.Logger
	disabled bool
	rejected *prometheus.CounterVec
}

type Option func(*Middleware)

// WithDisabled disables rate limiting entirely (local runs and tests).
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

// WithScope namespaces keys so several limiters can share one store.
func WithScope(scope string) Option {
	return func(m *Middleware) {
		m.scope = scope
	}
}

// WithMetrics counts rejected requests per scope.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(m *Middleware) {
		m.rejected = promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "matrix_ratelimit_rejected_total",
			Help: "Requests rejected by the write rate limiter",
		}, []string{"scope"})
	}
}

func New(store Store, limit int, window time.Duration, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		store:  store,
		limit:  limit,
		window: window,
		scope:  "writes",
		logger: logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled || m.limit <= 0 {
		m.disabled = true
		logger.Info("write rate limiting disabled")
	}
	return m
}

// Limit is the http middleware. Store failures admit the request.
func (m *Middleware) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.disabled {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		now := requestcontext.Now(ctx)
		key := m.key(r)

		result, err := m.store.Allow(ctx, key, m.limit, m.window, now)
		if err != nil {
			m.logger.ErrorContext(ctx, "rate limit check failed",
				"error", err,
				"request_id", request.GetRequestID(ctx),
			)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if !result.Allowed {
			if m.rejected != nil {
				m.rejected.WithLabelValues(m.scope).Inc()
			}
			m.logger.WarnContext(ctx, "rate limit exceeded",
				"key", key,
				"request_id", request.GetRequestID(ctx),
			)
			retryAfter := result.RetryAfter(now)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			httputil.WriteJSON(w, http.StatusTooManyRequests, exceededResponse{
				Error:       "rate_limit_exceeded",
				Description: "Too many requests. Please try again later.",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) key(r *http.Request) string {
	if caller := requestcontext.Caller(r.Context()); caller != "" {
		return m.scope + ":svc:" + SanitizeKeySegment(caller)
	}
	return m.scope + ":ip:" + SanitizeKeySegment(clientIP(r))
}

// SanitizeKeySegment escapes the key delimiter so a caller named "a:b" cannot land in
// another caller's bucket.
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
