package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
	"go.uber.org/zap"

	"github.com/capitalize-ai/unified-inbox/pkg/logger"
)

// RateLimit creates per instance rate limiting middleware keyed by tenant,
// or by client IP before authentication.
func RateLimit(requestLimit int, windowLength time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestLimit,
		windowLength,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if tenantID := GetTenantID(r.Context()); tenantID != "" {
				return "tenant:" + tenantID, nil
			}
			return httprate.KeyByRealIP(r)
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			tooManyRequests(w, windowLength)
		}),
	)
}

// Limiter is a rate limiter shared between instances.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Window() time.Duration
}

// SharedLimit rate limits a route across every instance. scope separates
// the counters of different routes. The limiter fails closed.
func SharedLimit(limiter Limiter, scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := GetTenantID(r.Context())
			if key == "" {
				ip, _ := httprate.KeyByRealIP(r)
				key = "ip:" + ip
			}
			ok, err := limiter.Allow(r.Context(), scope+":"+key)
			if err != nil {
				logger.FromContext(r.Context(), nil).Warn("shared rate limiter unavailable",
					zap.String("scope", scope), zap.Error(err))
				writeError(w, http.StatusServiceUnavailable, "rate limiter unavailable")
				return
			}
			if !ok {
				tooManyRequests(w, limiter.Window())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func tooManyRequests(w http.ResponseWriter, window time.Duration) {
	retry := strconv.Itoa(int(math.Ceil(window.Seconds())))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", retry)
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(`{"error":"rate limit exceeded","retry_after":` + retry + `}`))
}
