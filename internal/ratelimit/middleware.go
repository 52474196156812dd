package ratelimit

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"antiddos/internal/gate"
	"antiddos/internal/models"
)

// Options configures Middleware.
type Options struct {
	// TrustProxyHeaders keys anonymous callers by X-Forwarded-For / X-Real-IP.
	TrustProxyHeaders bool
	Logger            *slog.Logger
}

// Middleware throttles requests. Callers authenticated by the API key middleware
// use the authenticated limiter keyed by key name; everyone else uses the
// anonymous limiter keyed by client address.
func Middleware(anonymous Limiter, authenticated Limiter, opts Options) func(http.Handler) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, limiter := anonymousKey(r, opts.TrustProxyHeaders), anonymous
			if apiKey, ok := models.APIKeyFromContext(r.Context()); ok {
				key, limiter = "auth:"+apiKey.Name, authenticated
			}

			allowed, info := limiter.Allow(key)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetAt.Unix(), 10))

			if !allowed {
				retryAfter := int(info.RetryAfter.Seconds()) + 1
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(models.NewErrorResponse("Rate limit exceeded", models.ErrorCodeRateLimited))

				logger.Warn("Admin API rate limit exceeded",
					"key", key,
					"limit", info.Limit,
					"retry_after", retryAfter,
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func anonymousKey(r *http.Request, trustProxyHeaders bool) string {
	return "ip:" + gate.ClientAddress(r, trustProxyHeaders)
}
