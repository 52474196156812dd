package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"antiddos/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func get(handler http.Handler, remoteAddr string, mutate func(*http.Request) *http.Request) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats", nil)
	req.RemoteAddr = remoteAddr
	if mutate != nil {
		req = mutate(req)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestMiddleware_AllowedRequest(t *testing.T) {
	limiter := NewMemoryLimiter(60, 10, 5*time.Minute)
	defer limiter.Close()

	handler := Middleware(limiter, limiter, Options{})(http.HandlerFunc(okHandler))
	rr := get(handler, "192.168.1.1:12345", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, rr.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rr.Header().Get("X-RateLimit-Reset"))
}

func TestMiddleware_DeniedRequest(t *testing.T) {
	limiter := NewMemoryLimiter(60, 2, 5*time.Minute)
	defer limiter.Close()

	handler := Middleware(limiter, limiter, Options{})(http.HandlerFunc(okHandler))

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, get(handler, "192.168.1.1:12345", nil).Code)
	}

	rr := get(handler, "192.168.1.1:23456", nil)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code, "port does not change the caller")
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var errResp models.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&errResp))
	assert.Equal(t, "Rate limit exceeded", errResp.Message)
	assert.Equal(t, models.ErrorCodeRateLimited, errResp.Code)
}

func TestMiddleware_AuthenticatedRequest(t *testing.T) {
	anonLimiter := NewMemoryLimiter(60, 2, 5*time.Minute)
	defer anonLimiter.Close()
	authLimiter := NewMemoryLimiter(120, 5, 5*time.Minute)
	defer authLimiter.Close()

	handler := Middleware(anonLimiter, authLimiter, Options{})(http.HandlerFunc(okHandler))

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, get(handler, "192.168.1.1:12345", nil).Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, get(handler, "192.168.1.1:12345", nil).Code)

	apiKey := &models.APIKey{Name: "ops", Permissions: []string{models.PermissionRead}, Enabled: true}
	rr := get(handler, "192.168.1.1:12345", func(r *http.Request) *http.Request {
		return r.WithContext(models.ContextWithAPIKey(r.Context(), apiKey))
	})
	assert.Equal(t, http.StatusOK, rr.Code)

	limit, err := strconv.Atoi(rr.Header().Get("X-RateLimit-Limit"))
	require.NoError(t, err)
	assert.Equal(t, 120, limit)
}

func TestMiddleware_ProxyHeaders(t *testing.T) {
	forwarded := func(ip string) func(*http.Request) *http.Request {
		return func(r *http.Request) *http.Request {
			r.Header.Set("X-Forwarded-For", "70.41.3.18, "+ip)
			return r
		}
	}

	t.Run("trusted", func(t *testing.T) {
		limiter := NewMemoryLimiter(60, 1, 5*time.Minute)
		defer limiter.Close()
		handler := Middleware(limiter, limiter, Options{TrustProxyHeaders: true})(http.HandlerFunc(okHandler))

		assert.Equal(t, http.StatusOK, get(handler, "10.0.0.1:1", forwarded("203.0.113.50")).Code)
		assert.Equal(t, http.StatusOK, get(handler, "10.0.0.1:1", forwarded("203.0.113.51")).Code)
	})

	t.Run("spoofed left entries share the proxy-appended address", func(t *testing.T) {
		limiter := NewMemoryLimiter(60, 1, 5*time.Minute)
		defer limiter.Close()
		handler := Middleware(limiter, limiter, Options{TrustProxyHeaders: true})(http.HandlerFunc(okHandler))

		spoof := func(left string) func(*http.Request) *http.Request {
			return func(r *http.Request) *http.Request {
				r.Header.Set("X-Forwarded-For", left+", 198.51.100.7")
				return r
			}
		}
		assert.Equal(t, http.StatusOK, get(handler, "10.0.0.1:1", spoof("1.2.3.4")).Code)
		assert.Equal(t, http.StatusTooManyRequests, get(handler, "10.0.0.1:1", spoof("1.2.3.5")).Code)
	})

	t.Run("untrusted", func(t *testing.T) {
		limiter := NewMemoryLimiter(60, 1, 5*time.Minute)
		defer limiter.Close()
		handler := Middleware(limiter, limiter, Options{})(http.HandlerFunc(okHandler))

		assert.Equal(t, http.StatusOK, get(handler, "10.0.0.1:1", forwarded("203.0.113.50")).Code)
		assert.Equal(t, http.StatusTooManyRequests, get(handler, "10.0.0.1:1", forwarded("203.0.113.51")).Code)
	})
}
