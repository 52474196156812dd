package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"antiddos/internal/models"
	"antiddos/internal/ratelimit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func newRouteTestService() *MockProtectionService {
	svc := &MockProtectionService{}
	svc.On("GetSettings", mock.Anything).Return(&models.SettingsResponse{}, nil).Maybe()
	svc.On("SaveSettings", mock.Anything, mock.Anything).Return(nil).Maybe()
	svc.On("GetStats", mock.Anything, mock.Anything, mock.Anything).Return(&models.StatsResponse{}, nil).Maybe()
	svc.On("ClearLogs", mock.Anything).Return(nil).Maybe()
	svc.On("GetTimezone", mock.Anything).Return(&models.TimezoneResponse{Timezone: "UTC"}, nil).Maybe()
	svc.On("SetTimezone", mock.Anything, mock.Anything).Return(nil).Maybe()
	svc.On("InspectAddress", mock.Anything, mock.Anything).Return(&models.AddressStatusResponse{}, nil).Maybe()
	return svc
}

func authConfig(enabled bool) *models.Config {
	return &models.Config{Security: models.SecurityConfig{EnableAuth: enabled, APIKeys: testKeys()}}
}

func serve(router http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestSetupRoutesWithAuth(t *testing.T) {
	router := SetupRoutes(NewHandlers(newRouteTestService()), authConfig(true))

	tests := []struct {
		name           string
		method         string
		path           string
		body           string
		token          string
		expectedStatus int
	}{
		{"health is public", http.MethodGet, "/health", "", "", http.StatusOK},
		{"api health is public", http.MethodGet, "/api/v1/health", "", "", http.StatusOK},
		{"settings need a key", http.MethodGet, "/api/v1/admin/settings", "", "", http.StatusUnauthorized},
		{"read key reads settings", http.MethodGet, "/api/v1/admin/settings", "", "read-raw-key", http.StatusOK},
		{"read key reads stats", http.MethodGet, "/api/v1/admin/stats", "", "read-raw-key", http.StatusOK},
		{"read key reads timezone", http.MethodGet, "/api/v1/admin/timezone", "", "read-raw-key", http.StatusOK},
		{"read key inspects address", http.MethodGet, "/api/v1/admin/addresses/10.0.0.1", "", "read-raw-key", http.StatusOK},
		{"read key cannot save settings", http.MethodPut, "/api/v1/admin/settings", `{"enabled":"1"}`, "read-raw-key", http.StatusForbidden},
		{"read key cannot clear logs", http.MethodPost, "/api/v1/admin/logs/clear", "", "read-raw-key", http.StatusForbidden},
		{"admin saves settings", http.MethodPut, "/api/v1/admin/settings", `{"enabled":"1"}`, "admin-raw-key", http.StatusOK},
		{"admin clears logs", http.MethodPost, "/api/v1/admin/logs/clear", "", "admin-raw-key", http.StatusOK},
		{"admin sets timezone", http.MethodPut, "/api/v1/admin/timezone", `{"timezone":"UTC"}`, "admin-raw-key", http.StatusOK},
		{"disabled key rejected", http.MethodGet, "/api/v1/admin/settings", "", "disabled-raw-key", http.StatusUnauthorized},
		{"unknown api path", http.MethodGet, "/api/v1/nothing", "", "", http.StatusNotFound},
		{"no upstream configured", http.MethodGet, "/blog/hello", "", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(router, tt.method, tt.path, tt.body, tt.token)
			assert.Equal(t, tt.expectedStatus, rr.Code)
		})
	}
}

func TestSetupRoutesWithoutAuth(t *testing.T) {
	router := SetupRoutes(NewHandlers(newRouteTestService()), authConfig(false))

	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/api/v1/admin/settings", "", "").Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodPost, "/api/v1/admin/logs/clear", "", "").Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodPut, "/api/v1/admin/timezone", `{"timezone":"UTC"}`, "").Code)
}

func TestSetupRoutesUpstream(t *testing.T) {
	var hits []string
	upstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits = append(hits, r.URL.Path)
		w.WriteHeader(http.StatusAccepted)
	})
	router := SetupRoutes(NewHandlers(newRouteTestService()), authConfig(true), WithUpstream(upstream))

	assert.Equal(t, http.StatusAccepted, serve(router, http.MethodGet, "/", "", "").Code)
	assert.Equal(t, http.StatusAccepted, serve(router, http.MethodPost, "/wp-login.php", "a=b", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(router, http.MethodGet, "/api/v1/unknown", "", "").Code,
		"API paths never reach the upstream")
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/health", "", "").Code)

	assert.Equal(t, []string{"/", "/wp-login.php"}, hits)
}

func TestSetupRoutesRateLimiter(t *testing.T) {
	anonymous := ratelimit.NewMemoryLimiter(60, 2, time.Minute)
	authenticated := ratelimit.NewMemoryLimiter(60, 5, time.Minute)
	t.Cleanup(anonymous.Close)
	t.Cleanup(authenticated.Close)

	router := SetupRoutes(NewHandlers(newRouteTestService()), authConfig(true),
		WithRateLimiter(ratelimit.Middleware(anonymous, authenticated, ratelimit.Options{})))

	// Anonymous callers share the small burst, even when rejected by auth.
	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/api/v1/admin/settings", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/api/v1/admin/settings", "", "").Code)
	rr := serve(router, http.MethodGet, "/api/v1/admin/settings", "", "")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	// Authenticated keys have their own bucket.
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/api/v1/admin/stats", "", "read-raw-key").Code)
	}
	assert.Equal(t, http.StatusTooManyRequests,
		serve(router, http.MethodGet, "/api/v1/admin/stats", "", "read-raw-key").Code)

	// Health checks are never throttled.
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/api/v1/health", "", "").Code)
	}
}

func TestSetupRoutesRecoversPanics(t *testing.T) {
	svc := &MockProtectionService{}
	svc.On("GetTimezone", mock.Anything).Run(func(mock.Arguments) { panic("boom") })
	router := SetupRoutes(NewHandlers(svc), authConfig(false))

	rr := serve(router, http.MethodGet, "/api/v1/admin/timezone", "", "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestSetupRoutesWithOTel(t *testing.T) {
	router := SetupRoutes(NewHandlers(newRouteTestService()), authConfig(false), WithOTelMiddleware("antiddos-test"))
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/api/v1/admin/settings", "", "").Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/health", "", "").Code)
}
