package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"antiddos/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestAPIKeysNeverSerialized(t *testing.T) {
	data, err := json.Marshal(testKeys()[0])
	require.NoError(t, err)
	assert.NotContains(t, string(data), "admin-raw-key")
}

func TestInternalErrorsDoNotLeak(t *testing.T) {
	svc := &MockProtectionService{}
	svc.On("GetStats", mock.Anything, "", "").Return(nil,
		errors.New(`pq: relation "anti_ddos_logs" does not exist at postgres://admin:hunter2@db:5432`))
	router := SetupRoutes(NewHandlers(svc), authConfig(false))

	rr := serve(router, http.MethodGet, "/api/v1/admin/stats", "", "")

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "hunter2")
	assert.NotContains(t, rr.Body.String(), "anti_ddos_logs")
}

func TestOversizedSettingsBodyRejected(t *testing.T) {
	svc := &MockProtectionService{}
	router := SetupRoutes(NewHandlers(svc), authConfig(false))

	body := `{"whitelist_ips":"` + strings.Repeat("1", maxBodyBytes+1) + `"}`
	rr := serve(router, http.MethodPut, "/api/v1/admin/settings", body, "")

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	svc.AssertNotCalled(t, "SaveSettings", mock.Anything, mock.Anything)
}

func TestAuthorizationHeaderVariants(t *testing.T) {
	router := SetupRoutes(NewHandlers(newRouteTestService()), authConfig(true))

	headers := []string{
		"bearer admin-raw-key",
		"Bearer",
		"Bearer ",
		"Token admin-raw-key",
		"Bearer admin-raw-key-suffix",
		"Bearer ADMIN-RAW-KEY",
	}
	for _, h := range headers {
		t.Run(h, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/logs/clear", nil)
			req.Header.Set("Authorization", h)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			assert.Equal(t, http.StatusUnauthorized, rr.Code)
		})
	}
}

func TestAdminCookieDoesNotAuthenticateAPI(t *testing.T) {
	router := SetupRoutes(NewHandlers(newRouteTestService()), authConfig(true))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/settings", nil)
	req.AddCookie(&http.Cookie{Name: AdminSessionCookie, Value: "admin-raw-key"})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, models.ErrorCodeUnauthorized, resp.Code)
}
