package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"antiddos/internal/models"
	"antiddos/internal/protection"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(context.Context) error { return m.err }

// MockProtectionService implements protection.ServiceInterface for testing
type MockProtectionService struct {
	mock.Mock
}

var _ protection.ServiceInterface = (*MockProtectionService)(nil)

func (m *MockProtectionService) GetSettings(ctx context.Context) (*models.SettingsResponse, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SettingsResponse), args.Error(1)
}

func (m *MockProtectionService) SaveSettings(ctx context.Context, values map[string]any) error {
	return m.Called(ctx, values).Error(0)
}

func (m *MockProtectionService) GetStats(ctx context.Context, dateFrom, dateTo string) (*models.StatsResponse, error) {
	args := m.Called(ctx, dateFrom, dateTo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.StatsResponse), args.Error(1)
}

func (m *MockProtectionService) ClearLogs(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockProtectionService) GetTimezone(ctx context.Context) (*models.TimezoneResponse, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TimezoneResponse), args.Error(1)
}

func (m *MockProtectionService) SetTimezone(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

func (m *MockProtectionService) InspectAddress(ctx context.Context, address string) (*models.AddressStatusResponse, error) {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AddressStatusResponse), args.Error(1)
}

func TestNewHandlers(t *testing.T) {
	svc := &MockProtectionService{}
	h := NewHandlers(svc)

	assert.Equal(t, svc, h.service)
	assert.Nil(t, h.storage)
	assert.NotEmpty(t, h.version)

	p := &mockPinger{}
	assert.Equal(t, p, NewHandlers(svc, WithStorage(p)).storage)
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name           string
		pinger         Pinger
		expectedStatus int
		expectedHealth string
	}{
		{"no storage probe", nil, http.StatusOK, models.StatusHealthy},
		{"storage reachable", &mockPinger{}, http.StatusOK, models.StatusHealthy},
		{"storage down", &mockPinger{err: errors.New("connection refused")}, http.StatusServiceUnavailable, models.StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []HandlersOption
			if tt.pinger != nil {
				opts = append(opts, WithStorage(tt.pinger))
			}
			h := NewHandlers(&MockProtectionService{}, opts...)

			rr := httptest.NewRecorder()
			h.HealthCheck(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

			var resp models.HealthCheckResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, tt.expectedHealth, resp.Status)
			assert.Contains(t, resp.Components, "api")
			if tt.pinger != nil {
				assert.Equal(t, tt.expectedHealth, resp.Components["storage"].Status)
			}
		})
	}
}

func TestWriteServiceError(t *testing.T) {
	h := NewHandlers(&MockProtectionService{})
	r := httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats", nil)

	t.Run("service error with fields", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.writeServiceError(rr, r, protection.NewValidationError("invalid settings",
			map[string]string{"max_requests_per_hour": "must be a positive integer"}, nil))

		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
		var resp models.ErrorResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, models.ErrorCodeValidation, resp.Code)
		assert.Equal(t, "invalid settings", resp.Message)
		assert.Equal(t, "must be a positive integer", resp.Details["max_requests_per_hour"])
	})

	t.Run("plain error is hidden", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.writeServiceError(rr, r, errors.New("dial tcp 10.0.0.5:5432: connection refused"))

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.NotContains(t, rr.Body.String(), "10.0.0.5")
	})
}

func TestGetAPIKeyName(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "anonymous", getAPIKeyName(r))

	r = r.WithContext(models.ContextWithAPIKey(r.Context(), &models.APIKey{}))
	assert.Equal(t, "unnamed-key", getAPIKeyName(r))

	r = r.WithContext(models.ContextWithAPIKey(r.Context(), &models.APIKey{Name: "ops"}))
	assert.Equal(t, "ops", getAPIKeyName(r))
}
