package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"antiddos/internal/models"
	"antiddos/internal/protection"
	"antiddos/internal/version"
)

// Pinger reports whether a backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers contains the admin API handlers.
type Handlers struct {
	service protection.ServiceInterface
	storage Pinger
	version string
}

// HandlersOption configures optional Handlers fields.
type HandlersOption func(*Handlers)

// WithStorage enables the storage probe in the health check.
func WithStorage(s Pinger) HandlersOption {
	return func(h *Handlers) {
		h.storage = s
	}
}

func NewHandlers(service protection.ServiceInterface, opts ...HandlersOption) *Handlers {
	h := &Handlers{
		service: service,
		version: version.GetInfo().Version,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HealthCheck handles health check requests
// GET /health, GET /api/v1/health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = h.version
	status := http.StatusOK

	if h.storage != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.storage.Ping(ctx); err != nil {
			slog.Error("Storage health check failed", "error", err)
			response.Status = models.StatusUnhealthy
			response.AddComponent("storage", models.StatusUnhealthy, "Storage is unreachable")
			status = http.StatusServiceUnavailable
		} else {
			response.AddComponent("storage", models.StatusHealthy, "Storage is operational")
		}
	}
	response.AddComponent("api", models.StatusHealthy, "API is operational")

	h.writeJSONResponse(w, status, response)
}

func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	writeJSON(w, statusCode, data)
}

func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	writeJSON(w, statusCode, models.NewErrorResponse(message, errorCode))
}

// writeServiceError maps service errors onto HTTP responses. Anything that is
// not a ServiceError is reported as an internal error without its details.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var serr *protection.ServiceError
	if !errors.As(err, &serr) {
		slog.Error("Unhandled service error", "path", r.URL.Path, "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Internal server error")
		return
	}

	if serr.StatusCode >= http.StatusInternalServerError {
		slog.Error("Admin operation failed", "path", r.URL.Path, "code", serr.Code, "error", err)
	}

	resp := models.NewErrorResponse(serr.Message, serr.Code)
	if len(serr.Fields) > 0 {
		resp.Details = serr.Fields
	}
	writeJSON(w, serr.StatusCode, resp)
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written; nothing more to send.
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

// getAPIKeyName safely extracts the API key name for logging
func getAPIKeyName(r *http.Request) string {
	key, ok := models.APIKeyFromContext(r.Context())
	if !ok {
		return "anonymous"
	}
	if key.Name != "" {
		return key.Name
	}
	return "unnamed-key"
}
