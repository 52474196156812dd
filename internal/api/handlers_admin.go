package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"antiddos/internal/models"

	"github.com/gorilla/mux"
)

const maxBodyBytes = 1 << 20

// GetSettings handles GET /api/v1/admin/settings
func (h *Handlers) GetSettings(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.GetSettings(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
}

// UpdateSettings handles PUT /api/v1/admin/settings.
// The body is a JSON object; unknown keys are ignored.
func (h *Handlers) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var values map[string]any
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(&values); err != nil || values == nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Request body must be a JSON object")
		return
	}

	if err := h.service.SaveSettings(r.Context(), values); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	slog.Info("Settings changed via admin API", "api_key", getAPIKeyName(r))
	h.writeJSONResponse(w, http.StatusOK, models.SuccessResponse{Success: true})
}

// GetStats handles GET /api/v1/admin/stats?date_from=YYYY-MM-DD&date_to=YYYY-MM-DD
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp, err := h.service.GetStats(r.Context(), q.Get("date_from"), q.Get("date_to"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
}

// ClearLogs handles POST /api/v1/admin/logs/clear
func (h *Handlers) ClearLogs(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ClearLogs(r.Context()); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	slog.Warn("Block logs cleared via admin API", "api_key", getAPIKeyName(r))
	h.writeJSONResponse(w, http.StatusOK, models.SuccessResponse{
		Success: true,
		Message: "Block logs and rate records cleared",
	})
}

// GetTimezone handles GET /api/v1/admin/timezone
func (h *Handlers) GetTimezone(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.GetTimezone(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
}

// SetTimezone handles PUT /api/v1/admin/timezone with {"timezone": "<IANA name>"}
func (h *Handlers) SetTimezone(w http.ResponseWriter, r *http.Request) {
	var req models.TimezoneResponse
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}

	if err := h.service.SetTimezone(r.Context(), req.Timezone); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, models.SuccessResponse{Success: true})
}

// InspectAddress handles GET /api/v1/admin/addresses/{address}
func (h *Handlers) InspectAddress(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.InspectAddress(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
}
