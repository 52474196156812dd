// Package models - API response types and error handling.
// This file defines the outgoing admin API response structures.
//
// Response conventions:
// - Consistent JSON structure across all endpoints
// - Optional fields use omitempty
// - Errors carry a machine-readable code next to the human-readable message
// - RFC3339 timestamps
package models

import (
	"time"
)

// ErrorResponse provides structured error information.
type ErrorResponse struct {
	Error     string            `json:"error"`                // Error type (always "error")
	Message   string            `json:"message"`              // Human-readable error description
	Code      string            `json:"code,omitempty"`       // Machine-readable error code
	Details   map[string]string `json:"details,omitempty"`    // Field-specific error details
	Timestamp time.Time         `json:"timestamp"`            // Error occurrence time
	RequestID string            `json:"request_id,omitempty"` // Unique request identifier
}

// SuccessResponse is returned by mutating admin endpoints.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// SettingsResponse exposes the stored settings in their operator-facing form:
// scalar values as text and access lists as arrays.
type SettingsResponse struct {
	Enabled              string   `json:"enabled"`
	MaxRequestsPerMinute string   `json:"max_requests_per_minute"`
	MaxRequestsPerHour   string   `json:"max_requests_per_hour"`
	BlockDurationMinutes string   `json:"block_duration_minutes"`
	AllowList            []string `json:"whitelist_ips"`
	DenyList             []string `json:"blacklist_ips"`
}

// StatsResponse wraps BlockStats with the range and timezone it was computed for.
type StatsResponse struct {
	BlockStats
	DateFrom string `json:"date_from,omitempty"`
	DateTo   string `json:"date_to,omitempty"`
	Timezone string `json:"timezone"`
}

type TimezoneResponse struct {
	Timezone string `json:"timezone"`
}

// AddressStatusResponse describes how the gate currently sees one address.
type AddressStatusResponse struct {
	Address        string      `json:"address"`
	Classification string      `json:"classification"`
	Blocked        bool        `json:"blocked"`
	RateRecord     *RateRecord `json:"rate_record,omitempty"`
}

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

type ComponentHealth struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ValidationErrorResponse struct {
	Error  string            `json:"error"`
	Errors map[string]string `json:"errors"`
}

// Health Status Constants
const (
	StatusHealthy   = "healthy"   // All systems operational
	StatusUnhealthy = "unhealthy" // Major system issues
	StatusDegraded  = "degraded"  // Partial functionality
)

// Standard HTTP Error Codes
const (
	ErrorCodeNotFound           = "NOT_FOUND"           // 404: Resource doesn't exist
	ErrorCodeBadRequest         = "BAD_REQUEST"         // 400: Invalid request format
	ErrorCodeValidation         = "VALIDATION_ERROR"    // 422: Input validation failed
	ErrorCodeInternalError      = "INTERNAL_ERROR"      // 500: Server-side error
	ErrorCodeUnauthorized       = "UNAUTHORIZED"        // 401: Authentication required
	ErrorCodeForbidden          = "FORBIDDEN"           // 403: Permission denied
	ErrorCodeRateLimited        = "RATE_LIMITED"        // 429: Admin API throttled
	ErrorCodeServiceUnavailable = "SERVICE_UNAVAILABLE" // 503: Service temporarily down
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

func NewValidationErrorResponse(errors map[string]string) *ValidationErrorResponse {
	return &ValidationErrorResponse{
		Error:  "validation_error",
		Errors: errors,
	}
}

// NewSettingsResponse renders parsed settings in the operator-facing form.
func NewSettingsResponse(s Settings) *SettingsResponse {
	raw := s.ToMap()
	return &SettingsResponse{
		Enabled:              raw[SettingEnabled],
		MaxRequestsPerMinute: raw[SettingMaxRequestsPerMinute],
		MaxRequestsPerHour:   raw[SettingMaxRequestsPerHour],
		BlockDurationMinutes: raw[SettingBlockDuration],
		AllowList:            s.AllowList,
		DenyList:             s.DenyList,
	}
}

func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
	}
}

func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
}
