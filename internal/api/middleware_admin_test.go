package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"antiddos/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestOperatorDetector(t *testing.T) {
	enabled := models.SecurityConfig{EnableAuth: true, APIKeys: testKeys()}

	tests := []struct {
		name   string
		cfg    models.SecurityConfig
		bearer string
		cookie string
		want   bool
	}{
		{"admin bearer", enabled, "admin-raw-key", "", true},
		{"admin cookie", enabled, "", "admin-raw-key", true},
		{"read key is not an operator", enabled, "read-raw-key", "read-raw-key", false},
		{"disabled admin key", enabled, "disabled-raw-key", "", false},
		{"unknown cookie", enabled, "", "forged", false},
		{"invalid bearer falls back to cookie", enabled, "forged", "admin-raw-key", true},
		{"anonymous", enabled, "", "", false},
		{"auth disabled ignores credentials", models.SecurityConfig{APIKeys: testKeys()}, "admin-raw-key", "admin-raw-key", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isOperator := OperatorDetector(tt.cfg)

			req := httptest.NewRequest(http.MethodGet, "/wp-admin/", nil)
			if tt.bearer != "" {
				req.Header.Set("Authorization", "Bearer "+tt.bearer)
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: AdminSessionCookie, Value: tt.cookie})
			}
			assert.Equal(t, tt.want, isOperator(req))
		})
	}
}
