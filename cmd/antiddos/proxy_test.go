package main

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUpstreamWithoutURL(t *testing.T) {
	h, err := newUpstream("", false, slog.Default())
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestNewUpstreamProxies(t *testing.T) {
	var gotHost, gotXFF, gotPath string
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost, gotXFF, gotPath = r.Host, r.Header.Get("X-Forwarded-For"), r.URL.Path
		io.WriteString(w, "origin")
	}))
	defer origin.Close()

	tests := []struct {
		name    string
		trust   bool
		wantXFF string
	}{
		{"client chain dropped", false, "192.0.2.10"},
		{"client chain kept", true, "198.51.100.1, 192.0.2.10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := newUpstream(origin.URL, tt.trust, slog.Default())
			require.NoError(t, err)

			req := httptest.NewRequest(http.MethodGet, "http://shop.example.com/cart", nil)
			req.RemoteAddr = "192.0.2.10:40000"
			req.Header.Set("X-Forwarded-For", "198.51.100.1")
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			assert.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, "origin", rr.Body.String())
			assert.Equal(t, "shop.example.com", gotHost)
			assert.Equal(t, "/cart", gotPath)
			assert.Equal(t, tt.wantXFF, gotXFF)
		})
	}
}

func TestNewUpstreamUnreachable(t *testing.T) {
	origin := httptest.NewServer(http.NotFoundHandler())
	url := origin.URL
	origin.Close()

	h, err := newUpstream(url, false, slog.Default())
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestNewUpstreamInvalidURL(t *testing.T) {
	_, err := newUpstream("http://[::1", false, slog.Default())
	assert.Error(t, err)
}
