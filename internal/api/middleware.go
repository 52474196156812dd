package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"antiddos/internal/models"

	"github.com/gorilla/mux"
)

// Permission represents the different permission levels
type Permission string

const (
	PermissionRead  Permission = models.PermissionRead
	PermissionAdmin Permission = models.PermissionAdmin
)

// Keyring holds the configured API keys. Lookups compare key digests in
// constant time and walk every key regardless of where a match is found.
type Keyring struct {
	keys []keyringEntry
}

type keyringEntry struct {
	digest [sha256.Size]byte
	key    models.APIKey
}

func NewKeyring(keys []models.APIKey) *Keyring {
	k := &Keyring{keys: make([]keyringEntry, 0, len(keys))}
	for _, ak := range keys {
		if ak.Key == "" {
			continue
		}
		k.keys = append(k.keys, keyringEntry{digest: sha256.Sum256([]byte(ak.Key)), key: ak})
	}
	return k
}

// Lookup returns the enabled key matching token.
func (k *Keyring) Lookup(token string) (*models.APIKey, bool) {
	if k == nil || token == "" {
		return nil, false
	}
	digest := sha256.Sum256([]byte(token))

	var found *models.APIKey
	for i := range k.keys {
		if subtle.ConstantTimeCompare(digest[:], k.keys[i].digest[:]) == 1 {
			found = &k.keys[i].key
		}
	}
	if found == nil || !found.Enabled {
		return nil, false
	}
	key := *found
	return &key, true
}

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}

// RequirePermission creates middleware that enforces a specific permission
func RequirePermission(required Permission) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, ok := models.APIKeyFromContext(r.Context())
			if !ok {
				writeJSON(w, http.StatusUnauthorized,
					models.NewErrorResponse("Authorization required", models.ErrorCodeUnauthorized))
				return
			}
			if !key.HasPermission(string(required)) {
				slog.Warn("Admin API permission denied",
					"api_key", key.Name, "required", string(required), "path", r.URL.Path)
				writeJSON(w, http.StatusForbidden,
					models.NewErrorResponse("Insufficient permissions for this operation", models.ErrorCodeForbidden))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// authMiddleware rejects requests without a valid Bearer API key.
func authMiddleware(keys *Keyring) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := models.APIKeyFromContext(r.Context()); ok {
				next.ServeHTTP(w, r)
				return
			}

			if r.Header.Get("Authorization") == "" {
				writeJSON(w, http.StatusUnauthorized,
					models.NewErrorResponse("Authorization required", models.ErrorCodeUnauthorized))
				return
			}
			token, ok := bearerToken(r)
			if !ok {
				writeJSON(w, http.StatusUnauthorized,
					models.NewErrorResponse("Invalid authorization format", models.ErrorCodeUnauthorized))
				return
			}
			key, ok := keys.Lookup(token)
			if !ok {
				writeJSON(w, http.StatusUnauthorized,
					models.NewErrorResponse("Invalid API key", models.ErrorCodeUnauthorized))
				return
			}
			next.ServeHTTP(w, r.WithContext(models.ContextWithAPIKey(r.Context(), key)))
		})
	}
}

// OptionalAuth attaches the API key to the request context when a valid one is
// presented and lets every request through.
func OptionalAuth(keys *Keyring) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token, ok := bearerToken(r); ok {
				if key, ok := keys.Lookup(token); ok {
					r = r.WithContext(models.ContextWithAPIKey(r.Context(), key))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr)
	})
}

// recoveryMiddleware handles panics
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				slog.Error("Panic recovered", "error", err, "path", r.URL.Path)
				writeJSON(w, http.StatusInternalServerError,
					models.NewErrorResponse("Internal server error", models.ErrorCodeInternalError))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
