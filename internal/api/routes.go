package api

import (
	"net/http"

	"antiddos/internal/models"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

type routeOptions struct {
	otelService string
	rateLimiter func(http.Handler) http.Handler
	upstream    http.Handler
}

// RouteOption configures optional route behavior.
type RouteOption func(*routeOptions)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(o *routeOptions) {
		o.otelService = serviceName
	}
}

// WithRateLimiter throttles the admin endpoints.
func WithRateLimiter(middleware func(http.Handler) http.Handler) RouteOption {
	return func(o *routeOptions) {
		o.rateLimiter = middleware
	}
}

// WithUpstream serves every path the API does not own with h, typically the
// gate in front of a reverse proxy.
func WithUpstream(h http.Handler) RouteOption {
	return func(o *routeOptions) {
		o.upstream = h
	}
}

// SetupRoutes configures the HTTP routes for the API
func SetupRoutes(handlers *Handlers, config *models.Config, opts ...RouteOption) *mux.Router {
	var o routeOptions
	for _, opt := range opts {
		opt(&o)
	}

	router := mux.NewRouter()
	router.Use(recoveryMiddleware)
	if o.otelService != "" {
		router.Use(otelmux.Middleware(o.otelService,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" && r.URL.Path != "/api/v1/health"
			}),
		))
	}

	router.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(loggingMiddleware)
	api.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)

	admin := api.PathPrefix("/admin").Subrouter()
	keys := NewKeyring(config.Security.APIKeys)
	admin.Use(OptionalAuth(keys))
	if o.rateLimiter != nil {
		admin.Use(o.rateLimiter)
	}

	readAPI := admin.PathPrefix("").Subrouter()
	writeAPI := admin.PathPrefix("").Subrouter()
	if config.Security.EnableAuth {
		readAPI.Use(authMiddleware(keys), RequirePermission(PermissionRead))
		writeAPI.Use(authMiddleware(keys), RequirePermission(PermissionAdmin))
	}

	readAPI.HandleFunc("/settings", handlers.GetSettings).Methods(http.MethodGet)
	readAPI.HandleFunc("/stats", handlers.GetStats).Methods(http.MethodGet)
	readAPI.HandleFunc("/timezone", handlers.GetTimezone).Methods(http.MethodGet)
	readAPI.HandleFunc("/addresses/{address}", handlers.InspectAddress).Methods(http.MethodGet)

	writeAPI.HandleFunc("/settings", handlers.UpdateSettings).Methods(http.MethodPut)
	writeAPI.HandleFunc("/logs/clear", handlers.ClearLogs).Methods(http.MethodPost)
	writeAPI.HandleFunc("/timezone", handlers.SetTimezone).Methods(http.MethodPut)

	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)

	// Unknown API paths never fall through to the upstream.
	api.PathPrefix("").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, models.NewErrorResponse("Not found", models.ErrorCodeNotFound))
	})

	if o.upstream != nil {
		router.PathPrefix("/").Handler(o.upstream)
	}

	return router
}

// methodNotAllowedHandler handles requests with invalid HTTP methods
func methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed,
		models.NewErrorResponse("Method not allowed", models.ErrorCodeBadRequest))
}
