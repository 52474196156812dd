package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"antiddos/internal/api"
	"antiddos/internal/cache"
	"antiddos/internal/config"
	"antiddos/internal/gate"
	"antiddos/internal/logger"
	"antiddos/internal/observability"
	"antiddos/internal/protection"
	"antiddos/internal/ratelimit"
	"antiddos/internal/retention"
	"antiddos/internal/settings"
	"antiddos/internal/storage"
	"antiddos/internal/version"
)

var (
	configFile   = flag.String("config", "", "Path to configuration file")
	writeExample = flag.String("write-example-config", "", "Write an example configuration file to this path and exit")
	printVersion = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	ver := version.GetInfo()
	if *printVersion {
		fmt.Println(ver.String())
		return
	}
	if *writeExample != "" {
		if err := config.SaveExample(*writeExample); err != nil {
			slog.Error("Failed to write example configuration", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := run(ver); err != nil {
		slog.Error("Gate stopped", "error", err)
		os.Exit(1)
	}
}

func run(ver version.Info) error {
	cfg, err := config.Load(*configFile)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log, closer, err := logger.Setup(cfg.Logging, ver)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, ver)
	if err != nil {
		return fmt.Errorf("initialize observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	factory := storage.NewFactory()
	store, err := factory.Create(cfg.Storage)
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	defer store.Close()
	if !factory.ProductionReady(cfg.Storage.Type) {
		slog.Warn("Storage type is meant for development only; use sqlite or postgres in production",
			"storage", cfg.Storage.Type)
	}

	var activeStorage storage.Storage = store
	if cfg.Metrics.Enabled {
		instrumented, err := observability.NewInstrumentedStorage(store)
		if err != nil {
			return fmt.Errorf("instrument storage: %w", err)
		}
		activeStorage = instrumented
	}

	settingsCache, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("initialize cache: %w", err)
	}
	defer settingsCache.Close()

	provider, err := settings.NewProvider(activeStorage, settingsCache, settings.Options{
		ServiceID:        cfg.Gate.ServiceID,
		CoreServiceID:    cfg.Gate.CoreServiceID,
		FallbackTimezone: cfg.Gate.Timezone,
		CacheTTL:         cfg.Cache.TTL,
		Logger:           log,
	})
	if err != nil {
		return fmt.Errorf("initialize settings: %w", err)
	}
	if cfg.Gate.SeedDefaults {
		seeded, err := provider.SeedDefaults(context.Background())
		if err != nil {
			return fmt.Errorf("seed default settings: %w", err)
		}
		if seeded {
			slog.Info("Seeded default protection settings", "service_id", cfg.Gate.ServiceID)
		}
	}

	ledger := gate.NewBlockLedger(activeStorage, provider, log)
	g, err := gate.New(provider, gate.NewRateTracker(activeStorage), ledger, gate.Options{
		StorageTimeout: cfg.Gate.StorageTimeout,
		Logger:         log,
	})
	if err != nil {
		return fmt.Errorf("initialize gate: %w", err)
	}

	if cfg.Gate.Retention.Enabled {
		janitor := retention.NewJanitor(activeStorage, retention.Options{
			Interval:         cfg.Gate.Retention.Interval,
			BlockEventMaxAge: cfg.Gate.Retention.BlockEventMaxAge,
			RateRecordMaxAge: cfg.Gate.Retention.RateRecordMaxAge,
			Logger:           log,
		})
		janitor.Start()
		defer janitor.Stop()
	}

	service := protection.NewService(provider, ledger, g, log)
	handlers := api.NewHandlers(service, api.WithStorage(activeStorage))

	upstream, err := newUpstream(cfg.Server.UpstreamURL, cfg.Gate.TrustProxyHeaders, log)
	if err != nil {
		return err
	}
	gated := gate.Middleware(g, gate.MiddlewareOptions{
		Exemptions: gate.Exemptions{
			PathPrefixes: cfg.Gate.ExemptPathPrefixes,
			IsOperator:   api.OperatorDetector(cfg.Security),
		},
		TrustProxyHeaders: cfg.Gate.TrustProxyHeaders,
	})(upstream)

	routeOpts := []api.RouteOption{api.WithUpstream(gated)}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}
	if cfg.Security.RateLimit.Enabled {
		rl := cfg.Security.RateLimit
		anonLimiter := ratelimit.NewMemoryLimiter(rl.RequestsPerMinute, rl.BurstSize, rl.CleanupInterval)
		authLimiter := ratelimit.NewMemoryLimiter(rl.RequestsPerMinute*2, rl.BurstSize*2, rl.CleanupInterval)
		defer anonLimiter.Close()
		defer authLimiter.Close()

		routeOpts = append(routeOpts, api.WithRateLimiter(ratelimit.Middleware(anonLimiter, authLimiter, ratelimit.Options{
			TrustProxyHeaders: cfg.Gate.TrustProxyHeaders,
			Logger:            log,
		})))
	}

	router := api.SetupRoutes(handlers, cfg, routeOpts...)

	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Starting gate",
			"addr", server.Addr,
			"tls", cfg.Server.TLSEnabled,
			"upstream", cfg.Server.UpstreamURL,
			"storage", cfg.Storage.Type,
			"auth", cfg.Security.EnableAuth)
		if cfg.Server.TLSEnabled {
			serveErr <- server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			serveErr <- server.ListenAndServe()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-quit:
		slog.Info("Shutting down gate", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Gate shutdown complete")
	return nil
}
