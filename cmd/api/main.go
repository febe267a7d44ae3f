package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/wellbeing-platform/cmd/mainconfig"
	"github.com/wolfman30/wellbeing-platform/internal/api/router"
	"github.com/wolfman30/wellbeing-platform/internal/app/bootstrap"
	appconfig "github.com/wolfman30/wellbeing-platform/internal/config"
	"github.com/wolfman30/wellbeing-platform/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/wellbeing-platform/internal/http/middleware"
	"github.com/wolfman30/wellbeing-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting wellbeing-platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"event_store", cfg.EventStore,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, closeDeps, err := openDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open dependencies", "error", err)
		os.Exit(1)
	}
	defer closeDeps()

	registry := newRegistry()
	deps.Registry = registry

	services, err := bootstrap.BuildCrisisServices(ctx, cfg, deps, logger)
	if err != nil {
		logger.Error("failed to build crisis services", "error", err)
		os.Exit(1)
	}

	handler, limiter := newHandler(cfg, services, deps, registry, logger)
	if limiter != nil {
		defer limiter.Stop()
	}

	if cfg.OutboxInline {
		if deliverer := services.OutboxDeliverer(cfg, deps.AWS, logger); deliverer != nil {
			logger.Info("outbox deliverer running inline", "interval", cfg.OutboxPollInterval)
			go deliverer.Start(ctx)
		}
	}

	if services.SLA != nil {
		logger.Info("sla tracker running", "interval", cfg.SLACheckInterval)
		go services.SLA.Run(ctx)
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// openDependencies connects to postgres, redis and AWS as configured. The
// returned func closes whatever was opened.
func openDependencies(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (bootstrap.Dependencies, func(), error) {
	var deps bootstrap.Dependencies
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	pool, db, err := bootstrap.ConnectPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return deps, closeAll, err
	}
	if pool != nil {
		deps.Pool, deps.SQL = pool, db
		closers = append(closers, func() { _ = db.Close() }, pool.Close)
		logger.Info("connected to postgres")
	}

	if client := bootstrap.BuildRedisClient(ctx, cfg, logger, true); client != nil {
		deps.Redis = client
		closers = append(closers, func() { _ = client.Close() })
		logger.Info("connected to redis", "addr", cfg.RedisAddr)
	}

	if mainconfig.AWSEnabled(cfg) {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			closeAll()
			return deps, func() {}, fmt.Errorf("load AWS config: %w", err)
		}
		deps.AWS = &awsCfg
	}
	return deps, closeAll, nil
}

func newRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

// newHandler assembles the HTTP surface over the crisis services. The
// limiter is nil when ASSESSMENT_RATE_LIMIT is not positive.
func newHandler(cfg *appconfig.Config, svc *bootstrap.CrisisServices, deps bootstrap.Dependencies, registry *prometheus.Registry, logger *logging.Logger) (http.Handler, *httpmiddleware.RateLimiter) {
	var limiter *httpmiddleware.RateLimiter
	if cfg.AssessmentRateLimit > 0 {
		limiter = httpmiddleware.NewRateLimiter(cfg.AssessmentRateLimit, cfg.AssessmentRateBurst)
	}

	return router.New(&router.Config{
		Logger:             logger,
		Assessments:        svc.AssessmentHandler(logger.WithComponent("assessments")),
		Resources:          handlers.NewResourcesHandler(svc.Composer.Directory()),
		AdminCrisisEvents:  handlers.NewAdminCrisisEventsHandler(svc.Workflow, logger.WithComponent("admin")),
		AdminUsers:         svc.AdminUsersHandler(logger.WithComponent("admin")),
		CrisisStream:       svc.Stream,
		AdminAuthSecret:    cfg.AdminJWTSecret,
		MetricsHandler:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		HTTPObserver:       svc.Metrics,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		AssessmentLimiter:  limiter,
		HealthChecks:       healthChecks(deps),
	}), limiter
}

func healthChecks(deps bootstrap.Dependencies) map[string]router.HealthCheck {
	checks := map[string]router.HealthCheck{}
	if deps.Pool != nil {
		checks["postgres"] = func(ctx context.Context) error { return deps.Pool.Ping(ctx) }
	}
	if deps.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return deps.Redis.Ping(ctx).Err() }
	}
	return checks
}

