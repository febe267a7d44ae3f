package router

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/wellbeing-platform/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/wellbeing-platform/internal/http/middleware"
	"github.com/wolfman30/wellbeing-platform/pkg/logging"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Assessments        *handlers.AssessmentHandler
	Resources          *handlers.ResourcesHandler
	AdminCrisisEvents  *handlers.AdminCrisisEventsHandler
	AdminUsers         *handlers.AdminUsersHandler
	CrisisStream       *handlers.CrisisStream
	AdminAuthSecret    string
	MetricsHandler     http.Handler
	HTTPObserver       httpmiddleware.HTTPObserver
	CORSAllowedOrigins []string

	// Assessment limiter; nil disables limiting.
	AssessmentLimiter *httpmiddleware.RateLimiter

	// Dependency probes reported by /health.
	HealthChecks map[string]HealthCheck
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger, cfg.HTTPObserver))
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}

	r.Get("/health", healthHandler(cfg.HealthChecks))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/v1", func(v1 chi.Router) {
		if cfg.Assessments != nil {
			assess := v1.With(middleware.AllowContentType("application/json"))
			if cfg.AssessmentLimiter != nil {
				assess = assess.With(httpmiddleware.RateLimit(cfg.AssessmentLimiter, nil))
			}
			assess.Post("/assessments", cfg.Assessments.Assess)
		}
		if cfg.Resources != nil {
			v1.Get("/resources", cfg.Resources.List)
		}
	})

	// Admin routes are only mounted when a signing secret is configured.
	if cfg.AdminAuthSecret != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			if cfg.CrisisStream != nil {
				admin.Get("/crisis-events/stream", cfg.CrisisStream.HandleWebSocket)
			}
			if cfg.AdminCrisisEvents != nil {
				admin.Get("/crisis-events", cfg.AdminCrisisEvents.ListEvents)
				admin.Get("/crisis-events/{eventID}", cfg.AdminCrisisEvents.GetEvent)
				admin.With(middleware.AllowContentType("application/json")).
					Post("/crisis-events/{eventID}/transitions", cfg.AdminCrisisEvents.Transition)
			}
			if cfg.AdminUsers != nil {
				admin.Delete("/users/{userID}/history", cfg.AdminUsers.EraseHistory)
				admin.Get("/audit-events", cfg.AdminUsers.ListAuditEvents)
			}
		})
	}

	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// healthHandler reports "ok" or "degraded" (503) with per-dependency results.
func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		status := http.StatusOK
		if len(names) > 0 {
			resp.Checks = make(map[string]string, len(names))
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			for _, name := range names {
				if err := checks[name](ctx); err != nil {
					resp.Checks[name] = err.Error()
					resp.Status = "degraded"
					status = http.StatusServiceUnavailable
					continue
				}
				resp.Checks[name] = "ok"
			}
		}
		writeJSON(w, status, resp)
	}
}
