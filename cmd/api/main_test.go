package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/wellbeing-platform/internal/app/bootstrap"
	appconfig "github.com/wolfman30/wellbeing-platform/internal/config"
	"github.com/wolfman30/wellbeing-platform/internal/http/handlers"
	"github.com/wolfman30/wellbeing-platform/pkg/logging"
)

func memoryConfig() *appconfig.Config {
	return &appconfig.Config{
		Env:                     "development",
		EventStore:              bootstrap.EventStoreMemory,
		ActionThreshold:         "LOW",
		PersistRetryMaxAttempts: 1,
		PersistRetryBaseDelay:   time.Millisecond,
		AssessmentRateLimit:     5,
		AssessmentRateBurst:     20,
	}
}

func newTestServer(t *testing.T, cfg *appconfig.Config) http.Handler {
	t.Helper()
	logger := logging.Discard()

	deps, closeDeps, err := openDependencies(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(closeDeps)

	registry := newRegistry()
	deps.Registry = registry
	svc, err := bootstrap.BuildCrisisServices(context.Background(), cfg, deps, logger)
	require.NoError(t, err)

	handler, limiter := newHandler(cfg, svc, deps, registry, logger)
	if limiter != nil {
		t.Cleanup(limiter.Stop)
	}
	return handler
}

func TestOpenDependenciesWithNothingConfigured(t *testing.T) {
	deps, closeDeps, err := openDependencies(context.Background(), memoryConfig(), logging.Discard())
	require.NoError(t, err)
	defer closeDeps()

	assert.Nil(t, deps.Pool)
	assert.Nil(t, deps.SQL)
	assert.Nil(t, deps.Redis)
	assert.Nil(t, deps.AWS)
	assert.Empty(t, healthChecks(deps))
}

func TestServerAssessesAndOpensEvent(t *testing.T) {
	handler := newTestServer(t, memoryConfig())

	body := `{"schema":"crisis.v1","user_id":"user-1","detection_id":"det-1","message":"I want to kill myself"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/assessments", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp handlers.AssessmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Detected)
	assert.Equal(t, "created", resp.Escalation.Outcome)
	assert.NotEmpty(t, resp.Response)

	metrics := httptest.NewRecorder()
	handler.ServeHTTP(metrics, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, metrics.Code)
	assert.Contains(t, metrics.Body.String(), "wellbeing_crisis_assessments_total")
	assert.Contains(t, metrics.Body.String(), "go_goroutines")
}

func TestServerHealthAndResources(t *testing.T) {
	handler := newTestServer(t, memoryConfig())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/resources?location=US", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "988")
}

func TestServerHidesAdminRoutesWithoutSecret(t *testing.T) {
	handler := newTestServer(t, memoryConfig())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/crisis-events", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerRequiresAdminToken(t *testing.T) {
	cfg := memoryConfig()
	cfg.AdminJWTSecret = "secret"
	handler := newTestServer(t, cfg)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/crisis-events", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
