package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/wellbeing-platform/internal/detection"
	"github.com/wolfman30/wellbeing-platform/internal/escalation"
	"github.com/wolfman30/wellbeing-platform/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/wellbeing-platform/internal/http/middleware"
	"github.com/wolfman30/wellbeing-platform/internal/observability/metrics"
	"github.com/wolfman30/wellbeing-platform/internal/resources"
	"github.com/wolfman30/wellbeing-platform/pkg/logging"
)

const testSecret = "router-secret"

func newTestRouter(t *testing.T, mutate func(*Config)) http.Handler {
	t.Helper()
	logger := logging.Discard()
	wf := escalation.NewWorkflow(escalation.NewInMemoryRepository(), logger)
	composer := resources.NewComposer(nil)
	reg := prometheus.NewRegistry()

	cfg := &Config{
		Logger:            logger,
		Assessments:       handlers.NewAssessmentHandler(detection.NewDetector(nil, logger), composer, logger).WithEvents(wf, wf.IsActionable),
		Resources:         handlers.NewResourcesHandler(composer.Directory()),
		AdminCrisisEvents: handlers.NewAdminCrisisEventsHandler(wf, logger),
		CrisisStream:      handlers.NewCrisisStream(logger),
		AdminAuthSecret:   testSecret,
		MetricsHandler:    promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		HTTPObserver:      metrics.NewCrisisMetrics(reg),
	}
	if mutate != nil {
		mutate(cfg)
	}
	return New(cfg)
}

func adminToken(t *testing.T) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "reviewer-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestRouterHealthReportsFailingDependency(t *testing.T) {
	router := newTestRouter(t, func(c *Config) {
		c.HealthChecks = map[string]HealthCheck{
			"postgres": func(context.Context) error { return nil },
			"redis":    func(context.Context) error { return errors.New("connection refused") },
		}
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	var resp healthResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "ok", resp.Checks["postgres"])
	assert.Equal(t, "connection refused", resp.Checks["redis"])
}

func TestRouterAssessmentThenReview(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/assessments",
		strings.NewReader(`{"user_id":"user-1","detection_id":"d-1","message":"I want to kill myself"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/admin/crisis-events?status=PENDING", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin/crisis-events?status=PENDING", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	var list handlers.CrisisEventsListResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&list))
	require.Equal(t, 1, list.Count)

	eventID := list.Events[0].ID
	req = httptest.NewRequest(http.MethodPost, "/admin/crisis-events/"+eventID+"/transitions",
		strings.NewReader(`{"to_status":"ESCALATED"}`))
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("If-Match", `"1"`)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `wellbeing_http_requests_total{method="POST",route="/v1/assessments",status="2xx"} 1`)
}

func TestRouterRejectsNonJSONAssessment(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/assessments", strings.NewReader("message=hi"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rr.Code)
}

func TestRouterAssessmentRateLimit(t *testing.T) {
	limiter := httpmiddleware.NewRateLimiter(0.001, 1)
	t.Cleanup(limiter.Stop)
	router := newTestRouter(t, func(c *Config) { c.AssessmentLimiter = limiter })

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/assessments", strings.NewReader(`{"message":"hello"}`))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "192.0.2.1:5555"
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRouterAdminRoutesAbsentWithoutSecret(t *testing.T) {
	router := newTestRouter(t, func(c *Config) { c.AdminAuthSecret = "" })

	req := httptest.NewRequest(http.MethodGet, "/admin/crisis-events", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouterResources(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/resources?location=US", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var res resources.Resources
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
	assert.Equal(t, "Emergency services: call 911", res.Hotlines[0])
}

func TestRouterAdminUserRoutes(t *testing.T) {
	router := newTestRouter(t, func(c *Config) {
		c.AdminUsers = handlers.NewAdminUsersHandler(nil, nil, logging.Discard())
	})

	req := httptest.NewRequest(http.MethodDelete, "/admin/users/user-1/history", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req = httptest.NewRequest(http.MethodDelete, "/admin/users/user-1/history", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin/audit-events", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
