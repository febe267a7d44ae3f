package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/wellbeing-platform/internal/config"
	"github.com/wolfman30/wellbeing-platform/internal/detection"
	"github.com/wolfman30/wellbeing-platform/internal/notify"
	"github.com/wolfman30/wellbeing-platform/pkg/logging"
)

func testConfig() *appconfig.Config {
	return &appconfig.Config{
		Env:                     "development",
		EventStore:              EventStoreMemory,
		ActionThreshold:         "LOW",
		HistoryLookupTimeout:    100 * time.Millisecond,
		PersistRetryMaxAttempts: 2,
		PersistRetryBaseDelay:   time.Millisecond,
		OutboxPollInterval:      time.Second,
		SLACheckInterval:        time.Minute,
	}
}

func TestBuildCrisisServicesInMemory(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.RedisAddr = mr.Addr()
	logger := logging.Discard()

	client := BuildRedisClient(context.Background(), cfg, logger, true)
	require.NotNil(t, client)
	t.Cleanup(func() { _ = client.Close() })

	svc, err := BuildCrisisServices(context.Background(), cfg, Dependencies{
		Redis:    client,
		Registry: prometheus.NewRegistry(),
	}, logger)
	require.NoError(t, err)

	assert.NotNil(t, svc.Detector)
	assert.NotNil(t, svc.Workflow)
	assert.NotNil(t, svc.History)
	assert.NotNil(t, svc.Loader)
	assert.NotNil(t, svc.Stream)
	assert.Nil(t, svc.Audit)
	assert.Nil(t, svc.Outbox)
	assert.NotNil(t, svc.SLA)
	assert.Equal(t, detection.SeverityLow, svc.Workflow.ActionThreshold())
	assert.NotNil(t, svc.AssessmentHandler(logger))
	assert.Nil(t, svc.OutboxDeliverer(cfg, nil, logger))
}

func TestBuildCrisisServicesWithoutRedis(t *testing.T) {
	cfg := testConfig()
	cfg.ActionThreshold = "HIGH"
	cfg.OnCallEmails = []string{"oncall@example.com"}

	svc, err := BuildCrisisServices(context.Background(), cfg, Dependencies{Registry: prometheus.NewRegistry()}, logging.Discard())
	require.NoError(t, err)
	assert.Nil(t, svc.History)
	assert.Nil(t, svc.Loader)
	assert.NotNil(t, svc.SLA)
	assert.Equal(t, detection.SeverityHigh, svc.Workflow.ActionThreshold())
}

func TestBuildCrisisServicesRejectsBadThreshold(t *testing.T) {
	for _, threshold := range []string{"NONE", "SEVERE"} {
		cfg := testConfig()
		cfg.ActionThreshold = threshold
		_, err := BuildCrisisServices(context.Background(), cfg, Dependencies{Registry: prometheus.NewRegistry()}, logging.Discard())
		assert.Error(t, err, threshold)
	}
}

func TestBuildCrisisServicesMissingCatalog(t *testing.T) {
	cfg := testConfig()
	cfg.IndicatorCatalogPath = t.TempDir() + "/missing.yaml"
	_, err := BuildCrisisServices(context.Background(), cfg, Dependencies{Registry: prometheus.NewRegistry()}, logging.Discard())
	assert.ErrorContains(t, err, "indicator catalog")
}

func TestBuildEventRepository(t *testing.T) {
	logger := logging.Discard()

	cfg := testConfig()
	repo, err := BuildEventRepository(cfg, nil, nil, logger)
	require.NoError(t, err)
	assert.NotNil(t, repo)

	cfg.Env = "production"
	_, err = BuildEventRepository(cfg, nil, nil, logger)
	assert.ErrorContains(t, err, "not allowed in production")

	cfg = testConfig()
	cfg.EventStore = EventStorePostgres
	_, err = BuildEventRepository(cfg, nil, nil, logger)
	assert.ErrorContains(t, err, "DATABASE_URL")

	cfg.EventStore = EventStoreDynamo
	_, err = BuildEventRepository(cfg, nil, nil, logger)
	assert.ErrorContains(t, err, "AWS configuration")

	cfg.EventStore = "cassandra"
	_, err = BuildEventRepository(cfg, nil, nil, logger)
	assert.ErrorContains(t, err, "unknown EVENT_STORE")
}

func TestBuildEmailSenderFallsBackToStub(t *testing.T) {
	cfg := testConfig()
	cfg.EmailProvider = "sendgrid"
	sender := BuildEmailSender(cfg, nil, logging.Discard())
	_, ok := sender.(*notify.StubEmailSender)
	assert.True(t, ok, "expected stub sender, got %T", sender)

	cfg.EmailProvider = "ses"
	cfg.AlertFromEmail = "safety@example.com"
	sender = BuildEmailSender(cfg, nil, logging.Discard())
	_, ok = sender.(*notify.StubEmailSender)
	assert.True(t, ok, "expected stub sender without aws config, got %T", sender)

	cfg.EmailProvider = "sendgrid"
	cfg.SendGridAPIKey = "SG.test"
	sender = BuildEmailSender(cfg, nil, logging.Discard())
	_, ok = sender.(*notify.SendGridSender)
	assert.True(t, ok, "expected sendgrid sender, got %T", sender)
}

func TestBuildRedisClientDisabled(t *testing.T) {
	cfg := testConfig()
	assert.Nil(t, BuildRedisClient(context.Background(), cfg, logging.Discard(), true))

	cfg.RedisAddr = "127.0.0.1:1"
	assert.Nil(t, BuildRedisClient(context.Background(), cfg, logging.Discard(), true))
}

func TestConnectPostgresEmptyURL(t *testing.T) {
	pool, db, err := ConnectPostgres(context.Background(), " ")
	require.NoError(t, err)
	assert.Nil(t, pool)
	assert.Nil(t, db)
}

func TestBuildOutboxDelivererWithoutQueue(t *testing.T) {
	cfg := testConfig()
	assert.NotNil(t, BuildOutboxDeliverer(cfg, nil, nil, nil))
}
