package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/wellbeing-platform/internal/archive"
	"github.com/wolfman30/wellbeing-platform/internal/compliance"
	appconfig "github.com/wolfman30/wellbeing-platform/internal/config"
	"github.com/wolfman30/wellbeing-platform/internal/detection"
	"github.com/wolfman30/wellbeing-platform/internal/escalation"
	"github.com/wolfman30/wellbeing-platform/internal/events"
	"github.com/wolfman30/wellbeing-platform/internal/history"
	"github.com/wolfman30/wellbeing-platform/internal/http/handlers"
	"github.com/wolfman30/wellbeing-platform/internal/notify"
	"github.com/wolfman30/wellbeing-platform/internal/observability/metrics"
	"github.com/wolfman30/wellbeing-platform/internal/resources"
	"github.com/wolfman30/wellbeing-platform/internal/support"
	"github.com/wolfman30/wellbeing-platform/pkg/logging"
)

// Dependencies are the external clients a process has managed to open.
// Any of them may be nil; the matching features are then disabled.
type Dependencies struct {
	Pool     *pgxpool.Pool
	SQL      *sql.DB
	Redis    *redis.Client
	AWS      *aws.Config
	Registry prometheus.Registerer
}

// CrisisServices is the assembled detection and escalation stack.
type CrisisServices struct {
	Catalog    *detection.Catalog
	Detector   *detection.Detector
	Composer   *resources.Composer
	Workflow   *escalation.Workflow
	History    *history.Store
	Loader     *history.Loader
	Audit      *compliance.AuditService
	Disclaimer *compliance.DisclaimerService
	Stream     *handlers.CrisisStream
	Metrics    *metrics.CrisisMetrics
	Outbox     *events.OutboxStore
	SLA        *support.SLATracker
}

// BuildCrisisServices wires detection, the workflow and every post-commit
// hook the available dependencies allow.
func BuildCrisisServices(ctx context.Context, cfg *appconfig.Config, deps Dependencies, logger *logging.Logger) (*CrisisServices, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	catalog, err := BuildCatalog(cfg, logger)
	if err != nil {
		return nil, err
	}
	threshold, err := detection.ParseSeverity(cfg.ActionThreshold)
	if err != nil || threshold == detection.SeverityNone {
		return nil, fmt.Errorf("bootstrap: invalid ACTION_THRESHOLD %q", cfg.ActionThreshold)
	}

	svc := &CrisisServices{
		Catalog:  catalog,
		Composer: resources.NewComposer(nil),
		Metrics:  metrics.NewCrisisMetrics(deps.Registry),
		Stream:   handlers.NewCrisisStream(logger.WithComponent("crisis-stream")),
	}
	svc.Detector = detection.NewDetector(catalog, logger.WithComponent("detection")).WithObserver(svc.Metrics)

	repo, err := BuildEventRepository(cfg, deps.Pool, deps.AWS, logger)
	if err != nil {
		return nil, err
	}
	svc.Workflow = escalation.NewWorkflow(repo, logger.WithComponent("escalation")).
		WithActionThreshold(threshold).
		WithRetry(cfg.PersistRetryMaxAttempts, cfg.PersistRetryBaseDelay).
		WithObserver(svc.Metrics)

	if deps.SQL != nil {
		svc.Audit = compliance.NewAuditService(deps.SQL)
		svc.Workflow.WithAuditLogger(svc.Audit)
	} else {
		logger.Warn("no database configured; crisis audit trail disabled")
	}
	svc.Disclaimer = compliance.NewDisclaimerService(svc.Audit, compliance.DefaultDisclaimerConfig()).
		WithLogger(logger.WithComponent("compliance"))

	if deps.Redis != nil {
		svc.History = history.NewStore(deps.Redis)
		svc.Loader = history.NewLoader(svc.History, cfg.HistoryLookupTimeout, logger.WithComponent("history"))
		svc.Workflow.WithIncidents(svc.History)
	}

	publishers := events.Fanout{svc.Stream}
	var alerters notify.Alerters
	var reminder support.Reminder

	if deps.Pool != nil {
		svc.Outbox = events.NewOutboxStore(deps.Pool)
		publishers = append(publishers, events.NewOutboxPublisher(svc.Outbox))
	}

	if len(cfg.OnCallEmails) > 0 {
		oncall := notify.NewService(BuildEmailSender(cfg, deps.AWS, logger), cfg.OnCallEmails, logger.WithComponent("notify"))
		publishers = append(publishers, oncall)
		alerters = append(alerters, oncall)
		reminder = oncall
	} else {
		logger.Warn("ONCALL_EMAIL not set; on-call paging disabled")
	}

	if deps.AWS != nil {
		if cfg.FailsafeAlertQueueURL != "" {
			alerters = append(alerters, events.NewFailsafeQueue(sqs.NewFromConfig(*deps.AWS), cfg.FailsafeAlertQueueURL))
		}
		if cfg.CrisisArchiveBucket != "" {
			client := s3.NewFromConfig(*deps.AWS, func(o *s3.Options) {
				o.UsePathStyle = cfg.AWSEndpointOverride != ""
			})
			svc.Workflow.WithArchiver(archive.NewStore(client, cfg.CrisisArchiveBucket, logger.WithComponent("archive")))
		}
	}
	if len(alerters) == 0 {
		logger.Warn("no fail-safe alert channel configured; persistence failures are logged only")
	}

	svc.Workflow.WithPublisher(publishers).WithAlerter(alerters)

	if cfg.SLACheckInterval > 0 {
		svc.SLA = support.NewSLATracker(svc.Workflow, reminder, logger.WithComponent("sla")).
			WithConfig(support.SLAConfig{
				ReviewWithin:  cfg.SLAReviewWithin,
				ResolveWithin: cfg.SLAResolveWithin,
				Interval:      cfg.SLACheckInterval,
			}).
			WithObserver(svc.Metrics)
	}

	logger.Info("crisis services ready",
		"catalog_version", catalog.Version(),
		"action_threshold", threshold.String(),
		"event_store", cfg.EventStore,
		"history", svc.History != nil,
		"outbox", svc.Outbox != nil,
		"alert_channels", len(alerters),
	)
	return svc, nil
}

// BuildCatalog loads INDICATOR_CATALOG_PATH or returns the built-in catalog.
func BuildCatalog(cfg *appconfig.Config, logger *logging.Logger) (*detection.Catalog, error) {
	if cfg == nil || cfg.IndicatorCatalogPath == "" {
		return detection.DefaultCatalog(), nil
	}
	catalog, err := detection.LoadCatalog(cfg.IndicatorCatalogPath)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: load indicator catalog: %w", err)
	}
	if logger != nil {
		logger.Info("indicator catalog loaded", "path", cfg.IndicatorCatalogPath, "version", catalog.Version())
	}
	return catalog, nil
}

// AssessmentHandler builds the HTTP handler over the assembled services.
func (s *CrisisServices) AssessmentHandler(logger *logging.Logger) *handlers.AssessmentHandler {
	h := handlers.NewAssessmentHandler(s.Detector, s.Composer, logger).
		WithEvents(s.Workflow, s.Workflow.IsActionable).
		WithDisclaimer(s.Disclaimer).
		WithObserver(s.Metrics)
	if s.Audit != nil {
		h.WithAudit(s.Audit)
	}
	if s.History != nil {
		h.WithLoader(s.Loader).WithHistory(s.History)
	}
	return h
}

// AdminUsersHandler builds the erasure and audit endpoints over whichever of
// history and audit are configured.
func (s *CrisisServices) AdminUsersHandler(logger *logging.Logger) *handlers.AdminUsersHandler {
	var eraser handlers.HistoryEraser
	if s.History != nil {
		eraser = s.History
	}
	var audit handlers.AuditTrail
	if s.Audit != nil {
		audit = s.Audit
	}
	return handlers.NewAdminUsersHandler(eraser, audit, logger)
}

// OutboxDeliverer returns the deliverer for the services' outbox, or nil
// without postgres.
func (s *CrisisServices) OutboxDeliverer(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) *events.Deliverer {
	if s.Outbox == nil {
		return nil
	}
	return BuildOutboxDeliverer(cfg, s.Outbox, awsCfg, logger)
}

// BuildOutboxDeliverer forwards outbox entries to CRISIS_EVENTS_QUEUE_URL, or
// to the log when no queue is configured.
func BuildOutboxDeliverer(cfg *appconfig.Config, store *events.OutboxStore, awsCfg *aws.Config, logger *logging.Logger) *events.Deliverer {
	if logger == nil {
		logger = logging.Default()
	}
	var handler events.DeliveryHandler = events.LogHandler{Logger: logger}
	if awsCfg != nil && cfg.CrisisEventsQueueURL != "" {
		handler = events.NewSQSPublisher(sqs.NewFromConfig(*awsCfg), cfg.CrisisEventsQueueURL)
	}
	return events.NewDeliverer(store, handler, logger.WithComponent("outbox")).WithInterval(cfg.OutboxPollInterval)
}
