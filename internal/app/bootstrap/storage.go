package bootstrap

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/jackc/pgx/v5/pgxpool"

	appconfig "github.com/wolfman30/wellbeing-platform/internal/config"
	"github.com/wolfman30/wellbeing-platform/internal/escalation"
	"github.com/wolfman30/wellbeing-platform/pkg/logging"
)

// Event store names accepted by EVENT_STORE.
const (
	EventStoreMemory   = "memory"
	EventStorePostgres = "postgres"
	EventStoreDynamo   = "dynamodb"
)

// BuildEventRepository selects the crisis event store from EVENT_STORE.
func BuildEventRepository(cfg *appconfig.Config, pool *pgxpool.Pool, awsCfg *aws.Config, logger *logging.Logger) (escalation.Repository, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	switch cfg.EventStore {
	case "", EventStoreMemory:
		if cfg.IsProduction() {
			return nil, fmt.Errorf("bootstrap: in-memory event store is not allowed in production")
		}
		logger.Warn("using in-memory crisis event store; events are lost on restart")
		return escalation.NewInMemoryRepository(), nil
	case EventStorePostgres:
		if pool == nil {
			return nil, fmt.Errorf("bootstrap: EVENT_STORE=postgres requires DATABASE_URL")
		}
		logger.Info("using postgres crisis event store")
		return escalation.NewPostgresRepository(pool), nil
	case EventStoreDynamo:
		if awsCfg == nil {
			return nil, fmt.Errorf("bootstrap: EVENT_STORE=dynamodb requires AWS configuration")
		}
		logger.Info("using dynamodb crisis event store", "table", cfg.CrisisEventsTable)
		return escalation.NewDynamoRepository(dynamodb.NewFromConfig(*awsCfg), cfg.CrisisEventsTable, logger), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown EVENT_STORE %q", cfg.EventStore)
	}
}
