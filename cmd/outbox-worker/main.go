package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/wolfman30/wellbeing-platform/cmd/mainconfig"
	"github.com/wolfman30/wellbeing-platform/internal/app/bootstrap"
	"github.com/wolfman30/wellbeing-platform/internal/config"
	"github.com/wolfman30/wellbeing-platform/internal/events"
	"github.com/wolfman30/wellbeing-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.DatabaseURL == "" {
		logger.Error("outbox worker requires DATABASE_URL")
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	var awsCfg *aws.Config
	if cfg.CrisisEventsQueueURL != "" {
		loaded, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		awsCfg = &loaded
	}

	deliverer := bootstrap.BuildOutboxDeliverer(cfg, events.NewOutboxStore(pool), awsCfg, logger)
	logger.Info("outbox worker started", "interval", cfg.OutboxPollInterval, "queue", cfg.CrisisEventsQueueURL != "")
	deliverer.Start(ctx)
	logger.Info("outbox worker shutting down")
}
