package bootstrap

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	appconfig "github.com/wolfman30/wellbeing-platform/internal/config"
	"github.com/wolfman30/wellbeing-platform/internal/notify"
	"github.com/wolfman30/wellbeing-platform/pkg/logging"
)

// BuildEmailSender picks SES or SendGrid from EMAIL_PROVIDER and falls back
// to the logging stub when the provider is not configured.
func BuildEmailSender(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) notify.EmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil {
		return notify.NewStubEmailSender(logger)
	}
	switch cfg.EmailProvider {
	case "ses":
		if awsCfg != nil && cfg.AlertFromEmail != "" {
			logger.Info("on-call email via ses", "from", cfg.AlertFromEmail)
			return notify.NewSESSender(sesv2.NewFromConfig(*awsCfg), notify.SESConfig{
				FromEmail: cfg.AlertFromEmail,
				FromName:  cfg.AlertFromName,
			}, logger)
		}
	default:
		if sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.AlertFromEmail,
			FromName:  cfg.AlertFromName,
		}, logger); sender != nil {
			logger.Info("on-call email via sendgrid", "from", cfg.AlertFromEmail)
			return sender
		}
	}
	logger.Warn("on-call email provider not configured; alerts are logged only", "provider", cfg.EmailProvider)
	return notify.NewStubEmailSender(logger)
}
