package compliance

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/wellbeing-platform/pkg/logging"
)

// DisclaimerLevel represents the verbosity of the disclaimer.
type DisclaimerLevel string

const (
	DisclaimerShort  DisclaimerLevel = "short"
	DisclaimerMedium DisclaimerLevel = "medium"
	DisclaimerFull   DisclaimerLevel = "full"
)

const (
	disclaimerShortText = "Automated check-in. Not a clinical assessment."

	disclaimerMediumText = "This message was generated by an automated check-in and is not a clinical assessment or diagnosis."

	disclaimerFullText = "This message was generated by an automated wellbeing check-in. It is not a clinical assessment, diagnosis or treatment, and it does not replace a licensed mental health professional. If you are in danger, contact your local emergency number now."
)

// DisclaimerConfig configures the disclaimer service.
type DisclaimerConfig struct {
	Level      DisclaimerLevel
	Enabled    bool
	CustomText string
}

func DefaultDisclaimerConfig() DisclaimerConfig {
	return DisclaimerConfig{Level: DisclaimerMedium, Enabled: true}
}

// DisclaimerService appends the non-diagnostic disclaimer to crisis
// responses.
type DisclaimerService struct {
	audit  *AuditService
	config DisclaimerConfig
	logger *logging.Logger
}

func NewDisclaimerService(audit *AuditService, config DisclaimerConfig) *DisclaimerService {
	return &DisclaimerService{audit: audit, config: config, logger: logging.Default()}
}

// WithLogger sets the logger used when the audit write fails.
func (s *DisclaimerService) WithLogger(logger *logging.Logger) *DisclaimerService {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// GetDisclaimerText returns the configured disclaimer.
func (s *DisclaimerService) GetDisclaimerText() string {
	if s.config.CustomText != "" {
		return s.config.CustomText
	}
	switch s.config.Level {
	case DisclaimerShort:
		return disclaimerShortText
	case DisclaimerFull:
		return disclaimerFullText
	default:
		return disclaimerMediumText
	}
}

// AddDisclaimer appends the disclaimer once and records it for userID.
func (s *DisclaimerService) AddDisclaimer(ctx context.Context, message, userID string) string {
	if s == nil || !s.config.Enabled {
		return message
	}
	disclaimer := s.GetDisclaimerText()
	if strings.Contains(message, disclaimer) {
		return message
	}
	result := fmt.Sprintf("%s\n\n%s", strings.TrimSpace(message), disclaimer)

	if s.audit != nil && userID != "" {
		if err := s.audit.LogDisclaimerSent(ctx, userID, string(s.config.Level), disclaimer); err != nil {
			s.logger.Error("failed to audit disclaimer", "user_id", userID, "error", err)
		}
	}
	return result
}
