package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/wellbeing-platform/internal/detection"
	"github.com/wolfman30/wellbeing-platform/internal/escalation"
	"github.com/wolfman30/wellbeing-platform/pkg/logging"
)

// Service e-mails the on-call rota. It is both the fail-safe alerter and a
// publisher that pages on newly opened high-severity events.
type Service struct {
	email      EmailSender
	recipients []string
	pageLevel  detection.Severity
	logger     *logging.Logger
}

func NewService(email EmailSender, recipients []string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	var cleaned []string
	for _, r := range recipients {
		if r = strings.TrimSpace(r); r != "" {
			cleaned = append(cleaned, r)
		}
	}
	return &Service{
		email:      email,
		recipients: cleaned,
		pageLevel:  detection.SeverityHigh,
		logger:     logger,
	}
}

// WithPageLevel sets the minimum level that pages on creation.
func (s *Service) WithPageLevel(level detection.Severity) *Service {
	if level.Valid() && level > detection.SeverityNone {
		s.pageLevel = level
	}
	return s
}

// Alert e-mails every recipient about an event that could not be stored.
func (s *Service) Alert(ctx context.Context, alert escalation.FailsafeAlert) error {
	if alert.EventID == "" {
		return s.alertUnattributed(ctx, alert)
	}
	subject := fmt.Sprintf("[FAIL-SAFE] %s crisis event could not be recorded", alert.Level)
	body := fmt.Sprintf(`A crisis assessment crossed the action threshold but the event could not be stored.

Level: %s
Confidence: %.2f
User: %s
Event: %s
Detection: %s
Attempts: %d
Error: %s
At: %s

Follow up with the user directly and re-create the event once storage recovers.`,
		alert.Level, alert.Confidence, alert.UserID, alert.EventID, alert.DetectionID,
		alert.Attempts, alert.Reason, alert.OccurredAt.Format("2006-01-02 15:04:05 MST"))
	return s.sendAll(ctx, subject, body)
}

func (s *Service) alertUnattributed(ctx context.Context, alert escalation.FailsafeAlert) error {
	subject := fmt.Sprintf("[FAIL-SAFE] %s assessment from an unidentified user", alert.Level)
	body := fmt.Sprintf(`A crisis assessment reached %s but carried no user id, so no event was opened.

Confidence: %.2f
Detection: %s
Reason: %s
At: %s

Trace the detection id through the calling channel to reach the user.`,
		alert.Level, alert.Confidence, alert.DetectionID, alert.Reason,
		alert.OccurredAt.Format("2006-01-02 15:04:05 MST"))
	return s.sendAll(ctx, subject, body)
}

// Publish pages on creation of events at or above the page level. Other
// changes are ignored.
func (s *Service) Publish(ctx context.Context, change escalation.Change) error {
	if change.Kind != escalation.ChangeCreated || change.Event.FlagLevel < s.pageLevel {
		return nil
	}
	e := change.Event
	cats := make([]string, 0, len(e.Notes.MatchedCategories))
	for _, c := range e.Notes.MatchedCategories {
		cats = append(cats, string(c))
	}
	subject := fmt.Sprintf("[%s] crisis event needs review", e.FlagLevel)
	body := fmt.Sprintf(`A new crisis event is waiting for review.

Level: %s
Confidence: %.2f
User: %s
Event: %s
Source: %s
Categories: %s
Detected: %s`,
		e.FlagLevel, e.Confidence, e.UserID, e.ID, e.Source, strings.Join(cats, ", "),
		e.DetectedAt.Format("2006-01-02 15:04:05 MST"))
	return s.sendAll(ctx, subject, body)
}

// RemindOverdue e-mails the rota about an open event that missed its
// review or resolution deadline.
func (s *Service) RemindOverdue(ctx context.Context, e escalation.CrisisEvent, deadline string, overdue time.Duration) error {
	subject := fmt.Sprintf("[OVERDUE] %s crisis event missed its %s deadline", e.FlagLevel, deadline)
	body := fmt.Sprintf(`A crisis event is still open past its %s deadline.

Level: %s
Status: %s
User: %s
Event: %s
Detected: %s
Overdue by: %s`,
		deadline, e.FlagLevel, e.Status, e.UserID, e.ID,
		e.DetectedAt.Format("2006-01-02 15:04:05 MST"), overdue.Round(time.Minute))
	return s.sendAll(ctx, subject, body)
}

func (s *Service) sendAll(ctx context.Context, subject, body string) error {
	if s.email == nil || len(s.recipients) == 0 {
		s.logger.Warn("notify: no on-call recipients configured", "subject", subject)
		return nil
	}
	var errs []error
	for _, to := range s.recipients {
		if err := s.email.Send(ctx, EmailMessage{To: to, Subject: subject, Body: body}); err != nil {
			errs = append(errs, fmt.Errorf("notify: send to %s: %w", to, err))
		}
	}
	return errors.Join(errs...)
}

// Alerters fans a fail-safe alert out to every channel. One channel
// failing does not stop the others.
type Alerters []escalation.Alerter

func (a Alerters) Alert(ctx context.Context, alert escalation.FailsafeAlert) error {
	var errs []error
	for _, alerter := range a {
		if alerter == nil {
			continue
		}
		if err := alerter.Alert(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
