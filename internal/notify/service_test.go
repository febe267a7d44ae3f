package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/wellbeing-platform/internal/detection"
	"github.com/wolfman30/wellbeing-platform/internal/escalation"
	"github.com/wolfman30/wellbeing-platform/pkg/logging"
)

type recordingSender struct {
	sent   []EmailMessage
	failTo string
}

func (r *recordingSender) Send(_ context.Context, msg EmailMessage) error {
	r.sent = append(r.sent, msg)
	if msg.To == r.failTo {
		return errors.New("mailbox full")
	}
	return nil
}

func TestService_AlertEmailsEveryRecipient(t *testing.T) {
	sender := &recordingSender{failTo: "b@example.com"}
	svc := NewService(sender, []string{"a@example.com", " ", "b@example.com"}, logging.Discard())

	err := svc.Alert(context.Background(), escalation.FailsafeAlert{
		EventID:    "evt-1",
		UserID:     "user-1",
		Level:      detection.SeverityCritical,
		Attempts:   5,
		Reason:     "connection refused",
		OccurredAt: time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC),
	})
	require.Error(t, err)
	require.Len(t, sender.sent, 2)
	assert.True(t, strings.HasPrefix(sender.sent[0].Subject, "[FAIL-SAFE] CRITICAL"))
	assert.Contains(t, sender.sent[0].Body, "connection refused")
	assert.Contains(t, err.Error(), "b@example.com")
}

func TestService_PublishPagesOnlyOnSevereCreations(t *testing.T) {
	sender := &recordingSender{}
	svc := NewService(sender, []string{"oncall@example.com"}, logging.Discard())

	event := escalation.CrisisEvent{
		ID:        "evt-1",
		UserID:    "user-1",
		Source:    escalation.SourceChat,
		FlagLevel: detection.SeverityMedium,
		Notes:     escalation.Notes{MatchedCategories: []detection.Category{detection.CategoryDistress}},
	}
	require.NoError(t, svc.Publish(context.Background(), escalation.Change{Kind: escalation.ChangeCreated, Event: event}))
	assert.Empty(t, sender.sent)

	event.FlagLevel = detection.SeverityHigh
	require.NoError(t, svc.Publish(context.Background(), escalation.Change{Kind: escalation.ChangeTransitioned, Event: event}))
	assert.Empty(t, sender.sent)

	require.NoError(t, svc.Publish(context.Background(), escalation.Change{Kind: escalation.ChangeCreated, Event: event}))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "[HIGH] crisis event needs review", sender.sent[0].Subject)
	assert.Contains(t, sender.sent[0].Body, "distress")

	svc.WithPageLevel(detection.SeverityCritical)
	require.NoError(t, svc.Publish(context.Background(), escalation.Change{Kind: escalation.ChangeCreated, Event: event}))
	assert.Len(t, sender.sent, 1)
}

func TestService_NoRecipientsIsNotAnError(t *testing.T) {
	svc := NewService(nil, nil, logging.Discard())
	assert.NoError(t, svc.Alert(context.Background(), escalation.FailsafeAlert{Level: detection.SeverityCritical}))
}

type alerterFunc func(context.Context, escalation.FailsafeAlert) error

func (f alerterFunc) Alert(ctx context.Context, a escalation.FailsafeAlert) error { return f(ctx, a) }

func TestAlerters_ContinuePastFailures(t *testing.T) {
	calls := 0
	failing := alerterFunc(func(context.Context, escalation.FailsafeAlert) error {
		calls++
		return errors.New("queue down")
	})
	ok := alerterFunc(func(context.Context, escalation.FailsafeAlert) error {
		calls++
		return nil
	})
	err := Alerters{failing, nil, ok}.Alert(context.Background(), escalation.FailsafeAlert{})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestService_RemindOverdue(t *testing.T) {
	sender := &recordingSender{}
	svc := NewService(sender, []string{"oncall@example.com"}, logging.Discard())

	err := svc.RemindOverdue(context.Background(), escalation.CrisisEvent{
		ID:         "evt-7",
		UserID:     "user-7",
		FlagLevel:  detection.SeverityHigh,
		Status:     escalation.StatusPending,
		DetectedAt: time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC),
	}, "review", 47*time.Minute+10*time.Second)
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "[OVERDUE] HIGH crisis event missed its review deadline", sender.sent[0].Subject)
	assert.Contains(t, sender.sent[0].Body, "Overdue by: 47m0s")
	assert.Contains(t, sender.sent[0].Body, "Status: PENDING")
}
