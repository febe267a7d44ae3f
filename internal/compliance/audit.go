// Package compliance keeps the immutable audit trail of crisis handling.
package compliance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/wolfman30/wellbeing-platform/internal/detection"
	"github.com/wolfman30/wellbeing-platform/internal/escalation"
)

// AuditEventType represents the type of audit record.
type AuditEventType string

const (
	// EventAssessment is logged for every detection run.
	EventAssessment AuditEventType = "crisis.assessment"
	// EventCrisisEventCreated is logged when a crisis event is opened.
	EventCrisisEventCreated AuditEventType = "crisis.event_created"
	// EventTransitionApplied is logged when a status change commits.
	EventTransitionApplied AuditEventType = "crisis.transition_applied"
	// EventTransitionRejected covers invalid targets, stale versions and lost races.
	EventTransitionRejected AuditEventType = "crisis.transition_rejected"
	EventTransitionFailed   AuditEventType = "crisis.transition_failed"
	EventDisclaimerSent     AuditEventType = "compliance.disclaimer_sent"
	// EventHistoryErased is logged when an admin erases a user's stored history.
	EventHistoryErased AuditEventType = "compliance.history_erased"
)

// AuditEvent is one row of crisis_audit_events. Message text is never
// stored.
type AuditEvent struct {
	ID            string          `json:"id"`
	EventType     AuditEventType  `json:"event_type"`
	UserID        string          `json:"user_id"`
	CrisisEventID string          `json:"crisis_event_id,omitempty"`
	Actor         string          `json:"actor,omitempty"`
	FromStatus    string          `json:"from_status,omitempty"`
	ToStatus      string          `json:"to_status,omitempty"`
	Outcome       string          `json:"outcome,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Categories    []string        `json:"categories,omitempty"`
	Details       json.RawMessage `json:"details,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// AssessmentDetails is stored with EventAssessment records.
type AssessmentDetails struct {
	DetectionID          string   `json:"detection_id,omitempty"`
	Level                string   `json:"level"`
	Confidence           float64  `json:"confidence"`
	InterventionStrategy string   `json:"intervention_strategy"`
	RiskFactors          []string `json:"risk_factors,omitempty"`
	CatalogVersion       string   `json:"catalog_version,omitempty"`
	HistoryDegraded      bool     `json:"history_degraded,omitempty"`
}

// AuditService writes audit records through database/sql.
type AuditService struct {
	db  *sql.DB
	now func() time.Time
}

func NewAuditService(db *sql.DB) *AuditService {
	return &AuditService{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// LogEvent records an audit event.
func (s *AuditService) LogEvent(ctx context.Context, event AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}
	if event.Categories == nil {
		event.Categories = []string{}
	}

	query := `
		INSERT INTO crisis_audit_events (
			id, event_type, user_id, crisis_event_id, actor,
			from_status, to_status, outcome, reason, categories, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.EventType,
		event.UserID,
		nullString(event.CrisisEventID),
		nullString(event.Actor),
		nullString(event.FromStatus),
		nullString(event.ToStatus),
		nullString(event.Outcome),
		nullString(event.Reason),
		pq.Array(event.Categories),
		nullJSON(event.Details),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("compliance: failed to log audit event: %w", err)
	}
	return nil
}

// LogAssessment records a detection run.
func (s *AuditService) LogAssessment(ctx context.Context, userID, detectionID string, a detection.CrisisAssessment, historyDegraded bool) error {
	details, err := json.Marshal(AssessmentDetails{
		DetectionID:          detectionID,
		Level:                a.OverallLevel.String(),
		Confidence:           a.Confidence,
		InterventionStrategy: string(a.InterventionStrategy),
		RiskFactors:          a.RiskFactors,
		CatalogVersion:       a.CatalogVersion,
		HistoryDegraded:      historyDegraded,
	})
	if err != nil {
		return fmt.Errorf("compliance: marshal assessment details: %w", err)
	}
	return s.LogEvent(ctx, AuditEvent{
		EventType:  EventAssessment,
		UserID:     userID,
		Categories: categoryStrings(a.MatchedCategories),
		Details:    details,
	})
}

// RecordTransition stores a workflow audit record.
func (s *AuditService) RecordTransition(ctx context.Context, audit escalation.TransitionAudit) error {
	event := AuditEvent{
		EventType:     transitionEventType(audit.Outcome),
		UserID:        audit.UserID,
		CrisisEventID: audit.EventID,
		Actor:         audit.Actor,
		FromStatus:    string(audit.From),
		ToStatus:      string(audit.To),
		Outcome:       audit.Outcome,
		Reason:        audit.Reason,
		CreatedAt:     audit.OccurredAt,
	}
	if audit.Notes != nil {
		event.Categories = categoryStrings(audit.Notes.MatchedCategories)
		details, err := json.Marshal(audit.Notes)
		if err != nil {
			return fmt.Errorf("compliance: marshal notes: %w", err)
		}
		event.Details = details
	}
	return s.LogEvent(ctx, event)
}

func transitionEventType(outcome string) AuditEventType {
	switch outcome {
	case escalation.OutcomeCreated, escalation.OutcomeDuplicate:
		return EventCrisisEventCreated
	case escalation.OutcomeApplied:
		return EventTransitionApplied
	case escalation.OutcomeFailed:
		return EventTransitionFailed
	default:
		return EventTransitionRejected
	}
}

// LogDisclaimerSent logs when a disclaimer is added to a crisis response.
func (s *AuditService) LogDisclaimerSent(ctx context.Context, userID, level, text string) error {
	details, _ := json.Marshal(map[string]string{"disclaimer_level": level, "disclaimer_text": text})
	return s.LogEvent(ctx, AuditEvent{
		EventType: EventDisclaimerSent,
		UserID:    userID,
		Details:   details,
	})
}

// LogHistoryErased records who erased a user's history and how many keys went.
func (s *AuditService) LogHistoryErased(ctx context.Context, userID, actor string, keys int64) error {
	details, _ := json.Marshal(map[string]int64{"keys_deleted": keys})
	return s.LogEvent(ctx, AuditEvent{
		EventType: EventHistoryErased,
		UserID:    userID,
		Actor:     actor,
		Outcome:   "erased",
		Details:   details,
	})
}

// AuditFilter specifies criteria for querying audit events.
type AuditFilter struct {
	UserID        string
	CrisisEventID string
	EventType     AuditEventType
	StartTime     time.Time
	EndTime       time.Time
	Limit         int
	Offset        int
}

// QueryEvents retrieves audit events, newest first.
func (s *AuditService) QueryEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	query := `
		SELECT id, event_type, user_id, crisis_event_id, actor,
			   from_status, to_status, outcome, reason, categories, details, created_at
		FROM crisis_audit_events
		WHERE 1=1
	`
	var args []interface{}
	argIdx := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}
	if filter.CrisisEventID != "" {
		query += fmt.Sprintf(" AND crisis_event_id = $%d", argIdx)
		args = append(args, filter.CrisisEventID)
		argIdx++
	}
	if filter.EventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, filter.EventType)
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("compliance: failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		var eventID, actor, from, to, outcome, reason sql.NullString
		var details []byte
		if err := rows.Scan(
			&e.ID, &e.EventType, &e.UserID, &eventID, &actor,
			&from, &to, &outcome, &reason, pq.Array(&e.Categories), &details, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("compliance: failed to scan audit event: %w", err)
		}
		e.CrisisEventID = eventID.String
		e.Actor = actor.String
		e.FromStatus = from.String
		e.ToStatus = to.String
		e.Outcome = outcome.String
		e.Reason = reason.String
		if len(details) > 0 {
			e.Details = json.RawMessage(details)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func categoryStrings(cats []detection.Category) []string {
	out := make([]string, 0, len(cats))
	for _, c := range cats {
		out = append(out, string(c))
	}
	return out
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
