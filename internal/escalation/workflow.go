package escalation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/wellbeing-platform/internal/detection"
	"github.com/wolfman30/wellbeing-platform/pkg/logging"
)

var workflowTracer = otel.Tracer("wellbeing/escalation")

// eventNamespace seeds the deterministic event ids.
var eventNamespace = uuid.MustParse("6f1c3a52-7a0e-4c41-9d1b-2f8e5b9c0a71")

// EventID derives the event id for a detection so retried creations
// collapse onto one record.
func EventID(userID, detectionID string) string {
	return uuid.NewSHA1(eventNamespace, []byte(userID+":"+detectionID)).String()
}

// SystemActor is recorded on entries the workflow writes itself.
const SystemActor = "system"

// Audit outcomes.
const (
	OutcomeCreated   = "created"
	OutcomeDuplicate = "duplicate"
	OutcomeApplied   = "applied"
	OutcomeRejected  = "rejected"
	OutcomeConflict  = "conflict"
	OutcomeUnguarded = "precondition_required"
	OutcomeFailed    = "failed"

	outcomeNotActionable = "not_actionable"
)

// ChangeKind names the kind of change carried by a Change.
type ChangeKind string

const (
	ChangeCreated      ChangeKind = "crisis_event.created"
	ChangeTransitioned ChangeKind = "crisis_event.transitioned"
)

// Change is published after a create or transition commits.
type Change struct {
	Kind  ChangeKind
	Event CrisisEvent
	Entry *StatusEntry
}

// ReasonUnattributed marks alerts for critical assessments without a user.
const ReasonUnattributed = "critical assessment without user id"

// FailsafeAlert is raised when an actionable event could not be persisted,
// or when a critical assessment has no user to open one for.
type FailsafeAlert struct {
	EventID     string
	UserID      string
	DetectionID string
	Level       detection.Severity
	Confidence  float64
	Attempts    int
	Reason      string
	OccurredAt  time.Time
}

// TransitionAudit is one audit record for a creation or a transition attempt.
type TransitionAudit struct {
	EventID    string
	UserID     string
	From       Status
	To         Status
	Actor      string
	Outcome    string
	Reason     string
	Notes      *Notes
	OccurredAt time.Time
}

// Alerter delivers fail-safe alerts out of band.
type Alerter interface {
	Alert(ctx context.Context, alert FailsafeAlert) error
}

// Publisher fans committed changes out to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, change Change) error
}

// IncidentRecorder keeps the user's crisis history aligned with the event lifecycle.
type IncidentRecorder interface {
	RecordIncident(ctx context.Context, userID string, incident detection.Incident) error
	ResolveIncident(ctx context.Context, userID, eventID, resolution string) error
}

// Archiver stores a snapshot of events that reached a terminal status.
type Archiver interface {
	ArchiveEvent(ctx context.Context, event CrisisEvent) error
}

// AuditLogger persists the audit trail of creations and transition attempts.
type AuditLogger interface {
	RecordTransition(ctx context.Context, audit TransitionAudit) error
}

// Observer receives workflow outcomes for metrics.
type Observer interface {
	ObserveEventCreation(outcome string)
	ObserveTransition(outcome string)
	ObservePersistRetry()
	ObserveFailsafeAlert()
}

// CreateRequest describes an assessment that may open a crisis event.
type CreateRequest struct {
	UserID      string
	DetectionID string
	Source      Source
	DetectedAt  time.Time
	Assessment  detection.CrisisAssessment
	FreeText    string
}

// TransitionRequest moves an event to Target. ExpectedVersion is the version
// the caller read; it must equal the stored version or the request fails
// with ErrConflict. A zero ExpectedVersion fails with ErrPreconditionRequired.
type TransitionRequest struct {
	Target          Status
	Actor           string
	Notes           *Notes
	ExpectedVersion int64
}

// Workflow is the only writer of crisis events.
type Workflow struct {
	repo      Repository
	logger    *logging.Logger
	threshold detection.Severity

	alerter   Alerter
	publisher Publisher
	incidents IncidentRecorder
	archiver  Archiver
	audit     AuditLogger
	observer  Observer

	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewWorkflow builds a workflow over repo. The default action threshold is LOW.
func NewWorkflow(repo Repository, logger *logging.Logger) *Workflow {
	if repo == nil {
		panic("escalation: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Workflow{
		repo:        repo,
		logger:      logger,
		threshold:   detection.SeverityLow,
		maxAttempts: 5,
		baseDelay:   100 * time.Millisecond,
		maxDelay:    5 * time.Second,
		now:         func() time.Time { return time.Now().UTC() },
		sleep:       sleepCtx,
	}
}

// WithActionThreshold sets the minimum level that opens an event. NONE is
// never actionable.
func (w *Workflow) WithActionThreshold(level detection.Severity) *Workflow {
	if level > detection.SeverityNone && level.Valid() {
		w.threshold = level
	}
	return w
}

func (w *Workflow) WithRetry(maxAttempts int, baseDelay time.Duration) *Workflow {
	if maxAttempts > 0 {
		w.maxAttempts = maxAttempts
	}
	if baseDelay > 0 {
		w.baseDelay = baseDelay
	}
	return w
}

func (w *Workflow) WithAlerter(a Alerter) *Workflow {
	w.alerter = a
	return w
}

func (w *Workflow) WithPublisher(p Publisher) *Workflow {
	w.publisher = p
	return w
}

func (w *Workflow) WithIncidents(r IncidentRecorder) *Workflow {
	w.incidents = r
	return w
}

func (w *Workflow) WithArchiver(a Archiver) *Workflow {
	w.archiver = a
	return w
}

func (w *Workflow) WithAuditLogger(a AuditLogger) *Workflow {
	w.audit = a
	return w
}

func (w *Workflow) WithObserver(o Observer) *Workflow {
	w.observer = o
	return w
}

// WithClock overrides the time source.
func (w *Workflow) WithClock(now func() time.Time) *Workflow {
	if now != nil {
		w.now = now
	}
	return w
}

// ActionThreshold returns the configured threshold.
func (w *Workflow) ActionThreshold() detection.Severity { return w.threshold }

// IsActionable reports whether level opens an event.
func (w *Workflow) IsActionable(level detection.Severity) bool {
	return level != detection.SeverityNone && level >= w.threshold
}

// CreateFromAssessment opens a PENDING event for an actionable assessment.
// Transient store failures are retried with exponential backoff; when the
// event still cannot be stored a fail-safe alert is raised and
// ErrPersistenceFailed is returned. Repeating a request for the same
// detection returns the stored event.
func (w *Workflow) CreateFromAssessment(ctx context.Context, req CreateRequest) (CrisisEvent, error) {
	ctx, span := workflowTracer.Start(ctx, "crisis.event.create")
	defer span.End()
	span.SetAttributes(
		attribute.String("crisis.level", req.Assessment.OverallLevel.String()),
		attribute.String("crisis.user_id", req.UserID),
	)

	if !w.IsActionable(req.Assessment.OverallLevel) {
		w.observeCreation(outcomeNotActionable)
		return CrisisEvent{}, ErrNotActionable
	}
	if strings.TrimSpace(req.UserID) == "" {
		return CrisisEvent{}, errors.New("escalation: user id required")
	}
	if req.DetectionID == "" {
		req.DetectionID = uuid.NewString()
	}
	if req.Source == "" {
		req.Source = SourceAPI
	}
	if !req.Source.Valid() {
		return CrisisEvent{}, fmt.Errorf("escalation: unknown source %q", req.Source)
	}
	now := w.now()
	if req.DetectedAt.IsZero() {
		req.DetectedAt = now
	}

	notes := Notes{
		MatchedCategories:  append([]detection.Category(nil), req.Assessment.MatchedCategories...),
		RecommendedActions: append([]string(nil), req.Assessment.RecommendedActions...),
		FreeText:           req.FreeText,
	}
	if err := notes.Validate(); err != nil {
		return CrisisEvent{}, err
	}

	event := CrisisEvent{
		ID:          EventID(req.UserID, req.DetectionID),
		UserID:      req.UserID,
		Source:      req.Source,
		DetectionID: req.DetectionID,
		DetectedAt:  req.DetectedAt.UTC(),
		FlagLevel:   req.Assessment.OverallLevel,
		Status:      StatusPending,
		Confidence:  req.Assessment.Confidence,
		Notes:       notes,
		Version:     1,
		UpdatedAt:   now,
	}
	span.SetAttributes(attribute.String("crisis.event_id", event.ID))

	attempts, err := w.persistWithRetry(ctx, event)
	switch {
	case err == nil:
	case errors.Is(err, ErrDuplicateEvent):
		stored, getErr := w.repo.Get(ctx, event.ID)
		if getErr != nil {
			err = getErr
			break
		}
		w.observeCreation(OutcomeDuplicate)
		w.logger.Info("crisis event already recorded", "event_id", stored.ID, "user_id", stored.UserID)
		return stored, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist crisis event")
		w.observeCreation(OutcomeFailed)
		w.raiseFailsafe(ctx, event, attempts, err)
		return CrisisEvent{}, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}

	w.observeCreation(OutcomeCreated)
	w.logger.Info("crisis event created",
		"event_id", event.ID,
		"user_id", event.UserID,
		"level", event.FlagLevel.String(),
		"attempts", attempts,
	)
	w.recordAudit(ctx, TransitionAudit{
		EventID:    event.ID,
		UserID:     event.UserID,
		To:         StatusPending,
		Actor:      SystemActor,
		Outcome:    OutcomeCreated,
		OccurredAt: now,
	})
	w.afterCreate(ctx, event)
	return event, nil
}

// AlertUnattributed raises a fail-safe alert for a CRITICAL assessment that
// carries no user id, so no event can be opened for it. It reports whether
// an alert was raised.
func (w *Workflow) AlertUnattributed(ctx context.Context, req CreateRequest) bool {
	if req.Assessment.OverallLevel < detection.SeverityCritical {
		return false
	}
	w.logger.Error("critical assessment without user id",
		"detection_id", req.DetectionID,
		"source", string(req.Source),
		"level", req.Assessment.OverallLevel.String(),
	)
	if w.observer != nil {
		w.observer.ObserveFailsafeAlert()
	}
	if w.alerter == nil {
		return true
	}
	alertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := w.alerter.Alert(alertCtx, FailsafeAlert{
		DetectionID: req.DetectionID,
		Level:       req.Assessment.OverallLevel,
		Confidence:  req.Assessment.Confidence,
		Reason:      ReasonUnattributed,
		OccurredAt:  w.now(),
	}); err != nil {
		w.logger.Error("fail-safe alert delivery failed", "detection_id", req.DetectionID, "error", err)
	}
	return true
}

func (w *Workflow) persistWithRetry(ctx context.Context, event CrisisEvent) (int, error) {
	var lastErr error
	for attempt := 0; attempt < w.maxAttempts; attempt++ {
		if attempt > 0 {
			if w.observer != nil {
				w.observer.ObservePersistRetry()
			}
			if err := w.sleep(ctx, w.nextDelay(attempt-1)); err != nil {
				return attempt, fmt.Errorf("escalation: retry aborted: %w (last error: %v)", err, lastErr)
			}
		}
		err := w.repo.Create(ctx, event)
		if err == nil || errors.Is(err, ErrDuplicateEvent) {
			return attempt + 1, err
		}
		lastErr = err
		if !IsTransient(err) {
			return attempt + 1, err
		}
		w.logger.Warn("crisis event persist failed, retrying",
			"event_id", event.ID, "attempt", attempt+1, "error", err)
	}
	return w.maxAttempts, lastErr
}

func (w *Workflow) nextDelay(attempts int) time.Duration {
	delay := w.baseDelay * time.Duration(1<<attempts)
	if delay > w.maxDelay || delay <= 0 {
		delay = w.maxDelay
	}
	return delay
}

func (w *Workflow) raiseFailsafe(ctx context.Context, event CrisisEvent, attempts int, cause error) {
	w.logger.Error("crisis event could not be persisted",
		"event_id", event.ID,
		"user_id", event.UserID,
		"level", event.FlagLevel.String(),
		"attempts", attempts,
		"error", cause,
	)
	if w.observer != nil {
		w.observer.ObserveFailsafeAlert()
	}
	if w.alerter == nil {
		return
	}
	// the caller's context may already be cancelled; the alert must still go out
	alertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := w.alerter.Alert(alertCtx, FailsafeAlert{
		EventID:     event.ID,
		UserID:      event.UserID,
		DetectionID: event.DetectionID,
		Level:       event.FlagLevel,
		Confidence:  event.Confidence,
		Attempts:    attempts,
		Reason:      cause.Error(),
		OccurredAt:  w.now(),
	}); err != nil {
		w.logger.Error("fail-safe alert delivery failed", "event_id", event.ID, "error", err)
	}
}

// Transition applies req to the event. Requests without an expected version,
// invalid targets, stale versions and lost races are rejected and audited; a store failure while recording the
// transition is reported as ErrPersistenceFailed.
func (w *Workflow) Transition(ctx context.Context, id string, req TransitionRequest) (CrisisEvent, error) {
	ctx, span := workflowTracer.Start(ctx, "crisis.event.transition")
	defer span.End()
	span.SetAttributes(
		attribute.String("crisis.event_id", id),
		attribute.String("crisis.target", string(req.Target)),
	)

	current, err := w.repo.Get(ctx, id)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, ErrEventNotFound) {
			return CrisisEvent{}, err
		}
		return CrisisEvent{}, fmt.Errorf("escalation: load event %s: %w", id, err)
	}

	now := w.now()
	audit := TransitionAudit{
		EventID:    id,
		UserID:     current.UserID,
		From:       current.Status,
		To:         req.Target,
		Actor:      strings.TrimSpace(req.Actor),
		Notes:      req.Notes,
		OccurredAt: now,
	}

	if req.ExpectedVersion <= 0 {
		err := fmt.Errorf("%w: event %s", ErrPreconditionRequired, id)
		w.reject(ctx, audit, OutcomeUnguarded, err)
		return CrisisEvent{}, err
	}
	if req.ExpectedVersion != current.Version {
		err := fmt.Errorf("%w: event %s is at version %d, expected %d", ErrConflict, id, current.Version, req.ExpectedVersion)
		w.reject(ctx, audit, OutcomeConflict, err)
		return CrisisEvent{}, err
	}

	next, err := Apply(current, req.Target, req.Actor, req.Notes, now)
	if err != nil {
		w.reject(ctx, audit, OutcomeRejected, err)
		return CrisisEvent{}, err
	}

	if err := w.repo.Update(ctx, next, current.Version); err != nil {
		if errors.Is(err, ErrConflict) {
			err = fmt.Errorf("%w: event %s changed concurrently", ErrConflict, id)
			w.reject(ctx, audit, OutcomeConflict, err)
			return CrisisEvent{}, err
		}
		if errors.Is(err, ErrEventNotFound) {
			return CrisisEvent{}, err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist transition")
		w.reject(ctx, audit, OutcomeFailed, err)
		return CrisisEvent{}, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}

	audit.Actor = strings.TrimSpace(req.Actor)
	audit.Outcome = OutcomeApplied
	w.recordAudit(ctx, audit)
	w.observeTransition(OutcomeApplied)
	w.logger.Info("crisis event transitioned",
		"event_id", id,
		"from", string(current.Status),
		"to", string(next.Status),
		"actor", audit.Actor,
		"version", next.Version,
	)
	w.afterTransition(ctx, next)
	return next, nil
}

// Get returns one event.
func (w *Workflow) Get(ctx context.Context, id string) (CrisisEvent, error) {
	return w.repo.Get(ctx, id)
}

// List returns events matching filter, newest first.
func (w *Workflow) List(ctx context.Context, filter ListFilter) ([]CrisisEvent, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("escalation: unknown status %q", filter.Status)
	}
	return w.repo.List(ctx, filter)
}

func (w *Workflow) reject(ctx context.Context, audit TransitionAudit, outcome string, cause error) {
	audit.Outcome = outcome
	audit.Reason = cause.Error()
	w.observeTransition(outcome)
	w.logger.Warn("crisis event transition rejected",
		"event_id", audit.EventID,
		"from", string(audit.From),
		"to", string(audit.To),
		"actor", audit.Actor,
		"outcome", outcome,
		"error", cause,
	)
	w.recordAudit(ctx, audit)
}

func (w *Workflow) recordAudit(ctx context.Context, audit TransitionAudit) {
	if w.audit == nil {
		return
	}
	if err := w.audit.RecordTransition(ctx, audit); err != nil {
		w.logger.Error("crisis audit write failed", "event_id", audit.EventID, "outcome", audit.Outcome, "error", err)
	}
}

// Hooks run after commit; their failures are logged only.
func (w *Workflow) afterCreate(ctx context.Context, event CrisisEvent) {
	w.publish(ctx, Change{Kind: ChangeCreated, Event: event})
	if w.incidents != nil {
		if err := w.incidents.RecordIncident(ctx, event.UserID, detection.Incident{
			EventID:   event.ID,
			Timestamp: event.DetectedAt,
			Level:     event.FlagLevel,
		}); err != nil {
			w.logger.Warn("failed to record incident history", "event_id", event.ID, "error", err)
		}
	}
}

func (w *Workflow) afterTransition(ctx context.Context, event CrisisEvent) {
	entry, _ := event.LastEntry()
	w.publish(ctx, Change{Kind: ChangeTransitioned, Event: event, Entry: &entry})
	if !event.Status.Terminal() {
		return
	}
	if w.incidents != nil {
		if err := w.incidents.ResolveIncident(ctx, event.UserID, event.ID, strings.ToLower(string(event.Status))); err != nil {
			w.logger.Warn("failed to resolve incident history", "event_id", event.ID, "error", err)
		}
	}
	if w.archiver != nil {
		if err := w.archiver.ArchiveEvent(ctx, event); err != nil {
			w.logger.Warn("failed to archive crisis event", "event_id", event.ID, "error", err)
		}
	}
}

func (w *Workflow) publish(ctx context.Context, change Change) {
	if w.publisher == nil {
		return
	}
	if err := w.publisher.Publish(ctx, change); err != nil {
		w.logger.Warn("failed to publish crisis event change", "event_id", change.Event.ID, "kind", string(change.Kind), "error", err)
	}
}

func (w *Workflow) observeCreation(outcome string) {
	if w.observer != nil {
		w.observer.ObserveEventCreation(outcome)
	}
}

func (w *Workflow) observeTransition(outcome string) {
	if w.observer != nil {
		w.observer.ObserveTransition(outcome)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
