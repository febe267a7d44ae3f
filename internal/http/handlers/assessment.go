package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/wellbeing-platform/internal/detection"
	"github.com/wolfman30/wellbeing-platform/internal/escalation"
	"github.com/wolfman30/wellbeing-platform/internal/resources"
	"github.com/wolfman30/wellbeing-platform/pkg/logging"
)

// AssessmentSchema is the request/response schema version.
const AssessmentSchema = "crisis.v1"

// ContextLoader fills missing context fields from the user's stored history.
type ContextLoader interface {
	Load(ctx context.Context, base detection.CrisisContext) (detection.CrisisContext, detection.CrisisHistory, bool)
}

// Assessor runs the detection pipeline.
type Assessor interface {
	Assess(ctx context.Context, in detection.Input) detection.Result
}

// EventCreator opens crisis events for actionable assessments.
type EventCreator interface {
	CreateFromAssessment(ctx context.Context, req escalation.CreateRequest) (escalation.CrisisEvent, error)
}

// UnattributedAlerter raises the fail-safe path for critical assessments
// that carry no user id.
type UnattributedAlerter interface {
	AlertUnattributed(ctx context.Context, req escalation.CreateRequest) bool
}

// AssessmentAuditor records detection runs.
type AssessmentAuditor interface {
	LogAssessment(ctx context.Context, userID, detectionID string, a detection.CrisisAssessment, historyDegraded bool) error
}

// Disclaimer appends the non-diagnostic notice to user-facing text.
type Disclaimer interface {
	AddDisclaimer(ctx context.Context, message, userID string) string
}

// HistoryRecorder stores the latest mood and message for future lookups.
type HistoryRecorder interface {
	AppendMood(ctx context.Context, userID string, mood int) error
	AppendMessage(ctx context.Context, userID, message string) error
}

// LookupObserver is told whether the history lookup degraded.
type LookupObserver interface {
	ObserveHistoryLookup(degraded bool)
}

// AssessmentRequest is the crisis.v1 request body.
type AssessmentRequest struct {
	Schema                   string                   `json:"schema,omitempty"`
	UserID                   string                   `json:"user_id"`
	DetectionID              string                   `json:"detection_id,omitempty"`
	Source                   string                   `json:"source,omitempty"`
	Message                  string                   `json:"message"`
	CurrentMood              *int                     `json:"current_mood,omitempty"`
	RecentMoods              []int                    `json:"recent_moods,omitempty"`
	ConversationHistory      []string                 `json:"conversation_history,omitempty"`
	PreviousCrisisEventCount int                      `json:"previous_crisis_event_count,omitempty"`
	TimeOfDay                string                   `json:"time_of_day,omitempty"`
	Location                 string                   `json:"location,omitempty"`
	History                  *detection.CrisisHistory `json:"history,omitempty"`
}

// EscalationSummary reports what happened to the crisis event.
type EscalationSummary struct {
	Actionable bool                    `json:"actionable"`
	Outcome    string                  `json:"outcome"`
	Event      *escalation.CrisisEvent `json:"event,omitempty"`
	Error      string                  `json:"error,omitempty"`
}

// AssessmentResponse is the crisis.v1 response body.
type AssessmentResponse struct {
	Schema          string                     `json:"schema"`
	DetectionID     string                     `json:"detection_id"`
	Detected        bool                       `json:"detected"`
	Assessment      detection.CrisisAssessment `json:"assessment"`
	Stages          []detection.StageResult    `json:"stages"`
	Escalation      EscalationSummary          `json:"escalation"`
	Response        string                     `json:"response,omitempty"`
	Resources       *resources.Resources       `json:"resources,omitempty"`
	HistoryDegraded bool                       `json:"history_degraded"`
}

// Escalation outcomes reported to the caller.
const (
	escalationSkipped       = "skipped"
	escalationCreated       = "created"
	escalationFailsafe      = "failsafe_alerted"
	escalationMissingUserID = "missing_user_id"
)

// AssessmentHandler serves POST /v1/assessments.
type AssessmentHandler struct {
	assessor   Assessor
	composer   *resources.Composer
	loader     ContextLoader
	events     EventCreator
	anonymous  UnattributedAlerter
	audit      AssessmentAuditor
	disclaimer Disclaimer
	history    HistoryRecorder
	observer   LookupObserver
	actionable func(detection.Severity) bool
	logger     *logging.Logger
}

func NewAssessmentHandler(assessor Assessor, composer *resources.Composer, logger *logging.Logger) *AssessmentHandler {
	if logger == nil {
		logger = logging.Default()
	}
	if composer == nil {
		composer = resources.NewComposer(nil)
	}
	return &AssessmentHandler{
		assessor:   assessor,
		composer:   composer,
		actionable: func(level detection.Severity) bool { return level > detection.SeverityNone },
		logger:     logger,
	}
}

func (h *AssessmentHandler) WithLoader(l ContextLoader) *AssessmentHandler {
	h.loader = l
	return h
}

// WithEvents attaches the workflow; actionable decides which levels it sees.
// A creator that also implements UnattributedAlerter is alerted about
// critical assessments without a user id.
func (h *AssessmentHandler) WithEvents(c EventCreator, actionable func(detection.Severity) bool) *AssessmentHandler {
	h.events = c
	if a, ok := c.(UnattributedAlerter); ok {
		h.anonymous = a
	}
	if actionable != nil {
		h.actionable = actionable
	}
	return h
}

func (h *AssessmentHandler) WithAudit(a AssessmentAuditor) *AssessmentHandler {
	h.audit = a
	return h
}

func (h *AssessmentHandler) WithDisclaimer(d Disclaimer) *AssessmentHandler {
	h.disclaimer = d
	return h
}

func (h *AssessmentHandler) WithHistory(r HistoryRecorder) *AssessmentHandler {
	h.history = r
	return h
}

func (h *AssessmentHandler) WithObserver(o LookupObserver) *AssessmentHandler {
	h.observer = o
	return h
}

// Assess runs detection for one message and opens a crisis event when the
// result is actionable. Persistence failures never hide the assessment or
// the resource list from the caller.
// POST /v1/assessments
func (h *AssessmentHandler) Assess(w http.ResponseWriter, r *http.Request) {
	var req AssessmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Schema != "" && req.Schema != AssessmentSchema {
		jsonError(w, "unsupported schema "+req.Schema, http.StatusBadRequest)
		return
	}
	source := escalation.SourceAPI
	if req.Source != "" {
		source = escalation.Source(strings.ToLower(strings.TrimSpace(req.Source)))
		if !source.Valid() {
			jsonError(w, "unknown source "+req.Source, http.StatusBadRequest)
			return
		}
	}
	if req.CurrentMood != nil && (*req.CurrentMood < 1 || *req.CurrentMood > 10) {
		jsonError(w, "current_mood must be between 1 and 10", http.StatusBadRequest)
		return
	}
	if req.DetectionID == "" {
		req.DetectionID = uuid.NewString()
	}
	ctx := r.Context()
	detectedAt := time.Now().UTC()

	cc := detection.CrisisContext{
		UserID:                   strings.TrimSpace(req.UserID),
		Message:                  req.Message,
		CurrentMood:              req.CurrentMood,
		RecentMoods:              req.RecentMoods,
		ConversationHistory:      req.ConversationHistory,
		PreviousCrisisEventCount: req.PreviousCrisisEventCount,
		TimeOfDay:                req.TimeOfDay,
		Location:                 req.Location,
	}
	var hist detection.CrisisHistory
	degraded := false
	if h.loader != nil {
		cc, hist, degraded = h.loader.Load(ctx, cc)
		if h.observer != nil && cc.UserID != "" {
			h.observer.ObserveHistoryLookup(degraded)
		}
	}
	if req.History != nil {
		hist = *req.History
	}
	// The incident window ends at detection time, never at the latest incident.
	if hist.AsOf.IsZero() {
		hist.AsOf = detectedAt
	}

	result := h.assessor.Assess(ctx, detection.Input{Context: cc, History: hist})
	assessment := result.Assessment

	if h.audit != nil {
		if err := h.audit.LogAssessment(ctx, cc.UserID, req.DetectionID, assessment, degraded); err != nil {
			h.logger.Error("failed to audit assessment", "user_id", cc.UserID, "detection_id", req.DetectionID, "error", err)
		}
	}

	resp := AssessmentResponse{
		Schema:          AssessmentSchema,
		DetectionID:     req.DetectionID,
		Detected:        result.Detected,
		Assessment:      assessment,
		Stages:          []detection.StageResult{result.Stage1, result.Stage2, result.Stage3},
		Escalation:      EscalationSummary{Outcome: escalationSkipped},
		HistoryDegraded: degraded,
	}
	status := http.StatusOK

	if h.events != nil && h.actionable(assessment.OverallLevel) {
		resp.Escalation.Actionable = true
		switch {
		case cc.UserID == "":
			resp.Escalation.Outcome = escalationMissingUserID
			if h.anonymous != nil {
				h.anonymous.AlertUnattributed(ctx, escalation.CreateRequest{
					DetectionID: req.DetectionID,
					Source:      source,
					DetectedAt:  detectedAt,
					Assessment:  assessment,
				})
			}
		default:
			event, err := h.events.CreateFromAssessment(ctx, escalation.CreateRequest{
				UserID:      cc.UserID,
				DetectionID: req.DetectionID,
				Source:      source,
				DetectedAt:  detectedAt,
				Assessment:  assessment,
			})
			switch {
			case err == nil:
				resp.Escalation.Outcome = escalationCreated
				resp.Escalation.Event = &event
				status = http.StatusCreated
			case errors.Is(err, escalation.ErrNotActionable):
				resp.Escalation.Actionable = false
			case errors.Is(err, escalation.ErrPersistenceFailed):
				resp.Escalation.Outcome = escalationFailsafe
				resp.Escalation.Error = "crisis event could not be stored; on-call staff have been alerted"
			default:
				h.logger.Error("failed to create crisis event", "user_id", cc.UserID, "detection_id", req.DetectionID, "error", err)
				resp.Escalation.Outcome = escalationFailsafe
				resp.Escalation.Error = "crisis event could not be created"
			}
		}
	}

	if result.Detected {
		text := h.composer.GenerateCrisisResponse(assessment, cc.Location)
		if h.disclaimer != nil {
			text = h.disclaimer.AddDisclaimer(ctx, text, cc.UserID)
		}
		resp.Response = text
		res := h.composer.Directory().GetCrisisResources(cc.Location)
		resp.Resources = &res
	}

	h.remember(ctx, cc.UserID, req)
	writeJSON(w, status, resp)
}

// remember stores the caller-supplied mood and message after the
// assessment so the next lookup sees them.
func (h *AssessmentHandler) remember(ctx context.Context, userID string, req AssessmentRequest) {
	if h.history == nil || userID == "" {
		return
	}
	if req.CurrentMood != nil {
		if err := h.history.AppendMood(ctx, userID, *req.CurrentMood); err != nil {
			h.logger.Warn("failed to store mood", "user_id", userID, "error", err)
		}
	}
	if strings.TrimSpace(req.Message) != "" {
		if err := h.history.AppendMessage(ctx, userID, req.Message); err != nil {
			h.logger.Warn("failed to store message history", "user_id", userID, "error", err)
		}
	}
}
