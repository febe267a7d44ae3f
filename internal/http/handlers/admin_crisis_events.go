package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/wellbeing-platform/internal/escalation"
	"github.com/wolfman30/wellbeing-platform/internal/http/middleware"
	"github.com/wolfman30/wellbeing-platform/pkg/logging"
)

// CrisisEventService is the slice of the workflow the review endpoints use.
type CrisisEventService interface {
	Get(ctx context.Context, id string) (escalation.CrisisEvent, error)
	List(ctx context.Context, filter escalation.ListFilter) ([]escalation.CrisisEvent, error)
	Transition(ctx context.Context, id string, req escalation.TransitionRequest) (escalation.CrisisEvent, error)
}

// AdminCrisisEventsHandler serves the crisis review API.
type AdminCrisisEventsHandler struct {
	events CrisisEventService
	logger *logging.Logger
}

func NewAdminCrisisEventsHandler(events CrisisEventService, logger *logging.Logger) *AdminCrisisEventsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminCrisisEventsHandler{events: events, logger: logger}
}

// CrisisEventsListResponse is a page of events, newest first.
type CrisisEventsListResponse struct {
	Events []escalation.CrisisEvent `json:"events"`
	Count  int                      `json:"count"`
	Limit  int                      `json:"limit"`
	Offset int                      `json:"offset"`
}

// TransitionBody is the body of a transition request.
type TransitionBody struct {
	ToStatus        string            `json:"to_status"`
	Notes           *escalation.Notes `json:"notes,omitempty"`
	ExpectedVersion int64             `json:"expected_version,omitempty"`
}

// ListEvents returns events filtered by status and user.
// GET /admin/crisis-events?status=PENDING&user_id=&limit=&offset=
func (h *AdminCrisisEventsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := escalation.ListFilter{UserID: strings.TrimSpace(q.Get("user_id"))}
	if raw := q.Get("status"); raw != "" {
		status, err := escalation.ParseStatus(raw)
		if err != nil {
			jsonError(w, "unknown status "+raw, http.StatusBadRequest)
			return
		}
		filter.Status = status
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		jsonError(w, "limit must be a non-negative integer", http.StatusBadRequest)
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		jsonError(w, "offset must be a non-negative integer", http.StatusBadRequest)
		return
	}

	events, err := h.events.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list crisis events", "status", string(filter.Status), "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []escalation.CrisisEvent{}
	}
	writeJSON(w, http.StatusOK, CrisisEventsListResponse{
		Events: events,
		Count:  len(events),
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

// GetEvent returns one event with its full status history. The ETag carries
// the version for use in If-Match.
// GET /admin/crisis-events/{eventID}
func (h *AdminCrisisEventsHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := eventIDParam(w, r)
	if !ok {
		return
	}
	event, err := h.events.Get(r.Context(), id)
	if err != nil {
		h.writeWorkflowError(w, id, err)
		return
	}
	w.Header().Set("ETag", versionETag(event.Version))
	writeJSON(w, http.StatusOK, event)
}

// Transition moves an event along the escalation graph. The acting reviewer
// comes from the admin token.
// POST /admin/crisis-events/{eventID}/transitions
func (h *AdminCrisisEventsHandler) Transition(w http.ResponseWriter, r *http.Request) {
	id, ok := eventIDParam(w, r)
	if !ok {
		return
	}
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		jsonError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var body TransitionBody
	if err := decodeJSON(w, r, &body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	target, err := escalation.ParseStatus(body.ToStatus)
	if err != nil {
		jsonError(w, "unknown status "+body.ToStatus, http.StatusBadRequest)
		return
	}
	expected := body.ExpectedVersion
	if raw := r.Header.Get("If-Match"); raw != "" {
		v, err := parseVersionETag(raw)
		if err != nil {
			jsonError(w, "invalid If-Match header", http.StatusBadRequest)
			return
		}
		if expected != 0 && expected != v {
			jsonError(w, "If-Match and expected_version disagree", http.StatusBadRequest)
			return
		}
		expected = v
	}

	event, err := h.events.Transition(r.Context(), id, escalation.TransitionRequest{
		Target:          target,
		Actor:           actor,
		Notes:           body.Notes,
		ExpectedVersion: expected,
	})
	if err != nil {
		h.writeWorkflowError(w, id, err)
		return
	}
	w.Header().Set("ETag", versionETag(event.Version))
	writeJSON(w, http.StatusOK, event)
}

func (h *AdminCrisisEventsHandler) writeWorkflowError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, escalation.ErrEventNotFound):
		jsonError(w, "crisis event not found", http.StatusNotFound)
	case errors.Is(err, escalation.ErrInvalidTransition):
		jsonError(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, escalation.ErrConflict):
		jsonError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, escalation.ErrPreconditionRequired):
		jsonError(w, "If-Match or expected_version required", http.StatusPreconditionRequired)
	case errors.Is(err, escalation.ErrInvalidNotes), errors.Is(err, escalation.ErrMissingActor):
		jsonError(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error("crisis event request failed", "event_id", id, "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
	}
}

// eventIDParam reads the event id from the path. Event ids are UUIDs, so
// anything else cannot name a stored event.
func eventIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "eventID")
	if id == "" {
		jsonError(w, "missing eventID", http.StatusBadRequest)
		return "", false
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		jsonError(w, "crisis event not found", http.StatusNotFound)
		return "", false
	}
	return parsed.String(), true
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, errors.New("negative value")
	}
	return v, nil
}

func versionETag(version int64) string {
	return `"` + strconv.FormatInt(version, 10) + `"`
}

func parseVersionETag(raw string) (int64, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "W/")
	v, err := strconv.ParseInt(strings.Trim(raw, `"`), 10, 64)
	if err != nil || v < 1 {
		return 0, errors.New("invalid version")
	}
	return v, nil
}
