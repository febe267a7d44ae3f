package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/wellbeing-platform/internal/compliance"
	"github.com/wolfman30/wellbeing-platform/internal/http/middleware"
	"github.com/wolfman30/wellbeing-platform/pkg/logging"
)

// HistoryEraser deletes a user's stored behavioural history.
type HistoryEraser interface {
	Forget(ctx context.Context, userID string) (int64, error)
}

// AuditTrail is the compliance log as seen by the admin endpoints.
type AuditTrail interface {
	LogHistoryErased(ctx context.Context, userID, actor string, keys int64) error
	QueryEvents(ctx context.Context, filter compliance.AuditFilter) ([]compliance.AuditEvent, error)
}

// AdminUsersHandler serves per-user admin operations: history erasure and
// the audit trail.
type AdminUsersHandler struct {
	history HistoryEraser
	audit   AuditTrail
	logger  *logging.Logger
}

func NewAdminUsersHandler(history HistoryEraser, audit AuditTrail, logger *logging.Logger) *AdminUsersHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminUsersHandler{history: history, audit: audit, logger: logger}
}

// EraseHistoryResponse reports how many history keys were removed.
type EraseHistoryResponse struct {
	UserID      string `json:"user_id"`
	KeysDeleted int64  `json:"keys_deleted"`
}

// EraseHistory deletes the user's moods, messages, incidents, patterns and
// risk factors. Crisis events and the audit trail are kept.
// DELETE /admin/users/{userID}/history
func (h *AdminUsersHandler) EraseHistory(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		jsonError(w, "missing userID", http.StatusBadRequest)
		return
	}
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		jsonError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if h.history == nil {
		jsonError(w, "history store not configured", http.StatusServiceUnavailable)
		return
	}

	n, err := h.history.Forget(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to erase user history", "user_id", userID, "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if h.audit != nil {
		if err := h.audit.LogHistoryErased(r.Context(), userID, actor, n); err != nil {
			h.logger.Error("failed to audit history erasure", "user_id", userID, "error", err)
		}
	}
	h.logger.Info("user history erased", "user_id", userID, "actor", actor, "keys_deleted", n)
	writeJSON(w, http.StatusOK, EraseHistoryResponse{UserID: userID, KeysDeleted: n})
}

// AuditEventsResponse is a page of audit records, newest first.
type AuditEventsResponse struct {
	Events []compliance.AuditEvent `json:"events"`
	Count  int                     `json:"count"`
}

// ListAuditEvents queries the audit trail.
// GET /admin/audit-events?user_id=&crisis_event_id=&event_type=&since=&until=&limit=&offset=
func (h *AdminUsersHandler) ListAuditEvents(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		jsonError(w, "audit trail not configured", http.StatusServiceUnavailable)
		return
	}
	q := r.URL.Query()
	filter := compliance.AuditFilter{
		UserID:        strings.TrimSpace(q.Get("user_id")),
		CrisisEventID: strings.TrimSpace(q.Get("crisis_event_id")),
		EventType:     compliance.AuditEventType(strings.TrimSpace(q.Get("event_type"))),
		Limit:         100,
	}
	var err error
	if filter.StartTime, err = parseTimeParam(q.Get("since")); err != nil {
		jsonError(w, "since must be RFC3339", http.StatusBadRequest)
		return
	}
	if filter.EndTime, err = parseTimeParam(q.Get("until")); err != nil {
		jsonError(w, "until must be RFC3339", http.StatusBadRequest)
		return
	}
	if raw := q.Get("limit"); raw != "" {
		if filter.Limit, err = strconv.Atoi(raw); err != nil || filter.Limit < 1 || filter.Limit > 500 {
			jsonError(w, "limit must be between 1 and 500", http.StatusBadRequest)
			return
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if filter.Offset, err = strconv.Atoi(raw); err != nil || filter.Offset < 0 {
			jsonError(w, "offset must be positive", http.StatusBadRequest)
			return
		}
	}

	events, err := h.audit.QueryEvents(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to query audit events", "user_id", filter.UserID, "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []compliance.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, AuditEventsResponse{Events: events, Count: len(events)})
}

func parseTimeParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}
