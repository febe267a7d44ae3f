package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/wellbeing-platform/internal/compliance"
	"github.com/wolfman30/wellbeing-platform/internal/http/middleware"
	"github.com/wolfman30/wellbeing-platform/pkg/logging"
)

type fakeEraser struct {
	forgotten []string
	err       error
}

func (f *fakeEraser) Forget(_ context.Context, userID string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.forgotten = append(f.forgotten, userID)
	return 4, nil
}

type fakeAuditTrail struct {
	erased  []string
	filters []compliance.AuditFilter
	events  []compliance.AuditEvent
}

func (f *fakeAuditTrail) LogHistoryErased(_ context.Context, userID, actor string, keys int64) error {
	f.erased = append(f.erased, userID+"/"+actor)
	return nil
}

func (f *fakeAuditTrail) QueryEvents(_ context.Context, filter compliance.AuditFilter) ([]compliance.AuditEvent, error) {
	f.filters = append(f.filters, filter)
	return f.events, nil
}

func usersRouter(h *AdminUsersHandler, actor string) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if actor != "" {
				r = r.WithContext(middleware.WithActor(r.Context(), actor))
			}
			next.ServeHTTP(w, r)
		})
	})
	r.Delete("/admin/users/{userID}/history", h.EraseHistory)
	r.Get("/admin/audit-events", h.ListAuditEvents)
	return r
}

func TestAdminUsers_EraseHistory(t *testing.T) {
	eraser := &fakeEraser{}
	audit := &fakeAuditTrail{}
	router := usersRouter(NewAdminUsersHandler(eraser, audit, logging.Discard()), "admin-1")

	rec := doRequest(router, http.MethodDelete, "/admin/users/user-9/history", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp EraseHistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "user-9", resp.UserID)
	assert.Equal(t, int64(4), resp.KeysDeleted)
	assert.Equal(t, []string{"user-9"}, eraser.forgotten)
	assert.Equal(t, []string{"user-9/admin-1"}, audit.erased)
}

func TestAdminUsers_EraseHistoryErrors(t *testing.T) {
	rec := doRequest(usersRouter(NewAdminUsersHandler(&fakeEraser{}, nil, logging.Discard()), ""), http.MethodDelete, "/admin/users/u/history", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(usersRouter(NewAdminUsersHandler(nil, nil, logging.Discard()), "admin"), http.MethodDelete, "/admin/users/u/history", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	eraser := &fakeEraser{err: errors.New("redis down")}
	rec = doRequest(usersRouter(NewAdminUsersHandler(eraser, nil, logging.Discard()), "admin"), http.MethodDelete, "/admin/users/u/history", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAdminUsers_ListAuditEvents(t *testing.T) {
	audit := &fakeAuditTrail{events: []compliance.AuditEvent{{ID: "a1", EventType: compliance.EventAssessment, UserID: "u1"}}}
	router := usersRouter(NewAdminUsersHandler(nil, audit, logging.Discard()), "admin")

	rec := doRequest(router, http.MethodGet, "/admin/audit-events?user_id=u1&since=2026-03-01T00:00:00Z&limit=20", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp AuditEventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)

	require.Len(t, audit.filters, 1)
	assert.Equal(t, "u1", audit.filters[0].UserID)
	assert.Equal(t, 20, audit.filters[0].Limit)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), audit.filters[0].StartTime)

	for _, bad := range []string{"?since=yesterday", "?limit=0", "?limit=900", "?offset=-1"} {
		rec = doRequest(router, http.MethodGet, "/admin/audit-events"+bad, "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}

	rec = doRequest(usersRouter(NewAdminUsersHandler(nil, nil, logging.Discard()), "admin"), http.MethodGet, "/admin/audit-events", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
