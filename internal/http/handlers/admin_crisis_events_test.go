package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/wellbeing-platform/internal/detection"
	"github.com/wolfman30/wellbeing-platform/internal/escalation"
	"github.com/wolfman30/wellbeing-platform/internal/http/middleware"
	"github.com/wolfman30/wellbeing-platform/pkg/logging"
)

func seededWorkflow(t *testing.T) (*escalation.Workflow, escalation.CrisisEvent) {
	t.Helper()
	wf := escalation.NewWorkflow(escalation.NewInMemoryRepository(), logging.Discard())
	event, err := wf.CreateFromAssessment(context.Background(), escalation.CreateRequest{
		UserID:      "user-1",
		DetectionID: "det-1",
		DetectedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Assessment: detection.CrisisAssessment{
			OverallLevel:      detection.SeverityHigh,
			Confidence:        0.8,
			MatchedCategories: []detection.Category{detection.CategorySelfHarm},
		},
	})
	require.NoError(t, err)
	return wf, event
}

func adminRouter(h *AdminCrisisEventsHandler, actor string) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if actor != "" {
				r = r.WithContext(middleware.WithActor(r.Context(), actor))
			}
			next.ServeHTTP(w, r)
		})
	})
	r.Get("/admin/crisis-events", h.ListEvents)
	r.Get("/admin/crisis-events/{eventID}", h.GetEvent)
	r.Post("/admin/crisis-events/{eventID}/transitions", h.Transition)
	return r
}

func doRequest(router http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAdminCrisisEvents_ListAndGet(t *testing.T) {
	wf, event := seededWorkflow(t)
	router := adminRouter(NewAdminCrisisEventsHandler(wf, logging.Discard()), "reviewer-1")

	rec := doRequest(router, http.MethodGet, "/admin/crisis-events?status=pending", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list CrisisEventsListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, event.ID, list.Events[0].ID)

	rec = doRequest(router, http.MethodGet, "/admin/crisis-events?status=RESOLVED", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 0, list.Count)
	assert.NotNil(t, list.Events)

	for _, query := range []string{"status=open", "limit=ten", "offset=-1", "limit=5&offset=x"} {
		rec = doRequest(router, http.MethodGet, "/admin/crisis-events?"+query, "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}

	rec = doRequest(router, http.MethodGet, "/admin/crisis-events?limit=5&offset=0", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 5, list.Limit)

	rec = doRequest(router, http.MethodGet, "/admin/crisis-events/"+event.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `"1"`, rec.Header().Get("ETag"))

	rec = doRequest(router, http.MethodGet, "/admin/crisis-events/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminCrisisEvents_TransitionAppliesAndRecordsActor(t *testing.T) {
	wf, event := seededWorkflow(t)
	router := adminRouter(NewAdminCrisisEventsHandler(wf, logging.Discard()), "reviewer-1")

	rec := doRequest(router, http.MethodPost, "/admin/crisis-events/"+event.ID+"/transitions",
		`{"to_status":"escalated","notes":{"free_text":"called the user"}}`,
		map[string]string{"If-Match": `"1"`})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, `"2"`, rec.Header().Get("ETag"))
	var got escalation.CrisisEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, escalation.StatusEscalated, got.Status)
	require.Len(t, got.StatusHistory, 1)
	assert.Equal(t, "reviewer-1", got.StatusHistory[0].Actor)
	assert.Equal(t, escalation.StatusPending, got.StatusHistory[0].From)
}

func TestAdminCrisisEvents_TransitionErrors(t *testing.T) {
	wf, event := seededWorkflow(t)
	path := "/admin/crisis-events/" + event.ID + "/transitions"

	tests := []struct {
		name    string
		actor   string
		path    string
		body    string
		headers map[string]string
		want    int
	}{
		{"invalid edge", "reviewer-1", path, `{"to_status":"RESOLVED"}`, map[string]string{"If-Match": `"1"`}, http.StatusUnprocessableEntity},
		{"no precondition", "reviewer-1", path, `{"to_status":"ESCALATED"}`, nil, http.StatusPreconditionRequired},
		{"stale if-match", "reviewer-1", path, `{"to_status":"ESCALATED"}`, map[string]string{"If-Match": `"7"`}, http.StatusConflict},
		{"stale body version", "reviewer-1", path, `{"to_status":"ESCALATED","expected_version":3}`, nil, http.StatusConflict},
		{"disagreeing versions", "reviewer-1", path, `{"to_status":"ESCALATED","expected_version":2}`, map[string]string{"If-Match": `"1"`}, http.StatusBadRequest},
		{"unknown status", "reviewer-1", path, `{"to_status":"CLOSED"}`, nil, http.StatusBadRequest},
		{"bad notes", "reviewer-1", path, `{"to_status":"ESCALATED","notes":{"matched_categories":["weather"]}}`, map[string]string{"If-Match": `"1"`}, http.StatusBadRequest},
		{"malformed event id", "reviewer-1", "/admin/crisis-events/nope/transitions", `{"to_status":"ESCALATED"}`, map[string]string{"If-Match": `"1"`}, http.StatusNotFound},
		{"missing event", "reviewer-1", "/admin/crisis-events/9a1b2c3d-4e5f-4a6b-8c7d-0e1f2a3b4c5d/transitions", `{"to_status":"ESCALATED"}`, map[string]string{"If-Match": `"1"`}, http.StatusNotFound},
		{"no actor", "", path, `{"to_status":"ESCALATED"}`, nil, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := adminRouter(NewAdminCrisisEventsHandler(wf, logging.Discard()), tt.actor)
			rec := doRequest(router, http.MethodPost, tt.path, tt.body, tt.headers)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	stored, err := wf.Get(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Equal(t, escalation.StatusPending, stored.Status)
	assert.Equal(t, int64(1), stored.Version)
}

func TestAdminCrisisEvents_ConcurrentReviewersOneWins(t *testing.T) {
	for round := 0; round < 20; round++ {
		wf, event := seededWorkflow(t)
		path := "/admin/crisis-events/" + event.ID

		// Both reviewers load the same snapshot before acting on it.
		etags := make([]string, 2)
		for i := range etags {
			router := adminRouter(NewAdminCrisisEventsHandler(wf, logging.Discard()), "reviewer")
			rec := doRequest(router, http.MethodGet, path, "", nil)
			require.Equal(t, http.StatusOK, rec.Code)
			etags[i] = rec.Header().Get("ETag")
		}

		bodies := []string{`{"to_status":"ESCALATED"}`, `{"to_status":"DISMISSED"}`}
		codes := make([]int, len(bodies))
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i, body := range bodies {
			wg.Add(1)
			go func(i int, body string) {
				defer wg.Done()
				router := adminRouter(NewAdminCrisisEventsHandler(wf, logging.Discard()), fmt.Sprintf("reviewer-%d", i))
				<-start
				codes[i] = doRequest(router, http.MethodPost, path+"/transitions", body, map[string]string{"If-Match": etags[i]}).Code
			}(i, body)
		}
		close(start)
		wg.Wait()

		assert.ElementsMatch(t, []int{http.StatusOK, http.StatusConflict}, codes)
		stored, err := wf.Get(context.Background(), event.ID)
		require.NoError(t, err)
		require.Len(t, stored.StatusHistory, 1)
	}
}

func TestParseVersionETag(t *testing.T) {
	for raw, want := range map[string]int64{`"3"`: 3, `W/"4"`: 4, "5": 5} {
		got, err := parseVersionETag(raw)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	for _, raw := range []string{`"0"`, `"abc"`, ""} {
		_, err := parseVersionETag(raw)
		assert.Error(t, err)
	}
}
