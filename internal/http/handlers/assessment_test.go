package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/wellbeing-platform/internal/detection"
	"github.com/wolfman30/wellbeing-platform/internal/escalation"
	"github.com/wolfman30/wellbeing-platform/internal/resources"
	"github.com/wolfman30/wellbeing-platform/pkg/logging"
)

type stubLoader struct {
	hist     detection.CrisisHistory
	moods    []int
	degraded bool
	calls    int
}

func (s *stubLoader) Load(_ context.Context, base detection.CrisisContext) (detection.CrisisContext, detection.CrisisHistory, bool) {
	s.calls++
	if len(base.RecentMoods) == 0 {
		base.RecentMoods = s.moods
	}
	return base, s.hist, s.degraded
}

type recordingAuditor struct {
	levels   []detection.Severity
	degraded []bool
}

func (a *recordingAuditor) LogAssessment(_ context.Context, _, _ string, as detection.CrisisAssessment, degraded bool) error {
	a.levels = append(a.levels, as.OverallLevel)
	a.degraded = append(a.degraded, degraded)
	return nil
}

type suffixDisclaimer struct{}

func (suffixDisclaimer) AddDisclaimer(_ context.Context, message, _ string) string {
	return message + "\n\nNot a diagnosis."
}

type memoryHistory struct {
	moods    []int
	messages []string
}

func (m *memoryHistory) AppendMood(_ context.Context, _ string, mood int) error {
	m.moods = append(m.moods, mood)
	return nil
}

func (m *memoryHistory) AppendMessage(_ context.Context, _, message string) error {
	m.messages = append(m.messages, message)
	return nil
}

type lookupCounter struct {
	degraded []bool
}

func (l *lookupCounter) ObserveHistoryLookup(degraded bool) { l.degraded = append(l.degraded, degraded) }

type brokenRepo struct {
	escalation.Repository
}

func (brokenRepo) Create(context.Context, escalation.CrisisEvent) error {
	return errors.New("disk full")
}

type capturedAlerts struct {
	mu     sync.Mutex
	alerts []escalation.FailsafeAlert
}

func (c *capturedAlerts) Alert(_ context.Context, a escalation.FailsafeAlert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, a)
	return nil
}

func newAssessmentHandler(repo escalation.Repository) (*AssessmentHandler, *escalation.Workflow) {
	wf := escalation.NewWorkflow(repo, logging.Discard()).WithRetry(1, 1)
	h := NewAssessmentHandler(detection.NewDetector(nil, logging.Discard()), resources.NewComposer(nil), logging.Discard()).
		WithEvents(wf, wf.IsActionable)
	return h, wf
}

func postAssessment(t *testing.T, h *AssessmentHandler, body string) (*httptest.ResponseRecorder, AssessmentResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/assessments", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Assess(rec, req)
	var resp AssessmentResponse
	if rec.Code < 300 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func TestAssess_CriticalMessageOpensEvent(t *testing.T) {
	repo := escalation.NewInMemoryRepository()
	h, _ := newAssessmentHandler(repo)
	audit := &recordingAuditor{}
	hist := &memoryHistory{}
	h.WithAudit(audit).WithDisclaimer(suffixDisclaimer{}).WithHistory(hist)

	rec, resp := postAssessment(t, h, `{"schema":"crisis.v1","user_id":"user-1","detection_id":"det-1","message":"I want to kill myself","current_mood":2,"location":"GB"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, resp.Detected)
	assert.Equal(t, detection.SeverityCritical, resp.Assessment.OverallLevel)
	assert.Len(t, resp.Stages, 3)
	assert.Equal(t, "created", resp.Escalation.Outcome)
	require.NotNil(t, resp.Escalation.Event)
	assert.Equal(t, escalation.StatusPending, resp.Escalation.Event.Status)
	assert.Equal(t, escalation.EventID("user-1", "det-1"), resp.Escalation.Event.ID)
	assert.True(t, strings.HasPrefix(resp.Response, "I'm really concerned about your safety"))
	assert.True(t, strings.HasSuffix(resp.Response, "Not a diagnosis."))
	require.NotNil(t, resp.Resources)
	assert.Equal(t, "Samaritans: call 116 123", resp.Resources.Hotlines[0])

	assert.Equal(t, []detection.Severity{detection.SeverityCritical}, audit.levels)
	assert.Equal(t, []int{2}, hist.moods)
	assert.Equal(t, []string{"I want to kill myself"}, hist.messages)

	stored, err := repo.Get(context.Background(), resp.Escalation.Event.ID)
	require.NoError(t, err)
	assert.Equal(t, detection.SeverityCritical, stored.FlagLevel)
}

func TestAssess_RepeatedDetectionReturnsSameEvent(t *testing.T) {
	repo := escalation.NewInMemoryRepository()
	h, _ := newAssessmentHandler(repo)
	body := `{"user_id":"user-1","detection_id":"det-9","message":"I want to kill myself"}`

	_, first := postAssessment(t, h, body)
	_, second := postAssessment(t, h, body)

	require.NotNil(t, first.Escalation.Event)
	require.NotNil(t, second.Escalation.Event)
	assert.Equal(t, first.Escalation.Event.ID, second.Escalation.Event.ID)

	events, err := repo.List(context.Background(), escalation.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestAssess_BenignMessageSkipsEscalation(t *testing.T) {
	h, _ := newAssessmentHandler(escalation.NewInMemoryRepository())

	rec, resp := postAssessment(t, h, `{"user_id":"user-1","message":"Lovely weather for a walk"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, resp.Detected)
	assert.Equal(t, detection.SeverityNone, resp.Assessment.OverallLevel)
	assert.Equal(t, "skipped", resp.Escalation.Outcome)
	assert.False(t, resp.Escalation.Actionable)
	assert.Empty(t, resp.Response)
	assert.Nil(t, resp.Resources)
	assert.NotEmpty(t, resp.DetectionID)
}

func TestAssess_AnonymousActionableDoesNotCreate(t *testing.T) {
	repo := escalation.NewInMemoryRepository()
	alerts := &capturedAlerts{}
	wf := escalation.NewWorkflow(repo, logging.Discard()).WithRetry(1, 1).WithAlerter(alerts)
	h := NewAssessmentHandler(detection.NewDetector(nil, logging.Discard()), nil, logging.Discard()).
		WithEvents(wf, wf.IsActionable)

	rec, resp := postAssessment(t, h, `{"detection_id":"anon-1","message":"I want to kill myself"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Escalation.Actionable)
	assert.Equal(t, "missing_user_id", resp.Escalation.Outcome)
	assert.NotEmpty(t, resp.Response)

	events, err := repo.List(context.Background(), escalation.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, events)

	require.Len(t, alerts.alerts, 1)
	assert.Equal(t, detection.SeverityCritical, alerts.alerts[0].Level)
	assert.Equal(t, "anon-1", alerts.alerts[0].DetectionID)
	assert.Empty(t, alerts.alerts[0].UserID)
	assert.Equal(t, escalation.ReasonUnattributed, alerts.alerts[0].Reason)

	// Below CRITICAL an anonymous result is answered but not paged.
	rec, resp = postAssessment(t, h, `{"message":"I have been cutting myself again"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "missing_user_id", resp.Escalation.Outcome)
	assert.Less(t, resp.Assessment.OverallLevel, detection.SeverityCritical)
	assert.Len(t, alerts.alerts, 1)
}

func TestAssess_SuppliedHistoryIsMeasuredFromNow(t *testing.T) {
	h, _ := newAssessmentHandler(escalation.NewInMemoryRepository())

	body := `{"user_id":"user-1","message":"hello there","history":{"previous_incidents":[
		{"timestamp":"2019-03-01T10:00:00Z","level":"HIGH","resolution":"resolved"},
		{"timestamp":"2019-03-04T10:00:00Z","level":"CRITICAL","resolution":"resolved"}]}}`
	rec, resp := postAssessment(t, h, body)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, detection.SeverityNone, resp.Assessment.OverallLevel)
	assert.NotContains(t, resp.Stages[2].RiskFactors, "frequent_recent_crises")
	assert.NotContains(t, resp.Stages[2].RiskFactors, "escalating_crisis_pattern")
	assert.Equal(t, "skipped", resp.Escalation.Outcome)
}

func TestAssess_PersistenceFailureStillAnswers(t *testing.T) {
	alerts := &capturedAlerts{}
	wf := escalation.NewWorkflow(brokenRepo{}, logging.Discard()).WithRetry(1, 1).WithAlerter(alerts)
	h := NewAssessmentHandler(detection.NewDetector(nil, logging.Discard()), nil, logging.Discard()).
		WithEvents(wf, wf.IsActionable)

	rec, resp := postAssessment(t, h, `{"user_id":"user-1","message":"I want to kill myself"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "failsafe_alerted", resp.Escalation.Outcome)
	assert.Nil(t, resp.Escalation.Event)
	assert.NotEmpty(t, resp.Response)
	require.Len(t, alerts.alerts, 1)
	assert.Equal(t, detection.SeverityCritical, alerts.alerts[0].Level)
}

func TestAssess_UsesLoadedHistory(t *testing.T) {
	h, _ := newAssessmentHandler(escalation.NewInMemoryRepository())
	loader := &stubLoader{moods: []int{2, 2, 3}, degraded: true}
	obs := &lookupCounter{}
	audit := &recordingAuditor{}
	h.WithLoader(loader).WithObserver(obs).WithAudit(audit)

	rec, resp := postAssessment(t, h, `{"user_id":"user-1","message":"I feel hopeless"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, resp.HistoryDegraded)
	assert.Equal(t, 1, loader.calls)
	assert.Equal(t, []bool{true}, obs.degraded)
	assert.Equal(t, []bool{true}, audit.degraded)
}

func TestAssess_RejectsBadRequests(t *testing.T) {
	h, _ := newAssessmentHandler(escalation.NewInMemoryRepository())
	cases := map[string]string{
		"malformed":     `{"user_id":`,
		"unknown field": `{"user_id":"u","message":"hi","mood":3}`,
		"schema":        `{"schema":"crisis.v0","message":"hi"}`,
		"source":        `{"source":"fax","message":"hi"}`,
		"mood range":    `{"message":"hi","current_mood":11}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/assessments", bytes.NewBufferString(body))
			rec := httptest.NewRecorder()
			h.Assess(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestResourcesHandler(t *testing.T) {
	h := NewResourcesHandler(nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/resources?location=au", nil)
	rec := httptest.NewRecorder()

	h.List(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var res resources.Resources
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "Lifeline Australia: call 13 11 14", res.Hotlines[0])
	assert.NotEmpty(t, res.Websites)
}
