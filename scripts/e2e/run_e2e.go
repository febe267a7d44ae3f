// Package main runs end-to-end checks of the crisis pipeline against a
// running API:
//   - benign messages are assessed without opening events
//   - crisis messages open exactly one event per detection
//   - anonymous crisis messages get resources but are never stored
//   - the admin review lifecycle, including missing or stale If-Match and invalid targets
//   - localized resources
//   - history erasure
//
// Usage:
//
//	ADMIN_JWT_SECRET=... API_BASE_URL=... go run scripts/e2e/run_e2e.go [scenario-name]
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	apiBase string
	token   string
	client  = &http.Client{Timeout: 15 * time.Second}
	runID   = fmt.Sprintf("e2e-%d", time.Now().UnixNano())
)

type scenario struct {
	Name string
	Fn   func(t *T)
}

// T is a lightweight test context for a single scenario.
type T struct {
	passed int
	failed int
	name   string
}

func (t *T) check(name string, ok bool) {
	if ok {
		fmt.Printf("    PASS: %s\n", name)
		t.passed++
	} else {
		fmt.Printf("    FAIL: %s\n", name)
		t.failed++
	}
}

func (t *T) fatalf(format string, args ...interface{}) {
	fmt.Printf("    FATAL: "+format+"\n", args...)
	t.failed++
}

type response struct {
	status int
	header http.Header
	body   map[string]interface{}
}

func call(method, path string, payload interface{}, headers map[string]string) (response, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return response{}, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, apiBase+path, body)
	if err != nil {
		return response{}, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return response{}, err
	}
	defer resp.Body.Close()

	out := response{status: resp.StatusCode, header: resp.Header}
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &out.body)
	return out, nil
}

func admin(method, path string, payload interface{}, headers map[string]string) (response, error) {
	if headers == nil {
		headers = map[string]string{}
	}
	headers["Authorization"] = "Bearer " + token
	return call(method, path, payload, headers)
}

func assess(userID, detectionID, message, location string) (response, error) {
	payload := map[string]interface{}{
		"schema":  "crisis.v1",
		"message": message,
		"source":  "chat",
	}
	if userID != "" {
		payload["user_id"] = userID
	}
	if detectionID != "" {
		payload["detection_id"] = detectionID
	}
	if location != "" {
		payload["location"] = location
	}
	return call(http.MethodPost, "/v1/assessments", payload, nil)
}

func escalationOf(r response) map[string]interface{} {
	esc, _ := r.body["escalation"].(map[string]interface{})
	return esc
}

func eventOf(r response) map[string]interface{} {
	event, _ := escalationOf(r)["event"].(map[string]interface{})
	return event
}

func generateJWT(secret string) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   "e2e-runner",
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func scenarioBenign(t *T) {
	r, err := assess(runID+"-benign", "", "Went for a run and had a nice dinner", "US")
	if err != nil {
		t.fatalf("assess: %v", err)
		return
	}
	t.check("status 200", r.status == http.StatusOK)
	t.check("not detected", r.body["detected"] == false)
	t.check("escalation skipped", escalationOf(r)["outcome"] == "skipped")
	t.check("no resources", r.body["resources"] == nil)
}

func scenarioCrisisOpensEvent(t *T) {
	user := runID + "-crisis"
	detection := runID + "-det-1"
	first, err := assess(user, detection, "I want to kill myself tonight", "US")
	if err != nil {
		t.fatalf("assess: %v", err)
		return
	}
	t.check("status 201", first.status == http.StatusCreated)
	t.check("detected", first.body["detected"] == true)
	t.check("event created", escalationOf(first)["outcome"] == "created")
	t.check("event pending", eventOf(first)["escalation_status"] == "PENDING")
	t.check("response offers help", strings.Contains(fmt.Sprint(first.body["response"]), "988"))

	second, err := assess(user, detection, "I want to kill myself tonight", "US")
	if err != nil {
		t.fatalf("repeat assess: %v", err)
		return
	}
	t.check("repeat returns same event", eventOf(second)["id"] == eventOf(first)["id"])
}

func scenarioAnonymous(t *T) {
	r, err := assess("", "", "I can't go on, I want to end it all", "GB")
	if err != nil {
		t.fatalf("assess: %v", err)
		return
	}
	t.check("status 200", r.status == http.StatusOK)
	t.check("actionable", escalationOf(r)["actionable"] == true)
	t.check("not stored", escalationOf(r)["outcome"] == "missing_user_id")
	t.check("resources returned", r.body["resources"] != nil)
}

func scenarioReviewLifecycle(t *T) {
	created, err := assess(runID+"-review", runID+"-det-review", "I have been cutting myself again", "")
	if err != nil {
		t.fatalf("assess: %v", err)
		return
	}
	id, _ := eventOf(created)["id"].(string)
	if id == "" {
		t.fatalf("no event opened: %v", created.body)
		return
	}

	got, err := admin(http.MethodGet, "/admin/crisis-events/"+id, nil, nil)
	if err != nil {
		t.fatalf("get: %v", err)
		return
	}
	t.check("get 200", got.status == http.StatusOK)
	etag := got.header.Get("ETag")
	t.check("etag is version 1", etag == `"1"`)

	esc, err := admin(http.MethodPost, "/admin/crisis-events/"+id+"/transitions",
		map[string]interface{}{"to_status": "ESCALATED", "notes": map[string]interface{}{"free_text": "called user"}},
		map[string]string{"If-Match": etag})
	if err != nil {
		t.fatalf("escalate: %v", err)
		return
	}
	t.check("escalate 200", esc.status == http.StatusOK)

	stale, err := admin(http.MethodPost, "/admin/crisis-events/"+id+"/transitions",
		map[string]interface{}{"to_status": "RESOLVED"},
		map[string]string{"If-Match": etag})
	if err != nil {
		t.fatalf("stale resolve: %v", err)
		return
	}
	t.check("stale If-Match 409", stale.status == http.StatusConflict)

	unguarded, err := admin(http.MethodPost, "/admin/crisis-events/"+id+"/transitions",
		map[string]interface{}{"to_status": "RESOLVED"}, nil)
	if err != nil {
		t.fatalf("resolve without If-Match: %v", err)
		return
	}
	t.check("missing If-Match 428", unguarded.status == http.StatusPreconditionRequired)

	resolved, err := admin(http.MethodPost, "/admin/crisis-events/"+id+"/transitions",
		map[string]interface{}{"to_status": "RESOLVED"},
		map[string]string{"If-Match": esc.header.Get("ETag")})
	if err != nil {
		t.fatalf("resolve: %v", err)
		return
	}
	t.check("resolve 200", resolved.status == http.StatusOK)
	history, _ := resolved.body["status_history"].([]interface{})
	t.check("history has two entries", len(history) == 2)

	reopen, err := admin(http.MethodPost, "/admin/crisis-events/"+id+"/transitions",
		map[string]interface{}{"to_status": "PENDING"},
		map[string]string{"If-Match": resolved.header.Get("ETag")})
	if err != nil {
		t.fatalf("reopen: %v", err)
		return
	}
	t.check("terminal event cannot reopen", reopen.status == http.StatusUnprocessableEntity)
}

func scenarioResources(t *T) {
	r, err := call(http.MethodGet, "/v1/resources?location=AU", nil, nil)
	if err != nil {
		t.fatalf("resources: %v", err)
		return
	}
	t.check("status 200", r.status == http.StatusOK)
	t.check("regional hotline", strings.Contains(fmt.Sprint(r.body["hotlines"]), "Lifeline"))
}

func scenarioHistoryErasure(t *T) {
	user := runID + "-erase"
	mood := 3
	if _, err := call(http.MethodPost, "/v1/assessments", map[string]interface{}{
		"user_id": user, "message": "rough day", "current_mood": mood,
	}, nil); err != nil {
		t.fatalf("assess: %v", err)
		return
	}
	r, err := admin(http.MethodDelete, "/admin/users/"+user+"/history", nil, nil)
	if err != nil {
		t.fatalf("erase: %v", err)
		return
	}
	if r.status == http.StatusServiceUnavailable {
		fmt.Println("    SKIP: history store not configured")
		return
	}
	t.check("erase 200", r.status == http.StatusOK)
	t.check("keys deleted", r.body["keys_deleted"] != float64(0))
}

func main() {
	apiBase = strings.TrimRight(os.Getenv("API_BASE_URL"), "/")
	secret := os.Getenv("ADMIN_JWT_SECRET")
	if apiBase == "" || secret == "" {
		fmt.Fprintln(os.Stderr, "ERROR: API_BASE_URL and ADMIN_JWT_SECRET required")
		os.Exit(1)
	}
	var err error
	if token, err = generateJWT(secret); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: sign token: %v\n", err)
		os.Exit(1)
	}

	scenarios := []scenario{
		{"benign", scenarioBenign},
		{"crisis-opens-event", scenarioCrisisOpensEvent},
		{"anonymous", scenarioAnonymous},
		{"review-lifecycle", scenarioReviewLifecycle},
		{"resources", scenarioResources},
		{"history-erasure", scenarioHistoryErasure},
	}

	// Filter by name if argument provided
	filter := ""
	if len(os.Args) > 1 {
		filter = os.Args[1]
	}

	totalPassed := 0
	totalFailed := 0
	scenarioResults := make([]string, 0)

	for _, s := range scenarios {
		if filter != "" && s.Name != filter {
			continue
		}

		fmt.Printf("\n========================================\n")
		fmt.Printf("SCENARIO: %s\n", s.Name)
		fmt.Printf("========================================\n")

		t := &T{name: s.Name}
		s.Fn(t)

		totalPassed += t.passed
		totalFailed += t.failed

		status := "PASS"
		if t.failed > 0 {
			status = "FAIL"
		}
		scenarioResults = append(scenarioResults, fmt.Sprintf("  %s %s (%d passed, %d failed)", status, s.Name, t.passed, t.failed))
	}

	fmt.Printf("\n========================================\n")
	fmt.Println("SUMMARY")
	fmt.Printf("========================================\n")
	for _, r := range scenarioResults {
		fmt.Println(r)
	}
	fmt.Printf("\nTotal: %d passed, %d failed\n", totalPassed, totalFailed)

	if totalFailed > 0 {
		fmt.Println("\nSOME CHECKS FAILED")
		os.Exit(1)
	}
	fmt.Println("\nALL CHECKS PASSED")
}
