package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCORS(t *testing.T) {
	tests := []struct {
		name          string
		allowed       []string
		method        string
		origin        string
		preflightFor  string
		wantOrigin    string
		wantCode      int
		wantNextCalls bool
	}{
		{name: "listed origin", allowed: []string{"https://dash.example"}, method: http.MethodGet, origin: "https://dash.example", wantOrigin: "https://dash.example", wantCode: http.StatusOK, wantNextCalls: true},
		{name: "unknown origin", allowed: []string{"https://dash.example"}, method: http.MethodGet, origin: "https://evil.example", wantCode: http.StatusOK, wantNextCalls: true},
		{name: "wildcard echoes origin", allowed: []string{" * "}, method: http.MethodGet, origin: "https://any.example", wantOrigin: "https://any.example", wantCode: http.StatusOK, wantNextCalls: true},
		{name: "no origin header", allowed: []string{"*"}, method: http.MethodGet, wantCode: http.StatusOK, wantNextCalls: true},
		{name: "preflight short circuits", allowed: []string{"https://dash.example"}, method: http.MethodOptions, origin: "https://dash.example", preflightFor: http.MethodPost, wantOrigin: "https://dash.example", wantCode: http.StatusNoContent},
		{name: "plain options reaches handler", allowed: []string{"https://dash.example"}, method: http.MethodOptions, origin: "https://dash.example", wantOrigin: "https://dash.example", wantCode: http.StatusOK, wantNextCalls: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(tt.method, "/admin/crisis-events", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflightFor != "" {
				req.Header.Set("Access-Control-Request-Method", tt.preflightFor)
			}
			rec := httptest.NewRecorder()
			CORS(tt.allowed)(next).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantNextCalls, called)
			assert.Equal(t, tt.wantOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
			if tt.wantOrigin == "" {
				assert.Empty(t, rec.Header().Get("Access-Control-Allow-Headers"))
			}
		})
	}
}

func TestCORS_ExposesOptimisticConcurrencyHeaders(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	req := httptest.NewRequest(http.MethodOptions, "/admin/crisis-events/abc/transition", nil)
	req.Header.Set("Origin", "https://dash.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "If-Match, Content-Type")
	rec := httptest.NewRecorder()

	CORS([]string{"https://dash.example"})(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "If-Match")
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "ETag")
	assert.Contains(t, rec.Header().Values("Vary"), "Origin")
}
