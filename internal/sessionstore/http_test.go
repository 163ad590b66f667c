package sessionstore

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	NewHandler(openTestStore(t), slog.New(slog.NewTextHandler(io.Discard, nil))).Register(mux)
	return mux
}

func do(mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHandler_SaveThenList(t *testing.T) {
	mux := newTestMux(t)

	rec := do(mux, http.MethodPost, "/sessions/save",
		`{"title":"Standup","summary":"All green.","transcription":"all green","participants":["Ana"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("save status = %d, body %s", rec.Code, rec.Body)
	}
	var saved map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &saved); err != nil {
		t.Fatalf("decode save response: %v", err)
	}
	if saved["status"] != "Session saved" {
		t.Errorf("save response = %v", saved)
	}

	rec = do(mux, http.MethodGet, "/sessions/all", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var sessions []Session
	if err := json.Unmarshal(rec.Body.Bytes(), &sessions); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Title != "Standup" || sessions[0].Participants[0] != "Ana" {
		t.Errorf("sessions = %+v", sessions)
	}
}

func TestHandler_EmptyListIsArray(t *testing.T) {
	rec := do(newTestMux(t), http.MethodGet, "/sessions/all", "")
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestHandler_SaveErrors(t *testing.T) {
	tests := []struct {
		name   string
		method string
		body   string
		want   int
	}{
		{name: "malformed json", method: http.MethodPost, body: `{"title":`, want: http.StatusBadRequest},
		{name: "unknown field", method: http.MethodPost, body: `{"title":"x","colour":"red"}`, want: http.StatusBadRequest},
		{name: "missing title", method: http.MethodPost, body: `{"summary":"s"}`, want: http.StatusBadRequest},
		{name: "wrong method", method: http.MethodGet, body: "", want: http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(newTestMux(t), tt.method, "/sessions/save", tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusBadRequest {
				var body map[string]string
				if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"] == "" {
					t.Errorf("error body = %q", rec.Body)
				}
			}
		})
	}
}
