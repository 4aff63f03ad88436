package http

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

const consoleOrigin = "https://console.example.com"

func TestCORS(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		origin     string
		preflight  bool
		wantStatus int
		wantAllow  string
		wantCalled bool
	}{
		{"console preflight", http.MethodOptions, consoleOrigin, true, http.StatusNoContent, consoleOrigin, false},
		{"console request", http.MethodGet, consoleOrigin, false, http.StatusOK, consoleOrigin, true},
		{"foreign origin", http.MethodGet, "https://evil.example.com", false, http.StatusOK, "", true},
		{"foreign preflight", http.MethodOptions, "https://evil.example.com", true, http.StatusOK, "", true},
		{"same-origin request", http.MethodGet, "", false, http.StatusOK, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			h := CORS(consoleOrigin)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				called = true
			}))
			req := httptest.NewRequest(tt.method, "/api/v1/audit", http.NoBody)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantAllow)
			}
			if called != tt.wantCalled {
				t.Errorf("handler called = %v, want %v", called, tt.wantCalled)
			}
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/audit/entry-1", http.NoBody))

	for name, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	} {
		if got := rec.Header().Get(name); got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
	if rec.Header().Get("Content-Security-Policy") == "" {
		t.Error("missing Content-Security-Policy")
	}
}

func TestAccessLog_LogsRoutePatternAndLevel(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	r := chi.NewRouter()
	r.Use(AccessLog)
	r.Get("/api/v1/users/{userID}/preferences", func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "user not found")
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/users/alice@example.com/preferences", http.NoBody))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if line["route"] != "/api/v1/users/{userID}/preferences" {
		t.Errorf("route = %v, want the pattern without the user address", line["route"])
	}
	if line["level"] != "WARN" || line["status"] != float64(http.StatusNotFound) {
		t.Errorf("level = %v status = %v, want WARN 404", line["level"], line["status"])
	}
}

func TestStatusRecorder_FlushesThrough(t *testing.T) {
	inner := httptest.NewRecorder()
	var w http.ResponseWriter = &statusRecorder{ResponseWriter: inner, status: http.StatusOK}

	if err := http.NewResponseController(w).Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if !inner.Flushed {
		t.Error("inner writer was not flushed")
	}
}
