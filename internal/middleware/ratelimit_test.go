package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func limitedHandler(rl *RateLimiter) http.Handler {
	return rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func hit(h http.Handler, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit", http.NoBody)
	req.RemoteAddr = ip + ":5123"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func frozen(rl *RateLimiter) *time.Time {
	now := time.Date(2026, 11, 3, 15, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	return &now
}

func TestRateLimiter_BurstThenReject(t *testing.T) {
	rl := NewRateLimiter(1, 5)
	frozen(rl)
	h := limitedHandler(rl)

	for i := range 5 {
		if rec := hit(h, "192.168.1.1"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, rec.Code)
		}
	}

	rec := hit(h, "192.168.1.1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "1" {
		t.Errorf("Retry-After = %q, want 1", got)
	}
}

func TestRateLimiter_Refills(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := frozen(rl)
	h := limitedHandler(rl)

	if rec := hit(h, "10.0.0.1"); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec := hit(h, "10.0.0.1"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}

	*now = now.Add(time.Second)
	if rec := hit(h, "10.0.0.1"); rec.Code != http.StatusOK {
		t.Errorf("after refill status = %d, want 200", rec.Code)
	}
}

func TestRateLimiter_RemainingHeader(t *testing.T) {
	rl := NewRateLimiter(1, 3)
	frozen(rl)

	rec := hit(limitedHandler(rl), "192.168.1.1")
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "2" {
		t.Errorf("X-RateLimit-Remaining = %q, want 2", got)
	}
}

func TestRateLimiter_PerClient(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	frozen(rl)
	h := limitedHandler(rl)

	for range 2 {
		hit(h, "10.0.0.1")
	}
	if rec := hit(h, "10.0.0.1"); rec.Code != http.StatusTooManyRequests {
		t.Errorf("10.0.0.1: status = %d, want 429", rec.Code)
	}
	if rec := hit(h, "10.0.0.2"); rec.Code != http.StatusOK {
		t.Errorf("10.0.0.2: status = %d, want 200", rec.Code)
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	now := frozen(rl)
	h := limitedHandler(rl)

	hit(h, "10.0.0.1")
	*now = now.Add(time.Minute)
	hit(h, "10.0.0.2")

	rl.cleanup(30 * time.Second)
	if rl.Len() != 1 {
		t.Errorf("tracked clients = %d, want 1", rl.Len())
	}
}

func TestRateLimiter_StartCleanupStops(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	stop := rl.StartCleanup(time.Millisecond, time.Hour)
	stop()
}
