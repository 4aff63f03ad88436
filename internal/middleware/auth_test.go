package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/manutej/calendar-availability-system-sub000/internal/middleware"
)

const testKey = "sk-test-operator-key"

func newTestAuth(t *testing.T) *middleware.APIKeyAuth {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testKey), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	return middleware.NewAPIKeyAuth(string(hash), true)
}

func authHandler(a *middleware.APIKeyAuth, sawOperator *bool) http.Handler {
	return a.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sawOperator != nil {
			*sawOperator = middleware.Authenticated(r.Context())
		}
		w.WriteHeader(http.StatusOK)
	}))
}

func TestAuth_Disabled_PassesThrough(t *testing.T) {
	handler := authHandler(middleware.NewAPIKeyAuth("", false), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestAuth_Enabled_NoHeader_Returns401(t *testing.T) {
	handler := authHandler(newTestAuth(t), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestAuth_PublicPath_NoAuthRequired(t *testing.T) {
	handler := authHandler(newTestAuth(t), nil)

	for _, path := range []string{"/health", "/health/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("path %s: status = %d, want 200", path, rec.Code)
		}
	}
}

func TestAuth_ValidKey(t *testing.T) {
	auth := newTestAuth(t)

	tests := []struct {
		name   string
		header string
		value  string
	}{
		{"api key header", "X-API-Key", testKey},
		{"bearer token", "Authorization", "Bearer " + testKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var operator bool
			handler := authHandler(auth, &operator)

			// Twice: the second request hits the verified-key cache.
			for range 2 {
				req := httptest.NewRequest(http.MethodGet, "/api/v1/audit", http.NoBody)
				req.Header.Set(tt.header, tt.value)
				rec := httptest.NewRecorder()
				handler.ServeHTTP(rec, req)

				if rec.Code != http.StatusOK {
					t.Fatalf("status = %d, want 200", rec.Code)
				}
				if !operator {
					t.Error("operator not marked authenticated")
				}
			}
		})
	}
}

func TestAuth_InvalidCredentials_Returns401(t *testing.T) {
	handler := authHandler(newTestAuth(t), nil)

	tests := []struct {
		header string
		value  string
	}{
		{"X-API-Key", "wrong"},
		{"Authorization", "Bearer wrong"},
		{"Authorization", "Basic abc"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/audit", http.NoBody)
		req.Header.Set(tt.header, tt.value)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %q: status = %d, want 401", tt.header, tt.value, rec.Code)
		}
	}
}

func TestHashAPIKey(t *testing.T) {
	hash, err := middleware.HashAPIKey(testKey)
	if err != nil {
		t.Fatalf("HashAPIKey: %v", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(testKey)); err != nil {
		t.Errorf("hash does not match key: %v", err)
	}
}
