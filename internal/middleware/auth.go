package middleware

import (
	"context"
	"crypto/sha256"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

type operatorCtxKey struct{}

// publicPaths are exempt from authentication.
var publicPaths = map[string]bool{
	"/health":       true,
	"/health/ready": true,
}

// APIKeyAuth checks operator requests against a bcrypt hash of the API key.
// Keys are accepted in X-API-Key or as an Authorization bearer token.
type APIKeyAuth struct {
	hash    []byte
	enabled bool

	// verified remembers digests of keys that matched, so bcrypt runs once
	// per key rather than once per request.
	verified sync.Map
}

// NewAPIKeyAuth creates an APIKeyAuth. When enabled is false every request
// passes.
func NewAPIKeyAuth(hash string, enabled bool) *APIKeyAuth {
	return &APIKeyAuth{hash: []byte(hash), enabled: enabled}
}

// Handler returns the authentication middleware.
func (a *APIKeyAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.enabled || publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get("X-API-Key")
		if key == "" {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeJSONError(w, http.StatusUnauthorized, "authorization required")
				return
			}
			key = strings.TrimPrefix(authHeader, "Bearer ")
			if key == authHeader {
				writeJSONError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}
		}

		if !a.valid(key) {
			writeJSONError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		ctx := context.WithValue(r.Context(), operatorCtxKey{}, true)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *APIKeyAuth) valid(key string) bool {
	if len(a.hash) == 0 || key == "" {
		return false
	}
	digest := sha256.Sum256([]byte(key))
	if _, ok := a.verified.Load(digest); ok {
		return true
	}
	if bcrypt.CompareHashAndPassword(a.hash, []byte(key)) != nil {
		return false
	}
	a.verified.Store(digest, struct{}{})
	return true
}

// Authenticated reports whether the request carried a valid operator key.
func Authenticated(ctx context.Context) bool {
	ok, _ := ctx.Value(operatorCtxKey{}).(bool)
	return ok
}

// HashAPIKey returns the bcrypt hash stored in configuration for key.
func HashAPIKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
