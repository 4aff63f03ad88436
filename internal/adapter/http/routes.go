package http

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.Health)
	r.Get("/health/ready", h.Ready)

	r.Route("/api/v1", func(r chi.Router) {
		// Decisions
		r.Post("/decisions", h.ProcessMessage)

		// Per-user configuration and state
		r.Get("/users/{userID}/preferences", serveOne("userID", "user not found", h.Preferences.Get))
		r.Put("/users/{userID}/preferences", serveReplace("userID", "user not found", h.Preferences.Update))
		r.Get("/users/{userID}/breaker", serveOne("userID", "user not found", h.Breakers.Status))
		r.Post("/users/{userID}/breaker/reset", h.ResetBreaker)
		r.Get("/users/{userID}/breaker/events", h.ListBreakerEvents)
		r.Get("/users/{userID}/conversations", serveMany("userID", "user not found", h.Conversations.ListActive))
		r.Get("/users/{userID}/audit/stats", h.AuditStats)

		// Audit log
		r.Get("/audit", h.QueryAudit)
		r.Get("/audit/{id}", serveOne("id", "audit entry not found", h.Audit.Get))
		r.Post("/audit/{id}/override", h.OverrideDecision)

		// Threads
		r.Get("/threads/{threadID}", serveOne("threadID", "conversation not found", h.Conversations.Get))
		r.Get("/threads/{threadID}/history", serveMany("threadID", "conversation not found", h.Conversations.History))
		r.Post("/threads/{threadID}/close", h.CloseThread)
	})
}
