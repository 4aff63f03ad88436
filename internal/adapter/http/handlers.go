package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/manutej/calendar-availability-system-sub000/internal/domain/audit"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/breaker"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/decision"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/message"
	"github.com/manutej/calendar-availability-system-sub000/internal/service"
)

// Pinger reports backend connectivity for readiness checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Intake        *service.IntakeService
	Preferences   *service.PreferencesService
	Breakers      *service.BreakerService
	Audit         *service.AuditService
	Conversations *service.ConversationService
	Store         Pinger
}

// Health handles GET /health
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /health/ready
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	if h.Store != nil {
		if err := h.Store.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "store": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// ---------------------------------------------------------------------------
// Decisions
// ---------------------------------------------------------------------------

// ProcessMessage handles POST /api/v1/decisions
func (h *Handlers) ProcessMessage(w http.ResponseWriter, r *http.Request) {
	msg, ok := readJSON[message.Classified](w, r)
	if !ok {
		return
	}
	out, err := h.Intake.Process(r.Context(), msg)
	if err != nil {
		writeDomainError(w, err, "decision failed")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ---------------------------------------------------------------------------
// Breaker
// ---------------------------------------------------------------------------

type resetBreakerRequest struct {
	Actor string `json:"actor"`
}

// ResetBreaker handles POST /api/v1/users/{userID}/breaker/reset
func (h *Handlers) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[resetBreakerRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.Actor, "actor") {
		return
	}
	st, err := h.Breakers.Reset(r.Context(), urlParam(r, "userID"), req.Actor)
	if err != nil {
		writeDomainError(w, err, "breaker not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ListBreakerEvents handles GET /api/v1/users/{userID}/breaker/events
func (h *Handlers) ListBreakerEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	serveMany("userID", "user not found", func(ctx context.Context, userID string) ([]breaker.Event, error) {
		return h.Breakers.Events(ctx, userID, limit)
	})(w, r)
}

// ---------------------------------------------------------------------------
// Audit
// ---------------------------------------------------------------------------

// QueryAudit handles GET /api/v1/audit
func (h *Handlers) QueryAudit(w http.ResponseWriter, r *http.Request) {
	f, err := parseAuditFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := h.Audit.Query(r.Context(), f)
	if err != nil {
		writeDomainError(w, err, "audit query failed")
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func parseAuditFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	f := audit.Filter{
		UserID:    q.Get("user_id"),
		ThreadID:  q.Get("thread_id"),
		MessageID: q.Get("message_id"),
		Sender:    q.Get("sender"),
		Action:    decision.Outcome(q.Get("action")),
	}
	var err error
	if f.Since, err = queryTime(r, "since"); err != nil {
		return f, err
	}
	if f.Until, err = queryTime(r, "until"); err != nil {
		return f, err
	}
	if f.MinConfidence, err = queryFloat(r, "min_confidence"); err != nil {
		return f, err
	}
	if f.MaxConfidence, err = queryFloat(r, "max_confidence"); err != nil {
		return f, err
	}
	if f.Limit, err = queryInt(r, "limit"); err != nil {
		return f, err
	}
	if f.Offset, err = queryInt(r, "offset"); err != nil {
		return f, err
	}
	return f, nil
}

type overrideRequest struct {
	Kind   audit.OverrideKind `json:"kind"`
	Reason string             `json:"reason"`
	Actor  string             `json:"actor"`
}

// OverrideDecision handles POST /api/v1/audit/{id}/override
func (h *Handlers) OverrideDecision(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[overrideRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, string(req.Kind), "kind") || !requireField(w, req.Actor, "actor") {
		return
	}
	entry, err := h.Audit.Override(r.Context(), urlParam(r, "id"), req.Kind, req.Reason, req.Actor)
	if err != nil {
		writeDomainError(w, err, "audit entry not found")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// AuditStats handles GET /api/v1/users/{userID}/audit/stats
func (h *Handlers) AuditStats(w http.ResponseWriter, r *http.Request) {
	since, err := queryTime(r, "since")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stats, err := h.Audit.Stats(r.Context(), urlParam(r, "userID"), since)
	if err != nil {
		writeDomainError(w, err, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ---------------------------------------------------------------------------
// Conversations
// ---------------------------------------------------------------------------

type closeThreadRequest struct {
	Reason string `json:"reason"`
}

// CloseThread handles POST /api/v1/threads/{threadID}/close
// The body is optional.
func (h *Handlers) CloseThread(w http.ResponseWriter, r *http.Request) {
	var req closeThreadRequest
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize)).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	conv, err := h.Conversations.Close(r.Context(), urlParam(r, "threadID"), req.Reason)
	if err != nil {
		writeDomainError(w, err, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}
