// Package audit defines the append-only record of every decision.
//
// Entries are never updated or deleted. Later corrections (overrides) and
// delivery notices are stored as their own records and joined on read.
package audit

import (
	"errors"
	"fmt"
	"time"

	"github.com/manutej/calendar-availability-system-sub000/internal/domain"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/breaker"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/calendar"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/confidence"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/conversation"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/decision"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/message"
)

// ErrOverrideWindowClosed is returned for overrides on entries older than
// the override window.
var ErrOverrideWindowClosed = errors.New("audit: override window has closed")

// ErrAlreadyOverridden is returned when an entry already carries an override.
var ErrAlreadyOverridden = errors.New("audit: entry already overridden")

// ErrUnavailable is returned when the audit store cannot be written. A
// decision that hits it must not be acted on.
var ErrUnavailable = fmt.Errorf("audit store: %w", domain.ErrUnavailable)

// DefaultOverrideWindow is how long after a decision it may be overridden.
const DefaultOverrideWindow = 24 * time.Hour

// OverrideKind is the user's verdict on a past decision.
type OverrideKind string

const (
	OverrideApproved        OverrideKind = "approved"
	OverrideRetracted       OverrideKind = "retracted"
	OverrideMarkedIncorrect OverrideKind = "marked_incorrect"
)

// Valid reports whether k is a known override kind.
func (k OverrideKind) Valid() bool {
	switch k {
	case OverrideApproved, OverrideRetracted, OverrideMarkedIncorrect:
		return true
	}
	return false
}

// Override is appended to an entry by the user.
type Override struct {
	Kind   OverrideKind `json:"kind"`
	Reason string       `json:"reason"`
	Actor  string       `json:"actor"`
	At     time.Time    `json:"at"`
}

// Entry is the immutable record of one decision and the context it saw.
type Entry struct {
	ID             string              `json:"id"`
	UserID         string              `json:"user_id"`
	ThreadID       string              `json:"thread_id"`
	ConversationID string              `json:"conversation_id"`
	MessageID      string              `json:"message_id"`
	Sender         string              `json:"sender"`
	RequestType    message.RequestType `json:"request_type"`

	Action   decision.Outcome  `json:"action"`
	ForcedBy decision.ForcedBy `json:"forced_by,omitempty"`
	// Assessment is nil when scoring was skipped (blacklisted sender).
	Assessment   *confidence.Assessment `json:"assessment,omitempty"`
	Conversation ConversationSnapshot   `json:"conversation"`
	Breaker      breaker.State          `json:"breaker"`
	Calendar     *calendar.Availability `json:"calendar,omitempty"`
	Rationale    []string               `json:"rationale"`

	NotifiedAt *time.Time `json:"notified_at,omitempty"`
	Override   *Override  `json:"override,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ConversationSnapshot holds the conversation as the decision found it and
// the record the decision moved it to.
type ConversationSnapshot struct {
	// Observed is nil for a thread seen for the first time.
	Observed *conversation.State `json:"observed,omitempty"`
	Applied  conversation.State  `json:"applied"`
}

// Notified reports whether the user was told about this decision.
func (e *Entry) Notified() bool {
	return e.NotifiedAt != nil
}

// Confidence returns the overall score, or nil when scoring was skipped.
func (e *Entry) Confidence() *float64 {
	if e.Assessment == nil {
		return nil
	}
	v := e.Assessment.Overall
	return &v
}

// CheckOverride validates an override request against e as of now.
func (e *Entry) CheckOverride(kind OverrideKind, now time.Time, window time.Duration) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: invalid override kind %q", domain.ErrValidation, kind)
	}
	if e.Override != nil {
		return ErrAlreadyOverridden
	}
	if window <= 0 {
		window = DefaultOverrideWindow
	}
	if now.Sub(e.CreatedAt) > window {
		return fmt.Errorf("%w: entry %s is %s old, window is %s",
			ErrOverrideWindowClosed, e.ID, now.Sub(e.CreatedAt).Round(time.Minute), window)
	}
	return nil
}

// Filter selects entries for Query. Zero fields do not filter.
type Filter struct {
	UserID        string           `json:"user_id,omitempty"`
	ThreadID      string           `json:"thread_id,omitempty"`
	MessageID     string           `json:"message_id,omitempty"`
	Sender        string           `json:"sender,omitempty"`
	Action        decision.Outcome `json:"action,omitempty"`
	Since         *time.Time       `json:"since,omitempty"`
	Until         *time.Time       `json:"until,omitempty"`
	MinConfidence *float64         `json:"min_confidence,omitempty"`
	MaxConfidence *float64         `json:"max_confidence,omitempty"`
	Limit         int              `json:"limit,omitempty"`
	Offset        int              `json:"offset,omitempty"`
}

// MaxLimit caps a single query page.
const MaxLimit = 500

// Validate checks filter ranges.
func (f *Filter) Validate() error {
	if f.Action != "" && !f.Action.Valid() {
		return fmt.Errorf("%w: invalid action %q", domain.ErrValidation, f.Action)
	}
	if f.Since != nil && f.Until != nil && f.Until.Before(*f.Since) {
		return fmt.Errorf("%w: until is before since", domain.ErrValidation)
	}
	if f.MinConfidence != nil && f.MaxConfidence != nil && *f.MaxConfidence < *f.MinConfidence {
		return fmt.Errorf("%w: max_confidence is below min_confidence", domain.ErrValidation)
	}
	if f.Limit < 0 || f.Offset < 0 {
		return fmt.Errorf("%w: limit and offset must be >= 0", domain.ErrValidation)
	}
	return nil
}

// Stats summarizes a user's decisions over a window.
type Stats struct {
	UserID    string                   `json:"user_id"`
	Since     time.Time                `json:"since"`
	Total     int                      `json:"total"`
	ByAction  map[decision.Outcome]int `json:"by_action"`
	Forced    int                      `json:"forced"`
	Overrides map[OverrideKind]int     `json:"overrides"`
}

// SenderHistory is the record of past decisions for one sender, used to
// derive sender trust.
type SenderHistory struct {
	Sender          string `json:"sender"`
	Decisions       int    `json:"decisions"`
	AutoResponded   int    `json:"auto_responded"`
	Approved        int    `json:"approved"`
	Retracted       int    `json:"retracted"`
	MarkedIncorrect int    `json:"marked_incorrect"`
}
