// Package conversation models the lifecycle of one scheduling email thread.
//
// Status moves through an explicit transition table keyed by the current
// status and the inbound request type. Anything the table does not cover
// starts a fresh conversation instead of failing: senders do not follow a
// strict protocol.
package conversation

import (
	"fmt"
	"slices"
	"time"

	"github.com/manutej/calendar-availability-system-sub000/internal/domain/message"
)

// Status is the lifecycle stage of a conversation.
type Status string

const (
	StatusInitial          Status = "initial"
	StatusAvailabilitySent Status = "availability_sent"
	StatusNegotiating      Status = "negotiating"
	StatusConfirmed        Status = "confirmed"
	StatusScheduled        Status = "scheduled"
	StatusClosed           Status = "closed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusScheduled || s == StatusClosed
}

// Close reasons.
const (
	ReasonExpired    = "expired"
	ReasonScheduled  = "scheduled"
	ReasonSuperseded = "superseded"
	ReasonManual     = "closed_by_user"
)

// DefaultTTL closes conversations after two weeks of inactivity.
const DefaultTTL = 14 * 24 * time.Hour

// DefaultMaxHistory bounds the request history kept per conversation.
const DefaultMaxHistory = 10

// transitions is the exhaustive table of protocol moves. A missing entry
// means the move is not recognized.
var transitions = map[Status]map[message.RequestType]Status{
	StatusInitial: {
		message.RequestInitial:       StatusAvailabilitySent,
		message.RequestRescheduling:  StatusAvailabilitySent,
		message.RequestClarification: StatusInitial,
	},
	StatusAvailabilitySent: {
		message.RequestInitial:       StatusAvailabilitySent,
		message.RequestConfirmation:  StatusConfirmed,
		message.RequestRescheduling:  StatusNegotiating,
		message.RequestClarification: StatusAvailabilitySent,
	},
	StatusNegotiating: {
		message.RequestInitial:       StatusAvailabilitySent,
		message.RequestConfirmation:  StatusConfirmed,
		message.RequestRescheduling:  StatusAvailabilitySent,
		message.RequestClarification: StatusNegotiating,
	},
	StatusConfirmed: {
		message.RequestConfirmation:  StatusScheduled,
		message.RequestRescheduling:  StatusNegotiating,
		message.RequestClarification: StatusConfirmed,
	},
}

// Next returns the status reached from `from` on a request of type rt.
// ok is false when the table has no such move, including every move out of
// a terminal status.
func Next(from Status, rt message.RequestType) (next Status, ok bool) {
	next, ok = transitions[from][rt]
	return next, ok
}

// Context is the free-form blob carried between turns.
type Context struct {
	LastProposedSlots   []message.TimeRange `json:"last_proposed_slots,omitempty"`
	PendingConfirmation bool                `json:"pending_confirmation"`
	Notes               map[string]string   `json:"notes,omitempty"`
}

// State is the tracked record of one conversation within a thread. A thread
// has at most one non-terminal State at a time; closed ones are kept.
type State struct {
	ID             string     `json:"id"`
	ThreadID       string     `json:"thread_id"`
	UserID         string     `json:"user_id"`
	Status         Status     `json:"status"`
	TurnCount      int        `json:"turn_count"`
	LastRequestID  string     `json:"last_request_id"`
	History        []string   `json:"history"`
	Context        Context    `json:"context"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
	CloseReason    string     `json:"close_reason,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	Version        int        `json:"version"`
}

// Active reports whether the conversation still takes turns.
func (s *State) Active() bool {
	return !s.Status.Terminal()
}

// Expired reports whether the conversation has been idle for at least ttl.
func (s *State) Expired(now time.Time, ttl time.Duration) bool {
	if !s.Active() {
		return false
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return !now.Before(s.LastActivityAt.Add(ttl))
}

// Close marks the conversation closed. History is preserved.
func (s *State) Close(reason string, now time.Time) {
	s.Status = StatusClosed
	s.CloseReason = reason
	s.ClosedAt = &now
	s.ExpiresAt = nil
	s.Context.PendingConfirmation = false
}

// Clarity scores how well the request fits the conversation so far, in [0,1].
func (s *State) Clarity(rt message.RequestType) float64 {
	if !s.Active() {
		return 0.8
	}
	if _, ok := Next(s.Status, rt); !ok {
		return 0.3
	}

	var base float64
	switch s.Status {
	case StatusInitial:
		base = 0.8
	case StatusAvailabilitySent:
		base = 0.75
		if rt == message.RequestConfirmation || rt == message.RequestRescheduling {
			base = 0.9
		}
	case StatusNegotiating:
		base = 0.6
	case StatusConfirmed:
		base = 0.85
	}

	if extra := s.TurnCount - 4; extra > 0 {
		base -= 0.05 * float64(extra)
	}
	if base < 0.3 {
		base = 0.3
	}
	return base
}

func (s *State) clone() State {
	c := *s
	c.History = slices.Clone(s.History)
	c.Context.LastProposedSlots = slices.Clone(s.Context.LastProposedSlots)
	if s.Context.Notes != nil {
		c.Context.Notes = make(map[string]string, len(s.Context.Notes))
		for k, v := range s.Context.Notes {
			c.Context.Notes[k] = v
		}
	}
	return c
}

// Step describes one inbound turn.
type Step struct {
	ThreadID    string
	UserID      string
	RequestType message.RequestType
	RequestID   string
	// Hold records the turn without moving the protocol forward; used when
	// no reply will go out (declined messages).
	Hold          bool
	ProposedSlots []message.TimeRange
	Now           time.Time
	TTL           time.Duration
	MaxHistory    int
	// NewID allocates IDs for fresh conversations.
	NewID func() string
}

// Advancement is the result of applying a Step.
type Advancement struct {
	State State
	// StartedNew is set when State is a new conversation.
	StartedNew bool
	// Superseded is the previous live conversation, closed because the
	// step could not continue it. Nil otherwise.
	Superseded *State
	// Duplicate is set when the request was already applied to State.
	Duplicate bool
	Warning   string
}

// Advance applies step to prev (nil for an unseen thread). prev is never
// modified; terminal records are never resurrected.
func Advance(prev *State, step Step) Advancement {
	if prev == nil {
		return Advancement{State: start(step), StartedNew: true}
	}

	if prev.Status.Terminal() {
		return Advancement{
			State:      start(step),
			StartedNew: true,
			Warning:    fmt.Sprintf("conversation %s is %s; started a new conversation", prev.ID, prev.Status),
		}
	}

	if slices.Contains(prev.History, step.RequestID) {
		return Advancement{State: prev.clone(), Duplicate: true}
	}

	if _, ok := Next(prev.Status, step.RequestType); !ok {
		superseded := prev.clone()
		superseded.Close(ReasonSuperseded, step.Now)
		return Advancement{
			State:      start(step),
			StartedNew: true,
			Superseded: &superseded,
			Warning: fmt.Sprintf("unrecognized transition %s + %s; started a new conversation",
				prev.Status, step.RequestType),
		}
	}

	next := prev.clone()
	apply(&next, step)
	return Advancement{State: next}
}

func start(step Step) State {
	id := ""
	if step.NewID != nil {
		id = step.NewID()
	}
	s := State{
		ID:        id,
		ThreadID:  step.ThreadID,
		UserID:    step.UserID,
		Status:    StatusInitial,
		History:   []string{},
		CreatedAt: step.Now,
	}
	apply(&s, step)
	return s
}

func apply(s *State, step Step) {
	maxHistory := step.MaxHistory
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	ttl := step.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	s.TurnCount++
	s.LastRequestID = step.RequestID
	s.History = append(s.History, step.RequestID)
	if over := len(s.History) - maxHistory; over > 0 {
		s.History = slices.Clone(s.History[over:])
	}
	s.LastActivityAt = step.Now
	expires := step.Now.Add(ttl)
	s.ExpiresAt = &expires

	if step.Hold {
		return
	}
	if next, ok := Next(s.Status, step.RequestType); ok {
		s.Status = next
	}

	switch s.Status {
	case StatusAvailabilitySent:
		if len(step.ProposedSlots) > 0 {
			s.Context.LastProposedSlots = slices.Clone(step.ProposedSlots)
		}
		s.Context.PendingConfirmation = true
	case StatusNegotiating:
		s.Context.PendingConfirmation = true
	case StatusConfirmed:
		s.Context.PendingConfirmation = false
	case StatusScheduled:
		s.Close(ReasonScheduled, step.Now)
		s.Status = StatusScheduled
	}
}
