// Package breaker implements the per-user automation circuit breaker.
//
// The breaker watches decision outcomes, not call failures: a run of
// low-confidence outcomes opens it, and while open every decision for the
// user is escalated for approval. After a cooldown it lets decisions through
// again in half-open mode until enough of them succeed.
package breaker

import (
	"fmt"
	"time"
)

// Status is the breaker position.
type Status string

const (
	StatusClosed   Status = "closed"
	StatusOpen     Status = "open"
	StatusHalfOpen Status = "half_open"
)

// Tuning holds the per-user breaker parameters.
type Tuning struct {
	MaxConsecutiveLow int           `json:"max_consecutive_low"`
	Cooldown          time.Duration `json:"cooldown"`
	HalfOpenSuccesses int           `json:"half_open_successes"`
}

// DefaultTuning returns 5 lows, 60 minutes, 3 successes.
func DefaultTuning() Tuning {
	return Tuning{MaxConsecutiveLow: 5, Cooldown: 60 * time.Minute, HalfOpenSuccesses: 3}
}

func (t Tuning) normalized() Tuning {
	d := DefaultTuning()
	if t.MaxConsecutiveLow < 1 {
		t.MaxConsecutiveLow = d.MaxConsecutiveLow
	}
	if t.Cooldown <= 0 {
		t.Cooldown = d.Cooldown
	}
	if t.HalfOpenSuccesses < 1 {
		t.HalfOpenSuccesses = d.HalfOpenSuccesses
	}
	return t
}

// State is the persisted breaker of one user.
type State struct {
	UserID            string     `json:"user_id"`
	Status            Status     `json:"status"`
	ConsecutiveLow    int        `json:"consecutive_low"`
	HalfOpenSuccesses int        `json:"half_open_successes"`
	LastLowAt         *time.Time `json:"last_low_at,omitempty"`
	OpenedAt          *time.Time `json:"opened_at,omitempty"`
	CloseEligibleAt   *time.Time `json:"close_eligible_at,omitempty"`
	ManualOverride    bool       `json:"manual_override"`
	Reason            string     `json:"reason,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
	Version           int        `json:"version"`
}

// New returns a closed breaker for userID.
func New(userID string) State {
	return State{UserID: userID, Status: StatusClosed}
}

// Event records one status change, so users can see why automation paused.
type Event struct {
	ID     int64     `json:"id"`
	UserID string    `json:"user_id"`
	From   Status    `json:"from"`
	To     Status    `json:"to"`
	Reason string    `json:"reason"`
	Actor  string    `json:"actor"` // "system" or the user who reset
	At     time.Time `json:"at"`
}

// ActorSystem marks transitions driven by outcomes or timers.
const ActorSystem = "system"

// ForcesApproval reports whether decisions must be escalated.
func (s *State) ForcesApproval() bool {
	return s.Status == StatusOpen && !s.ManualOverride
}

// Observe applies timer-driven transitions as of now: an open breaker whose
// cooldown has elapsed moves to half-open. It is safe to call on every read.
func (s *State) Observe(now time.Time) []Event {
	if s.Status != StatusOpen || s.CloseEligibleAt == nil || now.Before(*s.CloseEligibleAt) {
		return nil
	}
	s.HalfOpenSuccesses = 0
	return []Event{s.transition(StatusHalfOpen, "cooldown elapsed", now)}
}

// Evaluate feeds one completed decision into the breaker. low is true for
// decline and request_approval outcomes, including forced ones.
func (s *State) Evaluate(low bool, t Tuning, now time.Time) []Event {
	t = t.normalized()
	events := s.Observe(now)

	if low {
		s.LastLowAt = &now
	}

	switch s.Status {
	case StatusClosed:
		if !low {
			s.ConsecutiveLow = 0
			break
		}
		s.ConsecutiveLow++
		if s.ConsecutiveLow >= t.MaxConsecutiveLow {
			events = append(events, s.open(fmt.Sprintf("%d consecutive low-confidence outcomes", s.ConsecutiveLow), t, now))
		}

	case StatusHalfOpen:
		if low {
			s.ConsecutiveLow++
			s.HalfOpenSuccesses = 0
			events = append(events, s.open("low-confidence outcome while half-open", t, now))
			break
		}
		s.HalfOpenSuccesses++
		if s.HalfOpenSuccesses >= t.HalfOpenSuccesses {
			s.ConsecutiveLow = 0
			s.HalfOpenSuccesses = 0
			s.OpenedAt = nil
			s.CloseEligibleAt = nil
			events = append(events, s.transition(StatusClosed, fmt.Sprintf("%d consecutive successes while half-open", t.HalfOpenSuccesses), now))
		}

	case StatusOpen:
		// Forced escalations still count; the cooldown is not extended.
		if low {
			s.ConsecutiveLow++
		}
	}

	s.UpdatedAt = now
	return events
}

// Reset is the user's manual override: the breaker is forced closed and the
// override flag stays set until the next natural status change.
func (s *State) Reset(actor string, now time.Time) Event {
	from := s.Status
	s.Status = StatusClosed
	s.ConsecutiveLow = 0
	s.HalfOpenSuccesses = 0
	s.OpenedAt = nil
	s.CloseEligibleAt = nil
	s.ManualOverride = true
	s.Reason = "manual reset"
	s.UpdatedAt = now
	return Event{UserID: s.UserID, From: from, To: StatusClosed, Reason: s.Reason, Actor: actor, At: now}
}

func (s *State) open(reason string, t Tuning, now time.Time) Event {
	eligible := now.Add(t.Cooldown)
	s.OpenedAt = &now
	s.CloseEligibleAt = &eligible
	return s.transition(StatusOpen, reason, now)
}

func (s *State) transition(to Status, reason string, now time.Time) Event {
	from := s.Status
	s.Status = to
	s.Reason = reason
	s.ManualOverride = false
	s.UpdatedAt = now
	return Event{UserID: s.UserID, From: from, To: to, Reason: reason, Actor: ActorSystem, At: now}
}
