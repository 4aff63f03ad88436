// Package message defines the classified inbound scheduling message produced
// by the upstream classifier. Messages are immutable once produced.
package message

import (
	"fmt"
	"time"

	"github.com/manutej/calendar-availability-system-sub000/internal/domain"
)

// RequestType tags what the sender is asking for in this turn.
type RequestType string

const (
	RequestInitial       RequestType = "initial"
	RequestConfirmation  RequestType = "confirmation"
	RequestRescheduling  RequestType = "rescheduling"
	RequestClarification RequestType = "clarification"
)

// Valid reports whether t is a known request type.
func (t RequestType) Valid() bool {
	switch t {
	case RequestInitial, RequestConfirmation, RequestRescheduling, RequestClarification:
		return true
	}
	return false
}

// NeedsTimes reports whether a request of this type is expected to carry
// candidate time ranges.
func (t RequestType) NeedsTimes() bool {
	return t == RequestInitial || t == RequestRescheduling || t == RequestConfirmation
}

// TimeRange is a half-open interval [Start, End).
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether r and o share any instant.
func (r TimeRange) Overlaps(o TimeRange) bool {
	return r.Start.Before(o.End) && o.Start.Before(r.End)
}

// Classified is a message after intent and time extraction. Absent
// classifier outputs are nil pointers, never zero values.
type Classified struct {
	ThreadID  string `json:"thread_id"`
	MessageID string `json:"message_id"`
	// UserID owns the mailbox the message arrived in.
	UserID string `json:"user_id"`
	Sender string `json:"sender"`
	Body   string `json:"body"`

	IsSchedulingRequest bool     `json:"is_scheduling_request"`
	IntentConfidence    *float64 `json:"intent_confidence,omitempty"`

	TimeCandidates    []TimeRange `json:"time_candidates,omitempty"`
	ExtractionQuality *float64    `json:"extraction_quality,omitempty"`

	RequestType RequestType `json:"request_type"`
	ReceivedAt  time.Time   `json:"received_at"`
}

// Validate checks the identifying fields of a classified message.
func (m *Classified) Validate() error {
	switch {
	case m.ThreadID == "":
		return fmt.Errorf("%w: thread_id is required", domain.ErrValidation)
	case m.MessageID == "":
		return fmt.Errorf("%w: message_id is required", domain.ErrValidation)
	case m.UserID == "":
		return fmt.Errorf("%w: user_id is required", domain.ErrValidation)
	case m.Sender == "":
		return fmt.Errorf("%w: sender is required", domain.ErrValidation)
	case !m.RequestType.Valid():
		return fmt.Errorf("%w: invalid request_type %q", domain.ErrValidation, m.RequestType)
	}
	for i, r := range m.TimeCandidates {
		if !r.End.After(r.Start) {
			return fmt.Errorf("%w: time_candidates[%d] ends before it starts", domain.ErrValidation, i)
		}
	}
	return nil
}

// Float returns a pointer to v, for building classifier outputs.
func Float(v float64) *float64 { return &v }
