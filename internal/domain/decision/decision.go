// Package decision defines the outcome of routing one classified message.
package decision

import (
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/breaker"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/calendar"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/confidence"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/conversation"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/message"
)

// Outcome is the action the core decided on.
type Outcome string

const (
	OutcomeAutoRespond     Outcome = "auto_respond"
	OutcomeRequestApproval Outcome = "request_approval"
	OutcomeDecline         Outcome = "decline"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeAutoRespond, OutcomeRequestApproval, OutcomeDecline:
		return true
	}
	return false
}

// Low reports whether o counts as a low-confidence outcome for the
// automation breaker.
func (o Outcome) Low() bool {
	return o != OutcomeAutoRespond
}

// FromRecommendation converts a scorer recommendation to an outcome.
func FromRecommendation(r confidence.Recommendation) Outcome {
	switch r {
	case confidence.RecommendAutoRespond:
		return OutcomeAutoRespond
	case confidence.RecommendRequestApproval:
		return OutcomeRequestApproval
	default:
		return OutcomeDecline
	}
}

// ForcedBy names the policy that overrode the scorer's recommendation.
type ForcedBy string

const (
	ForcedNone         ForcedBy = ""
	ForcedBlacklist    ForcedBy = "blacklist"
	ForcedVIP          ForcedBy = "vip"
	ForcedBreaker      ForcedBy = "breaker"
	ForcedDisabled     ForcedBy = "automation_disabled"
	ForcedCollaborator ForcedBy = "collaborator_failure"
	ForcedConflict     ForcedBy = "calendar_conflict"
	ForcedDegraded     ForcedBy = "degraded_assessment"
)

// Result is returned to the caller, who acts on it (send, notify).
type Result struct {
	Outcome       Outcome                `json:"outcome"`
	ForcedBy      ForcedBy               `json:"forced_by,omitempty"`
	AuditEntryID  string                 `json:"audit_entry_id"`
	Assessment    *confidence.Assessment `json:"assessment,omitempty"`
	Conversation  conversation.State     `json:"conversation"`
	Breaker       breaker.State          `json:"breaker"`
	Calendar      *calendar.Availability `json:"calendar,omitempty"`
	Rationale     []string               `json:"rationale"`
	Message       message.Classified     `json:"message"`
	ProposedSlots []message.TimeRange    `json:"proposed_slots,omitempty"`
	Warning       string                 `json:"warning,omitempty"`
}
