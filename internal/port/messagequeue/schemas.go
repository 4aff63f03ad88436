package messagequeue

import (
	"time"

	"github.com/manutej/calendar-availability-system-sub000/internal/domain/message"
)

// ClassifiedPayload is the schema for scheduling.classified messages.
type ClassifiedPayload = message.Classified

// DecidedPayload is the schema for scheduling.decided messages.
type DecidedPayload struct {
	AuditEntryID       string   `json:"audit_entry_id"`
	UserID             string   `json:"user_id"`
	ThreadID           string   `json:"thread_id"`
	MessageID          string   `json:"message_id"`
	ConversationID     string   `json:"conversation_id"`
	ConversationStatus string   `json:"conversation_status"`
	Outcome            string   `json:"outcome"`
	ForcedBy           string   `json:"forced_by,omitempty"`
	Confidence         *float64 `json:"confidence,omitempty"`
	BreakerStatus      string   `json:"breaker_status"`
	Warning            string   `json:"warning,omitempty"`
}

// BreakerChangedPayload is the schema for scheduling.breaker.changed messages.
type BreakerChangedPayload struct {
	UserID string    `json:"user_id"`
	From   string    `json:"from"`
	To     string    `json:"to"`
	Reason string    `json:"reason"`
	Actor  string    `json:"actor"`
	At     time.Time `json:"at"`
}
