// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/manutej/calendar-availability-system-sub000/internal/domain/audit"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/breaker"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/conversation"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/preferences"
)

// Store is the port interface for database operations.
type Store interface {
	ConversationStore
	BreakerStore
	AuditStore
	PreferencesStore

	// Ping checks connectivity for the health endpoint.
	Ping(ctx context.Context) error
}

// ConversationStore persists conversation records. A thread has at most one
// non-terminal conversation; implementations enforce it.
type ConversationStore interface {
	// GetLatestConversation returns the most recently created conversation of
	// a thread, terminal or not. domain.ErrNotFound for unseen threads.
	GetLatestConversation(ctx context.Context, threadID string) (*conversation.State, error)
	GetConversation(ctx context.Context, id string) (*conversation.State, error)
	ListThreadConversations(ctx context.Context, threadID string) ([]conversation.State, error)
	ListActiveConversations(ctx context.Context, userID string) ([]conversation.State, error)
	// CreateConversation inserts s and sets s.Version.
	CreateConversation(ctx context.Context, s *conversation.State) error
	// UpdateConversation writes s if s.Version still matches, then bumps it.
	// domain.ErrConflict otherwise.
	UpdateConversation(ctx context.Context, s *conversation.State) error
	// CloseExpiredConversations closes every live conversation idle since
	// before and returns how many were closed.
	CloseExpiredConversations(ctx context.Context, before, now time.Time) (int64, error)
}

// BreakerStore persists per-user automation breakers and their history.
type BreakerStore interface {
	// GetBreaker returns domain.ErrNotFound for users without a record.
	GetBreaker(ctx context.Context, userID string) (*breaker.State, error)
	// SaveBreaker inserts when s.Version is 0, otherwise updates with an
	// optimistic version check.
	SaveBreaker(ctx context.Context, s *breaker.State) error
	AppendBreakerEvents(ctx context.Context, events []breaker.Event) error
	// ListBreakerEvents returns the newest events first.
	ListBreakerEvents(ctx context.Context, userID string, limit int) ([]breaker.Event, error)
}

// AuditStore is append-only: there is no update or delete.
type AuditStore interface {
	CreateAuditEntry(ctx context.Context, e *audit.Entry) error
	GetAuditEntry(ctx context.Context, id string) (*audit.Entry, error)
	// QueryAuditEntries returns matches most-recent-first.
	QueryAuditEntries(ctx context.Context, f audit.Filter) ([]audit.Entry, error)
	// CreateAuditOverride returns audit.ErrAlreadyOverridden if the entry
	// already has one.
	CreateAuditOverride(ctx context.Context, entryID string, o audit.Override) error
	// MarkAuditNotified records the first notification; later calls are no-ops.
	MarkAuditNotified(ctx context.Context, entryID string, at time.Time) error
	AuditStats(ctx context.Context, userID string, since time.Time) (*audit.Stats, error)
	SenderHistory(ctx context.Context, userID, sender string, since time.Time) (*audit.SenderHistory, error)
}

// PreferencesStore persists per-user automation preferences.
type PreferencesStore interface {
	// GetPreferences returns domain.ErrNotFound for users who never saved any.
	GetPreferences(ctx context.Context, userID string) (*preferences.Preferences, error)
	// SavePreferences upserts p with an optimistic version check.
	SavePreferences(ctx context.Context, p *preferences.Preferences) error
}
