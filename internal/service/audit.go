package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/manutej/calendar-availability-system-sub000/internal/config"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/audit"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/preferences"
	"github.com/manutej/calendar-availability-system-sub000/internal/port/cache"
	"github.com/manutej/calendar-availability-system-sub000/internal/port/database"
	"github.com/manutej/calendar-availability-system-sub000/internal/resilience"
)

// Query page sizes.
const (
	DefaultAuditLimit = 50
	// DefaultStatsWindow is used when a stats request names no start.
	DefaultStatsWindow = 30 * 24 * time.Hour
)

// AuditService records decisions and the corrections users make to them.
type AuditService struct {
	store     database.AuditStore
	window    time.Duration
	retention time.Duration
	timeout   time.Duration
	cache     cache.Cache
	now       func() time.Time
	newID     func() string
}

// NewAuditService creates an AuditService. timeout bounds each write.
func NewAuditService(store database.AuditStore, cfg config.Decision, timeout time.Duration) *AuditService {
	return &AuditService{
		store:     store,
		window:    cfg.OverrideWindow,
		retention: cfg.Retention,
		timeout:   timeout,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// SetCache attaches the cache HistoryTrust reads, so that overrides take
// effect on sender trust immediately.
func (s *AuditService) SetCache(c cache.Cache) { s.cache = c }

// Record appends e and returns its ID. Any failure wraps
// audit.ErrUnavailable: the decision it describes must not be acted on.
func (s *AuditService) Record(ctx context.Context, e *audit.Entry) (string, error) {
	if e.ID == "" {
		e.ID = s.newID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	e.Sender = preferences.Address(e.Sender)
	if e.Rationale == nil {
		e.Rationale = []string{}
	}

	ctx, cancel := resilience.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.store.CreateAuditEntry(ctx, e); err != nil {
		return "", fmt.Errorf("%w: %w", audit.ErrUnavailable, err)
	}
	return e.ID, nil
}

// Get returns one entry with its override and notification joined in.
func (s *AuditService) Get(ctx context.Context, id string) (*audit.Entry, error) {
	return s.store.GetAuditEntry(ctx, id)
}

// Query returns entries matching f, most recent first.
func (s *AuditService) Query(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if f.Sender != "" {
		f.Sender = preferences.Address(f.Sender)
	}
	if f.Limit == 0 {
		f.Limit = DefaultAuditLimit
	}
	if f.Limit > audit.MaxLimit {
		f.Limit = audit.MaxLimit
	}
	return s.store.QueryAuditEntries(ctx, f)
}

// Override appends the user's verdict to entry id. Entries older than the
// override window are rejected with audit.ErrOverrideWindowClosed.
func (s *AuditService) Override(ctx context.Context, id string, kind audit.OverrideKind, reason, actor string) (*audit.Entry, error) {
	if actor == "" {
		return nil, fmt.Errorf("%w: actor is required", domain.ErrValidation)
	}
	e, err := s.store.GetAuditEntry(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if err := e.CheckOverride(kind, now, s.window); err != nil {
		return nil, err
	}

	o := audit.Override{Kind: kind, Reason: reason, Actor: actor, At: now}
	if err := s.store.CreateAuditOverride(ctx, id, o); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "audit entry overridden", "entry_id", id, "kind", kind, "actor", actor)
	if s.cache != nil {
		if err := s.cache.Delete(ctx, trustKey(e.UserID, e.Sender)); err != nil {
			slog.WarnContext(ctx, "invalidate sender trust failed", "entry_id", id, "error", err)
		}
	}

	e.Override = &o
	return e, nil
}

// FindDecision returns the newest entry recorded for messageID on a thread,
// or domain.ErrNotFound.
func (s *AuditService) FindDecision(ctx context.Context, userID, threadID, messageID string) (*audit.Entry, error) {
	entries, err := s.store.QueryAuditEntries(ctx, audit.Filter{
		UserID:    userID,
		ThreadID:  threadID,
		MessageID: messageID,
		Limit:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("find decision for %s: %w", messageID, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no decision for message %s", domain.ErrNotFound, messageID)
	}
	return &entries[0], nil
}

// MarkNotified records that the user was told about entry id. Only the
// first call takes effect.
func (s *AuditService) MarkNotified(ctx context.Context, id string) error {
	return s.store.MarkAuditNotified(ctx, id, s.now().UTC())
}

// Stats summarizes the decisions of userID since the given time; nil means
// the default window. The start never reaches past the retention window.
func (s *AuditService) Stats(ctx context.Context, userID string, since *time.Time) (*audit.Stats, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", domain.ErrValidation)
	}
	now := s.now().UTC()
	from := now.Add(-DefaultStatsWindow)
	if since != nil {
		from = since.UTC()
	}
	if s.retention > 0 && from.Before(now.Add(-s.retention)) {
		from = now.Add(-s.retention)
	}
	return s.store.AuditStats(ctx, userID, from)
}

// SenderHistory returns the retained decision record of sender for userID.
func (s *AuditService) SenderHistory(ctx context.Context, userID, sender string) (*audit.SenderHistory, error) {
	since := time.Time{}
	if s.retention > 0 {
		since = s.now().UTC().Add(-s.retention)
	}
	h, err := s.store.SenderHistory(ctx, userID, preferences.Address(sender), since)
	if errors.Is(err, domain.ErrNotFound) {
		return &audit.SenderHistory{Sender: preferences.Address(sender)}, nil
	}
	return h, err
}
