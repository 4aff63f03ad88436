package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/manutej/calendar-availability-system-sub000/internal/domain/preferences"
	"github.com/manutej/calendar-availability-system-sub000/internal/port/cache"
)

const unknownTrust = "unknown"

// HistoryTrust derives sender trust from the audit trail. Auto replies and
// approved overrides count for the sender, retracted and incorrect decisions
// against; score = (good+1)/(good+bad+2). A sender with no retained
// decisions is unknown.
type HistoryTrust struct {
	audit *AuditService
	cache cache.Cache
	ttl   time.Duration
}

// NewHistoryTrust creates a HistoryTrust. c may be nil.
func NewHistoryTrust(audit *AuditService, c cache.Cache, ttl time.Duration) *HistoryTrust {
	return &HistoryTrust{audit: audit, cache: c, ttl: ttl}
}

func trustKey(userID, sender string) string { return "trust:" + userID + ":" + sender }

// SenderTrust implements trust.Lookup.
func (t *HistoryTrust) SenderTrust(ctx context.Context, userID, sender string) (score float64, known bool, err error) {
	addr := preferences.Address(sender)
	key := trustKey(userID, addr)

	if t.cache != nil {
		if data, ok, err := t.cache.Get(ctx, key); err == nil && ok {
			if string(data) == unknownTrust {
				return 0, false, nil
			}
			if v, err := strconv.ParseFloat(string(data), 64); err == nil {
				return v, true, nil
			}
		}
	}

	h, err := t.audit.SenderHistory(ctx, userID, addr)
	if err != nil {
		return 0, false, fmt.Errorf("sender history: %w", err)
	}

	cached := unknownTrust
	if h.Decisions > 0 {
		good := h.AutoResponded + h.Approved - h.Retracted - h.MarkedIncorrect
		if good < 0 {
			good = 0
		}
		bad := h.Retracted + h.MarkedIncorrect
		score = float64(good+1) / float64(good+bad+2)
		known = true
		cached = strconv.FormatFloat(score, 'f', 4, 64)
	}

	if t.cache != nil {
		if err := t.cache.Set(ctx, key, []byte(cached), t.ttl); err != nil {
			slog.WarnContext(ctx, "cache sender trust failed", "error", err)
		}
	}
	return score, known, nil
}
