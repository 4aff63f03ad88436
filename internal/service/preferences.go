package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/manutej/calendar-availability-system-sub000/internal/config"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/breaker"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/preferences"
	"github.com/manutej/calendar-availability-system-sub000/internal/port/cache"
	"github.com/manutej/calendar-availability-system-sub000/internal/port/database"
)

// PreferencesService reads and updates per-user automation preferences.
// Reads go through the cache; writes invalidate it.
type PreferencesService struct {
	store     database.PreferencesStore
	cache     cache.Cache
	ttl       time.Duration
	threshold float64
	tuning    breaker.Tuning
	now       func() time.Time
}

// NewPreferencesService creates a PreferencesService. c may be nil. Users
// without stored preferences get the configured defaults.
func NewPreferencesService(store database.PreferencesStore, c cache.Cache, cfg *config.Config) *PreferencesService {
	return &PreferencesService{
		store:     store,
		cache:     c,
		ttl:       cfg.Cache.TTL,
		threshold: cfg.Decision.DefaultThreshold,
		tuning: breaker.Tuning{
			MaxConsecutiveLow: cfg.Breaker.MaxConsecutiveLow,
			Cooldown:          cfg.Breaker.Cooldown,
			HalfOpenSuccesses: cfg.Breaker.HalfOpenSuccesses,
		},
		now: time.Now,
	}
}

func prefsKey(userID string) string { return "prefs:" + userID }

// Get returns the preferences of userID, falling back to defaults.
func (s *PreferencesService) Get(ctx context.Context, userID string) (*preferences.Preferences, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", domain.ErrValidation)
	}

	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, prefsKey(userID)); err == nil && ok {
			var p preferences.Preferences
			if err := json.Unmarshal(data, &p); err == nil {
				return &p, nil
			}
		}
	}

	p, err := s.store.GetPreferences(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		d := preferences.Defaults(userID, s.threshold, s.tuning)
		p = &d
	} else if err != nil {
		return nil, fmt.Errorf("get preferences %s: %w", userID, err)
	}

	s.remember(ctx, p)
	return p, nil
}

// Update applies req to the stored preferences of userID and validates the
// result before saving. The next decision sees the change.
func (s *PreferencesService) Update(ctx context.Context, userID string, req preferences.UpdateRequest) (*preferences.Preferences, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", domain.ErrValidation)
	}

	p, err := s.store.GetPreferences(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		d := preferences.Defaults(userID, s.threshold, s.tuning)
		p = &d
	} else if err != nil {
		return nil, fmt.Errorf("get preferences %s: %w", userID, err)
	}

	if err := p.Apply(req); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p.UpdatedAt = s.now().UTC()

	if err := s.store.SavePreferences(ctx, p); err != nil {
		return nil, fmt.Errorf("save preferences %s: %w", userID, err)
	}
	s.forget(ctx, userID)

	slog.InfoContext(ctx, "preferences updated", "user_id", userID,
		"automation_enabled", p.AutomationEnabled, "threshold", p.ConfidenceThreshold)
	return p, nil
}

func (s *PreferencesService) remember(ctx context.Context, p *preferences.Preferences) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, prefsKey(p.UserID), data, s.ttl); err != nil {
		slog.WarnContext(ctx, "cache preferences failed", "user_id", p.UserID, "error", err)
	}
}

func (s *PreferencesService) forget(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, prefsKey(userID)); err != nil {
		slog.WarnContext(ctx, "invalidate preferences cache failed", "user_id", userID, "error", err)
	}
}
