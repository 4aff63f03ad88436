package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/manutej/calendar-availability-system-sub000/internal/domain"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/preferences"
)

func (s *Store) GetPreferences(ctx context.Context, userID string) (*preferences.Preferences, error) {
	var (
		p               preferences.Preferences
		cooldownSeconds int64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, automation_enabled, confidence_threshold, vips, blacklist,
		        breaker_max_consecutive_low, breaker_cooldown_seconds, breaker_half_open_successes,
		        notify_address, updated_at, version
		 FROM user_preferences WHERE user_id = $1`, userID,
	).Scan(&p.UserID, &p.AutomationEnabled, &p.ConfidenceThreshold, &p.VIPs, &p.Blacklist,
		&p.Breaker.MaxConsecutiveLow, &cooldownSeconds, &p.Breaker.HalfOpenSuccesses,
		&p.NotifyAddress, &p.UpdatedAt, &p.Version)
	if err != nil {
		return nil, notFoundWrap(err, "get preferences for user %s", userID)
	}
	p.Breaker.Cooldown = time.Duration(cooldownSeconds) * time.Second
	p.VIPs = orEmpty(p.VIPs)
	p.Blacklist = orEmpty(p.Blacklist)
	return &p, nil
}

func (s *Store) SavePreferences(ctx context.Context, p *preferences.Preferences) error {
	cooldown := int64(p.Breaker.Cooldown / time.Second)
	if p.Version == 0 {
		err := s.pool.QueryRow(ctx,
			`INSERT INTO user_preferences (user_id, automation_enabled, confidence_threshold, vips, blacklist,
			                               breaker_max_consecutive_low, breaker_cooldown_seconds,
			                               breaker_half_open_successes, notify_address, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 RETURNING version`,
			p.UserID, p.AutomationEnabled, p.ConfidenceThreshold, pgTextArray(p.VIPs), pgTextArray(p.Blacklist),
			p.Breaker.MaxConsecutiveLow, cooldown, p.Breaker.HalfOpenSuccesses, p.NotifyAddress, p.UpdatedAt,
		).Scan(&p.Version)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("create preferences for user %s: %w", p.UserID, domain.ErrConflict)
			}
			return fmt.Errorf("create preferences for user %s: %w", p.UserID, err)
		}
		return nil
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE user_preferences
		 SET automation_enabled = $2, confidence_threshold = $3, vips = $4, blacklist = $5,
		     breaker_max_consecutive_low = $6, breaker_cooldown_seconds = $7, breaker_half_open_successes = $8,
		     notify_address = $9, updated_at = $10, version = version + 1
		 WHERE user_id = $1 AND version = $11`,
		p.UserID, p.AutomationEnabled, p.ConfidenceThreshold, pgTextArray(p.VIPs), pgTextArray(p.Blacklist),
		p.Breaker.MaxConsecutiveLow, cooldown, p.Breaker.HalfOpenSuccesses, p.NotifyAddress, p.UpdatedAt, p.Version)
	if err != nil {
		return fmt.Errorf("update preferences for user %s: %w", p.UserID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update preferences for user %s: %w", p.UserID, domain.ErrConflict)
	}
	p.Version++
	return nil
}
