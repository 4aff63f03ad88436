package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/manutej/calendar-availability-system-sub000/internal/domain"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/preferences"
)

func (s *Store) GetPreferences(ctx context.Context, userID string) (*preferences.Preferences, error) {
	var (
		p                        preferences.Preferences
		vips, blacklist, updated string
		cooldownSeconds          int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, automation_enabled, confidence_threshold, vips, blacklist,
		        breaker_max_consecutive_low, breaker_cooldown_seconds, breaker_half_open_successes,
		        notify_address, updated_at, version
		 FROM user_preferences WHERE user_id = ?`, userID,
	).Scan(&p.UserID, &p.AutomationEnabled, &p.ConfidenceThreshold, &vips, &blacklist,
		&p.Breaker.MaxConsecutiveLow, &cooldownSeconds, &p.Breaker.HalfOpenSuccesses,
		&p.NotifyAddress, &updated, &p.Version)
	if err != nil {
		return nil, notFoundWrap(err, "get preferences for user %s", userID)
	}
	p.Breaker.Cooldown = time.Duration(cooldownSeconds) * time.Second
	if err := json.Unmarshal([]byte(vips), &p.VIPs); err != nil {
		return nil, fmt.Errorf("unmarshal vips: %w", err)
	}
	if err := json.Unmarshal([]byte(blacklist), &p.Blacklist); err != nil {
		return nil, fmt.Errorf("unmarshal blacklist: %w", err)
	}
	p.VIPs, p.Blacklist = orEmpty(p.VIPs), orEmpty(p.Blacklist)
	if p.UpdatedAt, err = parseTS(updated); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) SavePreferences(ctx context.Context, p *preferences.Preferences) error {
	vips, err := jsonText(p.VIPs)
	if err != nil {
		return fmt.Errorf("marshal vips: %w", err)
	}
	blacklist, err := jsonText(p.Blacklist)
	if err != nil {
		return fmt.Errorf("marshal blacklist: %w", err)
	}
	cooldown := int64(p.Breaker.Cooldown / time.Second)

	if p.Version == 0 {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO user_preferences (user_id, automation_enabled, confidence_threshold, vips, blacklist,
			                               breaker_max_consecutive_low, breaker_cooldown_seconds,
			                               breaker_half_open_successes, notify_address, updated_at, version)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			p.UserID, p.AutomationEnabled, p.ConfidenceThreshold, vips, blacklist,
			p.Breaker.MaxConsecutiveLow, cooldown, p.Breaker.HalfOpenSuccesses, p.NotifyAddress, ts(p.UpdatedAt))
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("create preferences for user %s: %w", p.UserID, domain.ErrConflict)
			}
			return fmt.Errorf("create preferences for user %s: %w", p.UserID, err)
		}
		p.Version = 1
		return nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE user_preferences
		 SET automation_enabled = ?, confidence_threshold = ?, vips = ?, blacklist = ?,
		     breaker_max_consecutive_low = ?, breaker_cooldown_seconds = ?, breaker_half_open_successes = ?,
		     notify_address = ?, updated_at = ?, version = version + 1
		 WHERE user_id = ? AND version = ?`,
		p.AutomationEnabled, p.ConfidenceThreshold, vips, blacklist,
		p.Breaker.MaxConsecutiveLow, cooldown, p.Breaker.HalfOpenSuccesses,
		p.NotifyAddress, ts(p.UpdatedAt), p.UserID, p.Version)
	if err != nil {
		return fmt.Errorf("update preferences for user %s: %w", p.UserID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update preferences for user %s: %w", p.UserID, domain.ErrConflict)
	}
	p.Version++
	return nil
}
