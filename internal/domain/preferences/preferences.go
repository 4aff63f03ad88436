// Package preferences holds the per-user automation settings read by every
// decision.
package preferences

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/manutej/calendar-availability-system-sub000/internal/domain"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/breaker"
)

// Accepted range for the auto_respond threshold.
const (
	MinThreshold = 0.70
	MaxThreshold = 0.95
)

// maxListSize bounds VIP and blacklist entries per user.
const maxListSize = 1000

// Preferences is a user's automation configuration. Decisions take a
// snapshot; changes apply to the next decision.
type Preferences struct {
	UserID              string         `json:"user_id"`
	AutomationEnabled   bool           `json:"automation_enabled"`
	ConfidenceThreshold float64        `json:"confidence_threshold"`
	VIPs                []string       `json:"vips"`
	Blacklist           []string       `json:"blacklist"`
	Breaker             breaker.Tuning `json:"breaker"`
	NotifyAddress       string         `json:"notify_address,omitempty"`
	UpdatedAt           time.Time      `json:"updated_at"`
	Version             int            `json:"version"`
}

// Defaults returns automation-enabled preferences for userID.
func Defaults(userID string, threshold float64, tuning breaker.Tuning) Preferences {
	return Preferences{
		UserID:              userID,
		AutomationEnabled:   true,
		ConfidenceThreshold: threshold,
		VIPs:                []string{},
		Blacklist:           []string{},
		Breaker:             tuning,
	}
}

// Validate checks ranges at the boundary so the scorer can trust them.
func (p *Preferences) Validate() error {
	if p.UserID == "" {
		return fmt.Errorf("%w: user_id is required", domain.ErrValidation)
	}
	if p.ConfidenceThreshold < MinThreshold || p.ConfidenceThreshold > MaxThreshold {
		return fmt.Errorf("%w: confidence_threshold must be within [%.2f, %.2f], got %.2f",
			domain.ErrValidation, MinThreshold, MaxThreshold, p.ConfidenceThreshold)
	}
	if p.Breaker.MaxConsecutiveLow < 1 {
		return fmt.Errorf("%w: breaker.max_consecutive_low must be >= 1", domain.ErrValidation)
	}
	if p.Breaker.Cooldown < time.Minute {
		return fmt.Errorf("%w: breaker.cooldown must be at least 1m", domain.ErrValidation)
	}
	if p.Breaker.HalfOpenSuccesses < 1 {
		return fmt.Errorf("%w: breaker.half_open_successes must be >= 1", domain.ErrValidation)
	}
	if len(p.VIPs) > maxListSize || len(p.Blacklist) > maxListSize {
		return fmt.Errorf("%w: sender lists are limited to %d entries", domain.ErrValidation, maxListSize)
	}
	for _, e := range append(append([]string{}, p.VIPs...), p.Blacklist...) {
		if normalizePattern(e) == "" {
			return fmt.Errorf("%w: empty sender list entry", domain.ErrValidation)
		}
	}
	return nil
}

// IsBlacklisted reports whether sender matches a blacklist entry.
func (p *Preferences) IsBlacklisted(sender string) bool {
	return matchAny(p.Blacklist, sender)
}

// IsVIP reports whether sender matches a VIP entry.
func (p *Preferences) IsVIP(sender string) bool {
	return matchAny(p.VIPs, sender)
}

// UpdateRequest is a partial update; nil fields are left unchanged.
type UpdateRequest struct {
	AutomationEnabled   *bool          `json:"automation_enabled,omitempty"`
	ConfidenceThreshold *float64       `json:"confidence_threshold,omitempty"`
	VIPs                []string       `json:"vips,omitempty"`
	Blacklist           []string       `json:"blacklist,omitempty"`
	Breaker             *TuningRequest `json:"breaker,omitempty"`
	NotifyAddress       *string        `json:"notify_address,omitempty"`
}

// TuningRequest updates breaker tuning. Cooldown is a Go duration string.
type TuningRequest struct {
	MaxConsecutiveLow *int    `json:"max_consecutive_low,omitempty"`
	Cooldown          *string `json:"cooldown,omitempty"`
	HalfOpenSuccesses *int    `json:"half_open_successes,omitempty"`
}

// Apply merges req into p. The caller validates the result.
func (p *Preferences) Apply(req UpdateRequest) error {
	if req.AutomationEnabled != nil {
		p.AutomationEnabled = *req.AutomationEnabled
	}
	if req.ConfidenceThreshold != nil {
		p.ConfidenceThreshold = *req.ConfidenceThreshold
	}
	if req.VIPs != nil {
		p.VIPs = normalizeList(req.VIPs)
	}
	if req.Blacklist != nil {
		p.Blacklist = normalizeList(req.Blacklist)
	}
	if req.NotifyAddress != nil {
		p.NotifyAddress = strings.TrimSpace(*req.NotifyAddress)
	}
	if b := req.Breaker; b != nil {
		if b.MaxConsecutiveLow != nil {
			p.Breaker.MaxConsecutiveLow = *b.MaxConsecutiveLow
		}
		if b.HalfOpenSuccesses != nil {
			p.Breaker.HalfOpenSuccesses = *b.HalfOpenSuccesses
		}
		if b.Cooldown != nil {
			d, err := time.ParseDuration(*b.Cooldown)
			if err != nil {
				return fmt.Errorf("%w: breaker.cooldown: %v", domain.ErrValidation, err)
			}
			p.Breaker.Cooldown = d
		}
	}
	return nil
}

// Address extracts the bare lower-cased address from a From header value
// such as `"Ann Lee" <Ann@Example.com>`.
func Address(sender string) string {
	sender = strings.TrimSpace(sender)
	if a, err := mail.ParseAddress(sender); err == nil {
		sender = a.Address
	}
	return strings.ToLower(sender)
}

// Entries are exact addresses or "@domain" patterns.
func matchAny(patterns []string, sender string) bool {
	addr := Address(sender)
	if addr == "" {
		return false
	}
	domainPart := ""
	if i := strings.LastIndexByte(addr, '@'); i >= 0 {
		domainPart = addr[i:]
	}
	for _, p := range patterns {
		p = normalizePattern(p)
		if p == addr || (strings.HasPrefix(p, "@") && p == domainPart) {
			return true
		}
	}
	return false
}

func normalizePattern(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	if strings.HasPrefix(p, "@") {
		return p
	}
	return Address(p)
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, e := range in {
		n := normalizePattern(e)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
