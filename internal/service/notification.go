// Package service contains application services.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/manutej/calendar-availability-system-sub000/internal/port/notifier"
)

// ErrNotDelivered is returned when no notifier accepted a notification.
var ErrNotDelivered = errors.New("notification not delivered")

// NotificationService dispatches notifications to all registered notifiers.
type NotificationService struct {
	notifiers     []notifier.Notifier
	enabledEvents map[string]bool
}

// NewNotificationService creates a NotificationService with the given notifiers
// and list of enabled sources (e.g., "decision.request_approval", "reply.failed").
// If enabledEvents is nil or empty, all sources are enabled.
func NewNotificationService(notifiers []notifier.Notifier, enabledEvents []string) *NotificationService {
	enabled := make(map[string]bool, len(enabledEvents))
	for _, e := range enabledEvents {
		enabled[e] = true
	}
	return &NotificationService{
		notifiers:     notifiers,
		enabledEvents: enabled,
	}
}

// Notify sends a notification to all registered notifiers. Errors are logged
// but do not interrupt delivery to other notifiers. It returns
// ErrNotDelivered unless at least one notifier accepted it.
func (s *NotificationService) Notify(ctx context.Context, n notifier.Notification) error {
	if len(s.enabledEvents) > 0 && !s.enabledEvents[n.Source] {
		return ErrNotDelivered
	}

	var errs []error
	delivered := false
	for _, provider := range s.notifiers {
		if err := provider.Send(ctx, n); err != nil {
			slog.WarnContext(ctx, "notification send failed",
				"provider", provider.Name(),
				"title", n.Title,
				"error", err,
			)
			errs = append(errs, err)
			continue
		}
		delivered = true
		slog.DebugContext(ctx, "notification sent", "provider", provider.Name(), "title", n.Title)
	}
	if !delivered {
		return errors.Join(append([]error{ErrNotDelivered}, errs...)...)
	}
	return nil
}

// NotifierCount returns the number of registered notifiers.
func (s *NotificationService) NotifierCount() int {
	return len(s.notifiers)
}
