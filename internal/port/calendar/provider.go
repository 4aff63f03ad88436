// Package calendar defines the calendar availability port (interface).
package calendar

import (
	"context"

	"github.com/manutej/calendar-availability-system-sub000/internal/domain/calendar"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/message"
)

// Provider answers availability questions against a user's calendar.
type Provider interface {
	// Availability splits ranges into free ranges and ranges that collide
	// with existing events.
	Availability(ctx context.Context, userID string, ranges []message.TimeRange) (*calendar.Availability, error)
}
