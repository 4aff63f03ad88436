// Package calendar holds the availability snapshot consumed from the
// calendar collaborator.
package calendar

import (
	"time"

	"github.com/manutej/calendar-availability-system-sub000/internal/domain/message"
)

// Availability is the calendar's answer for a set of proposed ranges.
type Availability struct {
	Free      []message.TimeRange `json:"free"`
	Conflicts []message.TimeRange `json:"conflicts"`
	CheckedAt time.Time           `json:"checked_at"`
	// Error is set when the lookup failed; Free and Conflicts are then empty.
	Error string `json:"error,omitempty"`
}

// HasConflicts reports whether any proposed range collides with an event.
func (a *Availability) HasConflicts() bool {
	return a != nil && len(a.Conflicts) > 0
}

// Failed reports whether the lookup did not produce usable data.
func (a *Availability) Failed() bool {
	return a == nil || a.Error != ""
}
