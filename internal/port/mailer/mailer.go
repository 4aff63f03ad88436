// Package mailer defines the outbound reply port (interface).
package mailer

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when no delivery credentials are set.
var ErrNotConfigured = errors.New("mailer: not configured")

// Reply is an automatic answer sent back into a scheduling thread.
type Reply struct {
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	ThreadID  string `json:"thread_id"`
	InReplyTo string `json:"in_reply_to"`
}

// Mailer delivers replies on the user's behalf.
type Mailer interface {
	SendReply(ctx context.Context, r Reply) error
}
