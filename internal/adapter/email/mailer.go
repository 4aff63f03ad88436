package email

import (
	"context"
	"fmt"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/manutej/calendar-availability-system-sub000/internal/port/mailer"
)

const sendGridHost = "https://api.sendgrid.com"

// SendGridMailer delivers automatic replies through the SendGrid v3 API.
type SendGridMailer struct {
	apiKey   func() string
	fromName string
	fromAddr string
	host     string
}

// NewSendGridMailer creates a mailer sending as fromName <fromAddr>.
func NewSendGridMailer(apiKey, fromName, fromAddr string) *SendGridMailer {
	return &SendGridMailer{
		apiKey:   func() string { return apiKey },
		fromName: fromName,
		fromAddr: fromAddr,
		host:     sendGridHost,
	}
}

// SetKeySource makes the mailer read its API key from fn on every send, so a
// rotated key takes effect without a restart.
func (m *SendGridMailer) SetKeySource(fn func() string) { m.apiKey = fn }

// SendReply sends r as a reply within its thread.
func (m *SendGridMailer) SendReply(ctx context.Context, r mailer.Reply) error {
	apiKey := m.apiKey()
	if apiKey == "" {
		return mailer.ErrNotConfigured
	}

	subject := r.Subject
	if subject != "" && !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}

	from := mail.NewEmail(m.fromName, m.fromAddr)
	to := mail.NewEmail("", r.To)
	message := mail.NewSingleEmail(from, subject, to, r.Body, "")
	if r.InReplyTo != "" {
		message.SetHeader("In-Reply-To", r.InReplyTo)
		message.SetHeader("References", r.InReplyTo)
	}

	request := sendgrid.GetRequest(apiKey, "/v3/mail/send", m.host)
	request.Method = "POST"
	request.Body = mail.GetRequestBody(message)

	response, err := sendgrid.MakeRequestWithContext(ctx, request)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid API error: status %d, body: %s", response.StatusCode, response.Body)
	}
	return nil
}
