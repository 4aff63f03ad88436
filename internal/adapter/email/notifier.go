// Package email delivers user notifications over SMTP and automatic replies
// through SendGrid.
package email

import (
	"context"
	"fmt"
	"html"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/manutej/calendar-availability-system-sub000/internal/port/notifier"
)

const providerName = "email"

// SMTPConfig holds the configuration for SMTP connections.
type SMTPConfig struct {
	Host     string
	Port     int
	From     string
	Password string
	// To receives notifications that carry no recipient of their own.
	To string
}

// sendFunc matches smtp.SendMail.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Notifier sends email notifications via SMTP.
type Notifier struct {
	cfg  SMTPConfig
	send sendFunc
}

// NewNotifier creates a new email notifier.
func NewNotifier(cfg SMTPConfig) *Notifier {
	return &Notifier{cfg: cfg, send: smtp.SendMail}
}

func init() {
	notifier.Register(providerName, func(config map[string]string) (notifier.Notifier, error) {
		port := 587
		if p := config["port"]; p != "" {
			v, err := strconv.Atoi(p)
			if err != nil {
				return nil, fmt.Errorf("email notifier: invalid port %q: %w", p, err)
			}
			port = v
		}
		return NewNotifier(SMTPConfig{
			Host:     config["host"],
			Port:     port,
			From:     config["from"],
			Password: config["password"],
			To:       config["to"],
		}), nil
	})
}

func (n *Notifier) Name() string { return providerName }

func (n *Notifier) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{RichFormatting: true}
}

// Send sends an email notification.
func (n *Notifier) Send(_ context.Context, notification notifier.Notification) error {
	to := notification.To
	if to == "" {
		to = n.cfg.To
	}
	if n.cfg.Host == "" || n.cfg.From == "" || to == "" {
		return notifier.ErrNotConfigured
	}

	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	subject := "[schedulerd] " + notification.Title

	var body strings.Builder
	fmt.Fprintf(&body, "<h2>%s</h2>\n", html.EscapeString(notification.Title))
	for _, line := range strings.Split(notification.Message, "\n") {
		fmt.Fprintf(&body, "<p>%s</p>\n", html.EscapeString(line))
	}
	if notification.Source != "" {
		fmt.Fprintf(&body, "<p><small>%s · %s</small></p>\n",
			html.EscapeString(notification.Source), html.EscapeString(notification.Level))
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		n.cfg.From, to, subject, body.String())

	var auth smtp.Auth
	if n.cfg.Password != "" {
		auth = smtp.PlainAuth("", n.cfg.From, n.cfg.Password, n.cfg.Host)
	}

	if err := n.send(addr, auth, n.cfg.From, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send to %s: %w", to, err)
	}
	return nil
}
