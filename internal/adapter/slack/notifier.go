// Package slack mirrors user notifications into a Slack channel through an
// incoming webhook.
package slack

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	slackapi "github.com/slack-go/slack"

	"github.com/manutej/calendar-availability-system-sub000/internal/port/notifier"
)

const providerName = "slack"

// Notifier posts notifications to a Slack incoming webhook.
type Notifier struct {
	webhookURL string
	httpClient *http.Client
}

// NewNotifier creates a Slack notifier with the given webhook URL.
func NewNotifier(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *Notifier) Name() string { return providerName }

func (n *Notifier) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{RichFormatting: true}
}

// Send posts the notification. The recipient address and source are shown
// as context so the channel can tell whose decision it was.
func (n *Notifier) Send(ctx context.Context, notification notifier.Notification) error {
	if n.webhookURL == "" {
		return notifier.ErrNotConfigured
	}
	if err := slackapi.PostWebhookCustomHTTPContext(ctx, n.webhookURL, n.httpClient, buildMessage(notification)); err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	return nil
}

// buildMessage renders the Block Kit payload. Text is the fallback shown in
// push notifications.
func buildMessage(notification notifier.Notification) *slackapi.WebhookMessage {
	header := levelTag(notification.Level) + " " + notification.Title
	blocks := []slackapi.Block{
		slackapi.NewHeaderBlock(slackapi.NewTextBlockObject(slackapi.PlainTextType, header, false, false)),
		slackapi.NewSectionBlock(
			slackapi.NewTextBlockObject(slackapi.MarkdownType, escape(notification.Message), false, false),
			nil, nil,
		),
	}

	var meta []slackapi.MixedElement
	if notification.To != "" {
		meta = append(meta, slackapi.NewTextBlockObject(slackapi.MarkdownType, "For: "+escape(notification.To), false, false))
	}
	if notification.Source != "" {
		meta = append(meta, slackapi.NewTextBlockObject(slackapi.MarkdownType, "_"+escape(notification.Source)+"_", false, false))
	}
	if len(meta) > 0 {
		blocks = append(blocks, slackapi.NewContextBlock("", meta...))
	}

	return &slackapi.WebhookMessage{
		Text:   header,
		Blocks: &slackapi.Blocks{BlockSet: blocks},
	}
}

var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// escape applies Slack's mrkdwn control character escaping.
func escape(s string) string { return escaper.Replace(s) }

func levelTag(level string) string {
	switch level {
	case "error":
		return "[ERROR]"
	case "warning":
		return "[WARN]"
	default:
		return "[INFO]"
	}
}
