package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/manutej/calendar-availability-system-sub000/internal/adapter/otel"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/conversation"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/decision"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/message"
	"github.com/manutej/calendar-availability-system-sub000/internal/port/mailer"
	"github.com/manutej/calendar-availability-system-sub000/internal/port/notifier"
	"github.com/manutej/calendar-availability-system-sub000/internal/resilience"
)

// DeliveryKind says what the dispatcher did with a decision.
type DeliveryKind string

const (
	DeliverySent       DeliveryKind = "sent"       // automatic reply sent
	DeliverySuppressed DeliveryKind = "suppressed" // automation off, or not confirmable, at send time
	DeliveryEscalated  DeliveryKind = "escalated"  // user asked to approve
	DeliveryNotified   DeliveryKind = "notified"   // user told about a decline
	DeliveryFailed     DeliveryKind = "failed"     // reply or notification could not be delivered
)

// Notification sources emitted by the dispatcher.
const (
	SourceApproval   = "decision.request_approval"
	SourceDecline    = "decision.decline"
	SourceSuppressed = "decision.suppressed"
	SourceReplyFail  = "reply.failed"
)

// DeliveryResult holds the outcome of a dispatch.
type DeliveryResult struct {
	Kind         DeliveryKind `json:"kind"`
	AuditEntryID string       `json:"audit_entry_id"`
	Notified     bool         `json:"notified"`
	Error        string       `json:"error,omitempty"`
}

// DispatcherService acts on decisions: it sends automatic replies and tells
// users about everything it did not send.
type DispatcherService struct {
	prefs    *PreferencesService
	audit    *AuditService
	notify   *NotificationService
	mailer   mailer.Mailer
	sendCB   *resilience.Breaker
	timeout  time.Duration
	fallback string
	metrics  *otel.Metrics
}

// NewDispatcherService creates a DispatcherService. fallbackTo receives
// notifications for users without a notify address.
func NewDispatcherService(prefs *PreferencesService, audit *AuditService, notify *NotificationService, m mailer.Mailer, sendTimeout time.Duration, fallbackTo string) *DispatcherService {
	return &DispatcherService{
		prefs:    prefs,
		audit:    audit,
		notify:   notify,
		mailer:   m,
		sendCB:   resilience.NewBreaker("mailer", 5, 30*time.Second),
		timeout:  sendTimeout,
		fallback: fallbackTo,
	}
}

// SetMetrics attaches metric instruments.
func (s *DispatcherService) SetMetrics(m *otel.Metrics) { s.metrics = m }

// Dispatch delivers res. A reply is only sent when automation is still
// enabled at send time; everything else becomes a notification to the user.
func (s *DispatcherService) Dispatch(ctx context.Context, res *decision.Result) (*DeliveryResult, error) {
	if res == nil {
		return nil, errors.New("dispatch: nil result")
	}
	ctx, span := otel.StartDispatchSpan(ctx, res.AuditEntryID, string(res.Outcome))
	defer span.End()

	out := &DeliveryResult{AuditEntryID: res.AuditEntryID}
	switch res.Outcome {
	case decision.OutcomeAutoRespond:
		s.autoRespond(ctx, res, out)
	case decision.OutcomeRequestApproval:
		out.Kind = DeliveryEscalated
		s.tell(ctx, res, out, notifier.Notification{
			Title:   "Approval needed: " + res.Message.Sender,
			Message: approvalMessage(res),
			Level:   "warning",
			Source:  SourceApproval,
		})
	case decision.OutcomeDecline:
		out.Kind = DeliveryNotified
		s.tell(ctx, res, out, notifier.Notification{
			Title:   "Declined: " + res.Message.Sender,
			Message: declineMessage(res),
			Level:   "info",
			Source:  SourceDecline,
		})
	default:
		return nil, fmt.Errorf("dispatch: unknown outcome %q", res.Outcome)
	}

	if out.Error != "" {
		span.SetStatus(codes.Error, out.Error)
	}
	slog.InfoContext(ctx, "decision dispatched",
		"audit_entry_id", res.AuditEntryID,
		"outcome", res.Outcome,
		"delivery", out.Kind,
		"notified", out.Notified,
	)
	return out, nil
}

func (s *DispatcherService) autoRespond(ctx context.Context, res *decision.Result, out *DeliveryResult) {
	// No reply goes out unless automation is confirmed on at send time.
	p, err := s.prefs.Get(ctx, res.Message.UserID)
	if err != nil || !p.AutomationEnabled {
		reason := "Automation was turned off before this reply was sent."
		if err != nil {
			slog.WarnContext(ctx, "holding reply, preferences unavailable", "audit_entry_id", res.AuditEntryID, "error", err)
			reason = "Automation settings could not be checked, so this reply was held."
			out.Error = err.Error()
		}
		out.Kind = DeliverySuppressed
		s.metrics.RecordReply(ctx, string(DeliverySuppressed))
		s.tell(ctx, res, out, notifier.Notification{
			Title:   "Reply held: " + res.Message.Sender,
			Message: reason + "\n\n" + approvalMessage(res),
			Level:   "warning",
			Source:  SourceSuppressed,
		})
		return
	}

	err = s.send(ctx, res)
	if err == nil {
		out.Kind = DeliverySent
		s.metrics.RecordReply(ctx, string(DeliverySent))
		return
	}

	out.Kind = DeliveryFailed
	out.Error = err.Error()
	s.metrics.RecordReply(ctx, string(DeliveryFailed))
	slog.ErrorContext(ctx, "automatic reply failed", "audit_entry_id", res.AuditEntryID, "error", err)
	s.tell(ctx, res, out, notifier.Notification{
		Title:   "Reply failed: " + res.Message.Sender,
		Message: fmt.Sprintf("The automatic reply could not be sent (%v).\n\n%s", err, approvalMessage(res)),
		Level:   "error",
		Source:  SourceReplyFail,
	})
}

func (s *DispatcherService) send(ctx context.Context, res *decision.Result) error {
	if s.mailer == nil {
		return mailer.ErrNotConfigured
	}
	r := mailer.Reply{
		To:        res.Message.Sender,
		Subject:   "Scheduling",
		Body:      ComposeReply(res.Conversation.Status, res.ProposedSlots),
		ThreadID:  res.Message.ThreadID,
		InReplyTo: res.Message.MessageID,
	}
	return s.sendCB.Call(ctx, s.timeout, func(ctx context.Context) error {
		return s.mailer.SendReply(ctx, r)
	})
}

// tell notifies the user and marks the audit entry once a notifier accepted
// it. Notification failures are recorded on out, never returned.
func (s *DispatcherService) tell(ctx context.Context, res *decision.Result, out *DeliveryResult, n notifier.Notification) {
	if s.notify == nil {
		return
	}
	n.To = s.fallback
	if p, err := s.prefs.Get(ctx, res.Message.UserID); err == nil && p.NotifyAddress != "" {
		n.To = p.NotifyAddress
	}
	if err := s.notify.Notify(ctx, n); err != nil {
		slog.WarnContext(ctx, "decision notification not delivered", "audit_entry_id", res.AuditEntryID, "error", err)
		if out.Error == "" {
			out.Error = err.Error()
		}
		return
	}
	out.Notified = true
	if err := s.audit.MarkNotified(ctx, res.AuditEntryID); err != nil {
		slog.WarnContext(ctx, "mark audit entry notified", "audit_entry_id", res.AuditEntryID, "error", err)
	}
}

// ComposeReply renders the automatic reply body for a conversation that is
// now in status.
func ComposeReply(status conversation.Status, slots []message.TimeRange) string {
	var b strings.Builder
	b.WriteString("Hello,\n\n")
	switch status {
	case conversation.StatusConfirmed, conversation.StatusScheduled:
		b.WriteString("Thanks for confirming. The meeting is on my calendar.\n")
	default:
		if len(slots) == 0 {
			b.WriteString("Thanks for your message. I'll follow up with times that work.\n")
			break
		}
		b.WriteString("Thanks for reaching out. The following times work for me:\n\n")
		for _, r := range slots {
			fmt.Fprintf(&b, "  - %s\n", formatRange(r))
		}
		b.WriteString("\nLet me know which one suits you.\n")
	}
	b.WriteString("\nBest regards")
	return b.String()
}

func formatRange(r message.TimeRange) string {
	start := r.Start.UTC()
	end := r.End.UTC()
	if start.Format(time.DateOnly) == end.Format(time.DateOnly) {
		return fmt.Sprintf("%s, %s-%s UTC", start.Format("Mon Jan 2 2006"), start.Format("15:04"), end.Format("15:04"))
	}
	return fmt.Sprintf("%s to %s UTC", start.Format("Mon Jan 2 2006 15:04"), end.Format("Mon Jan 2 2006 15:04"))
}

func approvalMessage(res *decision.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\nThread: %s\n", res.Message.Sender, res.Message.ThreadID)
	if res.Assessment != nil {
		fmt.Fprintf(&b, "Confidence: %.2f\n", res.Assessment.Overall)
	}
	if res.ForcedBy != decision.ForcedNone {
		fmt.Fprintf(&b, "Forced by: %s\n", res.ForcedBy)
	}
	for _, r := range res.Rationale {
		b.WriteString("- " + r + "\n")
	}
	fmt.Fprintf(&b, "Audit entry: %s", res.AuditEntryID)
	return b.String()
}

func declineMessage(res *decision.Result) string {
	return "No reply was sent.\n\n" + approvalMessage(res)
}
