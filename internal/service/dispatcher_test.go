package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/manutej/calendar-availability-system-sub000/internal/domain/conversation"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/decision"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/message"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/preferences"
	"github.com/manutej/calendar-availability-system-sub000/internal/port/notifier"
)

type dispatchEnv struct {
	*testEnv
	mailer     *fakeMailer
	notifier   *mockNotifier
	dispatcher *DispatcherService
}

func newDispatchEnv(t *testing.T) *dispatchEnv {
	t.Helper()
	env := newTestEnv(t)
	m := &fakeMailer{}
	n := &mockNotifier{name: "mock"}
	notify := NewNotificationService([]notifier.Notifier{n}, nil)
	return &dispatchEnv{
		testEnv:    env,
		mailer:     m,
		notifier:   n,
		dispatcher: NewDispatcherService(env.prefs, env.audit, notify, m, env.cfg.Collaborators.SendTimeout, "ops@example.com"),
	}
}

func (e *dispatchEnv) dispatch(t *testing.T, res *decision.Result) *DeliveryResult {
	t.Helper()
	out, err := e.dispatcher.Dispatch(context.Background(), res)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	return out
}

func TestDispatch_AutoRespondSendsReply(t *testing.T) {
	env := newDispatchEnv(t)
	res := env.decide(t, confidentMsg("thread-1", "msg-1"))

	out := env.dispatch(t, res)
	if out.Kind != DeliverySent {
		t.Fatalf("kind = %s, want sent (%s)", out.Kind, out.Error)
	}

	replies := env.mailer.replies()
	if len(replies) != 1 {
		t.Fatalf("sent %d replies, want 1", len(replies))
	}
	r := replies[0]
	if r.InReplyTo != "msg-1" || r.ThreadID != "thread-1" || r.To != res.Message.Sender {
		t.Errorf("reply headers = %+v", r)
	}
	if !strings.Contains(r.Body, "Tue Nov 3 2026, 15:00-15:30 UTC") {
		t.Errorf("reply body does not list the free slot:\n%s", r.Body)
	}
	if len(env.notifier.all()) != 0 {
		t.Error("sent reply should not notify the user")
	}
}

func TestDispatch_SuppressedWhenAutomationDisabled(t *testing.T) {
	env := newDispatchEnv(t)
	res := env.decide(t, confidentMsg("thread-1", "msg-1"))

	off := false
	if _, err := env.prefs.Update(context.Background(), "alice", preferences.UpdateRequest{AutomationEnabled: &off}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	out := env.dispatch(t, res)
	if out.Kind != DeliverySuppressed || !out.Notified {
		t.Fatalf("delivery = %+v, want suppressed and notified", out)
	}
	if len(env.mailer.replies()) != 0 {
		t.Fatal("reply sent after automation was disabled")
	}
	sent := env.notifier.all()
	if len(sent) != 1 || sent[0].Source != SourceSuppressed {
		t.Fatalf("notifications = %+v", sent)
	}

	entry, err := env.audit.Get(context.Background(), res.AuditEntryID)
	if err != nil {
		t.Fatalf("audit Get: %v", err)
	}
	if !entry.Notified() {
		t.Error("audit entry not marked notified")
	}
}

func TestDispatch_HeldWhenPreferencesUnreadable(t *testing.T) {
	env := newDispatchEnv(t)
	res := env.decide(t, confidentMsg("thread-1", "msg-1"))
	if res.Outcome != decision.OutcomeAutoRespond {
		t.Fatalf("outcome = %s, want auto_respond", res.Outcome)
	}

	// Preferences become unreadable between the decision and the send.
	prefs := NewPreferencesService(failingPrefsStore{Store: env.store}, nil, env.cfg)
	notify := NewNotificationService([]notifier.Notifier{env.notifier}, nil)
	dispatcher := NewDispatcherService(prefs, env.audit, notify, env.mailer, env.cfg.Collaborators.SendTimeout, "ops@example.com")

	out, err := dispatcher.Dispatch(context.Background(), res)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if out.Kind != DeliverySuppressed || out.Error == "" {
		t.Fatalf("delivery = %+v, want suppressed with the preferences error", out)
	}
	if n := len(env.mailer.replies()); n != 0 {
		t.Fatalf("sent %d replies without confirming automation is on", n)
	}
	sent := env.notifier.all()
	if len(sent) != 1 || sent[0].Source != SourceSuppressed || sent[0].To != "ops@example.com" {
		t.Fatalf("notifications = %+v, want one held-reply notice to the fallback address", sent)
	}
	if !strings.Contains(sent[0].Message, "could not be checked") {
		t.Errorf("notice does not explain the hold:\n%s", sent[0].Message)
	}
}

func TestDispatch_SendFailureNotifies(t *testing.T) {
	env := newDispatchEnv(t)
	env.mailer.err = errors.New("smtp relay refused")
	res := env.decide(t, confidentMsg("thread-1", "msg-1"))

	out := env.dispatch(t, res)
	if out.Kind != DeliveryFailed || out.Error == "" {
		t.Fatalf("delivery = %+v, want failed with an error", out)
	}
	sent := env.notifier.all()
	if len(sent) != 1 || sent[0].Source != SourceReplyFail || sent[0].Level != "error" {
		t.Fatalf("notifications = %+v", sent)
	}
}

func TestDispatch_EscalationAndDecline(t *testing.T) {
	env := newDispatchEnv(t)

	addr := "alice@example.com"
	if _, err := env.prefs.Update(context.Background(), "alice", preferences.UpdateRequest{NotifyAddress: &addr}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	approval := env.decide(t, confidentMsg("thread-1", "msg-1"))
	approval.Outcome = decision.OutcomeRequestApproval
	out := env.dispatch(t, approval)
	if out.Kind != DeliveryEscalated || !out.Notified {
		t.Fatalf("approval delivery = %+v", out)
	}

	declined := env.decide(t, vagueMsg("thread-2", "msg-2"))
	out = env.dispatch(t, declined)
	if out.Kind != DeliveryNotified {
		t.Fatalf("decline delivery = %+v", out)
	}

	sent := env.notifier.all()
	if len(sent) != 2 {
		t.Fatalf("got %d notifications, want 2", len(sent))
	}
	if sent[0].Source != SourceApproval || sent[1].Source != SourceDecline {
		t.Errorf("sources = %s, %s", sent[0].Source, sent[1].Source)
	}
	for _, n := range sent {
		if n.To != addr {
			t.Errorf("notification to %q, want %q", n.To, addr)
		}
	}
	if !strings.Contains(sent[1].Message, declined.AuditEntryID) {
		t.Error("notification does not reference the audit entry")
	}
	if len(env.mailer.replies()) != 0 {
		t.Error("escalated or declined decision sent a reply")
	}
}

func TestDispatch_FallbackNotifyAddress(t *testing.T) {
	env := newDispatchEnv(t)
	res := env.decide(t, vagueMsg("thread-1", "msg-1"))

	env.dispatch(t, res)
	sent := env.notifier.all()
	if len(sent) != 1 || sent[0].To != "ops@example.com" {
		t.Fatalf("notifications = %+v, want one to the fallback address", sent)
	}
}

func TestComposeReply(t *testing.T) {
	tests := []struct {
		name   string
		status conversation.Status
		slots  []message.TimeRange
		want   string
	}{
		{"slots", conversation.StatusAvailabilitySent, []message.TimeRange{slot(0)}, "15:00-15:30 UTC"},
		{"no slots", conversation.StatusAvailabilitySent, nil, "follow up with times"},
		{"confirmed", conversation.StatusConfirmed, nil, "Thanks for confirming"},
		{"scheduled", conversation.StatusScheduled, []message.TimeRange{slot(0)}, "Thanks for confirming"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComposeReply(tt.status, tt.slots)
			if !strings.Contains(got, tt.want) {
				t.Errorf("ComposeReply() = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}
