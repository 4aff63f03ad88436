package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/manutej/calendar-availability-system-sub000/internal/domain"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/audit"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/decision"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/message"
)

func recordEntry(t *testing.T, svc *AuditService, sender string, action decision.Outcome) string {
	t.Helper()
	id, err := svc.Record(context.Background(), &audit.Entry{
		UserID:      "alice",
		ThreadID:    "thread-1",
		MessageID:   "msg-" + sender + string(action),
		Sender:      sender,
		RequestType: message.RequestInitial,
		Action:      action,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	return id
}

func TestAuditService_Override(t *testing.T) {
	env := newTestEnv(t)
	id := recordEntry(t, env.audit, "bob@example.com", decision.OutcomeAutoRespond)

	if _, err := env.audit.Override(context.Background(), id, audit.OverrideRetracted, "wrong slot", ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("missing actor: got %v, want ErrValidation", err)
	}

	e, err := env.audit.Override(context.Background(), id, audit.OverrideRetracted, "wrong slot", "alice")
	if err != nil {
		t.Fatalf("Override: %v", err)
	}
	if e.Override == nil || e.Override.Kind != audit.OverrideRetracted {
		t.Fatalf("override not applied: %+v", e.Override)
	}

	_, err = env.audit.Override(context.Background(), id, audit.OverrideApproved, "", "alice")
	if !errors.Is(err, audit.ErrAlreadyOverridden) {
		t.Fatalf("second override: got %v, want ErrAlreadyOverridden", err)
	}

	got, err := env.audit.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Action != decision.OutcomeAutoRespond {
		t.Errorf("original action changed to %s", got.Action)
	}
	if got.Override == nil || got.Override.Actor != "alice" {
		t.Errorf("stored override = %+v", got.Override)
	}
}

func TestAuditService_OverrideWindowClosed(t *testing.T) {
	env := newTestEnv(t)
	id := recordEntry(t, env.audit, "bob@example.com", decision.OutcomeDecline)

	env.audit.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	_, err := env.audit.Override(context.Background(), id, audit.OverrideApproved, "", "alice")
	if !errors.Is(err, audit.ErrOverrideWindowClosed) {
		t.Fatalf("got %v, want ErrOverrideWindowClosed", err)
	}
}

func TestAuditService_OverrideUnknownEntry(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.audit.Override(context.Background(), "missing", audit.OverrideApproved, "", "alice")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestAuditService_MarkNotified(t *testing.T) {
	env := newTestEnv(t)
	id := recordEntry(t, env.audit, "bob@example.com", decision.OutcomeRequestApproval)

	if err := env.audit.MarkNotified(context.Background(), id); err != nil {
		t.Fatalf("MarkNotified: %v", err)
	}
	first, err := env.audit.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !first.Notified() {
		t.Fatal("entry not marked notified")
	}

	env.audit.now = func() time.Time { return time.Now().Add(time.Hour) }
	if err := env.audit.MarkNotified(context.Background(), id); err != nil {
		t.Fatalf("second MarkNotified: %v", err)
	}
	second, err := env.audit.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !second.NotifiedAt.Equal(*first.NotifiedAt) {
		t.Errorf("notified_at moved from %v to %v", first.NotifiedAt, second.NotifiedAt)
	}
}

func TestAuditService_QueryNormalizesSender(t *testing.T) {
	env := newTestEnv(t)
	recordEntry(t, env.audit, "Bob <Bob@Example.com>", decision.OutcomeAutoRespond)
	recordEntry(t, env.audit, "carol@example.com", decision.OutcomeDecline)

	entries, err := env.audit.Query(context.Background(), audit.Filter{UserID: "alice", Sender: "BOB@example.com"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 || entries[0].Sender != "bob@example.com" {
		t.Fatalf("entries = %+v, want one for bob@example.com", entries)
	}
}

func TestAuditService_Stats(t *testing.T) {
	env := newTestEnv(t)
	id := recordEntry(t, env.audit, "bob@example.com", decision.OutcomeAutoRespond)
	recordEntry(t, env.audit, "carol@example.com", decision.OutcomeDecline)
	recordEntry(t, env.audit, "dave@example.com", decision.OutcomeDecline)
	if _, err := env.audit.Override(context.Background(), id, audit.OverrideMarkedIncorrect, "", "alice"); err != nil {
		t.Fatalf("Override: %v", err)
	}

	st, err := env.audit.Stats(context.Background(), "alice", nil)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Total != 3 {
		t.Errorf("total = %d, want 3", st.Total)
	}
	if st.ByAction[decision.OutcomeDecline] != 2 || st.ByAction[decision.OutcomeAutoRespond] != 1 {
		t.Errorf("by_action = %v", st.ByAction)
	}
	if st.Overrides[audit.OverrideMarkedIncorrect] != 1 {
		t.Errorf("overrides = %v", st.Overrides)
	}

	if _, err := env.audit.Stats(context.Background(), "", nil); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("missing user: got %v, want ErrValidation", err)
	}
}

func TestAuditService_StatsClampedToRetention(t *testing.T) {
	env := newTestEnv(t)
	ancient := time.Now().Add(-10 * 365 * 24 * time.Hour)

	st, err := env.audit.Stats(context.Background(), "alice", &ancient)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	earliest := time.Now().Add(-env.cfg.Decision.Retention - time.Minute)
	if st.Since.Before(earliest) {
		t.Errorf("since = %v reaches past the retention window", st.Since)
	}
}

func TestHistoryTrust(t *testing.T) {
	env := newTestEnv(t)
	trust := NewHistoryTrust(env.audit, nil, time.Minute)
	ctx := context.Background()

	_, known, err := trust.SenderTrust(ctx, "alice", "stranger@example.com")
	if err != nil {
		t.Fatalf("SenderTrust: %v", err)
	}
	if known {
		t.Error("sender without history should be unknown")
	}

	recordEntry(t, env.audit, "bob@example.com", decision.OutcomeAutoRespond)
	id := recordEntry(t, env.audit, "bob@example.com", decision.OutcomeRequestApproval)
	if _, err := env.audit.Override(ctx, id, audit.OverrideApproved, "", "alice"); err != nil {
		t.Fatalf("Override: %v", err)
	}

	score, known, err := trust.SenderTrust(ctx, "alice", "Bob <BOB@example.com>")
	if err != nil {
		t.Fatalf("SenderTrust: %v", err)
	}
	if !known || score != 0.75 {
		t.Errorf("score = %v known = %v, want 0.75 known", score, known)
	}
}

func TestHistoryTrust_Cached(t *testing.T) {
	env := newTestEnv(t)
	c := newTestCache(t)
	trust := NewHistoryTrust(env.audit, c, time.Minute)
	ctx := context.Background()

	if _, known, _ := trust.SenderTrust(ctx, "alice", "bob@example.com"); known {
		t.Fatal("expected unknown sender")
	}
	recordEntry(t, env.audit, "bob@example.com", decision.OutcomeAutoRespond)

	// The cached verdict stands until it expires.
	if _, known, _ := trust.SenderTrust(ctx, "alice", "bob@example.com"); known {
		t.Error("cached unknown verdict was not used")
	}

	if err := c.Delete(ctx, trustKey("alice", "bob@example.com")); err != nil {
		t.Fatal(err)
	}
	score, known, err := trust.SenderTrust(ctx, "alice", "bob@example.com")
	if err != nil || !known || score != 2.0/3.0 {
		t.Errorf("score = %v known = %v err = %v, want 2/3", score, known, err)
	}
}

func TestHistoryTrust_OverrideInvalidatesCache(t *testing.T) {
	env := newTestEnv(t)
	c := newTestCache(t)
	env.audit.SetCache(c)
	trust := NewHistoryTrust(env.audit, c, time.Hour)
	ctx := context.Background()

	id := recordEntry(t, env.audit, "bob@example.com", decision.OutcomeAutoRespond)
	score, known, err := trust.SenderTrust(ctx, "alice", "bob@example.com")
	if err != nil || !known || score != 2.0/3.0 {
		t.Fatalf("score = %v known = %v err = %v, want 2/3", score, known, err)
	}

	if _, err := env.audit.Override(ctx, id, audit.OverrideMarkedIncorrect, "wrong slot", "alice"); err != nil {
		t.Fatalf("Override: %v", err)
	}

	score, known, err = trust.SenderTrust(ctx, "alice", "bob@example.com")
	if err != nil || !known || score != 1.0/3.0 {
		t.Errorf("after override score = %v known = %v err = %v, want 1/3", score, known, err)
	}
}
