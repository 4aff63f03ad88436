// Package storetest provides the compliance suite every database.Store
// implementation must pass.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/manutej/calendar-availability-system-sub000/internal/domain"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/audit"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/breaker"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/calendar"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/confidence"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/conversation"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/decision"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/message"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/preferences"
	"github.com/manutej/calendar-availability-system-sub000/internal/port/database"
)

// base is truncated to microseconds, the resolution every backend keeps.
var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// Run runs the compliance suite against a fresh store from newStore.
// Each subtest uses its own user and thread IDs, so one store may be shared.
func Run(t *testing.T, newStore func(t *testing.T) database.Store) {
	t.Helper()
	s := newStore(t)

	t.Run("Ping", func(t *testing.T) {
		if err := s.Ping(context.Background()); err != nil {
			t.Fatalf("Ping: %v", err)
		}
	})
	t.Run("ConversationLifecycle", func(t *testing.T) { testConversationLifecycle(t, s) })
	t.Run("ConversationSingleLivePerThread", func(t *testing.T) { testSingleLive(t, s) })
	t.Run("ConversationExpirySweep", func(t *testing.T) { testExpirySweep(t, s) })
	t.Run("BreakerRoundTrip", func(t *testing.T) { testBreaker(t, s) })
	t.Run("BreakerEvents", func(t *testing.T) { testBreakerEvents(t, s) })
	t.Run("AuditAppendAndGet", func(t *testing.T) { testAuditAppend(t, s) })
	t.Run("AuditQuery", func(t *testing.T) { testAuditQuery(t, s) })
	t.Run("AuditOverride", func(t *testing.T) { testAuditOverride(t, s) })
	t.Run("AuditNotified", func(t *testing.T) { testAuditNotified(t, s) })
	t.Run("AuditStatsAndHistory", func(t *testing.T) { testAuditStats(t, s) })
	t.Run("Preferences", func(t *testing.T) { testPreferences(t, s) })
}

func id(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

func newConversation(threadID, userID string, at time.Time) *conversation.State {
	exp := at.Add(conversation.DefaultTTL)
	return &conversation.State{
		ID:             uuid.NewString(),
		ThreadID:       threadID,
		UserID:         userID,
		Status:         conversation.StatusAvailabilitySent,
		TurnCount:      1,
		LastRequestID:  "m1",
		History:        []string{"m1"},
		Context:        conversation.Context{PendingConfirmation: true, LastProposedSlots: []message.TimeRange{{Start: at.Add(24 * time.Hour), End: at.Add(25 * time.Hour)}}},
		LastActivityAt: at,
		ExpiresAt:      &exp,
		CreatedAt:      at,
	}
}

func testConversationLifecycle(t *testing.T, s database.Store) {
	ctx := context.Background()
	thread, user := id("thread"), id("user")

	if _, err := s.GetLatestConversation(ctx, thread); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unseen thread: got %v, want ErrNotFound", err)
	}

	c := newConversation(thread, user, base)
	if err := s.CreateConversation(ctx, c); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if c.Version == 0 {
		t.Fatal("CreateConversation must set Version")
	}

	got, err := s.GetLatestConversation(ctx, thread)
	if err != nil {
		t.Fatalf("GetLatestConversation: %v", err)
	}
	if diff := cmp.Diff(c, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}

	stale := *got
	got.Status = conversation.StatusConfirmed
	got.TurnCount = 2
	got.History = append(got.History, "m2")
	got.Context.PendingConfirmation = false
	if err := s.UpdateConversation(ctx, got); err != nil {
		t.Fatalf("UpdateConversation: %v", err)
	}
	if err := s.UpdateConversation(ctx, &stale); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("stale update: got %v, want ErrConflict", err)
	}

	byID, err := s.GetConversation(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if byID.Status != conversation.StatusConfirmed || byID.TurnCount != 2 || len(byID.History) != 2 {
		t.Fatalf("update not persisted: %+v", byID)
	}

	active, err := s.ListActiveConversations(ctx, user)
	if err != nil {
		t.Fatalf("ListActiveConversations: %v", err)
	}
	if len(active) != 1 || active[0].ID != c.ID {
		t.Fatalf("active = %+v", active)
	}

	if _, err := s.GetConversation(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing conversation: got %v", err)
	}
}

func testSingleLive(t *testing.T, s database.Store) {
	ctx := context.Background()
	thread, user := id("thread"), id("user")

	first := newConversation(thread, user, base)
	if err := s.CreateConversation(ctx, first); err != nil {
		t.Fatalf("create first: %v", err)
	}
	if err := s.CreateConversation(ctx, newConversation(thread, user, base)); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second live conversation: got %v, want ErrConflict", err)
	}

	first.Close(conversation.ReasonSuperseded, base)
	if err := s.UpdateConversation(ctx, first); err != nil {
		t.Fatalf("close first: %v", err)
	}
	second := newConversation(thread, user, base)
	if err := s.CreateConversation(ctx, second); err != nil {
		t.Fatalf("create after close: %v", err)
	}

	latest, err := s.GetLatestConversation(ctx, thread)
	if err != nil {
		t.Fatalf("GetLatestConversation: %v", err)
	}
	if latest.ID != second.ID {
		t.Fatalf("latest = %s, want %s", latest.ID, second.ID)
	}

	all, err := s.ListThreadConversations(ctx, thread)
	if err != nil {
		t.Fatalf("ListThreadConversations: %v", err)
	}
	if len(all) != 2 || all[0].ID != second.ID || all[1].Status != conversation.StatusClosed {
		t.Fatalf("thread conversations = %+v", all)
	}
	if all[1].CloseReason != conversation.ReasonSuperseded || all[1].ClosedAt == nil {
		t.Fatalf("closed record lost its close data: %+v", all[1])
	}
}

func testExpirySweep(t *testing.T, s database.Store) {
	ctx := context.Background()
	user := id("user")

	old := newConversation(id("thread"), user, base.Add(-20*24*time.Hour))
	fresh := newConversation(id("thread"), user, base.Add(-time.Hour))
	for _, c := range []*conversation.State{old, fresh} {
		if err := s.CreateConversation(ctx, c); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	n, err := s.CloseExpiredConversations(ctx, base.Add(-conversation.DefaultTTL), base)
	if err != nil {
		t.Fatalf("CloseExpiredConversations: %v", err)
	}
	if n < 1 {
		t.Fatalf("closed %d conversations, want at least 1", n)
	}

	got, err := s.GetConversation(ctx, old.ID)
	if err != nil {
		t.Fatalf("get old: %v", err)
	}
	if got.Status != conversation.StatusClosed || got.CloseReason != conversation.ReasonExpired {
		t.Fatalf("old conversation not expired: %+v", got)
	}
	if got.Context.PendingConfirmation {
		t.Fatal("expired conversation still awaits confirmation")
	}
	if got.Version != old.Version+1 {
		t.Fatalf("sweep must bump version, got %d want %d", got.Version, old.Version+1)
	}

	kept, err := s.GetConversation(ctx, fresh.ID)
	if err != nil {
		t.Fatalf("get fresh: %v", err)
	}
	if kept.Status != conversation.StatusAvailabilitySent {
		t.Fatalf("fresh conversation closed: %+v", kept)
	}
}

func testBreaker(t *testing.T, s database.Store) {
	ctx := context.Background()
	user := id("user")

	if _, err := s.GetBreaker(ctx, user); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown user: got %v, want ErrNotFound", err)
	}

	b := breaker.New(user)
	b.UpdatedAt = base
	if err := s.SaveBreaker(ctx, &b); err != nil {
		t.Fatalf("insert breaker: %v", err)
	}
	if b.Version == 0 {
		t.Fatal("SaveBreaker must set Version")
	}

	tuning := breaker.DefaultTuning()
	for range tuning.MaxConsecutiveLow {
		b.Evaluate(true, tuning, base)
	}
	stale := b
	stale.Version = 1
	if err := s.SaveBreaker(ctx, &b); err != nil {
		t.Fatalf("update breaker: %v", err)
	}
	if err := s.SaveBreaker(ctx, &stale); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("stale update: got %v, want ErrConflict", err)
	}

	got, err := s.GetBreaker(ctx, user)
	if err != nil {
		t.Fatalf("GetBreaker: %v", err)
	}
	if diff := cmp.Diff(&b, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func testBreakerEvents(t *testing.T, s database.Store) {
	ctx := context.Background()
	user := id("user")

	events := []breaker.Event{
		{UserID: user, From: breaker.StatusClosed, To: breaker.StatusOpen, Reason: "5 lows", Actor: breaker.ActorSystem, At: base},
		{UserID: user, From: breaker.StatusOpen, To: breaker.StatusHalfOpen, Reason: "cooldown", Actor: breaker.ActorSystem, At: base.Add(time.Hour)},
		{UserID: user, From: breaker.StatusHalfOpen, To: breaker.StatusClosed, Reason: "manual reset", Actor: user, At: base.Add(2 * time.Hour)},
	}
	if err := s.AppendBreakerEvents(ctx, events); err != nil {
		t.Fatalf("AppendBreakerEvents: %v", err)
	}
	if err := s.AppendBreakerEvents(ctx, nil); err != nil {
		t.Fatalf("empty append: %v", err)
	}
	for _, ev := range events {
		if ev.ID == 0 {
			t.Fatal("AppendBreakerEvents must assign IDs")
		}
	}

	got, err := s.ListBreakerEvents(ctx, user, 2)
	if err != nil {
		t.Fatalf("ListBreakerEvents: %v", err)
	}
	if len(got) != 2 || got[0].To != breaker.StatusClosed || got[1].To != breaker.StatusHalfOpen {
		t.Fatalf("events = %+v", got)
	}
	if got[0].Actor != user {
		t.Fatalf("actor = %q", got[0].Actor)
	}
}

func newEntry(user, thread, sender string, action decision.Outcome, overall float64, at time.Time) *audit.Entry {
	a := confidence.Score(confidence.Input{
		Intent: &overall, TimeParsing: &overall, SenderTrust: &overall, ConversationClarity: nil,
	}, confidence.DefaultPolicy())
	b := breaker.New(user)
	return &audit.Entry{
		ID:             uuid.NewString(),
		UserID:         user,
		ThreadID:       thread,
		ConversationID: uuid.NewString(),
		MessageID:      id("msg"),
		Sender:         sender,
		RequestType:    message.RequestInitial,
		Action:         action,
		Assessment:     &a,
		Conversation:   audit.ConversationSnapshot{Applied: *newConversation(thread, user, at)},
		Breaker:        b,
		Calendar:       &calendar.Availability{Free: []message.TimeRange{{Start: at, End: at.Add(time.Hour)}}, Conflicts: []message.TimeRange{}, CheckedAt: at},
		Rationale:      []string{"scored", "recommended " + string(action)},
		CreatedAt:      at,
	}
}

func testAuditAppend(t *testing.T, s database.Store) {
	ctx := context.Background()
	user := id("user")

	e := newEntry(user, id("thread"), "ann@example.com", decision.OutcomeAutoRespond, 0.9, base)
	if err := s.CreateAuditEntry(ctx, e); err != nil {
		t.Fatalf("CreateAuditEntry: %v", err)
	}
	if err := s.CreateAuditEntry(ctx, e); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("duplicate id: got %v, want ErrConflict", err)
	}

	got, err := s.GetAuditEntry(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetAuditEntry: %v", err)
	}
	if got.Assessment == nil || got.Assessment.Overall != e.Assessment.Overall {
		t.Fatalf("assessment snapshot lost: %+v", got.Assessment)
	}
	if diff := cmp.Diff(e.Assessment.DegradedInputs(), got.Assessment.DegradedInputs()); diff != "" {
		t.Fatalf("degraded inputs (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(e.Conversation, got.Conversation); diff != "" {
		t.Fatalf("conversation snapshot (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(e.Calendar, got.Calendar); diff != "" {
		t.Fatalf("calendar snapshot (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(e.Rationale, got.Rationale); diff != "" {
		t.Fatalf("rationale (-want +got):\n%s", diff)
	}
	if got.Notified() || got.Override != nil {
		t.Fatalf("fresh entry carries notification or override: %+v", got)
	}

	skipped := newEntry(user, id("thread"), "spam@junk.test", decision.OutcomeDecline, 0, base)
	skipped.Assessment = nil
	skipped.Calendar = nil
	skipped.ForcedBy = decision.ForcedBlacklist
	if err := s.CreateAuditEntry(ctx, skipped); err != nil {
		t.Fatalf("entry without assessment: %v", err)
	}
	got, err = s.GetAuditEntry(ctx, skipped.ID)
	if err != nil {
		t.Fatalf("GetAuditEntry: %v", err)
	}
	if got.Assessment != nil || got.Calendar != nil || got.ForcedBy != decision.ForcedBlacklist {
		t.Fatalf("unexpected entry %+v", got)
	}

	if _, err := s.GetAuditEntry(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing entry: got %v", err)
	}
}

func testAuditQuery(t *testing.T, s database.Store) {
	ctx := context.Background()
	user, thread := id("user"), id("thread")

	entries := []*audit.Entry{
		newEntry(user, thread, "ann@example.com", decision.OutcomeAutoRespond, 0.95, base),
		newEntry(user, thread, "ann@example.com", decision.OutcomeRequestApproval, 0.75, base.Add(time.Minute)),
		newEntry(user, id("thread"), "bob@example.com", decision.OutcomeDecline, 0.2, base.Add(2*time.Minute)),
	}
	for _, e := range entries {
		if err := s.CreateAuditEntry(ctx, e); err != nil {
			t.Fatalf("CreateAuditEntry: %v", err)
		}
	}

	since := base.Add(30 * time.Second)
	lo := 0.5
	tests := []struct {
		name string
		f    audit.Filter
		want []string
	}{
		{"all for user", audit.Filter{UserID: user}, []string{entries[2].ID, entries[1].ID, entries[0].ID}},
		{"by thread", audit.Filter{UserID: user, ThreadID: thread}, []string{entries[1].ID, entries[0].ID}},
		{"by sender", audit.Filter{UserID: user, Sender: "bob@example.com"}, []string{entries[2].ID}},
		{"by message", audit.Filter{UserID: user, ThreadID: thread, MessageID: entries[1].MessageID}, []string{entries[1].ID}},
		{"by action", audit.Filter{UserID: user, Action: decision.OutcomeAutoRespond}, []string{entries[0].ID}},
		{"since", audit.Filter{UserID: user, Since: &since}, []string{entries[2].ID, entries[1].ID}},
		{"min confidence", audit.Filter{UserID: user, MinConfidence: &lo}, []string{entries[1].ID, entries[0].ID}},
		{"paged", audit.Filter{UserID: user, Limit: 1, Offset: 1}, []string{entries[1].ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.QueryAuditEntries(ctx, tt.f)
			if err != nil {
				t.Fatalf("QueryAuditEntries: %v", err)
			}
			ids := make([]string, 0, len(got))
			for _, e := range got {
				ids = append(ids, e.ID)
			}
			if diff := cmp.Diff(tt.want, ids); diff != "" {
				t.Fatalf("ids (-want +got):\n%s", diff)
			}
		})
	}
}

func testAuditOverride(t *testing.T, s database.Store) {
	ctx := context.Background()
	e := newEntry(id("user"), id("thread"), "ann@example.com", decision.OutcomeAutoRespond, 0.9, base)
	if err := s.CreateAuditEntry(ctx, e); err != nil {
		t.Fatalf("CreateAuditEntry: %v", err)
	}

	o := audit.Override{Kind: audit.OverrideRetracted, Reason: "wrong slot", Actor: e.UserID, At: base.Add(time.Hour)}
	if err := s.CreateAuditOverride(ctx, e.ID, o); err != nil {
		t.Fatalf("CreateAuditOverride: %v", err)
	}
	if err := s.CreateAuditOverride(ctx, e.ID, o); !errors.Is(err, audit.ErrAlreadyOverridden) {
		t.Fatalf("second override: got %v, want ErrAlreadyOverridden", err)
	}
	if err := s.CreateAuditOverride(ctx, "missing", o); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("override of missing entry: got %v, want ErrNotFound", err)
	}

	got, err := s.GetAuditEntry(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetAuditEntry: %v", err)
	}
	if diff := cmp.Diff(&o, got.Override); diff != "" {
		t.Fatalf("override (-want +got):\n%s", diff)
	}
	if got.Action != decision.OutcomeAutoRespond {
		t.Fatal("override must not rewrite the recorded action")
	}
}

func testAuditNotified(t *testing.T, s database.Store) {
	ctx := context.Background()
	e := newEntry(id("user"), id("thread"), "ann@example.com", decision.OutcomeRequestApproval, 0.75, base)
	if err := s.CreateAuditEntry(ctx, e); err != nil {
		t.Fatalf("CreateAuditEntry: %v", err)
	}

	first := base.Add(time.Second)
	if err := s.MarkAuditNotified(ctx, e.ID, first); err != nil {
		t.Fatalf("MarkAuditNotified: %v", err)
	}
	if err := s.MarkAuditNotified(ctx, e.ID, first.Add(time.Hour)); err != nil {
		t.Fatalf("second MarkAuditNotified: %v", err)
	}
	if err := s.MarkAuditNotified(ctx, "missing", first); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing entry: got %v, want ErrNotFound", err)
	}

	got, err := s.GetAuditEntry(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetAuditEntry: %v", err)
	}
	if got.NotifiedAt == nil || !got.NotifiedAt.Equal(first) {
		t.Fatalf("notified at = %v, want %v", got.NotifiedAt, first)
	}
}

func testAuditStats(t *testing.T, s database.Store) {
	ctx := context.Background()
	user := id("user")

	entries := []*audit.Entry{
		newEntry(user, id("thread"), "ann@example.com", decision.OutcomeAutoRespond, 0.95, base),
		newEntry(user, id("thread"), "ann@example.com", decision.OutcomeAutoRespond, 0.9, base),
		newEntry(user, id("thread"), "ann@example.com", decision.OutcomeRequestApproval, 0.75, base),
		newEntry(user, id("thread"), "bob@example.com", decision.OutcomeDecline, 0.1, base),
	}
	entries[3].ForcedBy = decision.ForcedBlacklist
	for _, e := range entries {
		if err := s.CreateAuditEntry(ctx, e); err != nil {
			t.Fatalf("CreateAuditEntry: %v", err)
		}
	}
	overrides := map[string]audit.OverrideKind{
		entries[1].ID: audit.OverrideMarkedIncorrect,
		entries[2].ID: audit.OverrideApproved,
	}
	for entryID, kind := range overrides {
		if err := s.CreateAuditOverride(ctx, entryID, audit.Override{Kind: kind, Actor: user, At: base}); err != nil {
			t.Fatalf("CreateAuditOverride: %v", err)
		}
	}

	st, err := s.AuditStats(ctx, user, base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("AuditStats: %v", err)
	}
	want := &audit.Stats{
		UserID: user,
		Since:  base.Add(-time.Hour),
		Total:  4,
		ByAction: map[decision.Outcome]int{
			decision.OutcomeAutoRespond:     2,
			decision.OutcomeRequestApproval: 1,
			decision.OutcomeDecline:         1,
		},
		Forced: 1,
		Overrides: map[audit.OverrideKind]int{
			audit.OverrideMarkedIncorrect: 1,
			audit.OverrideApproved:        1,
		},
	}
	if diff := cmp.Diff(want, st); diff != "" {
		t.Fatalf("stats (-want +got):\n%s", diff)
	}

	h, err := s.SenderHistory(ctx, user, "ann@example.com", base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("SenderHistory: %v", err)
	}
	wantH := &audit.SenderHistory{Sender: "ann@example.com", Decisions: 3, AutoResponded: 2, Approved: 1, MarkedIncorrect: 1}
	if diff := cmp.Diff(wantH, h); diff != "" {
		t.Fatalf("sender history (-want +got):\n%s", diff)
	}

	empty, err := s.SenderHistory(ctx, user, "nobody@example.com", base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("SenderHistory: %v", err)
	}
	if empty.Decisions != 0 {
		t.Fatalf("unknown sender history = %+v", empty)
	}
}

func testPreferences(t *testing.T, s database.Store) {
	ctx := context.Background()
	user := id("user")

	if _, err := s.GetPreferences(ctx, user); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown user: got %v, want ErrNotFound", err)
	}

	p := preferences.Defaults(user, 0.85, breaker.DefaultTuning())
	p.VIPs = []string{"boss@example.com"}
	p.Blacklist = []string{"@spam.test"}
	p.NotifyAddress = "me@example.com"
	p.UpdatedAt = base
	if err := s.SavePreferences(ctx, &p); err != nil {
		t.Fatalf("insert preferences: %v", err)
	}

	got, err := s.GetPreferences(ctx, user)
	if err != nil {
		t.Fatalf("GetPreferences: %v", err)
	}
	if diff := cmp.Diff(&p, got); diff != "" {
		t.Fatalf("round trip (-want +got):\n%s", diff)
	}

	stale := *got
	got.AutomationEnabled = false
	got.Breaker.Cooldown = 15 * time.Minute
	if err := s.SavePreferences(ctx, got); err != nil {
		t.Fatalf("update preferences: %v", err)
	}
	if err := s.SavePreferences(ctx, &stale); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("stale update: got %v, want ErrConflict", err)
	}

	again, err := s.GetPreferences(ctx, user)
	if err != nil {
		t.Fatalf("GetPreferences: %v", err)
	}
	if again.AutomationEnabled || again.Breaker.Cooldown != 15*time.Minute {
		t.Fatalf("update not persisted: %+v", again)
	}
}
