package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/manutej/calendar-availability-system-sub000/internal/adapter/ristretto"
	"github.com/manutej/calendar-availability-system-sub000/internal/adapter/sqlite"
	"github.com/manutej/calendar-availability-system-sub000/internal/config"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/audit"
	domaincal "github.com/manutej/calendar-availability-system-sub000/internal/domain/calendar"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/decision"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/message"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/preferences"
	"github.com/manutej/calendar-availability-system-sub000/internal/port/database"
	"github.com/manutej/calendar-availability-system-sub000/internal/port/mailer"
	"github.com/manutej/calendar-availability-system-sub000/internal/port/messagequeue"
)

// --- Fakes ---

type fakeTrust struct {
	mu    sync.Mutex
	score float64
	known bool
	err   error
	calls int
}

func (f *fakeTrust) SenderTrust(_ context.Context, _, _ string) (float64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.score, f.known, f.err
}

type fakeCalendar struct {
	mu        sync.Mutex
	conflicts []message.TimeRange
	err       error
	calls     int
}

// Availability reports every requested range free unless it is listed as
// a conflict.
func (f *fakeCalendar) Availability(_ context.Context, _ string, ranges []message.TimeRange) (*domaincal.Availability, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	a := &domaincal.Availability{
		Free:      []message.TimeRange{},
		Conflicts: []message.TimeRange{},
		CheckedAt: time.Now().UTC(),
	}
	for _, r := range ranges {
		busy := false
		for _, c := range f.conflicts {
			if r.Overlaps(c) {
				busy = true
				break
			}
		}
		if busy {
			a.Conflicts = append(a.Conflicts, r)
		} else {
			a.Free = append(a.Free, r)
		}
	}
	return a, nil
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []mailer.Reply
	err  error
}

func (f *fakeMailer) SendReply(_ context.Context, r mailer.Reply) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, r)
	return nil
}

func (f *fakeMailer) replies() []mailer.Reply {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mailer.Reply(nil), f.sent...)
}

type fakeQueue struct {
	mu        sync.Mutex
	published map[string][][]byte
	handlers  map[string]messagequeue.Handler
}

var _ messagequeue.Queue = (*fakeQueue)(nil)

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		published: make(map[string][][]byte),
		handlers:  make(map[string]messagequeue.Handler),
	}
}

func (q *fakeQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published[subject] = append(q.published[subject], data)
	return nil
}

func (q *fakeQueue) Subscribe(_ context.Context, subject string, h messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[subject] = h
	return func() {
		q.mu.Lock()
		delete(q.handlers, subject)
		q.mu.Unlock()
	}, nil
}

func (q *fakeQueue) deliver(ctx context.Context, subject string, data []byte) error {
	q.mu.Lock()
	h := q.handlers[subject]
	q.mu.Unlock()
	if h == nil {
		return errors.New("no subscriber for " + subject)
	}
	return h(ctx, subject, data)
}

func (q *fakeQueue) messages(subject string) [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([][]byte(nil), q.published[subject]...)
}

func (q *fakeQueue) Drain() error      { return nil }
func (q *fakeQueue) Close() error      { return nil }
func (q *fakeQueue) IsConnected() bool { return true }

// failingAuditStore rejects every audit write.
type failingAuditStore struct {
	database.Store
}

func (failingAuditStore) CreateAuditEntry(context.Context, *audit.Entry) error {
	return errors.New("disk full")
}

// failingPrefsStore cannot read preferences.
type failingPrefsStore struct {
	database.Store
}

func (failingPrefsStore) GetPreferences(context.Context, string) (*preferences.Preferences, error) {
	return nil, errors.New("connection reset")
}

// --- Environment ---

type testEnv struct {
	store     database.Store
	cfg       *config.Config
	queue     *fakeQueue
	trust     *fakeTrust
	calendar  *fakeCalendar
	convs     *ConversationService
	breakers  *BreakerService
	audit     *AuditService
	prefs     *PreferencesService
	decisions *DecisionService
}

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.OpenMemory(context.Background())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestCache(t *testing.T) *ristretto.Cache {
	t.Helper()
	c, err := ristretto.New(1 << 20)
	if err != nil {
		t.Fatalf("ristretto: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, newTestStore(t))
}

func newTestEnvWithStore(t *testing.T, store database.Store) *testEnv {
	t.Helper()
	cfg := config.Defaults()
	env := &testEnv{
		store:    store,
		cfg:      &cfg,
		queue:    newFakeQueue(),
		trust:    &fakeTrust{score: 0.9, known: true},
		calendar: &fakeCalendar{},
	}
	env.convs = NewConversationService(store, cfg.Conversation)
	env.breakers = NewBreakerService(store, env.queue, nil)
	env.audit = NewAuditService(store, cfg.Decision, cfg.Collaborators.AuditTimeout)
	env.prefs = NewPreferencesService(store, nil, &cfg)
	env.decisions = NewDecisionService(env.convs, env.breakers, env.audit, &cfg)
	env.decisions.SetTrust(env.trust)
	env.decisions.SetCalendar(env.calendar)
	return env
}

func (e *testEnv) defaultPrefs(t *testing.T, userID string) preferences.Preferences {
	t.Helper()
	p, err := e.prefs.Get(context.Background(), userID)
	if err != nil {
		t.Fatalf("get preferences: %v", err)
	}
	return *p
}

func (e *testEnv) decide(t *testing.T, msg message.Classified) *decision.Result {
	t.Helper()
	res, err := e.decisions.Decide(context.Background(), msg, e.defaultPrefs(t, msg.UserID))
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	return res
}

var slotStart = time.Date(2026, 11, 3, 15, 0, 0, 0, time.UTC)

func slot(hours int) message.TimeRange {
	start := slotStart.Add(time.Duration(hours) * time.Hour)
	return message.TimeRange{Start: start, End: start.Add(30 * time.Minute)}
}

// confidentMsg scores 0.91 on a fresh thread with sender trust 0.9.
func confidentMsg(thread, id string) message.Classified {
	return message.Classified{
		ThreadID:            thread,
		MessageID:           id,
		UserID:              "alice",
		Sender:              "Bob <bob@example.com>",
		Body:                "Can we meet Tuesday afternoon?",
		IsSchedulingRequest: true,
		IntentConfidence:    message.Float(0.95),
		TimeCandidates:      []message.TimeRange{slot(0), slot(2)},
		ExtractionQuality:   message.Float(0.9),
		RequestType:         message.RequestInitial,
		ReceivedAt:          time.Now().UTC(),
	}
}

// vagueMsg scores below the approval floor.
func vagueMsg(thread, id string) message.Classified {
	m := confidentMsg(thread, id)
	m.Body = "maybe sometime?"
	m.IntentConfidence = message.Float(0.3)
	m.ExtractionQuality = message.Float(0.3)
	return m
}
