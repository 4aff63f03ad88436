package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/manutej/calendar-availability-system-sub000/internal/config"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/audit"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/decision"
	"github.com/manutej/calendar-availability-system-sub000/internal/port/messagequeue"
	"github.com/manutej/calendar-availability-system-sub000/internal/worker"
)

func newIntake(t *testing.T, env *dispatchEnv) *IntakeService {
	t.Helper()
	w := worker.New(config.Worker{MaxConcurrent: 4, QueueSize: 16, IdleTimeout: time.Second})
	t.Cleanup(w.Close)
	return NewIntakeService(w, env.prefs, env.decisions, env.dispatcher, env.queue)
}

func TestIntake_Process(t *testing.T) {
	env := newDispatchEnv(t)
	intake := newIntake(t, env)

	out, err := intake.Process(context.Background(), confidentMsg("thread-1", "msg-1"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Decision.Outcome != decision.OutcomeAutoRespond || out.Delivery == nil || out.Delivery.Kind != DeliverySent {
		t.Fatalf("processed = %+v / %+v", out.Decision, out.Delivery)
	}

	published := env.queue.messages(messagequeue.SubjectDecided)
	if len(published) != 1 {
		t.Fatalf("published %d decided messages, want 1", len(published))
	}
	var p messagequeue.DecidedPayload
	if err := json.Unmarshal(published[0], &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.AuditEntryID != out.Decision.AuditEntryID || p.Outcome != "auto_respond" || p.Confidence == nil || *p.Confidence != 0.91 {
		t.Errorf("payload = %+v", p)
	}
	if err := messagequeue.Validate(messagequeue.SubjectDecided, published[0]); err != nil {
		t.Errorf("published payload fails its own schema: %v", err)
	}
}

func TestIntake_ProcessRejectsInvalid(t *testing.T) {
	env := newDispatchEnv(t)
	intake := newIntake(t, env)

	_, err := intake.Process(context.Background(), confidentMsg("", "msg-1"))
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("got %v, want ErrValidation", err)
	}
	if n := len(env.queue.messages(messagequeue.SubjectDecided)); n != 0 {
		t.Errorf("published %d decided messages for an invalid one", n)
	}
}

func TestIntake_QueueHandler(t *testing.T) {
	env := newDispatchEnv(t)
	intake := newIntake(t, env)
	ctx := context.Background()

	cancel, err := intake.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer cancel()

	data, _ := json.Marshal(confidentMsg("thread-1", "msg-1"))
	if err := env.queue.deliver(ctx, messagequeue.SubjectClassified, data); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if n := len(env.queue.messages(messagequeue.SubjectDecided)); n != 1 {
		t.Fatalf("published %d decided messages, want 1", n)
	}

	// Messages that can never succeed are acknowledged, not retried.
	if err := env.queue.deliver(ctx, messagequeue.SubjectClassified, []byte("{not json")); err != nil {
		t.Errorf("malformed message returned %v", err)
	}
	invalid, _ := json.Marshal(confidentMsg("thread-2", ""))
	if err := env.queue.deliver(ctx, messagequeue.SubjectClassified, invalid); err != nil {
		t.Errorf("invalid message returned %v", err)
	}
}

func TestIntake_AuditFailureIsRetried(t *testing.T) {
	store := newTestStore(t)
	env := &dispatchEnv{testEnv: newTestEnvWithStore(t, failingAuditStore{Store: store}), mailer: &fakeMailer{}}
	env.dispatcher = NewDispatcherService(env.prefs, env.audit, nil, env.mailer, time.Second, "")
	intake := newIntake(t, env)
	ctx := context.Background()

	if _, err := intake.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	data, _ := json.Marshal(confidentMsg("thread-1", "msg-1"))
	err := env.queue.deliver(ctx, messagequeue.SubjectClassified, data)
	if !errors.Is(err, audit.ErrUnavailable) {
		t.Fatalf("got %v, want audit.ErrUnavailable so the message is redelivered", err)
	}
	if len(env.mailer.replies()) != 0 {
		t.Error("reply sent for an unaudited decision")
	}
}

func TestIntake_RedeliveryIsNotDecidedTwice(t *testing.T) {
	env := newDispatchEnv(t)
	intake := newIntake(t, env)
	ctx := context.Background()

	if _, err := intake.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	data, _ := json.Marshal(confidentMsg("thread-1", "msg-1"))
	for i := range 2 {
		if err := env.queue.deliver(ctx, messagequeue.SubjectClassified, data); err != nil {
			t.Fatalf("delivery %d: %v", i+1, err)
		}
	}

	entries, err := env.audit.Query(ctx, audit.Filter{ThreadID: "thread-1"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("got %d audit entries, want 1", len(entries))
	}
	if n := len(env.mailer.replies()); n != 1 {
		t.Errorf("sent %d replies, want 1", n)
	}
	if n := len(env.queue.messages(messagequeue.SubjectDecided)); n != 1 {
		t.Errorf("published %d decided messages, want 1", n)
	}

	// A direct call is always decided and audited.
	if _, err := intake.Process(ctx, confidentMsg("thread-1", "msg-1")); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if entries, _ = env.audit.Query(ctx, audit.Filter{ThreadID: "thread-1"}); len(entries) != 2 {
		t.Errorf("got %d audit entries after Process, want 2", len(entries))
	}
}

func TestIntake_SerializesPerUser(t *testing.T) {
	env := newDispatchEnv(t)
	intake := newIntake(t, env)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := intake.Process(context.Background(), confidentMsg("thread-1", fmt.Sprintf("msg-%d", i))); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Process: %v", err)
	}

	conv, err := env.convs.Get(context.Background(), "thread-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if conv.TurnCount != n {
		t.Errorf("turn count = %d, want %d (lost updates)", conv.TurnCount, n)
	}
	entries, err := env.audit.Query(context.Background(), audit.Filter{ThreadID: "thread-1"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != n {
		t.Errorf("audited %d decisions, want %d", len(entries), n)
	}
}
