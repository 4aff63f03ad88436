package logger

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/manutej/calendar-availability-system-sub000/internal/config"
)

// lockedBuffer is an io.Writer safe for concurrent JSON handler output.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) records(t *testing.T) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(b.buf.Bytes()))
	for sc.Scan() {
		var rec map[string]any
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("decode %q: %v", sc.Text(), err)
		}
		out = append(out, rec)
	}
	return out
}

// gateSink blocks every write until release is closed.
type gateSink struct {
	release chan struct{}
	mu      sync.Mutex
	n       int
}

func (g *gateSink) Enabled(context.Context, slog.Level) bool { return true }

func (g *gateSink) Handle(context.Context, slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	<-g.release
	g.mu.Lock()
	g.n++
	g.mu.Unlock()
	return nil
}

func (g *gateSink) WithAttrs([]slog.Attr) slog.Handler { return g }
func (g *gateSink) WithGroup(string) slog.Handler      { return g }

func (g *gateSink) written() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}

func asyncLogger(w *lockedBuffer, buffer int) (*slog.Logger, Closer) {
	return newWithWriter(config.Logging{
		Level: "info", Service: "schedulerd", Async: true, AsyncBuffer: buffer, AsyncWorkers: 4,
	}, w)
}

func TestAsyncHandler_ConcurrentDecisionsKeepTheirOwnIDs(t *testing.T) {
	const users, perUser = 8, 25
	var out lockedBuffer
	l, closer := asyncLogger(&out, users*perUser)

	var wg sync.WaitGroup
	for u := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			user := fmt.Sprintf("user-%d", u)
			for i := range perUser {
				ctx := WithDecision(context.Background(), user, fmt.Sprintf("%s/thread-%d", user, i))
				l.InfoContext(ctx, "decision recorded", "outcome", "decline")
			}
		}()
	}
	wg.Wait()
	closer.Close()

	recs := out.records(t)
	if len(recs) != users*perUser {
		t.Fatalf("wrote %d records, want %d", len(recs), users*perUser)
	}
	perUserSeen := map[string]int{}
	for _, rec := range recs {
		user, _ := rec["user_id"].(string)
		thread, _ := rec["thread_id"].(string)
		if user == "" || len(thread) <= len(user) || thread[:len(user)] != user {
			t.Fatalf("record mixes context of another decision: user_id=%q thread_id=%q", user, thread)
		}
		perUserSeen[user]++
	}
	for user, n := range perUserSeen {
		if n != perUser {
			t.Errorf("%s: %d records, want %d", user, n, perUser)
		}
	}
}

func TestAsyncHandler_SlowSinkDropsInsteadOfBlocking(t *testing.T) {
	sink := &gateSink{release: make(chan struct{})}
	ah := NewAsyncHandler(sink, 1, 1)

	const sent = 10
	for range sent {
		_ = ah.Handle(context.Background(), slog.Record{Message: "decision recorded"})
	}
	// At most one record is in the worker and one in the buffer.
	if d := ah.DroppedCount(); d < sent-2 {
		t.Errorf("dropped %d of %d with a stalled sink, want at least %d", d, sent, sent-2)
	}

	close(sink.release)
	ah.Close()
	if got := int64(sink.written()) + ah.DroppedCount(); got != sent {
		t.Errorf("written+dropped = %d, want %d", got, sent)
	}
}

func TestAsyncHandler_LoggingAfterCloseIsDropped(t *testing.T) {
	var out lockedBuffer
	l, closer := asyncLogger(&out, 16)
	l.Info("breaker opened", "user_id", "alice")
	closer.Close()

	l.Info("late record during shutdown")
	closer.Close()

	recs := out.records(t)
	if len(recs) != 1 || recs[0]["msg"] != "breaker opened" {
		t.Fatalf("records = %v, want only the one logged before Close", recs)
	}
	if d := closer.(*AsyncHandler).DroppedCount(); d != 1 {
		t.Errorf("dropped = %d, want 1", d)
	}
}

func TestAsyncHandler_DerivedLoggersShareTheQueue(t *testing.T) {
	var out lockedBuffer
	l, closer := asyncLogger(&out, 16)

	l.With("component", "sweeper").WithGroup("sweep").Info("conversations expired", "count", 3)
	closer.Close()

	recs := out.records(t)
	if len(recs) != 1 {
		t.Fatalf("wrote %d records, want 1", len(recs))
	}
	sweep, _ := recs[0]["sweep"].(map[string]any)
	if recs[0]["component"] != "sweeper" || sweep["count"] != float64(3) {
		t.Errorf("record = %v", recs[0])
	}
}
