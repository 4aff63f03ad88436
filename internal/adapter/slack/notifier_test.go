package slack

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/manutej/calendar-availability-system-sub000/internal/port/notifier"
)

var _ notifier.Notifier = (*Notifier)(nil)

// payload is the subset of the webhook body the tests inspect.
type payload struct {
	Text   string `json:"text"`
	Blocks []struct {
		Type string `json:"type"`
		Text *struct {
			Text string `json:"text"`
		} `json:"text"`
		Elements []struct {
			Text string `json:"text"`
		} `json:"elements"`
	} `json:"blocks"`
}

func TestNotifierName(t *testing.T) {
	if n := NewNotifier(""); n.Name() != "slack" {
		t.Fatalf("expected 'slack', got %q", n.Name())
	}
}

func TestSendNotConfigured(t *testing.T) {
	err := NewNotifier("").Send(context.Background(), notifier.Notification{Title: "test"})
	if !errors.Is(err, notifier.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSendPayload(t *testing.T) {
	var got payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := NewNotifier(srv.URL).Send(context.Background(), notifier.Notification{
		To:      "alice@example.com",
		Title:   "Approval needed",
		Message: "Reply to <bob@example.com> & confirm",
		Level:   "warning",
		Source:  "decision.request_approval",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.Text != "[WARN] Approval needed" {
		t.Errorf("fallback text = %q", got.Text)
	}
	if len(got.Blocks) != 3 {
		t.Fatalf("got %d blocks, want 3", len(got.Blocks))
	}
	if body := got.Blocks[1].Text.Text; body != "Reply to &lt;bob@example.com&gt; &amp; confirm" {
		t.Errorf("section not escaped: %q", body)
	}
	ctxBlock := got.Blocks[2]
	if ctxBlock.Type != "context" || len(ctxBlock.Elements) != 2 || !strings.Contains(ctxBlock.Elements[0].Text, "alice@example.com") {
		t.Errorf("context block = %+v", ctxBlock)
	}
}

func TestSendWebhookError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("invalid_token"))
	}))
	defer srv.Close()

	err := NewNotifier(srv.URL).Send(context.Background(), notifier.Notification{Title: "Test"})
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected webhook error, got %v", err)
	}
}

func TestRegistered(t *testing.T) {
	n, err := notifier.New("slack", map[string]string{"webhook_url": "https://hooks.example.com/x"})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	if n.Name() != "slack" {
		t.Errorf("name = %q", n.Name())
	}
}
