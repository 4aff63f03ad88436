package notifier

import (
	"context"
	"slices"
	"testing"
)

type stubNotifier struct{ name string }

func (s stubNotifier) Name() string                            { return s.name }
func (s stubNotifier) Capabilities() Capabilities              { return Capabilities{} }
func (s stubNotifier) Send(context.Context, Notification) error { return nil }

func TestRegistry(t *testing.T) {
	Register("stub-registry-test", func(cfg map[string]string) (Notifier, error) {
		return stubNotifier{name: cfg["name"]}, nil
	})

	n, err := New("stub-registry-test", map[string]string{"name": "configured"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if n.Name() != "configured" {
		t.Fatalf("factory did not receive config, got %q", n.Name())
	}
	if !slices.Contains(Available(), "stub-registry-test") {
		t.Fatalf("Available() = %v", Available())
	}
	if _, err := New("missing", nil); err == nil {
		t.Fatal("expected error for unknown notifier")
	}
}

func TestRegister_DuplicatePanics(t *testing.T) {
	Register("stub-dup", func(map[string]string) (Notifier, error) { return stubNotifier{}, nil })
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	Register("stub-dup", func(map[string]string) (Notifier, error) { return stubNotifier{}, nil })
}
