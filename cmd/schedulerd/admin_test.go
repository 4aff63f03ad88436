package main

import (
	"strings"
	"testing"
)

func TestRunAdmin_Unknown(t *testing.T) {
	err := runAdmin([]string{"frobnicate"})
	if err == nil || !strings.Contains(err.Error(), "unknown admin command") {
		t.Fatalf("got %v, want unknown command error", err)
	}
}

func TestRunAdmin_Help(t *testing.T) {
	if err := runAdmin(nil); err != nil {
		t.Fatalf("help: %v", err)
	}
}

func TestRunAdminHashKey(t *testing.T) {
	if err := runAdminHashKey([]string{"--key", "short"}); err == nil {
		t.Error("expected short key to be rejected")
	}
	if err := runAdminHashKey([]string{"--key", "sk-operator-0123456789"}); err != nil {
		t.Errorf("hash-key: %v", err)
	}
}

func TestRunAdminMigrate_RequiresAction(t *testing.T) {
	if err := runAdminMigrate(nil); err == nil {
		t.Error("expected error without an action")
	}
}
