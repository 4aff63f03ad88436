package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/term"

	"github.com/manutej/calendar-availability-system-sub000/internal/adapter/postgres"
	"github.com/manutej/calendar-availability-system-sub000/internal/config"
	"github.com/manutej/calendar-availability-system-sub000/internal/middleware"
)

// runAdmin dispatches admin subcommands (hash-key, migrate).
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "hash-key":
		return runAdminHashKey(args[1:])
	case "migrate":
		return runAdminMigrate(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: schedulerd admin <command> [options]

Commands:
  hash-key         Print the bcrypt hash of an operator API key
  migrate          Apply, roll back or inspect PostgreSQL migrations
  help             Show this help message

Examples:
  schedulerd admin hash-key
  schedulerd admin migrate up
  schedulerd admin migrate down --steps 2
  schedulerd admin migrate version
`)
}

func runAdminHashKey(args []string) error {
	fs := flag.NewFlagSet("hash-key", flag.ContinueOnError)
	key := fs.String("key", "", "API key (prompted if not provided)") //nolint:gosec // CLI flag
	if err := fs.Parse(args); err != nil {
		return err
	}

	k := *key
	if k == "" {
		var err error
		k, err = promptSecret("API key: ")
		if err != nil {
			return fmt.Errorf("read key: %w", err)
		}
		confirm, err := promptSecret("Confirm API key: ")
		if err != nil {
			return fmt.Errorf("read key: %w", err)
		}
		if k != confirm {
			return fmt.Errorf("keys do not match")
		}
	}
	if len(k) < 16 {
		return fmt.Errorf("API key must be at least 16 characters")
	}

	hash, err := middleware.HashAPIKey(k)
	if err != nil {
		return fmt.Errorf("hash key: %w", err)
	}
	fmt.Println(hash)
	fmt.Fprintln(os.Stderr, "Set SCHEDULERD_API_KEY_HASH to the value above.")
	return nil
}

func runAdminMigrate(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("migrate requires one of: up, down, version")
	}
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	steps := fs.Int("steps", 1, "migrations to roll back (down only)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Store.Driver != "postgres" {
		return fmt.Errorf("migrate manages postgres only; sqlite migrates on open")
	}
	dsn := cfg.Postgres.DSN
	ctx := context.Background()

	switch args[0] {
	case "up":
		applied, err := postgres.Migrate(ctx, dsn)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Applied %d migration(s) %v.\n", len(applied), applied)
	case "down":
		if *steps < 1 {
			return fmt.Errorf("--steps must be >= 1")
		}
		reverted, err := postgres.Rollback(ctx, dsn, *steps)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Rolled back %d migration(s) %v.\n", len(reverted), reverted)
	case "version":
		v, err := postgres.SchemaVersion(ctx, dsn)
		if err != nil {
			return err
		}
		fmt.Println(v)
	default:
		return fmt.Errorf("unknown migrate action: %s", args[0])
	}
	return nil
}

// promptSecret reads a secret from the terminal without echoing.
func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
