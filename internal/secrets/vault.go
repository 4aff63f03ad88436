// Package secrets holds delivery credentials in memory and swaps them on
// reload, so keys can be rotated without restarting schedulerd.
package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// Loader retrieves secrets from a source.
type Loader func() (map[string]string, error)

// Vault holds secret values and supports atomic reloading.
type Vault struct {
	mu     sync.RWMutex
	values map[string]string
	loader Loader
}

// NewVault creates a Vault, calling the loader once to populate initial values.
func NewVault(loader Loader) (*Vault, error) {
	vals, err := loader()
	if err != nil {
		return nil, fmt.Errorf("initial secret load: %w", err)
	}
	return &Vault{values: vals, loader: loader}, nil
}

// Get returns the secret for key, or an empty string if not found.
func (v *Vault) Get(key string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.values[key]
}

// Source returns a function reading key, falling back to def when the
// vault has no value for it.
func (v *Vault) Source(key, def string) func() string {
	return func() string {
		if s := v.Get(key); s != "" {
			return s
		}
		return def
	}
}

// Reload calls the loader and swaps in the new values atomically.
// If the loader returns an error, existing values are preserved.
func (v *Vault) Reload() error {
	newVals, err := v.loader()
	if err != nil {
		return fmt.Errorf("reload secrets: %w", err)
	}
	v.mu.Lock()
	v.values = newVals
	v.mu.Unlock()
	return nil
}

// ReloadOn reloads the vault every time trigger fires, until ctx is done.
// The returned channel is closed when the loop exits.
func (v *Vault) ReloadOn(ctx context.Context, trigger <-chan os.Signal) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-trigger:
				if err := v.Reload(); err != nil {
					slog.Error("secret reload failed, keeping previous values", "error", err)
					continue
				}
				slog.Info("secrets reloaded")
			}
		}
	}()
	return done
}
