package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/manutej/calendar-availability-system-sub000/internal/adapter/otel"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/breaker"
	"github.com/manutej/calendar-availability-system-sub000/internal/port/database"
	"github.com/manutej/calendar-availability-system-sub000/internal/port/messagequeue"
)

// saveAttempts bounds optimistic-lock retries on a breaker record.
const saveAttempts = 3

// DefaultEventLimit is the page size for breaker event history.
const DefaultEventLimit = 50

// BreakerService owns the per-user automation breakers. Every status change
// is stored as an event and published on scheduling.breaker.changed.
type BreakerService struct {
	store   database.BreakerStore
	queue   messagequeue.Queue
	metrics *otel.Metrics
	now     func() time.Time
}

// NewBreakerService creates a BreakerService. queue and metrics may be nil.
func NewBreakerService(store database.BreakerStore, queue messagequeue.Queue, metrics *otel.Metrics) *BreakerService {
	return &BreakerService{store: store, queue: queue, metrics: metrics, now: time.Now}
}

func (s *BreakerService) load(ctx context.Context, userID string) (*breaker.State, error) {
	st, err := s.store.GetBreaker(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		fresh := breaker.New(userID)
		return &fresh, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get breaker %s: %w", userID, err)
	}
	return st, nil
}

// Status returns the breaker of userID as of now. An elapsed cooldown moves
// it to half-open, and that change is persisted.
func (s *BreakerService) Status(ctx context.Context, userID string) (*breaker.State, error) {
	for attempt := 1; ; attempt++ {
		st, err := s.load(ctx, userID)
		if err != nil {
			return nil, err
		}
		events := st.Observe(s.now())
		if len(events) == 0 {
			return st, nil
		}
		err = s.persist(ctx, st, events)
		if err == nil {
			return st, nil
		}
		if !errors.Is(err, domain.ErrConflict) || attempt >= saveAttempts {
			return nil, err
		}
	}
}

// Evaluate feeds one audited outcome into the breaker of userID.
func (s *BreakerService) Evaluate(ctx context.Context, userID string, low bool, tuning breaker.Tuning) (*breaker.State, error) {
	return s.update(ctx, userID, func(st *breaker.State) []breaker.Event {
		return st.Evaluate(low, tuning, s.now())
	})
}

// Reset forces the breaker of userID closed on behalf of actor.
func (s *BreakerService) Reset(ctx context.Context, userID, actor string) (*breaker.State, error) {
	if actor == "" {
		return nil, fmt.Errorf("%w: actor is required", domain.ErrValidation)
	}
	return s.update(ctx, userID, func(st *breaker.State) []breaker.Event {
		return []breaker.Event{st.Reset(actor, s.now())}
	})
}

// Events returns the newest status changes of userID.
func (s *BreakerService) Events(ctx context.Context, userID string, limit int) ([]breaker.Event, error) {
	if limit <= 0 || limit > 500 {
		limit = DefaultEventLimit
	}
	return s.store.ListBreakerEvents(ctx, userID, limit)
}

func (s *BreakerService) update(ctx context.Context, userID string, fn func(*breaker.State) []breaker.Event) (*breaker.State, error) {
	for attempt := 1; ; attempt++ {
		st, err := s.load(ctx, userID)
		if err != nil {
			return nil, err
		}
		events := fn(st)
		err = s.persist(ctx, st, events)
		if err == nil {
			return st, nil
		}
		if !errors.Is(err, domain.ErrConflict) || attempt >= saveAttempts {
			return nil, err
		}
		slog.WarnContext(ctx, "breaker update conflict, retrying", "user_id", userID, "attempt", attempt)
	}
}

func (s *BreakerService) persist(ctx context.Context, st *breaker.State, events []breaker.Event) error {
	if err := s.store.SaveBreaker(ctx, st); err != nil {
		return fmt.Errorf("save breaker %s: %w", st.UserID, err)
	}
	if len(events) == 0 {
		return nil
	}
	if err := s.store.AppendBreakerEvents(ctx, events); err != nil {
		return fmt.Errorf("append breaker events %s: %w", st.UserID, err)
	}
	for _, ev := range events {
		slog.InfoContext(ctx, "automation breaker changed",
			"user_id", ev.UserID, "from", ev.From, "to", ev.To, "reason", ev.Reason, "actor", ev.Actor)
		s.metrics.RecordBreakerChange(ctx, string(ev.From), string(ev.To))
		s.publish(ctx, ev)
	}
	return nil
}

func (s *BreakerService) publish(ctx context.Context, ev breaker.Event) {
	if s.queue == nil {
		return
	}
	data, err := json.Marshal(messagequeue.BreakerChangedPayload{
		UserID: ev.UserID,
		From:   string(ev.From),
		To:     string(ev.To),
		Reason: ev.Reason,
		Actor:  ev.Actor,
		At:     ev.At,
	})
	if err != nil {
		slog.ErrorContext(ctx, "marshal breaker event", "error", err)
		return
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectBreakerChanged, data); err != nil {
		slog.WarnContext(ctx, "publish breaker event failed", "error", err)
	}
}
