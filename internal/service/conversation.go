package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/manutej/calendar-availability-system-sub000/internal/config"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/conversation"
	"github.com/manutej/calendar-availability-system-sub000/internal/port/database"
)

// ConversationService tracks the lifecycle of scheduling threads.
// Callers serialize access per thread; the store's version check catches
// anything that slips through.
type ConversationService struct {
	store      database.ConversationStore
	ttl        time.Duration
	maxHistory int
	now        func() time.Time
	newID      func() string
}

// NewConversationService creates a ConversationService.
func NewConversationService(store database.ConversationStore, cfg config.Conversation) *ConversationService {
	return &ConversationService{
		store:      store,
		ttl:        cfg.TTL,
		maxHistory: cfg.MaxHistory,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// Current returns the latest conversation of a thread, or nil for an unseen
// thread. A live conversation idle past its TTL is closed on the way out.
func (s *ConversationService) Current(ctx context.Context, threadID string) (*conversation.State, error) {
	st, err := s.store.GetLatestConversation(ctx, threadID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}

	if st.Expired(s.now(), s.ttl) {
		st.Close(conversation.ReasonExpired, s.now())
		if err := s.store.UpdateConversation(ctx, st); err != nil {
			return nil, fmt.Errorf("close expired conversation %s: %w", st.ID, err)
		}
		slog.InfoContext(ctx, "conversation expired", "conversation_id", st.ID)
	}
	return st, nil
}

// Get is Current for callers that need a record: unseen threads are
// domain.ErrNotFound.
func (s *ConversationService) Get(ctx context.Context, threadID string) (*conversation.State, error) {
	st, err := s.Current(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("thread %s: %w", threadID, domain.ErrNotFound)
	}
	return st, nil
}

// History returns every conversation a thread has had, newest first.
func (s *ConversationService) History(ctx context.Context, threadID string) ([]conversation.State, error) {
	return s.store.ListThreadConversations(ctx, threadID)
}

// ListActive returns the live conversations of a user.
func (s *ConversationService) ListActive(ctx context.Context, userID string) ([]conversation.State, error) {
	return s.store.ListActiveConversations(ctx, userID)
}

// Plan computes the effect of one inbound turn on prev without persisting
// anything.
func (s *ConversationService) Plan(prev *conversation.State, step conversation.Step) conversation.Advancement {
	if step.Now.IsZero() {
		step.Now = s.now()
	}
	if step.TTL == 0 {
		step.TTL = s.ttl
	}
	if step.MaxHistory == 0 {
		step.MaxHistory = s.maxHistory
	}
	if step.NewID == nil {
		step.NewID = s.newID
	}
	return conversation.Advance(prev, step)
}

// Commit persists a planned advancement. A superseded conversation is
// closed before its successor is created.
func (s *ConversationService) Commit(ctx context.Context, adv *conversation.Advancement) error {
	if adv.Warning != "" {
		slog.WarnContext(ctx, "conversation restarted", "reason", adv.Warning, "conversation_id", adv.State.ID)
	}

	switch {
	case adv.Duplicate:
		return nil

	case adv.StartedNew:
		if adv.Superseded != nil {
			if err := s.store.UpdateConversation(ctx, adv.Superseded); err != nil {
				return fmt.Errorf("close superseded conversation %s: %w", adv.Superseded.ID, err)
			}
		}
		if err := s.store.CreateConversation(ctx, &adv.State); err != nil {
			return fmt.Errorf("create conversation: %w", err)
		}

	default:
		if err := s.store.UpdateConversation(ctx, &adv.State); err != nil {
			return fmt.Errorf("update conversation %s: %w", adv.State.ID, err)
		}
	}
	return nil
}

// Advance plans and commits one inbound turn.
func (s *ConversationService) Advance(ctx context.Context, prev *conversation.State, step conversation.Step) (conversation.Advancement, error) {
	adv := s.Plan(prev, step)
	err := s.Commit(ctx, &adv)
	return adv, err
}

// Close ends the live conversation of a thread. Closing a thread whose
// latest conversation is already terminal returns it unchanged.
func (s *ConversationService) Close(ctx context.Context, threadID, reason string) (*conversation.State, error) {
	st, err := s.Get(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !st.Active() {
		return st, nil
	}
	if reason == "" {
		reason = conversation.ReasonManual
	}
	st.Close(reason, s.now())
	if err := s.store.UpdateConversation(ctx, st); err != nil {
		return nil, fmt.Errorf("close conversation %s: %w", st.ID, err)
	}
	return st, nil
}

// Sweep closes every live conversation idle past the TTL.
func (s *ConversationService) Sweep(ctx context.Context) (int64, error) {
	ttl := s.ttl
	if ttl <= 0 {
		ttl = conversation.DefaultTTL
	}
	now := s.now()
	n, err := s.store.CloseExpiredConversations(ctx, now.Add(-ttl), now)
	if err != nil {
		return 0, fmt.Errorf("sweep conversations: %w", err)
	}
	return n, nil
}
