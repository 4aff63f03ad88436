package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/manutej/calendar-availability-system-sub000/internal/domain"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/decision"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/message"
	"github.com/manutej/calendar-availability-system-sub000/internal/port/messagequeue"
	"github.com/manutej/calendar-availability-system-sub000/internal/worker"
)

// Processed is the result of taking one classified message through the core.
type Processed struct {
	Decision *decision.Result `json:"decision"`
	Delivery *DeliveryResult  `json:"delivery,omitempty"`
}

// IntakeService is the entry point for classified messages from the queue
// and from the REST API. All work for a user runs on that user's worker lane.
type IntakeService struct {
	workers    *worker.Keyed
	prefs      *PreferencesService
	decisions  *DecisionService
	dispatcher *DispatcherService
	queue      messagequeue.Queue
}

// NewIntakeService creates an IntakeService. dispatcher and queue may be nil.
func NewIntakeService(workers *worker.Keyed, prefs *PreferencesService, decisions *DecisionService, dispatcher *DispatcherService, queue messagequeue.Queue) *IntakeService {
	return &IntakeService{
		workers:    workers,
		prefs:      prefs,
		decisions:  decisions,
		dispatcher: dispatcher,
		queue:      queue,
	}
}

// Start subscribes to classified messages. The returned function cancels
// the subscription.
func (s *IntakeService) Start(ctx context.Context) (func(), error) {
	if s.queue == nil {
		return func() {}, nil
	}
	cancel, err := s.queue.Subscribe(ctx, messagequeue.SubjectClassified, s.handleClassified)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", messagequeue.SubjectClassified, err)
	}
	slog.Info("intake subscribed", "subject", messagequeue.SubjectClassified)
	return cancel, nil
}

func (s *IntakeService) handleClassified(ctx context.Context, _ string, data []byte) error {
	var msg message.Classified
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.ErrorContext(ctx, "discarding malformed classified message", "error", err)
		return nil
	}
	_, err := s.run(ctx, msg, true)
	if errors.Is(err, domain.ErrValidation) {
		// Redelivery cannot fix a rejected message.
		slog.ErrorContext(ctx, "discarding invalid classified message",
			"message_id", msg.MessageID, "error", err)
		return nil
	}
	return err
}

// Process decides msg against the user's current preferences, dispatches
// the result and publishes a summary on scheduling.decided.
func (s *IntakeService) Process(ctx context.Context, msg message.Classified) (*Processed, error) {
	return s.run(ctx, msg, false)
}

// run processes msg on its user's lane. Queue deliveries are at least once,
// so a queued message that already has an audit entry is not decided again;
// it returns a nil Processed.
func (s *IntakeService) run(ctx context.Context, msg message.Classified, queued bool) (*Processed, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	var out *Processed
	err := s.workers.Submit(ctx, msg.UserID, func(ctx context.Context) error {
		if queued {
			prior, err := s.decisions.Recorded(ctx, msg)
			if err != nil {
				return err
			}
			if prior != nil {
				slog.InfoContext(ctx, "classified message already decided",
					"message_id", msg.MessageID, "audit_entry_id", prior.ID)
				return nil
			}
		}
		p, err := s.process(ctx, msg)
		out = p
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *IntakeService) process(ctx context.Context, msg message.Classified) (*Processed, error) {
	prefs, err := s.prefs.Get(ctx, msg.UserID)
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}
	res, err := s.decisions.Decide(ctx, msg, *prefs)
	if err != nil {
		return nil, err
	}
	out := &Processed{Decision: res}

	// The decision is audited and applied; delivery problems are reported
	// on the result and never cause a redelivery.
	if s.dispatcher != nil {
		d, err := s.dispatcher.Dispatch(ctx, res)
		if err != nil {
			slog.ErrorContext(ctx, "dispatch failed", "audit_entry_id", res.AuditEntryID, "error", err)
		}
		out.Delivery = d
	}
	s.publishDecided(ctx, res)
	return out, nil
}

func (s *IntakeService) publishDecided(ctx context.Context, res *decision.Result) {
	if s.queue == nil {
		return
	}
	data, err := json.Marshal(DecidedPayload(res))
	if err != nil {
		slog.ErrorContext(ctx, "marshal decided payload", "error", err)
		return
	}
	if err := s.queue.Publish(ctx, messagequeue.SubjectDecided, data); err != nil {
		slog.WarnContext(ctx, "publish decided", "audit_entry_id", res.AuditEntryID, "error", err)
	}
}

// DecidedPayload summarizes res for downstream consumers.
func DecidedPayload(res *decision.Result) messagequeue.DecidedPayload {
	p := messagequeue.DecidedPayload{
		AuditEntryID:       res.AuditEntryID,
		UserID:             res.Message.UserID,
		ThreadID:           res.Message.ThreadID,
		MessageID:          res.Message.MessageID,
		ConversationID:     res.Conversation.ID,
		ConversationStatus: string(res.Conversation.Status),
		Outcome:            string(res.Outcome),
		ForcedBy:           string(res.ForcedBy),
		BreakerStatus:      string(res.Breaker.Status),
		Warning:            res.Warning,
	}
	if res.Assessment != nil {
		v := res.Assessment.Overall
		p.Confidence = &v
	}
	return p
}
