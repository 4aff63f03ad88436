package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/manutej/calendar-availability-system-sub000/internal/adapter/otel"
	"github.com/manutej/calendar-availability-system-sub000/internal/config"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/audit"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/breaker"
	domaincal "github.com/manutej/calendar-availability-system-sub000/internal/domain/calendar"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/confidence"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/conversation"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/decision"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/message"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/preferences"
	"github.com/manutej/calendar-availability-system-sub000/internal/logger"
	"github.com/manutej/calendar-availability-system-sub000/internal/port/calendar"
	"github.com/manutej/calendar-availability-system-sub000/internal/port/trust"
	"github.com/manutej/calendar-availability-system-sub000/internal/resilience"
)

// DecisionService routes one classified message to auto_respond,
// request_approval or decline, and records why.
//
// Callers must serialize Decide per user (see worker.Keyed). The order of
// side effects is fixed: the audit entry is written before the conversation
// and breaker move, so a failed audit write leaves both untouched. Once the
// entry exists the decision is applied in full, even if ctx is cancelled.
type DecisionService struct {
	convs    *ConversationService
	breakers *BreakerService
	audit    *AuditService

	trust        trust.Lookup
	calendar     calendar.Provider
	trustBreaker *resilience.Breaker
	calBreaker   *resilience.Breaker

	weights  confidence.Weights
	floor    float64
	timeouts config.Collaborators
	// applyTimeout bounds the conversation and breaker writes that follow
	// a recorded decision.
	applyTimeout time.Duration
	metrics      *otel.Metrics
	now          func() time.Time
}

const defaultApplyTimeout = 10 * time.Second

// NewDecisionService creates a DecisionService. Trust and calendar lookups
// are optional; set them with SetTrust and SetCalendar.
func NewDecisionService(convs *ConversationService, breakers *BreakerService, audit *AuditService, cfg *config.Config) *DecisionService {
	col := cfg.Collaborators
	w := cfg.Decision.Weights
	return &DecisionService{
		convs:        convs,
		breakers:     breakers,
		audit:        audit,
		trustBreaker: resilience.NewBreaker("trust", col.MaxFailures, col.OpenTimeout),
		calBreaker:   resilience.NewBreaker("calendar", col.MaxFailures, col.OpenTimeout),
		weights: confidence.Weights{
			Intent:              w.Intent,
			TimeParsing:         w.TimeParsing,
			SenderTrust:         w.SenderTrust,
			ConversationClarity: w.ConversationClarity,
		},
		floor:        cfg.Decision.ApprovalFloor,
		timeouts:     col,
		applyTimeout: defaultApplyTimeout,
		now:          time.Now,
	}
}

// SetTrust attaches the sender trust lookup.
func (s *DecisionService) SetTrust(l trust.Lookup) { s.trust = l }

// SetCalendar attaches the calendar availability provider.
func (s *DecisionService) SetCalendar(p calendar.Provider) { s.calendar = p }

// SetMetrics attaches metric instruments.
func (s *DecisionService) SetMetrics(m *otel.Metrics) { s.metrics = m }

// draft accumulates a decision before it is audited.
type draft struct {
	outcome    decision.Outcome
	forcedBy   decision.ForcedBy
	assessment *confidence.Assessment
	calendar   *domaincal.Availability
	slots      []message.TimeRange
	rationale  []string
}

func (d *draft) note(format string, args ...any) {
	d.rationale = append(d.rationale, fmt.Sprintf(format, args...))
}

func (d *draft) force(outcome decision.Outcome, by decision.ForcedBy) {
	d.outcome = outcome
	d.forcedBy = by
}

// Decide makes, audits and applies one decision. prefs is the snapshot the
// decision is made against.
func (s *DecisionService) Decide(ctx context.Context, msg message.Classified, prefs preferences.Preferences) (*decision.Result, error) {
	start := s.now()
	ctx = logger.WithDecision(ctx, msg.UserID, msg.ThreadID)
	ctx, span := otel.StartDecisionSpan(ctx, msg.UserID, msg.ThreadID, msg.MessageID)
	defer span.End()

	res, stage, err := s.decide(ctx, msg, prefs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, stage)
		s.metrics.RecordDecisionError(ctx, stage)
		slog.ErrorContext(ctx, "decision failed", "stage", stage, "message_id", msg.MessageID, "error", err)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("decision.outcome", string(res.Outcome)),
		attribute.String("decision.forced_by", string(res.ForcedBy)),
		attribute.String("audit.entry_id", res.AuditEntryID),
	)
	s.metrics.RecordDecision(ctx, string(res.Outcome), string(res.ForcedBy), s.now().Sub(start).Seconds())
	slog.InfoContext(ctx, "decision made",
		"message_id", msg.MessageID,
		"outcome", res.Outcome,
		"forced_by", res.ForcedBy,
		"audit_entry_id", res.AuditEntryID,
		"conversation_id", res.Conversation.ID,
		"conversation_status", res.Conversation.Status,
		"breaker_status", res.Breaker.Status,
	)
	return res, nil
}

func (s *DecisionService) decide(ctx context.Context, msg message.Classified, prefs preferences.Preferences) (*decision.Result, string, error) {
	if err := msg.Validate(); err != nil {
		return nil, "validate", err
	}
	if prefs.UserID != msg.UserID {
		return nil, "validate", fmt.Errorf("%w: preferences are for %q, message is for %q",
			domain.ErrValidation, prefs.UserID, msg.UserID)
	}
	if err := prefs.Validate(); err != nil {
		return nil, "validate", err
	}

	// 1. Conversation for the thread.
	prev, err := s.convs.Current(ctx, msg.ThreadID)
	if err != nil {
		return nil, "conversation", err
	}

	d := &draft{rationale: []string{}}
	if prev != nil && prev.Active() && slices.Contains(prev.History, msg.MessageID) {
		d.note("message %s was already applied to conversation %s", msg.MessageID, prev.ID)
	}

	// 2-6. Outcome.
	var brk *breaker.State
	switch {
	case prefs.IsBlacklisted(msg.Sender):
		d.force(decision.OutcomeDecline, decision.ForcedBlacklist)
		d.note("sender %s is blacklisted; scoring skipped", preferences.Address(msg.Sender))

	case prefs.IsVIP(msg.Sender):
		d.force(decision.OutcomeRequestApproval, decision.ForcedVIP)
		d.note("sender %s is a VIP; VIP senders are always escalated", preferences.Address(msg.Sender))

	default:
		trustFailed := s.score(ctx, d, msg, prev, prefs)

		if brk, err = s.breakers.Status(ctx, msg.UserID); err != nil {
			return nil, "breaker", err
		}
		switch {
		case brk.ForcesApproval():
			d.force(decision.OutcomeRequestApproval, decision.ForcedBreaker)
			d.note("automation breaker is open (%s); escalating", brk.Reason)
		case d.outcome == decision.OutcomeAutoRespond && !prefs.AutomationEnabled:
			d.force(decision.OutcomeRequestApproval, decision.ForcedDisabled)
			d.note("automation is disabled; escalating")
		case d.outcome == decision.OutcomeAutoRespond && trustFailed:
			d.force(decision.OutcomeRequestApproval, decision.ForcedCollaborator)
			d.note("sender trust lookup failed; escalating")
		case d.outcome == decision.OutcomeAutoRespond && d.assessment.Degraded:
			d.force(decision.OutcomeRequestApproval, decision.ForcedDegraded)
			d.note("assessment rests on defaults for %v; escalating", d.assessment.DegradedInputs())
		}
	}

	if brk == nil {
		if brk, err = s.breakers.Status(ctx, msg.UserID); err != nil {
			return nil, "breaker", err
		}
	}

	if d.forcedBy != decision.ForcedBlacklist && len(msg.TimeCandidates) > 0 {
		s.checkCalendar(ctx, d, msg)
	}

	// Plan the conversation move so the audit entry names the conversation
	// the decision lands in.
	adv := s.convs.Plan(prev, conversation.Step{
		ThreadID:      msg.ThreadID,
		UserID:        msg.UserID,
		RequestType:   msg.RequestType,
		RequestID:     msg.MessageID,
		Hold:          d.outcome == decision.OutcomeDecline,
		ProposedSlots: d.slots,
	})
	if adv.Warning != "" {
		d.note("%s", adv.Warning)
	}

	// 7. Audit.
	entry := &audit.Entry{
		UserID:         msg.UserID,
		ThreadID:       msg.ThreadID,
		ConversationID: adv.State.ID,
		MessageID:      msg.MessageID,
		Sender:         msg.Sender,
		RequestType:    msg.RequestType,
		Action:         d.outcome,
		ForcedBy:       d.forcedBy,
		Assessment:     d.assessment,
		Conversation:   audit.ConversationSnapshot{Observed: prev, Applied: adv.State},
		Breaker:        *brk,
		Calendar:       d.calendar,
		Rationale:      d.rationale,
	}
	entryID, err := s.audit.Record(ctx, entry)
	if err != nil {
		return nil, "audit", err
	}

	// The decision is on record from here on. Steps 8 and 9 run detached
	// from the caller and their failures are reported on the result.
	applyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.applyTimeout)
	defer cancel()
	warning := adv.Warning

	// 8. Conversation.
	err = s.convs.Commit(applyCtx, &adv)
	conv := adv.State
	if err != nil {
		s.metrics.RecordDecisionError(ctx, "conversation")
		slog.ErrorContext(ctx, "conversation not advanced", "audit_entry_id", entryID, "error", err)
		warning = appendWarning(warning, "conversation not advanced: "+err.Error())
		if prev != nil {
			conv = *prev
		}
	}

	// 9. Breaker.
	after := *brk
	if updated, err := s.breakers.Evaluate(applyCtx, msg.UserID, d.outcome.Low(), prefs.Breaker); err != nil {
		s.metrics.RecordDecisionError(ctx, "breaker")
		slog.ErrorContext(ctx, "breaker not evaluated", "audit_entry_id", entryID, "error", err)
		warning = appendWarning(warning, "breaker not evaluated: "+err.Error())
	} else {
		after = *updated
	}

	// 10. Result.
	return &decision.Result{
		Outcome:       d.outcome,
		ForcedBy:      d.forcedBy,
		AuditEntryID:  entryID,
		Assessment:    d.assessment,
		Conversation:  conv,
		Breaker:       after,
		Calendar:      d.calendar,
		Rationale:     d.rationale,
		Message:       msg,
		ProposedSlots: d.slots,
		Warning:       warning,
	}, "", nil
}

func appendWarning(w, more string) string {
	if w == "" {
		return more
	}
	return w + "; " + more
}

// Recorded returns the audit entry already written for msg, or nil when
// msg was never decided.
func (s *DecisionService) Recorded(ctx context.Context, msg message.Classified) (*audit.Entry, error) {
	e, err := s.audit.FindDecision(ctx, msg.UserID, msg.ThreadID, msg.MessageID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return e, err
}

// score fills the assessment and the recommended outcome. It reports
// whether the trust lookup failed, as opposed to returning no signal.
func (s *DecisionService) score(ctx context.Context, d *draft, msg message.Classified, prev *conversation.State, prefs preferences.Preferences) (trustFailed bool) {
	in := ScoringInputs(msg, prev)

	trustScore, known, err := s.senderTrust(ctx, msg.UserID, msg.Sender)
	switch {
	case err != nil:
		trustFailed = true
		d.note("sender trust unavailable: %v", err)
	case !known:
		d.note("sender trust unknown")
	default:
		in.SenderTrust = &trustScore
	}

	if !msg.IsSchedulingRequest {
		d.note("classifier did not mark the message as a scheduling request")
	}
	if msg.RequestType.NeedsTimes() && len(msg.TimeCandidates) == 0 && msg.ExtractionQuality != nil {
		d.note("no time candidates extracted for a %s request", msg.RequestType)
	}

	a := confidence.Score(in, confidence.Policy{
		Weights:       s.weights,
		Threshold:     prefs.ConfidenceThreshold,
		ApprovalFloor: s.floor,
	})
	d.assessment = &a
	d.outcome = decision.FromRecommendation(a.Recommendation)
	d.note("overall confidence %.4f (threshold %.2f): %s", a.Overall, prefs.ConfidenceThreshold, a.Recommendation)
	if a.Degraded {
		d.note("degraded inputs: %v", a.DegradedInputs())
	}
	s.metrics.RecordScore(ctx, a.Overall, a.Degraded)
	return trustFailed
}

// ScoringInputs derives the classifier and conversation sub-scores of msg.
// Sender trust is left nil for the caller to fill.
func ScoringInputs(msg message.Classified, prev *conversation.State) confidence.Input {
	var in confidence.Input

	if c := msg.IntentConfidence; c != nil {
		v := *c
		if !msg.IsSchedulingRequest {
			v = 1 - v
		}
		in.Intent = &v
	}

	if q := msg.ExtractionQuality; q != nil {
		v := *q
		if msg.RequestType.NeedsTimes() && len(msg.TimeCandidates) == 0 {
			v = 0
		}
		in.TimeParsing = &v
	}

	// An unseen thread is scored as the conversation it is about to start.
	cur := prev
	if cur == nil {
		cur = &conversation.State{Status: conversation.StatusInitial}
	}
	v := cur.Clarity(msg.RequestType)
	in.ConversationClarity = &v
	return in
}

func (s *DecisionService) senderTrust(ctx context.Context, userID, sender string) (score float64, known bool, err error) {
	if s.trust == nil {
		return 0, false, nil
	}
	ctx, span := otel.StartCollaboratorSpan(ctx, "trust")
	defer span.End()

	err = s.trustBreaker.Call(ctx, s.timeouts.TrustTimeout, func(ctx context.Context) error {
		var lookupErr error
		score, known, lookupErr = s.trust.SenderTrust(ctx, userID, sender)
		return lookupErr
	})
	if err != nil {
		span.RecordError(err)
		s.metrics.RecordCollaboratorError(ctx, "trust")
		slog.WarnContext(ctx, "sender trust lookup failed", "error", err)
		return 0, false, err
	}
	return score, known, nil
}

// checkCalendar snapshots availability for the proposed times. An
// auto_respond that cannot be confirmed against the calendar is escalated.
func (s *DecisionService) checkCalendar(ctx context.Context, d *draft, msg message.Classified) {
	if s.calendar == nil {
		return
	}
	ctx, span := otel.StartCollaboratorSpan(ctx, "calendar")
	defer span.End()

	var avail *domaincal.Availability
	err := s.calBreaker.Call(ctx, s.timeouts.CalendarTimeout, func(ctx context.Context) error {
		var callErr error
		avail, callErr = s.calendar.Availability(ctx, msg.UserID, msg.TimeCandidates)
		return callErr
	})
	if err == nil && avail == nil {
		err = errors.New("empty availability response")
	}
	if err != nil {
		span.RecordError(err)
		s.metrics.RecordCollaboratorError(ctx, "calendar")
		slog.WarnContext(ctx, "calendar lookup failed", "error", err)
		d.calendar = &domaincal.Availability{
			Free:      []message.TimeRange{},
			Conflicts: []message.TimeRange{},
			CheckedAt: s.now().UTC(),
			Error:     err.Error(),
		}
		d.note("calendar availability unavailable: %v", err)
		if d.outcome == decision.OutcomeAutoRespond {
			d.force(decision.OutcomeRequestApproval, decision.ForcedCollaborator)
			d.note("cannot confirm availability; escalating")
		}
		return
	}

	d.calendar = avail
	if avail.HasConflicts() {
		d.note("%d proposed time(s) conflict with the calendar", len(avail.Conflicts))
		if d.outcome == decision.OutcomeAutoRespond {
			d.force(decision.OutcomeRequestApproval, decision.ForcedConflict)
			d.note("calendar conflict; escalating")
		}
		return
	}
	if d.outcome == decision.OutcomeAutoRespond {
		d.slots = avail.Free
	}
}
