package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "schedulerd"

// Metrics holds all schedulerd metric instruments.
type Metrics struct {
	Decisions       metric.Int64Counter
	DecisionErrors  metric.Int64Counter
	BreakerChanges  metric.Int64Counter
	Replies         metric.Int64Counter
	Score           metric.Float64Histogram
	DecideDuration  metric.Float64Histogram
	CollaboratorErr metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.Decisions, err = meter.Int64Counter("schedulerd.decisions",
		metric.WithDescription("Number of audited decisions by outcome"))
	if err != nil {
		return nil, err
	}

	m.DecisionErrors, err = meter.Int64Counter("schedulerd.decisions.failed",
		metric.WithDescription("Number of decisions aborted before an audit entry was written"))
	if err != nil {
		return nil, err
	}

	m.BreakerChanges, err = meter.Int64Counter("schedulerd.breaker.transitions",
		metric.WithDescription("Number of automation breaker status changes"))
	if err != nil {
		return nil, err
	}

	m.Replies, err = meter.Int64Counter("schedulerd.replies",
		metric.WithDescription("Number of automatic replies by delivery result"))
	if err != nil {
		return nil, err
	}

	m.Score, err = meter.Float64Histogram("schedulerd.confidence.overall",
		metric.WithDescription("Overall confidence score of scored messages"))
	if err != nil {
		return nil, err
	}

	m.DecideDuration, err = meter.Float64Histogram("schedulerd.decide.duration_seconds",
		metric.WithDescription("Decision latency in seconds"))
	if err != nil {
		return nil, err
	}

	m.CollaboratorErr, err = meter.Int64Counter("schedulerd.collaborator.errors",
		metric.WithDescription("Number of failed collaborator calls"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordDecision counts one audited decision.
func (m *Metrics) RecordDecision(ctx context.Context, outcome, forcedBy string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("forced_by", forcedBy),
	)
	m.Decisions.Add(ctx, 1, attrs)
	m.DecideDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordScore records the overall confidence of a scored message.
func (m *Metrics) RecordScore(ctx context.Context, overall float64, degraded bool) {
	if m == nil {
		return
	}
	m.Score.Record(ctx, overall, metric.WithAttributes(attribute.Bool("degraded", degraded)))
}

// RecordDecisionError counts a decision step that failed at the given stage.
func (m *Metrics) RecordDecisionError(ctx context.Context, stage string) {
	if m == nil {
		return
	}
	m.DecisionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordBreakerChange counts one breaker status change.
func (m *Metrics) RecordBreakerChange(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.BreakerChanges.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordReply counts one reply attempt; result is "sent", "failed" or "suppressed".
func (m *Metrics) RecordReply(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.Replies.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordCollaboratorError counts a failed collaborator call.
func (m *Metrics) RecordCollaboratorError(ctx context.Context, collaborator string) {
	if m == nil {
		return
	}
	m.CollaboratorErr.Add(ctx, 1, metric.WithAttributes(attribute.String("collaborator", collaborator)))
}
