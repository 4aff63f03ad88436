package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "schedulerd"

// StartDecisionSpan starts a span for one decision.
func StartDecisionSpan(ctx context.Context, userID, threadID, messageID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "decision.decide",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("thread.id", threadID),
			attribute.String("message.id", messageID),
		),
	)
}

// StartCollaboratorSpan starts a span for a call to an external collaborator.
func StartCollaboratorSpan(ctx context.Context, collaborator string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "collaborator."+collaborator,
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// StartDispatchSpan starts a span for acting on a decision.
func StartDispatchSpan(ctx context.Context, auditEntryID, outcome string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "decision.dispatch",
		trace.WithAttributes(
			attribute.String("audit.entry_id", auditEntryID),
			attribute.String("decision.outcome", outcome),
		),
	)
}
