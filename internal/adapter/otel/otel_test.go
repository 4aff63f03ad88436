package otel

import (
	"context"
	"testing"

	"github.com/manutej/calendar-availability-system-sub000/internal/config"
)

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.OTel{ServiceName: "schedulerd"})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestMetricsRecordOnNoopProvider(t *testing.T) {
	m, err := NewMetrics()
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	ctx := context.Background()
	m.RecordDecision(ctx, "auto_respond", "", 0.01)
	m.RecordScore(ctx, 0.93, false)
	m.RecordDecisionError(ctx, "audit")
	m.RecordBreakerChange(ctx, "closed", "open")
	m.RecordReply(ctx, "sent")
	m.RecordCollaboratorError(ctx, "calendar")
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordDecision(context.Background(), "decline", "blacklist", 0)
	m.RecordBreakerChange(context.Background(), "open", "half_open")
}

func TestStartDecisionSpan(t *testing.T) {
	ctx, span := StartDecisionSpan(context.Background(), "u1", "t1", "m1")
	defer span.End()
	if ctx == nil {
		t.Fatal("expected context")
	}
}
