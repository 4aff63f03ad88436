package natskv_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/manutej/calendar-availability-system-sub000/internal/adapter/nats"
	"github.com/manutej/calendar-availability-system-sub000/internal/adapter/natskv"
	"github.com/manutej/calendar-availability-system-sub000/internal/config"
	"github.com/manutej/calendar-availability-system-sub000/internal/port/cache/cachetest"
)

func TestCompliance(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}
	ctx := context.Background()

	q, err := nats.Connect(ctx, config.NATS{URL: url, Stream: "SCHEDULING_TEST", MaxDeliver: 3})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })

	kv, err := q.KeyValue(ctx, "test-natskv-cache", time.Minute)
	if err != nil {
		t.Fatalf("KeyValue: %v", err)
	}
	cachetest.Run(t, natskv.New(kv))
}
