package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// sweepParser accepts standard five-field expressions and descriptors such
// as "@every 1h" or "@daily".
var sweepParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Sweeper closes expired conversations on a cron schedule.
type Sweeper struct {
	convs *ConversationService
	cron  *cron.Cron

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// NewSweeper parses schedule and returns a stopped Sweeper.
func NewSweeper(convs *ConversationService, schedule string) (*Sweeper, error) {
	sched, err := sweepParser.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	s := &Sweeper{
		convs: convs,
		cron:  cron.New(cron.WithParser(sweepParser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron.Schedule(sched, cron.FuncJob(func() { s.RunOnce(s.ctx) }))
	return s, nil
}

// RunOnce performs one sweep and returns the number of conversations closed.
func (s *Sweeper) RunOnce(ctx context.Context) int64 {
	n, err := s.convs.Sweep(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "conversation sweep failed", "error", err)
		return 0
	}
	if n > 0 {
		slog.InfoContext(ctx, "expired conversations closed", "count", n)
	}
	return n
}

// Start begins running the schedule in the background.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
}

// Stop halts the schedule, cancels a sweep in progress and waits for it
// to return.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel()
	if !s.started {
		return
	}
	s.started = false
	<-s.cron.Stop().Done()
}
