// Package worker runs tasks serialized per key under a global concurrency bound.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/manutej/calendar-availability-system-sub000/internal/config"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("worker: pool closed")

// Task is one unit of work. It receives the submitter's context.
type Task func(ctx context.Context) error

// Keyed routes tasks by key to a per-key lane that runs them one at a time in
// submission order. Lanes are created on demand and exit after being idle.
// A weighted semaphore bounds how many lanes execute at once.
type Keyed struct {
	sem       *semaphore.Weighted
	queueSize int
	idle      time.Duration

	mu     sync.Mutex
	lanes  map[string]*lane
	closed bool

	inflight sync.WaitGroup
	running  sync.WaitGroup
	quit     chan struct{}
}

type lane struct {
	tasks   chan job
	pending int // guarded by Keyed.mu
}

type job struct {
	ctx  context.Context
	fn   Task
	done chan error
}

// New creates a pool from cfg.
func New(cfg config.Worker) *Keyed {
	limit := cfg.MaxConcurrent
	if limit < 1 {
		limit = 1
	}
	queue := cfg.QueueSize
	if queue < 1 {
		queue = 1
	}
	idle := cfg.IdleTimeout
	if idle <= 0 {
		idle = time.Minute
	}
	return &Keyed{
		sem:       semaphore.NewWeighted(int64(limit)),
		queueSize: queue,
		idle:      idle,
		lanes:     make(map[string]*lane),
		quit:      make(chan struct{}),
	}
}

// Submit queues fn on the lane for key and waits for its result. Tasks with
// the same key never overlap and run in the order Submit was called. If ctx
// ends first, Submit returns ctx.Err() and a task that has not started yet
// is skipped.
func (k *Keyed) Submit(ctx context.Context, key string, fn Task) error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return ErrClosed
	}
	l, ok := k.lanes[key]
	if !ok {
		l = &lane{tasks: make(chan job, k.queueSize)}
		k.lanes[key] = l
		k.running.Add(1)
		go k.run(key, l)
	}
	l.pending++
	k.inflight.Add(1)
	k.mu.Unlock()
	defer k.inflight.Done()

	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case l.tasks <- j:
	case <-ctx.Done():
		k.mu.Lock()
		l.pending--
		k.mu.Unlock()
		return ctx.Err()
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (k *Keyed) run(key string, l *lane) {
	defer k.running.Done()

	timer := time.NewTimer(k.idle)
	defer timer.Stop()

	for {
		select {
		case j := <-l.tasks:
			j.done <- k.exec(j)
			k.mu.Lock()
			l.pending--
			k.mu.Unlock()
			timer.Reset(k.idle)

		case <-timer.C:
			k.mu.Lock()
			if l.pending == 0 {
				delete(k.lanes, key)
				k.mu.Unlock()
				return
			}
			k.mu.Unlock()
			timer.Reset(k.idle)

		case <-k.quit:
			return
		}
	}
}

func (k *Keyed) exec(j job) (err error) {
	if err := j.ctx.Err(); err != nil {
		return err
	}
	if err := k.sem.Acquire(j.ctx, 1); err != nil {
		return err
	}
	defer k.sem.Release(1)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker: task panicked: %v", r)
		}
	}()
	return j.fn(j.ctx)
}

// Lanes returns the number of live lanes.
func (k *Keyed) Lanes() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.lanes)
}

// Close rejects new tasks, waits for submitted ones to finish and stops all
// lanes.
func (k *Keyed) Close() {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return
	}
	k.closed = true
	k.mu.Unlock()

	k.inflight.Wait()
	close(k.quit)
	k.running.Wait()
}
