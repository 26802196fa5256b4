// Package sweep periodically expires stale review claims.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the sweep hourly.
const DefaultSchedule = "@every 1h"

// Expirer demotes claims older than olderThan and reports how many it touched.
type Expirer interface {
	ExpireStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Scheduler runs an Expirer on a cron schedule. Runs never overlap.
type Scheduler struct {
	exp       Expirer
	olderThan time.Duration
	log       *slog.Logger
	cron      *cron.Cron
	entry     cron.EntryID

	mu  sync.Mutex
	ctx context.Context
}

// New creates a scheduler. schedule accepts standard five-field cron
// expressions and descriptors such as "@hourly" or "@every 30m".
func New(exp Expirer, schedule string, olderThan time.Duration, log *slog.Logger) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Scheduler{
		exp:       exp,
		olderThan: olderThan,
		log:       log,
		ctx:       context.Background(),
		cron:      cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
	id, err := s.cron.AddFunc(schedule, s.tick)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	s.entry = id
	return s, nil
}

// RunOnce performs a single sweep.
func (s *Scheduler) RunOnce(ctx context.Context) (int64, error) {
	start := time.Now()
	n, err := s.exp.ExpireStale(ctx, s.olderThan)
	if err != nil {
		s.log.Error("sweep failed", "expired", n, "error", err)
		return n, err
	}
	s.log.Info("sweep complete", "expired", n, "duration", time.Since(start))
	return n, nil
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	_, _ = s.RunOnce(ctx)
}

// Start runs the schedule until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.log.Info("sweeper started", "next", s.Next())

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Next returns the time of the next scheduled sweep, or the zero time if
// the scheduler has not been started.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}
