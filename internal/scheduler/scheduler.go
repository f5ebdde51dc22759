// Package scheduler implements C8: the three fixed-interval reporting
// jobs (30 minutes, 1 hour, 4 hours), each guarded against overlapping
// invocations of itself.
package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cryptoKingdom88/chainwatch/internal/metrics"
)

// windowStore is the subset of C1 the scheduler reads cumulative volume
// from.
type windowStore interface {
	CumulativeAmount(ctx context.Context, token, direction string, now, periodSeconds int64) (float64, error)
}

// summaryDispatcher is the subset of C6 the scheduler uses to DM every
// chat subscriber with the periodic summary.
type summaryDispatcher interface {
	BroadcastPeriodicSummary(ctx context.Context, text string) error
}

// job is one fixed-interval reporting task.
type job struct {
	name          string
	interval      time.Duration
	periodSeconds int64
	running       atomic.Bool
}

// Scheduler drives the three reporting jobs independently; each holds its
// own non-reentrant guard, so a slow run of one job never blocks or skips
// the others.
type Scheduler struct {
	store      windowStore
	dispatcher summaryDispatcher
	targetMint string
	jobs       []*job
	logger     *logrus.Entry
}

// New builds a Scheduler with the three fixed intervals the spec defines:
// 30 minutes (1800s window), 1 hour (3600s window), 4 hours (14400s window).
func New(store windowStore, dispatcher summaryDispatcher, targetMint string, logger *logrus.Entry) *Scheduler {
	return &Scheduler{
		store:      store,
		dispatcher: dispatcher,
		targetMint: targetMint,
		logger:     logger,
		jobs: []*job{
			{name: "30m", interval: 30 * time.Minute, periodSeconds: 1800},
			{name: "1h", interval: time.Hour, periodSeconds: 3600},
			{name: "4h", interval: 4 * time.Hour, periodSeconds: 14400},
		},
	}
}

// Run starts each job's own ticker loop in its own goroutine and blocks
// until ctx is cancelled; the three jobs run independently of one another.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started")

	done := make(chan struct{}, len(s.jobs))
	for _, j := range s.jobs {
		go func(j *job) {
			s.jobLoop(ctx, j)
			done <- struct{}{}
		}(j)
	}

	for range s.jobs {
		<-done
	}
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) jobLoop(ctx context.Context, j *job) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runJob(ctx, j)
		}
	}
}

// runJob executes job j unless a prior invocation is still in flight, in
// which case it's skipped with a warning.
func (s *Scheduler) runJob(ctx context.Context, j *job) {
	if !j.running.CompareAndSwap(false, true) {
		s.logger.WithField("job", j.name).Warn("skipping overlapping scheduler invocation")
		return
	}
	defer j.running.Store(false)

	start := time.Now()
	defer func() {
		metrics.SchedulerJobDuration.WithLabelValues(j.name).Observe(time.Since(start).Seconds())
	}()

	if err := s.reportCumulative(ctx, j); err != nil {
		s.logger.WithError(err).WithField("job", j.name).Warn("scheduler job failed")
	}
}

// reportCumulative computes cumulative buys and sells over the job's
// period and DMs every chat subscriber with the summary.
func (s *Scheduler) reportCumulative(ctx context.Context, j *job) error {
	now := time.Now().Unix()

	buys, err := s.store.CumulativeAmount(ctx, s.targetMint, "buy", now, j.periodSeconds)
	if err != nil {
		return fmt.Errorf("cumulative buys: %w", err)
	}
	sells, err := s.store.CumulativeAmount(ctx, s.targetMint, "sell", now, j.periodSeconds)
	if err != nil {
		return fmt.Errorf("cumulative sells: %w", err)
	}

	text := fmt.Sprintf("%s summary for %s: buys=$%.2f sells=$%.2f (last %d minutes)",
		j.name, s.targetMint, buys, sells, j.periodSeconds/60)

	if err := s.dispatcher.BroadcastPeriodicSummary(ctx, text); err != nil {
		return fmt.Errorf("broadcast periodic summary: %w", err)
	}
	return nil
}
