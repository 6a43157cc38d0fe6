// Package maintenance runs the periodic background jobs: retention cleanup,
// excess trimming, payload compression, statistics, queue health monitoring,
// cache sweeps, and the weekly summary notification.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Job is one schedulable unit of background work.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler drives jobs on fixed-interval tickers. Each job runs on its own
// goroutine so a slow cleanup never delays the health monitor; a panic or
// error in one run is contained and logged, and the next tick fires
// normally.
type Scheduler struct {
	logger *slog.Logger
	jobs   []Job
}

// NewScheduler creates an empty scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{logger: logger}
}

// Add registers a job. Jobs with a non-positive interval are skipped.
func (s *Scheduler) Add(j Job) {
	if j.Interval <= 0 {
		s.logger.Warn("skipping job with non-positive interval", "job", j.Name)
		return
	}
	s.jobs = append(s.jobs, j)
}

// Run blocks until ctx is cancelled, then waits for in-flight job runs to
// finish.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, j := range s.jobs {
		g.Go(func() error {
			ticker := time.NewTicker(j.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					s.runOnce(ctx, j)
				}
			}
		})
	}
	return g.Wait()
}

// RunNow executes every registered job once, in registration order. Used at
// startup and by operational tooling.
func (s *Scheduler) RunNow(ctx context.Context) {
	for _, j := range s.jobs {
		s.runOnce(ctx, j)
	}
}

func (s *Scheduler) runOnce(ctx context.Context, j Job) {
	started := time.Now()
	err := s.safeRun(ctx, j)
	elapsed := time.Since(started)
	if err != nil {
		s.logger.Error("maintenance job failed", "job", j.Name, "elapsed", elapsed, "error", err)
		return
	}
	s.logger.Debug("maintenance job finished", "job", j.Name, "elapsed", elapsed)
}

func (s *Scheduler) safeRun(ctx context.Context, j Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job panic: %v", rec)
		}
	}()
	return j.Run(ctx)
}
