// Package jobs runs ferrite's periodic background work: the hourly unban
// sweep and the command history prune.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Job is one periodic task.
type Job struct {
	// Name appears in logs.
	Name string
	// Expr is a 5-field cron expression.
	Expr string
	// Immediate also fires the job once at startup, ahead of its first
	// scheduled run.
	Immediate bool
	// Run does the work. Errors are logged, never fatal.
	Run func(ctx context.Context) error
}

// Config holds the dependencies for the job scheduler.
type Config struct {
	Jobs     []Job
	Logger   *slog.Logger
	Interval time.Duration // tick interval; defaults to 30 seconds if zero
}

// Scheduler fires registered jobs when their cron schedule comes due. Jobs
// run sequentially on the scheduler goroutine; a slow job delays the next
// rather than overlapping it.
type Scheduler struct {
	logger   *slog.Logger
	interval time.Duration
	jobs     []*scheduledJob

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type scheduledJob struct {
	Job
	schedule cronlib.Schedule
	nextRun  time.Time
}

// NewScheduler parses every job's cron expression up front; a bad
// expression is a wiring error, not a runtime one.
func NewScheduler(cfg Config) (*Scheduler, error) {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{logger: logger, interval: interval}
	for _, job := range cfg.Jobs {
		if job.Run == nil {
			return nil, fmt.Errorf("job %q has no run function", job.Name)
		}
		schedule, err := cronParser.Parse(job.Expr)
		if err != nil {
			return nil, fmt.Errorf("job %q: parse cron expr %q: %w", job.Name, job.Expr, err)
		}
		s.jobs = append(s.jobs, &scheduledJob{Job: job, schedule: schedule})
	}
	return s, nil
}

// Start begins the scheduler loop. It runs in a background goroutine and
// respects the provided context for shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	now := time.Now()
	for _, job := range s.jobs {
		if job.Immediate {
			job.nextRun = now
		} else {
			job.nextRun = job.schedule.Next(now)
		}
	}
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("job scheduler started", "jobs", len(s.jobs), "interval", s.interval)
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("job scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Fire immediate jobs on startup, then check on each tick.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick fires every job whose next run has arrived.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()
	for _, job := range s.jobs {
		if job.nextRun.After(now) {
			continue
		}
		s.fire(ctx, job)
		job.nextRun = job.schedule.Next(now)
	}
}

func (s *Scheduler) fire(ctx context.Context, job *scheduledJob) {
	start := time.Now()
	if err := job.Run(ctx); err != nil {
		s.logger.Error("job failed", "job", job.Name, "error", err)
		return
	}
	s.logger.Info("job finished", "job", job.Name, "duration_ms", time.Since(start).Milliseconds())
}

// NextRunTime parses the cron expression and returns the next run time
// after the given time.
func NextRunTime(expr string, after time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(after), nil
}
