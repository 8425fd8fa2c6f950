package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/eleftheriosvarv/oasa-delay-tracker/internal/arrivals"
)

// Runner is one poll run
type Runner interface {
	RunOnce(ctx context.Context) (arrivals.RunReport, error)
}

// Scheduler runs the poller every interval, starting immediately. Runs never overlap
// within the process: a tick that fires while a run is active is skipped.
type Scheduler struct {
	scheduler *gocron.Scheduler
	runner    Runner
	interval  time.Duration
	logger    *slog.Logger
}

// New creates a new Scheduler
func New(runner Runner, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	return &Scheduler{
		scheduler: s,
		runner:    runner,
		interval:  interval,
		logger:    logger.With(slog.String("component", "scheduler")),
	}
}

// Start schedules the poll job; runs use ctx and stop when it is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.interval <= 0 {
		return errors.New("scheduler: poll interval must be positive")
	}

	_, err := s.scheduler.Every(s.interval).Do(func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.runner.RunOnce(ctx); err != nil {
			s.logger.Error("poll run failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	return nil
}

// Stop stops the scheduler and waits for a running job to finish
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}
