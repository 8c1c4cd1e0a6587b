package cycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Scheduler runs the orchestrator on a fixed interval, starting immediately.
type Scheduler struct {
	orch      *Orchestrator
	scheduler gocron.Scheduler
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler. Ticks that find a cycle still running
// are skipped.
func NewScheduler(orch *Orchestrator, interval time.Duration, logger *slog.Logger) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("cycle interval must be positive, got %s", interval)
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sched := &Scheduler{orch: orch, scheduler: s, logger: logger, ctx: ctx, cancel: cancel}
	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(sched.tick),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		cancel()
		_ = s.Shutdown()
		return nil, fmt.Errorf("schedule cycle: %w", err)
	}
	return sched, nil
}

// Start begins the timer.
func (s *Scheduler) Start() {
	s.logger.Info("cycle scheduler started")
	s.scheduler.Start()
}

// Stop cancels the current cycle and waits for it to return.
func (s *Scheduler) Stop() {
	s.cancel()
	if err := s.scheduler.Shutdown(); err != nil {
		s.logger.Error("scheduler shutdown failed", "err", err)
	}
	s.logger.Info("cycle scheduler stopped")
}

func (s *Scheduler) tick() {
	if _, err := s.orch.Run(s.ctx); err != nil {
		if errors.Is(err, ErrCycleRunning) {
			s.logger.Warn("cycle skipped, previous cycle still running")
			return
		}
		s.logger.Error("cycle failed to start", "err", err)
	}
}
