package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StaleSessionCloser stops spectator sessions left open longer than maxAge.
type StaleSessionCloser interface {
	CloseStaleSessions(ctx context.Context, maxAge time.Duration) (int, error)
}

type Config struct {
	SweepInterval time.Duration
	MaxAge        time.Duration
	RunTimeout    time.Duration // 0 = без ограничения
}

// Scheduler запускает фоновые задачи сервиса.
type Scheduler struct {
	sched  gocron.Scheduler
	logger *slog.Logger
}

func New(ctx context.Context, closer StaleSessionCloser, cfg Config, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SweepInterval <= 0 || cfg.MaxAge <= 0 {
		return nil, fmt.Errorf("invalid scheduler config: interval %v, max age %v", cfg.SweepInterval, cfg.MaxAge)
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(cfg.SweepInterval),
		gocron.NewTask(func() {
			sweepStaleSpectators(ctx, closer, cfg, logger)
		}),
		gocron.WithName("stale-spectator-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("failed to register stale spectator sweep: %w", err)
	}

	return &Scheduler{sched: sched, logger: logger}, nil
}

func sweepStaleSpectators(ctx context.Context, closer StaleSessionCloser, cfg Config, logger *slog.Logger) {
	if ctx.Err() != nil {
		return
	}
	runCtx := ctx
	if cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cfg.RunTimeout)
		defer cancel()
	}

	closed, err := closer.CloseStaleSessions(runCtx, cfg.MaxAge)
	if err != nil {
		logger.Error("stale spectator sweep failed", slog.Int("closed", closed), slog.Any("error", err))
		return
	}
	logger.Debug("stale spectator sweep finished", slog.Int("closed", closed))
}

func (s *Scheduler) Start() {
	s.sched.Start()
	s.logger.Info("scheduler started", slog.Int("jobs", len(s.sched.Jobs())))
}

func (s *Scheduler) Shutdown() error {
	if err := s.sched.Shutdown(); err != nil {
		return fmt.Errorf("scheduler shutdown: %w", err)
	}
	return nil
}
