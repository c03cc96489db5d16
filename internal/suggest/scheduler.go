package suggest

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Scheduler runs detection passes in the background: once at start and
// then every interval.
type Scheduler struct {
	pass     *Pass
	interval time.Duration
	logger   *zap.Logger
}

// NewScheduler creates a scheduler for pass.
func NewScheduler(pass *Pass, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{pass: pass, interval: interval, logger: logger}
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	_, err := s.pass.Run(ctx, nil)
	switch {
	case err == nil:
	case errors.Is(err, ErrPassRunning):
		s.logger.Debug("skipping scheduled pass", zap.Error(err))
	case ctx.Err() != nil:
	default:
		s.logger.Error("scheduled detection pass failed", zap.Error(err))
	}
}
