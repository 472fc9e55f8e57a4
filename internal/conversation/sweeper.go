package conversation

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically abandons idle conversations. It is advisory: the
// Manager also expires lazily on access, so a missed tick only delays the
// transition.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a Sweeper. If interval is <= 0, it defaults to 1 minute.
func NewSweeper(manager *Manager, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		manager:  manager,
		interval: interval,
		logger:   slog.Default(),
	}
}

// Run sweeps on a ticker until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("timeout sweeper started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("timeout sweeper shutting down", "reason", ctx.Err())
			return
		case <-ticker.C:
			if _, err := s.manager.SweepTimeouts(ctx, s.manager.clock.Now()); err != nil {
				s.logger.Error("timeout sweep failed", "error", err)
			}
		}
	}
}
