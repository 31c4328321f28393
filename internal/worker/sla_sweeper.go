package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// BreachSweeper claims overdue cases and raises their alarms.
type BreachSweeper interface {
	SweepBreaches(ctx context.Context, now time.Time) (int, error)
}

// StartSLASweeper runs a sweep on every tick until ctx ends. It blocks; run
// it in its own goroutine. A failed sweep is logged and retried next tick.
func StartSLASweeper(ctx context.Context, sweeper BreachSweeper, interval time.Duration, logger *zap.Logger) {
	if sweeper == nil {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("sla_sweeper")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	logger.Info("sla sweeper started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			logger.Info("sla sweeper stopped")
			return
		case now := <-ticker.C:
			sweepOnce(ctx, sweeper, now.UTC(), logger)
		}
	}
}

func sweepOnce(ctx context.Context, sweeper BreachSweeper, now time.Time, logger *zap.Logger) {
	n, err := sweeper.SweepBreaches(ctx, now)
	if err != nil {
		logger.Error("sla sweep failed", zap.Int("notified", n), zap.Error(err))
		return
	}
	if n > 0 {
		logger.Warn("sla breaches raised", zap.Int("count", n))
	}
}
