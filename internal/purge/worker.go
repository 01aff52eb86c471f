// Package purge runs the periodic sweep that reclaims expired pending
// reservations across all schedules.
package purge

import (
	"context"
	"log/slog"
	"time"
)

type Purger interface {
	PurgeExpired(ctx context.Context, scheduleID string) (int, error)
}

type Worker struct {
	svc      Purger
	logger   *slog.Logger
	interval time.Duration
}

func NewWorker(svc Purger, logger *slog.Logger, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Worker{svc: svc, logger: logger, interval: interval}
}

// Run sweeps until ctx is cancelled. The sweep is idempotent and races
// harmlessly with payment confirmation: confirm flips status first or the
// row is already gone.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.svc.PurgeExpired(ctx, ""); err != nil {
				w.logger.Error("purge sweep failed", "err", err)
			}
		}
	}
}
