package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	red "premium-access/internal/infra/redis"
)

// Sweeper is the slice of DeviceSessionUseCase the sweep worker needs.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// SweepWorker periodically garbage-collects stale device sessions.
type SweepWorker struct {
	t *ticker
}

func NewSweepWorker(interval time.Duration, sessions Sweeper, locker red.Locker, logger *zerolog.Logger) *SweepWorker {
	w := &SweepWorker{}
	w.t = newTicker("SweepWorker", interval, interval, locker, func(ctx context.Context, now time.Time) error {
		n, err := sessions.Sweep(ctx, now)
		if err != nil {
			return err
		}
		if n > 0 {
			w.t.log.Info().Int("count", n).Msg("stale sessions swept")
		}
		return nil
	}, logger)
	return w
}

func (w *SweepWorker) Run(ctx context.Context) error { return w.t.loop(ctx) }

// RunOnce performs a single sweep.
func (w *SweepWorker) RunOnce(ctx context.Context) error { return w.t.once(ctx) }
