package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"premium-access/internal/infra/metrics"
	red "premium-access/internal/infra/redis"
)

// job is one tick of a periodic worker.
type job func(ctx context.Context, now time.Time) error

// ticker runs a job every interval, holding a cluster-wide lock for each tick
// so only one replica does the work.
type ticker struct {
	name     string
	interval time.Duration
	lockTTL  time.Duration
	locker   red.Locker
	run      job
	now      func() time.Time
	log      *zerolog.Logger
}

func newTicker(name string, interval, lockTTL time.Duration, locker red.Locker, run job, logger *zerolog.Logger) *ticker {
	l := logger.With().Str("component", name).Logger()
	if interval <= 0 {
		interval = time.Minute
	}
	if lockTTL <= 0 {
		lockTTL = interval
	}
	return &ticker{
		name:     name,
		interval: interval,
		lockTTL:  lockTTL,
		locker:   locker,
		run:      run,
		now:      time.Now,
		log:      &l,
	}
}

func (t *ticker) loop(ctx context.Context) error {
	t.log.Info().Dur("interval", t.interval).Msg("Starting worker")
	tk := time.NewTicker(t.interval)
	defer tk.Stop()

	for {
		select {
		case <-ctx.Done():
			t.log.Info().Msg("Stopping worker")
			return ctx.Err()
		case <-tk.C:
			_ = t.once(ctx)
		}
	}
}

// once performs a single locked tick. A tick skipped because another replica
// holds the lock is not an error.
func (t *ticker) once(ctx context.Context) error {
	key := "lock:worker:" + t.name
	if t.locker != nil {
		token, err := t.locker.TryLock(ctx, key, t.lockTTL)
		if errors.Is(err, red.ErrLockHeld) {
			metrics.IncWorkerRun(t.name, "skipped")
			t.log.Debug().Msg("lock held elsewhere; skipping tick")
			return nil
		}
		if err != nil {
			metrics.IncWorkerRun(t.name, "failed")
			t.log.Error().Err(err).Msg("could not acquire worker lock")
			return err
		}
		defer func() {
			if err := t.locker.Unlock(context.Background(), key, token); err != nil {
				t.log.Warn().Err(err).Msg("failed to release worker lock")
			}
		}()
	}

	if err := t.run(ctx, t.now()); err != nil {
		metrics.IncWorkerRun(t.name, "failed")
		t.log.Error().Err(err).Msg("worker tick failed")
		return err
	}
	metrics.IncWorkerRun(t.name, "ok")
	return nil
}
