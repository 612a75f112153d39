package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	red "premium-access/internal/infra/redis"
	"premium-access/internal/usecase"
)

// Reconciler is the slice of EntitlementUseCase the reconcile worker needs.
type Reconciler interface {
	Reconcile(ctx context.Context, now time.Time) (*usecase.ReconcileReport, error)
}

// ReconcileWorker periodically repairs the entitlement cache from code
// redemptions.
type ReconcileWorker struct {
	t *ticker
}

func NewReconcileWorker(interval, lockTTL time.Duration, entitlements Reconciler, locker red.Locker, logger *zerolog.Logger) *ReconcileWorker {
	w := &ReconcileWorker{}
	w.t = newTicker("ReconcileWorker", interval, lockTTL, locker, func(ctx context.Context, now time.Time) error {
		rep, err := entitlements.Reconcile(ctx, now)
		if err != nil {
			return err
		}
		w.t.log.Info().
			Int("scanned", rep.Scanned).
			Int("expired", rep.Expired).
			Int("orphaned", rep.Orphaned).
			Int("repaired", rep.Repaired).
			Msg("entitlements reconciled")
		return nil
	}, logger)
	return w
}

func (w *ReconcileWorker) Run(ctx context.Context) error { return w.t.loop(ctx) }

// RunOnce performs a single reconciliation pass.
func (w *ReconcileWorker) RunOnce(ctx context.Context) error { return w.t.once(ctx) }
