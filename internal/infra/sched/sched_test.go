//go:build !integration

package sched

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	red "premium-access/internal/infra/redis"
	"premium-access/internal/usecase"
)

type sweeperFunc func(ctx context.Context, now time.Time) (int, error)

func (f sweeperFunc) Sweep(ctx context.Context, now time.Time) (int, error) { return f(ctx, now) }

type reconcilerFunc func(ctx context.Context, now time.Time) (*usecase.ReconcileReport, error)

func (f reconcilerFunc) Reconcile(ctx context.Context, now time.Time) (*usecase.ReconcileReport, error) {
	return f(ctx, now)
}

func quietLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func TestSweepWorker_RunOnce(t *testing.T) {
	// --- Arrange ---
	calls := 0
	w := NewSweepWorker(time.Minute, sweeperFunc(func(context.Context, time.Time) (int, error) {
		calls++
		return 3, nil
	}), red.NewLocalLocker(), quietLogger())

	// --- Act ---
	err := w.RunOnce(context.Background())

	// --- Assert ---
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected one sweep, got %d", calls)
	}
}

func TestReconcileWorker_SkipsWhenLockHeld(t *testing.T) {
	locker := red.NewLocalLocker()
	if _, err := locker.TryLock(context.Background(), "lock:worker:ReconcileWorker", time.Minute); err != nil {
		t.Fatal(err)
	}
	w := NewReconcileWorker(time.Minute, time.Minute, reconcilerFunc(func(context.Context, time.Time) (*usecase.ReconcileReport, error) {
		t.Error("reconcile must not run while another holder owns the lock")
		return &usecase.ReconcileReport{}, nil
	}), locker, quietLogger())

	if err := w.RunOnce(context.Background()); err != nil {
		t.Errorf("expected a skipped tick to be silent, got %v", err)
	}
}

func TestReconcileWorker_ReleasesLockAfterFailure(t *testing.T) {
	boom := errors.New("boom")
	locker := red.NewLocalLocker()
	calls := 0
	w := NewReconcileWorker(time.Minute, time.Minute, reconcilerFunc(func(context.Context, time.Time) (*usecase.ReconcileReport, error) {
		calls++
		return nil, boom
	}), locker, quietLogger())

	if err := w.RunOnce(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if err := w.RunOnce(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected the second tick to run again, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected two runs, got %d", calls)
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := NewSweepWorker(time.Hour, sweeperFunc(func(context.Context, time.Time) (int, error) { return 0, nil }), nil, quietLogger())

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
