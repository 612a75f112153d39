// Package memory is the in-process storage driver. All transactions are
// serialised behind a single mutex, which makes the driver a single writer.
package memory

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v4"

	"premium-access/internal/domain/ports/repository"
)

var (
	_ repository.TransactionManager = (*TxManager)(nil)
	_ repository.KeyLocker          = (*TxManager)(nil)
)

// txMarker is the handle passed to repositories inside WithTx.
type txMarker struct{}

type TxManager struct {
	mu sync.Mutex
}

func NewTxManager() *TxManager { return &TxManager{} }

// WithTx runs fn while holding the writer lock. Nested calls are not supported.
func (m *TxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, txMarker{})
}

// LockKey is a no-op: WithTx already excludes every other writer.
func (m *TxManager) LockKey(context.Context, repository.Tx, string) error { return nil }
