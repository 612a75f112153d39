package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

type Tx interface{}

var NoTX interface{}

// TransactionManager provides a thin abstraction to execute a function within a
// transaction, passing the underlying transaction handle via `tx`.
//
// The concrete type of `tx` is infra-defined (pgx.Tx for Postgres, a marker
// value for the in-memory driver). Repositories MUST gracefully accept a nil tx
// (non-transactional path).
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}

// KeyLocker serialises writers on a logical key (a user id, a code string) for
// the lifetime of the surrounding transaction.
type KeyLocker interface {
	LockKey(ctx context.Context, tx Tx, key string) error
}
