package repository

import (
	"context"
	"time"

	"premium-access/internal/domain/model"
)

// EntitlementCacheRepository stores the derived per-user status snapshot.
// Get returns domain.ErrNotFound when absent and domain.ErrCorruptRecord when
// the stored record cannot be decoded.
type EntitlementCacheRepository interface {
	Get(ctx context.Context, tx Tx, userID string) (*model.UserEntitlementStatus, error)
	Put(ctx context.Context, tx Tx, status *model.UserEntitlementStatus) error
	Delete(ctx context.Context, tx Tx, userIDs ...string) error
	List(ctx context.Context, tx Tx) ([]*model.UserEntitlementStatus, error)
	// DeleteExpired removes entries whose expiry is at or before now.
	DeleteExpired(ctx context.Context, tx Tx, now time.Time) (int, error)
}

// SnapshotRepository is the secondary bulk dataset (imported/exported records
// keyed by user id). It is read by the resolver as a repair source.
type SnapshotRepository interface {
	FindByUser(ctx context.Context, tx Tx, userID string) (*model.UserEntitlementStatus, error)
	// Replace swaps the whole dataset for records.
	Replace(ctx context.Context, tx Tx, records []*model.UserEntitlementStatus) error
}
