package repository

import (
	"context"
	"time"

	"premium-access/internal/domain/model"
)

// SessionRepository is the central per-user device session ledger.
type SessionRepository interface {
	ListByUser(ctx context.Context, tx Tx, userID string) ([]*model.DeviceSession, error)
	Find(ctx context.Context, tx Tx, userID, deviceID string) (*model.DeviceSession, error)
	// Upsert inserts or replaces the session keyed by (UserID, DeviceID).
	Upsert(ctx context.Context, tx Tx, s *model.DeviceSession) error
	// Delete removes a session; it reports whether a row existed.
	Delete(ctx context.Context, tx Tx, userID, deviceID string) (bool, error)
	// Touch refreshes LastActivityAt; domain.ErrNotFound when the session is gone.
	Touch(ctx context.Context, tx Tx, userID, deviceID string, at time.Time) error
	// DeleteIdleSince removes sessions whose LastActivityAt is before cutoff.
	DeleteIdleSince(ctx context.Context, tx Tx, cutoff time.Time) (int, error)
}
