package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"premium-access/internal/domain"
	"premium-access/internal/domain/model"
	"premium-access/internal/domain/ports/repository"
	"premium-access/internal/infra/logging"
	"premium-access/internal/infra/metrics"
)

// Compile-time check
var _ DeviceSessionUseCase = (*deviceSessionUC)(nil)

// SessionWindows are the two inactivity thresholds of the ledger.
// Active bounds the "currently active" display view; Stale bounds garbage collection.
type SessionWindows struct {
	Active time.Duration
	Stale  time.Duration
}

func DefaultSessionWindows() SessionWindows {
	return SessionWindows{Active: time.Hour, Stale: 24 * time.Hour}
}

// DeviceSessionUseCase is the per-user device session ledger.
type DeviceSessionUseCase interface {
	// ActiveSessions lists sessions flagged active and seen within the active window.
	ActiveSessions(ctx context.Context, userID string, now time.Time) ([]*model.DeviceSession, error)
	Sessions(ctx context.Context, userID string) ([]*model.DeviceSession, error)
	Record(ctx context.Context, userID, deviceID string, info map[string]string, now time.Time) (*model.DeviceSession, error)
	Remove(ctx context.Context, userID, deviceID string) (bool, error)
	Touch(ctx context.Context, userID, deviceID string, now time.Time) error
	Sweep(ctx context.Context, now time.Time) (int, error)
}

type deviceSessionUC struct {
	sessions repository.SessionRepository
	tm       repository.TransactionManager
	locker   repository.KeyLocker
	windows  SessionWindows
	log      *zerolog.Logger
}

func NewDeviceSessionUseCase(
	sessions repository.SessionRepository,
	tm repository.TransactionManager,
	locker repository.KeyLocker,
	windows SessionWindows,
	logger *zerolog.Logger,
) *deviceSessionUC {
	def := DefaultSessionWindows()
	if windows.Active <= 0 {
		windows.Active = def.Active
	}
	if windows.Stale <= 0 {
		windows.Stale = def.Stale
	}
	return &deviceSessionUC{
		sessions: sessions,
		tm:       tm,
		locker:   locker,
		windows:  windows,
		log:      logger,
	}
}

func (d *deviceSessionUC) ActiveSessions(ctx context.Context, userID string, now time.Time) ([]*model.DeviceSession, error) {
	all, err := d.sessions.ListByUser(ctx, repository.NoTX, userID)
	if err != nil {
		return nil, err
	}
	out := make([]*model.DeviceSession, 0, len(all))
	for _, s := range all {
		if s.RecentAt(now, d.windows.Active) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (d *deviceSessionUC) Sessions(ctx context.Context, userID string) ([]*model.DeviceSession, error) {
	return d.sessions.ListByUser(ctx, repository.NoTX, userID)
}

func (d *deviceSessionUC) Record(ctx context.Context, userID, deviceID string, info map[string]string, now time.Time) (*model.DeviceSession, error) {
	if err := requireSessionKey(userID, deviceID); err != nil {
		return nil, err
	}
	var out *model.DeviceSession
	err := d.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		if err := d.locker.LockKey(ctx, tx, userLockKey(userID)); err != nil {
			return err
		}
		s, err := upsertSession(ctx, tx, d.sessions, userID, deviceID, info, now)
		out = s
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// upsertSession reactivates the (userID, deviceID) session or creates it.
func upsertSession(ctx context.Context, tx repository.Tx, repo repository.SessionRepository, userID, deviceID string, info map[string]string, now time.Time) (*model.DeviceSession, error) {
	s, err := repo.Find(ctx, tx, userID, deviceID)
	switch {
	case err == nil:
		s.IsActive = true
		s.LastActivityAt = now
		if info != nil {
			s.DeviceInfo = info
		}
	case errors.Is(err, domain.ErrNotFound):
		s = model.NewDeviceSession(userID, deviceID, info, now)
	default:
		return nil, err
	}
	if err := repo.Upsert(ctx, tx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Remove deletes the session. Removing an unknown session is not an error.
func (d *deviceSessionUC) Remove(ctx context.Context, userID, deviceID string) (bool, error) {
	if err := requireSessionKey(userID, deviceID); err != nil {
		return false, err
	}
	var removed bool
	err := d.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		if err := d.locker.LockKey(ctx, tx, userLockKey(userID)); err != nil {
			return err
		}
		ok, err := d.sessions.Delete(ctx, tx, userID, deviceID)
		removed = ok
		return err
	})
	if err != nil {
		return false, err
	}
	if removed {
		logging.With(logging.WithDeviceID(logging.WithUserID(ctx, userID), deviceID), d.log).
			Info().Msg("device session removed")
	}
	return removed, nil
}

// Touch refreshes LastActivityAt. It returns domain.ErrNotFound once the
// session has been removed or swept, which tells the client to log in again.
func (d *deviceSessionUC) Touch(ctx context.Context, userID, deviceID string, now time.Time) error {
	if err := requireSessionKey(userID, deviceID); err != nil {
		return err
	}
	return d.sessions.Touch(ctx, repository.NoTX, userID, deviceID, now)
}

func (d *deviceSessionUC) Sweep(ctx context.Context, now time.Time) (int, error) {
	n, err := d.sessions.DeleteIdleSince(ctx, repository.NoTX, now.Add(-d.windows.Stale))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.AddSessionsSwept(n)
		d.log.Debug().Int("swept", n).Msg("stale device sessions removed")
	}
	return n, nil
}

func requireSessionKey(userID, deviceID string) error {
	if userID == "" || deviceID == "" {
		return fmt.Errorf("%w: user id and device id are required", domain.ErrInvalidArgument)
	}
	return nil
}
