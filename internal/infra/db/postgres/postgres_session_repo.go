package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"premium-access/internal/domain"
	"premium-access/internal/domain/model"
	"premium-access/internal/domain/ports/repository"
	"premium-access/internal/infra/metrics"
	"premium-access/internal/infra/security"
)

var _ repository.SessionRepository = (*sessionRepo)(nil)

// sessionRepo stores device metadata as encrypted JSON.
type sessionRepo struct {
	pool   *pgxpool.Pool
	cipher security.Cipher
}

func NewSessionRepo(pool *pgxpool.Pool, cipher security.Cipher) repository.SessionRepository {
	if cipher == nil {
		cipher = security.NopCipher{}
	}
	return &sessionRepo{pool: pool, cipher: cipher}
}

const sessionColumns = `user_id, device_id, device_info, is_active, last_activity_at, created_at`

func (r *sessionRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.DeviceSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM device_sessions WHERE user_id = $1 ORDER BY created_at, device_id`
	rows, err := queryRows(ctx, r.pool, tx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*model.DeviceSession, 0)
	for rows.Next() {
		s, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *sessionRepo) Find(ctx context.Context, tx repository.Tx, userID, deviceID string) (*model.DeviceSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM device_sessions WHERE user_id = $1 AND device_id = $2`
	row, err := pickRow(ctx, r.pool, tx, q, userID, deviceID)
	if err != nil {
		return nil, err
	}
	return r.scan(row)
}

func (r *sessionRepo) Upsert(ctx context.Context, tx repository.Tx, s *model.DeviceSession) error {
	if s == nil || s.UserID == "" || s.DeviceID == "" {
		return domain.ErrInvalidArgument
	}
	info, err := r.sealInfo(s.DeviceInfo)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO device_sessions (` + sessionColumns + `)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (user_id, device_id) DO UPDATE SET
  device_info = EXCLUDED.device_info,
  is_active = EXCLUDED.is_active,
  last_activity_at = EXCLUDED.last_activity_at;
`
	_, err = execSQL(ctx, r.pool, tx, q, s.UserID, s.DeviceID, info, s.IsActive, s.LastActivityAt, s.CreatedAt)
	return err
}

func (r *sessionRepo) Delete(ctx context.Context, tx repository.Tx, userID, deviceID string) (bool, error) {
	tag, err := execSQL(ctx, r.pool, tx, `DELETE FROM device_sessions WHERE user_id = $1 AND device_id = $2`, userID, deviceID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *sessionRepo) Touch(ctx context.Context, tx repository.Tx, userID, deviceID string, at time.Time) error {
	const q = `UPDATE device_sessions SET last_activity_at = GREATEST(last_activity_at, $3) WHERE user_id = $1 AND device_id = $2`
	tag, err := execSQL(ctx, r.pool, tx, q, userID, deviceID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *sessionRepo) DeleteIdleSince(ctx context.Context, tx repository.Tx, cutoff time.Time) (int, error) {
	tag, err := execSQL(ctx, r.pool, tx, `DELETE FROM device_sessions WHERE last_activity_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *sessionRepo) sealInfo(info map[string]string) (string, error) {
	if len(info) == 0 {
		return "", nil
	}
	b, err := json.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("%w: device info: %v", domain.ErrInvalidArgument, err)
	}
	return r.cipher.Encrypt(string(b))
}

func (r *sessionRepo) scan(row rowScanner) (*model.DeviceSession, error) {
	var (
		s      model.DeviceSession
		sealed string
	)
	err := row.Scan(&s.UserID, &s.DeviceID, &sealed, &s.IsActive, &s.LastActivityAt, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	info, err := r.openInfo(sealed)
	if err != nil {
		// The slot still counts against the cap; only the metadata is lost.
		metrics.IncSessionInfoUnreadable()
	}
	s.DeviceInfo = info
	return &s, nil
}

// openInfo decrypts device metadata. It fails with domain.ErrCorruptRecord
// when the payload was sealed under another key or is not JSON.
func (r *sessionRepo) openInfo(sealed string) (map[string]string, error) {
	if sealed == "" {
		return nil, nil
	}
	plain, err := r.cipher.Decrypt(sealed)
	if err != nil {
		return nil, domain.ErrCorruptRecord
	}
	var info map[string]string
	if err := json.Unmarshal([]byte(plain), &info); err != nil {
		return nil, domain.ErrCorruptRecord
	}
	return info, nil
}
