package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"premium-access/internal/domain"
	"premium-access/internal/domain/model"
	"premium-access/internal/domain/ports/repository"
)

var (
	_ repository.EntitlementCacheRepository = (*entitlementRepo)(nil)
	_ repository.SnapshotRepository         = (*snapshotRepo)(nil)
)

type entitlementRepo struct {
	pool *pgxpool.Pool
}

func NewEntitlementRepo(pool *pgxpool.Pool) repository.EntitlementCacheRepository {
	return &entitlementRepo{pool: pool}
}

const entitlementColumns = `user_id, is_premium, COALESCE(source_code_id, ''), activated_at, expires_at, tier`

func (r *entitlementRepo) Get(ctx context.Context, tx repository.Tx, userID string) (*model.UserEntitlementStatus, error) {
	q := `SELECT ` + entitlementColumns + ` FROM user_entitlements WHERE user_id = $1` + lockClause(tx)
	row, err := pickRow(ctx, r.pool, tx, q, userID)
	if err != nil {
		return nil, err
	}
	return scanEntitlement(row)
}

func (r *entitlementRepo) Put(ctx context.Context, tx repository.Tx, s *model.UserEntitlementStatus) error {
	if s == nil || s.UserID == "" {
		return domain.ErrInvalidArgument
	}
	const q = `
INSERT INTO user_entitlements (user_id, is_premium, source_code_id, activated_at, expires_at, tier, updated_at)
VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, NOW())
ON CONFLICT (user_id) DO UPDATE SET
  is_premium = EXCLUDED.is_premium,
  source_code_id = EXCLUDED.source_code_id,
  activated_at = EXCLUDED.activated_at,
  expires_at = EXCLUDED.expires_at,
  tier = EXCLUDED.tier,
  updated_at = NOW();
`
	_, err := execSQL(ctx, r.pool, tx, q, s.UserID, s.IsPremium, s.SourceCodeID, s.ActivatedAt, s.ExpiresAt, string(s.Tier))
	return err
}

func (r *entitlementRepo) Delete(ctx context.Context, tx repository.Tx, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	_, err := execSQL(ctx, r.pool, tx, `DELETE FROM user_entitlements WHERE user_id = ANY($1)`, userIDs)
	return err
}

func (r *entitlementRepo) List(ctx context.Context, tx repository.Tx) ([]*model.UserEntitlementStatus, error) {
	const q = `SELECT ` + entitlementColumns + ` FROM user_entitlements ORDER BY user_id`
	return listEntitlements(ctx, r.pool, tx, q)
}

func (r *entitlementRepo) DeleteExpired(ctx context.Context, tx repository.Tx, now time.Time) (int, error) {
	tag, err := execSQL(ctx, r.pool, tx, `DELETE FROM user_entitlements WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

type snapshotRepo struct {
	pool *pgxpool.Pool
}

func NewSnapshotRepo(pool *pgxpool.Pool) repository.SnapshotRepository {
	return &snapshotRepo{pool: pool}
}

func (r *snapshotRepo) FindByUser(ctx context.Context, tx repository.Tx, userID string) (*model.UserEntitlementStatus, error) {
	const q = `SELECT ` + entitlementColumns + ` FROM entitlement_snapshots WHERE user_id = $1`
	row, err := pickRow(ctx, r.pool, tx, q, userID)
	if err != nil {
		return nil, err
	}
	return scanEntitlement(row)
}

// Replace swaps the dataset with a single bulk insert over unnested arrays.
// Callers pass a transaction so readers never observe the empty table.
func (r *snapshotRepo) Replace(ctx context.Context, tx repository.Tx, records []*model.UserEntitlementStatus) error {
	if _, err := execSQL(ctx, r.pool, tx, `DELETE FROM entitlement_snapshots`); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	var (
		users     = make([]string, len(records))
		premium   = make([]bool, len(records))
		sources   = make([]string, len(records))
		activated = make([]time.Time, len(records))
		expires   = make([]time.Time, len(records))
		tiers     = make([]string, len(records))
	)
	for i, rec := range records {
		users[i] = rec.UserID
		premium[i] = rec.IsPremium
		sources[i] = rec.SourceCodeID
		activated[i] = rec.ActivatedAt
		expires[i] = rec.ExpiresAt
		tiers[i] = string(rec.Tier)
	}
	const q = `
INSERT INTO entitlement_snapshots (user_id, is_premium, source_code_id, activated_at, expires_at, tier)
SELECT u, p, NULLIF(s, ''), a, e, t
  FROM unnest($1::text[], $2::bool[], $3::text[], $4::timestamptz[], $5::timestamptz[], $6::text[])
       AS x(u, p, s, a, e, t);
`
	_, err := execSQL(ctx, r.pool, tx, q, users, premium, sources, activated, expires, tiers)
	return err
}

func listEntitlements(ctx context.Context, pool *pgxpool.Pool, tx repository.Tx, q string, args ...interface{}) ([]*model.UserEntitlementStatus, error) {
	rows, err := queryRows(ctx, pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.UserEntitlementStatus
	for rows.Next() {
		s, err := scanEntitlement(rows)
		if errors.Is(err, domain.ErrCorruptRecord) {
			continue
		}
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

func scanEntitlement(row rowScanner) (*model.UserEntitlementStatus, error) {
	var (
		s    model.UserEntitlementStatus
		tier string
	)
	err := row.Scan(&s.UserID, &s.IsPremium, &s.SourceCodeID, &s.ActivatedAt, &s.ExpiresAt, &tier)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	if tier != "" {
		k, err := model.ParseCodeKind(tier)
		if err != nil {
			return nil, domain.ErrCorruptRecord
		}
		s.Tier = k
	}
	return &s, nil
}
