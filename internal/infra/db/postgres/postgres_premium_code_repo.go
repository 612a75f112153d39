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

// Ensure implementation satisfies the interface.
var _ repository.CodeRepository = (*premiumCodeRepo)(nil)

type premiumCodeRepo struct {
	pool *pgxpool.Pool
}

func NewPremiumCodeRepo(pool *pgxpool.Pool) repository.CodeRepository {
	return &premiumCodeRepo{pool: pool}
}

const premiumCodeColumns = `id, code, kind, issued_at, valid_from, valid_until, is_active, issued_by,
       redeemed_by, redeemed_at, is_activation_relative, custom_validity_days`

// Save creates or replaces a code. Redemption lists are written whole; callers
// serialise concurrent redemptions of the same code with an advisory lock.
func (r *premiumCodeRepo) Save(ctx context.Context, tx repository.Tx, code *model.PremiumCode) error {
	if err := code.Validate(); err != nil {
		return err
	}
	const q = `
INSERT INTO premium_codes (` + premiumCodeColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (id) DO UPDATE SET
  is_active = EXCLUDED.is_active,
  valid_from = EXCLUDED.valid_from,
  valid_until = EXCLUDED.valid_until,
  redeemed_by = EXCLUDED.redeemed_by,
  redeemed_at = EXCLUDED.redeemed_at,
  custom_validity_days = EXCLUDED.custom_validity_days;
`
	redeemedBy := code.RedeemedBy
	if redeemedBy == nil {
		redeemedBy = []string{}
	}
	redeemedAt := code.RedeemedAt
	if redeemedAt == nil {
		redeemedAt = []time.Time{}
	}
	_, err := execSQL(ctx, r.pool, tx, q,
		code.ID, code.Code, string(code.Kind), code.IssuedAt, code.ValidFrom, code.ValidUntil, code.IsActive, code.IssuedBy,
		redeemedBy, redeemedAt, code.IsActivationRelative, code.CustomValidityDays,
	)
	return err
}

func (r *premiumCodeRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PremiumCode, error) {
	q := `SELECT ` + premiumCodeColumns + ` FROM premium_codes WHERE id = $1` + lockClause(tx)
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanPremiumCode(row)
}

// FindActiveByCode returns the most recently issued enabled code with that string.
func (r *premiumCodeRepo) FindActiveByCode(ctx context.Context, tx repository.Tx, code string) (*model.PremiumCode, error) {
	q := `
SELECT ` + premiumCodeColumns + `
  FROM premium_codes
 WHERE code = $1 AND is_active
 ORDER BY issued_at DESC, id DESC
 LIMIT 1` + lockClause(tx)
	row, err := pickRow(ctx, r.pool, tx, q, code)
	if err != nil {
		return nil, err
	}
	return scanPremiumCode(row)
}

func (r *premiumCodeRepo) FindByIDs(ctx context.Context, tx repository.Tx, ids []string) ([]*model.PremiumCode, error) {
	if len(ids) == 0 {
		return []*model.PremiumCode{}, nil
	}
	q := `SELECT ` + premiumCodeColumns + ` FROM premium_codes WHERE id = ANY($1) ORDER BY id` + lockClause(tx)
	return r.list(ctx, tx, q, ids)
}

func (r *premiumCodeRepo) FindByRedeemer(ctx context.Context, tx repository.Tx, userID string) ([]*model.PremiumCode, error) {
	q := `
SELECT ` + premiumCodeColumns + `
  FROM premium_codes
 WHERE redeemed_by @> ARRAY[$1::text]
 ORDER BY id` + lockClause(tx)
	return r.list(ctx, tx, q, userID)
}

func (r *premiumCodeRepo) ListAll(ctx context.Context, tx repository.Tx) ([]*model.PremiumCode, error) {
	const q = `SELECT ` + premiumCodeColumns + ` FROM premium_codes ORDER BY issued_at DESC, id DESC`
	return r.list(ctx, tx, q)
}

func (r *premiumCodeRepo) DeleteByIDs(ctx context.Context, tx repository.Tx, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := execSQL(ctx, r.pool, tx, `DELETE FROM premium_codes WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *premiumCodeRepo) list(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.PremiumCode, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.PremiumCode
	for rows.Next() {
		c, err := scanPremiumCode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func scanPremiumCode(row rowScanner) (*model.PremiumCode, error) {
	var (
		c    model.PremiumCode
		kind string
	)
	err := row.Scan(
		&c.ID, &c.Code, &kind, &c.IssuedAt, &c.ValidFrom, &c.ValidUntil, &c.IsActive, &c.IssuedBy,
		&c.RedeemedBy, &c.RedeemedAt, &c.IsActivationRelative, &c.CustomValidityDays,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	c.Kind = model.CodeKind(kind)
	if len(c.RedeemedBy) != len(c.RedeemedAt) {
		return nil, domain.ErrCorruptRecord
	}
	return &c, nil
}
