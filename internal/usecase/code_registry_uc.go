package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"premium-access/internal/domain"
	"premium-access/internal/domain/model"
	"premium-access/internal/domain/policy"
	"premium-access/internal/domain/ports/repository"
	"premium-access/internal/infra/logging"
	"premium-access/internal/infra/metrics"
)

// Compile-time check
var _ CodeRegistryUseCase = (*codeRegistryUC)(nil)

// GenerateCodeRequest describes a code to issue. Start and End override the
// kind's default nominal window; CustomDays only applies to activation-relative kinds.
type GenerateCodeRequest struct {
	Issuer     string
	Kind       model.CodeKind
	Start      *time.Time
	End        *time.Time
	CustomDays *int
}

type ActivationResult struct {
	Code   *model.PremiumCode
	Status *model.UserEntitlementStatus
}

type DeleteResult struct {
	DeletedCount    int
	AffectedUserIDs []string
}

type CodeStats struct {
	TotalCodes       int `json:"total_codes"`
	ActiveCodes      int `json:"active_codes"`
	RedeemedCodes    int `json:"redeemed_codes"`
	ExpiredCodes     int `json:"expired_codes"`
	TotalRedemptions int `json:"total_redemptions"`
}

// CodeRegistryUseCase owns issuance, redemption and removal of premium codes.
type CodeRegistryUseCase interface {
	Generate(ctx context.Context, req GenerateCodeRequest, now time.Time) (*model.PremiumCode, error)
	ListActive(ctx context.Context, now time.Time) ([]*model.PremiumCode, error)
	ListAll(ctx context.Context) ([]*model.PremiumCode, error)
	Activate(ctx context.Context, code, userID string, now time.Time) (*ActivationResult, error)
	Delete(ctx context.Context, ids []string) (*DeleteResult, error)
	Stats(ctx context.Context, now time.Time) (*CodeStats, error)
	FindActiveInscriptionCode(ctx context.Context, now time.Time) (*model.PremiumCode, error)
	// GrantTrial redeems the current inscription code for a new user.
	// It returns a nil result when no inscription code is available.
	GrantTrial(ctx context.Context, userID string, now time.Time) (*ActivationResult, error)
}

type codeRegistryUC struct {
	codes   repository.CodeRepository
	cache   repository.EntitlementCacheRepository
	tm      repository.TransactionManager
	locker  repository.KeyLocker
	newCode codeGenerator
	log     *zerolog.Logger
}

func NewCodeRegistryUseCase(
	codes repository.CodeRepository,
	cache repository.EntitlementCacheRepository,
	tm repository.TransactionManager,
	locker repository.KeyLocker,
	logger *zerolog.Logger,
) *codeRegistryUC {
	return &codeRegistryUC{
		codes:   codes,
		cache:   cache,
		tm:      tm,
		locker:  locker,
		newCode: generatePremiumCode,
		log:     logger,
	}
}

func (c *codeRegistryUC) Generate(ctx context.Context, req GenerateCodeRequest, now time.Time) (*model.PremiumCode, error) {
	defer logging.TraceDuration(c.log, "CodeRegistry.Generate")()

	kind, err := model.ParseCodeKind(string(req.Kind))
	if err != nil {
		return nil, err
	}
	issuer := strings.TrimSpace(req.Issuer)
	if issuer == "" {
		return nil, fmt.Errorf("%w: issuer is required", domain.ErrInvalidArgument)
	}
	if req.CustomDays != nil && *req.CustomDays <= 0 {
		return nil, fmt.Errorf("%w: custom validity days must be positive", domain.ErrInvalidArgument)
	}

	start, end := policy.ComputeValidity(kind, req.Start, req.End, req.CustomDays, now)
	if !end.After(start) {
		return nil, fmt.Errorf("%w: validity window ends before it starts", domain.ErrInvalidArgument)
	}

	str, err := c.newCode()
	if err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}

	code := &model.PremiumCode{
		ID:                   ulid.Make().String(),
		Code:                 str,
		Kind:                 kind,
		IssuedAt:             now,
		ValidFrom:            start,
		ValidUntil:           end,
		IsActive:             true,
		IssuedBy:             issuer,
		RedeemedBy:           []string{},
		RedeemedAt:           []time.Time{},
		IsActivationRelative: kind.IsActivationRelative(),
	}
	if code.IsActivationRelative && req.CustomDays != nil {
		d := *req.CustomDays
		code.CustomValidityDays = &d
	}

	if err := c.codes.Save(ctx, repository.NoTX, code); err != nil {
		c.log.Error().Err(err).Str("kind", string(kind)).Msg("failed to save premium code")
		return nil, err
	}
	metrics.IncCodeGenerated(string(kind))
	c.log.Info().
		Str("code_id", code.ID).
		Str("kind", string(kind)).
		Str("issuer", issuer).
		Time("valid_until", code.ValidUntil).
		Msg("premium code issued")
	return code, nil
}

func (c *codeRegistryUC) ListActive(ctx context.Context, now time.Time) ([]*model.PremiumCode, error) {
	all, err := c.codes.ListAll(ctx, repository.NoTX)
	if err != nil {
		return nil, err
	}
	out := make([]*model.PremiumCode, 0, len(all))
	for _, code := range all {
		if code.TemporallyActive(now) {
			out = append(out, code)
		}
	}
	return out, nil
}

func (c *codeRegistryUC) ListAll(ctx context.Context) ([]*model.PremiumCode, error) {
	return c.codes.ListAll(ctx, repository.NoTX)
}

func (c *codeRegistryUC) Activate(ctx context.Context, raw, userID string, now time.Time) (*ActivationResult, error) {
	defer logging.TraceDuration(c.log, "CodeRegistry.Activate")()

	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidArgument)
	}
	str := model.NormalizeCode(raw)
	if !model.IsWellFormedCode(str) {
		metrics.IncCodeActivation("", activationOutcome(domain.ErrCodeNotFound))
		return nil, domain.ErrCodeNotFound
	}

	var (
		res  *ActivationResult
		kind model.CodeKind
	)
	err := c.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		if err := c.locker.LockKey(ctx, tx, userLockKey(userID)); err != nil {
			return err
		}
		if err := c.locker.LockKey(ctx, tx, codeLockKey(str)); err != nil {
			return err
		}

		code, err := c.codes.FindActiveByCode(ctx, tx, str)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.ErrCodeNotFound
			}
			return err
		}
		kind = code.Kind

		if now.Before(code.ValidFrom) {
			return domain.ErrCodeNotYetValid
		}
		if !code.AnchoredAtRedemption() && !now.Before(code.ValidUntil) {
			return domain.ErrCodeExpired
		}
		if err := code.AddRedemption(userID, now); err != nil {
			return err
		}
		if err := c.codes.Save(ctx, tx, code); err != nil {
			return err
		}

		status := &model.UserEntitlementStatus{
			UserID:       userID,
			IsPremium:    true,
			SourceCodeID: code.ID,
			ActivatedAt:  now,
			ExpiresAt:    policy.PersonalExpiry(code, now),
			Tier:         code.Kind,
		}
		if err := c.cache.Put(ctx, tx, status); err != nil {
			return err
		}
		res = &ActivationResult{Code: code, Status: status}
		return nil
	})
	metrics.IncCodeActivation(string(kind), activationOutcome(err))
	if err != nil {
		return nil, err
	}

	logging.With(logging.WithUserID(ctx, userID), c.log).Info().
		Str("code_id", res.Code.ID).
		Str("tier", string(res.Status.Tier)).
		Time("expires_at", res.Status.ExpiresAt).
		Msg("premium code redeemed")
	return res, nil
}

func activationOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrCodeNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrCodeNotYetValid):
		return "not_yet_valid"
	case errors.Is(err, domain.ErrCodeExpired):
		return "expired"
	case errors.Is(err, domain.ErrAlreadyRedeemed):
		return "already_redeemed"
	default:
		return "error"
	}
}

// Delete removes codes and revokes the cached entitlement of every user who
// redeemed one of them, in a single transaction.
func (c *codeRegistryUC) Delete(ctx context.Context, ids []string) (*DeleteResult, error) {
	defer logging.TraceDuration(c.log, "CodeRegistry.Delete")()

	if len(ids) == 0 {
		return &DeleteResult{AffectedUserIDs: []string{}}, nil
	}

	res := &DeleteResult{}
	err := c.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		codes, err := c.codes.FindByIDs(ctx, tx, ids)
		if err != nil {
			return err
		}

		seen := make(map[string]struct{})
		users := make([]string, 0)
		for _, code := range codes {
			for _, u := range code.RedeemedBy {
				if _, ok := seen[u]; ok {
					continue
				}
				seen[u] = struct{}{}
				users = append(users, u)
			}
		}
		sort.Strings(users)

		if len(users) > 0 {
			if err := c.cache.Delete(ctx, tx, users...); err != nil {
				return err
			}
		}
		n, err := c.codes.DeleteByIDs(ctx, tx, ids)
		if err != nil {
			return err
		}
		res.DeletedCount = n
		res.AffectedUserIDs = users
		return nil
	})
	if err != nil {
		c.log.Error().Err(err).Int("requested", len(ids)).Msg("failed to delete premium codes")
		return nil, err
	}

	metrics.AddCodesDeleted(res.DeletedCount)
	metrics.AddRevocations("code_deleted", len(res.AffectedUserIDs))
	c.log.Info().
		Int("deleted", res.DeletedCount).
		Int("revoked_users", len(res.AffectedUserIDs)).
		Msg("premium codes deleted")
	return res, nil
}

func (c *codeRegistryUC) Stats(ctx context.Context, now time.Time) (*CodeStats, error) {
	all, err := c.codes.ListAll(ctx, repository.NoTX)
	if err != nil {
		return nil, err
	}
	st := &CodeStats{TotalCodes: len(all)}
	for _, code := range all {
		if code.TemporallyActive(now) {
			st.ActiveCodes++
		}
		if len(code.RedeemedBy) > 0 {
			st.RedeemedCodes++
		}
		if !code.AnchoredAtRedemption() && !code.ValidUntil.After(now) {
			st.ExpiredCodes++
		}
		st.TotalRedemptions += len(code.RedeemedBy)
	}
	metrics.SetCodeStats(st.TotalCodes, st.ActiveCodes, st.RedeemedCodes, st.ExpiredCodes)
	return st, nil
}

func (c *codeRegistryUC) FindActiveInscriptionCode(ctx context.Context, now time.Time) (*model.PremiumCode, error) {
	// ListAll is ordered by IssuedAt descending, so the first match is the newest.
	all, err := c.codes.ListAll(ctx, repository.NoTX)
	if err != nil {
		return nil, err
	}
	for _, code := range all {
		if code.Kind.IsInscription() && code.TemporallyActive(now) {
			return code, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (c *codeRegistryUC) GrantTrial(ctx context.Context, userID string, now time.Time) (*ActivationResult, error) {
	code, err := c.FindActiveInscriptionCode(ctx, now)
	if errors.Is(err, domain.ErrNotFound) {
		c.log.Debug().Str("user_id", userID).Msg("no inscription code available for trial")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c.Activate(ctx, code.Code, userID, now)
}
