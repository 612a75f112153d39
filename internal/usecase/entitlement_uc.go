package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"premium-access/internal/domain"
	"premium-access/internal/domain/model"
	"premium-access/internal/domain/policy"
	"premium-access/internal/domain/ports/repository"
	"premium-access/internal/infra/logging"
	"premium-access/internal/infra/metrics"
)

// Compile-time check
var _ EntitlementUseCase = (*entitlementUC)(nil)

// ResolutionSource names where Resolve found the user's status.
type ResolutionSource string

const (
	SourceCache    ResolutionSource = "cache"
	SourceSnapshot ResolutionSource = "snapshot"
	SourceCodes    ResolutionSource = "codes"
	SourceNone     ResolutionSource = "none"
)

type ReconcileReport struct {
	Scanned  int `json:"scanned"`
	Expired  int `json:"expired"`
	Orphaned int `json:"orphaned"`
	Repaired int `json:"repaired"`
}

// EntitlementUseCase derives and maintains per-user premium status.
type EntitlementUseCase interface {
	Resolve(ctx context.Context, userID string, now time.Time) (*model.UserEntitlementStatus, error)
	// Revoke drops the cached status only. Redemption history is kept.
	Revoke(ctx context.Context, userID string) error
	// RevokeAllCodesForUser erases userID from every code and drops the cache.
	RevokeAllCodesForUser(ctx context.Context, userID string) (int, error)
	Reconcile(ctx context.Context, now time.Time) (*ReconcileReport, error)
	ImportSnapshot(ctx context.Context, records []*model.UserEntitlementStatus) (int, error)
	ExportSnapshot(ctx context.Context, now time.Time) ([]*model.UserEntitlementStatus, error)
}

type entitlementUC struct {
	codes     repository.CodeRepository
	cache     repository.EntitlementCacheRepository
	snapshots repository.SnapshotRepository
	tm        repository.TransactionManager
	locker    repository.KeyLocker
	log       *zerolog.Logger
}

func NewEntitlementUseCase(
	codes repository.CodeRepository,
	cache repository.EntitlementCacheRepository,
	snapshots repository.SnapshotRepository,
	tm repository.TransactionManager,
	locker repository.KeyLocker,
	logger *zerolog.Logger,
) *entitlementUC {
	return &entitlementUC{
		codes:     codes,
		cache:     cache,
		snapshots: snapshots,
		tm:        tm,
		locker:    locker,
		log:       logger,
	}
}

// Resolve returns the user's current status. A missing, expired or corrupt
// cache entry falls back to the snapshot and then to the redemption history,
// repairing the cache when either yields an unexpired entitlement.
func (e *entitlementUC) Resolve(ctx context.Context, userID string, now time.Time) (*model.UserEntitlementStatus, error) {
	defer logging.TraceDuration(e.log, "Entitlement.Resolve")()

	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidArgument)
	}
	log := logging.With(logging.WithUserID(ctx, userID), e.log)

	cached, err := e.cache.Get(ctx, repository.NoTX, userID)
	switch {
	case err == nil:
		if cached.ActiveAt(now) {
			metrics.IncResolution(string(SourceCache))
			return cached, nil
		}
		if err := e.cache.Delete(ctx, repository.NoTX, userID); err != nil {
			return nil, err
		}
		metrics.AddRevocations("expired", 1)
		log.Debug().Time("expires_at", cached.ExpiresAt).Msg("dropped expired entitlement")
	case errors.Is(err, domain.ErrCorruptRecord):
		log.Warn().Err(err).Msg("corrupt entitlement cache entry, treating as absent")
		if err := e.cache.Delete(ctx, repository.NoTX, userID); err != nil {
			return nil, err
		}
	case errors.Is(err, domain.ErrNotFound):
	default:
		return nil, err
	}

	status, source, err := e.repair(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	if status == nil {
		metrics.IncResolution(string(SourceNone))
		return model.NotPremium(userID), nil
	}
	metrics.IncResolution(string(source))
	log.Info().Str("source", string(source)).Time("expires_at", status.ExpiresAt).Msg("entitlement cache repaired")
	return status, nil
}

// repair rebuilds the cache entry of userID from the snapshot or the
// redemption history. It runs under the user lock and reads source codes with
// row locks, so a concurrent Delete either commits first and is not seen, or
// waits and then removes the entry written here.
func (e *entitlementUC) repair(ctx context.Context, userID string, now time.Time) (*model.UserEntitlementStatus, ResolutionSource, error) {
	var (
		status *model.UserEntitlementStatus
		source ResolutionSource
	)
	err := e.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		status, source = nil, SourceNone
		if err := e.locker.LockKey(ctx, tx, userLockKey(userID)); err != nil {
			return err
		}
		st, err := e.fromSnapshot(ctx, tx, userID, now)
		if err != nil {
			return err
		}
		src := SourceSnapshot
		if st == nil {
			if st, err = e.fromCodes(ctx, tx, userID, now); err != nil {
				return err
			}
			src = SourceCodes
		}
		if st == nil {
			return nil
		}
		if err := e.cache.Put(ctx, tx, st); err != nil {
			return err
		}
		status, source = st, src
		return nil
	})
	if err != nil {
		return nil, SourceNone, err
	}
	return status, source, nil
}

// fromSnapshot returns an unexpired snapshot record for userID, or nil.
// A record naming a source code is only trusted while that code still lists the user.
func (e *entitlementUC) fromSnapshot(ctx context.Context, tx repository.Tx, userID string, now time.Time) (*model.UserEntitlementStatus, error) {
	rec, err := e.snapshots.FindByUser(ctx, tx, userID)
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrCorruptRecord) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !rec.ActiveAt(now) {
		return nil, nil
	}
	if rec.SourceCodeID != "" {
		code, err := e.codes.FindByID(ctx, tx, rec.SourceCodeID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if !grants(code, userID) {
			return nil, nil
		}
	}
	rec.UserID = userID
	return rec, nil
}

// fromCodes rebuilds the status from redemption history, picking the
// redemption whose personal expiry is furthest away.
func (e *entitlementUC) fromCodes(ctx context.Context, tx repository.Tx, userID string, now time.Time) (*model.UserEntitlementStatus, error) {
	codes, err := e.codes.FindByRedeemer(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	return bestEntitlement(userID, codes, now), nil
}

// grants reports whether code still backs an entitlement of userID.
func grants(code *model.PremiumCode, userID string) bool {
	return code != nil && code.IsActive && code.HasRedeemed(userID)
}

func bestEntitlement(userID string, codes []*model.PremiumCode, now time.Time) *model.UserEntitlementStatus {
	var best *model.UserEntitlementStatus
	for _, code := range codes {
		if !code.IsActive {
			continue
		}
		i := code.RedemptionIndex(userID)
		if i < 0 || i >= len(code.RedeemedAt) {
			continue
		}
		redeemedAt := code.RedeemedAt[i]
		expires := policy.PersonalExpiry(code, redeemedAt)
		if !expires.After(now) {
			continue
		}
		if best == nil || expires.After(best.ExpiresAt) {
			best = &model.UserEntitlementStatus{
				UserID:       userID,
				IsPremium:    true,
				SourceCodeID: code.ID,
				ActivatedAt:  redeemedAt,
				ExpiresAt:    expires,
				Tier:         code.Kind,
			}
		}
	}
	return best
}

func (e *entitlementUC) Revoke(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", domain.ErrInvalidArgument)
	}
	if err := e.cache.Delete(ctx, repository.NoTX, userID); err != nil {
		return err
	}
	metrics.AddRevocations("admin", 1)
	e.log.Info().Str("user_id", userID).Msg("entitlement revoked")
	return nil
}

func (e *entitlementUC) RevokeAllCodesForUser(ctx context.Context, userID string) (int, error) {
	defer logging.TraceDuration(e.log, "Entitlement.RevokeAllCodesForUser")()

	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", domain.ErrInvalidArgument)
	}
	touched := 0
	err := e.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		if err := e.locker.LockKey(ctx, tx, userLockKey(userID)); err != nil {
			return err
		}
		codes, err := e.codes.FindByRedeemer(ctx, tx, userID)
		if err != nil {
			return err
		}
		for _, code := range codes {
			if !code.RemoveRedemption(userID) {
				continue
			}
			if err := e.codes.Save(ctx, tx, code); err != nil {
				return err
			}
			touched++
		}
		return e.cache.Delete(ctx, tx, userID)
	})
	if err != nil {
		return 0, err
	}
	metrics.AddRevocations("erase", 1)
	e.log.Info().Str("user_id", userID).Int("codes", touched).Msg("redemption history erased")
	return touched, nil
}

// Reconcile drops expired and orphaned cache entries and writes the missing
// ones from redemption history. Existing valid entries are left alone, so
// running it twice is a no-op. Users needing a change are locked in id order
// and their codes re-read with row locks before anything is written.
func (e *entitlementUC) Reconcile(ctx context.Context, now time.Time) (*ReconcileReport, error) {
	defer logging.TraceDuration(e.log, "Entitlement.Reconcile")()

	rep := &ReconcileReport{}
	err := e.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		*rep = ReconcileReport{}

		codes, err := e.codes.ListAll(ctx, tx)
		if err != nil {
			return err
		}
		rep.Scanned = len(codes)
		cached, err := e.cache.List(ctx, tx)
		if err != nil {
			return err
		}

		users, codeIDs := reconcileCandidates(codes, cached, now)
		if len(users) > 0 {
			if err := e.reconcileUsers(ctx, tx, users, codeIDs, now, rep); err != nil {
				return err
			}
		}

		expired, err := e.cache.DeleteExpired(ctx, tx, now)
		if err != nil {
			return err
		}
		rep.Expired = expired
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.AddRevocations("expired", rep.Expired)
	metrics.AddRevocations("orphaned", rep.Orphaned)
	metrics.AddReconcileRepairs(rep.Repaired)
	e.log.Info().
		Int("codes", rep.Scanned).
		Int("expired", rep.Expired).
		Int("orphaned", rep.Orphaned).
		Int("repaired", rep.Repaired).
		Msg("entitlement cache reconciled")
	return rep, nil
}

// reconcileCandidates returns, sorted, the users whose cache entry is missing,
// expired or no longer backed by its source code, plus the ids of every code
// that must be re-read for them.
func reconcileCandidates(codes []*model.PremiumCode, cached []*model.UserEntitlementStatus, now time.Time) ([]string, []string) {
	byID := make(map[string]*model.PremiumCode, len(codes))
	byUser := make(map[string][]string)
	for _, code := range codes {
		byID[code.ID] = code
		for _, u := range code.RedeemedBy {
			byUser[u] = append(byUser[u], code.ID)
		}
	}

	healthy := make(map[string]struct{}, len(cached))
	candidates := make(map[string]struct{})
	ids := make(map[string]struct{})
	for _, st := range cached {
		if st.SourceCodeID != "" && !grants(byID[st.SourceCodeID], st.UserID) {
			candidates[st.UserID] = struct{}{}
			ids[st.SourceCodeID] = struct{}{}
			continue
		}
		if st.ActiveAt(now) {
			healthy[st.UserID] = struct{}{}
		}
	}
	for u := range byUser {
		if _, ok := healthy[u]; !ok {
			candidates[u] = struct{}{}
		}
	}

	users := make([]string, 0, len(candidates))
	for u := range candidates {
		users = append(users, u)
		for _, id := range byUser[u] {
			ids[id] = struct{}{}
		}
	}
	sort.Strings(users)
	codeIDs := make([]string, 0, len(ids))
	for id := range ids {
		codeIDs = append(codeIDs, id)
	}
	sort.Strings(codeIDs)
	return users, codeIDs
}

func (e *entitlementUC) reconcileUsers(ctx context.Context, tx repository.Tx, users, codeIDs []string, now time.Time, rep *ReconcileReport) error {
	for _, u := range users {
		if err := e.locker.LockKey(ctx, tx, userLockKey(u)); err != nil {
			return err
		}
	}
	locked, err := e.codes.FindByIDs(ctx, tx, codeIDs)
	if err != nil {
		return err
	}
	byID := make(map[string]*model.PremiumCode, len(locked))
	for _, code := range locked {
		byID[code.ID] = code
	}

	for _, u := range users {
		cur, err := e.cache.Get(ctx, tx, u)
		switch {
		case err == nil:
			if cur.SourceCodeID != "" && !grants(byID[cur.SourceCodeID], u) {
				if err := e.cache.Delete(ctx, tx, u); err != nil {
					return err
				}
				rep.Orphaned++
			} else if cur.ActiveAt(now) {
				continue
			}
		case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrCorruptRecord):
		default:
			return err
		}

		var mine []*model.PremiumCode
		for _, code := range locked {
			if code.HasRedeemed(u) {
				mine = append(mine, code)
			}
		}
		status := bestEntitlement(u, mine, now)
		if status == nil {
			continue
		}
		if err := e.cache.Put(ctx, tx, status); err != nil {
			return err
		}
		rep.Repaired++
	}
	return nil
}

func (e *entitlementUC) ImportSnapshot(ctx context.Context, records []*model.UserEntitlementStatus) (int, error) {
	seen := make(map[string]struct{}, len(records))
	for i, rec := range records {
		if rec == nil || rec.UserID == "" {
			return 0, fmt.Errorf("%w: record %d has no user id", domain.ErrInvalidArgument, i)
		}
		if _, dup := seen[rec.UserID]; dup {
			return 0, fmt.Errorf("%w: duplicate record for user %s", domain.ErrInvalidArgument, rec.UserID)
		}
		seen[rec.UserID] = struct{}{}
		if rec.Tier != "" {
			if _, err := model.ParseCodeKind(string(rec.Tier)); err != nil {
				return 0, err
			}
		}
	}

	err := e.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		return e.snapshots.Replace(ctx, tx, records)
	})
	if err != nil {
		return 0, err
	}
	e.log.Info().Int("records", len(records)).Msg("entitlement snapshot imported")
	return len(records), nil
}

// ExportSnapshot returns the cache entries still active at now.
func (e *entitlementUC) ExportSnapshot(ctx context.Context, now time.Time) ([]*model.UserEntitlementStatus, error) {
	all, err := e.cache.List(ctx, repository.NoTX)
	if err != nil {
		return nil, err
	}
	out := make([]*model.UserEntitlementStatus, 0, len(all))
	for _, st := range all {
		if st.ActiveAt(now) {
			out = append(out, st)
		}
	}
	return out, nil
}
