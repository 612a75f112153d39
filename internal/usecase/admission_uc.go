package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"premium-access/internal/domain/model"
	"premium-access/internal/domain/ports/repository"
	"premium-access/internal/infra/logging"
	"premium-access/internal/infra/metrics"
)

// Compile-time check
var _ AdmissionUseCase = (*admissionUC)(nil)

type AdmissionOutcome string

const (
	Admitted AdmissionOutcome = "admitted"
	Rejected AdmissionOutcome = "rejected"
)

// AdmissionDecision is the outcome of a login admission check. Rejection is an
// expected result, not an error; Sessions then lists the devices holding a slot.
type AdmissionDecision struct {
	Outcome     AdmissionOutcome
	Tier        model.CodeKind
	Managed     bool
	Cap         int
	KnownDevice bool
	Sessions    []*model.DeviceSession
}

func (d *AdmissionDecision) Admitted() bool { return d.Outcome == Admitted }

// Err converts a rejection into a *model.DeviceCapError for transport layers.
func (d *AdmissionDecision) Err() error {
	if d.Admitted() {
		return nil
	}
	return &model.DeviceCapError{Tier: d.Tier, Cap: d.Cap, Sessions: d.Sessions}
}

type LoginRequest struct {
	UserID     string
	DeviceID   string
	DeviceInfo map[string]string
}

type LoginResult struct {
	Decision *AdmissionDecision
	Status   *model.UserEntitlementStatus
	// Session is set when a session-managed login was admitted.
	Session *model.DeviceSession
}

// AdmissionUseCase decides whether a device may open a session.
type AdmissionUseCase interface {
	ValidateLogin(ctx context.Context, userID string, tier model.CodeKind, deviceID string, now time.Time) (*AdmissionDecision, error)
	// Login resolves the user's tier, validates the device and records the
	// session atomically with respect to other logins of the same user.
	Login(ctx context.Context, req LoginRequest, now time.Time) (*LoginResult, error)
}

type admissionUC struct {
	entitlements EntitlementUseCase
	ledger       DeviceSessionUseCase
	sessions     repository.SessionRepository
	tm           repository.TransactionManager
	locker       repository.KeyLocker
	log          *zerolog.Logger
}

func NewAdmissionUseCase(
	entitlements EntitlementUseCase,
	ledger DeviceSessionUseCase,
	sessions repository.SessionRepository,
	tm repository.TransactionManager,
	locker repository.KeyLocker,
	logger *zerolog.Logger,
) *admissionUC {
	return &admissionUC{
		entitlements: entitlements,
		ledger:       ledger,
		sessions:     sessions,
		tm:           tm,
		locker:       locker,
		log:          logger,
	}
}

// evaluateAdmission applies the cap to the user's active-flag sessions.
// Every active-flag session counts, not only the recently seen ones.
func evaluateAdmission(tier model.CodeKind, deviceID string, sessions []*model.DeviceSession) *AdmissionDecision {
	limit, managed := model.DeviceCap(tier)
	d := &AdmissionDecision{Outcome: Admitted, Tier: tier, Managed: managed, Cap: limit}
	if !managed {
		return d
	}

	active := make([]*model.DeviceSession, 0, len(sessions))
	for _, s := range sessions {
		if !s.IsActive {
			continue
		}
		if s.DeviceID == deviceID {
			d.KnownDevice = true
		}
		active = append(active, s)
	}
	if d.KnownDevice || len(active) < limit {
		return d
	}
	d.Outcome = Rejected
	d.Sessions = active
	return d
}

func (a *admissionUC) ValidateLogin(ctx context.Context, userID string, tier model.CodeKind, deviceID string, now time.Time) (*AdmissionDecision, error) {
	if err := requireSessionKey(userID, deviceID); err != nil {
		return nil, err
	}
	if _, err := a.ledger.Sweep(ctx, now); err != nil {
		return nil, err
	}
	if _, managed := model.DeviceCap(tier); !managed {
		return evaluateAdmission(tier, deviceID, nil), nil
	}
	sessions, err := a.sessions.ListByUser(ctx, repository.NoTX, userID)
	if err != nil {
		return nil, err
	}
	return evaluateAdmission(tier, deviceID, sessions), nil
}

func (a *admissionUC) Login(ctx context.Context, req LoginRequest, now time.Time) (*LoginResult, error) {
	defer logging.TraceDuration(a.log, "Admission.Login")()

	if err := requireSessionKey(req.UserID, req.DeviceID); err != nil {
		return nil, err
	}
	status, err := a.entitlements.Resolve(ctx, req.UserID, now)
	if err != nil {
		return nil, fmt.Errorf("resolve entitlement: %w", err)
	}
	var tier model.CodeKind
	if status.ActiveAt(now) {
		tier = status.Tier
	}

	if _, err := a.ledger.Sweep(ctx, now); err != nil {
		return nil, err
	}

	res := &LoginResult{Status: status}
	err = a.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		if _, managed := model.DeviceCap(tier); !managed {
			res.Decision = evaluateAdmission(tier, req.DeviceID, nil)
			return nil
		}
		if err := a.locker.LockKey(ctx, tx, userLockKey(req.UserID)); err != nil {
			return err
		}
		sessions, err := a.sessions.ListByUser(ctx, tx, req.UserID)
		if err != nil {
			return err
		}
		res.Decision = evaluateAdmission(tier, req.DeviceID, sessions)
		if !res.Decision.Admitted() {
			return nil
		}
		res.Session, err = upsertSession(ctx, tx, a.sessions, req.UserID, req.DeviceID, req.DeviceInfo, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	outcome := string(res.Decision.Outcome)
	if !res.Decision.Managed {
		outcome = "unmanaged"
	}
	metrics.IncAdmission(string(tier), outcome)

	log := logging.With(logging.WithDeviceID(logging.WithUserID(ctx, req.UserID), req.DeviceID), a.log)
	if res.Decision.Admitted() {
		log.Info().Str("tier", string(tier)).Bool("known_device", res.Decision.KnownDevice).Msg("login admitted")
	} else {
		log.Warn().Str("tier", string(tier)).Int("cap", res.Decision.Cap).Msg("login rejected: device cap reached")
	}
	return res, nil
}
