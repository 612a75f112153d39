//go:build !integration

package usecase_test

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"premium-access/internal/domain/model"
	"premium-access/internal/domain/ports/repository"
	"premium-access/internal/infra/memory"
	"premium-access/internal/usecase"
)

// -----------------------------
// Utilities: tiny helpers
// -----------------------------

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

func intPtr(n int) *int { return &n }

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// sequentialCodes yields ABCDEFGH0001, ABCDEFGH0002, ...
func sequentialCodes() func() (string, error) {
	var mu sync.Mutex
	n := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("ABCDEFGH%04d", n), nil
	}
}

// =============================
// Repositories
// =============================

// ---- MockTxManager ----

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

// WithTx runs fn immediately without a real transaction unless WithTxFunc is set.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, nil)
}

// ---- MockKeyLocker ----

type MockKeyLocker struct {
	mu   sync.Mutex
	Keys []string

	LockKeyFunc func(ctx context.Context, tx repository.Tx, key string) error
}

var _ repository.KeyLocker = (*MockKeyLocker)(nil)

func (m *MockKeyLocker) LockKey(ctx context.Context, tx repository.Tx, key string) error {
	m.mu.Lock()
	m.Keys = append(m.Keys, key)
	m.mu.Unlock()
	if m.LockKeyFunc != nil {
		return m.LockKeyFunc(ctx, tx, key)
	}
	return nil
}

// ---- MockEntitlementCache ----

// MockEntitlementCache delegates to the in-memory repo unless a Func is set.
type MockEntitlementCache struct {
	*memory.EntitlementRepo

	GetFunc func(ctx context.Context, tx repository.Tx, userID string) (*model.UserEntitlementStatus, error)
	PutFunc func(ctx context.Context, tx repository.Tx, status *model.UserEntitlementStatus) error
}

func NewMockEntitlementCache() *MockEntitlementCache {
	return &MockEntitlementCache{EntitlementRepo: memory.NewEntitlementRepo()}
}

func (m *MockEntitlementCache) Get(ctx context.Context, tx repository.Tx, userID string) (*model.UserEntitlementStatus, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, tx, userID)
	}
	return m.EntitlementRepo.Get(ctx, tx, userID)
}

func (m *MockEntitlementCache) Put(ctx context.Context, tx repository.Tx, status *model.UserEntitlementStatus) error {
	if m.PutFunc != nil {
		return m.PutFunc(ctx, tx, status)
	}
	return m.EntitlementRepo.Put(ctx, tx, status)
}

// ---- MockCodeRepo ----

// MockCodeRepo delegates to the in-memory repo unless a Func is set.
type MockCodeRepo struct {
	*memory.CodeRepo

	FindByRedeemerFunc func(ctx context.Context, tx repository.Tx, userID string) ([]*model.PremiumCode, error)
}

func (m *MockCodeRepo) FindByRedeemer(ctx context.Context, tx repository.Tx, userID string) ([]*model.PremiumCode, error) {
	if m.FindByRedeemerFunc != nil {
		return m.FindByRedeemerFunc(ctx, tx, userID)
	}
	return m.CodeRepo.FindByRedeemer(ctx, tx, userID)
}

// =============================
// Fixture
// =============================

type fixture struct {
	codes    *memory.CodeRepo
	cache    *MockEntitlementCache
	snaps    *memory.SnapshotRepo
	sessions *memory.SessionRepo
	tm       *memory.TxManager

	registry  usecase.CodeRegistryUseCase
	ent       usecase.EntitlementUseCase
	ledger    usecase.DeviceSessionUseCase
	admission usecase.AdmissionUseCase
}

func newFixture() *fixture {
	f := &fixture{
		codes:    memory.NewCodeRepo(),
		cache:    NewMockEntitlementCache(),
		snaps:    memory.NewSnapshotRepo(),
		sessions: memory.NewSessionRepo(),
		tm:       memory.NewTxManager(),
	}
	log := newTestLogger()
	f.registry = usecase.NewCodeRegistryUseCase(f.codes, f.cache, f.tm, f.tm, log)
	usecase.SetCodeGenerator(f.registry, sequentialCodes())
	f.ent = usecase.NewEntitlementUseCase(f.codes, f.cache, f.snaps, f.tm, f.tm, log)
	f.ledger = usecase.NewDeviceSessionUseCase(f.sessions, f.tm, f.tm, usecase.DefaultSessionWindows(), log)
	f.admission = usecase.NewAdmissionUseCase(f.ent, f.ledger, f.sessions, f.tm, f.tm, log)
	return f
}

// issue generates a code of kind at t0 and fails the test on error.
func (f *fixture) issue(t *testing.T, kind model.CodeKind, customDays *int) *model.PremiumCode {
	t.Helper()
	c, err := f.registry.Generate(context.Background(), usecase.GenerateCodeRequest{
		Issuer:     "admin@example.com",
		Kind:       kind,
		CustomDays: customDays,
	}, t0)
	if err != nil {
		t.Fatalf("generate %s: %v", kind, err)
	}
	return c
}
