//go:build !integration

package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v4"

	"premium-access/internal/domain"
	"premium-access/internal/domain/model"
	"premium-access/internal/domain/ports/repository"
)

var base = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func TestCodeRepo_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewCodeRepo()
	c := &model.PremiumCode{ID: "c1", Code: "ABCDEFGH1234", Kind: model.KindFamille, IsActive: true, IssuedAt: base}
	if err := repo.Save(ctx, nil, c); err != nil {
		t.Fatal(err)
	}

	// mutating the caller's value must not leak into the store
	_ = c.AddRedemption("u1", base)
	got, _ := repo.FindByID(ctx, nil, "c1")
	if len(got.RedeemedBy) != 0 {
		t.Fatalf("expected stored code to be isolated, got %v", got.RedeemedBy)
	}

	_ = got.AddRedemption("u2", base)
	again, _ := repo.FindByID(ctx, nil, "c1")
	if len(again.RedeemedBy) != 0 {
		t.Errorf("expected returned code to be a copy, got %v", again.RedeemedBy)
	}
}

func TestCodeRepo_FindActiveByCode(t *testing.T) {
	ctx := context.Background()
	repo := NewCodeRepo()
	_ = repo.Save(ctx, nil, &model.PremiumCode{ID: "old", Code: "ABCDEFGH1234", IsActive: true, IssuedAt: base})
	_ = repo.Save(ctx, nil, &model.PremiumCode{ID: "new", Code: "ABCDEFGH1234", IsActive: true, IssuedAt: base.Add(time.Hour)})
	_ = repo.Save(ctx, nil, &model.PremiumCode{ID: "off", Code: "ABCDEFGH1234", IsActive: false, IssuedAt: base.Add(2 * time.Hour)})

	got, err := repo.FindActiveByCode(ctx, nil, "ABCDEFGH1234")
	if err != nil || got.ID != "new" {
		t.Fatalf("expected 'new', got %+v (%v)", got, err)
	}
	if _, err := repo.FindActiveByCode(ctx, nil, "ZZZZZZZZ0000"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCodeRepo_LookupsOrderedByID(t *testing.T) {
	ctx := context.Background()
	repo := NewCodeRepo()
	late := &model.PremiumCode{ID: "a", Code: "AAAAAAAA0001", IsActive: true, IssuedAt: base.Add(time.Hour)}
	early := &model.PremiumCode{ID: "b", Code: "AAAAAAAA0002", IsActive: true, IssuedAt: base}
	_ = late.AddRedemption("u1", base)
	_ = early.AddRedemption("u1", base)
	_ = repo.Save(ctx, nil, late)
	_ = repo.Save(ctx, nil, early)

	byUser, _ := repo.FindByRedeemer(ctx, nil, "u1")
	byIDs, _ := repo.FindByIDs(ctx, nil, []string{"b", "a"})
	for name, got := range map[string][]*model.PremiumCode{"FindByRedeemer": byUser, "FindByIDs": byIDs} {
		if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
			t.Errorf("%s: expected [a b], got %v", name, got)
		}
	}
}

func TestEntitlementRepo_DeleteExpired(t *testing.T) {
	ctx := context.Background()
	repo := NewEntitlementRepo()
	_ = repo.Put(ctx, nil, &model.UserEntitlementStatus{UserID: "live", IsPremium: true, ExpiresAt: base.Add(time.Second)})
	_ = repo.Put(ctx, nil, &model.UserEntitlementStatus{UserID: "edge", IsPremium: true, ExpiresAt: base})

	n, _ := repo.DeleteExpired(ctx, nil, base)
	if n != 1 {
		t.Fatalf("expected the entry expiring exactly now to go, removed %d", n)
	}
	if _, err := repo.Get(ctx, nil, "live"); err != nil {
		t.Errorf("expected live entry to remain, got %v", err)
	}
}

func TestSnapshotRepo_ReplaceIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	repo := NewSnapshotRepo()
	_ = repo.Replace(ctx, nil, []*model.UserEntitlementStatus{{UserID: "u1"}})

	err := repo.Replace(ctx, nil, []*model.UserEntitlementStatus{{UserID: "u2"}, {UserID: ""}})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := repo.FindByUser(ctx, nil, "u1"); err != nil {
		t.Errorf("expected the previous dataset to survive a rejected replace, got %v", err)
	}
}

func TestSessionRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepo()
	_ = repo.Upsert(ctx, nil, model.NewDeviceSession("u1", "d1", map[string]string{"os": "ios"}, base))
	_ = repo.Upsert(ctx, nil, model.NewDeviceSession("u1", "d2", nil, base.Add(-48*time.Hour)))

	t.Run("touch only moves forward", func(t *testing.T) {
		_ = repo.Touch(ctx, nil, "u1", "d1", base.Add(time.Hour))
		_ = repo.Touch(ctx, nil, "u1", "d1", base.Add(time.Minute))
		s, _ := repo.Find(ctx, nil, "u1", "d1")
		if !s.LastActivityAt.Equal(base.Add(time.Hour)) {
			t.Errorf("expected +1h, got %v", s.LastActivityAt)
		}
		if err := repo.Touch(ctx, nil, "u1", "nope", base); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("sweep drops idle sessions", func(t *testing.T) {
		n, _ := repo.DeleteIdleSince(ctx, nil, base.Add(-24*time.Hour))
		if n != 1 {
			t.Fatalf("expected one swept session, got %d", n)
		}
		list, _ := repo.ListByUser(ctx, nil, "u1")
		if len(list) != 1 || list[0].DeviceID != "d1" || list[0].DeviceInfo["os"] != "ios" {
			t.Errorf("unexpected sessions %+v", list)
		}
	})

	t.Run("delete reports existence", func(t *testing.T) {
		if ok, _ := repo.Delete(ctx, nil, "u1", "d1"); !ok {
			t.Error("expected first delete to report true")
		}
		if ok, _ := repo.Delete(ctx, nil, "u1", "d1"); ok {
			t.Error("expected second delete to report false")
		}
	})
}

func TestTxManager(t *testing.T) {
	tm := NewTxManager()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := tm.WithTx(ctx, pgx.TxOptions{}, func(context.Context, repository.Tx) error {
		t.Error("fn must not run on a cancelled context")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	boom := errors.New("boom")
	err = tm.WithTx(context.Background(), pgx.TxOptions{}, func(_ context.Context, tx repository.Tx) error {
		if tx == nil {
			t.Error("expected a non-nil tx handle")
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected callback error to propagate, got %v", err)
	}
}
