package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"premium-access/internal/domain/model"
	"premium-access/internal/domain/ports/repository"
	"premium-access/internal/infra/metrics"
	red "premium-access/internal/infra/redis"
)

var _ repository.EntitlementCacheRepository = (*entitlementRepoCacheDecorator)(nil)

// entitlementRepoCacheDecorator fronts the entitlement table with Redis.
// Reads inside a transaction always go to the database.
type entitlementRepoCacheDecorator struct {
	inner repository.EntitlementCacheRepository
	cache red.RedisClient
	ttl   time.Duration
	now   func() time.Time
}

func NewEntitlementRepoCacheDecorator(inner repository.EntitlementCacheRepository, cache red.RedisClient, ttl time.Duration) repository.EntitlementCacheRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &entitlementRepoCacheDecorator{
		inner: inner,
		cache: cache,
		ttl:   ttl,
		now:   time.Now,
	}
}

func entitlementKey(userID string) string { return fmt.Sprintf("entitlement:user:%s", userID) }

func (d *entitlementRepoCacheDecorator) Get(ctx context.Context, tx repository.Tx, userID string) (*model.UserEntitlementStatus, error) {
	if tx != nil {
		metrics.IncCacheRequest("entitlement", "bypass")
		return d.inner.Get(ctx, tx, userID)
	}

	key := entitlementKey(userID)
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		var s model.UserEntitlementStatus
		if json.Unmarshal([]byte(val), &s) == nil && s.UserID == userID {
			metrics.IncCacheRequest("entitlement", "hit")
			return &s, nil
		}
		// Undecodable entries are dropped and reloaded from the database.
		_ = d.cache.Del(ctx, key)
	}

	metrics.IncCacheRequest("entitlement", "miss")
	s, err := d.inner.Get(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	d.store(ctx, s)
	return s, nil
}

// store caches s no longer than its remaining lifetime.
func (d *entitlementRepoCacheDecorator) store(ctx context.Context, s *model.UserEntitlementStatus) {
	ttl := d.ttl
	if left := s.ExpiresAt.Sub(d.now()); left < ttl {
		ttl = left
	}
	if ttl <= 0 {
		return
	}
	b, err := json.Marshal(s)
	if err != nil {
		return
	}
	_ = d.cache.Set(ctx, entitlementKey(s.UserID), b, ttl)
}

func (d *entitlementRepoCacheDecorator) Put(ctx context.Context, tx repository.Tx, s *model.UserEntitlementStatus) error {
	if err := d.inner.Put(ctx, tx, s); err != nil {
		return err
	}
	d.invalidate(ctx, tx, entitlementKey(s.UserID))
	return nil
}

func (d *entitlementRepoCacheDecorator) Delete(ctx context.Context, tx repository.Tx, userIDs ...string) error {
	if err := d.inner.Delete(ctx, tx, userIDs...); err != nil {
		return err
	}
	if len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = entitlementKey(id)
	}
	d.invalidate(ctx, tx, keys...)
	return nil
}

// invalidate drops keys now and, inside a transaction, again after commit:
// a reader outside the transaction may refill a key from the old row meanwhile.
func (d *entitlementRepoCacheDecorator) invalidate(ctx context.Context, tx repository.Tx, keys ...string) {
	_ = d.cache.Del(ctx, keys...)
	if tx == nil {
		return
	}
	afterCommit(ctx, func() {
		_ = d.cache.Del(context.Background(), keys...)
	})
}

// Pass-through methods that don't need caching. Cached entries never outlive
// their expiry, so DeleteExpired needs no invalidation.
func (d *entitlementRepoCacheDecorator) List(ctx context.Context, tx repository.Tx) ([]*model.UserEntitlementStatus, error) {
	metrics.IncCacheRequest("entitlement_list", "bypass")
	return d.inner.List(ctx, tx)
}

func (d *entitlementRepoCacheDecorator) DeleteExpired(ctx context.Context, tx repository.Tx, now time.Time) (int, error) {
	return d.inner.DeleteExpired(ctx, tx, now)
}
