//go:build !integration

package postgres

import (
	"context"
	"time"

	"premium-access/internal/domain/model"
	"premium-access/internal/domain/ports/repository"
	red "premium-access/internal/infra/redis"
)

// --- Mocks for Cache Decorator Tests ---

// mockInnerEntitlementRepo mocks the database repository that the decorator wraps.
type mockInnerEntitlementRepo struct {
	GetFunc           func(ctx context.Context, tx repository.Tx, userID string) (*model.UserEntitlementStatus, error)
	PutFunc           func(ctx context.Context, tx repository.Tx, s *model.UserEntitlementStatus) error
	DeleteFunc        func(ctx context.Context, tx repository.Tx, userIDs ...string) error
	ListFunc          func(ctx context.Context, tx repository.Tx) ([]*model.UserEntitlementStatus, error)
	DeleteExpiredFunc func(ctx context.Context, tx repository.Tx, now time.Time) (int, error)
}

func (m *mockInnerEntitlementRepo) Get(ctx context.Context, tx repository.Tx, userID string) (*model.UserEntitlementStatus, error) {
	return m.GetFunc(ctx, tx, userID)
}
func (m *mockInnerEntitlementRepo) Put(ctx context.Context, tx repository.Tx, s *model.UserEntitlementStatus) error {
	return m.PutFunc(ctx, tx, s)
}
func (m *mockInnerEntitlementRepo) Delete(ctx context.Context, tx repository.Tx, userIDs ...string) error {
	return m.DeleteFunc(ctx, tx, userIDs...)
}
func (m *mockInnerEntitlementRepo) List(ctx context.Context, tx repository.Tx) ([]*model.UserEntitlementStatus, error) {
	return m.ListFunc(ctx, tx)
}
func (m *mockInnerEntitlementRepo) DeleteExpired(ctx context.Context, tx repository.Tx, now time.Time) (int, error) {
	return m.DeleteExpiredFunc(ctx, tx, now)
}

// mockRedisClient mocks our Redis client wrapper.
type mockRedisClient struct {
	GetFunc         func(ctx context.Context, key string) (string, error)
	SetFunc         func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	SetNXFunc       func(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	DelFunc         func(ctx context.Context, keys ...string) error
	DelIfEqualsFunc func(ctx context.Context, key, value string) (bool, error)
	PingFunc        func(ctx context.Context) error
	IncrFunc        func(ctx context.Context, key string) (int64, error)
	ExpireFunc      func(ctx context.Context, key string, expiration time.Duration) error
	CloseFunc       func() error
}

var _ red.RedisClient = &mockRedisClient{}

func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	return m.GetFunc(ctx, key)
}
func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return m.SetFunc(ctx, key, value, expiration)
}
func (m *mockRedisClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	return m.SetNXFunc(ctx, key, value, expiration)
}
func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	return m.DelFunc(ctx, keys...)
}
func (m *mockRedisClient) DelIfEquals(ctx context.Context, key, value string) (bool, error) {
	return m.DelIfEqualsFunc(ctx, key, value)
}
func (m *mockRedisClient) Ping(ctx context.Context) error { return m.PingFunc(ctx) }
func (m *mockRedisClient) Incr(ctx context.Context, key string) (int64, error) {
	return m.IncrFunc(ctx, key)
}
func (m *mockRedisClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return m.ExpireFunc(ctx, key, expiration)
}
func (m *mockRedisClient) Close() error { return m.CloseFunc() }
