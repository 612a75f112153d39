package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"premium-access/internal/domain"
	"premium-access/internal/domain/model"
	"premium-access/internal/domain/ports/repository"
)

var (
	_ repository.EntitlementCacheRepository = (*EntitlementRepo)(nil)
	_ repository.SnapshotRepository         = (*SnapshotRepo)(nil)
)

type EntitlementRepo struct {
	mu     sync.RWMutex
	byUser map[string]model.UserEntitlementStatus
}

func NewEntitlementRepo() *EntitlementRepo {
	return &EntitlementRepo{byUser: make(map[string]model.UserEntitlementStatus)}
}

func (r *EntitlementRepo) Get(_ context.Context, _ repository.Tx, userID string) (*model.UserEntitlementStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byUser[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &s, nil
}

func (r *EntitlementRepo) Put(_ context.Context, _ repository.Tx, status *model.UserEntitlementStatus) error {
	if status == nil || status.UserID == "" {
		return domain.ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byUser[status.UserID] = *status
	return nil
}

func (r *EntitlementRepo) Delete(_ context.Context, _ repository.Tx, userIDs ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range userIDs {
		delete(r.byUser, id)
	}
	return nil
}

func (r *EntitlementRepo) List(_ context.Context, _ repository.Tx) ([]*model.UserEntitlementStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedStatuses(r.byUser), nil
}

func (r *EntitlementRepo) DeleteExpired(_ context.Context, _ repository.Tx, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.byUser {
		if s.ExpiredAt(now) {
			delete(r.byUser, id)
			n++
		}
	}
	return n, nil
}

// SnapshotRepo holds the imported bulk dataset.
type SnapshotRepo struct {
	mu     sync.RWMutex
	byUser map[string]model.UserEntitlementStatus
}

func NewSnapshotRepo() *SnapshotRepo {
	return &SnapshotRepo{byUser: make(map[string]model.UserEntitlementStatus)}
}

func (r *SnapshotRepo) FindByUser(_ context.Context, _ repository.Tx, userID string) (*model.UserEntitlementStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byUser[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &s, nil
}

func (r *SnapshotRepo) Replace(_ context.Context, _ repository.Tx, records []*model.UserEntitlementStatus) error {
	next := make(map[string]model.UserEntitlementStatus, len(records))
	for _, rec := range records {
		if rec == nil || rec.UserID == "" {
			return domain.ErrInvalidArgument
		}
		next[rec.UserID] = *rec
	}
	r.mu.Lock()
	r.byUser = next
	r.mu.Unlock()
	return nil
}

func sortedStatuses(m map[string]model.UserEntitlementStatus) []*model.UserEntitlementStatus {
	out := make([]*model.UserEntitlementStatus, 0, len(m))
	for _, s := range m {
		s := s
		out = append(out, &s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
