package memory

import (
	"context"
	"sort"
	"sync"

	"premium-access/internal/domain"
	"premium-access/internal/domain/model"
	"premium-access/internal/domain/ports/repository"
)

var _ repository.CodeRepository = (*CodeRepo)(nil)

type CodeRepo struct {
	mu    sync.RWMutex
	codes map[string]*model.PremiumCode
}

func NewCodeRepo() *CodeRepo {
	return &CodeRepo{codes: make(map[string]*model.PremiumCode)}
}

func (r *CodeRepo) Save(_ context.Context, _ repository.Tx, code *model.PremiumCode) error {
	if code == nil || code.ID == "" {
		return domain.ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes[code.ID] = code.Clone()
	return nil
}

func (r *CodeRepo) FindByID(_ context.Context, _ repository.Tx, id string) (*model.PremiumCode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codes[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return c.Clone(), nil
}

func (r *CodeRepo) FindActiveByCode(_ context.Context, _ repository.Tx, code string) (*model.PremiumCode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *model.PremiumCode
	for _, c := range r.codes {
		if c.Code != code || !c.IsActive {
			continue
		}
		if best == nil || c.IssuedAt.After(best.IssuedAt) {
			best = c
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	return best.Clone(), nil
}

func (r *CodeRepo) FindByIDs(_ context.Context, _ repository.Tx, ids []string) ([]*model.PremiumCode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.PremiumCode, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if c, ok := r.codes[id]; ok {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *CodeRepo) FindByRedeemer(_ context.Context, _ repository.Tx, userID string) ([]*model.PremiumCode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.PremiumCode
	for _, c := range r.codes {
		if c.HasRedeemed(userID) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *CodeRepo) ListAll(_ context.Context, _ repository.Tx) ([]*model.PremiumCode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.PremiumCode, 0, len(r.codes))
	for _, c := range r.codes {
		out = append(out, c.Clone())
	}
	sortByIssuedDesc(out)
	return out, nil
}

func (r *CodeRepo) DeleteByIDs(_ context.Context, _ repository.Tx, ids []string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, id := range ids {
		if _, ok := r.codes[id]; ok {
			delete(r.codes, id)
			n++
		}
	}
	return n, nil
}

func sortByIssuedDesc(codes []*model.PremiumCode) {
	sort.Slice(codes, func(i, j int) bool {
		if codes[i].IssuedAt.Equal(codes[j].IssuedAt) {
			return codes[i].ID > codes[j].ID
		}
		return codes[i].IssuedAt.After(codes[j].IssuedAt)
	})
}
