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

var _ repository.SessionRepository = (*SessionRepo)(nil)

// SessionRepo keeps one slice of sessions per user.
type SessionRepo struct {
	mu     sync.RWMutex
	byUser map[string][]model.DeviceSession
}

func NewSessionRepo() *SessionRepo {
	return &SessionRepo{byUser: make(map[string][]model.DeviceSession)}
}

func (r *SessionRepo) ListByUser(_ context.Context, _ repository.Tx, userID string) ([]*model.DeviceSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.byUser[userID]
	out := make([]*model.DeviceSession, 0, len(list))
	for i := range list {
		out = append(out, cloneSession(list[i]))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *SessionRepo) Find(_ context.Context, _ repository.Tx, userID, deviceID string) (*model.DeviceSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.byUser[userID] {
		if s.DeviceID == deviceID {
			return cloneSession(s), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *SessionRepo) Upsert(_ context.Context, _ repository.Tx, s *model.DeviceSession) error {
	if s == nil || s.UserID == "" || s.DeviceID == "" {
		return domain.ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.byUser[s.UserID]
	for i := range list {
		if list[i].DeviceID == s.DeviceID {
			list[i] = *cloneSession(*s)
			return nil
		}
	}
	r.byUser[s.UserID] = append(list, *cloneSession(*s))
	return nil
}

func (r *SessionRepo) Delete(_ context.Context, _ repository.Tx, userID, deviceID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.byUser[userID]
	for i := range list {
		if list[i].DeviceID == deviceID {
			r.byUser[userID] = append(list[:i:i], list[i+1:]...)
			if len(r.byUser[userID]) == 0 {
				delete(r.byUser, userID)
			}
			return true, nil
		}
	}
	return false, nil
}

func (r *SessionRepo) Touch(_ context.Context, _ repository.Tx, userID, deviceID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.byUser[userID]
	for i := range list {
		if list[i].DeviceID == deviceID {
			if at.After(list[i].LastActivityAt) {
				list[i].LastActivityAt = at
			}
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *SessionRepo) DeleteIdleSince(_ context.Context, _ repository.Tx, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for userID, list := range r.byUser {
		kept := list[:0]
		for _, s := range list {
			if s.LastActivityAt.Before(cutoff) {
				n++
				continue
			}
			kept = append(kept, s)
		}
		if len(kept) == 0 {
			delete(r.byUser, userID)
		} else {
			r.byUser[userID] = kept
		}
	}
	return n, nil
}

func cloneSession(s model.DeviceSession) *model.DeviceSession {
	cp := s
	if s.DeviceInfo != nil {
		cp.DeviceInfo = make(map[string]string, len(s.DeviceInfo))
		for k, v := range s.DeviceInfo {
			cp.DeviceInfo[k] = v
		}
	}
	return &cp
}
