package sessions

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is an in-process Token Store used by unit tests and
// STORE_BACKEND=memory. Records do not survive a restart.
type MemoryRepository struct {
	mu    sync.RWMutex
	store map[string]*RefreshToken
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{store: make(map[string]*RefreshToken)}
}

func (m *MemoryRepository) Insert(ctx context.Context, rt *RefreshToken) error {
	if err := rt.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rt
	m.store[rt.Token] = &cp
	return nil
}

func (m *MemoryRepository) FindByToken(ctx context.Context, token string) (*RefreshToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rt, ok := m.store[token]
	if !ok {
		return nil, nil
	}
	cp := *rt
	return &cp, nil
}

func (m *MemoryRepository) FindByOwner(ctx context.Context, owner string) ([]*RefreshToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*RefreshToken{}
	for _, rt := range m.store {
		if rt.UserUID == owner {
			cp := *rt
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryRepository) Rotate(ctx context.Context, owner, oldToken string, next *RefreshToken) error {
	if err := next.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.store[oldToken]
	if !ok || old.UserUID != owner {
		return ErrTokenNotFound
	}
	delete(m.store, oldToken)
	cp := *next
	m.store[next.Token] = &cp
	return nil
}

func (m *MemoryRepository) DeleteByOwner(ctx context.Context, owner string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, rt := range m.store {
		if rt.UserUID == owner {
			delete(m.store, k)
			n++
		}
	}
	return n, nil
}

func (m *MemoryRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, rt := range m.store {
		if rt.ExpiresAt.Before(before) {
			delete(m.store, k)
			n++
		}
	}
	return n, nil
}
