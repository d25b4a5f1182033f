package session

import (
	"context"
	"sort"
	"time"

	"github.com/leafcart/storeauth/internal/memstore"
)

// MemoryStore is a process-local [Store].
type MemoryStore struct {
	items *memstore.Map[Session]
}

// NewMemoryStore returns an empty store. A nil clock uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	return &MemoryStore{items: memstore.New[Session](now)}
}

func (m *MemoryStore) Save(_ context.Context, s Session, _ time.Duration) error {
	m.items.Set(s.ID, s, s.ExpiresAt)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (Session, bool, error) {
	s, ok := m.items.Get(id)
	return s, ok, nil
}

func (m *MemoryStore) Touch(_ context.Context, id string, at time.Time) (bool, error) {
	touched := false
	m.items.Update(id, func(cur Session, ok bool, expiresAt, _ time.Time) (Session, time.Time, bool) {
		if !ok {
			return cur, expiresAt, false
		}
		if cur.Active {
			cur.LastActivityAt = at
			touched = true
		}
		return cur, expiresAt, true
	})
	return touched, nil
}

func (m *MemoryStore) Revoke(_ context.Context, id string) (bool, error) {
	revoked := false
	m.items.Update(id, func(cur Session, ok bool, expiresAt, _ time.Time) (Session, time.Time, bool) {
		if !ok {
			return cur, expiresAt, false
		}
		if cur.Active {
			cur.Active = false
			revoked = true
		}
		return cur, expiresAt, true
	})
	return revoked, nil
}

func (m *MemoryStore) RevokeAllForUser(_ context.Context, userID string) (int, error) {
	return m.items.Mutate(func(_ string, s Session) (Session, bool) {
		if s.UserID != userID || !s.Active {
			return s, false
		}
		s.Active = false
		return s, true
	}), nil
}

func (m *MemoryStore) ListForUser(_ context.Context, userID string) ([]Session, error) {
	var out []Session
	m.items.Range(func(_ string, s Session) bool {
		if s.UserID == userID {
			out = append(out, s)
		}
		return true
	})
	sortSessions(out)
	return out, nil
}

// Sweep evicts expired sessions.
func (m *MemoryStore) Sweep() int {
	return m.items.Sweep()
}

// RunJanitor sweeps every interval until ctx is done.
func (m *MemoryStore) RunJanitor(ctx context.Context, interval time.Duration) {
	m.items.RunJanitor(ctx, interval)
}

func sortSessions(s []Session) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].CreatedAt.Equal(s[j].CreatedAt) {
			return s[i].ID < s[j].ID
		}
		return s[i].CreatedAt.Before(s[j].CreatedAt)
	})
}
