package limiter

import (
	"context"
	"time"

	"github.com/leafcart/storeauth/internal/memstore"
)

type memoryState struct {
	attempt        AttemptRecord
	attemptExpires time.Time
	blockUntil     time.Time
}

// MemoryStore is a process-local [AttemptStore].
type MemoryStore struct {
	items *memstore.Map[memoryState]
}

// NewMemoryStore returns an empty store. A nil clock uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	return &MemoryStore{items: memstore.New[memoryState](now)}
}

func (s *MemoryStore) Fail(_ context.Context, id string, now time.Time, policy Policy) (AttemptRecord, error) {
	state, _ := s.items.Update(id, func(cur memoryState, ok bool, _ time.Time, _ time.Time) (memoryState, time.Time, bool) {
		if !ok || !now.Before(cur.attemptExpires) {
			cur.attempt = AttemptRecord{Identifier: id, FirstAttemptAt: now}
		}
		cur.attempt.Count++
		cur.attempt.LastAttemptAt = now
		cur.attemptExpires = now.Add(policy.AttemptWindow)

		if cur.attempt.Count >= policy.MaxAttempts {
			cur.blockUntil = now.Add(policy.BlockDuration(cur.attempt.Count))
		}

		expires := cur.attemptExpires
		if cur.blockUntil.After(expires) {
			expires = cur.blockUntil
		}
		return cur, expires, true
	})
	return state.attempt, nil
}

func (s *MemoryStore) Attempts(_ context.Context, id string) (AttemptRecord, bool, error) {
	state, ok := s.items.Get(id)
	if !ok || !s.items.Now().Before(state.attemptExpires) {
		return AttemptRecord{}, false, nil
	}
	return state.attempt, true, nil
}

// Block returns the stored block even when it has lapsed; the caller decides
// expiry against its own clock.
func (s *MemoryStore) Block(_ context.Context, id string) (BlockRecord, bool, error) {
	state, ok := s.items.Get(id)
	if !ok || state.blockUntil.IsZero() {
		return BlockRecord{}, false, nil
	}
	return BlockRecord{Identifier: id, ExpiresAt: state.blockUntil}, true, nil
}

func (s *MemoryStore) Unblock(_ context.Context, id string) error {
	s.items.Update(id, func(cur memoryState, ok bool, _ time.Time, now time.Time) (memoryState, time.Time, bool) {
		if !ok {
			return cur, time.Time{}, false
		}
		cur.blockUntil = time.Time{}
		if !now.Before(cur.attemptExpires) {
			return cur, time.Time{}, false
		}
		return cur, cur.attemptExpires, true
	})
	return nil
}

func (s *MemoryStore) Reset(_ context.Context, id string) error {
	s.items.Delete(id)
	return nil
}

// Sweep evicts expired records.
func (s *MemoryStore) Sweep() int {
	return s.items.Sweep()
}

// RunJanitor sweeps every interval until ctx is done.
func (s *MemoryStore) RunJanitor(ctx context.Context, interval time.Duration) {
	s.items.RunJanitor(ctx, interval)
}
