// Package memstore provides the process-local TTL map behind the in-memory
// attempt, session, and CSRF stores.
//
// Every operation runs under a single mutex, so read-modify-write helpers
// such as [Map.Update] are atomic per key. Expired entries are invisible to
// readers and are removed either lazily, by [Map.Sweep], or by a janitor
// goroutine started with [Map.RunJanitor].
package memstore

import (
	"context"
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

func (e entry[V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Map is a mutex-guarded map with per-key absolute expiry.
type Map[V any] struct {
	mu    sync.Mutex
	items map[string]entry[V]
	now   func() time.Time
}

// New creates an empty map. A nil clock defaults to time.Now.
func New[V any](now func() time.Time) *Map[V] {
	if now == nil {
		now = time.Now
	}
	return &Map[V]{
		items: make(map[string]entry[V]),
		now:   now,
	}
}

// Now returns the map's clock reading.
func (m *Map[V]) Now() time.Time {
	return m.now()
}

// Set stores value under key until expiresAt. A zero expiresAt never expires.
func (m *Map[V]) Set(key string, value V, expiresAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = entry[V]{value: value, expiresAt: expiresAt}
}

// Get returns the live value for key. Expired entries are deleted.
func (m *Map[V]) Get(key string) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(key)
}

func (m *Map[V]) getLocked(key string) (V, bool) {
	var zero V
	e, ok := m.items[key]
	if !ok {
		return zero, false
	}
	if e.expired(m.now()) {
		delete(m.items, key)
		return zero, false
	}
	return e.value, true
}

// Delete removes key and reports whether a live entry existed.
func (m *Map[V]) Delete(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.getLocked(key)
	delete(m.items, key)
	return ok
}

// UpdateFunc receives the current value (ok=false when absent or expired) and
// the current expiry, and returns the next value and expiry. Returning
// keep=false deletes the key.
type UpdateFunc[V any] func(current V, ok bool, expiresAt time.Time, now time.Time) (next V, nextExpiresAt time.Time, keep bool)

// Update applies fn to key under the map lock and returns the stored value.
func (m *Map[V]) Update(key string, fn UpdateFunc[V]) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	current, ok := m.getLocked(key)
	var expiresAt time.Time
	if ok {
		expiresAt = m.items[key].expiresAt
	}

	next, nextExpiresAt, keep := fn(current, ok, expiresAt, now)
	if !keep {
		delete(m.items, key)
		var zero V
		return zero, false
	}
	m.items[key] = entry[V]{value: next, expiresAt: nextExpiresAt}
	return next, true
}

// Mutate calls fn for every live entry under the map lock. When fn reports
// changed, the returned value replaces the entry and keeps its expiry.
// Mutate returns the number of changed entries.
func (m *Map[V]) Mutate(fn func(key string, value V) (V, bool)) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	changed := 0
	for key, e := range m.items {
		if e.expired(now) {
			delete(m.items, key)
			continue
		}
		next, ok := fn(key, e.value)
		if !ok {
			continue
		}
		m.items[key] = entry[V]{value: next, expiresAt: e.expiresAt}
		changed++
	}
	return changed
}

// Range calls fn for every live entry until fn returns false. fn must not
// call back into the map.
func (m *Map[V]) Range(fn func(key string, value V) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, e := range m.items {
		if e.expired(now) {
			continue
		}
		if !fn(key, e.value) {
			return
		}
	}
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (m *Map[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Sweep deletes every expired entry and returns how many were removed.
func (m *Map[V]) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for key, e := range m.items {
		if e.expired(now) {
			delete(m.items, key)
			removed++
		}
	}
	return removed
}

// RunJanitor sweeps the map every interval until ctx is cancelled.
func (m *Map[V]) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
