package csrf

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/leafcart/storeauth/internal/memstore"
	"github.com/redis/go-redis/v9"
)

// ErrStoreUnavailable wraps backend failures reported by a [TokenStore].
var ErrStoreUnavailable = errors.New("csrf store unavailable")

// Record is an issued token.
type Record struct {
	Token     string
	SessionID string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// TokenStore persists issued tokens.
type TokenStore interface {
	Save(ctx context.Context, rec Record, ttl time.Duration) error
	Get(ctx context.Context, token string) (Record, bool, error)
	// Delete reports whether the token existed.
	Delete(ctx context.Context, token string) (bool, error)
}

// MemoryStore is a process-local [TokenStore].
type MemoryStore struct {
	items *memstore.Map[Record]
}

// NewMemoryStore returns an empty store. A nil clock uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	return &MemoryStore{items: memstore.New[Record](now)}
}

func (m *MemoryStore) Save(_ context.Context, rec Record, _ time.Duration) error {
	m.items.Set(rec.Token, rec, rec.ExpiresAt)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, token string) (Record, bool, error) {
	rec, ok := m.items.Get(token)
	return rec, ok, nil
}

func (m *MemoryStore) Delete(_ context.Context, token string) (bool, error) {
	return m.items.Delete(token), nil
}

// Sweep evicts expired tokens.
func (m *MemoryStore) Sweep() int {
	return m.items.Sweep()
}

// RunJanitor sweeps every interval until ctx is done.
func (m *MemoryStore) RunJanitor(ctx context.Context, interval time.Duration) {
	m.items.RunJanitor(ctx, interval)
}

const tokenKeyPrefix = "csrf:"

// RedisStore is a [TokenStore] shared across processes through Redis.
// Each token is a hash under csrf:<token> with a native TTL.
type RedisStore struct {
	redis redis.UniversalClient
}

// NewRedisStore returns a store using the given client.
func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{redis: rdb}
}

func (r *RedisStore) Save(ctx context.Context, rec Record, ttl time.Duration) error {
	key := tokenKeyPrefix + rec.Token
	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"sid", rec.SessionID,
			"created", rec.CreatedAt.UnixMilli(),
			"expires", rec.ExpiresAt.UnixMilli(),
		)
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, token string) (Record, bool, error) {
	fields, err := r.redis.HGetAll(ctx, tokenKeyPrefix+token).Result()
	if err != nil {
		return Record{}, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return Record{}, false, nil
	}

	created, err1 := strconv.ParseInt(fields["created"], 10, 64)
	expires, err2 := strconv.ParseInt(fields["expires"], 10, 64)
	if err1 != nil || err2 != nil {
		return Record{}, false, fmt.Errorf("%w: corrupt csrf record", ErrStoreUnavailable)
	}
	return Record{
		Token:     token,
		SessionID: fields["sid"],
		CreatedAt: time.UnixMilli(created),
		ExpiresAt: time.UnixMilli(expires),
	}, true, nil
}

func (r *RedisStore) Delete(ctx context.Context, token string) (bool, error) {
	n, err := r.redis.Del(ctx, tokenKeyPrefix+token).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n > 0, nil
}
