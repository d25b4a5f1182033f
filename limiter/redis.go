package limiter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	attemptKeyPrefix = "rla:"
	blockKeyPrefix   = "rlb:"
)

// KEYS: attempt hash, block key.
// ARGV: now ms, window ms, max attempts, block step ms, max block ms.
const failScript = `
local count = redis.call("HINCRBY", KEYS[1], "count", 1)
if count == 1 then
  redis.call("HSET", KEYS[1], "first", ARGV[1])
end
redis.call("HSET", KEYS[1], "last", ARGV[1])
redis.call("PEXPIRE", KEYS[1], ARGV[2])

if count >= tonumber(ARGV[3]) then
  local block = math.min(count * tonumber(ARGV[4]), tonumber(ARGV[5]))
  local expires = tonumber(ARGV[1]) + block
  redis.call("SET", KEYS[2], string.format("%d", expires), "PX", string.format("%d", block))
end

return {count, redis.call("HGET", KEYS[1], "first")}
`

var failLua = redis.NewScript(failScript)

// RedisStore is an [AttemptStore] shared across processes through Redis.
type RedisStore struct {
	redis redis.UniversalClient
}

// NewRedisStore returns a store using the given client.
func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{redis: rdb}
}

func (s *RedisStore) Fail(ctx context.Context, id string, now time.Time, policy Policy) (AttemptRecord, error) {
	res, err := failLua.Run(ctx, s.redis,
		[]string{attemptKeyPrefix + id, blockKeyPrefix + id},
		now.UnixMilli(),
		policy.AttemptWindow.Milliseconds(),
		policy.MaxAttempts,
		policy.BlockStep.Milliseconds(),
		policy.MaxBlock.Milliseconds(),
	).Slice()
	if err != nil {
		return AttemptRecord{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(res) != 2 {
		return AttemptRecord{}, fmt.Errorf("%w: unexpected script reply", ErrStoreUnavailable)
	}

	count, _ := res[0].(int64)
	first, _ := res[1].(string)
	return AttemptRecord{
		Identifier:     id,
		Count:          int(count),
		FirstAttemptAt: parseMillis(first),
		LastAttemptAt:  time.UnixMilli(now.UnixMilli()),
	}, nil
}

func (s *RedisStore) Attempts(ctx context.Context, id string) (AttemptRecord, bool, error) {
	fields, err := s.redis.HGetAll(ctx, attemptKeyPrefix+id).Result()
	if err != nil {
		return AttemptRecord{}, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return AttemptRecord{}, false, nil
	}

	count, err := strconv.Atoi(fields["count"])
	if err != nil || count < 0 {
		return AttemptRecord{}, false, fmt.Errorf("%w: corrupt attempt record", ErrStoreUnavailable)
	}
	return AttemptRecord{
		Identifier:     id,
		Count:          count,
		FirstAttemptAt: parseMillis(fields["first"]),
		LastAttemptAt:  parseMillis(fields["last"]),
	}, true, nil
}

func (s *RedisStore) Block(ctx context.Context, id string) (BlockRecord, bool, error) {
	raw, err := s.redis.Get(ctx, blockKeyPrefix+id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return BlockRecord{}, false, nil
		}
		return BlockRecord{}, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	expires := parseMillis(raw)
	if expires.IsZero() {
		return BlockRecord{}, false, fmt.Errorf("%w: corrupt block record", ErrStoreUnavailable)
	}
	return BlockRecord{Identifier: id, ExpiresAt: expires}, true, nil
}

func (s *RedisStore) Unblock(ctx context.Context, id string) error {
	if err := s.redis.Del(ctx, blockKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Reset(ctx context.Context, id string) error {
	if err := s.redis.Del(ctx, attemptKeyPrefix+id, blockKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
