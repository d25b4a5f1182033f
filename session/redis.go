package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "ss:"
	userKeyPrefix    = "su:"
)

const touchScript = `
if redis.call("HGET", KEYS[1], "active") == "1" then
  redis.call("HSET", KEYS[1], "last", ARGV[1])
  return 1
end
return 0
`

const revokeScript = `
if redis.call("HGET", KEYS[1], "active") == "1" then
  redis.call("HSET", KEYS[1], "active", "0")
  return 1
end
return 0
`

// KEYS[1] is the user index; ARGV[1] the session key prefix.
const revokeAllScript = `
local revoked = 0
for _, sid in ipairs(redis.call("SMEMBERS", KEYS[1])) do
  local key = ARGV[1] .. sid
  local active = redis.call("HGET", key, "active")
  if not active then
    redis.call("SREM", KEYS[1], sid)
  elseif active == "1" then
    redis.call("HSET", key, "active", "0")
    revoked = revoked + 1
  end
end
return revoked
`

var (
	touchLua     = redis.NewScript(touchScript)
	revokeLua    = redis.NewScript(revokeScript)
	revokeAllLua = redis.NewScript(revokeAllScript)
)

// RedisStore is a [Store] shared across processes through Redis.
//
// The revoke-all script touches session keys derived from the user index, so
// a clustered deployment must keep a user's keys in one slot.
type RedisStore struct {
	redis redis.UniversalClient
}

// NewRedisStore returns a store using the given client.
func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{redis: rdb}
}

func (r *RedisStore) Save(ctx context.Context, s Session, ttl time.Duration) error {
	key := sessionKeyPrefix + s.ID
	userKey := userKeyPrefix + s.UserID

	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]any{
			"uid":     s.UserID,
			"ua":      s.UserAgent,
			"ip":      s.IPAddress,
			"created": s.CreatedAt.UnixMilli(),
			"last":    s.LastActivityAt.UnixMilli(),
			"active":  boolFlag(s.Active),
			"expires": s.ExpiresAt.UnixMilli(),
		})
		pipe.SAdd(ctx, userKey, s.ID)
		if ttl > 0 {
			pipe.PExpire(ctx, key, ttl)
			pipe.PExpire(ctx, userKey, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (Session, bool, error) {
	fields, err := r.redis.HGetAll(ctx, sessionKeyPrefix+id).Result()
	if err != nil {
		return Session{}, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return Session{}, false, nil
	}
	s, err := decodeSession(id, fields)
	if err != nil {
		return Session{}, false, err
	}
	return s, true, nil
}

func (r *RedisStore) Touch(ctx context.Context, id string, at time.Time) (bool, error) {
	n, err := touchLua.Run(ctx, r.redis, []string{sessionKeyPrefix + id}, at.UnixMilli()).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n == 1, nil
}

func (r *RedisStore) Revoke(ctx context.Context, id string) (bool, error) {
	n, err := revokeLua.Run(ctx, r.redis, []string{sessionKeyPrefix + id}).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n == 1, nil
}

func (r *RedisStore) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	n, err := revokeAllLua.Run(ctx, r.redis, []string{userKeyPrefix + userID}, sessionKeyPrefix).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}

func (r *RedisStore) ListForUser(ctx context.Context, userID string) ([]Session, error) {
	ids, err := r.redis.SMembers(ctx, userKeyPrefix+userID).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = r.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, sessionKeyPrefix+id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	out := make([]Session, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		s, err := decodeSession(ids[i], fields)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	sortSessions(out)
	return out, nil
}

func decodeSession(id string, fields map[string]string) (Session, error) {
	created, err1 := strconv.ParseInt(fields["created"], 10, 64)
	last, err2 := strconv.ParseInt(fields["last"], 10, 64)
	expires, err3 := strconv.ParseInt(fields["expires"], 10, 64)
	if err := errors.Join(err1, err2, err3); err != nil || fields["uid"] == "" {
		return Session{}, fmt.Errorf("%w: corrupt session record", ErrStoreUnavailable)
	}
	return Session{
		ID:             id,
		UserID:         fields["uid"],
		UserAgent:      fields["ua"],
		IPAddress:      fields["ip"],
		CreatedAt:      time.UnixMilli(created),
		LastActivityAt: time.UnixMilli(last),
		Active:         fields["active"] == "1",
		ExpiresAt:      time.UnixMilli(expires),
	}, nil
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
