package session

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable wraps backend failures reported by a [Store].
var ErrStoreUnavailable = errors.New("session store unavailable")

// Store persists sessions.
//
// Save writes s and keeps it for ttl. Memory stores evict at s.ExpiresAt.
// Touch and Revoke report whether they changed a session. Touch must not
// modify a revoked session. RevokeAllForUser returns how many active sessions
// it revoked.
type Store interface {
	Save(ctx context.Context, s Session, ttl time.Duration) error
	Get(ctx context.Context, id string) (Session, bool, error)
	Touch(ctx context.Context, id string, at time.Time) (bool, error)
	Revoke(ctx context.Context, id string) (bool, error)
	RevokeAllForUser(ctx context.Context, userID string) (int, error)
	ListForUser(ctx context.Context, userID string) ([]Session, error)
}
