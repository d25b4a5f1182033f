package limiter

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable wraps backend failures reported by an [AttemptStore].
var ErrStoreUnavailable = errors.New("attempt store unavailable")

// AttemptRecord counts consecutive failures for one identifier.
type AttemptRecord struct {
	Identifier     string
	Count          int
	FirstAttemptAt time.Time
	LastAttemptAt  time.Time
}

// BlockRecord marks an identifier as blocked until ExpiresAt.
type BlockRecord struct {
	Identifier string
	ExpiresAt  time.Time
}

// AttemptStore persists attempt and block records.
//
// Fail must be atomic per identifier: it increments the counter, refreshes the
// attempt window and, when the new count reaches policy.MaxAttempts, writes a
// block of policy.BlockDuration(count).
type AttemptStore interface {
	Fail(ctx context.Context, id string, now time.Time, policy Policy) (AttemptRecord, error)
	Attempts(ctx context.Context, id string) (AttemptRecord, bool, error)
	Block(ctx context.Context, id string) (BlockRecord, bool, error)
	Unblock(ctx context.Context, id string) error
	Reset(ctx context.Context, id string) error
}
