package limiter

import (
	"context"
	"log/slog"
	"time"
)

// Config wires a Limiter. Zero fields take defaults.
type Config struct {
	Policy Policy
	Now    func() time.Time
	Logger *slog.Logger
}

// Limiter decides whether an identifier may attempt to log in.
//
// Limiter fails closed: when the store cannot answer, the identifier is
// treated as blocked and has no remaining attempts.
type Limiter struct {
	store  AttemptStore
	policy Policy
	now    func() time.Time
	logger *slog.Logger
}

// New returns a Limiter over store.
func New(store AttemptStore, cfg Config) (*Limiter, error) {
	if cfg.Policy == (Policy{}) {
		cfg.Policy = DefaultPolicy()
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Limiter{
		store:  store,
		policy: cfg.Policy,
		now:    cfg.Now,
		logger: cfg.Logger,
	}, nil
}

// Policy returns the active policy.
func (l *Limiter) Policy() Policy {
	return l.policy
}

// IsBlocked reports whether id is currently blocked. A block whose expiry has
// passed is removed and reported as not blocked.
func (l *Limiter) IsBlocked(ctx context.Context, id string) bool {
	block, ok, err := l.store.Block(ctx, id)
	if err != nil {
		l.logger.ErrorContext(ctx, "rate limiter block lookup failed", slog.Any("error", err))
		return true
	}
	if !ok {
		return false
	}
	if !l.now().Before(block.ExpiresAt) {
		if err := l.store.Unblock(ctx, id); err != nil {
			l.logger.WarnContext(ctx, "rate limiter unblock failed", slog.Any("error", err))
		}
		return false
	}
	return true
}

// RecordAttempt registers the outcome of a login attempt for id. Success
// clears all state for id. Failure increments the counter and may block id.
func (l *Limiter) RecordAttempt(ctx context.Context, id string, success bool) error {
	if success {
		return l.store.Reset(ctx, id)
	}

	rec, err := l.store.Fail(ctx, id, l.now(), l.policy)
	if err != nil {
		l.logger.ErrorContext(ctx, "rate limiter failure not recorded", slog.Any("error", err))
		return err
	}
	if rec.Count >= l.policy.MaxAttempts {
		l.logger.WarnContext(ctx, "login identifier blocked",
			slog.Int("failures", rec.Count),
			slog.Duration("block", l.policy.BlockDuration(rec.Count)),
		)
	}
	return nil
}

// RemainingAttempts returns how many failures id may still make before it is
// blocked.
func (l *Limiter) RemainingAttempts(ctx context.Context, id string) int {
	rec, ok, err := l.store.Attempts(ctx, id)
	if err != nil {
		l.logger.ErrorContext(ctx, "rate limiter attempt lookup failed", slog.Any("error", err))
		return 0
	}
	if !ok {
		return l.policy.MaxAttempts
	}
	return max(0, l.policy.MaxAttempts-rec.Count)
}
