package storeauth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/leafcart/storeauth/csrf"
	internalaudit "github.com/leafcart/storeauth/internal/audit"
	"github.com/leafcart/storeauth/jwt"
	"github.com/leafcart/storeauth/limiter"
	"github.com/leafcart/storeauth/password"
	"github.com/leafcart/storeauth/session"
	"github.com/leafcart/storeauth/validate"
)

// Engine ties password hashing, tokens, login throttling, sessions and CSRF
// protection to a [UserProvider].
//
// An Engine is built once by [Builder.Build] and is safe for concurrent use.
type Engine struct {
	config  Config
	users   UserProvider
	hasher  *password.PBKDF2
	tokens  *jwt.Manager
	limiter *limiter.Limiter
	// ipLimiter counts failures per client address under its own policy.
	ipLimiter *limiter.Limiter
	sessions  *session.Registry
	csrf      *csrf.Guard
	audit     *internalaudit.Dispatcher
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time

	stopJanitors context.CancelFunc
	janitors     sync.WaitGroup
}

// Close stops background janitors and flushes pending audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.stopBackground()
	if e.audit != nil {
		e.audit.Close()
	}
}

func (e *Engine) stopBackground() {
	if e.stopJanitors != nil {
		e.stopJanitors()
		e.janitors.Wait()
		e.stopJanitors = nil
	}
}

// AuditDropped returns how many audit events were discarded because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies the current counters and histograms.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the active configuration without the secret.
func (e *Engine) Config() Config {
	out := cloneConfig(e.config)
	out.Token.Secret = nil
	return out
}

// RemainingAttempts reports how many failed logins email has left before it
// is blocked.
func (e *Engine) RemainingAttempts(ctx context.Context, email string) int {
	return e.limiter.RemainingAttempts(ctx, validate.NormalizeEmail(email))
}

// User returns the account for userID.
func (e *Engine) User(ctx context.Context, userID string) (UserRecord, error) {
	if e == nil || e.users == nil {
		return UserRecord{}, ErrEngineNotReady
	}
	return e.users.GetUserByID(ctx, userID)
}

func (e *Engine) metricInc(id MetricID) {
	if e.metrics != nil {
		e.metrics.Inc(id)
	}
}

func (e *Engine) observeSince(id MetricID, start time.Time) {
	if e.metrics != nil {
		e.metrics.Observe(id, time.Since(start))
	}
}
