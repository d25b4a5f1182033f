package csrf

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"time"

	"github.com/leafcart/storeauth/internal"
)

// DefaultTTL is the lifetime of an issued token.
const DefaultTTL = time.Hour

const tokenBytes = 32

// ErrInvalidSession is returned by GenerateToken for an empty session id.
var ErrInvalidSession = errors.New("csrf token requires a session id")

// Options tunes a Guard. Zero fields take defaults.
type Options struct {
	TTL       time.Duration
	SingleUse bool
	Now       func() time.Time
	Logger    *slog.Logger
}

// Guard issues and validates tokens.
type Guard struct {
	store  TokenStore
	opts   Options
	logger *slog.Logger
}

// NewGuard returns a Guard backed by store.
func NewGuard(store TokenStore, opts Options) *Guard {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Guard{store: store, opts: opts, logger: opts.Logger}
}

// GenerateToken issues a token bound to sessionID.
func (g *Guard) GenerateToken(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", ErrInvalidSession
	}
	token, err := internal.RandomToken(tokenBytes)
	if err != nil {
		return "", err
	}

	now := g.opts.Now()
	rec := Record{
		Token:     token,
		SessionID: sessionID,
		CreatedAt: now,
		ExpiresAt: now.Add(g.opts.TTL),
	}
	if err := g.store.Save(ctx, rec, g.opts.TTL); err != nil {
		return "", err
	}
	return token, nil
}

// ValidateToken reports whether token was issued to sessionID and has not
// expired. Expired tokens are deleted.
func (g *Guard) ValidateToken(ctx context.Context, token, sessionID string) bool {
	if token == "" || sessionID == "" {
		return false
	}

	rec, ok, err := g.store.Get(ctx, token)
	if err != nil {
		g.logger.ErrorContext(ctx, "csrf token lookup failed", slog.Any("error", err))
		return false
	}
	if !ok {
		return false
	}

	if !g.opts.Now().Before(rec.ExpiresAt) {
		g.delete(ctx, token)
		return false
	}
	if subtle.ConstantTimeCompare([]byte(rec.SessionID), []byte(sessionID)) != 1 {
		return false
	}

	if g.opts.SingleUse {
		// Only the caller whose delete removed the token may use it.
		return g.delete(ctx, token)
	}
	return true
}

func (g *Guard) delete(ctx context.Context, token string) bool {
	existed, err := g.store.Delete(ctx, token)
	if err != nil {
		g.logger.WarnContext(ctx, "csrf token delete failed", slog.Any("error", err))
		return false
	}
	return existed
}
