package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/leafcart/storeauth/internal"
)

// DefaultTTL is the lifetime of a session that is not configured otherwise.
const DefaultTTL = 7 * 24 * time.Hour

const idBytes = 16

// ErrInvalidUser is returned by CreateSession for an empty user id.
var ErrInvalidUser = errors.New("session user id is required")

// Config wires a Registry. Zero fields take defaults.
type Config struct {
	TTL    time.Duration
	Now    func() time.Time
	Logger *slog.Logger
}

// Registry manages session lifecycle over a [Store].
type Registry struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewRegistry returns a Registry backed by store.
func NewRegistry(store Store, cfg Config) *Registry {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Registry{store: store, ttl: cfg.TTL, now: cfg.Now, logger: cfg.Logger}
}

// TTL returns the configured session lifetime.
func (r *Registry) TTL() time.Duration {
	return r.ttl
}

// CreateSession starts an active session for userID and returns its id.
func (r *Registry) CreateSession(ctx context.Context, userID, userAgent, ipAddress string) (string, error) {
	if userID == "" {
		return "", ErrInvalidUser
	}
	id, err := internal.RandomToken(idBytes)
	if err != nil {
		return "", err
	}

	now := r.now()
	s := Session{
		ID:             id,
		UserID:         userID,
		UserAgent:      userAgent,
		IPAddress:      ipAddress,
		CreatedAt:      now,
		LastActivityAt: now,
		Active:         true,
		ExpiresAt:      now.Add(r.ttl),
	}
	if err := r.store.Save(ctx, s, r.ttl); err != nil {
		return "", err
	}
	return id, nil
}

// GetSession returns the session for id. Revoked sessions are returned with
// Active false until they expire. Store failures are logged and reported as
// not found.
func (r *Registry) GetSession(ctx context.Context, id string) (*Session, bool) {
	if id == "" {
		return nil, false
	}
	s, ok, err := r.store.Get(ctx, id)
	if err != nil {
		r.logger.ErrorContext(ctx, "session lookup failed", slog.Any("error", err))
		return nil, false
	}
	if !ok || s.expired(r.now()) {
		return nil, false
	}
	return &s, true
}

// UpdateActivity stamps the session's last activity. Unknown, expired and
// revoked sessions are left untouched.
func (r *Registry) UpdateActivity(ctx context.Context, id string) error {
	if _, ok := r.GetSession(ctx, id); !ok {
		return nil
	}
	_, err := r.store.Touch(ctx, id, r.now())
	return err
}

// RevokeSession deactivates id. Revoking an unknown or already revoked
// session is not an error.
func (r *Registry) RevokeSession(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	_, err := r.store.Revoke(ctx, id)
	return err
}

// RevokeAllUserSessions deactivates every active session of userID and returns
// how many were revoked.
func (r *Registry) RevokeAllUserSessions(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, nil
	}
	n, err := r.store.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.InfoContext(ctx, "user sessions revoked", slog.String("user_id", userID), slog.Int("count", n))
	}
	return n, nil
}

// ListUserSessions returns the unexpired sessions of userID, oldest first.
func (r *Registry) ListUserSessions(ctx context.Context, userID string) ([]Session, error) {
	all, err := r.store.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := r.now()
	out := all[:0]
	for _, s := range all {
		if !s.expired(now) {
			out = append(out, s)
		}
	}
	return out, nil
}
