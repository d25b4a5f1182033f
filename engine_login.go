package storeauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/leafcart/storeauth/jwt"
	"github.com/leafcart/storeauth/limiter"
	"github.com/leafcart/storeauth/validate"
)

const ipLimiterPrefix = "ip:"

// Register validates and creates a customer account.
//
// Register returns [ErrInvalidInput] for a malformed email or name,
// [ErrPasswordPolicy] for a weak password and [ErrAccountExists] when the
// email is taken.
func (e *Engine) Register(ctx context.Context, in RegisterInput) (UserRecord, error) {
	if e == nil || e.users == nil {
		return UserRecord{}, ErrEngineNotReady
	}

	email := validate.NormalizeEmail(in.Email)
	if !validate.Email(email) {
		e.metricInc(MetricRegisterInvalid)
		return UserRecord{}, fmt.Errorf("%w: email", ErrInvalidInput)
	}
	name := validate.SanitizeInput(in.Name)
	if !validate.Name(name) {
		e.metricInc(MetricRegisterInvalid)
		return UserRecord{}, fmt.Errorf("%w: name", ErrInvalidInput)
	}
	if issues := validate.PasswordIssues(in.Password); len(issues) > 0 {
		e.metricInc(MetricRegisterInvalid)
		return UserRecord{}, fmt.Errorf("%w: %s", ErrPasswordPolicy, strings.Join(issues, "; "))
	}

	hash, err := e.hasher.Hash(in.Password)
	if err != nil {
		return UserRecord{}, err
	}

	user, err := e.users.CreateUser(ctx, CreateUserInput{
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Role:         RoleCustomer,
	})
	if err != nil {
		if errors.Is(err, ErrAccountExists) {
			e.metricInc(MetricRegisterDuplicate)
			e.emitAudit(ctx, AuditRegister, false, "", "", ErrAccountExists, nil)
			return UserRecord{}, ErrAccountExists
		}
		return UserRecord{}, err
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, AuditRegister, true, user.UserID, "", nil, nil)
	e.logger.InfoContext(ctx, "account registered", slog.String("user_id", user.UserID))
	return user, nil
}

// Login checks credentials, starts a session and issues an access token.
//
// Failures are counted against the normalized email and, when IP throttling
// is on, the client address. While either is blocked Login returns
// [ErrLoginRateLimited] without checking the password. Unknown emails and
// wrong passwords both return [ErrInvalidCredentials] after the same hashing
// work.
func (e *Engine) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer e.observeSince(MetricLoginLatency, start)

	ip := in.IP
	if ip == "" {
		ip = clientIPFromContext(ctx)
	}
	userAgent := in.UserAgent
	if userAgent == "" {
		userAgent = userAgentFromContext(ctx)
	}
	ctx = WithClientIP(ctx, ip)

	email := validate.NormalizeEmail(in.Email)
	if !validate.Email(email) || in.Password == "" {
		e.metricInc(MetricLoginFailure)
		return nil, ErrInvalidCredentials
	}

	keys := []loginKey{{id: email, limiter: e.limiter}}
	if e.ipLimiter != nil && ip != "" {
		keys = append(keys, loginKey{id: ipLimiterPrefix + ip, limiter: e.ipLimiter})
	}
	for _, key := range keys {
		if key.limiter.IsBlocked(ctx, key.id) {
			e.metricInc(MetricLoginRateLimited)
			e.emitAudit(ctx, AuditLoginBlocked, false, "", "", ErrLoginRateLimited, map[string]string{"email": email})
			return nil, ErrLoginRateLimited
		}
	}

	user, err := e.users.GetUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		e.hasher.Verify(in.Password, "")
		e.loginFailed(ctx, keys, "", email)
		return nil, ErrInvalidCredentials
	}
	if !e.hasher.Verify(in.Password, user.PasswordHash) {
		e.loginFailed(ctx, keys, user.UserID, email)
		return nil, ErrInvalidCredentials
	}

	sessionID, err := e.sessions.CreateSession(ctx, user.UserID, userAgent, ip)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCreationFailed, err)
	}
	e.metricInc(MetricSessionCreated)

	ttl := e.config.Token.TTL
	token, err := e.tokens.Create(jwt.Claims{
		jwt.ClaimUserID:    user.UserID,
		jwt.ClaimEmail:     user.Email,
		jwt.ClaimRole:      user.Role,
		jwt.ClaimIsAdmin:   user.IsAdmin,
		jwt.ClaimSessionID: sessionID,
	}, ttl)
	if err != nil {
		if rerr := e.sessions.RevokeSession(ctx, sessionID); rerr != nil {
			e.logger.ErrorContext(ctx, "revoke session after token failure", slog.Any("error", rerr))
		}
		return nil, err
	}

	// Only the account counter is cleared; the address keeps its history.
	if err := e.limiter.RecordAttempt(ctx, email, true); err != nil {
		e.logger.WarnContext(ctx, "reset login attempts failed", slog.Any("error", err))
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, AuditLoginSuccess, true, user.UserID, sessionID, nil, nil)

	return &LoginResult{
		AccessToken: token,
		SessionID:   sessionID,
		ExpiresAt:   e.now().Add(ttl).Truncate(time.Second),
		User:        user,
	}, nil
}

// loginKey pairs a limiter key with the limiter whose policy governs it.
type loginKey struct {
	id      string
	limiter *limiter.Limiter
}

func (e *Engine) loginFailed(ctx context.Context, keys []loginKey, userID, email string) {
	for _, key := range keys {
		if err := key.limiter.RecordAttempt(ctx, key.id, false); err != nil {
			e.logger.WarnContext(ctx, "record login failure failed", slog.Any("error", err))
		}
	}
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, AuditLoginFailure, false, userID, "", ErrInvalidCredentials, map[string]string{"email": email})
}

// Authenticate verifies an access token and returns the caller's identity.
//
// When the token names a session and RequireActiveSession is set, the
// session must still be active and belong to the token's user. Every
// rejection wraps [ErrUnauthorized].
func (e *Engine) Authenticate(ctx context.Context, token string) (*Identity, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer e.observeSince(MetricAuthenticateLatency, start)

	claims, err := e.tokens.Parse(token)
	if err != nil {
		e.metricInc(MetricTokenRejected)
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	userID := claims.UserID()
	if userID == "" {
		e.metricInc(MetricTokenRejected)
		return nil, fmt.Errorf("%w: token has no subject", ErrUnauthorized)
	}

	sessionID := claims.SessionID()
	if sessionID != "" && e.config.Session.RequireActiveSession {
		s, ok := e.sessions.GetSession(ctx, sessionID)
		if !ok || !s.Active || s.UserID != userID {
			e.metricInc(MetricSessionRejected)
			return nil, fmt.Errorf("%w: session not active", ErrUnauthorized)
		}
		if e.config.Session.TrackActivity {
			if err := e.sessions.UpdateActivity(ctx, sessionID); err != nil {
				e.logger.WarnContext(ctx, "session activity update failed", slog.Any("error", err))
			}
		}
	}

	return &Identity{
		UserID:    userID,
		Email:     claims.Email(),
		Role:      claims.Role(),
		IsAdmin:   claims.IsAdmin(),
		SessionID: sessionID,
		TokenID:   claims.TokenID(),
		ExpiresAt: claims.ExpiresAt(),
	}, nil
}
