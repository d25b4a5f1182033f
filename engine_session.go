package storeauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leafcart/storeauth/validate"
)

// Logout revokes one session. Unknown sessions are ignored.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	var userID string
	if s, ok := e.sessions.GetSession(ctx, sessionID); ok {
		userID = s.UserID
	}
	if err := e.sessions.RevokeSession(ctx, sessionID); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionInvalidationFailed, err)
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, AuditLogout, true, userID, sessionID, nil, nil)
	return nil
}

// LogoutAll revokes every active session of userID and returns how many were
// revoked.
func (e *Engine) LogoutAll(ctx context.Context, userID string) (int, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}
	n, err := e.sessions.RevokeAllUserSessions(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSessionInvalidationFailed, err)
	}
	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, AuditLogoutAll, true, userID, "", nil, map[string]string{"revoked": fmt.Sprint(n)})
	return n, nil
}

// ListSessions returns the unexpired sessions of userID, oldest first.
func (e *Engine) ListSessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	return e.sessions.ListUserSessions(ctx, userID)
}

// ChangePassword replaces the password of userID after checking the current
// one, then revokes all of the user's sessions.
func (e *Engine) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if e == nil || e.users == nil {
		return ErrEngineNotReady
	}

	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUnauthorized
		}
		return err
	}
	if !e.hasher.Verify(oldPassword, user.PasswordHash) {
		e.metricInc(MetricPasswordChangeInvalidOld)
		e.emitAudit(ctx, AuditPasswordChange, false, userID, "", ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}
	if oldPassword == newPassword {
		return ErrPasswordReuse
	}
	if issues := validate.PasswordIssues(newPassword); len(issues) > 0 {
		return fmt.Errorf("%w: %s", ErrPasswordPolicy, strings.Join(issues, "; "))
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := e.users.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return err
	}

	if _, err := e.sessions.RevokeAllUserSessions(ctx, userID); err != nil {
		e.logger.ErrorContext(ctx, "revoke sessions after password change", slog.Any("error", err))
		return fmt.Errorf("%w: %v", ErrSessionInvalidationFailed, err)
	}
	if err := e.limiter.RecordAttempt(ctx, user.Email, true); err != nil {
		e.logger.WarnContext(ctx, "reset login attempts failed", slog.Any("error", err))
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, AuditPasswordChange, true, userID, "", nil, nil)
	return nil
}

// IssueCSRFToken returns a fresh anti-forgery token bound to sessionID.
func (e *Engine) IssueCSRFToken(ctx context.Context, sessionID string) (string, error) {
	if e == nil || e.csrf == nil {
		return "", ErrEngineNotReady
	}
	token, err := e.csrf.GenerateToken(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCSRFUnavailable, err)
	}
	e.metricInc(MetricCSRFIssued)
	return token, nil
}

// ValidateCSRFToken reports whether token was issued for sessionID and has
// not expired.
func (e *Engine) ValidateCSRFToken(ctx context.Context, token, sessionID string) bool {
	if e == nil || e.csrf == nil {
		return false
	}
	if e.csrf.ValidateToken(ctx, token, sessionID) {
		return true
	}
	e.metricInc(MetricCSRFRejected)
	e.emitAudit(ctx, AuditCSRFRejected, false, "", sessionID, nil, nil)
	return false
}
