package storeauth

import "errors"

var (
	// ErrUnauthorized is returned when a token or its session does not authenticate the caller.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidCredentials is returned for an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrLoginRateLimited is returned while the login identifier or client IP is blocked.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrUserNotFound is returned by a UserProvider when no user matches.
	ErrUserNotFound = errors.New("user not found")
	// ErrAccountExists is returned when registering an email that is already taken.
	ErrAccountExists = errors.New("account already exists")
	// ErrInvalidInput is returned for malformed email, name or missing fields.
	ErrInvalidInput = errors.New("invalid input")
	// ErrPasswordPolicy is returned when a new password does not meet the password policy.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrPasswordReuse is returned when a new password equals the current one.
	ErrPasswordReuse = errors.New("new password must be different from current password")
	// ErrSessionCreationFailed is returned when a login cannot persist its session.
	ErrSessionCreationFailed = errors.New("session creation failed")
	// ErrSessionInvalidationFailed is returned when sessions cannot be revoked.
	ErrSessionInvalidationFailed = errors.New("session invalidation failed")
	// ErrCSRFUnavailable is returned when a CSRF token cannot be issued.
	ErrCSRFUnavailable = errors.New("csrf token unavailable")
	// ErrEngineNotReady is returned by methods called on a nil or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)
