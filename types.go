package storeauth

import (
	"context"
	"time"

	"github.com/leafcart/storeauth/jwt"
	"github.com/leafcart/storeauth/session"
)

// Roles assigned by the Engine.
const (
	RoleCustomer = "customer"
	RoleAdmin    = jwt.RoleAdmin
)

// UserRecord is a storefront account as seen by the Engine.
type UserRecord struct {
	UserID       string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	IsAdmin      bool      `json:"isAdmin"`
	CreatedAt    time.Time `json:"createdAt"`
}

// CreateUserInput carries a validated, hashed registration to a UserProvider.
type CreateUserInput struct {
	Email        string
	Name         string
	PasswordHash string
	Role         string
	IsAdmin      bool
}

// UserProvider is the user database the Engine authenticates against.
//
// Lookups return [ErrUserNotFound] when nothing matches. CreateUser returns
// [ErrAccountExists] for a duplicate email. Emails arrive normalized to lower
// case.
type UserProvider interface {
	GetUserByEmail(ctx context.Context, email string) (UserRecord, error)
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
	CreateUser(ctx context.Context, input CreateUserInput) (UserRecord, error)
	UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error
}

// RegisterInput is a sign-up request.
type RegisterInput struct {
	Email    string
	Password string
	Name     string
}

// LoginInput is a sign-in request. IP and UserAgent fall back to the values
// attached with [WithClientIP] and [WithUserAgent].
type LoginInput struct {
	Email     string
	Password  string
	IP        string
	UserAgent string
}

// LoginResult is returned by a successful [Engine.Login].
type LoginResult struct {
	AccessToken string     `json:"accessToken"`
	SessionID   string     `json:"sessionId"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	User        UserRecord `json:"user"`
}

// Identity is the caller recovered from a verified access token.
type Identity struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	IsAdmin   bool      `json:"isAdmin"`
	SessionID string    `json:"sessionId,omitempty"`
	TokenID   string    `json:"tokenId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Admin reports whether the identity may use admin-only operations.
func (i *Identity) Admin() bool {
	return i != nil && (i.IsAdmin || i.Role == RoleAdmin)
}

// SessionInfo is a session as listed to its owner or an admin.
type SessionInfo = session.Session
