package jwt

import (
	"encoding/json"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claim names understood by the storefront.
const (
	ClaimUserID    = "userId"
	ClaimEmail     = "email"
	ClaimRole      = "role"
	ClaimIsAdmin   = "isAdmin"
	ClaimSessionID = "sessionId"

	ClaimIssuedAt  = "iat"
	ClaimExpiresAt = "exp"
	ClaimTokenID   = "jti"
	ClaimIssuer    = "iss"
)

// RoleAdmin is the role value that grants admin access.
const RoleAdmin = "admin"

func isReserved(name string) bool {
	switch name {
	case ClaimIssuedAt, ClaimExpiresAt, ClaimTokenID, ClaimIssuer:
		return true
	}
	return false
}

// Claims is a decoded token payload.
type Claims map[string]any

// String returns the claim as a string, or "" when absent or not a string.
func (c Claims) String(name string) string {
	v, _ := c[name].(string)
	return v
}

// UserID returns the userId claim.
func (c Claims) UserID() string { return c.String(ClaimUserID) }

// Email returns the email claim.
func (c Claims) Email() string { return c.String(ClaimEmail) }

// Role returns the role claim.
func (c Claims) Role() string { return c.String(ClaimRole) }

// SessionID returns the sessionId claim, or "" for a stateless token.
func (c Claims) SessionID() string { return c.String(ClaimSessionID) }

// TokenID returns the jti claim.
func (c Claims) TokenID() string { return c.String(ClaimTokenID) }

// IsAdmin returns the isAdmin claim.
func (c Claims) IsAdmin() bool {
	v, _ := c[ClaimIsAdmin].(bool)
	return v
}

// Admin reports whether the bearer may perform admin-only operations.
func (c Claims) Admin() bool {
	return c.IsAdmin() || c.Role() == RoleAdmin
}

// IssuedAt returns the iat claim, or the zero time when absent.
func (c Claims) IssuedAt() time.Time { return c.time(ClaimIssuedAt) }

// ExpiresAt returns the exp claim, or the zero time when absent.
func (c Claims) ExpiresAt() time.Time { return c.time(ClaimExpiresAt) }

func (c Claims) time(name string) time.Time {
	switch v := c[name].(type) {
	case float64:
		return time.Unix(int64(v), 0)
	case int64:
		return time.Unix(v, 0)
	case int:
		return time.Unix(int64(v), 0)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return time.Time{}
		}
		return time.Unix(n, 0)
	case *jwt.NumericDate:
		if v == nil {
			return time.Time{}
		}
		return v.Time
	case jwt.NumericDate:
		return v.Time
	}
	return time.Time{}
}
