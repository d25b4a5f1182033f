package session

import "time"

// Session is one authenticated login.
type Session struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	UserAgent      string    `json:"userAgent"`
	IPAddress      string    `json:"ipAddress"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	Active         bool      `json:"active"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

func (s Session) expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}
