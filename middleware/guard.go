package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/leafcart/storeauth"
)

// AccessTokenCookie is the cookie checked when no bearer header is sent.
const AccessTokenCookie = "accessToken"

// Authenticator verifies access tokens. *storeauth.Engine satisfies it.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*storeauth.Identity, error)
}

// ErrorHandler writes a rejection. The default writes a plain-text status.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, status int)

// Option customizes a guard.
type Option func(*options)

type options struct {
	onError ErrorHandler
}

// WithErrorHandler replaces the rejection writer.
func WithErrorHandler(h ErrorHandler) Option {
	return func(o *options) {
		if h != nil {
			o.onError = h
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{onError: defaultError}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func defaultError(w http.ResponseWriter, _ *http.Request, status int) {
	http.Error(w, strings.ToLower(http.StatusText(status)), status)
}

// Authenticate rejects requests without a valid access token with 401.
// Accepted requests carry the identity; see [storeauth.IdentityFromContext].
func Authenticate(a Authenticator, opts ...Option) func(http.Handler) http.Handler {
	o := buildOptions(opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if a == nil {
				o.onError(w, r, http.StatusUnauthorized)
				return
			}
			token, ok := AccessToken(r)
			if !ok {
				o.onError(w, r, http.StatusUnauthorized)
				return
			}
			id, err := a.Authenticate(r.Context(), token)
			if err != nil {
				o.onError(w, r, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(storeauth.WithIdentity(r.Context(), id)))
		})
	}
}

// Optional attaches the identity when a valid token is present and otherwise
// passes the request through unchanged.
func Optional(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token, ok := AccessToken(r); ok && a != nil {
				if id, err := a.Authenticate(r.Context(), token); err == nil {
					r = r.WithContext(storeauth.WithIdentity(r.Context(), id))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AccessToken returns the bearer token, or the accessToken cookie when no
// Authorization header is present.
func AccessToken(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		return bearerToken(h)
	}
	c, err := r.Cookie(AccessTokenCookie)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
