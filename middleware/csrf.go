package middleware

import (
	"context"
	"net/http"

	"github.com/leafcart/storeauth"
)

// CSRFHeader carries the anti-forgery token on state-changing requests.
const CSRFHeader = "X-CSRF-Token"

// CSRFValidator checks anti-forgery tokens. *storeauth.Engine satisfies it.
type CSRFValidator interface {
	ValidateCSRFToken(ctx context.Context, token, sessionID string) bool
}

// RequireCSRF must run after [Authenticate]. GET, HEAD, OPTIONS and TRACE
// pass through. Other methods need a CSRFHeader token issued for the
// identity's session, or get 403.
func RequireCSRF(v CSRFValidator, opts ...Option) func(http.Handler) http.Handler {
	o := buildOptions(opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if safeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			id, ok := storeauth.IdentityFromContext(r.Context())
			if !ok {
				o.onError(w, r, http.StatusUnauthorized)
				return
			}
			token := r.Header.Get(CSRFHeader)
			if v == nil || token == "" || id.SessionID == "" || !v.ValidateCSRFToken(r.Context(), token, id.SessionID) {
				o.onError(w, r, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func safeMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}
