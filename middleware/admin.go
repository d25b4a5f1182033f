package middleware

import (
	"net/http"

	"github.com/leafcart/storeauth"
)

// RequireAdmin must run after [Authenticate]. Requests without an identity
// get 401, non-admins get 403.
func RequireAdmin(opts ...Option) func(http.Handler) http.Handler {
	o := buildOptions(opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := storeauth.IdentityFromContext(r.Context())
			if !ok {
				o.onError(w, r, http.StatusUnauthorized)
				return
			}
			if !id.Admin() {
				o.onError(w, r, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
