// Package httpapi is the HTTP surface of storeauthd.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/leafcart/storeauth"
	"github.com/leafcart/storeauth/metrics/export/prometheus"
	"github.com/leafcart/storeauth/middleware"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Options configures NewRouter.
type Options struct {
	CORSOrigins      []string
	RateLimitRPM     int
	AuthRateLimitRPM int
	RequestTimeout   time.Duration
	CookieSecure     bool
	Logger           *slog.Logger
	HealthChecks     map[string]HealthCheck
	// TrustedProxies lists the peers whose forwarding headers name the
	// client. Empty means every request is keyed by its socket address.
	TrustedProxies []netip.Prefix
}

const authPrefix = "/api/auth"

// NewRouter mounts every storeauthd route on a chi router.
func NewRouter(engine *storeauth.Engine, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	auth := NewAuthHandler(engine, opts.CookieSecure)
	throttle := newRequestThrottle(opts.RateLimitRPM, opts.AuthRateLimitRPM, authPrefix)
	onError := middleware.WithErrorHandler(guardError)

	requireAuth := middleware.Authenticate(engine, onError)
	requireCSRF := middleware.RequireCSRF(engine, onError)
	requireAdmin := middleware.RequireAdmin(onError)

	r := chi.NewRouter()
	r.Use(recovery(logger))
	r.Use(realIP(opts.TrustedProxies))
	r.Use(requestLogging(logger))
	r.Use(corsHandler(opts.CORSOrigins))
	r.Use(securityHeaders)
	r.Use(throttle.Handler)
	r.Use(clientContext)

	r.Get("/health", healthHandler(opts.HealthChecks))
	r.Method(http.MethodGet, "/metrics", prometheus.New(engine).Handler())

	r.Route("/api", func(api chi.Router) {
		api.Use(chimw.Timeout(timeout))

		api.Route("/auth", func(a chi.Router) {
			a.Post("/register", auth.Register)
			a.Post("/login", auth.Login)

			a.Group(func(p chi.Router) {
				p.Use(requireAuth)
				p.Get("/me", auth.Me)
				p.Get("/csrf", auth.CSRFToken)
				p.Get("/sessions", auth.Sessions)

				p.With(requireCSRF).Post("/logout", auth.Logout)
				p.With(requireCSRF).Post("/logout-all", auth.LogoutAll)
				p.With(requireCSRF).Post("/password", auth.ChangePassword)
			})
		})

		api.Route("/admin", func(a chi.Router) {
			a.Use(requireAuth, requireAdmin)
			a.Get("/sessions/{userID}", auth.AdminListSessions)
			a.With(requireCSRF).Delete("/sessions/{userID}", auth.AdminRevokeSessions)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusNotFound, "NOT_FOUND", "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
	})

	return r
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := make(map[string]string, len(checks))
		healthy := true
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status[name] = err.Error()
				healthy = false
				continue
			}
			status[name] = "ok"
		}
		if !healthy {
			writeJSON(w, http.StatusServiceUnavailable, APIResponse{
				Data:  status,
				Error: &APIError{Code: "UNHEALTHY", Message: "Dependency check failed"},
			})
			return
		}
		writeSuccess(w, http.StatusOK, status)
	}
}
