package httpapi

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/leafcart/storeauth"
	"github.com/leafcart/storeauth/middleware"
	"github.com/rs/cors"
	"golang.org/x/time/rate"
)

const requestIDHeader = "X-Request-ID"

func recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", "error", fmt.Sprint(rec), "stack", string(debug.Stack()))
					writeStatus(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Unexpected server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if sw.wroteHeader {
		return
	}
	sw.status = code
	sw.wroteHeader = true
	sw.ResponseWriter.WriteHeader(code)
}

func requestLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(requestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, requestID)

			started := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			attrs := []any{
				"request_id", requestID,
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration_ms", time.Since(started).Milliseconds(),
				"client_ip", clientIP(r),
			}
			switch {
			case sw.status >= 500:
				logger.Error("request", attrs...)
			case sw.status >= 400:
				logger.Warn("request", attrs...)
			default:
				logger.Info("request", attrs...)
			}
		})
	}
}

// clientContext attaches the caller address and user agent for the Engine.
func clientContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := storeauth.WithClientIP(r.Context(), clientIP(r))
		ctx = storeauth.WithUserAgent(ctx, r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func corsHandler(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	wildcard := len(origins) == 1 && origins[0] == "*"
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", requestIDHeader, middleware.CSRFHeader},
		ExposedHeaders:   []string{requestIDHeader},
		MaxAge:           3600,
		AllowCredentials: !wildcard,
	}).Handler
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

type clientLimiter struct {
	general  *rate.Limiter
	auth     *rate.Limiter
	lastSeen time.Time
}

// requestThrottle caps request rate per client address. Auth routes get a
// tighter budget than the rest of the API.
type requestThrottle struct {
	generalRPM int
	authRPM    int
	authPrefix string

	mu      sync.Mutex
	clients map[string]*clientLimiter
}

func newRequestThrottle(generalRPM, authRPM int, authPrefix string) *requestThrottle {
	if generalRPM <= 0 {
		generalRPM = 120
	}
	if authRPM <= 0 {
		authRPM = 20
	}
	return &requestThrottle{
		generalRPM: generalRPM,
		authRPM:    authRPM,
		authPrefix: authPrefix,
		clients:    make(map[string]*clientLimiter),
	}
}

func (t *requestThrottle) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := t.limiter(clientIP(r))
		target := l.general
		if strings.HasPrefix(r.URL.Path, t.authPrefix) {
			target = l.auth
		}
		if !target.Allow() {
			w.Header().Set("Retry-After", "60")
			writeStatus(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (t *requestThrottle) limiter(ip string) *clientLimiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if l, ok := t.clients[ip]; ok {
		l.lastSeen = now
		return l
	}
	l := &clientLimiter{
		general:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(t.generalRPM)), t.generalRPM),
		auth:     rate.NewLimiter(rate.Every(time.Minute/time.Duration(t.authRPM)), t.authRPM),
		lastSeen: now,
	}
	t.clients[ip] = l
	t.gcLocked(now)
	return l
}

func (t *requestThrottle) gcLocked(now time.Time) {
	if len(t.clients) < 1000 {
		return
	}
	cutoff := now.Add(-10 * time.Minute)
	for ip, l := range t.clients {
		if l.lastSeen.Before(cutoff) {
			delete(t.clients, ip)
		}
	}
}

// realIP rewrites RemoteAddr from X-Forwarded-For or X-Real-IP, but only
// when the connecting peer is one of the trusted proxies. With no trusted
// proxies the headers are ignored and the socket address stands.
func realIP(trusted []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(trusted) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ip, ok := forwardedFor(r, trusted); ok {
				r.RemoteAddr = net.JoinHostPort(ip.String(), "0")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// forwardedFor walks X-Forwarded-For from the right and returns the first hop
// that is not a trusted proxy. Hops left of it were written by the client.
func forwardedFor(r *http.Request, trusted []netip.Prefix) (netip.Addr, bool) {
	peer, ok := parseAddr(clientIP(r))
	if !ok || !isTrusted(peer, trusted) {
		return netip.Addr{}, false
	}
	if fwd := r.Header.Values("X-Forwarded-For"); len(fwd) > 0 {
		hops := strings.Split(strings.Join(fwd, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop, ok := parseAddr(hops[i])
			if !ok {
				return netip.Addr{}, false
			}
			if !isTrusted(hop, trusted) || i == 0 {
				return hop, true
			}
		}
	}
	if hop, ok := parseAddr(r.Header.Get("X-Real-IP")); ok {
		return hop, true
	}
	return netip.Addr{}, false
}

func parseAddr(s string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

func isTrusted(addr netip.Addr, trusted []netip.Prefix) bool {
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// clientIP returns the host part of RemoteAddr, as set by the socket or by
// realIP for requests relayed through a trusted proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr == "" {
		return "unknown"
	}
	return r.RemoteAddr
}
