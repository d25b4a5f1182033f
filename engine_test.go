package storeauth_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/leafcart/storeauth"
	"github.com/leafcart/storeauth/jwt"
	"github.com/leafcart/storeauth/userstore"
	"github.com/redis/go-redis/v9"
)

var (
	testSecret  = []byte("0123456789abcdef0123456789abcdef")
	quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
)

const (
	shopperEmail = "shopper@leafcart.test"
	shopperPass  = "Gr33n!Leaf"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	engine *storeauth.Engine
	users  *userstore.Memory
	clock  *fakeClock
}

func testConfig() storeauth.Config {
	cfg := storeauth.DefaultConfig()
	cfg.Token.Secret = testSecret
	cfg.Password.Iterations = 1000
	cfg.Session.JanitorInterval = 0
	return cfg
}

func newHarness(t *testing.T, configure func(*storeauth.Builder)) *harness {
	t.Helper()
	h := &harness{users: userstore.NewMemory(), clock: newFakeClock()}
	b := storeauth.New().
		WithConfig(testConfig()).
		WithUserProvider(h.users).
		WithLogger(quietLogger).
		WithClock(h.clock.Now)
	if configure != nil {
		configure(b)
	}
	e, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(e.Close)
	h.engine = e
	return h
}

func (h *harness) register(t *testing.T, email, password string) storeauth.UserRecord {
	t.Helper()
	u, err := h.engine.Register(context.Background(), storeauth.RegisterInput{
		Email:    email,
		Password: password,
		Name:     "Shopper",
	})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return u
}

func (h *harness) login(t *testing.T, email, password, ip string) *storeauth.LoginResult {
	t.Helper()
	res, err := h.engine.Login(context.Background(), storeauth.LoginInput{
		Email:     email,
		Password:  password,
		IP:        ip,
		UserAgent: "test-agent",
	})
	if err != nil {
		t.Fatalf("login %s: %v", email, err)
	}
	return res
}

func TestRegister(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	u, err := h.engine.Register(ctx, storeauth.RegisterInput{
		Email:    "  Shopper@LeafCart.test ",
		Password: shopperPass,
		Name:     "<b>Mary Jane</b>",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if u.Email != shopperEmail || u.Role != storeauth.RoleCustomer || u.IsAdmin {
		t.Fatalf("unexpected user %+v", u)
	}
	if u.Name != "bMary Jane/b" {
		t.Fatalf("expected sanitized name, got %q", u.Name)
	}
	if u.PasswordHash == "" || u.PasswordHash == shopperPass {
		t.Fatal("expected password to be stored hashed")
	}

	if _, err := h.engine.Register(ctx, storeauth.RegisterInput{Email: shopperEmail, Password: shopperPass, Name: "Again"}); !errors.Is(err, storeauth.ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
	if _, err := h.engine.Register(ctx, storeauth.RegisterInput{Email: "not-an-email", Password: shopperPass, Name: "Bad"}); !errors.Is(err, storeauth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for email, got %v", err)
	}
	if _, err := h.engine.Register(ctx, storeauth.RegisterInput{Email: "x@leafcart.test", Password: shopperPass, Name: "X"}); !errors.Is(err, storeauth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for name, got %v", err)
	}
	if _, err := h.engine.Register(ctx, storeauth.RegisterInput{Email: "y@leafcart.test", Password: "password", Name: "Weak"}); !errors.Is(err, storeauth.ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}

	snap := h.engine.MetricsSnapshot()
	if snap.Counters[storeauth.MetricRegisterSuccess] != 1 ||
		snap.Counters[storeauth.MetricRegisterDuplicate] != 1 ||
		snap.Counters[storeauth.MetricRegisterInvalid] != 3 {
		t.Fatalf("unexpected register counters %v", snap.Counters)
	}
}

func TestLoginAndAuthenticate(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	u := h.register(t, shopperEmail, shopperPass)

	res := h.login(t, "SHOPPER@leafcart.test", shopperPass, "10.0.0.1")
	if res.AccessToken == "" || res.SessionID == "" {
		t.Fatalf("unexpected login result %+v", res)
	}
	if want := h.clock.Now().Add(time.Hour); !res.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, res.ExpiresAt)
	}

	id, err := h.engine.Authenticate(ctx, res.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if id.UserID != u.UserID || id.Email != shopperEmail || id.SessionID != res.SessionID || id.Admin() {
		t.Fatalf("unexpected identity %+v", id)
	}

	sessions, err := h.engine.ListSessions(ctx, u.UserID)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].IPAddress != "10.0.0.1" || sessions[0].UserAgent != "test-agent" {
		t.Fatalf("unexpected sessions %+v", sessions)
	}
}

func TestAuthenticateTracksActivity(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	u := h.register(t, shopperEmail, shopperPass)
	res := h.login(t, shopperEmail, shopperPass, "10.0.0.1")

	h.clock.Advance(10 * time.Minute)
	if _, err := h.engine.Authenticate(ctx, res.AccessToken); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	sessions, _ := h.engine.ListSessions(ctx, u.UserID)
	if len(sessions) != 1 || !sessions[0].LastActivityAt.Equal(h.clock.Now()) {
		t.Fatalf("expected activity stamp at %v, got %+v", h.clock.Now(), sessions)
	}
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.register(t, shopperEmail, shopperPass)
	res := h.login(t, shopperEmail, shopperPass, "10.0.0.1")

	for _, token := range []string{"", "garbage", res.AccessToken + "x"} {
		if _, err := h.engine.Authenticate(ctx, token); !errors.Is(err, storeauth.ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized for %q, got %v", token, err)
		}
	}

	h.clock.Advance(time.Hour + time.Second)
	_, err := h.engine.Authenticate(ctx, res.AccessToken)
	if !errors.Is(err, storeauth.ErrUnauthorized) || !errors.Is(err, jwt.ErrTokenExpired) {
		t.Fatalf("expected expired token error, got %v", err)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.register(t, shopperEmail, shopperPass)

	_, err := h.engine.Login(ctx, storeauth.LoginInput{Email: shopperEmail, Password: "Wr0ng!pass"})
	if !errors.Is(err, storeauth.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	_, err = h.engine.Login(ctx, storeauth.LoginInput{Email: "ghost@leafcart.test", Password: shopperPass})
	if !errors.Is(err, storeauth.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}

	if got := h.engine.RemainingAttempts(ctx, "Shopper@LeafCart.test"); got != 4 {
		t.Fatalf("expected 4 remaining attempts, got %d", got)
	}
}

func TestLoginLockout(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.register(t, shopperEmail, shopperPass)

	for i := 0; i < 5; i++ {
		_, err := h.engine.Login(ctx, storeauth.LoginInput{Email: shopperEmail, Password: "Wr0ng!pass", IP: "10.0.0.2"})
		if !errors.Is(err, storeauth.ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}

	_, err := h.engine.Login(ctx, storeauth.LoginInput{Email: shopperEmail, Password: shopperPass, IP: "10.0.0.3"})
	if !errors.Is(err, storeauth.ErrLoginRateLimited) {
		t.Fatalf("expected ErrLoginRateLimited with the correct password, got %v", err)
	}
	if got := h.engine.RemainingAttempts(ctx, shopperEmail); got != 0 {
		t.Fatalf("expected no remaining attempts, got %d", got)
	}

	h.clock.Advance(5*time.Minute + time.Second)
	res := h.login(t, shopperEmail, shopperPass, "10.0.0.3")
	if res.AccessToken == "" {
		t.Fatal("expected login after block expiry")
	}
	if got := h.engine.RemainingAttempts(ctx, shopperEmail); got != 5 {
		t.Fatalf("expected counter reset after success, got %d", got)
	}

	snap := h.engine.MetricsSnapshot()
	if snap.Counters[storeauth.MetricLoginRateLimited] != 1 || snap.Counters[storeauth.MetricLoginFailure] != 5 {
		t.Fatalf("unexpected login counters %v", snap.Counters)
	}
}

func guessFrom(ctx context.Context, h *harness, n int, ip string) {
	for i := 0; i < n; i++ {
		_, _ = h.engine.Login(ctx, storeauth.LoginInput{
			Email:    fmt.Sprintf("guess%d@leafcart.test", i),
			Password: "Wr0ng!pass",
			IP:       ip,
		})
	}
}

func TestLoginIPThrottle(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.register(t, shopperEmail, shopperPass)

	threshold := testConfig().RateLimit.IPMaxAttempts
	guessFrom(ctx, h, threshold, "203.0.113.9")

	_, err := h.engine.Login(ctx, storeauth.LoginInput{Email: shopperEmail, Password: shopperPass, IP: "203.0.113.9"})
	if !errors.Is(err, storeauth.ErrLoginRateLimited) {
		t.Fatalf("expected the address to be blocked, got %v", err)
	}
	h.login(t, shopperEmail, shopperPass, "198.51.100.4")
}

func TestLoginSharedAddressBelowIPThreshold(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.register(t, shopperEmail, shopperPass)

	// More failures than one account tolerates, spread over many accounts.
	cfg := testConfig()
	if cfg.RateLimit.IPMaxAttempts <= cfg.RateLimit.MaxAttempts {
		t.Fatalf("ip threshold %d should exceed account threshold %d", cfg.RateLimit.IPMaxAttempts, cfg.RateLimit.MaxAttempts)
	}
	guessFrom(ctx, h, cfg.RateLimit.IPMaxAttempts-1, "203.0.113.9")
	h.login(t, shopperEmail, shopperPass, "203.0.113.9")
}

func TestLoginIPThrottleDisabled(t *testing.T) {
	h := newHarness(t, func(b *storeauth.Builder) {
		cfg := testConfig()
		cfg.RateLimit.EnableIPThrottle = false
		b.WithConfig(cfg)
	})
	ctx := context.Background()
	h.register(t, shopperEmail, shopperPass)

	guessFrom(ctx, h, testConfig().RateLimit.IPMaxAttempts+5, "203.0.113.9")
	h.login(t, shopperEmail, shopperPass, "203.0.113.9")
}

func TestLogout(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.register(t, shopperEmail, shopperPass)
	res := h.login(t, shopperEmail, shopperPass, "10.0.0.1")

	if err := h.engine.Logout(ctx, res.SessionID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := h.engine.Authenticate(ctx, res.AccessToken); !errors.Is(err, storeauth.ErrUnauthorized) {
		t.Fatalf("expected revoked session to be rejected, got %v", err)
	}
	if err := h.engine.Logout(ctx, "unknown-session"); err != nil {
		t.Fatalf("logout of unknown session: %v", err)
	}
}

func TestStatelessTokensWhenSessionNotRequired(t *testing.T) {
	h := newHarness(t, func(b *storeauth.Builder) {
		cfg := testConfig()
		cfg.Session.RequireActiveSession = false
		b.WithConfig(cfg)
	})
	ctx := context.Background()
	h.register(t, shopperEmail, shopperPass)
	res := h.login(t, shopperEmail, shopperPass, "10.0.0.1")

	if err := h.engine.Logout(ctx, res.SessionID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := h.engine.Authenticate(ctx, res.AccessToken); err != nil {
		t.Fatalf("expected token to stay valid without session checks, got %v", err)
	}
}

func TestLogoutAll(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	u := h.register(t, shopperEmail, shopperPass)
	a := h.login(t, shopperEmail, shopperPass, "10.0.0.1")
	b := h.login(t, shopperEmail, shopperPass, "10.0.0.2")

	n, err := h.engine.LogoutAll(ctx, u.UserID)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 revoked sessions, got %d %v", n, err)
	}
	for _, token := range []string{a.AccessToken, b.AccessToken} {
		if _, err := h.engine.Authenticate(ctx, token); !errors.Is(err, storeauth.ErrUnauthorized) {
			t.Fatalf("expected token to be rejected after logout-all, got %v", err)
		}
	}
}

func TestChangePassword(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	u := h.register(t, shopperEmail, shopperPass)
	res := h.login(t, shopperEmail, shopperPass, "10.0.0.1")
	const next = "N3w!Bloom"

	if err := h.engine.ChangePassword(ctx, u.UserID, "Wr0ng!pass", next); !errors.Is(err, storeauth.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := h.engine.ChangePassword(ctx, u.UserID, shopperPass, shopperPass); !errors.Is(err, storeauth.ErrPasswordReuse) {
		t.Fatalf("expected ErrPasswordReuse, got %v", err)
	}
	if err := h.engine.ChangePassword(ctx, u.UserID, shopperPass, "short"); !errors.Is(err, storeauth.ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
	if err := h.engine.ChangePassword(ctx, "missing", shopperPass, next); !errors.Is(err, storeauth.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for unknown user, got %v", err)
	}

	if err := h.engine.ChangePassword(ctx, u.UserID, shopperPass, next); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if _, err := h.engine.Authenticate(ctx, res.AccessToken); !errors.Is(err, storeauth.ErrUnauthorized) {
		t.Fatalf("expected old session to be revoked, got %v", err)
	}
	if _, err := h.engine.Login(ctx, storeauth.LoginInput{Email: shopperEmail, Password: shopperPass}); !errors.Is(err, storeauth.ErrInvalidCredentials) {
		t.Fatalf("expected old password to fail, got %v", err)
	}
	h.login(t, shopperEmail, next, "10.0.0.1")
}

func TestCSRFTokens(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.register(t, shopperEmail, shopperPass)
	res := h.login(t, shopperEmail, shopperPass, "10.0.0.1")

	token, err := h.engine.IssueCSRFToken(ctx, res.SessionID)
	if err != nil {
		t.Fatalf("issue csrf: %v", err)
	}
	if !h.engine.ValidateCSRFToken(ctx, token, res.SessionID) {
		t.Fatal("expected csrf token to validate")
	}
	if h.engine.ValidateCSRFToken(ctx, token, "other-session") {
		t.Fatal("expected csrf token bound to its session")
	}
	if _, err := h.engine.IssueCSRFToken(ctx, ""); !errors.Is(err, storeauth.ErrCSRFUnavailable) {
		t.Fatalf("expected ErrCSRFUnavailable, got %v", err)
	}

	h.clock.Advance(time.Hour + time.Second)
	if h.engine.ValidateCSRFToken(ctx, token, res.SessionID) {
		t.Fatal("expected expired csrf token to fail")
	}
}

func TestAuditEvents(t *testing.T) {
	sink := storeauth.NewChannelSink(16)
	h := newHarness(t, func(b *storeauth.Builder) {
		b.WithAuditSink(sink)
	})
	ctx := context.Background()
	u := h.register(t, shopperEmail, shopperPass)
	h.login(t, shopperEmail, shopperPass, "10.0.0.7")

	want := []string{storeauth.AuditRegister, storeauth.AuditLoginSuccess}
	for _, eventType := range want {
		select {
		case ev := <-sink.Events():
			if ev.EventType != eventType || ev.UserID != u.UserID || !ev.Success {
				t.Fatalf("unexpected event %+v, want %s", ev, eventType)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", eventType)
		}
	}

	_, _ = h.engine.Login(ctx, storeauth.LoginInput{Email: shopperEmail, Password: "Wr0ng!pass", IP: "10.0.0.7"})
	select {
	case ev := <-sink.Events():
		if ev.EventType != storeauth.AuditLoginFailure || ev.Success || ev.IP != "10.0.0.7" {
			t.Fatalf("unexpected failure event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for login failure event")
	}
}

func TestEngineWithRedisStores(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := newHarness(t, func(b *storeauth.Builder) {
		b.WithRedis(rdb)
	})
	ctx := context.Background()
	u := h.register(t, shopperEmail, shopperPass)
	res := h.login(t, shopperEmail, shopperPass, "10.0.0.1")

	if _, err := h.engine.Authenticate(ctx, res.AccessToken); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	token, err := h.engine.IssueCSRFToken(ctx, res.SessionID)
	if err != nil || !h.engine.ValidateCSRFToken(ctx, token, res.SessionID) {
		t.Fatalf("csrf round trip failed: %v", err)
	}

	_, _ = h.engine.Login(ctx, storeauth.LoginInput{Email: shopperEmail, Password: "Wr0ng!pass"})
	if got := h.engine.RemainingAttempts(ctx, shopperEmail); got != 4 {
		t.Fatalf("expected 4 remaining attempts, got %d", got)
	}

	if n, err := h.engine.LogoutAll(ctx, u.UserID); err != nil || n != 1 {
		t.Fatalf("logout all: %d %v", n, err)
	}
	if _, err := h.engine.Authenticate(ctx, res.AccessToken); !errors.Is(err, storeauth.ErrUnauthorized) {
		t.Fatalf("expected revoked session to be rejected, got %v", err)
	}
}

func TestBuildValidation(t *testing.T) {
	users := userstore.NewMemory()

	if _, err := storeauth.New().WithUserProvider(users).Build(); !errors.Is(err, jwt.ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
	if _, err := storeauth.New().WithSecret([]byte("short")).WithUserProvider(users).Build(); !errors.Is(err, jwt.ErrWeakSecret) {
		t.Fatalf("expected ErrWeakSecret, got %v", err)
	}
	if _, err := storeauth.New().WithSecret(testSecret).Build(); err == nil {
		t.Fatal("expected missing user provider to fail")
	}

	b := storeauth.New().WithConfig(testConfig()).WithUserProvider(users).WithLogger(quietLogger)
	e, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer e.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("expected a second Build to fail")
	}
	if e.Config().Token.Secret != nil {
		t.Fatal("expected Config to omit the secret")
	}
}

func TestJanitorStopsOnClose(t *testing.T) {
	cfg := testConfig()
	cfg.Session.JanitorInterval = 10 * time.Millisecond
	e, err := storeauth.New().WithConfig(cfg).WithUserProvider(userstore.NewMemory()).WithLogger(quietLogger).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		e.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not stop janitors")
	}
}
