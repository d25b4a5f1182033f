package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"

	"github.com/leafcart/storeauth"
	"github.com/leafcart/storeauth/middleware"
	"github.com/leafcart/storeauth/userstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testEmail    = "buyer@leafcart.test"
	testPassword = "Gr33n!Leaf"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
}

type testServer struct {
	handler http.Handler
	engine  *storeauth.Engine
	users   *userstore.Memory
}

func newTestServer(t *testing.T, mutate func(*Options)) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := storeauth.DefaultConfig()
	cfg.Token.Secret = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Iterations = 1000
	cfg.Session.JanitorInterval = 0

	users := userstore.NewMemory()
	engine, err := storeauth.New().WithConfig(cfg).WithUserProvider(users).WithLogger(logger).Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	opts := Options{
		RateLimitRPM:     10000,
		AuthRateLimitRPM: 10000,
		Logger:           logger,
	}
	if mutate != nil {
		mutate(&opts)
	}
	return &testServer{handler: NewRouter(engine, opts), engine: engine, users: users}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	return s.doFrom(t, "", method, path, body, headers)
}

// doFrom sends the request from remoteAddr; empty keeps the httptest default.
func (s *testServer) doFrom(t *testing.T, remoteAddr, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

type loggedIn struct {
	AccessToken string               `json:"accessToken"`
	SessionID   string               `json:"sessionId"`
	CSRFToken   string               `json:"csrfToken"`
	User        storeauth.UserRecord `json:"user"`
}

func (s *testServer) registerAndLogin(t *testing.T, email string) loggedIn {
	t.Helper()
	rec, _ := s.do(t, http.MethodPost, "/api/auth/register", registerRequest{Email: email, Password: testPassword, Name: "Buyer"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	return s.login(t, email)
}

func (s *testServer) login(t *testing.T, email string) loggedIn {
	t.Helper()
	rec, env := s.do(t, http.MethodPost, "/api/auth/login", loginRequest{Email: email, Password: testPassword}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out loggedIn
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func withCSRF(token, csrf string) map[string]string {
	h := bearer(token)
	h[middleware.CSRFHeader] = csrf
	return h
}

func TestRegisterEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	rec, env := s.do(t, http.MethodPost, "/api/auth/register", registerRequest{Email: testEmail, Password: testPassword, Name: "Buyer"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, env.Success)
	assert.NotContains(t, string(env.Data), "passwordHash")
	assert.NotContains(t, string(env.Data), testPassword)

	rec, env = s.do(t, http.MethodPost, "/api/auth/register", registerRequest{Email: testEmail, Password: testPassword, Name: "Buyer"}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_EXISTS", env.Error.Code)

	rec, env = s.do(t, http.MethodPost, "/api/auth/register", registerRequest{Email: "weak@leafcart.test", Password: "password", Name: "Weak"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "WEAK_PASSWORD", env.Error.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader("{not json"))
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginSetsCookieAndCSRF(t *testing.T) {
	s := newTestServer(t, nil)
	rec, _ := s.do(t, http.MethodPost, "/api/auth/register", registerRequest{Email: testEmail, Password: testPassword, Name: "Buyer"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, env := s.do(t, http.MethodPost, "/api/auth/login", loginRequest{Email: testEmail, Password: testPassword}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out loggedIn
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.NotEmpty(t, out.AccessToken)
	assert.NotEmpty(t, out.CSRFToken)
	assert.Equal(t, testEmail, out.User.Email)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, middleware.AccessTokenCookie, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, out.AccessToken, cookies[0].Value)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.AddCookie(cookies[0])
	meRec := httptest.NewRecorder()
	s.handler.ServeHTTP(meRec, req)
	assert.Equal(t, http.StatusOK, meRec.Code)
}

func TestLoginFailuresAndLockout(t *testing.T) {
	s := newTestServer(t, nil)
	s.registerAndLogin(t, testEmail)

	for i := 0; i < 5; i++ {
		rec, env := s.do(t, http.MethodPost, "/api/auth/login", loginRequest{Email: testEmail, Password: "Wr0ng!pass"}, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, "INVALID_CREDENTIALS", env.Error.Code)
	}

	rec, env := s.do(t, http.MethodPost, "/api/auth/login", loginRequest{Email: testEmail, Password: testPassword}, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "LOGIN_BLOCKED", env.Error.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestMeRequiresToken(t *testing.T) {
	s := newTestServer(t, nil)

	rec, env := s.do(t, http.MethodGet, "/api/auth/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)

	rec, _ = s.do(t, http.MethodGet, "/api/auth/me", nil, bearer("forged.token.value"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutRequiresCSRF(t *testing.T) {
	s := newTestServer(t, nil)
	session := s.registerAndLogin(t, testEmail)

	rec, env := s.do(t, http.MethodPost, "/api/auth/logout", nil, bearer(session.AccessToken))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)

	rec, _ = s.do(t, http.MethodPost, "/api/auth/logout", nil, withCSRF(session.AccessToken, session.CSRFToken))
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = s.do(t, http.MethodGet, "/api/auth/me", nil, bearer(session.AccessToken))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSessionsAndLogoutAll(t *testing.T) {
	s := newTestServer(t, nil)
	first := s.registerAndLogin(t, testEmail)
	second := s.login(t, testEmail)

	rec, env := s.do(t, http.MethodGet, "/api/auth/sessions", nil, bearer(second.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code)
	var sessions []sessionView
	require.NoError(t, json.Unmarshal(env.Data, &sessions))
	require.Len(t, sessions, 2)
	current := 0
	for _, sv := range sessions {
		if sv.Current {
			current++
			assert.Equal(t, second.SessionID, sv.ID)
		}
	}
	assert.Equal(t, 1, current)

	rec, env = s.do(t, http.MethodPost, "/api/auth/logout-all", nil, withCSRF(second.AccessToken, second.CSRFToken))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"revoked":2}`, string(env.Data))

	rec, _ = s.do(t, http.MethodGet, "/api/auth/me", nil, bearer(first.AccessToken))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChangePasswordEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	session := s.registerAndLogin(t, testEmail)

	rec, env := s.do(t, http.MethodPost, "/api/auth/password",
		changePasswordRequest{CurrentPassword: "Wr0ng!pass", NewPassword: "N3w!Bloom"},
		withCSRF(session.AccessToken, session.CSRFToken))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", env.Error.Code)

	rec, env = s.do(t, http.MethodPost, "/api/auth/password",
		changePasswordRequest{CurrentPassword: testPassword, NewPassword: testPassword},
		withCSRF(session.AccessToken, session.CSRFToken))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "PASSWORD_REUSE", env.Error.Code)

	rec, _ = s.do(t, http.MethodPost, "/api/auth/password",
		changePasswordRequest{CurrentPassword: testPassword, NewPassword: "N3w!Bloom"},
		withCSRF(session.AccessToken, session.CSRFToken))
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = s.do(t, http.MethodGet, "/api/auth/me", nil, bearer(session.AccessToken))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminSessionRoutes(t *testing.T) {
	s := newTestServer(t, nil)
	customer := s.registerAndLogin(t, testEmail)
	staff := s.registerAndLogin(t, "staff@leafcart.test")

	path := "/api/admin/sessions/" + customer.User.UserID
	rec, _ := s.do(t, http.MethodGet, path, nil, bearer(staff.AccessToken))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	require.NoError(t, s.users.SetAdmin(staff.User.UserID, true))
	staff = s.login(t, "staff@leafcart.test")

	rec, env := s.do(t, http.MethodGet, path, nil, bearer(staff.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code)
	var sessions []sessionView
	require.NoError(t, json.Unmarshal(env.Data, &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, customer.SessionID, sessions[0].ID)

	rec, _ = s.do(t, http.MethodDelete, path, nil, bearer(staff.AccessToken))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, env = s.do(t, http.MethodDelete, path, nil, withCSRF(staff.AccessToken, staff.CSRFToken))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"revoked":1}`, string(env.Data))

	rec, _ = s.do(t, http.MethodGet, "/api/auth/me", nil, bearer(customer.AccessToken))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequestThrottle(t *testing.T) {
	s := newTestServer(t, func(o *Options) { o.AuthRateLimitRPM = 2 })

	for i := 0; i < 2; i++ {
		rec, _ := s.do(t, http.MethodGet, "/api/auth/me", nil, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec, env := s.do(t, http.MethodGet, "/api/auth/me", nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMITED", env.Error.Code)

	// A forged header does not buy a fresh budget.
	rec, _ = s.do(t, http.MethodGet, "/api/auth/me", nil, map[string]string{"X-Forwarded-For": "198.51.100.7"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec, _ = s.doFrom(t, "198.51.100.7:4000", http.MethodGet, "/api/auth/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestForgedForwardingHeaderCannotLockOutClient(t *testing.T) {
	s := newTestServer(t, nil)
	const victim = "192.0.2.1"
	rec, _ := s.do(t, http.MethodPost, "/api/auth/register", registerRequest{Email: testEmail, Password: testPassword, Name: "Buyer"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	forged := map[string]string{"X-Forwarded-For": victim, "X-Real-IP": victim}
	for i := 0; i < storeauth.DefaultIPMaxAttempts; i++ {
		body := loginRequest{Email: fmt.Sprintf("guess%d@leafcart.test", i), Password: "Wr0ng!pass"}
		rec, _ := s.doFrom(t, "198.51.100.66:4000", http.MethodPost, "/api/auth/login", body, forged)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec, _ = s.doFrom(t, victim+":5555", http.MethodPost, "/api/auth/login", loginRequest{Email: testEmail, Password: testPassword}, nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, env := s.doFrom(t, "198.51.100.66:4000", http.MethodPost, "/api/auth/login", loginRequest{Email: testEmail, Password: testPassword}, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotNil(t, env.Error)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, func(o *Options) {
		o.HealthChecks = map[string]HealthCheck{
			"redis": func(context.Context) error { return nil },
		}
	})
	rec, env := s.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"redis":"ok"}`, string(env.Data))

	s.registerAndLogin(t, testEmail)
	rec, _ = s.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "storeauth_login_success_total 1")

	down := newTestServer(t, func(o *Options) {
		o.HealthChecks = map[string]HealthCheck{
			"postgres": func(context.Context) error { return errors.New("connection refused") },
		}
	})
	rec, env = down.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "UNHEALTHY", env.Error.Code)
}

func TestNotFoundEnvelope(t *testing.T) {
	s := newTestServer(t, nil)
	rec, env := s.do(t, http.MethodGet, "/api/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.10:5555"
	r.Header.Set("X-Real-IP", "203.0.113.5")
	r.Header.Set("X-Forwarded-For", "198.51.100.1")
	assert.Equal(t, "192.0.2.10", clientIP(r))

	r.RemoteAddr = "192.0.2.10"
	assert.Equal(t, "192.0.2.10", clientIP(r))
}

func TestRealIP(t *testing.T) {
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}
	resolve := func(remote string, headers map[string]string) string {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = remote
		for k, v := range headers {
			r.Header.Set(k, v)
		}
		var got string
		realIP(trusted)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			got = clientIP(r)
		})).ServeHTTP(httptest.NewRecorder(), r)
		return got
	}

	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{"untrusted peer keeps socket address", "192.0.2.10:5555", map[string]string{"X-Forwarded-For": "198.51.100.1"}, "192.0.2.10"},
		{"trusted peer without headers", "10.0.0.5:5555", nil, "10.0.0.5"},
		{"rightmost untrusted hop", "10.0.0.5:5555", map[string]string{"X-Forwarded-For": "203.0.113.50, 198.51.100.9, 10.0.0.7"}, "198.51.100.9"},
		{"every hop trusted", "10.0.0.5:5555", map[string]string{"X-Forwarded-For": "10.1.1.1, 10.0.0.7"}, "10.1.1.1"},
		{"garbage hop falls back to peer", "10.0.0.5:5555", map[string]string{"X-Forwarded-For": "not-an-ip"}, "10.0.0.5"},
		{"real ip header", "10.0.0.5:5555", map[string]string{"X-Real-IP": "198.51.100.3"}, "198.51.100.3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolve(tt.remote, tt.headers))
		})
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.5:5555"
	r.Header.Set("X-Forwarded-For", "198.51.100.1")
	realIP(nil)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "10.0.0.5", clientIP(r))
	})).ServeHTTP(httptest.NewRecorder(), r)
}
