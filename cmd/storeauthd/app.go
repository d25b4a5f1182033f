package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/leafcart/storeauth"
	"github.com/leafcart/storeauth/internal/config"
	"github.com/leafcart/storeauth/internal/httpapi"
	"github.com/leafcart/storeauth/userstore"
	"github.com/redis/go-redis/v9"
)

type app struct {
	cfg          *config.Config
	server       *http.Server
	engine       *storeauth.Engine
	cleanupFuncs []func()
}

func newApp(cfg *config.Config) (*app, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	a := &app{cfg: cfg}
	checks := map[string]httpapi.HealthCheck{}

	var rdb redis.UniversalClient
	if cfg.RedisAddr != "" {
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    strings.Split(cfg.RedisAddr, ","),
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("failed to reach redis: %w", err)
		}
		a.cleanupFuncs = append(a.cleanupFuncs, func() { _ = rdb.Close() })
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		slog.Info("redis ready", "addr", cfg.RedisAddr)
	} else {
		slog.Warn("REDIS_ADDR not set, limiter, session and csrf state is process-local")
	}

	var (
		users   storeauth.UserProvider
		promote func(ctx context.Context, userID string) error
	)
	if cfg.DatabaseURL != "" {
		slog.Info("connecting to PostgreSQL")
		pool, err := userstore.Connect(ctx, cfg.DatabaseURL, userstore.PoolConfig{
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		})
		if err != nil {
			a.cleanup()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.cleanupFuncs = append(a.cleanupFuncs, pool.Close)

		pg := userstore.NewPostgres(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			a.cleanup()
			return nil, fmt.Errorf("failed to ensure database schema: %w", err)
		}
		users = pg
		promote = func(ctx context.Context, userID string) error { return pg.SetAdmin(ctx, userID, true) }
		checks["postgres"] = pool.Ping
		slog.Info("database ready")
	} else {
		mem := userstore.NewMemory()
		users = mem
		promote = func(_ context.Context, userID string) error { return mem.SetAdmin(userID, true) }
		slog.Warn("DATABASE_URL not set, accounts are kept in memory")
	}

	authCfg := storeauth.DefaultConfig()
	authCfg.Token.Secret = []byte(cfg.SecretKey)
	authCfg.Token.TTL = cfg.TokenTTL
	authCfg.Token.Issuer = cfg.TokenIssuer
	authCfg.RateLimit.IPMaxAttempts = cfg.LoginIPMaxAttempts

	builder := storeauth.New().
		WithConfig(authCfg).
		WithUserProvider(users).
		WithLogger(slog.Default())
	if rdb != nil {
		builder = builder.WithRedis(rdb)
	}
	if cfg.AuditEnabled {
		builder = builder.WithAuditSink(storeauth.NewSlogSink(slog.Default().With("component", "audit")))
	}

	engine, err := builder.Build()
	if err != nil {
		a.cleanup()
		return nil, fmt.Errorf("failed to initialize auth engine: %w", err)
	}
	a.engine = engine

	if cfg.AdminEmail != "" {
		promoteAdmin(ctx, users, promote, cfg.AdminEmail)
	}

	handler := httpapi.NewRouter(engine, httpapi.Options{
		CORSOrigins:      cfg.CORSOrigins,
		RateLimitRPM:     cfg.RateLimitRPM,
		AuthRateLimitRPM: cfg.AuthRateLimitRPM,
		RequestTimeout:   cfg.RequestTimeout,
		CookieSecure:     cfg.CookieSecure,
		Logger:           slog.Default(),
		HealthChecks:     checks,
		TrustedProxies:   cfg.TrustedProxies,
	})

	a.server = &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ServerReadHeaderTimeout,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}
	return a, nil
}

// promoteAdmin grants the admin flag to an existing account. A missing
// account is not fatal; the operator can register it and restart.
func promoteAdmin(ctx context.Context, users storeauth.UserProvider, promote func(context.Context, string) error, email string) {
	user, err := users.GetUserByEmail(ctx, strings.ToLower(email))
	if errors.Is(err, storeauth.ErrUserNotFound) {
		slog.Warn("admin account not registered yet", "email", email)
		return
	}
	if err != nil {
		slog.Error("admin lookup failed", "error", err)
		return
	}
	if user.IsAdmin {
		return
	}
	if err := promote(ctx, user.UserID); err != nil {
		slog.Error("admin promotion failed", "user_id", user.UserID, "error", err)
		return
	}
	slog.Info("admin account promoted", "user_id", user.UserID)
}

func (a *app) run() error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err, ok := <-errCh:
		if ok {
			a.shutdownEngine()
			a.cleanup()
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-stop:
		slog.Info("shutdown requested", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	shutdownErr := a.server.Shutdown(ctx)
	a.shutdownEngine()
	a.cleanup()
	if shutdownErr != nil {
		return fmt.Errorf("graceful shutdown failed: %w", shutdownErr)
	}

	slog.Info("server stopped")
	return nil
}

func (a *app) shutdownEngine() {
	if a.engine == nil {
		return
	}
	a.engine.Close()
	if dropped := a.engine.AuditDropped(); dropped > 0 {
		slog.Warn("audit events dropped", "count", dropped)
	}
}

func (a *app) cleanup() {
	for i := len(a.cleanupFuncs) - 1; i >= 0; i-- {
		a.cleanupFuncs[i]()
	}
	a.cleanupFuncs = nil
}
