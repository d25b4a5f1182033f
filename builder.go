package storeauth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/leafcart/storeauth/csrf"
	internalaudit "github.com/leafcart/storeauth/internal/audit"
	"github.com/leafcart/storeauth/jwt"
	"github.com/leafcart/storeauth/limiter"
	"github.com/leafcart/storeauth/password"
	"github.com/leafcart/storeauth/session"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. A Builder can be built once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	userProvider UserProvider
	auditSink    AuditSink
	logger       *slog.Logger
	now          func() time.Time

	built bool
}

// New returns a Builder holding [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithSecret sets the token signing secret.
func (b *Builder) WithSecret(secret []byte) *Builder {
	b.config.Token.Secret = cloneBytes(secret)
	return b
}

// WithRedis stores attempts, sessions and CSRF tokens in Redis. Without it
// the Engine keeps them in process memory.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserProvider sets the user database. It is required.
func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.userProvider = up
	return b
}

// WithAuditSink sets where audit events go and enables auditing.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = sink != nil
	return b
}

// WithLogger sets the structured logger. The default is slog.Default().
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock replaces time.Now for every time-dependent decision.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled toggles in-process metrics.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	if !enabled {
		b.config.Metrics.EnableLatencyHistograms = false
	}
	return b
}

// Build validates the configuration and wires the Engine.
//
// Build returns an error when the secret is missing or weak, when no user
// provider is set, or when any setting is out of range.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.userProvider == nil {
		return nil, errors.New("user provider required")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	engine := &Engine{
		config:  cfg,
		users:   b.userProvider,
		logger:  logger,
		now:     now,
		metrics: NewMetrics(cfg.Metrics),
	}

	hasher, err := password.NewPBKDF2(password.Config{
		Iterations: cfg.Password.Iterations,
		SaltLength: cfg.Password.SaltLength,
		KeyLength:  cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	engine.hasher = hasher

	tokens, err := jwt.NewManager(jwt.Config{
		Secret:     cloneBytes(cfg.Token.Secret),
		DefaultTTL: cfg.Token.TTL,
		Issuer:     cfg.Token.Issuer,
		Leeway:     cfg.Token.Leeway,
		Now:        now,
	})
	if err != nil {
		return nil, err
	}
	engine.tokens = tokens

	var (
		attempts limiter.AttemptStore
		sessions session.Store
		csrfs    csrf.TokenStore
	)
	if b.redis != nil {
		attempts = limiter.NewRedisStore(b.redis)
		sessions = session.NewRedisStore(b.redis)
		csrfs = csrf.NewRedisStore(b.redis)
		logger.Info("storeauth using redis stores")
	} else {
		memAttempts := limiter.NewMemoryStore(now)
		memSessions := session.NewMemoryStore(now)
		memCSRF := csrf.NewMemoryStore(now)
		attempts, sessions, csrfs = memAttempts, memSessions, memCSRF

		if cfg.Session.JanitorInterval > 0 {
			ctx, cancel := context.WithCancel(context.Background())
			engine.stopJanitors = cancel
			for _, j := range []janitor{memAttempts, memSessions, memCSRF} {
				engine.janitors.Add(1)
				go func(j janitor) {
					defer engine.janitors.Done()
					j.RunJanitor(ctx, cfg.Session.JanitorInterval)
				}(j)
			}
		}
		logger.Info("storeauth using in-memory stores")
	}

	rl, err := limiter.New(attempts, limiter.Config{
		Policy: cfg.RateLimit.policy(),
		Now:    now,
		Logger: logger,
	})
	if err != nil {
		engine.stopBackground()
		return nil, err
	}
	engine.limiter = rl

	if cfg.RateLimit.EnableIPThrottle {
		ipl, err := limiter.New(attempts, limiter.Config{
			Policy: cfg.RateLimit.ipPolicy(),
			Now:    now,
			Logger: logger,
		})
		if err != nil {
			engine.stopBackground()
			return nil, err
		}
		engine.ipLimiter = ipl
	}

	engine.sessions = session.NewRegistry(sessions, session.Config{
		TTL:    cfg.Session.TTL,
		Now:    now,
		Logger: logger,
	})
	engine.csrf = csrf.NewGuard(csrfs, csrf.Options{
		TTL:       cfg.CSRF.TTL,
		SingleUse: cfg.CSRF.SingleUse,
		Now:       now,
		Logger:    logger,
	})

	if cfg.Audit.Enabled {
		engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink, logger)
	}

	b.built = true
	return engine, nil
}

type janitor interface {
	RunJanitor(ctx context.Context, interval time.Duration)
}
