package storeauth

import (
	"errors"
	"time"

	"github.com/leafcart/storeauth/csrf"
	"github.com/leafcart/storeauth/jwt"
	"github.com/leafcart/storeauth/limiter"
	"github.com/leafcart/storeauth/password"
	"github.com/leafcart/storeauth/session"
)

// Config holds every Engine setting.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	Token     TokenConfig
	Password  PasswordConfig
	Session   SessionConfig
	RateLimit RateLimitConfig
	CSRF      CSRFConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

// TokenConfig configures access token signing.
type TokenConfig struct {
	// Secret is the HMAC key. It is required and must be at least 32 bytes.
	Secret []byte
	TTL    time.Duration
	Issuer string
	Leeway time.Duration
}

// PasswordConfig configures PBKDF2 cost.
type PasswordConfig struct {
	Iterations int
	SaltLength int
	KeyLength  int
}

// SessionConfig configures server-side sessions.
type SessionConfig struct {
	TTL time.Duration
	// RequireActiveSession makes Authenticate reject tokens whose session was
	// revoked or has expired.
	RequireActiveSession bool
	// TrackActivity stamps the session on every successful Authenticate.
	TrackActivity bool
	// JanitorInterval is how often in-memory stores are swept. Zero disables
	// the janitor.
	JanitorInterval time.Duration
}

// RateLimitConfig configures login throttling.
type RateLimitConfig struct {
	MaxAttempts   int
	BlockStep     time.Duration
	MaxBlock      time.Duration
	AttemptWindow time.Duration
	// EnableIPThrottle also counts failures per client IP.
	EnableIPThrottle bool
	// IPMaxAttempts is the failure count at which a client IP is blocked.
	// Many shoppers can share one address, so it sits well above MaxAttempts.
	IPMaxAttempts int
}

// CSRFConfig configures anti-forgery tokens.
type CSRFConfig struct {
	TTL       time.Duration
	SingleUse bool
}

// AuditConfig controls asynchronous audit delivery.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns production defaults without a token secret.
func DefaultConfig() Config {
	pw := password.DefaultConfig()
	lp := limiter.DefaultPolicy()
	return Config{
		Token: TokenConfig{
			TTL: jwt.DefaultTTL,
		},
		Password: PasswordConfig{
			Iterations: pw.Iterations,
			SaltLength: pw.SaltLength,
			KeyLength:  pw.KeyLength,
		},
		Session: SessionConfig{
			TTL:                  session.DefaultTTL,
			RequireActiveSession: true,
			TrackActivity:        true,
			JanitorInterval:      time.Minute,
		},
		RateLimit: RateLimitConfig{
			MaxAttempts:      lp.MaxAttempts,
			BlockStep:        lp.BlockStep,
			MaxBlock:         lp.MaxBlock,
			AttemptWindow:    lp.AttemptWindow,
			EnableIPThrottle: true,
			IPMaxAttempts:    DefaultIPMaxAttempts,
		},
		CSRF: CSRFConfig{
			TTL: csrf.DefaultTTL,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.Secret = cloneBytes(cfg.Token.Secret)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// DefaultIPMaxAttempts is the default per-address failure threshold.
const DefaultIPMaxAttempts = 20

func (c RateLimitConfig) ipPolicy() limiter.Policy {
	p := c.policy()
	p.MaxAttempts = c.IPMaxAttempts
	return p
}

func (c RateLimitConfig) policy() limiter.Policy {
	return limiter.Policy{
		MaxAttempts:   c.MaxAttempts,
		BlockStep:     c.BlockStep,
		MaxBlock:      c.MaxBlock,
		AttemptWindow: c.AttemptWindow,
	}
}

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	if len(c.Token.Secret) == 0 {
		return jwt.ErrMissingSecret
	}
	if len(c.Token.Secret) < jwt.MinSecretLength {
		return jwt.ErrWeakSecret
	}
	if c.Token.TTL <= 0 {
		return errors.New("Token.TTL must be > 0")
	}
	if c.Token.Leeway < 0 || c.Token.Leeway > 2*time.Minute {
		return errors.New("Token.Leeway must be between 0 and 2m")
	}

	if c.Password.Iterations < 1000 {
		return errors.New("Password.Iterations must be >= 1000")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password.SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password.KeyLength must be >= 16")
	}

	if c.Session.TTL <= 0 {
		return errors.New("Session.TTL must be > 0")
	}
	if c.Session.JanitorInterval < 0 {
		return errors.New("Session.JanitorInterval must be >= 0")
	}

	if err := c.RateLimit.policy().Validate(); err != nil {
		return err
	}
	if c.RateLimit.EnableIPThrottle && c.RateLimit.IPMaxAttempts < c.RateLimit.MaxAttempts {
		return errors.New("RateLimit.IPMaxAttempts must be >= MaxAttempts")
	}

	if c.CSRF.TTL <= 0 {
		return errors.New("CSRF.TTL must be > 0")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit.BufferSize must be > 0 when audit is enabled")
	}
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics.EnableLatencyHistograms requires Metrics.Enabled")
	}
	return nil
}
