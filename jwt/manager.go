package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// MinSecretLength is the shortest accepted HMAC secret, in bytes.
	MinSecretLength = 32
	// DefaultTTL is applied when a token is created without a positive TTL.
	DefaultTTL = time.Hour

	maxTokenLength = 8192
)

var (
	// ErrMissingSecret is returned by NewManager when no signing secret is configured.
	ErrMissingSecret = errors.New("token signing secret is required")
	// ErrWeakSecret is returned by NewManager when the secret is shorter than MinSecretLength.
	ErrWeakSecret = errors.New("token signing secret is too short")

	// ErrTokenMalformed reports a token that is not three decodable JWT segments.
	ErrTokenMalformed = errors.New("token malformed")
	// ErrTokenSignature reports a signature that does not match the header and payload.
	ErrTokenSignature = errors.New("token signature invalid")
	// ErrTokenExpired reports a correctly signed token past its exp claim.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid reports any other claim validation failure.
	ErrTokenInvalid = errors.New("token invalid")
)

// Config defines the token signing parameters.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	Secret     []byte
	DefaultTTL time.Duration
	Issuer     string
	Leeway     time.Duration
	Now        func() time.Time
}

// Manager creates and verifies tokens.
//
// Manager is safe for concurrent use.
type Manager struct {
	config Config
	parser *jwt.Parser
}

// NewManager validates cfg and returns a Manager.
//
// NewManager returns ErrMissingSecret or ErrWeakSecret for an unusable secret.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Secret) == 0 {
		return nil, ErrMissingSecret
	}
	if len(cfg.Secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)
	cfg.Secret = secret

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(cfg.Now),
		jwt.WithIssuedAt(),
	}
	if cfg.Leeway > 0 {
		options = append(options, jwt.WithLeeway(cfg.Leeway))
	}
	if cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(cfg.Issuer))
	}

	return &Manager{config: cfg, parser: jwt.NewParser(options...)}, nil
}

// Create signs claims into a token valid for ttl. A zero ttl uses the
// configured default; a negative ttl yields a token that is already expired.
// Reserved claims supplied by the caller are overwritten.
func (m *Manager) Create(claims Claims, ttl time.Duration) (string, error) {
	switch {
	case ttl == 0:
		ttl = m.config.DefaultTTL
	case ttl > 0 && ttl < time.Second:
		// exp and iat have second precision on the wire.
		ttl = time.Second
	}

	payload := make(jwt.MapClaims, len(claims)+4)
	for k, v := range claims {
		if isReserved(k) {
			continue
		}
		payload[k] = v
	}

	now := m.config.Now()
	payload[ClaimIssuedAt] = jwt.NewNumericDate(now)
	payload[ClaimExpiresAt] = jwt.NewNumericDate(now.Add(ttl))
	payload[ClaimTokenID] = uuid.NewString()
	if m.config.Issuer != "" {
		payload[ClaimIssuer] = m.config.Issuer
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, payload)
	return token.SignedString(m.config.Secret)
}

// CreateWithTTL is Create with a shorthand TTL such as "15m", "12h" or "7d".
func (m *Manager) CreateWithTTL(claims Claims, ttl string) (string, error) {
	return m.Create(claims, ParseTTL(ttl))
}

// Parse verifies token and returns its claims.
//
// Parse returns an error wrapping ErrTokenMalformed, ErrTokenSignature,
// ErrTokenExpired or ErrTokenInvalid.
func (m *Manager) Parse(token string) (Claims, error) {
	if token == "" || len(token) > maxTokenLength {
		return nil, ErrTokenMalformed
	}

	parsed, err := m.parser.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.config.Secret, nil
	})
	if err != nil {
		return nil, classify(err)
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}

	return Claims(mapClaims), nil
}

// Verify reports the claims of a valid token, or false for any failure.
func (m *Manager) Verify(token string) (Claims, bool) {
	claims, err := m.Parse(token)
	if err != nil {
		return nil, false
	}
	return claims, true
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrTokenSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	default:
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
}
