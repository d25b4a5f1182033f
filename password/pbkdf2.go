package password

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	minIterations = 1000
	minSaltLength = 16
	minKeyLength  = 16
)

var (
	// ErrEmptyPassword is returned by Hash for an empty plaintext.
	ErrEmptyPassword = errors.New("password must not be empty")
)

// Config defines the PBKDF2 cost parameters.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	Iterations int
	SaltLength int
	KeyLength  int
}

// DefaultConfig returns 100 000 iterations, a 32-byte salt and a 256-bit key.
func DefaultConfig() Config {
	return Config{
		Iterations: 100_000,
		SaltLength: 32,
		KeyLength:  32,
	}
}

// PBKDF2 hashes and verifies credentials.
//
// PBKDF2 is safe for concurrent use.
type PBKDF2 struct {
	config    Config
	dummySalt []byte
}

// NewPBKDF2 validates cfg and returns a hasher.
//
// NewPBKDF2 may return an error when cfg is below the supported floors.
func NewPBKDF2(cfg Config) (*PBKDF2, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	dummy := make([]byte, cfg.SaltLength)
	if _, err := io.ReadFull(rand.Reader, dummy); err != nil {
		return nil, err
	}

	return &PBKDF2{config: cfg, dummySalt: dummy}, nil
}

// Config returns the hasher parameters.
func (p *PBKDF2) Config() Config {
	return p.config
}

// Hash derives a credential from password with a fresh random salt.
//
// Hash may return an error when the password is empty or the system random
// source fails. It performs no I/O beyond reading randomness.
func (p *PBKDF2) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, p.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := p.derive(password, salt)

	out := make([]byte, 0, len(salt)+len(key))
	out = append(out, salt...)
	out = append(out, key...)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Verify reports whether password matches credential.
//
// Verify never returns an error: a malformed credential is reported as a
// mismatch after the same amount of key-derivation work as a wrong password.
func (p *PBKDF2) Verify(password string, credential string) bool {
	salt, stored, ok := p.split(credential)
	if !ok {
		// Burn one derivation so malformed input is not faster than a mismatch.
		computed := p.derive(password, p.dummySalt)
		subtle.ConstantTimeCompare(computed, computed)
		return false
	}

	computed := p.derive(password, salt)
	return subtle.ConstantTimeCompare(computed, stored) == 1
}

func (p *PBKDF2) split(credential string) ([]byte, []byte, bool) {
	raw, err := base64.StdEncoding.DecodeString(credential)
	if err != nil {
		return nil, nil, false
	}
	if len(raw) != p.config.SaltLength+p.config.KeyLength {
		return nil, nil, false
	}
	return raw[:p.config.SaltLength], raw[p.config.SaltLength:], true
}

func (p *PBKDF2) derive(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, p.config.Iterations, p.config.KeyLength, sha256.New)
}

func validateConfig(cfg Config) error {
	if cfg.Iterations < minIterations {
		return errors.New("password iterations must be >= 1000")
	}
	if cfg.SaltLength < minSaltLength {
		return errors.New("password salt length must be >= 16")
	}
	if cfg.KeyLength < minKeyLength {
		return errors.New("password key length must be >= 16")
	}

	return nil
}
