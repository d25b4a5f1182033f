package internal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
)

// RandomToken returns size bytes from crypto/rand as unpadded base64url.
func RandomToken(size int) (string, error) {
	if size <= 0 {
		return "", errors.New("invalid random token size")
	}
	raw := make([]byte, size)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
