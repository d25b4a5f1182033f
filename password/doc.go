// Package password implements credential hashing and verification with
// PBKDF2-HMAC-SHA256.
//
// # Output format
//
// A credential is the standard base64 encoding of the random salt followed
// by the derived key:
//
//	base64(salt[32] || key[32])
//
// Iteration count and hash function are not embedded; they are a property of
// the [PBKDF2] instance, so every instance that verifies a credential must be
// configured like the one that produced it.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. Password policy
// (complexity, length) lives in the validate package and is enforced by the
// Engine.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive credentials.
//   - Import any other storeauth package.
//   - Log plaintext passwords or derived keys.
package password
