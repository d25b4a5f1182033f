// Package jwt issues and verifies HMAC-SHA256 signed identity tokens.
//
// Tokens are standard compact JWTs:
//
//	base64url(header).base64url(payload).base64url(HMAC-SHA256(secret, header "." payload))
//
// The payload carries the caller's claims plus the reserved iat, exp, and jti
// claims, which the [Manager] always sets itself. Verification fails closed:
// [Manager.Verify] reports a bare boolean, while [Manager.Parse] exposes a
// sentinel error so a calling layer can tell an expired token from a forged one.
//
// # What this package must NOT do
//
//   - Fall back to a built-in secret; a [Manager] cannot be built without one.
//   - Log token strings or secrets.
//   - Consult sessions or revocation state; the Engine does that.
package jwt
