// Package csrf issues and checks anti-forgery tokens bound to a session.
//
// A token is 32 random bytes encoded as unpadded base64url. It is valid for
// one hour and only for the session it was issued to. With
// [Options.SingleUse] a token is consumed by its first successful check.
package csrf
