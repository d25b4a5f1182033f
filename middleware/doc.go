// Package middleware adapts a storeauth Engine to net/http.
//
// # Guards
//
//   - [Authenticate] verifies the access token and stores the identity in the
//     request context.
//   - [Optional] does the same but lets anonymous requests through.
//   - [RequireAdmin] rejects identities without the admin role.
//   - [RequireCSRF] checks the X-CSRF-Token header on state-changing methods.
//
// Tokens are read from the Authorization bearer header first and the
// accessToken cookie second. Guards delegate every decision to the Engine
// and never parse tokens themselves.
package middleware
