// Package storeauth is the authentication core of the storefront.
//
// An [Engine] composes the password hasher, token manager, login rate
// limiter, session registry and CSRF guard into the registration, login and
// request-authentication flows. Engines are created through [Builder] and are
// safe for concurrent use once built.
//
// # Storage
//
// With a Redis client ([Builder.WithRedis]) attempt counters, sessions and
// CSRF tokens are shared across instances. Without one every store is held in
// process memory, which suits tests and single-instance deployments.
//
// # Architecture boundaries
//
// storeauth is the public surface. Sub-packages (password, jwt, limiter,
// session, csrf, validate) hold the building blocks and never import
// storeauth. User persistence is delegated to a caller-supplied
// [UserProvider]; see the userstore package for ready-made providers.
//
// # What this package must NOT do
//
//   - Log or audit passwords, password hashes or tokens.
//   - Reveal whether an email is registered through login errors.
//   - Accept a token signing secret shorter than 32 bytes.
package storeauth
