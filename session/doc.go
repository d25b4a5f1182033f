// Package session tracks server-side login sessions.
//
// A [Registry] creates opaque session identifiers, records activity, and
// revokes sessions one at a time or per user. Revocation is terminal: a
// revoked session stays readable as inactive until its TTL evicts it, and
// activity updates against it are ignored.
//
// # Storage
//
// [Store] has a process-local implementation ([MemoryStore]) and a Redis
// implementation ([RedisStore]). In Redis each session is a hash under
// ss:<id> and each user has an index set su:<userID>. Touch, revoke and
// revoke-all run as Lua scripts so the active flag is never resurrected by a
// concurrent activity update.
//
// This package does not interpret tokens or decide authorization.
package session
