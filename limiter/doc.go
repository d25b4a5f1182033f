// Package limiter throttles repeated login failures per identifier.
//
// Each failure increments an attempt counter. Once the counter reaches
// [Policy.MaxAttempts] the identifier is blocked for a duration that grows
// with every further failure, capped at [Policy.MaxBlock]. A successful
// attempt clears both the counter and any block.
//
// # Storage
//
// State lives behind [AttemptStore]. [MemoryStore] serves a single process;
// [RedisStore] shares state across instances and performs each failure as one
// Lua script so concurrent failures never lose an increment.
//
// Key layout for [RedisStore]:
//   - rla:<id> hash {count, first, last}, expires one attempt window after the last failure
//   - rlb:<id> string holding the block expiry in unix milliseconds, native TTL
package limiter
