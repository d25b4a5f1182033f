// Package internal holds helpers shared by the storeauth packages that are
// not part of the public API.
//
// # Sub-packages
//
//   - audit: asynchronous event dispatch (Dispatcher and Sink implementations)
//   - memstore: mutex-guarded TTL map behind every in-memory store
//   - config: storeauthd environment configuration
//   - httpapi: storeauthd router, handlers and HTTP middleware
package internal
