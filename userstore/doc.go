// Package userstore provides storeauth.UserProvider implementations: an
// in-memory store for tests and single-process demos, and a PostgreSQL store
// built on pgx.
package userstore
