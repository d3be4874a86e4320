// Package database provides the Postgres storage backend: connection
// pool setup and implementations of the history and registry store
// contracts over relay tables. The file backend in internal/store is
// the default; this one is selected with storage.backend: postgres.
package database
