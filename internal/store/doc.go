// Package store persists the ledger and the observation archives.
//
// The reconciliation logic only sees the small Store interface (key lookup,
// range scan, atomic upsert, batched insert); backends exist for SQLite
// (default, embedded single file), PostgreSQL, and an in-memory variant used
// in tests. All writes are durable before the call returns.
package store
