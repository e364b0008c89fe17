// Package storage defines the storage contracts for the ipvault core:
// a fast key-value tier used for session caching, rate counters, and the
// bounded security-event ring buffer, and a durable tier holding
// sessions, identity records, the audit log, and document task status.
//
// The durable tier is always authoritative. The fast tier is an
// optimization: its absence may change the latency of an operation but
// never its meaning.
//
// Implementations are provided in subpackages:
//   - storage/memory: in-memory fast and durable tiers for tests and
//     single-instance deployments
//   - storage/valkey: Valkey/Redis-compatible fast tier for production
//   - storage/sqlite: SQLite-backed durable tier
package storage
