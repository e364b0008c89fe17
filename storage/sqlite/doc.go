// Package sqlite implements the durable tier on an embedded SQLite
// database. Connections come from a fixed-size pool with WAL journal
// mode, so concurrent readers never block the single writer.
//
// Every per-identity query carries the identity in its WHERE clause.
// That keeps row isolation enforced in the database even if a caller
// above this layer is confused about ownership.
package sqlite
