// Package ipvault is a security core for services that key everything
// off the caller's network address: a salted identity deriver, a
// two-tier rate limiter and anomaly detector, signed sessions, and an
// encrypted per-identity document store with audit logging throughout.
//
// The central entry point is the Vault, which wires the components
// over two storage tiers: a fast shared key-value tier (Valkey, or
// in-memory) for rate limit windows, session cache, and the security
// event ring, and a durable tier (SQLite, or in-memory) that is
// authoritative for sessions, identities, audit records, and task
// status. Documents live on the local filesystem, compressed and
// encrypted at rest.
//
// Protective checks fail open: an unreachable fast tier never locks
// legitimate callers out of rate limiting or anomaly detection.
// Confidentiality and integrity checks fail closed: session
// validation and every document operation deny on storage errors. The
// per-operation policy is spelled out in FailurePolicy.
package ipvault
