// Package security provides the security primitives of the ipvault
// core: identity derivation from network addresses, the crypto engine
// used for encryption at rest, heuristic anomaly detection, the
// security policy enforcer, audit logging, and an in-process rate
// limiter used as a cheap first line ahead of the shared sliding
// window.
//
// # Identity
//
// The Deriver maps a caller's network address to an opaque identity
// token: a salted SHA-256 hash of the canonical textual form of the
// address. The token is the unit of isolation everywhere else in the
// system. It is deterministic for a given salt and not reversible to
// the original address without it.
//
// # Rate limiting
//
// The local RateLimiter is a per-identity token bucket with LRU
// eviction, bounding memory under distributed abuse. It complements,
// not replaces, the shared sliding window kept in the fast store: the
// bucket catches hot loops from a single process's view, the window
// enforces the cross-instance limit.
//
// # Auditing
//
// The Auditor appends security-relevant actions to the durable audit
// log and mirrors high-volume security events into a bounded ring
// buffer in the fast store for windowed analysis. Audit writes never
// fail the calling operation. Identity tokens are truncated in
// human-readable log output.
package security
