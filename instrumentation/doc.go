// Package instrumentation provides OpenTelemetry metrics and tracing
// for the vault.
//
// Instrumentation is optional. When disabled (or not configured),
// no-op providers are used and every recording call costs nothing.
// Callers therefore never need nil checks around metric recording.
//
// Identity tokens are salted hashes, not raw network addresses, but
// they are still per-caller identifiers. Metric attributes carry only
// event kinds, decisions, and sizes; identities stay out of
// observability data entirely.
package instrumentation
