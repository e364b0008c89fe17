// Package valkey implements the fast shared tier on a Valkey (or
// Redis-compatible) server. Sliding windows map to sorted sets,
// counters to INCR with a TTL, and the bounded event ring to a list
// trimmed on every push.
package valkey
