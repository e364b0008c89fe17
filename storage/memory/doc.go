// Package memory provides in-memory implementations of both storage
// tiers. It is suitable for tests, development, and single-instance
// deployments where neither a shared cache nor durability across
// restarts is required.
package memory
