// Package session issues and validates signed bearer secrets bound to
// an identity token.
//
// A secret is self-describing: it carries the identity, issue and
// expiry times, and a unique session ID, all covered by an HMAC
// signature. Validation verifies the signature and expiry before any
// storage I/O, so forged or expired secrets are rejected without
// touching either tier.
//
// The store keeps sessions in two tiers. The durable tier is
// authoritative; the fast tier is a cache keyed by secret whose
// entries never outlive the session expiry. Cache errors degrade to
// durable reads. Durable errors fail validation closed.
package session
