package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/netip"
	"strings"
)

// invalidAddrPrefix is prepended to unparseable input before hashing so
// that malformed or spoofed addresses still bucket deterministically
// without colliding with any real address.
const invalidAddrPrefix = "invalid_"

// Deriver maps raw network addresses to opaque identity tokens.
//
// The token is hex(SHA-256(canonicalAddress || salt)). Equivalent
// textual forms of the same address (IPv6 expansion, IPv4-mapped
// forms, leading zeros) collide by construction because the address is
// canonicalized first. Derivation is pure: no I/O, no state beyond the
// salt.
type Deriver struct {
	salt   string
	logger *slog.Logger
}

// NewDeriver creates a deriver with the installation-wide salt. The
// salt must be stable across restarts or previously derived tokens
// become unreachable.
func NewDeriver(salt string, logger *slog.Logger) *Deriver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deriver{salt: salt, logger: logger}
}

// Derive returns the identity token for a raw network address.
//
// Malformed input never fails the caller: it is bucketed under a token
// derived from the prefixed literal input, and a warning is logged.
// This keeps abusive clients with garbage forwarded headers rate
// limited and auditable rather than unattributable.
func (d *Deriver) Derive(rawAddr string) string {
	normalized, ok := canonicalAddr(rawAddr)
	if !ok {
		d.logger.Warn("deriving identity from unparseable address",
			"input_len", len(rawAddr))
		normalized = invalidAddrPrefix + rawAddr
	}
	sum := sha256.Sum256([]byte(normalized + d.salt))
	return hex.EncodeToString(sum[:])
}

// canonicalAddr parses raw as an IP address and returns its canonical
// textual form. IPv6 addresses use the compressed form; IPv4-mapped
// IPv6 addresses collapse to plain IPv4 so both representations of the
// same host derive the same token.
func canonicalAddr(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	addr, err := netip.ParseAddr(trimmed)
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}
