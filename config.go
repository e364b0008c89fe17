package ipvault

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/corvusec/ipvault/docstore"
	"github.com/corvusec/ipvault/instrumentation"
	"github.com/corvusec/ipvault/security"
	"github.com/corvusec/ipvault/session"
)

// Rate limiting defaults. The shared window is the authoritative
// limit; the local bucket is a cheap in-process first line.
const (
	DefaultRateLimit       = 100
	DefaultRateWindow      = time.Hour
	DefaultLocalRate       = 10
	DefaultLocalBurst      = 20
	DefaultAuditRetention  = 90 * 24 * time.Hour
	DefaultFailedRetention = 7 * 24 * time.Hour
	DefaultTempMaxAge      = time.Hour
)

// Config holds the vault configuration.
type Config struct {
	// IdentitySalt is mixed into every identity derivation (required).
	// Changing it re-keys every identity, orphaning existing sessions
	// and documents.
	IdentitySalt string

	// MasterSecret is the encryption master secret (required). The
	// storage key is derived from it with PBKDF2.
	MasterSecret string

	// KDFSalt overrides the key derivation salt. Leave nil for the
	// fixed default.
	KDFSalt []byte

	// SigningKey signs session secrets (required, at least 32 bytes).
	SigningKey []byte

	// RateLimit is the shared sliding window configuration.
	RateLimit RateLimitConfig

	// SessionTTL is the session lifetime (default
	// session.DefaultSessionTTL).
	SessionTTL time.Duration

	// Documents configures the document store. Documents.Root is
	// required.
	Documents docstore.Config

	// Policy overrides the storage policy limits. Zero values take
	// the policy defaults.
	Policy security.PolicyConfig

	// Anomaly overrides the anomaly detector configuration.
	Anomaly security.DetectorConfig

	// AuditRetention is how long durable audit rows are kept before
	// SweepAuditLog removes them (default 90 days).
	AuditRetention time.Duration

	// Logger for structured logging (optional, uses slog.Default()
	// if not provided).
	Logger *slog.Logger

	// EnableInstrumentation turns on OpenTelemetry metrics and traces.
	EnableInstrumentation bool
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	// Requests is the number of requests allowed per Window per
	// identity (default 100).
	Requests int

	// Window is the sliding window length (default 1 hour).
	Window time.Duration

	// LocalRate is the in-process token refill rate per second per
	// identity (default 10). A negative value disables the local
	// limiter.
	LocalRate int

	// LocalBurst is the in-process bucket size (default 20).
	LocalBurst int
}

// withDefaults fills unset fields.
func (c RateLimitConfig) withDefaults() RateLimitConfig {
	if c.Requests <= 0 {
		c.Requests = DefaultRateLimit
	}
	if c.Window <= 0 {
		c.Window = DefaultRateWindow
	}
	switch {
	case c.LocalRate < 0:
		c.LocalRate = 0
		c.LocalBurst = 0
	case c.LocalRate == 0:
		c.LocalRate = DefaultLocalRate
		if c.LocalBurst <= 0 {
			c.LocalBurst = DefaultLocalBurst
		}
	default:
		if c.LocalBurst <= 0 {
			c.LocalBurst = c.LocalRate
		}
	}
	return c
}

// Validate checks required configuration.
func (c *Config) Validate() error {
	if c.IdentitySalt == "" {
		return fmt.Errorf("identity salt is required")
	}
	if c.MasterSecret == "" {
		return fmt.Errorf("master secret is required")
	}
	if len(c.SigningKey) == 0 {
		return fmt.Errorf("signing key is required")
	}
	if c.Documents.Root == "" {
		return fmt.Errorf("document store root is required")
	}
	return nil
}

// sessionConfig builds the session store configuration.
func (c *Config) sessionConfig(logger *slog.Logger, metrics *instrumentation.Metrics) session.Config {
	return session.Config{
		SigningKey: c.SigningKey,
		SessionTTL: c.SessionTTL,
		Logger:     logger,
		Metrics:    metrics,
	}
}
