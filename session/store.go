package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/corvusec/ipvault/instrumentation"
	"github.com/corvusec/ipvault/internal/util"
	"github.com/corvusec/ipvault/security"
	"github.com/corvusec/ipvault/storage"
)

const (
	// DefaultSessionTTL is the session lifetime when the config does
	// not set one.
	DefaultSessionTTL = 24 * time.Hour

	// cacheKeyPrefix namespaces session entries in the fast tier.
	cacheKeyPrefix = "session:"

	// identityLogLength is the number of identity-token characters
	// included in log output.
	identityLogLength = 8
)

// ErrIdentityMismatch is returned when a structurally valid secret is
// presented by a different identity than the one it was minted for.
var ErrIdentityMismatch = errors.New("session bound to a different identity")

// Config holds configuration for the session store.
type Config struct {
	// SigningKey signs session secrets. Required, at least 32 bytes.
	SigningKey []byte

	// SessionTTL is the session lifetime (default DefaultSessionTTL).
	SessionTTL time.Duration

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger

	// Metrics receives session lifecycle counts (optional).
	Metrics *instrumentation.Metrics
}

// Store manages sessions across the fast and durable tiers.
type Store struct {
	signer  *Signer
	fast    storage.FastStore
	durable storage.DurableStore
	auditor *security.Auditor
	metrics *instrumentation.Metrics
	ttl     time.Duration
	logger  *slog.Logger

	now func() time.Time
}

// NewStore creates a session store over the given tiers.
func NewStore(cfg Config, fast storage.FastStore, durable storage.DurableStore, auditor *security.Auditor) (*Store, error) {
	signer, err := NewSigner(cfg.SigningKey)
	if err != nil {
		return nil, err
	}

	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		signer:  signer,
		fast:    fast,
		durable: durable,
		auditor: auditor,
		metrics: cfg.Metrics,
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
	}, nil
}

func cacheKey(secret string) string {
	return cacheKeyPrefix + secret
}

// cacheSession writes the session into the fast tier with a TTL
// capped at the remaining session lifetime, so a cache entry can never
// outlive its session.
func (st *Store) cacheSession(ctx context.Context, sess *storage.Session, now time.Time) {
	remaining := sess.ExpiresAt.Sub(now)
	if remaining <= 0 {
		return
	}

	data, err := json.Marshal(sess)
	if err != nil {
		st.logger.Warn("Failed to marshal session for cache", "error", err)
		return
	}

	if err := st.fast.Set(ctx, cacheKey(sess.Secret), string(data), remaining); err != nil {
		st.logger.Warn("Failed to cache session", "error", err)
	}
}

func (st *Store) evictSession(ctx context.Context, secret string) {
	if err := st.fast.Delete(ctx, cacheKey(secret)); err != nil {
		st.logger.Warn("Failed to evict cached session", "error", err)
	}
}

// Create mints a new session for the identity and persists it. The
// identity's contact record is updated as part of creation.
func (st *Store) Create(ctx context.Context, identity, userAgent string) (*storage.Session, error) {
	now := st.now()

	secret, claims, err := st.signer.Mint(identity, now, st.ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to mint session secret: %w", err)
	}

	sess := &storage.Session{
		ID:             claims.SessionID,
		Identity:       identity,
		Secret:         secret,
		UserAgent:      userAgent,
		CreatedAt:      now,
		LastAccessedAt: now,
		ExpiresAt:      claims.ExpiresAt,
		Active:         true,
	}

	if err := st.durable.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	if err := st.durable.UpsertIdentity(ctx, identity, now); err != nil {
		st.logger.Warn("Failed to update identity contact record",
			"identity", util.SafeTruncate(identity, identityLogLength),
			"error", err)
	}

	st.cacheSession(ctx, sess, now)

	st.auditor.Record(ctx, identity, security.EventSessionCreated, map[string]any{
		"session_id": claims.SessionID,
	})

	st.logger.Info("Session created",
		"identity", util.SafeTruncate(identity, identityLogLength),
		"session_id", claims.SessionID,
		"expires_at", claims.ExpiresAt)

	return sess, nil
}

// Validate checks a presented secret for the given identity. The
// signature and expiry are verified before any storage I/O. A secret
// minted for a different identity is rejected and recorded as a
// security event.
//
// Storage errors on the durable tier fail validation. A fast tier
// error only degrades to a durable read.
func (st *Store) Validate(ctx context.Context, secret, identity string) (*storage.Session, error) {
	now := st.now()

	claims, err := st.signer.Verify(secret, now)
	if err != nil {
		return nil, err
	}

	if claims.Identity != identity {
		st.auditor.RecordSecurityEvent(ctx, security.SecurityEvent{
			Identity: identity,
			Kind:     security.EventIdentityMismatch,
			Details:  map[string]any{"session_id": claims.SessionID},
		})
		return nil, ErrIdentityMismatch
	}

	sess, _ := st.lookupCached(ctx, secret, now)
	if sess == nil {
		sess, err = st.durable.GetSessionBySecret(ctx, secret, now)
		if err != nil {
			if errors.Is(err, storage.ErrSessionNotFound) {
				return nil, storage.ErrSessionNotFound
			}
			return nil, fmt.Errorf("failed to load session: %w", err)
		}
	}

	if sess.Identity != identity {
		// The signed claims and the stored row disagree. Treat the
		// row as authoritative and reject.
		st.auditor.RecordSecurityEvent(ctx, security.SecurityEvent{
			Identity: identity,
			Kind:     security.EventIdentityMismatch,
			Details:  map[string]any{"session_id": sess.ID},
		})
		return nil, ErrIdentityMismatch
	}

	sess.LastAccessedAt = now
	if err := st.durable.TouchSession(ctx, secret, now); err != nil {
		st.logger.Warn("Failed to touch session", "session_id", sess.ID, "error", err)
	}
	// Re-cache even on a hit so the cached copy carries the bumped
	// last-accessed timestamp.
	st.cacheSession(ctx, sess, now)

	return sess, nil
}

// lookupCached returns the cached session when present and still
// valid. The bool reports a usable cache hit.
func (st *Store) lookupCached(ctx context.Context, secret string, now time.Time) (*storage.Session, bool) {
	data, err := st.fast.Get(ctx, cacheKey(secret))
	if err != nil {
		if !errors.Is(err, storage.ErrCacheMiss) {
			st.logger.Warn("Fast tier session read failed, falling back to durable tier", "error", err)
		}
		return nil, false
	}

	var sess storage.Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		st.logger.Warn("Evicting malformed cached session", "error", err)
		st.evictSession(ctx, secret)
		return nil, false
	}

	if !sess.Active || sess.Expired(now) {
		st.evictSession(ctx, secret)
		return nil, false
	}

	return &sess, true
}

// Invalidate deactivates the session for secret. Returns false when
// no active session matched.
func (st *Store) Invalidate(ctx context.Context, secret, identity string) (bool, error) {
	ok, err := st.durable.InvalidateSession(ctx, secret)
	if err != nil {
		return false, fmt.Errorf("failed to invalidate session: %w", err)
	}

	st.evictSession(ctx, secret)

	if ok {
		st.metrics.RecordSessionInvalidated(ctx, 1)
		st.auditor.Record(ctx, identity, security.EventSessionInvalidated, nil)
	}
	return ok, nil
}

// InvalidateAll deactivates every active session of the identity and
// returns the number invalidated.
func (st *Store) InvalidateAll(ctx context.Context, identity string) (int, error) {
	secrets, err := st.durable.InvalidateSessionsForIdentity(ctx, identity)
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate sessions: %w", err)
	}

	for _, secret := range secrets {
		st.evictSession(ctx, secret)
	}

	if len(secrets) > 0 {
		st.metrics.RecordSessionInvalidated(ctx, len(secrets))
		st.auditor.Record(ctx, identity, security.EventAllSessionsInvalidated, map[string]any{
			"count": len(secrets),
		})
	}

	return len(secrets), nil
}

// SweepExpired removes expired and inactive sessions from the durable
// tier and evicts their cache entries. Returns the number removed.
func (st *Store) SweepExpired(ctx context.Context) (int, error) {
	secrets, count, err := st.durable.DeleteExpiredSessions(ctx, st.now())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired sessions: %w", err)
	}

	for _, secret := range secrets {
		st.evictSession(ctx, secret)
	}

	if count > 0 {
		st.logger.Info("Swept expired sessions", "count", count)
	}
	return count, nil
}

// ActiveCount returns the number of active, unexpired sessions.
func (st *Store) ActiveCount(ctx context.Context) (int, error) {
	return st.durable.CountActiveSessions(ctx, st.now())
}
