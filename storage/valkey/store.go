package valkey

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/corvusec/ipvault/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "ipvault:"

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second
)

// Config holds configuration for the Valkey fast tier.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "ipvault:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Valkey-backed implementation of the fast tier.
type Store struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger
}

// Compile-time interface check
var _ storage.FastStore = (*Store)(nil)

// New creates a Valkey-backed fast store.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey fast tier",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey fast tier connection closed")
}

// key returns the prefixed key: {prefix}{key}
func (s *Store) key(key string) string {
	return s.prefix + key
}

// isNilError checks if the error is a Valkey nil reply (key not found)
func isNilError(err error) bool {
	return err != nil && valkeygo.IsValkeyNil(err)
}

// Set stores value under key with the given TTL.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	k := s.key(key)
	if err := s.client.Do(ctx, s.client.B().Set().Key(k).Value(value).Ex(ttl).Build()).Error(); err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}
	return nil
}

// Get returns the value stored under key, or storage.ErrCacheMiss.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	k := s.key(key)

	value, err := s.client.Do(ctx, s.client.B().Get().Key(k).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return "", storage.ErrCacheMiss
		}
		return "", fmt.Errorf("failed to get key: %w", err)
	}
	return value, nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	k := s.key(key)

	if err := s.client.Do(ctx, s.client.B().Del().Key(k).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

// Increment atomically increments the counter at key. The TTL is
// applied only when the increment created the counter, so an existing
// window is never extended.
func (s *Store) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	k := s.key(key)

	count, err := s.client.Do(ctx, s.client.B().Incr().Key(k).Build()).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}

	if count == 1 {
		if err := s.client.Do(ctx, s.client.B().Expire().Key(k).Seconds(int64(ttl.Seconds())).Build()).Error(); err != nil {
			s.logger.Warn("Failed to set TTL on counter key", "error", err)
		}
	}

	return count, nil
}

// WindowAdd adds a scored member to the sorted set at key and
// refreshes the key TTL so idle windows expire on their own.
func (s *Store) WindowAdd(ctx context.Context, key, member string, score int64, ttl time.Duration) error {
	k := s.key(key)

	if err := s.client.Do(ctx,
		s.client.B().Zadd().Key(k).ScoreMember().ScoreMember(float64(score), member).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to add window member: %w", err)
	}

	if err := s.client.Do(ctx, s.client.B().Expire().Key(k).Seconds(int64(ttl.Seconds())).Build()).Error(); err != nil {
		s.logger.Warn("Failed to set TTL on window key", "error", err)
	}

	return nil
}

// WindowTrim removes members scored strictly below minScore.
func (s *Store) WindowTrim(ctx context.Context, key string, minScore int64) error {
	k := s.key(key)

	if err := s.client.Do(ctx,
		s.client.B().Zremrangebyscore().Key(k).Min("-inf").Max(fmt.Sprintf("(%d", minScore)).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to trim window: %w", err)
	}
	return nil
}

// WindowCount returns the number of members in the window.
func (s *Store) WindowCount(ctx context.Context, key string) (int64, error) {
	k := s.key(key)

	count, err := s.client.Do(ctx, s.client.B().Zcard().Key(k).Build()).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("failed to count window: %w", err)
	}
	return count, nil
}

// WindowOldest returns the lowest score in the window.
func (s *Store) WindowOldest(ctx context.Context, key string) (int64, bool, error) {
	k := s.key(key)

	entries, err := s.client.Do(ctx,
		s.client.B().Zrange().Key(k).Min("0").Max("0").Withscores().Build(),
	).AsZScores()
	if err != nil {
		return 0, false, fmt.Errorf("failed to read window head: %w", err)
	}
	if len(entries) == 0 {
		return 0, false, nil
	}
	return int64(entries[0].Score), true, nil
}

// RingPush prepends an entry to the list at key and trims it to
// capacity so the oldest entries fall off the tail.
func (s *Store) RingPush(ctx context.Context, key, entry string, capacity int64) error {
	k := s.key(key)

	if err := s.client.Do(ctx, s.client.B().Lpush().Key(k).Element(entry).Build()).Error(); err != nil {
		return fmt.Errorf("failed to push ring entry: %w", err)
	}

	if capacity > 0 {
		if err := s.client.Do(ctx, s.client.B().Ltrim().Key(k).Start(0).Stop(capacity-1).Build()).Error(); err != nil {
			return fmt.Errorf("failed to trim ring: %w", err)
		}
	}

	return nil
}

// RingRange returns entries [start, stop] from the list at key,
// newest first.
func (s *Store) RingRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	k := s.key(key)

	entries, err := s.client.Do(ctx, s.client.B().Lrange().Key(k).Start(start).Stop(stop).Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to read ring: %w", err)
	}
	return entries, nil
}
