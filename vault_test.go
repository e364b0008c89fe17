package ipvault

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/corvusec/ipvault/docstore"
	"github.com/corvusec/ipvault/security"
	"github.com/corvusec/ipvault/storage/memory"
)

var testSigningKey = bytes.Repeat([]byte("k"), 32)

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		IdentitySalt: "test-identity-salt",
		MasterSecret: "test-master-secret",
		SigningKey:   testSigningKey,
		Documents:    docstore.Config{Root: t.TempDir()},
		// Keep the burst heuristic out of the way unless a test
		// lowers it.
		Anomaly: security.DetectorConfig{BurstThreshold: 1_000_000},
	}
}

func newTestVault(t *testing.T, cfg Config) *Vault {
	t.Helper()
	fast := memory.NewFastStore(nil)
	t.Cleanup(fast.Close)

	v, err := New(cfg, fast, memory.NewDurableStore())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { v.Close(context.Background()) })
	return v
}

func TestNewValidatesConfig(t *testing.T) {
	fast := memory.NewFastStore(nil)
	t.Cleanup(fast.Close)
	durable := memory.NewDurableStore()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing identity salt", func(c *Config) { c.IdentitySalt = "" }},
		{"missing master secret", func(c *Config) { c.MasterSecret = "" }},
		{"missing signing key", func(c *Config) { c.SigningKey = nil }},
		{"short signing key", func(c *Config) { c.SigningKey = []byte("short") }},
		{"missing document root", func(c *Config) { c.Documents.Root = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(&cfg)
			if _, err := New(cfg, fast, durable); err == nil {
				t.Error("expected configuration error")
			}
		})
	}

	t.Run("missing storage tiers", func(t *testing.T) {
		cfg := testConfig(t)
		if _, err := New(cfg, nil, durable); err == nil {
			t.Error("expected error for nil fast tier")
		}
		if _, err := New(cfg, fast, nil); err == nil {
			t.Error("expected error for nil durable tier")
		}
	})
}

func TestVaultClose(t *testing.T) {
	fast := memory.NewFastStore(nil)
	t.Cleanup(fast.Close)

	v, err := New(testConfig(t), fast, memory.NewDurableStore())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := v.Close(context.Background()); err != nil {
		t.Errorf("Close: %v", err)
	}
	// Close is idempotent.
	if err := v.Close(context.Background()); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestRateLimitConfigDefaults(t *testing.T) {
	got := RateLimitConfig{}.withDefaults()
	if got.Requests != DefaultRateLimit {
		t.Errorf("Requests = %d, want %d", got.Requests, DefaultRateLimit)
	}
	if got.Window != DefaultRateWindow {
		t.Errorf("Window = %v, want %v", got.Window, DefaultRateWindow)
	}
	if got.LocalRate != DefaultLocalRate || got.LocalBurst != DefaultLocalBurst {
		t.Errorf("local limiter defaults = %d/%d, want %d/%d",
			got.LocalRate, got.LocalBurst, DefaultLocalRate, DefaultLocalBurst)
	}

	// Explicit rate without burst sizes the burst to the rate.
	got = RateLimitConfig{LocalRate: 50}.withDefaults()
	if got.LocalBurst != 50 {
		t.Errorf("LocalBurst = %d, want 50", got.LocalBurst)
	}

	// A negative rate disables the local limiter entirely, regardless
	// of the burst setting.
	for _, cfg := range []RateLimitConfig{
		{LocalRate: -1},
		{LocalRate: -1, LocalBurst: 5},
	} {
		got = cfg.withDefaults()
		if got.LocalRate != 0 || got.LocalBurst != 0 {
			t.Errorf("withDefaults(%+v) local limiter = %d/%d, want 0/0",
				cfg, got.LocalRate, got.LocalBurst)
		}
	}

	// An explicit burst with the default rate is preserved.
	got = RateLimitConfig{LocalBurst: 5}.withDefaults()
	if got.LocalRate != DefaultLocalRate || got.LocalBurst != 5 {
		t.Errorf("local limiter = %d/%d, want %d/5",
			got.LocalRate, got.LocalBurst, DefaultLocalRate)
	}
}

func TestIsRateLimited(t *testing.T) {
	reset := time.Now().Add(time.Minute)
	var err error = &RateLimitError{Limit: 10, Window: time.Hour, Reset: reset}

	rle, ok := IsRateLimited(err)
	if !ok {
		t.Fatal("IsRateLimited did not match a RateLimitError")
	}
	if !rle.Reset.Equal(reset) {
		t.Errorf("Reset = %v, want %v", rle.Reset, reset)
	}

	if _, ok := IsRateLimited(ErrSuspicious); ok {
		t.Error("IsRateLimited matched a non-rate-limit error")
	}
}

func TestFailurePolicyCoverage(t *testing.T) {
	open := 0
	closed := 0
	for op, mode := range FailurePolicy {
		switch mode {
		case FailOpen:
			open++
		case FailClosed:
			closed++
		default:
			t.Errorf("operation %q has unknown failure mode %q", op, mode)
		}
	}
	// The protective checks fail open; everything touching session or
	// document state fails closed.
	if open != 3 || closed != 5 {
		t.Errorf("failure policy split = %d open / %d closed, want 3/5", open, closed)
	}
}
