package session

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

var testSigningKey = bytes.Repeat([]byte("k"), 32)

func TestNewSignerKeyLength(t *testing.T) {
	tests := []struct {
		name    string
		keyLen  int
		wantErr bool
	}{
		{"empty key", 0, true},
		{"short key", 16, true},
		{"just under minimum", 31, true},
		{"minimum key", 32, false},
		{"longer key", 64, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSigner(bytes.Repeat([]byte("x"), tt.keyLen))
			if (err != nil) != tt.wantErr {
				t.Errorf("NewSigner with %d-byte key: err = %v, wantErr %v", tt.keyLen, err, tt.wantErr)
			}
		})
	}
}

func TestMintVerifyRoundTrip(t *testing.T) {
	signer, err := NewSigner(testSigningKey)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	secret, minted, err := signer.Mint("identity-a", now, time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if minted.SessionID == "" {
		t.Error("Mint did not generate a session ID")
	}

	claims, err := signer.Verify(secret, now.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Identity != "identity-a" {
		t.Errorf("Identity = %q, want identity-a", claims.Identity)
	}
	if claims.SessionID != minted.SessionID {
		t.Errorf("SessionID = %q, want %q", claims.SessionID, minted.SessionID)
	}
	if !claims.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v, want %v", claims.ExpiresAt, now.Add(time.Hour))
	}
}

func TestVerifyExpired(t *testing.T) {
	signer, _ := NewSigner(testSigningKey)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	secret, _, err := signer.Mint("identity-a", now, time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	// Expiry boundary is exclusive: a secret is invalid at exactly
	// its expiry instant.
	if _, err := signer.Verify(secret, now.Add(time.Hour)); !errors.Is(err, ErrSecretExpired) {
		t.Errorf("Verify at expiry: err = %v, want ErrSecretExpired", err)
	}
	if _, err := signer.Verify(secret, now.Add(2*time.Hour)); !errors.Is(err, ErrSecretExpired) {
		t.Errorf("Verify after expiry: err = %v, want ErrSecretExpired", err)
	}
}

func TestVerifyTampered(t *testing.T) {
	signer, _ := NewSigner(testSigningKey)
	now := time.Now()

	secret, _, err := signer.Mint("identity-a", now, time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	payload, sig, _ := strings.Cut(secret, ".")

	tests := []struct {
		name   string
		secret string
	}{
		{"empty", ""},
		{"no separator", payload + sig},
		{"missing signature", payload + "."},
		{"missing payload", "." + sig},
		{"bad signature encoding", payload + ".!!!"},
		{"signature from other payload", payload + "x." + sig},
		{"truncated payload", payload[:len(payload)-2] + "." + sig},
		{"swapped parts", sig + "." + payload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := signer.Verify(tt.secret, now); !errors.Is(err, ErrSecretInvalid) {
				t.Errorf("Verify(%q): err = %v, want ErrSecretInvalid", tt.secret, err)
			}
		})
	}
}

func TestVerifyDifferentKey(t *testing.T) {
	minting, _ := NewSigner(testSigningKey)
	verifying, _ := NewSigner(bytes.Repeat([]byte("z"), 32))
	now := time.Now()

	secret, _, err := minting.Mint("identity-a", now, time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, err := verifying.Verify(secret, now); !errors.Is(err, ErrSecretInvalid) {
		t.Errorf("Verify with wrong key: err = %v, want ErrSecretInvalid", err)
	}
}

func TestMintUniqueSecrets(t *testing.T) {
	signer, _ := NewSigner(testSigningKey)
	now := time.Now()

	a, _, err := signer.Mint("identity-a", now, time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	b, _, err := signer.Mint("identity-a", now, time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if a == b {
		t.Error("two secrets for the same identity are identical")
	}
}
