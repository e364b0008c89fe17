package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Secret validation errors. ErrSecretInvalid covers malformed input
// and bad signatures alike so callers cannot distinguish the two.
var (
	ErrSecretInvalid = errors.New("invalid session secret")
	ErrSecretExpired = errors.New("session secret expired")
)

// minSigningKeyLength is the minimum accepted HMAC key length.
// Anything shorter than the hash output weakens the MAC.
const minSigningKeyLength = 32

// secretClaims is the signed payload embedded in every secret.
type secretClaims struct {
	Identity  string `json:"identity"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
	SessionID string `json:"jti"`
}

// Claims is the verified content of a session secret.
type Claims struct {
	Identity  string
	IssuedAt  time.Time
	ExpiresAt time.Time
	SessionID string
}

// Signer mints and verifies session secrets. The secret format is
// base64url(JSON claims) + "." + base64url(HMAC-SHA256), signed with a
// key held only by the server.
type Signer struct {
	key []byte
}

// NewSigner creates a signer from the given key. The key must be at
// least 32 bytes.
func NewSigner(key []byte) (*Signer, error) {
	if len(key) < minSigningKeyLength {
		return nil, fmt.Errorf("signing key must be at least %d bytes, got %d", minSigningKeyLength, len(key))
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Signer{key: k}, nil
}

func (sg *Signer) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, sg.key)
	mac.Write(payload)
	return mac.Sum(nil)
}

// Mint issues a new secret for the identity, valid for ttl from now.
// The returned Claims carry the generated session ID.
func (sg *Signer) Mint(identity string, now time.Time, ttl time.Duration) (string, *Claims, error) {
	claims := secretClaims{
		Identity:  identity,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
		SessionID: uuid.NewString(),
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal secret claims: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(payload)
	sig := base64.RawURLEncoding.EncodeToString(sg.sign([]byte(encoded)))

	return encoded + "." + sig, &Claims{
		Identity:  claims.Identity,
		IssuedAt:  time.Unix(claims.IssuedAt, 0),
		ExpiresAt: time.Unix(claims.ExpiresAt, 0),
		SessionID: claims.SessionID,
	}, nil
}

// Verify checks the signature and expiry of a secret and returns its
// claims. The signature is checked before the payload is parsed, so
// unauthenticated input never reaches the JSON decoder.
func (sg *Signer) Verify(secret string, now time.Time) (*Claims, error) {
	encoded, sigPart, ok := strings.Cut(secret, ".")
	if !ok || encoded == "" || sigPart == "" {
		return nil, ErrSecretInvalid
	}

	sig, err := base64.RawURLEncoding.DecodeString(sigPart)
	if err != nil {
		return nil, ErrSecretInvalid
	}

	expected := sg.sign([]byte(encoded))
	if !hmac.Equal(sig, expected) {
		return nil, ErrSecretInvalid
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrSecretInvalid
	}

	var claims secretClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrSecretInvalid
	}
	if claims.Identity == "" || claims.SessionID == "" {
		return nil, ErrSecretInvalid
	}

	expiresAt := time.Unix(claims.ExpiresAt, 0)
	if !now.Before(expiresAt) {
		return nil, ErrSecretExpired
	}

	return &Claims{
		Identity:  claims.Identity,
		IssuedAt:  time.Unix(claims.IssuedAt, 0),
		ExpiresAt: expiresAt,
		SessionID: claims.SessionID,
	}, nil
}
