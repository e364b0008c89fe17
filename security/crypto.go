package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// kdfIterations is the PBKDF2 iteration count used to derive the
	// storage key from the master secret. Fixed so a given master
	// secret and salt always derive the same key.
	kdfIterations = 100_000

	// keyLength is the derived key size in bytes (AES-256).
	keyLength = 32
)

// DefaultKDFSalt is used when no per-installation salt is configured.
// Production deployments should set their own salt; changing it makes
// previously stored ciphertext undecryptable.
var DefaultKDFSalt = []byte("ipvault_storage_salt")

// Engine performs the symmetric cryptography for encrypted-at-rest
// content: key derivation, AES-256-GCM sealing, and content hashing.
// It is stateless given the master secret and safe for concurrent use.
type Engine struct {
	aead cipher.AEAD
}

// NewEngine derives an AES-256 key from the master secret with
// PBKDF2-HMAC-SHA256 and prepares the AEAD. An empty master secret is
// rejected: unlike transport-level token encryption there is no
// sensible "disabled" mode for the document store.
func NewEngine(masterSecret string, kdfSalt []byte) (*Engine, error) {
	if masterSecret == "" {
		return nil, fmt.Errorf("master secret is required")
	}
	if len(kdfSalt) == 0 {
		kdfSalt = DefaultKDFSalt
	}

	key := pbkdf2.Key([]byte(masterSecret), kdfSalt, kdfIterations, keyLength, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Engine{aead: aead}, nil
}

// Encrypt seals plaintext with AES-256-GCM. The random nonce is
// prepended to the ciphertext, producing the storage format
// [nonce][ciphertext+tag].
func (e *Engine) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return e.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens ciphertext produced by Encrypt. Any tampering with the
// nonce, payload, or tag fails authentication and returns an error.
func (e *Engine) Decrypt(ciphertext []byte) ([]byte, error) {
	nonceSize := e.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := e.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// ContentHash returns the hex-encoded SHA-256 digest of content. It is
// the dedup key and the integrity reference for stored documents.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// GenerateMasterSecret generates a random 32-byte master secret,
// hex-encoded. Intended for provisioning tooling and tests.
func GenerateMasterSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate master secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
