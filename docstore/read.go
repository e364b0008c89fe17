package docstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/corvusec/ipvault/internal/util"
	"github.com/corvusec/ipvault/security"
)

// Retrieve returns the plaintext and metadata of the identity's
// document. The content hash is recomputed and compared before the
// plaintext is released; a mismatch is recorded as an integrity
// failure and surfaces as not found.
func (s *Store) Retrieve(ctx context.Context, identity, documentID string) (content []byte, doc *Document, err error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordStorageOperation(ctx, "retrieve", operationResult(err), millisecondsSince(start))
	}()

	doc, err = s.findMeta(identity, documentID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.checkOwner(ctx, identity, doc); err != nil {
		return nil, nil, err
	}

	content, err = s.loadContent(ctx, doc)
	if err != nil {
		if errors.Is(err, ErrDocumentCorrupt) {
			s.auditor.RecordSecurityEvent(ctx, security.SecurityEvent{
				Identity: identity,
				Kind:     security.EventIntegrityFailure,
				Details:  map[string]any{"document_id": doc.ID},
			})
			s.logger.Error("Document failed integrity verification on read",
				"identity", util.SafeTruncate(identity, identityLogLength),
				"document_id", doc.ID)
			return nil, nil, ErrDocumentNotFound
		}
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Error("Document data file missing",
				"identity", util.SafeTruncate(identity, identityLogLength),
				"document_id", doc.ID)
			return nil, nil, ErrDocumentNotFound
		}
		return nil, nil, err
	}

	s.metrics.RecordDocumentRetrieved(ctx)
	s.auditor.Record(ctx, identity, security.EventDocumentRetrieved, map[string]any{
		"document_id": doc.ID,
	})

	return content, doc, nil
}

// loadContent reads, decrypts, decompresses, and hash-verifies the
// data file for a metadata record. Tampered or truncated ciphertext
// fails GCM authentication; a post-decryption hash mismatch means the
// metadata and data file disagree. Both surface as ErrDocumentCorrupt.
func (s *Store) loadContent(ctx context.Context, doc *Document) ([]byte, error) {
	ciphertext, err := os.ReadFile(s.dataPath(doc))
	if err != nil {
		return nil, err
	}

	decStart := time.Now()
	compressed, err := s.engine.Decrypt(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDocumentCorrupt, err)
	}
	s.metrics.RecordEncryptionOperation(ctx, "decrypt", millisecondsSince(decStart))

	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDocumentCorrupt, err)
	}
	content, err := io.ReadAll(zr)
	if cerr := zr.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDocumentCorrupt, err)
	}

	if security.ContentHash(content) != doc.ContentHash {
		return nil, fmt.Errorf("%w: content hash mismatch", ErrDocumentCorrupt)
	}

	return content, nil
}

// List returns the identity's documents, newest first.
func (s *Store) List(_ context.Context, identity string) ([]*Document, error) {
	return s.listMeta(identity)
}

// UsageStats summarizes an identity's stored documents.
type UsageStats struct {
	DocumentCount    int     `json:"document_count"`
	OriginalBytes    int64   `json:"original_bytes"`
	StoredBytes      int64   `json:"stored_bytes"`
	CompressionRatio float64 `json:"compression_ratio"`
}

// Stats aggregates document count and sizes for the identity.
func (s *Store) Stats(_ context.Context, identity string) (*UsageStats, error) {
	docs, err := s.listMeta(identity)
	if err != nil {
		return nil, err
	}

	stats := &UsageStats{DocumentCount: len(docs)}
	for _, doc := range docs {
		stats.OriginalBytes += doc.OriginalSize
		stats.StoredBytes += doc.StoredSize
	}
	if stats.OriginalBytes > 0 {
		stats.CompressionRatio = float64(stats.StoredBytes) / float64(stats.OriginalBytes)
	}
	return stats, nil
}

// GlobalStats aggregates counts and sizes across every identity.
func (s *Store) GlobalStats(_ context.Context) (*UsageStats, error) {
	paths, err := filepath.Glob(filepath.Join(s.root, "metadata", "*", "*", "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan metadata: %w", err)
	}

	stats := &UsageStats{}
	for _, path := range paths {
		doc, err := s.loadMeta(path)
		if err != nil {
			s.logger.Error("Skipping unreadable metadata record",
				"path", filepath.Base(path),
				"error", err)
			continue
		}
		stats.DocumentCount++
		stats.OriginalBytes += doc.OriginalSize
		stats.StoredBytes += doc.StoredSize
	}
	if stats.OriginalBytes > 0 {
		stats.CompressionRatio = float64(stats.StoredBytes) / float64(stats.OriginalBytes)
	}
	return stats, nil
}

// Usage returns the policy-facing usage snapshot for the identity.
func (s *Store) Usage(_ context.Context, identity string) (security.UsageSnapshot, error) {
	docs, err := s.listMeta(identity)
	if err != nil {
		return security.UsageSnapshot{}, err
	}

	usage := security.UsageSnapshot{DocumentCount: int64(len(docs))}
	for _, doc := range docs {
		usage.StorageBytes += doc.OriginalSize
	}
	return usage, nil
}
