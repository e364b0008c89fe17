package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/corvusec/ipvault/internal/util"
	"github.com/corvusec/ipvault/security"
	"github.com/corvusec/ipvault/storage"
)

// Store persists a document for the identity. The content is checked
// against the security policy, deduplicated against the identity's
// existing documents by content hash, compressed, encrypted, and
// written to disk. The returned bool is true when an existing document
// with identical content was found and no new file was written.
//
// Duplicate concurrent uploads of the same content may both write; the
// store tolerates that rather than serializing uploads.
func (s *Store) Store(ctx context.Context, identity, filename string, content []byte) (doc *Document, dedup bool, err error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordStorageOperation(ctx, "store", operationResult(err), millisecondsSince(start))
	}()

	contentHash := security.ContentHash(content)

	existing, err := s.listMeta(identity)
	if err != nil {
		return nil, false, err
	}

	// Dedup before the policy check: re-uploading content the identity
	// already holds returns the existing record even when the identity
	// sits at its document or storage limit.
	for _, prior := range existing {
		if prior.ContentHash == contentHash {
			s.metrics.RecordDocumentStored(ctx, prior.OriginalSize, true)
			s.logger.Info("Deduplicated document upload",
				"identity", util.SafeTruncate(identity, identityLogLength),
				"document_id", prior.ID)
			return prior, true, nil
		}
	}

	usage := security.UsageSnapshot{DocumentCount: int64(len(existing))}
	for _, prior := range existing {
		usage.StorageBytes += prior.OriginalSize
	}
	if v := s.policy.Check(filename, int64(len(content)), usage); v != nil {
		return nil, false, v
	}

	compressed, err := s.compress(content)
	if err != nil {
		return nil, false, fmt.Errorf("failed to compress document: %w", err)
	}

	encStart := time.Now()
	ciphertext, err := s.engine.Encrypt(compressed)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encrypt document: %w", err)
	}
	s.metrics.RecordEncryptionOperation(ctx, "encrypt", millisecondsSince(encStart))

	now := s.now()
	doc = &Document{
		ID:           uuid.NewString(),
		Identity:     identity,
		Filename:     filename,
		ContentHash:  contentHash,
		OriginalSize: int64(len(content)),
		StoredSize:   int64(len(ciphertext)),
		StoredAt:     now,
	}

	if err := s.writeData(doc, ciphertext); err != nil {
		return nil, false, err
	}

	// Metadata last: a crash between the two writes strands a data
	// file but never a dangling metadata record.
	if err := s.writeMeta(doc); err != nil {
		return nil, false, err
	}

	s.setTask(ctx, doc, storage.TaskPending, "", now)

	s.metrics.RecordDocumentStored(ctx, doc.OriginalSize, false)
	s.auditor.Record(ctx, identity, security.EventDocumentStored, map[string]any{
		"document_id":   doc.ID,
		"original_size": doc.OriginalSize,
		"stored_size":   doc.StoredSize,
	})
	s.logger.Info("Document stored",
		"identity", util.SafeTruncate(identity, identityLogLength),
		"document_id", doc.ID,
		"original_size", doc.OriginalSize,
		"stored_size", doc.StoredSize)

	return doc, false, nil
}

func (s *Store) compress(content []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, s.level)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(content); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeData writes the ciphertext through a temp file and rename so a
// partially written data file is never visible under its final name.
func (s *Store) writeData(doc *Document, ciphertext []byte) error {
	if err := os.MkdirAll(s.dataDir(doc.Identity), dirPerm); err != nil {
		return fmt.Errorf("failed to create document directory: %w", err)
	}

	path := s.dataPath(doc)
	tmp := path + tempSuffix

	if err := os.WriteFile(tmp, ciphertext, filePerm); err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize document: %w", err)
	}
	return nil
}

func (s *Store) writeMeta(doc *Document) error {
	if err := os.MkdirAll(s.metaDir(doc.Identity), dirPerm); err != nil {
		return fmt.Errorf("failed to create metadata directory: %w", err)
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(s.metaPath(doc), data, filePerm); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

func (s *Store) setTask(ctx context.Context, doc *Document, state storage.TaskState, detail string, at time.Time) {
	if s.tasks == nil {
		return
	}
	err := s.tasks.SetTaskStatus(ctx, &storage.TaskStatus{
		DocumentID: doc.ID,
		Identity:   doc.Identity,
		State:      state,
		Detail:     detail,
		CreatedAt:  at,
		UpdatedAt:  at,
	})
	if err != nil {
		s.logger.Warn("Failed to record task status",
			"document_id", doc.ID,
			"state", state,
			"error", err)
	}
}
