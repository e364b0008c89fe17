package docstore

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/corvusec/ipvault/internal/util"
	"github.com/corvusec/ipvault/security"
)

// Delete removes the identity's document. The ciphertext is
// overwritten with random bytes and synced to disk before the file is
// unlinked, so the encrypted content cannot be recovered from
// unallocated blocks.
func (s *Store) Delete(ctx context.Context, identity, documentID string) (err error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordStorageOperation(ctx, "delete", operationResult(err), millisecondsSince(start))
	}()

	doc, err := s.findMeta(identity, documentID)
	if err != nil {
		return err
	}
	if err := s.checkOwner(ctx, identity, doc); err != nil {
		return err
	}

	dataPath := s.dataPath(doc)
	if err := secureOverwrite(dataPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to overwrite document: %w", err)
	}
	if err := os.Remove(dataPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove document: %w", err)
	}

	if err := os.Remove(s.metaPath(doc)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove metadata: %w", err)
	}

	if s.tasks != nil {
		if err := s.tasks.DeleteTaskStatus(ctx, doc.ID); err != nil {
			s.logger.Warn("Failed to delete task status",
				"document_id", doc.ID,
				"error", err)
		}
	}

	s.metrics.RecordDocumentDeleted(ctx)
	s.auditor.Record(ctx, identity, security.EventDocumentDeleted, map[string]any{
		"document_id": doc.ID,
	})
	s.logger.Info("Document deleted",
		"identity", util.SafeTruncate(identity, identityLogLength),
		"document_id", doc.ID)

	return nil
}

// secureOverwrite replaces the file's content with random bytes and
// syncs before returning. Best effort on copy-on-write filesystems,
// where the old blocks may survive regardless.
func secureOverwrite(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	if _, err := io.CopyN(f, rand.Reader, info.Size()); err != nil {
		return err
	}
	return f.Sync()
}

// CleanupTemp removes stranded temp files older than maxAge and
// returns the number removed. Temp files are left behind only by a
// crash between write and rename.
func (s *Store) CleanupTemp(_ context.Context, maxAge time.Duration) (int, error) {
	pattern := filepath.Join(s.root, "documents", "*", "*", "*"+tempSuffix)
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return 0, fmt.Errorf("failed to scan temp files: %w", err)
	}

	cutoff := s.now().Add(-maxAge)
	removed := 0
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			s.logger.Warn("Failed to remove temp file",
				"path", filepath.Base(path),
				"error", err)
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("Cleaned up stranded temp files", "count", removed)
	}
	return removed, nil
}
