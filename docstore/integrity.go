package docstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/corvusec/ipvault/internal/util"
	"github.com/corvusec/ipvault/security"
)

// IntegrityStatus classifies one document's verification outcome.
type IntegrityStatus string

const (
	IntegrityVerified IntegrityStatus = "verified"
	IntegrityMissing  IntegrityStatus = "missing"
	IntegrityCorrupt  IntegrityStatus = "corrupt"
)

// IntegrityFailure describes one document that failed verification.
type IntegrityFailure struct {
	DocumentID string          `json:"document_id"`
	Status     IntegrityStatus `json:"status"`
}

// IntegrityReport summarizes a full verification pass over one
// identity's documents.
type IntegrityReport struct {
	Total    int                `json:"total"`
	Verified int                `json:"verified"`
	Missing  int                `json:"missing"`
	Corrupt  int                `json:"corrupt"`
	Percent  float64            `json:"percent"`
	Failures []IntegrityFailure `json:"failures,omitempty"`
}

// VerifyIntegrity decrypts and hash-checks every document of the
// identity, distinguishing missing data files from corrupted ones.
// Each failure is recorded as a security event.
func (s *Store) VerifyIntegrity(ctx context.Context, identity string) (*IntegrityReport, error) {
	docs, err := s.listMeta(identity)
	if err != nil {
		return nil, err
	}

	report := &IntegrityReport{Total: len(docs)}
	for _, doc := range docs {
		status := s.verifyDocument(ctx, doc)
		switch status {
		case IntegrityVerified:
			report.Verified++
			continue
		case IntegrityMissing:
			report.Missing++
		case IntegrityCorrupt:
			report.Corrupt++
		}

		report.Failures = append(report.Failures, IntegrityFailure{
			DocumentID: doc.ID,
			Status:     status,
		})
		s.auditor.RecordSecurityEvent(ctx, security.SecurityEvent{
			Identity: identity,
			Kind:     security.EventIntegrityFailure,
			Details: map[string]any{
				"document_id": doc.ID,
				"status":      string(status),
			},
		})
	}

	if report.Total > 0 {
		report.Percent = 100 * float64(report.Verified) / float64(report.Total)
	} else {
		report.Percent = 100
	}

	if len(report.Failures) > 0 {
		s.logger.Error("Integrity verification found failures",
			"identity", util.SafeTruncate(identity, identityLogLength),
			"total", report.Total,
			"missing", report.Missing,
			"corrupt", report.Corrupt)
	}

	return report, nil
}

func (s *Store) verifyDocument(ctx context.Context, doc *Document) IntegrityStatus {
	_, err := s.loadContent(ctx, doc)
	switch {
	case err == nil:
		return IntegrityVerified
	case errors.Is(err, os.ErrNotExist):
		return IntegrityMissing
	default:
		return IntegrityCorrupt
	}
}

// Identities returns every identity with at least one metadata record,
// for maintenance jobs that walk the whole store.
func (s *Store) Identities(_ context.Context) ([]string, error) {
	dirs, err := filepath.Glob(filepath.Join(s.root, "metadata", "*", "*"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan identities: %w", err)
	}

	seen := make(map[string]struct{})
	var identities []string
	for _, dir := range dirs {
		identity := filepath.Base(dir)
		if _, ok := seen[identity]; ok {
			continue
		}
		seen[identity] = struct{}{}
		identities = append(identities, identity)
	}

	sort.Strings(identities)
	return identities, nil
}
