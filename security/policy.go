package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Violation kinds returned by the policy enforcer.
const (
	ViolationFileSize      = "FILE_SIZE_EXCEEDED"
	ViolationFileType      = "FILE_TYPE_NOT_ALLOWED"
	ViolationDocumentCount = "DOCUMENT_LIMIT_EXCEEDED"
	ViolationStorageQuota  = "STORAGE_LIMIT_EXCEEDED"
)

// Default policy limits.
const (
	DefaultMaxFileSizeBytes = 100 * 1024 * 1024
	DefaultMaxDocuments     = 1000
	DefaultMaxStorageBytes  = 10 * 1024 * 1024 * 1024
)

// DefaultAllowedExtensions is the default set of accepted upload
// extensions, lowercase with leading dot.
var DefaultAllowedExtensions = []string{".pdf"}

// Violation describes the first policy rule an upload broke. It
// carries the configured limit and the observed value so callers can
// build precise user-facing messages without re-reading config.
type Violation struct {
	Kind     string
	Limit    int64
	Observed int64

	// Detail is extra context for kinds where the numbers alone are
	// not enough (e.g. the rejected extension).
	Detail string
}

// Error implements the error interface so a Violation can travel an
// error path when callers prefer that, but Check returns it as a value
// so policy checks compose without type assertions.
func (v *Violation) Error() string {
	if v.Detail != "" {
		return fmt.Sprintf("%s: %s (limit %d, observed %d)", v.Kind, v.Detail, v.Limit, v.Observed)
	}
	return fmt.Sprintf("%s: limit %d, observed %d", v.Kind, v.Limit, v.Observed)
}

// UsageSnapshot is the caller-supplied view of an identity's current
// consumption. Freshness is the caller's responsibility.
type UsageSnapshot struct {
	DocumentCount int64
	StorageBytes  int64
}

// Policy holds the per-identity upload limits. A zero Policy is not
// usable; construct with NewPolicy.
type Policy struct {
	maxFileSizeBytes  int64
	allowedExtensions map[string]bool
	maxDocuments      int64
	maxStorageBytes   int64
}

// PolicyConfig configures a Policy. Zero values use the defaults.
type PolicyConfig struct {
	MaxFileSizeBytes  int64
	AllowedExtensions []string
	MaxDocuments      int64
	MaxStorageBytes   int64
}

// NewPolicy creates a policy enforcer with the given limits.
func NewPolicy(cfg PolicyConfig) *Policy {
	if cfg.MaxFileSizeBytes <= 0 {
		cfg.MaxFileSizeBytes = DefaultMaxFileSizeBytes
	}
	if len(cfg.AllowedExtensions) == 0 {
		cfg.AllowedExtensions = DefaultAllowedExtensions
	}
	if cfg.MaxDocuments <= 0 {
		cfg.MaxDocuments = DefaultMaxDocuments
	}
	if cfg.MaxStorageBytes <= 0 {
		cfg.MaxStorageBytes = DefaultMaxStorageBytes
	}

	allowed := make(map[string]bool, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		allowed[strings.ToLower(ext)] = true
	}

	return &Policy{
		maxFileSizeBytes:  cfg.MaxFileSizeBytes,
		allowedExtensions: allowed,
		maxDocuments:      cfg.MaxDocuments,
		maxStorageBytes:   cfg.MaxStorageBytes,
	}
}

// Check evaluates an upload against the policy and returns the first
// violated rule, or nil when the upload is allowed. Pure function: no
// I/O, evaluated entirely against the supplied snapshot.
func (p *Policy) Check(filename string, fileSize int64, usage UsageSnapshot) *Violation {
	if fileSize > p.maxFileSizeBytes {
		return &Violation{
			Kind:     ViolationFileSize,
			Limit:    p.maxFileSizeBytes,
			Observed: fileSize,
		}
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if !p.allowedExtensions[ext] {
		return &Violation{
			Kind:   ViolationFileType,
			Detail: ext,
		}
	}

	if usage.DocumentCount >= p.maxDocuments {
		return &Violation{
			Kind:     ViolationDocumentCount,
			Limit:    p.maxDocuments,
			Observed: usage.DocumentCount,
		}
	}

	if usage.StorageBytes+fileSize > p.maxStorageBytes {
		return &Violation{
			Kind:     ViolationStorageQuota,
			Limit:    p.maxStorageBytes,
			Observed: usage.StorageBytes + fileSize,
		}
	}

	return nil
}
