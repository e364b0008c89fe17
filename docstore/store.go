package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/corvusec/ipvault/instrumentation"
	"github.com/corvusec/ipvault/internal/util"
	"github.com/corvusec/ipvault/security"
	"github.com/corvusec/ipvault/storage"
)

const (
	// DefaultCompressionLevel balances ratio against CPU for the
	// text-heavy payloads this store sees.
	DefaultCompressionLevel = 6

	// dirPerm and filePerm restrict stored documents to the owning
	// process user.
	dirPerm  = 0o700
	filePerm = 0o600

	// shardLength is the number of identity-token characters used for
	// directory sharding.
	shardLength = 4

	// hashSuffixLength is the number of content-hash characters
	// embedded in the data file name.
	hashSuffixLength = 16

	// tempSuffix marks in-flight data files awaiting rename.
	tempSuffix = ".tmp"

	// identityLogLength is the number of identity-token characters
	// included in log output.
	identityLogLength = 8
)

// Errors returned by the document store. ErrDocumentNotFound covers
// ownership violations as well, so callers cannot probe for other
// identities' documents.
var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrDocumentCorrupt  = errors.New("document failed integrity check")
)

// Document is the metadata record kept alongside each stored file.
type Document struct {
	ID           string    `json:"document_id"`
	Identity     string    `json:"identity"`
	Filename     string    `json:"filename"`
	ContentHash  string    `json:"content_hash"`
	OriginalSize int64     `json:"original_size"`
	StoredSize   int64     `json:"stored_size"`
	StoredAt     time.Time `json:"stored_at"`
}

// Config holds configuration for the document store.
type Config struct {
	// Root is the base directory for documents and metadata
	// (required). Created with owner-only permissions if absent.
	Root string

	// CompressionLevel is the gzip level (default
	// DefaultCompressionLevel).
	CompressionLevel int

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger

	// Metrics receives document and storage operation counts
	// (optional).
	Metrics *instrumentation.Metrics
}

// Store is a filesystem-backed encrypted document store.
type Store struct {
	root    string
	level   int
	engine  *security.Engine
	policy  *security.Policy
	auditor *security.Auditor
	tasks   storage.TaskStatusStore
	metrics *instrumentation.Metrics
	logger  *slog.Logger

	now func() time.Time
}

// New creates a document store rooted at cfg.Root.
func New(cfg Config, engine *security.Engine, policy *security.Policy, auditor *security.Auditor, tasks storage.TaskStatusStore) (*Store, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("document store root is required")
	}

	level := cfg.CompressionLevel
	if level == 0 {
		level = DefaultCompressionLevel
	}
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		return nil, fmt.Errorf("invalid compression level %d", level)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.Root, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create document store root: %w", err)
	}

	return &Store{
		root:    cfg.Root,
		level:   level,
		engine:  engine,
		policy:  policy,
		auditor: auditor,
		tasks:   tasks,
		metrics: cfg.Metrics,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// operationResult maps an operation error to its metric attribute.
func operationResult(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func millisecondsSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}

// shard returns the directory shard for an identity token, so one
// identity's files always live under a single shard directory.
func shard(identity string) string {
	if len(identity) < shardLength {
		return identity
	}
	return identity[:shardLength]
}

func hashSuffix(contentHash string) string {
	if len(contentHash) < hashSuffixLength {
		return contentHash
	}
	return contentHash[:hashSuffixLength]
}

func (s *Store) dataDir(identity string) string {
	return filepath.Join(s.root, "documents", shard(identity), identity)
}

func (s *Store) dataPath(doc *Document) string {
	name := doc.ID + "_" + hashSuffix(doc.ContentHash) + ".enc"
	return filepath.Join(s.dataDir(doc.Identity), name)
}

func (s *Store) metaDir(identity string) string {
	return filepath.Join(s.root, "metadata", shard(identity), identity)
}

func (s *Store) metaPath(doc *Document) string {
	return filepath.Join(s.metaDir(doc.Identity), doc.ID+".json")
}

// metaGlob matches every metadata record of the identity. All of an
// identity's records live in one directory.
func (s *Store) metaGlob(identity string) string {
	return filepath.Join(s.metaDir(identity), "*.json")
}

// loadMeta reads and parses one metadata record.
func (s *Store) loadMeta(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("malformed metadata record %s: %w", filepath.Base(path), err)
	}
	return &doc, nil
}

// listMeta returns every metadata record of the identity, newest
// first. Malformed records are logged and skipped.
func (s *Store) listMeta(identity string) ([]*Document, error) {
	paths, err := filepath.Glob(s.metaGlob(identity))
	if err != nil {
		return nil, fmt.Errorf("failed to list metadata: %w", err)
	}

	docs := make([]*Document, 0, len(paths))
	for _, path := range paths {
		doc, err := s.loadMeta(path)
		if err != nil {
			s.logger.Error("Skipping unreadable metadata record",
				"path", filepath.Base(path),
				"error", err)
			continue
		}
		docs = append(docs, doc)
	}

	sort.Slice(docs, func(i, j int) bool {
		return docs[i].StoredAt.After(docs[j].StoredAt)
	})
	return docs, nil
}

// findMeta returns the metadata record for (identity, documentID) or
// ErrDocumentNotFound. The identity is part of the metadata path, so a
// lookup can only ever see the caller's own records.
func (s *Store) findMeta(identity, documentID string) (*Document, error) {
	doc, err := s.loadMeta(filepath.Join(s.metaDir(identity), documentID+".json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	return doc, nil
}

// checkOwner rejects records whose embedded identity disagrees with
// the caller. The path layout already isolates identities; this guards
// against records copied or tampered with on disk.
func (s *Store) checkOwner(ctx context.Context, identity string, doc *Document) error {
	if doc.Identity == identity {
		return nil
	}

	s.auditor.RecordSecurityEvent(ctx, security.SecurityEvent{
		Identity: identity,
		Kind:     security.EventOwnershipViolation,
		Details:  map[string]any{"document_id": doc.ID},
	})
	s.logger.Error("Document ownership mismatch",
		"identity", util.SafeTruncate(identity, identityLogLength),
		"document_id", doc.ID)

	return ErrDocumentNotFound
}
