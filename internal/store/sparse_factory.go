package store

import (
	"errors"
	"fmt"
	"os"
)

// ErrIndexNotFound indicates a search was attempted against an index that
// has not been built. Callers surface this as a configuration error with a
// hint to run `quarry index`.
var ErrIndexNotFound = errors.New("index not found")

// SparseBackend represents the sparse index backend type.
type SparseBackend string

const (
	// SparseBackendBleve uses Bleve v2 for BM25 search (default).
	// Exclusive file locking via BoltDB - single process only.
	SparseBackendBleve SparseBackend = "bleve"

	// SparseBackendSQLite uses SQLite FTS5 for BM25 search.
	// Enables concurrent multi-process access via WAL mode.
	SparseBackendSQLite SparseBackend = "sqlite"
)

// NewSparseIndex creates (or opens, when it already exists) a sparse index
// at path using the named backend. An empty backend selects bleve. An empty
// path creates an in-memory index for testing.
func NewSparseIndex(backend, path string, config SparseConfig) (SparseIndex, error) {
	switch backend {
	case string(SparseBackendBleve), "":
		return NewBleveSparseIndex(path, config)

	case string(SparseBackendSQLite):
		return NewSQLiteSparseIndex(path, config)

	default:
		return nil, fmt.Errorf("unknown sparse backend: %s (valid options: bleve, sqlite)", backend)
	}
}

// OpenSparseIndex opens an existing sparse index for querying. Unlike
// NewSparseIndex it refuses to create an empty index: a missing path returns
// an error wrapping ErrIndexNotFound.
func OpenSparseIndex(backend, path string, config SparseConfig) (SparseIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("sparse index: %w (no path configured)", ErrIndexNotFound)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("sparse index at %s: %w", path, ErrIndexNotFound)
	}
	return NewSparseIndex(backend, path, config)
}

// DetectSparseBackend reports which backend built the index at the given
// candidate paths, preferring bleve. Returns "" if neither exists.
func DetectSparseBackend(blevePath, sqlitePath string) SparseBackend {
	if dirExists(blevePath) {
		return SparseBackendBleve
	}
	if fileExists(sqlitePath) {
		return SparseBackendSQLite
	}
	return ""
}

// fileExists checks if a file exists at the given path.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// dirExists checks if a directory exists at the given path.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
