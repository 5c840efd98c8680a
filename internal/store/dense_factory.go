package store

import (
	"fmt"
)

// DenseBackend selects the vector index implementation.
type DenseBackend string

const (
	// DenseBackendHNSW uses an in-process HNSW graph persisted to a single
	// file with a gob payload sidecar. Fast approximate search, default.
	DenseBackendHNSW DenseBackend = "hnsw"

	// DenseBackendChromem uses the embedded chromem-go vector database,
	// one gob file per passage under a directory. Exhaustive search,
	// write-through persistence.
	DenseBackendChromem DenseBackend = "chromem"
)

// NewDenseIndex creates a dense index with the specified backend, creating
// the on-disk artifact if it doesn't exist yet. An empty backend selects
// HNSW.
func NewDenseIndex(backend, path string, cfg DenseConfig) (DenseIndex, error) {
	switch backend {
	case string(DenseBackendHNSW), "":
		return NewHNSWDenseIndex(path, cfg)

	case string(DenseBackendChromem):
		return NewChromemDenseIndex(path, cfg)

	default:
		return nil, fmt.Errorf("unknown dense backend: %s (valid options: hnsw, chromem)", backend)
	}
}

// OpenDenseIndex opens an existing dense index and refuses to create one.
// A missing artifact returns an error wrapping ErrIndexNotFound so callers
// can tell "not built yet" from a real open failure.
func OpenDenseIndex(backend, path string, cfg DenseConfig) (DenseIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("dense index: %w (no path configured)", ErrIndexNotFound)
	}

	switch backend {
	case string(DenseBackendHNSW), "":
		if !fileExists(path) {
			return nil, fmt.Errorf("dense index at %s: %w", path, ErrIndexNotFound)
		}
		return NewHNSWDenseIndex(path, cfg)

	case string(DenseBackendChromem):
		if !dirExists(path) {
			return nil, fmt.Errorf("dense index at %s: %w", path, ErrIndexNotFound)
		}
		return NewChromemDenseIndex(path, cfg)

	default:
		return nil, fmt.Errorf("unknown dense backend: %s (valid options: hnsw, chromem)", backend)
	}
}

// DetectDenseBackend inspects existing artifacts and reports which backend
// built them, preferring HNSW when both somehow exist. Returns an empty
// string if no index exists.
func DetectDenseBackend(hnswPath, chromemDir string) DenseBackend {
	if fileExists(hnswPath) {
		return DenseBackendHNSW
	}
	if dirExists(chromemDir) {
		return DenseBackendChromem
	}
	return ""
}
