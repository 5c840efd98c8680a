// Package store provides the persistence layer for indexed passages: the
// sparse keyword index (Bleve or SQLite FTS5), the dense vector index (HNSW
// or chromem), and the SQLite passage store that owns payload hydration.
package store

import (
	"context"
	"fmt"
)

// State keys persisted in the passage store alongside the corpus.
const (
	// StateKeyEmbedderModel stores the embedding model name used to build the index.
	StateKeyEmbedderModel = "index_embedding_model"
	// StateKeyEmbedderProvider stores the embedding provider (ollama, static).
	StateKeyEmbedderProvider = "index_embedding_provider"
	// StateKeyEmbedderDimensions stores the embedding dimension used to build the index.
	StateKeyEmbedderDimensions = "index_embedding_dimension"
	// StateKeyCorpusHash stores the content hash of the corpus file the index was built from.
	StateKeyCorpusHash = "corpus_hash"
	// StateKeyBuiltAt stores the RFC3339 timestamp of the last completed build.
	StateKeyBuiltAt = "built_at"
	// StateKeyDocumentCount stores the number of source documents the corpus split into.
	StateKeyDocumentCount = "document_count"
)

// CurrentSchemaVersion is the current passage database schema version.
const CurrentSchemaVersion = 1

// Passage is the retrievable corpus unit: a chunk of a reference document.
// Metadata carries section_title, section_number, position, source_id,
// category and free-form tags; values survive a JSON round trip (numbers
// come back as float64).
type Passage struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Payload is the hydrated record the dense index serves per id: the stored
// embedding (unit-normalized), the passage text, and its metadata.
type Payload struct {
	Embedding []float32
	Document  string
	Metadata  map[string]any
}

// SparseResult is a single sparse (keyword) search hit.
type SparseResult struct {
	ID           string
	Score        float64
	MatchedTerms []string
}

// SparseStats provides statistics about the sparse index.
type SparseStats struct {
	PassageCount int
}

// SparseIndex provides keyword search over passages scored by BM25.
// The tokenization policy (lowercasing, stop words, minimum token length)
// lives in this layer and is applied identically at index and query time.
type SparseIndex interface {
	// Index adds passages to the index. Existing ids are replaced.
	Index(ctx context.Context, passages []*Passage) error

	// Search returns passages matching query, best first, at most topK.
	// A query that tokenizes to nothing returns an empty slice, not an error.
	Search(ctx context.Context, query string, topK int) ([]*SparseResult, error)

	// Delete removes passages from the index.
	Delete(ctx context.Context, ids []string) error

	// AllIDs returns all passage ids in the index (for consistency checks).
	AllIDs() ([]string, error)

	// Stats returns index statistics.
	Stats() *SparseStats

	// Save flushes pending writes to disk.
	Save() error
	Close() error
}

// SparseConfig configures the sparse index.
type SparseConfig struct {
	// StopWords is a list of words to filter out during tokenization.
	StopWords []string

	// MinTokenLength is the minimum token length to index (default: 2).
	MinTokenLength int
}

// DefaultSparseConfig returns the default sparse index configuration.
func DefaultSparseConfig() SparseConfig {
	return SparseConfig{
		StopWords:      DefaultStopWords,
		MinTokenLength: 2,
	}
}

// VectorResult is a single dense (vector) search hit.
// Distance is the cosine distance (0 identical, 2 opposite); Score is the
// normalized similarity in [0,1].
type VectorResult struct {
	ID       string
	Distance float32
	Score    float32
}

// DenseIndex provides nearest-neighbour search over passage embeddings and
// serves payload hydration. Filter evaluation belongs to this layer: a
// search with a metadata filter returns only matching passages.
type DenseIndex interface {
	// Add inserts passages with their embeddings. Existing ids are replaced.
	// len(passages) must equal len(embeddings).
	Add(ctx context.Context, passages []*Passage, embeddings [][]float32) error

	// Search finds the topK nearest passages to the query embedding,
	// smallest distance first. A nil filter matches everything.
	Search(ctx context.Context, embedding []float32, topK int, filter *Filter) ([]*VectorResult, error)

	// Fetch returns the stored payload per id. Ids absent from the index
	// have no entry in the returned map; the caller decides whether a gap
	// is tolerable.
	Fetch(ctx context.Context, ids []string) (map[string]*Payload, error)

	// Delete removes passages by id.
	Delete(ctx context.Context, ids []string) error

	// Contains reports whether id exists in the index.
	Contains(ctx context.Context, id string) bool

	// AllIDs returns every passage id in the index (for consistency checks).
	// Backends that cannot enumerate ids return an error; callers fall back
	// to Contains and Count.
	AllIDs() ([]string, error)

	// Count returns the number of passages in the index.
	Count() int

	// Dimensions returns the embedding dimension the index was built with.
	Dimensions() int

	// Save persists the index to disk.
	Save() error
	Close() error
}

// DenseConfig configures the dense index.
type DenseConfig struct {
	// Dimensions is the embedding dimension. Must match the embedder.
	Dimensions int

	// Metric is the distance metric: "cos" (cosine) or "l2" (default: "cos").
	Metric string

	// M is the HNSW max connections per layer (default: 32).
	M int

	// EfConstruction is the HNSW build-time search width (default: 128).
	EfConstruction int

	// EfSearch is the HNSW query-time search width (default: 64).
	EfSearch int
}

// DefaultDenseConfig returns sensible defaults for the dense index.
func DefaultDenseConfig(dimensions int) DenseConfig {
	return DenseConfig{
		Dimensions:     dimensions,
		Metric:         "cos",
		M:              32,
		EfConstruction: 128,
		EfSearch:       64,
	}
}

// SectionStat is a per-section passage count, for status reporting.
type SectionStat struct {
	SectionTitle string
	Count        int
}

// PassageStore persists passage payloads and small index state in SQLite.
type PassageStore interface {
	// SavePassages upserts passages in one transaction.
	SavePassages(ctx context.Context, passages []*Passage) error

	// GetPassage returns one passage or an error wrapping ErrPassageNotFound.
	GetPassage(ctx context.Context, id string) (*Passage, error)

	// GetPassages returns the passages for ids in the same order as ids,
	// fetching in batches. Ids not present in the store are skipped; the
	// caller detects gaps by comparing lengths.
	GetPassages(ctx context.Context, ids []string) ([]*Passage, error)

	// Delete removes passages by id.
	Delete(ctx context.Context, ids []string) error

	// AllIDs returns every stored passage id.
	AllIDs(ctx context.Context) ([]string, error)

	// Count returns the number of stored passages.
	Count(ctx context.Context) (int, error)

	// Sections returns per-section passage counts, most populous first.
	Sections(ctx context.Context) ([]SectionStat, error)

	// GetState returns the value for key, or "" if the key is not set.
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	Close() error
}

// ErrDimensionMismatch indicates an embedding dimension mismatch between the
// index and the embedder.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (run 'quarry index --force' to rebuild)", e.Expected, e.Got)
}
