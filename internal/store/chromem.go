package store

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
)

// chromemCollection is the single collection all passages live in.
const chromemCollection = "passages"

// ChromemDenseIndex implements DenseIndex on top of chromem-go's embedded
// persistent vector database. Embeddings are always computed upstream and
// supplied to Add; the collection's embedding func exists only because
// chromem installs a remote default when given nil, which must never fire.
//
// chromem stores metadata as map[string]string, so values round-trip as
// strings. Filter matching copes via loose numeric/string comparison.
type ChromemDenseIndex struct {
	mu     sync.RWMutex
	db     *chromem.DB
	col    *chromem.Collection
	dims   int
	closed bool
}

// errEmbedFunc refuses any attempt to embed through the collection.
func errEmbedFunc(_ context.Context, _ string) ([]float32, error) {
	return nil, fmt.Errorf("embeddings are computed upstream, not by the vector store")
}

// NewChromemDenseIndex opens (or creates) a chromem database under dir.
// Only cosine similarity is supported; cfg.Metric "l2" is rejected.
// cfg.Dimensions may be zero, in which case the dimension is learned from
// the first Add.
func NewChromemDenseIndex(dir string, cfg DenseConfig) (*ChromemDenseIndex, error) {
	if dir == "" {
		return nil, fmt.Errorf("chromem backend requires a directory path")
	}
	if cfg.Metric == "l2" {
		return nil, fmt.Errorf("chromem backend only supports cosine similarity (metric %q not available)", cfg.Metric)
	}

	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open chromem db: %w", err)
	}

	col, err := db.GetOrCreateCollection(chromemCollection, nil, errEmbedFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection %s: %w", chromemCollection, err)
	}

	return &ChromemDenseIndex{
		db:   db,
		col:  col,
		dims: cfg.Dimensions,
	}, nil
}

// Add inserts passages with their precomputed embeddings.
// Existing ids are overwritten.
func (s *ChromemDenseIndex) Add(ctx context.Context, passages []*Passage, embeddings [][]float32) error {
	if len(passages) == 0 {
		return nil
	}

	if len(passages) != len(embeddings) {
		return fmt.Errorf("passages and embeddings length mismatch: %d vs %d", len(passages), len(embeddings))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	docs := make([]chromem.Document, 0, len(passages))
	for i, p := range passages {
		emb := embeddings[i]
		if s.dims == 0 {
			s.dims = len(emb)
		}
		if len(emb) != s.dims {
			return ErrDimensionMismatch{Expected: s.dims, Got: len(emb)}
		}

		docs = append(docs, chromem.Document{
			ID:        p.ID,
			Content:   p.Text,
			Metadata:  metadataToString(p.Metadata),
			Embedding: emb,
		})
	}

	// Concurrency of 1: the expensive part (embedding) already happened
	if err := s.col.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}

	return nil
}

// Search finds the topK nearest passages by cosine similarity. Filters are
// applied after the query over the string-typed metadata, over-fetching
// first so a selective filter still fills topK where possible.
func (s *ChromemDenseIndex) Search(ctx context.Context, query []float32, topK int, filter *Filter) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	count := s.col.Count()
	if count == 0 {
		return []*VectorResult{}, nil
	}

	if s.dims != 0 && len(query) != s.dims {
		return nil, ErrDimensionMismatch{Expected: s.dims, Got: len(query)}
	}

	// chromem rejects nResults > collection size
	limit := topK
	if filter != nil {
		limit = topK * filterOverfetch
	}
	if limit > count {
		limit = count
	}

	hits, err := s.col.QueryEmbedding(ctx, query, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query embedding: %w", err)
	}

	results := filterChromemHits(hits, topK, filter)
	if filter != nil && len(results) < topK && limit < count {
		hits, err = s.col.QueryEmbedding(ctx, query, count, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("query embedding: %w", err)
		}
		results = filterChromemHits(hits, topK, filter)
	}

	return results, nil
}

// filterChromemHits converts query results, dropping those the filter
// rejects, keeping at most topK.
func filterChromemHits(hits []chromem.Result, topK int, filter *Filter) []*VectorResult {
	results := make([]*VectorResult, 0, topK)
	for _, hit := range hits {
		if filter != nil && !filter.Matches(metadataFromString(hit.Metadata)) {
			continue
		}
		// chromem reports cosine similarity; convert to the shared
		// distance/score convention.
		distance := 1.0 - hit.Similarity
		results = append(results, &VectorResult{
			ID:       hit.ID,
			Distance: distance,
			Score:    distanceToScore(distance, "cos"),
		})
		if len(results) == topK {
			break
		}
	}
	return results
}

// Fetch returns stored payloads by id. Missing ids are skipped.
func (s *ChromemDenseIndex) Fetch(ctx context.Context, ids []string) (map[string]*Payload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	out := make(map[string]*Payload, len(ids))
	for _, id := range ids {
		doc, err := s.col.GetByID(ctx, id)
		if err != nil {
			continue
		}
		out[id] = &Payload{
			Embedding: doc.Embedding,
			Document:  doc.Content,
			Metadata:  metadataFromString(doc.Metadata),
		}
	}

	return out, nil
}

// Delete removes passages by id.
func (s *ChromemDenseIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	if err := s.col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}

	return nil
}

// Contains reports whether id exists.
func (s *ChromemDenseIndex) Contains(ctx context.Context, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}

	_, err := s.col.GetByID(ctx, id)
	return err == nil
}

// AllIDs is unsupported: chromem collections expose no id enumeration.
// Consistency checks fall back to Contains and Count.
func (s *ChromemDenseIndex) AllIDs() ([]string, error) {
	return nil, fmt.Errorf("chromem backend does not enumerate ids")
}

// Count returns the number of passages.
func (s *ChromemDenseIndex) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0
	}

	return s.col.Count()
}

// Dimensions returns the embedding dimension, or 0 when nothing has been
// added and none was configured.
func (s *ChromemDenseIndex) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dims
}

// Save is a no-op: the persistent chromem db writes through on every
// mutation.
func (s *ChromemDenseIndex) Save() error {
	return nil
}

// Close releases resources.
func (s *ChromemDenseIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	s.col = nil
	s.db = nil

	return nil
}

// metadataToString converts typed metadata to chromem's string-valued form.
func metadataToString(meta map[string]any) map[string]string {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		switch val := v.(type) {
		case string:
			out[k] = val
		case int:
			out[k] = strconv.Itoa(val)
		case int64:
			out[k] = strconv.FormatInt(val, 10)
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case float32:
			out[k] = strconv.FormatFloat(float64(val), 'f', -1, 32)
		case bool:
			out[k] = strconv.FormatBool(val)
		default:
			out[k] = fmt.Sprintf("%v", val)
		}
	}
	return out
}

// metadataFromString widens chromem metadata back to map[string]any.
// Values stay strings; numeric comparisons downstream coerce as needed.
func metadataFromString(meta map[string]string) map[string]any {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}

// Verify interface implementation
var _ DenseIndex = (*ChromemDenseIndex)(nil)
