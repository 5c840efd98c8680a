package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// filterOverfetch is how many extra candidates a filtered search pulls from
// the graph before applying the metadata predicate. If the first pass comes
// up short the search widens to the whole graph.
const filterOverfetch = 4

func init() {
	// Metadata values travel through gob inside interface slots.
	gob.Register(map[string]any{})
	gob.Register([]any{})
	gob.Register([]string{})
}

// HNSWDenseIndex implements DenseIndex using the coder/hnsw pure Go HNSW
// graph. Passage payloads (text + metadata) live in a gob sidecar next to
// the graph file, so the index can serve hydration and evaluate metadata
// filters without consulting another store.
type HNSWDenseIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config DenseConfig
	path   string

	// ID mapping (string <-> uint64)
	idMap   map[string]uint64 // passage id -> internal key
	keyMap  map[uint64]string // internal key -> passage id
	nextKey uint64            // next available key

	// Payloads per passage id
	payloads map[string]*hnswPayload

	closed bool
}

// hnswPayload is the stored per-passage payload.
type hnswPayload struct {
	Document string
	Metadata map[string]any
}

// hnswMetadata is the gob sidecar: ID mappings, payloads, and config.
type hnswMetadata struct {
	IDMap    map[string]uint64
	NextKey  uint64
	Config   DenseConfig
	Payloads map[string]*hnswPayload
}

// NewHNSWDenseIndex creates a dense index backed by an HNSW graph at path.
// If the path already holds an index it is loaded; a non-zero cfg.Dimensions
// that disagrees with the stored dimension returns ErrDimensionMismatch.
// An empty path keeps the index in memory (Save becomes an error).
func NewHNSWDenseIndex(path string, cfg DenseConfig) (*HNSWDenseIndex, error) {
	// Apply defaults
	if cfg.Metric == "" {
		cfg.Metric = "cos"
	}
	if cfg.M == 0 {
		cfg.M = 16 // coder/hnsw default recommendation
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20 // coder/hnsw default
	}

	graph := hnsw.NewGraph[uint64]()

	switch cfg.Metric {
	case "cos":
		graph.Distance = hnsw.CosineDistance
	case "l2":
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}

	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25 // default level generation factor (1/ln(M))

	s := &HNSWDenseIndex{
		graph:    graph,
		config:   cfg,
		path:     path,
		idMap:    make(map[string]uint64),
		keyMap:   make(map[uint64]string),
		payloads: make(map[string]*hnswPayload),
		nextKey:  0,
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := s.load(); err != nil {
				return nil, fmt.Errorf("failed to load dense index: %w", err)
			}
			if cfg.Dimensions != 0 && s.config.Dimensions != cfg.Dimensions {
				return nil, ErrDimensionMismatch{
					Expected: s.config.Dimensions,
					Got:      cfg.Dimensions,
				}
			}
		}
	}

	return s, nil
}

// Add inserts passages with their embeddings.
// If an id already exists, it will be updated (delete + add).
func (s *HNSWDenseIndex) Add(ctx context.Context, passages []*Passage, embeddings [][]float32) error {
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

	// Validate dimensions
	for _, v := range embeddings {
		if len(v) != s.config.Dimensions {
			return ErrDimensionMismatch{
				Expected: s.config.Dimensions,
				Got:      len(v),
			}
		}
	}

	for i, p := range passages {
		// If the id exists, use lazy deletion (just update mappings, don't
		// remove from the graph). This avoids a bug in coder/hnsw where
		// deleting the last node breaks the graph.
		if existingKey, exists := s.idMap[p.ID]; exists {
			delete(s.keyMap, existingKey) // orphan the old key
			delete(s.idMap, p.ID)
		}

		key := s.nextKey
		s.nextKey++

		// Normalize vector for cosine similarity
		vec := make([]float32, len(embeddings[i]))
		copy(vec, embeddings[i])
		if s.config.Metric == "cos" {
			normalizeVectorInPlace(vec)
		}

		node := hnsw.MakeNode(key, vec)
		s.graph.Add(node)

		s.idMap[p.ID] = key
		s.keyMap[key] = p.ID
		s.payloads[p.ID] = &hnswPayload{
			Document: p.Text,
			Metadata: p.Metadata,
		}
	}

	return nil
}

// Search finds the topK nearest passages to the query embedding, applying
// the metadata filter when one is given. A filtered pass over-fetches and,
// if still short of topK, widens to the whole graph before giving up.
func (s *HNSWDenseIndex) Search(ctx context.Context, query []float32, topK int, filter *Filter) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{
			Expected: s.config.Dimensions,
			Got:      len(query),
		}
	}

	// Handle empty graph
	if s.graph.Len() == 0 {
		return []*VectorResult{}, nil
	}

	// Normalize query for cosine similarity
	normalizedQuery := make([]float32, len(query))
	copy(normalizedQuery, query)
	if s.config.Metric == "cos" {
		normalizeVectorInPlace(normalizedQuery)
	}

	limit := topK
	if filter != nil {
		limit = topK * filterOverfetch
	}
	if limit > s.graph.Len() {
		limit = s.graph.Len()
	}

	results := s.searchLocked(normalizedQuery, limit, topK, filter)
	if filter != nil && len(results) < topK && limit < s.graph.Len() {
		results = s.searchLocked(normalizedQuery, s.graph.Len(), topK, filter)
	}

	return results, nil
}

// searchLocked runs one graph search pass. Caller holds at least a read lock.
func (s *HNSWDenseIndex) searchLocked(query []float32, limit, topK int, filter *Filter) []*VectorResult {
	nodes := s.graph.Search(query, limit)

	results := make([]*VectorResult, 0, topK)
	for _, node := range nodes {
		id, exists := s.keyMap[node.Key]
		if !exists {
			// Lazy-deleted orphan
			continue
		}

		if filter != nil {
			payload := s.payloads[id]
			if payload == nil || !filter.Matches(payload.Metadata) {
				continue
			}
		}

		distance := s.graph.Distance(query, node.Value)
		results = append(results, &VectorResult{
			ID:       id,
			Distance: distance,
			Score:    distanceToScore(distance, s.config.Metric),
		})
		if len(results) == topK {
			break
		}
	}

	return results
}

// Fetch returns the stored payload per id. Embeddings come back
// unit-normalized (as stored). Ids absent from the index are absent from
// the map.
func (s *HNSWDenseIndex) Fetch(ctx context.Context, ids []string) (map[string]*Payload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	out := make(map[string]*Payload, len(ids))
	for _, id := range ids {
		key, ok := s.idMap[id]
		if !ok {
			continue
		}
		vec, ok := s.graph.Lookup(key)
		if !ok {
			continue
		}

		// Copy so callers can't mutate graph storage
		emb := make([]float32, len(vec))
		copy(emb, vec)

		payload := &Payload{Embedding: emb}
		if stored := s.payloads[id]; stored != nil {
			payload.Document = stored.Document
			payload.Metadata = stored.Metadata
		}
		out[id] = payload
	}

	return out, nil
}

// Delete removes passages by id.
// Uses lazy deletion to avoid coder/hnsw issues with deleting the last node.
func (s *HNSWDenseIndex) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	for _, id := range ids {
		if key, exists := s.idMap[id]; exists {
			// The node remains in the graph but won't appear in results
			delete(s.keyMap, key)
			delete(s.idMap, id)
			delete(s.payloads, id)
		}
	}

	return nil
}

// Contains reports whether id exists.
func (s *HNSWDenseIndex) Contains(ctx context.Context, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}

	_, exists := s.idMap[id]
	return exists
}

// AllIDs returns every passage id in the index.
func (s *HNSWDenseIndex) AllIDs() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	ids := make([]string, 0, len(s.idMap))
	for id := range s.idMap {
		ids = append(ids, id)
	}
	return ids, nil
}

// Count returns the number of passages.
func (s *HNSWDenseIndex) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0
	}

	return len(s.idMap)
}

// Dimensions returns the embedding dimension the index was built with.
func (s *HNSWDenseIndex) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.Dimensions
}

// HNSWStats contains dense index statistics including orphan count from
// lazy deletion.
type HNSWStats struct {
	ValidIDs   int // Number of valid id mappings (active passages)
	GraphNodes int // Total nodes in HNSW graph (includes orphans)
	Orphans    int // GraphNodes - ValidIDs (lazy-deleted nodes)
}

// Stats returns dense index statistics.
func (s *HNSWDenseIndex) Stats() HNSWStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return HNSWStats{}
	}

	validIDs := len(s.idMap)
	graphNodes := s.graph.Len()

	return HNSWStats{
		ValidIDs:   validIDs,
		GraphNodes: graphNodes,
		Orphans:    graphNodes - validIDs,
	}
}

// Save persists the index to disk.
// Uses atomic save (temp file + rename).
func (s *HNSWDenseIndex) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}
	if s.path == "" {
		return fmt.Errorf("in-memory index has no save path")
	}

	// Create directory if needed
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Save HNSW graph to temp file
	tmpIndexPath := s.path + ".tmp"
	file, err := os.Create(tmpIndexPath)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}

	if err := s.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpIndexPath)
		return fmt.Errorf("failed to export graph: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tmpIndexPath)
		return fmt.Errorf("failed to close index file: %w", err)
	}

	// Rename to final path (atomic on most filesystems)
	if err := os.Rename(tmpIndexPath, s.path); err != nil {
		os.Remove(tmpIndexPath)
		return fmt.Errorf("failed to rename index file: %w", err)
	}

	// Save ID mappings and payloads
	if err := s.saveMetadata(s.path + ".meta"); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}

	return nil
}

// saveMetadata saves ID mappings and payloads to a gob file.
func (s *HNSWDenseIndex) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}

	meta := hnswMetadata{
		IDMap:    s.idMap,
		NextKey:  s.nextKey,
		Config:   s.config,
		Payloads: s.payloads,
	}

	encoder := gob.NewEncoder(file)
	if err := encoder.Encode(meta); err != nil {
		if closeErr := file.Close(); closeErr != nil {
			slog.Warn("failed to close temp file during cleanup", slog.String("error", closeErr.Error()))
		}
		os.Remove(tmpPath)
		return fmt.Errorf("encode metadata: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close metadata file: %w", err)
	}

	return os.Rename(tmpPath, path)
}

// load reads the graph and its sidecar from disk.
func (s *HNSWDenseIndex) load() error {
	// Load ID mappings first to get config
	if err := s.loadMetadata(s.path + ".meta"); err != nil {
		return fmt.Errorf("failed to load metadata: %w", err)
	}

	file, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("failed to open index file: %w", err)
	}
	defer file.Close()

	// Use bufio.Reader because coder/hnsw Import requires io.ByteReader
	reader := bufio.NewReader(file)
	if err := s.graph.Import(reader); err != nil {
		return fmt.Errorf("failed to import graph: %w", err)
	}

	return nil
}

// loadMetadata loads ID mappings and payloads from a gob file.
func (s *HNSWDenseIndex) loadMetadata(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open metadata file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close metadata file", slog.String("error", err.Error()))
		}
	}()

	var meta hnswMetadata

	decoder := gob.NewDecoder(file)
	if err := decoder.Decode(&meta); err != nil {
		return fmt.Errorf("decode hnsw metadata: %w", err)
	}

	// Rebuild mappings
	s.idMap = meta.IDMap
	s.keyMap = make(map[uint64]string)
	s.nextKey = meta.NextKey
	s.config = meta.Config
	s.payloads = meta.Payloads
	if s.payloads == nil {
		s.payloads = make(map[string]*hnswPayload)
	}

	for id, key := range s.idMap {
		s.keyMap[key] = id
	}

	return nil
}

// Close releases resources.
func (s *HNSWDenseIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	// coder/hnsw Graph doesn't need explicit cleanup
	s.graph = nil

	return nil
}

// ReadHNSWDimensions reads the dimensions from an existing dense index's
// metadata sidecar. Returns 0 if the metadata file doesn't exist (fresh
// start). The path should be the index path (e.g. "vectors.hnsw"), not the
// meta file path.
func ReadHNSWDimensions(indexPath string) (int, error) {
	metaPath := indexPath + ".meta"

	file, err := os.Open(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil // Fresh start
		}
		return 0, fmt.Errorf("failed to open hnsw metadata: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close hnsw metadata file", slog.String("error", err.Error()))
		}
	}()

	var meta hnswMetadata
	decoder := gob.NewDecoder(file)
	if err := decoder.Decode(&meta); err != nil {
		return 0, fmt.Errorf("failed to decode hnsw metadata: %w", err)
	}

	return meta.Config.Dimensions, nil
}

// Verify interface implementation
var _ DenseIndex = (*HNSWDenseIndex)(nil)

// normalizeVectorInPlace normalizes a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}

// distanceToScore converts a distance value to a similarity score.
// For cosine distance: score = 1 - distance/2 (distance ranges 0-2)
// For L2 distance: score = 1 / (1 + distance)
func distanceToScore(distance float32, metric string) float32 {
	switch metric {
	case "cos":
		return 1.0 - distance/2.0
	case "l2":
		return 1.0 / (1.0 + distance)
	default:
		return 1.0 - distance/2.0
	}
}
