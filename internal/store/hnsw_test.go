package store

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func densePassage(id string, meta map[string]any) *Passage {
	return &Passage{ID: id, Text: "passage " + id, Metadata: meta}
}

// TS01: Add and Search
func TestHNSWDenseIndex_AddAndSearch(t *testing.T) {
	// Given: empty index with 4 dimensions
	idx, err := NewHNSWDenseIndex("", DefaultDenseConfig(4))
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	// And: vectors a=[1,0,0,0], b=[0,1,0,0], c=[0.9,0.1,0,0]
	passages := []*Passage{
		densePassage("a", nil),
		densePassage("b", nil),
		densePassage("c", nil),
	}
	vectors := [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0.9, 0.1, 0, 0},
	}

	// When: I add all vectors and search for [1,0,0,0] with k=2
	err = idx.Add(context.Background(), passages, vectors)
	require.NoError(t, err)

	results, err := idx.Search(context.Background(), []float32{1, 0, 0, 0}, 2, nil)
	require.NoError(t, err)

	// Then: results are ["a", "c"] in that order
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "c", results[1].ID)

	// And: "a" has near-perfect similarity
	assert.Greater(t, results[0].Score, float32(0.99))
}

// TS02: Delete Uses Lazy Removal
func TestHNSWDenseIndex_Delete(t *testing.T) {
	// Given: an index with passages "a" and "b"
	idx, err := NewHNSWDenseIndex("", DefaultDenseConfig(4))
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	err = idx.Add(context.Background(),
		[]*Passage{densePassage("a", nil), densePassage("b", nil)},
		[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}})
	require.NoError(t, err)

	// When: I delete "a"
	err = idx.Delete(context.Background(), []string{"a"})
	require.NoError(t, err)

	// Then: membership and count reflect the deletion
	assert.False(t, idx.Contains(context.Background(), "a"))
	assert.True(t, idx.Contains(context.Background(), "b"))
	assert.Equal(t, 1, idx.Count())

	// And: the graph keeps an orphan node (lazy deletion)
	stats := idx.Stats()
	assert.Equal(t, 1, stats.ValidIDs)
	assert.Equal(t, 2, stats.GraphNodes)
	assert.Equal(t, 1, stats.Orphans)

	// And: search never returns the deleted id
	results, err := idx.Search(context.Background(), []float32{1, 0, 0, 0}, 2, nil)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "a", r.ID)
	}
}

// TS03: Re-Adding an ID Replaces Its Vector
func TestHNSWDenseIndex_Update(t *testing.T) {
	idx, err := NewHNSWDenseIndex("", DefaultDenseConfig(4))
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	err = idx.Add(context.Background(), []*Passage{densePassage("a", nil)}, [][]float32{{1, 0, 0, 0}})
	require.NoError(t, err)

	// When: adding "a" again with a different vector and text
	updated := &Passage{ID: "a", Text: "updated text", Metadata: map[string]any{"rev": 2}}
	err = idx.Add(context.Background(), []*Passage{updated}, [][]float32{{0, 1, 0, 0}})
	require.NoError(t, err)

	// Then: count is still 1
	assert.Equal(t, 1, idx.Count())

	// And: the new vector wins
	results, err := idx.Search(context.Background(), []float32{0, 1, 0, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
	assert.Greater(t, results[0].Score, float32(0.99))

	// And: the payload was replaced too
	payloads, err := idx.Fetch(context.Background(), []string{"a"})
	require.NoError(t, err)
	require.Contains(t, payloads, "a")
	assert.Equal(t, "updated text", payloads["a"].Document)
}

// TS04: Filtered Search
func TestHNSWDenseIndex_Search_Filtered(t *testing.T) {
	// Given: passages in two categories
	idx, err := NewHNSWDenseIndex("", DefaultDenseConfig(4))
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	passages := []*Passage{
		densePassage("a", map[string]any{"category": "PRACTICAL", "position": 1}),
		densePassage("b", map[string]any{"category": "MOTIVATION", "position": 2}),
		densePassage("c", map[string]any{"category": "PRACTICAL", "position": 3}),
	}
	vectors := [][]float32{
		{1, 0, 0, 0},
		{0.95, 0.05, 0, 0},
		{0, 1, 0, 0},
	}
	err = idx.Add(context.Background(), passages, vectors)
	require.NoError(t, err)

	// When: searching near "b" with a filter "b" fails
	results, err := idx.Search(context.Background(), []float32{1, 0, 0, 0}, 2, Eq("category", "PRACTICAL"))
	require.NoError(t, err)

	// Then: only PRACTICAL passages come back, nearest first
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "c", results[1].ID)
}

// TS05: Selective Filter Widens to the Whole Graph
func TestHNSWDenseIndex_Search_FilterWidening(t *testing.T) {
	// Given: 8 near neighbours that fail the filter and 2 distant ones
	// that pass, so the over-fetched first pass cannot fill topK
	idx, err := NewHNSWDenseIndex("", DefaultDenseConfig(4))
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	var passages []*Passage
	var vectors [][]float32
	for i := 0; i < 8; i++ {
		passages = append(passages, densePassage(fmt.Sprintf("near%d", i), map[string]any{"category": "COMMON"}))
		vectors = append(vectors, []float32{1, float32(i) * 0.01, 0, 0})
	}
	passages = append(passages,
		densePassage("rare1", map[string]any{"category": "RARE"}),
		densePassage("rare2", map[string]any{"category": "RARE"}))
	vectors = append(vectors,
		[]float32{0, 1, 0, 0},
		[]float32{0, 0, 1, 0})

	err = idx.Add(context.Background(), passages, vectors)
	require.NoError(t, err)

	// When: searching with topK=2 and the RARE filter
	results, err := idx.Search(context.Background(), []float32{1, 0, 0, 0}, 2, Eq("category", "RARE"))
	require.NoError(t, err)

	// Then: both RARE passages are found despite being the farthest
	require.Len(t, results, 2)
	found := []string{results[0].ID, results[1].ID}
	assert.ElementsMatch(t, []string{"rare1", "rare2"}, found)
}

// TS06: Fetch Returns Stored Payloads
func TestHNSWDenseIndex_Fetch(t *testing.T) {
	// Given: a passage with text and metadata
	idx, err := NewHNSWDenseIndex("", DefaultDenseConfig(4))
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	p := &Passage{
		ID:   "a",
		Text: "fusion merges ranked lists",
		Metadata: map[string]any{
			"section_title": "Fusion",
			"position":      3,
		},
	}
	err = idx.Add(context.Background(), []*Passage{p}, [][]float32{{3, 4, 0, 0}})
	require.NoError(t, err)

	// When: fetching it along with an unknown id
	payloads, err := idx.Fetch(context.Background(), []string{"a", "missing"})
	require.NoError(t, err)

	// Then: only the known id is present, with document and metadata
	require.Len(t, payloads, 1)
	payload := payloads["a"]
	require.NotNil(t, payload)
	assert.Equal(t, "fusion merges ranked lists", payload.Document)
	assert.Equal(t, "Fusion", payload.Metadata["section_title"])

	// And: the embedding comes back unit-normalized
	var norm float64
	for _, v := range payload.Embedding {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

// TS07: Persistence Round-Trip With Payloads
func TestHNSWDenseIndex_Persistence(t *testing.T) {
	// Given: an on-disk index with two passages
	tmpDir := t.TempDir()
	indexPath := filepath.Join(tmpDir, "vectors.hnsw")

	idx, err := NewHNSWDenseIndex(indexPath, DefaultDenseConfig(4))
	require.NoError(t, err)

	passages := []*Passage{
		densePassage("a", map[string]any{"category": "PRACTICAL"}),
		densePassage("b", nil),
	}
	err = idx.Add(context.Background(), passages, [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}})
	require.NoError(t, err)
	require.NoError(t, idx.Save())
	require.NoError(t, idx.Close())

	// When: reopening from the same path
	reopened, err := NewHNSWDenseIndex(indexPath, DefaultDenseConfig(4))
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	// Then: vectors, payloads and dimension survive
	assert.Equal(t, 2, reopened.Count())
	assert.Equal(t, 4, reopened.Dimensions())

	results, err := reopened.Search(context.Background(), []float32{1, 0, 0, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)

	payloads, err := reopened.Fetch(context.Background(), []string{"a"})
	require.NoError(t, err)
	require.Contains(t, payloads, "a")
	assert.Equal(t, "passage a", payloads["a"].Document)
	assert.Equal(t, "PRACTICAL", payloads["a"].Metadata["category"])

	// And: the sidecar reports the stored dimension without a full load
	dims, err := ReadHNSWDimensions(indexPath)
	require.NoError(t, err)
	assert.Equal(t, 4, dims)
}

// TS08: Dimension Mismatch Is Rejected Everywhere
func TestHNSWDenseIndex_DimensionMismatch(t *testing.T) {
	tmpDir := t.TempDir()
	indexPath := filepath.Join(tmpDir, "vectors.hnsw")

	idx, err := NewHNSWDenseIndex(indexPath, DefaultDenseConfig(4))
	require.NoError(t, err)

	// Add with the wrong width fails
	err = idx.Add(context.Background(), []*Passage{densePassage("a", nil)}, [][]float32{{1, 0}})
	var dimErr ErrDimensionMismatch
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 4, dimErr.Expected)
	assert.Equal(t, 2, dimErr.Got)

	// Search with the wrong width fails
	err = idx.Add(context.Background(), []*Passage{densePassage("a", nil)}, [][]float32{{1, 0, 0, 0}})
	require.NoError(t, err)
	_, err = idx.Search(context.Background(), []float32{1, 0}, 1, nil)
	require.ErrorAs(t, err, &dimErr)

	require.NoError(t, idx.Save())
	require.NoError(t, idx.Close())

	// Reopening with a different configured dimension fails
	_, err = NewHNSWDenseIndex(indexPath, DefaultDenseConfig(8))
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 4, dimErr.Expected)
	assert.Equal(t, 8, dimErr.Got)
}

// TS09: Empty Index Search
func TestHNSWDenseIndex_Search_Empty(t *testing.T) {
	idx, err := NewHNSWDenseIndex("", DefaultDenseConfig(4))
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	results, err := idx.Search(context.Background(), []float32{1, 0, 0, 0}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

// TS10: In-Memory Index Refuses Save
func TestHNSWDenseIndex_SaveWithoutPath(t *testing.T) {
	idx, err := NewHNSWDenseIndex("", DefaultDenseConfig(4))
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	assert.Error(t, idx.Save())
}

// TS11: Concurrent Searches
func TestHNSWDenseIndex_ConcurrentSearch(t *testing.T) {
	idx, err := NewHNSWDenseIndex("", DefaultDenseConfig(4))
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	var passages []*Passage
	var vectors [][]float32
	for i := 0; i < 20; i++ {
		passages = append(passages, densePassage(fmt.Sprintf("p%d", i), nil))
		vectors = append(vectors, []float32{float32(i), 1, 0, 0})
	}
	err = idx.Add(context.Background(), passages, vectors)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := idx.Search(context.Background(), []float32{5, 1, 0, 0}, 3, nil)
			assert.NoError(t, err)
			assert.Len(t, results, 3)
		}()
	}
	wg.Wait()
}

// TS12: Close Is Idempotent
func TestHNSWDenseIndex_CloseIdempotent(t *testing.T) {
	idx, err := NewHNSWDenseIndex("", DefaultDenseConfig(4))
	require.NoError(t, err)

	require.NoError(t, idx.Close())
	require.NoError(t, idx.Close())

	_, err = idx.Search(context.Background(), []float32{1, 0, 0, 0}, 1, nil)
	assert.Error(t, err)
}

// TS13: Missing Sidecar Means Fresh Start
func TestReadHNSWDimensions_Missing(t *testing.T) {
	dims, err := ReadHNSWDimensions(filepath.Join(t.TempDir(), "nothing.hnsw"))
	require.NoError(t, err)
	assert.Equal(t, 0, dims)
}

// TS14: Vector Normalization
func TestNormalizeVectorInPlace(t *testing.T) {
	v := []float32{3, 4, 0, 0}
	normalizeVectorInPlace(v)
	assert.InDelta(t, 0.6, float64(v[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(v[1]), 1e-6)

	// Zero vectors stay untouched
	zero := []float32{0, 0, 0, 0}
	normalizeVectorInPlace(zero)
	assert.Equal(t, []float32{0, 0, 0, 0}, zero)
}

// TS15: Distance to Score Mapping
func TestDistanceToScore(t *testing.T) {
	// Cosine: 0 distance is a perfect 1.0, max distance 2 maps to 0
	assert.InDelta(t, 1.0, float64(distanceToScore(0, "cos")), 1e-6)
	assert.InDelta(t, 0.5, float64(distanceToScore(1, "cos")), 1e-6)
	assert.InDelta(t, 0.0, float64(distanceToScore(2, "cos")), 1e-6)

	// L2: 0 distance is 1.0, grows toward 0 with distance
	assert.InDelta(t, 1.0, float64(distanceToScore(0, "l2")), 1e-6)
	assert.InDelta(t, 0.5, float64(distanceToScore(1, "l2")), 1e-6)

	// Unknown metrics fall back to cosine
	assert.InDelta(t, 0.5, float64(distanceToScore(1, "dot")), 1e-6)
}
