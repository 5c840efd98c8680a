package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TS01: Basic Indexing and Search
func TestSQLiteSparseIndex_IndexAndSearch_Basic(t *testing.T) {
	// Given: empty in-memory index
	idx, err := NewSQLiteSparseIndex("", DefaultSparseConfig())
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	// When: index passages
	passages := []*Passage{
		{ID: "1", Text: "Reciprocal rank fusion merges ranked retrieval lists."},
		{ID: "2", Text: "Dense retrieval embeds queries and passages into vectors."},
		{ID: "3", Text: "Sparse retrieval scores passages with BM25 term weights."},
	}
	err = idx.Index(context.Background(), passages)
	require.NoError(t, err)

	// Then: search finds matching passages with positive scores
	results, err := idx.Search(context.Background(), "retrieval", 10)
	require.NoError(t, err)
	assert.Len(t, results, 3)
	assert.Greater(t, results[0].Score, 0.0)
}

// TS02: Partial Term Overlap Still Matches
func TestSQLiteSparseIndex_Search_PartialOverlap(t *testing.T) {
	// Given: passages where only some contain each query term
	idx, err := NewSQLiteSparseIndex("", DefaultSparseConfig())
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	err = idx.Index(context.Background(), []*Passage{
		{ID: "1", Text: "rank fusion combines sparse and dense scores"},
		{ID: "2", Text: "fusion constants control score decay"},
	})
	require.NoError(t, err)

	// When: searching with two terms, one of which passage 2 lacks
	results, err := idx.Search(context.Background(), "rank fusion", 10)
	require.NoError(t, err)

	// Then: both passages match (terms OR together), both-terms passage first
	require.Len(t, results, 2)
	assert.Equal(t, "1", results[0].ID)
}

// TS03: Stop Words Filtered From Query and Content
func TestSQLiteSparseIndex_Search_StopWordOnlyQuery(t *testing.T) {
	idx, err := NewSQLiteSparseIndex("", DefaultSparseConfig())
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	err = idx.Index(context.Background(), []*Passage{
		{ID: "1", Text: "the fusion of the ranked lists"},
	})
	require.NoError(t, err)

	// A query that reduces to nothing after stop word removal
	results, err := idx.Search(context.Background(), "the and of", 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	// Content words still match
	results, err = idx.Search(context.Background(), "fusion", 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

// TS04: Reindexing Replaces Content
func TestSQLiteSparseIndex_Index_ReplacesExisting(t *testing.T) {
	idx, err := NewSQLiteSparseIndex("", DefaultSparseConfig())
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	err = idx.Index(context.Background(), []*Passage{{ID: "1", Text: "original wording here"}})
	require.NoError(t, err)
	err = idx.Index(context.Background(), []*Passage{{ID: "1", Text: "replacement wording here"}})
	require.NoError(t, err)

	assert.Equal(t, 1, idx.Stats().PassageCount)

	results, err := idx.Search(context.Background(), "original", 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = idx.Search(context.Background(), "replacement", 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

// TS05: Delete Removes From Both Tables
func TestSQLiteSparseIndex_Delete(t *testing.T) {
	idx, err := NewSQLiteSparseIndex("", DefaultSparseConfig())
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	err = idx.Index(context.Background(), []*Passage{
		{ID: "1", Text: "keep this passage"},
		{ID: "2", Text: "remove this passage"},
	})
	require.NoError(t, err)

	err = idx.Delete(context.Background(), []string{"2"})
	require.NoError(t, err)

	results, err := idx.Search(context.Background(), "remove", 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	ids, err := idx.AllIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids)
	assert.Equal(t, 1, idx.Stats().PassageCount)
}

// TS06: AllIDs Sorted
func TestSQLiteSparseIndex_AllIDs(t *testing.T) {
	idx, err := NewSQLiteSparseIndex("", DefaultSparseConfig())
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	err = idx.Index(context.Background(), []*Passage{
		{ID: "c", Text: "third passage"},
		{ID: "a", Text: "first passage"},
		{ID: "b", Text: "second passage"},
	})
	require.NoError(t, err)

	ids, err := idx.AllIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

// TS07: Persistence Round-Trip
func TestSQLiteSparseIndex_Persistence(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "sparse.db")

	idx, err := NewSQLiteSparseIndex(dbPath, DefaultSparseConfig())
	require.NoError(t, err)

	err = idx.Index(context.Background(), []*Passage{
		{ID: "1", Text: "persistent passage about fusion"},
	})
	require.NoError(t, err)
	require.NoError(t, idx.Save())
	require.NoError(t, idx.Close())

	reopened, err := NewSQLiteSparseIndex(dbPath, DefaultSparseConfig())
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	results, err := reopened.Search(context.Background(), "fusion", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "1", results[0].ID)
}

// TS08: TopK Limits Results
func TestSQLiteSparseIndex_Search_TopKLimit(t *testing.T) {
	idx, err := NewSQLiteSparseIndex("", DefaultSparseConfig())
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	passages := []*Passage{
		{ID: "1", Text: "fusion one"},
		{ID: "2", Text: "fusion two"},
		{ID: "3", Text: "fusion three"},
		{ID: "4", Text: "fusion four"},
	}
	err = idx.Index(context.Background(), passages)
	require.NoError(t, err)

	results, err := idx.Search(context.Background(), "fusion", 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

// TS09: Close Is Idempotent
func TestSQLiteSparseIndex_CloseIdempotent(t *testing.T) {
	idx, err := NewSQLiteSparseIndex("", DefaultSparseConfig())
	require.NoError(t, err)

	require.NoError(t, idx.Close())
	require.NoError(t, idx.Close())

	_, err = idx.Search(context.Background(), "anything", 10)
	assert.Error(t, err)
}
