package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPassageStore(t *testing.T) *SQLitePassageStore {
	t.Helper()
	ps, err := NewSQLitePassageStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ps.Close() })
	return ps
}

// TS01: Save and Get Round-Trip
func TestSQLitePassageStore_SaveAndGet(t *testing.T) {
	// Given: a passage with typed metadata
	ps := newTestPassageStore(t)

	p := &Passage{
		ID:   "ch2-p3",
		Text: "Fusion merges the two ranked lists.",
		Metadata: map[string]any{
			"section_title": "Fusion",
			"position":      3,
			"tags":          []string{"intro", "easy"},
		},
	}
	err := ps.SavePassages(context.Background(), []*Passage{p})
	require.NoError(t, err)

	// When: getting it back
	got, err := ps.GetPassage(context.Background(), "ch2-p3")
	require.NoError(t, err)

	// Then: text survives, metadata survives the JSON round trip
	// (numbers as float64, string slices as []any)
	assert.Equal(t, p.Text, got.Text)
	assert.Equal(t, "Fusion", got.Metadata["section_title"])
	assert.Equal(t, float64(3), got.Metadata["position"])
	assert.Equal(t, []any{"intro", "easy"}, got.Metadata["tags"])
}

// TS02: Missing Passage
func TestSQLitePassageStore_GetMissing(t *testing.T) {
	ps := newTestPassageStore(t)

	_, err := ps.GetPassage(context.Background(), "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPassageNotFound)
}

// TS03: Batch Get Preserves Request Order and Skips Missing
func TestSQLitePassageStore_GetPassages_OrderAndGaps(t *testing.T) {
	// Given: three stored passages
	ps := newTestPassageStore(t)

	err := ps.SavePassages(context.Background(), []*Passage{
		{ID: "a", Text: "first"},
		{ID: "b", Text: "second"},
		{ID: "c", Text: "third"},
	})
	require.NoError(t, err)

	// When: requesting in a scrambled order with an unknown id mixed in
	got, err := ps.GetPassages(context.Background(), []string{"c", "missing", "a", "b"})
	require.NoError(t, err)

	// Then: results follow request order, the unknown id is skipped
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "a", got[1].ID)
	assert.Equal(t, "b", got[2].ID)
}

// TS04: Batch Get Spans Multiple Fetch Batches
func TestSQLitePassageStore_GetPassages_LargeBatch(t *testing.T) {
	// Given: more passages than one IN-clause batch holds
	ps := newTestPassageStore(t)

	n := fetchBatchSize*2 + 10
	passages := make([]*Passage, n)
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("p%04d", i)
		passages[i] = &Passage{ID: id, Text: fmt.Sprintf("text %d", i)}
		ids[i] = id
	}
	err := ps.SavePassages(context.Background(), passages)
	require.NoError(t, err)

	// When: requesting all of them at once
	got, err := ps.GetPassages(context.Background(), ids)
	require.NoError(t, err)

	// Then: everything comes back, still in request order
	require.Len(t, got, n)
	assert.Equal(t, "p0000", got[0].ID)
	assert.Equal(t, fmt.Sprintf("p%04d", n-1), got[n-1].ID)
}

// TS05: Save Replaces Existing
func TestSQLitePassageStore_SaveReplaces(t *testing.T) {
	ps := newTestPassageStore(t)

	err := ps.SavePassages(context.Background(), []*Passage{{ID: "a", Text: "old"}})
	require.NoError(t, err)
	err = ps.SavePassages(context.Background(), []*Passage{{ID: "a", Text: "new"}})
	require.NoError(t, err)

	count, err := ps.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := ps.GetPassage(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "new", got.Text)
}

// TS06: Delete
func TestSQLitePassageStore_Delete(t *testing.T) {
	ps := newTestPassageStore(t)

	err := ps.SavePassages(context.Background(), []*Passage{
		{ID: "a", Text: "first"},
		{ID: "b", Text: "second"},
	})
	require.NoError(t, err)

	err = ps.Delete(context.Background(), []string{"a"})
	require.NoError(t, err)

	_, err = ps.GetPassage(context.Background(), "a")
	assert.ErrorIs(t, err, ErrPassageNotFound)

	ids, err := ps.AllIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)
}

// TS07: AllIDs Sorted
func TestSQLitePassageStore_AllIDs(t *testing.T) {
	ps := newTestPassageStore(t)

	err := ps.SavePassages(context.Background(), []*Passage{
		{ID: "c", Text: "x"},
		{ID: "a", Text: "y"},
		{ID: "b", Text: "z"},
	})
	require.NoError(t, err)

	ids, err := ps.AllIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

// TS08: Section Aggregation
func TestSQLitePassageStore_Sections(t *testing.T) {
	// Given: passages across two sections plus one without a section
	ps := newTestPassageStore(t)

	err := ps.SavePassages(context.Background(), []*Passage{
		{ID: "1", Text: "a", Metadata: map[string]any{"section_title": "Fusion"}},
		{ID: "2", Text: "b", Metadata: map[string]any{"section_title": "Fusion"}},
		{ID: "3", Text: "c", Metadata: map[string]any{"section_title": "Fusion"}},
		{ID: "4", Text: "d", Metadata: map[string]any{"section_title": "Ranking"}},
		{ID: "5", Text: "e"},
	})
	require.NoError(t, err)

	// When: aggregating
	stats, err := ps.Sections(context.Background())
	require.NoError(t, err)

	// Then: sections come back most populous first
	require.Len(t, stats, 3)
	assert.Equal(t, SectionStat{SectionTitle: "Fusion", Count: 3}, stats[0])
	assert.Equal(t, SectionStat{SectionTitle: "Ranking", Count: 1}, stats[1])
	assert.Equal(t, SectionStat{SectionTitle: "", Count: 1}, stats[2])
}

// TS09: State Round-Trip
func TestSQLitePassageStore_State(t *testing.T) {
	ps := newTestPassageStore(t)

	// Missing keys read as empty, not as an error
	val, err := ps.GetState(context.Background(), StateKeyEmbedderModel)
	require.NoError(t, err)
	assert.Equal(t, "", val)

	// Set, read back, overwrite
	err = ps.SetState(context.Background(), StateKeyEmbedderModel, "nomic-embed-text")
	require.NoError(t, err)

	val, err = ps.GetState(context.Background(), StateKeyEmbedderModel)
	require.NoError(t, err)
	assert.Equal(t, "nomic-embed-text", val)

	err = ps.SetState(context.Background(), StateKeyEmbedderModel, "mxbai-embed-large")
	require.NoError(t, err)

	val, err = ps.GetState(context.Background(), StateKeyEmbedderModel)
	require.NoError(t, err)
	assert.Equal(t, "mxbai-embed-large", val)
}

// TS10: Persistence Round-Trip
func TestSQLitePassageStore_Persistence(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "passages.db")

	ps, err := NewSQLitePassageStore(dbPath)
	require.NoError(t, err)

	err = ps.SavePassages(context.Background(), []*Passage{
		{ID: "a", Text: "durable", Metadata: map[string]any{"position": 1}},
	})
	require.NoError(t, err)
	err = ps.SetState(context.Background(), StateKeyCorpusHash, "abc123")
	require.NoError(t, err)
	require.NoError(t, ps.Close())

	reopened, err := NewSQLitePassageStore(dbPath)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	got, err := reopened.GetPassage(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "durable", got.Text)

	val, err := reopened.GetState(context.Background(), StateKeyCorpusHash)
	require.NoError(t, err)
	assert.Equal(t, "abc123", val)
}

// TS11: Close Is Idempotent
func TestSQLitePassageStore_CloseIdempotent(t *testing.T) {
	ps, err := NewSQLitePassageStore("")
	require.NoError(t, err)

	require.NoError(t, ps.Close())
	require.NoError(t, ps.Close())

	_, err = ps.GetPassage(context.Background(), "a")
	assert.Error(t, err)
}
