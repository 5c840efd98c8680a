package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/internal/search"
	"github.com/quarrylabs/quarry/internal/store"
)

func sampleResult() *search.Result {
	return &search.Result{
		Query: "fox proverbs",
		Items: []*search.Item{
			{
				Passage: &store.Passage{
					ID:   "p1",
					Text: "The quick brown fox jumps over the lazy dog.\nA second line.\nA third line.\nA fourth line.",
					Metadata: map[string]any{
						"section_title": "Animals",
						"position":      3,
						"category":      "NATURE",
					},
				},
				Score:        0.0321,
				SparseRank:   1,
				DenseRank:    2,
				SparseScore:  1.85,
				DenseScore:   0.91,
				MatchedTerms: []string{"fox", "quick"},
			},
			{
				Passage: &store.Passage{
					ID:   "p2",
					Text: "A stitch in time saves nine.",
					Metadata: map[string]any{
						"section_title": "Proverbs",
					},
				},
				Score:     0.0290,
				DenseRank: 1,
			},
		},
	}
}

func TestResults_PrintsRankedList(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Results(sampleResult(), DefaultView())

	output := buf.String()
	assert.Contains(t, output, `Found 2 result(s) for "fox proverbs"`)
	assert.Contains(t, output, "1. p1")
	assert.Contains(t, output, "(score: 0.0321)")
	assert.Contains(t, output, "sparse #1 | dense #2")
	assert.Contains(t, output, "matched: fox, quick")
	assert.Contains(t, output, "2. p2")
	assert.Contains(t, output, "dense #1")

	// Snippets are off by default
	assert.NotContains(t, output, "quick brown fox")
}

func TestResults_WithSnippet(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	view := DefaultView()
	view.Snippet = true
	w.Results(sampleResult(), view)

	output := buf.String()
	assert.Contains(t, output, "The quick brown fox jumps over the lazy dog.")
	assert.Contains(t, output, "A third line.")
	// Limited to the first three lines
	assert.NotContains(t, output, "A fourth line.")
}

func TestResults_WithMetaKeys(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	view := DefaultView()
	view.MetaKeys = []string{"section_title", "category", "missing"}
	w.Results(sampleResult(), view)

	output := buf.String()
	assert.Contains(t, output, "section_title: Animals")
	assert.Contains(t, output, "category: NATURE")
	assert.NotContains(t, output, "missing:")
}

func TestResults_Empty(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Results(&search.Result{Query: "nothing here"}, DefaultView())

	assert.Contains(t, buf.String(), `No results found for "nothing here"`)
}

func TestResults_NilResult(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Results(nil, DefaultView())

	assert.Contains(t, buf.String(), "No results found")
}

func TestResults_DegradedWarning(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	result := sampleResult()
	result.Degraded = true
	result.Debug.DegradedBranch = search.BranchDense
	w.Results(result, DefaultView())

	output := buf.String()
	assert.Contains(t, output, "dense branch unavailable")
	assert.Contains(t, output, "single ranking")
}

func TestResults_SkipsNilItems(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	result := sampleResult()
	result.Items = append(result.Items, nil, &search.Item{Score: 0.01})
	w.Results(result, DefaultView())

	assert.Contains(t, buf.String(), "Found 4 result(s)")
	assert.NotContains(t, buf.String(), "3. ")
}

func TestWriteJSONL_OneObjectPerLine(t *testing.T) {
	buf := &bytes.Buffer{}

	err := WriteJSONL(buf, sampleResult(), DefaultView())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first resultRecord
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "p1", first.ID)
	assert.InDelta(t, 0.0321, first.Score, 1e-9)
	assert.Equal(t, 1, first.SparseRank)
	assert.Equal(t, 2, first.DenseRank)
	assert.Equal(t, []string{"fox", "quick"}, first.MatchedTerms)
	assert.Contains(t, first.Text, "quick brown fox")
	assert.Equal(t, "Animals", first.Metadata["section_title"])

	var second resultRecord
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "p2", second.ID)
	// Absent branch ranks are omitted from the wire shape
	assert.NotContains(t, lines[1], "sparse_rank")
}

func TestWriteJSONL_MetaKeysFilter(t *testing.T) {
	buf := &bytes.Buffer{}

	view := DefaultView()
	view.MetaKeys = []string{"category"}
	err := WriteJSONL(buf, sampleResult(), view)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var first resultRecord
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, map[string]any{"category": "NATURE"}, first.Metadata)

	// p2 has no category key at all
	var second resultRecord
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Nil(t, second.Metadata)
}

func TestWriteJSONL_NilResult(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, WriteJSONL(buf, nil, DefaultView()))
	assert.Empty(t, buf.String())
}

func TestWriteIDs_OnePerLine(t *testing.T) {
	buf := &bytes.Buffer{}

	err := WriteIDs(buf, sampleResult())
	require.NoError(t, err)

	assert.Equal(t, "p1\np2\n", buf.String())
}

func TestWriteIDs_SkipsNilItems(t *testing.T) {
	buf := &bytes.Buffer{}

	result := sampleResult()
	result.Items = append([]*search.Item{nil}, result.Items...)
	err := WriteIDs(buf, result)
	require.NoError(t, err)

	assert.Equal(t, "p1\np2\n", buf.String())
}

func TestSelectMeta(t *testing.T) {
	meta := map[string]any{"a": 1, "b": "two"}

	assert.Equal(t, meta, selectMeta(meta, nil))
	assert.Equal(t, map[string]any{"b": "two"}, selectMeta(meta, []string{"b"}))
	assert.Nil(t, selectMeta(meta, []string{"absent"}))
	assert.Nil(t, selectMeta(nil, []string{"a"}))
}

func TestSnippetLines(t *testing.T) {
	text := "one\ntwo\nthree\nfour"

	assert.Equal(t, []string{"one", "two", "three"}, snippetLines(text, 3))
	assert.Equal(t, []string{"one"}, snippetLines(text, 1))
	// Zero falls back to the default
	assert.Equal(t, []string{"one", "two", "three"}, snippetLines(text, 0))
	// Trailing blank lines are trimmed
	assert.Equal(t, []string{"solo"}, snippetLines("solo\n\n\n", 3))
	assert.Empty(t, snippetLines("", 3))
}
