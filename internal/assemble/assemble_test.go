package assemble

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/internal/search"
	"github.com/quarrylabs/quarry/internal/store"
)

// fakeRetriever returns a canned result and records the last call.
type fakeRetriever struct {
	result    *search.Result
	err       error
	lastQuery string
	lastOpts  search.Options
}

func (f *fakeRetriever) Retrieve(ctx context.Context, query string, opts search.Options) (*search.Result, error) {
	f.lastQuery = query
	f.lastOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func item(id string, score float64, section, text string) *search.Item {
	meta := map[string]any{}
	if section != "" {
		meta["section_title"] = section
	}
	return &search.Item{
		Passage: &store.Passage{ID: id, Text: text, Metadata: meta},
		Score:   score,
	}
}

func resultOf(items ...*search.Item) *search.Result {
	return &search.Result{Items: items}
}

func refIDs(refs []*Ref) []string {
	ids := make([]string, len(refs))
	for i, r := range refs {
		ids[i] = r.ID
	}
	return ids
}

// TS01: Context Assembly
//
// The top k survivors are joined by blank lines in rank order, with one
// ref per kept passage, and the retriever sees the over-fetch budget.
func TestAssembler_ContextAssembly(t *testing.T) {
	fake := &fakeRetriever{result: resultOf(
		item("p1", 0.9, "Intro", "  First passage.  "),
		item("p2", 0.8, "Methods", "Second passage."),
		item("p3", 0.7, "Results", "Third passage."),
	)}
	asm, err := New(fake, DefaultConfig())
	require.NoError(t, err)

	out, err := asm.Build(context.Background(), "how does fusion work", 2, search.Options{})
	require.NoError(t, err)

	assert.Equal(t, "how does fusion work", fake.lastQuery)
	assert.Equal(t, 6, fake.lastOpts.K)

	assert.Equal(t, "First passage.\n\nSecond passage.", out.ContextText)
	require.Equal(t, []string{"p1", "p2"}, refIDs(out.Refs))

	first := out.Refs[0]
	assert.Equal(t, "p1", first.ID)
	assert.InDelta(t, 0.9, first.Score, 1e-12)
	assert.Equal(t, "Intro", first.Section)
	assert.Equal(t, "First passage.", first.Preview)
	assert.Same(t, fake.result, out.Retrieval)
}

// TS02: Excluded Sections
//
// Passages from excluded sections never enter the context, even when
// they outrank everything else. Exclusion titles are trimmed.
func TestAssembler_ExcludedSections(t *testing.T) {
	fake := &fakeRetriever{result: resultOf(
		item("p1", 0.9, "Appendix", "Appendix text."),
		item("p2", 0.8, "Index", "Index text."),
		item("p3", 0.7, "Intro", "Intro text."),
	)}
	cfg := DefaultConfig()
	cfg.ExcludeSections = []string{"Appendix", "  Index  "}
	asm, err := New(fake, cfg)
	require.NoError(t, err)

	out, err := asm.Build(context.Background(), "q", 3, search.Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"p3"}, refIDs(out.Refs))
	assert.Equal(t, "Intro text.", out.ContextText)
}

// TS03: Duplicate IDs
//
// Repeated IDs keep only their first-ranked occurrence.
func TestAssembler_DuplicateIDs(t *testing.T) {
	fake := &fakeRetriever{result: resultOf(
		item("p1", 0.9, "Intro", "First."),
		item("p1", 0.8, "Intro", "First again."),
		item("p2", 0.7, "Methods", "Second."),
	)}
	asm, err := New(fake, DefaultConfig())
	require.NoError(t, err)

	out, err := asm.Build(context.Background(), "q", 3, search.Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"p1", "p2"}, refIDs(out.Refs))
	assert.Equal(t, "First.\n\nSecond.", out.ContextText)
}

// TS04: Section Cap
//
// A section contributes at most SectionCap passages; later sections
// fill the freed slots. Passages without a section share one bucket.
func TestAssembler_SectionCap(t *testing.T) {
	t.Run("capped section frees slots", func(t *testing.T) {
		fake := &fakeRetriever{result: resultOf(
			item("p1", 0.9, "Intro", "Intro one."),
			item("p2", 0.8, "Intro", "Intro two."),
			item("p3", 0.7, "Intro", "Intro three."),
			item("p4", 0.6, "Methods", "Methods one."),
		)}
		asm, err := New(fake, DefaultConfig())
		require.NoError(t, err)

		out, err := asm.Build(context.Background(), "q", 4, search.Options{})
		require.NoError(t, err)

		assert.Equal(t, []string{"p1", "p2", "p4"}, refIDs(out.Refs))
	})

	t.Run("unsectioned passages share a bucket", func(t *testing.T) {
		fake := &fakeRetriever{result: resultOf(
			item("p1", 0.9, "", "One."),
			item("p2", 0.8, "", "Two."),
			item("p3", 0.7, "", "Three."),
			item("p4", 0.6, "Intro", "Four."),
		)}
		asm, err := New(fake, DefaultConfig())
		require.NoError(t, err)

		out, err := asm.Build(context.Background(), "q", 4, search.Options{})
		require.NoError(t, err)

		assert.Equal(t, []string{"p1", "p2", "p4"}, refIDs(out.Refs))
	})
}

// TS05: Cap Disabled
//
// A non-positive SectionCap lets one section fill the whole budget.
func TestAssembler_CapDisabled(t *testing.T) {
	fake := &fakeRetriever{result: resultOf(
		item("p1", 0.9, "Intro", "One."),
		item("p2", 0.8, "Intro", "Two."),
		item("p3", 0.7, "Intro", "Three."),
	)}
	cfg := DefaultConfig()
	cfg.SectionCap = -1
	asm, err := New(fake, cfg)
	require.NoError(t, err)

	out, err := asm.Build(context.Background(), "q", 3, search.Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"p1", "p2", "p3"}, refIDs(out.Refs))
}

// TS06: Budget Fallback
//
// A non-positive k falls back to the configured default, and the
// over-fetch budget scales with it.
func TestAssembler_BudgetFallback(t *testing.T) {
	fake := &fakeRetriever{result: resultOf()}
	asm, err := New(fake, Config{})
	require.NoError(t, err)

	_, err = asm.Build(context.Background(), "q", 0, search.Options{})
	require.NoError(t, err)
	assert.Equal(t, 15, fake.lastOpts.K)

	_, err = asm.Build(context.Background(), "q", -3, search.Options{})
	require.NoError(t, err)
	assert.Equal(t, 15, fake.lastOpts.K)
}

// TS07: Preview Truncation
//
// Previews cut at the rune budget, never mid-character.
func TestAssembler_PreviewTruncation(t *testing.T) {
	long := strings.Repeat("πρ", 150)
	fake := &fakeRetriever{result: resultOf(
		item("p1", 0.9, "Intro", long),
	)}
	asm, err := New(fake, Config{})
	require.NoError(t, err)

	out, err := asm.Build(context.Background(), "q", 1, search.Options{})
	require.NoError(t, err)

	require.Len(t, out.Refs, 1)
	got := out.Refs[0].Preview
	assert.Equal(t, 200, utf8.RuneCountInString(got))
	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasPrefix(long, got))
	assert.Equal(t, long, out.ContextText)
}

// TS08: Empty Retrieval
//
// No candidates is a valid outcome: empty context, zero refs.
func TestAssembler_EmptyRetrieval(t *testing.T) {
	fake := &fakeRetriever{result: resultOf()}
	asm, err := New(fake, DefaultConfig())
	require.NoError(t, err)

	out, err := asm.Build(context.Background(), "q", 5, search.Options{})
	require.NoError(t, err)

	assert.Empty(t, out.ContextText)
	assert.NotNil(t, out.Refs)
	assert.Empty(t, out.Refs)
	assert.Same(t, fake.result, out.Retrieval)
}

// TS09: Retrieval Error
//
// Retriever failures propagate unchanged.
func TestAssembler_RetrievalError(t *testing.T) {
	cause := errors.New("branches down")
	fake := &fakeRetriever{err: cause}
	asm, err := New(fake, DefaultConfig())
	require.NoError(t, err)

	out, err := asm.Build(context.Background(), "q", 5, search.Options{})
	require.ErrorIs(t, err, cause)
	assert.Nil(t, out)
}

// TS10: Ref Metadata
//
// Refs surface position, category, and source id from passage
// metadata; numeric positions survive JSON's float64 round-trip.
// Passages with empty text keep their ref but add nothing to the
// context.
func TestAssembler_RefMetadata(t *testing.T) {
	rich := &search.Item{
		Passage: &store.Passage{
			ID:   "p1",
			Text: "Rich passage.",
			Metadata: map[string]any{
				"section_title": "Intro",
				"position":      float64(7),
				"category":      "definition",
				"source_id":     "doc-42",
			},
		},
		Score: 0.9,
	}
	bare := &search.Item{
		Passage: &store.Passage{ID: "p2", Text: "   "},
		Score:   0.8,
	}
	fake := &fakeRetriever{result: resultOf(rich, bare)}
	asm, err := New(fake, DefaultConfig())
	require.NoError(t, err)

	out, err := asm.Build(context.Background(), "q", 2, search.Options{})
	require.NoError(t, err)

	require.Len(t, out.Refs, 2)
	first := out.Refs[0]
	require.NotNil(t, first.Position)
	assert.Equal(t, 7, *first.Position)
	assert.Equal(t, "definition", first.Category)
	assert.Equal(t, "doc-42", first.SourceID)

	second := out.Refs[1]
	assert.Nil(t, second.Position)
	assert.Empty(t, second.Section)
	assert.Empty(t, second.Preview)

	assert.Equal(t, "Rich passage.", out.ContextText)
}

// TS11: Options Passthrough
//
// Everything except K reaches the retriever untouched.
func TestAssembler_OptionsPassthrough(t *testing.T) {
	fake := &fakeRetriever{result: resultOf()}
	asm, err := New(fake, DefaultConfig())
	require.NoError(t, err)

	filter := store.Eq("category", "keep")
	opts := search.Options{
		K:             99,
		CandidatePool: 80,
		RRFK:          30,
		Lambda:        search.LambdaAt(0.4),
		Filter:        filter,
	}
	_, err = asm.Build(context.Background(), "q", 4, opts)
	require.NoError(t, err)

	assert.Equal(t, 12, fake.lastOpts.K)
	assert.Equal(t, 80, fake.lastOpts.CandidatePool)
	assert.Equal(t, 30, fake.lastOpts.RRFK)
	require.NotNil(t, fake.lastOpts.Lambda)
	assert.InDelta(t, 0.4, *fake.lastOpts.Lambda, 1e-12)
	assert.Same(t, filter, fake.lastOpts.Filter)
}

// TS12: Nil Retriever
func TestAssembler_NilRetriever(t *testing.T) {
	asm, err := New(nil, DefaultConfig())
	require.ErrorIs(t, err, ErrNilRetriever)
	assert.Nil(t, asm)
}
