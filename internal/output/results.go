package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/quarrylabs/quarry/internal/search"
)

// View controls which parts of a result set get rendered.
type View struct {
	// Snippet includes the first SnippetLines lines of each passage.
	Snippet      bool
	SnippetLines int

	// MetaKeys selects metadata keys to show per result. Empty means all
	// metadata in machine modes and none in human mode.
	MetaKeys []string
}

// DefaultView returns the rendering defaults for search results.
func DefaultView() View {
	return View{SnippetLines: 3}
}

// Results prints a result set in human-readable form.
func (w *Writer) Results(result *search.Result, view View) {
	if result == nil || len(result.Items) == 0 {
		query := ""
		if result != nil {
			query = result.Query
		}
		w.Status("", fmt.Sprintf("No results found for %q", query))
		return
	}

	if result.Degraded {
		w.Warningf("%s branch unavailable; results come from a single ranking", result.Debug.DegradedBranch)
	}

	w.Headerf("🔍 Found %d result(s) for %q", len(result.Items), result.Query)
	w.Newline()

	for i, item := range result.Items {
		if item == nil || item.Passage == nil {
			continue
		}

		w.Statusf("", "%d. %s %s",
			i+1,
			w.styles.ID.Render(item.Passage.ID),
			w.styles.Score.Render(fmt.Sprintf("(score: %.4f)", item.Score)))

		if facts := resultFacts(item, view.MetaKeys); facts != "" {
			w.Status("", "   "+w.styles.Label.Render(facts))
		}

		if view.Snippet {
			for _, line := range snippetLines(item.Passage.Text, view.SnippetLines) {
				w.Status("", "   "+line)
			}
		}
		w.Newline()
	}
}

// resultFacts builds the secondary facts line for one result: branch ranks,
// matched terms, and any requested metadata keys.
func resultFacts(item *search.Item, metaKeys []string) string {
	var parts []string

	if item.SparseRank > 0 || item.DenseRank > 0 {
		ranks := make([]string, 0, 2)
		if item.SparseRank > 0 {
			ranks = append(ranks, fmt.Sprintf("sparse #%d", item.SparseRank))
		}
		if item.DenseRank > 0 {
			ranks = append(ranks, fmt.Sprintf("dense #%d", item.DenseRank))
		}
		parts = append(parts, strings.Join(ranks, " | "))
	}

	if len(item.MatchedTerms) > 0 {
		terms := item.MatchedTerms
		if len(terms) > 5 {
			terms = terms[:5]
		}
		parts = append(parts, "matched: "+strings.Join(terms, ", "))
	}

	for _, key := range metaKeys {
		if v, ok := item.Passage.Metadata[key]; ok {
			parts = append(parts, fmt.Sprintf("%s: %v", key, v))
		}
	}

	return strings.Join(parts, "  ·  ")
}

// resultRecord is the JSONL shape for one search result.
type resultRecord struct {
	ID           string         `json:"id"`
	Score        float64        `json:"score"`
	SparseRank   int            `json:"sparse_rank,omitempty"`
	DenseRank    int            `json:"dense_rank,omitempty"`
	SparseScore  float64        `json:"sparse_score,omitempty"`
	DenseScore   float64        `json:"dense_score,omitempty"`
	MatchedTerms []string       `json:"matched_terms,omitempty"`
	Text         string         `json:"text"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// WriteJSONL emits one compact JSON object per result, one per line.
func WriteJSONL(out io.Writer, result *search.Result, view View) error {
	if result == nil {
		return nil
	}

	enc := json.NewEncoder(out)
	for _, item := range result.Items {
		if item == nil || item.Passage == nil {
			continue
		}

		rec := resultRecord{
			ID:           item.Passage.ID,
			Score:        item.Score,
			SparseRank:   item.SparseRank,
			DenseRank:    item.DenseRank,
			SparseScore:  item.SparseScore,
			DenseScore:   item.DenseScore,
			MatchedTerms: item.MatchedTerms,
			Text:         item.Passage.Text,
			Metadata:     selectMeta(item.Passage.Metadata, view.MetaKeys),
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode result %s: %w", rec.ID, err)
		}
	}
	return nil
}

// WriteIDs emits one passage id per line, ranked order.
func WriteIDs(out io.Writer, result *search.Result) error {
	if result == nil {
		return nil
	}

	for _, item := range result.Items {
		if item == nil || item.Passage == nil {
			continue
		}
		if _, err := fmt.Fprintln(out, item.Passage.ID); err != nil {
			return err
		}
	}
	return nil
}

// selectMeta filters metadata to the requested keys. Empty keys passes the
// whole map through.
func selectMeta(meta map[string]any, keys []string) map[string]any {
	if len(meta) == 0 {
		return nil
	}
	if len(keys) == 0 {
		return meta
	}

	selected := make(map[string]any, len(keys))
	for _, key := range keys {
		if v, ok := meta[key]; ok {
			selected[key] = v
		}
	}
	if len(selected) == 0 {
		return nil
	}
	return selected
}

// snippetLines returns the first n lines of text, trailing blanks trimmed.
func snippetLines(text string, n int) []string {
	if n <= 0 {
		n = DefaultView().SnippetLines
	}

	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
