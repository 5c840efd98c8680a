package mcp

import (
	"fmt"
	"strings"

	"github.com/quarrylabs/quarry/internal/assemble"
	"github.com/quarrylabs/quarry/internal/search"
)

// FormatRetrieveResults formats a retrieval result as markdown.
func FormatRetrieveResults(result *search.Result) string {
	items := validItems(result.Items)

	if len(items) == 0 {
		return fmt.Sprintf("No results found for \"%s\"", result.Query)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Results for \"%s\"\n\n", result.Query))
	sb.WriteString(fmt.Sprintf("Found %d result", len(items)))
	if len(items) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	if result.Degraded {
		fmt.Fprintf(&sb, "> **Note:** the %s branch was unavailable; results come from a single ranking.\n\n",
			result.Debug.DegradedBranch)
	}

	for i, item := range items {
		formatItem(&sb, i+1, item)
	}

	return sb.String()
}

// formatItem formats a single ranked passage.
func formatItem(sb *strings.Builder, num int, item *search.Item) {
	fmt.Fprintf(sb, "### %d. %s (score: %.4f)\n", num, item.Passage.ID, item.Score)

	var facts []string
	if section := metaString(item.Passage.Metadata, "section_title", "section"); section != "" {
		facts = append(facts, fmt.Sprintf("**Section:** %s", section))
	}
	if category := metaString(item.Passage.Metadata, "category"); category != "" {
		facts = append(facts, fmt.Sprintf("**Category:** %s", category))
	}
	if len(item.MatchedTerms) > 0 {
		terms := item.MatchedTerms
		if len(terms) > 5 {
			terms = terms[:5]
		}
		facts = append(facts, fmt.Sprintf("**Matched:** %s", strings.Join(terms, ", ")))
	}
	if len(facts) > 0 {
		sb.WriteString(strings.Join(facts, " | "))
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	sb.WriteString(strings.TrimSpace(item.Passage.Text))
	sb.WriteString("\n\n")
}

// FormatAnswer formats a generated answer with its source references.
func FormatAnswer(answer string, refs []*assemble.Ref) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(answer))
	sb.WriteString("\n")

	if len(refs) > 0 {
		sb.WriteString("\n---\n\n**Sources:**\n\n")
		for i, ref := range refs {
			fmt.Fprintf(&sb, "%d. %s (score: %.4f)", i+1, ref.ID, ref.Score)
			if ref.Section != "" {
				fmt.Fprintf(&sb, " - %s", ref.Section)
			}
			if ref.Position != nil {
				fmt.Fprintf(&sb, ", position %d", *ref.Position)
			}
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

// validItems drops items with nil passages.
func validItems(items []*search.Item) []*search.Item {
	valid := make([]*search.Item, 0, len(items))
	for _, item := range items {
		if item != nil && item.Passage != nil {
			valid = append(valid, item)
		}
	}
	return valid
}

// toRetrieveOutput converts an engine result to the tool output schema.
func toRetrieveOutput(result *search.Result) RetrieveOutput {
	output := RetrieveOutput{
		Query:    result.Query,
		Results:  make([]RetrievedPassage, 0, len(result.Items)),
		Degraded: result.Degraded,
	}
	if result.Degraded {
		output.DegradedBranch = result.Debug.DegradedBranch
	}
	for _, item := range validItems(result.Items) {
		output.Results = append(output.Results, toRetrievedPassage(item))
	}
	return output
}

// toRetrievedPassage converts one ranked item, lifting the common
// metadata fields out of the passage's metadata map.
func toRetrievedPassage(item *search.Item) RetrievedPassage {
	meta := item.Passage.Metadata
	return RetrievedPassage{
		ID:           item.Passage.ID,
		Text:         item.Passage.Text,
		Score:        item.Score,
		SparseRank:   item.SparseRank,
		DenseRank:    item.DenseRank,
		MatchedTerms: item.MatchedTerms,
		Section:      metaString(meta, "section_title", "section"),
		Position:     metaInt(meta, "position"),
		Category:     metaString(meta, "category"),
		SourceID:     metaString(meta, "source_id"),
	}
}

// toAnswerRefs converts assembler references to the tool output schema.
func toAnswerRefs(refs []*assemble.Ref) []*AnswerRef {
	out := make([]*AnswerRef, 0, len(refs))
	for _, ref := range refs {
		if ref == nil {
			continue
		}
		out = append(out, &AnswerRef{
			ID:       ref.ID,
			Score:    ref.Score,
			Section:  ref.Section,
			Position: ref.Position,
			Category: ref.Category,
			SourceID: ref.SourceID,
			Preview:  ref.Preview,
		})
	}
	return out
}

// metaString reads the first non-empty string value among keys.
func metaString(meta map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := meta[key].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

// metaInt coerces a metadata value to an int. JSON round-trips store
// numbers as float64. Returns 0 when absent.
func metaInt(meta map[string]any, key string) int {
	switch v := meta[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// clampLimit ensures limit is within bounds.
func clampLimit(limit, defaultVal, min, max int) int {
	if limit <= 0 {
		return defaultVal
	}
	if limit < min {
		return min
	}
	if limit > max {
		return max
	}
	return limit
}
