package answer

import (
	"strings"
	"unicode/utf8"
)

// sanitizeContext prepares raw context for the prompt: paragraphs are
// trimmed, deduplicated in order, and rejoined, and the result is
// capped at maxChars runes, cutting on a paragraph boundary when one
// exists inside the cap.
func sanitizeContext(raw string, maxChars int) string {
	parts := strings.Split(raw, "\n\n")
	seen := make(map[string]struct{}, len(parts))
	kept := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		kept = append(kept, p)
	}

	text := strings.Join(kept, "\n\n")
	if maxChars > 0 && utf8.RuneCountInString(text) > maxChars {
		cut := string([]rune(text)[:maxChars])
		if i := strings.LastIndex(cut, "\n\n"); i > 0 {
			cut = cut[:i]
		}
		text = strings.TrimSpace(cut)
	}
	return text
}

// trimToTokens caps text at roughly maxTokens, counting one word per
// token. Text under the cap passes through unchanged.
func trimToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 || text == "" {
		return ""
	}
	words := strings.Fields(text)
	if len(words) <= maxTokens {
		return text
	}
	return strings.Join(words[:maxTokens], " ")
}
