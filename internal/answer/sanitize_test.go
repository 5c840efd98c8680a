package answer

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

// TS01: Paragraph Dedupe
//
// Repeated and empty paragraphs drop out; order and first occurrences
// survive.
func TestSanitizeContext_ParagraphDedupe(t *testing.T) {
	raw := "Alpha.\n\nBeta.\n\nAlpha.\n\n\n\n  Gamma.  "
	assert.Equal(t, "Alpha.\n\nBeta.\n\nGamma.", sanitizeContext(raw, 0))
}

// TS02: Cap At Paragraph Boundary
//
// When the cap lands inside a paragraph, the cut retreats to the last
// full paragraph before it.
func TestSanitizeContext_CapAtParagraphBoundary(t *testing.T) {
	first := strings.Repeat("a", 10)
	second := strings.Repeat("b", 50)

	got := sanitizeContext(first+"\n\n"+second, 30)
	assert.Equal(t, first, got)
}

// TS03: Cap Without Boundary
//
// A single oversized paragraph is cut at the cap itself.
func TestSanitizeContext_CapWithoutBoundary(t *testing.T) {
	got := sanitizeContext(strings.Repeat("b", 50), 30)
	assert.Equal(t, strings.Repeat("b", 30), got)
}

// TS04: Under Cap Unchanged
func TestSanitizeContext_UnderCap(t *testing.T) {
	assert.Equal(t, "Alpha.\n\nBeta.", sanitizeContext("Alpha.\n\nBeta.", 1000))
	assert.Empty(t, sanitizeContext("", 1000))
	assert.Empty(t, sanitizeContext("  \n\n  ", 1000))
}

// TS05: Rune-Safe Cap
//
// The character cap counts runes, so multibyte text never cuts
// mid-character.
func TestSanitizeContext_RuneSafeCap(t *testing.T) {
	got := sanitizeContext(strings.Repeat("π", 40), 10)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 10, utf8.RuneCountInString(got))
}

// TS06: Token Trim
//
// Text under the cap passes through with formatting intact; text over
// it keeps the first maxTokens words.
func TestTrimToTokens(t *testing.T) {
	assert.Equal(t, "one two\n\nthree", trimToTokens("one two\n\nthree", 10))
	assert.Equal(t, "one two", trimToTokens("one two three four", 2))
	assert.Empty(t, trimToTokens("one two", 0))
	assert.Empty(t, trimToTokens("", 5))
}
