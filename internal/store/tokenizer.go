package store

import (
	"regexp"
	"strings"
)

// tokenRegex matches alphanumeric runs. Punctuation, apostrophes and
// hyphens all act as separators.
var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// minTokenLength is the minimum token length kept by Tokenize. Single
// characters (including lone digits) carry almost no lexical signal and
// bloat the index.
const minTokenLength = 2

// Tokenize splits prose into lowercase tokens of at least minTokenLength
// characters. The same function runs at index-build time and query time;
// the two must never diverge or recall silently degrades.
func Tokenize(text string) []string {
	var tokens []string

	for _, word := range tokenRegex.FindAllString(text, -1) {
		lower := strings.ToLower(word)
		if len(lower) >= minTokenLength {
			tokens = append(tokens, lower)
		}
	}

	return tokens
}

// FilterStopWords removes stop words from a token list.
func FilterStopWords(tokens []string, stopWords map[string]struct{}) []string {
	result := make([]string, 0, len(tokens))
	for _, token := range tokens {
		lower := strings.ToLower(token)
		if _, isStop := stopWords[lower]; !isStop {
			result = append(result, token)
		}
	}
	return result
}

// BuildStopWordMap converts a slice of stop words to a map for efficient lookup.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, word := range stopWords {
		m[strings.ToLower(word)] = struct{}{}
	}
	return m
}

// DefaultStopWords is the classic English stop word list used by Lucene-family
// lexical engines. Removing these keeps BM25 focused on content-bearing terms.
var DefaultStopWords = []string{
	"a", "an", "and", "are", "as", "at", "be", "but", "by",
	"for", "if", "in", "into", "is", "it",
	"no", "not", "of", "on", "or", "such",
	"that", "the", "their", "then", "there", "these",
	"they", "this", "to", "was", "will", "with",
}
