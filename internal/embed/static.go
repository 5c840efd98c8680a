package embed

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"
)

const (
	staticModelName = "static-hash"

	// Feature weights: whole words carry most of the signal, character
	// trigrams add robustness to inflection and typos.
	staticTokenWeight = 0.7
	staticNgramWeight = 0.3
	staticNgramSize   = 3
)

// staticStopWords are high-frequency words that would otherwise dominate
// every vector and make unrelated texts look similar.
var staticStopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "but": {}, "by": {}, "for": {}, "from": {}, "has": {},
	"have": {}, "in": {}, "is": {}, "it": {}, "its": {}, "of": {},
	"on": {}, "or": {}, "that": {}, "the": {}, "this": {}, "to": {},
	"was": {}, "were": {}, "will": {}, "with": {},
}

// StaticEmbedder produces deterministic hash-based embeddings with no
// external dependencies. Words and character trigrams are hashed into a
// fixed-size vector, so texts sharing vocabulary land near each other.
// It captures lexical overlap only, nothing semantic: the point is a
// fast, offline, reproducible stand-in for a real model in tests and in
// environments without Ollama.
type StaticEmbedder struct {
	mu     sync.RWMutex
	closed bool
}

// NewStaticEmbedder creates a deterministic hash-based embedder.
func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{}
}

// Embed returns a unit-length vector derived from the text's words and
// trigrams. Identical texts always produce identical vectors. Texts with
// no usable tokens embed to the zero vector.
func (s *StaticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errStaticClosed
	}

	vec := make([]float32, StaticDimensions)
	for _, token := range staticTokens(text) {
		vec[hashToIndex(token)] += staticTokenWeight
		for i := 0; i+staticNgramSize <= len(token); i++ {
			vec[hashToIndex(token[i:i+staticNgramSize])] += staticNgramWeight
		}
	}
	return normalizeVector(vec), nil
}

// EmbedBatch embeds each text independently.
func (s *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec, err := s.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns StaticDimensions.
func (s *StaticEmbedder) Dimensions() int {
	return StaticDimensions
}

// ModelName identifies the hash embedder.
func (s *StaticEmbedder) ModelName() string {
	return staticModelName
}

// Available always reports true until the embedder is closed.
func (s *StaticEmbedder) Available(_ context.Context) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed
}

// Close marks the embedder closed. Safe to call more than once.
func (s *StaticEmbedder) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

var errStaticClosed = errors.New("static embedder is closed")

// staticTokens lowercases the text and splits it into letter/digit runs,
// dropping single characters and stop words.
func staticTokens(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, stop := staticStopWords[f]; stop {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// hashToIndex maps a feature string to a vector index via FNV-1a.
func hashToIndex(s string) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % StaticDimensions)
}
