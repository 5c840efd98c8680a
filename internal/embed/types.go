// Package embed turns text into dense vectors for similarity search.
//
// The package offers two backends behind one interface: an Ollama HTTP
// client for real models and a deterministic hash embedder for tests and
// offline use. A shared LRU decorator caches vectors so repeated queries
// and unchanged passages never hit the backend twice.
package embed

import (
	"context"
	"math"
	"time"
)

// Embedder converts text into dense vectors.
// Implementations must be safe for concurrent use.
type Embedder interface {
	// Embed returns the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns embeddings for multiple texts, one per input,
	// in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the length of vectors this embedder produces.
	Dimensions() int

	// ModelName returns the identifier of the underlying model.
	ModelName() string

	// Available reports whether the backend can serve requests now.
	Available(ctx context.Context) bool

	// Close releases any resources held by the embedder.
	Close() error
}

const (
	// DefaultBatchSize is the number of texts sent per backend call.
	DefaultBatchSize = 32

	// MaxBatchSize caps the per-call batch size regardless of configuration.
	MaxBatchSize = 256

	// DefaultWarmTimeout bounds a request when the model served traffic
	// recently and is still resident in memory.
	DefaultWarmTimeout = 120 * time.Second

	// DefaultColdTimeout bounds a request that may have to wait for
	// Ollama to load the model from disk first.
	DefaultColdTimeout = 180 * time.Second

	// ModelUnloadThreshold is how long Ollama keeps an idle model loaded.
	// After this much silence the next request is treated as cold.
	ModelUnloadThreshold = 5 * time.Minute

	// DefaultMaxRetries bounds retry attempts for transient backend failures.
	DefaultMaxRetries = 3

	// DefaultDimensions is the vector length of the default Ollama model.
	DefaultDimensions = 768

	// StaticDimensions is the vector length of the hash-based embedder.
	StaticDimensions = 256
)

// normalizeVector scales vec to unit length in place and returns it.
// Zero vectors are returned unchanged.
func normalizeVector(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
