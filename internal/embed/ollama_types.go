package embed

import "time"

const (
	// DefaultOllamaHost is the default Ollama server address.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is the embedding model used when none is configured.
	DefaultOllamaModel = "nomic-embed-text"

	// DefaultPoolSize is the number of idle connections kept to the server.
	DefaultPoolSize = 4
)

// FallbackOllamaModels are tried in order when no model is configured and
// the default is not installed.
var FallbackOllamaModels = []string{
	"mxbai-embed-large",
	"all-minilm",
}

// OllamaConfig configures the Ollama-backed embedder.
type OllamaConfig struct {
	Host        string        // server address; empty uses DefaultOllamaHost
	Model       string        // model name; empty auto-detects an installed model
	BatchSize   int           // texts per /api/embed call
	PoolSize    int           // idle connections kept to the server
	MaxRetries  int           // retry attempts for transient failures; 0 disables retries
	WarmTimeout time.Duration // per-request timeout while the model is resident
	ColdTimeout time.Duration // per-request timeout when the model must load first
}

// DefaultOllamaConfig returns an OllamaConfig with production defaults.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:        DefaultOllamaHost,
		BatchSize:   DefaultBatchSize,
		PoolSize:    DefaultPoolSize,
		MaxRetries:  DefaultMaxRetries,
		WarmTimeout: DefaultWarmTimeout,
		ColdTimeout: DefaultColdTimeout,
	}
}

// ollamaEmbedRequest is the /api/embed request body. Input is either a
// single string or a []string.
type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

// ollamaEmbedResponse is the /api/embed response body.
type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// ollamaTagsResponse is the /api/tags response body.
type ollamaTagsResponse struct {
	Models []ollamaModelInfo `json:"models"`
}

type ollamaModelInfo struct {
	Name string `json:"name"`
}
