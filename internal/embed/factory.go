package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	qerrors "github.com/quarrylabs/quarry/internal/errors"
)

// ProviderType identifies an embedding backend.
type ProviderType string

const (
	// ProviderAuto tries Ollama first and falls back to the static
	// embedder when the server is unreachable.
	ProviderAuto ProviderType = ""

	// ProviderOllama requires a reachable Ollama server.
	ProviderOllama ProviderType = "ollama"

	// ProviderStatic uses the deterministic hash embedder.
	ProviderStatic ProviderType = "static"
)

// Config selects and configures an embedding backend.
//
// Environment and file-based overrides are resolved by the configuration
// layer before a Config reaches this package.
type Config struct {
	Provider  ProviderType
	Ollama    OllamaConfig
	CacheSize int  // LRU entries; non-positive uses DefaultCacheSize
	NoCache   bool // disable the LRU layer entirely
}

// DefaultConfig returns the default embedder configuration:
// auto-detected provider with caching enabled.
func DefaultConfig() Config {
	return Config{
		Provider:  ProviderAuto,
		Ollama:    DefaultOllamaConfig(),
		CacheSize: DefaultCacheSize,
	}
}

// ParseProvider converts a configuration string to a ProviderType.
func ParseProvider(s string) (ProviderType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ProviderAuto, nil
	case "ollama":
		return ProviderOllama, nil
	case "static":
		return ProviderStatic, nil
	default:
		return "", qerrors.ConfigError(
			fmt.Sprintf("unknown embedding provider %q", s), nil).
			WithSuggestion("valid providers: ollama, static, auto")
	}
}

// NewEmbedder constructs the configured embedder, wrapped in an LRU
// cache unless caching is disabled.
func NewEmbedder(ctx context.Context, cfg Config) (Embedder, error) {
	inner, err := newProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.NoCache {
		return inner, nil
	}
	return NewCachedEmbedder(inner, cfg.CacheSize), nil
}

// MustNewEmbedder is NewEmbedder but panics on error. For tests and
// tools where construction failure is unrecoverable.
func MustNewEmbedder(ctx context.Context, cfg Config) Embedder {
	e, err := NewEmbedder(ctx, cfg)
	if err != nil {
		panic(fmt.Sprintf("embed: %v", err))
	}
	return e
}

func newProvider(ctx context.Context, cfg Config) (Embedder, error) {
	switch cfg.Provider {
	case ProviderOllama:
		return NewOllamaEmbedder(ctx, cfg.Ollama)
	case ProviderStatic:
		return NewStaticEmbedder(), nil
	case ProviderAuto:
		e, err := NewOllamaEmbedder(ctx, cfg.Ollama)
		if err == nil {
			return e, nil
		}
		slog.Warn("ollama unavailable, using static embeddings",
			"host", cfg.Ollama.Host,
			"error", err)
		return NewStaticEmbedder(), nil
	default:
		return nil, qerrors.ConfigError(
			fmt.Sprintf("unknown embedding provider %q", cfg.Provider), nil).
			WithSuggestion("valid providers: ollama, static, auto")
	}
}

// Info describes a constructed embedder for status output and logs.
type Info struct {
	Provider   ProviderType `json:"provider"`
	Model      string       `json:"model"`
	Dimensions int          `json:"dimensions"`
	Cached     bool         `json:"cached"`
}

// GetInfo inspects an embedder, looking through the cache layer.
func GetInfo(e Embedder) Info {
	info := Info{
		Model:      e.ModelName(),
		Dimensions: e.Dimensions(),
	}
	if cached, ok := e.(*CachedEmbedder); ok {
		info.Cached = true
		e = cached.Inner()
	}
	switch e.(type) {
	case *OllamaEmbedder:
		info.Provider = ProviderOllama
	case *StaticEmbedder:
		info.Provider = ProviderStatic
	}
	return info
}
