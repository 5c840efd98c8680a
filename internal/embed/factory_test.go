package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TS01: Provider Parsing
func TestParseProvider(t *testing.T) {
	tests := []struct {
		input   string
		want    ProviderType
		wantErr bool
	}{
		{"", ProviderAuto, false},
		{"auto", ProviderAuto, false},
		{"ollama", ProviderOllama, false},
		{"Ollama", ProviderOllama, false},
		{"  static  ", ProviderStatic, false},
		{"faiss", "", true},
	}
	for _, tt := range tests {
		got, err := ParseProvider(tt.input)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.input)
			continue
		}
		require.NoError(t, err, "input %q", tt.input)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
	}
}

// TS02: Static Provider Is Wrapped In A Cache
func TestNewEmbedder_StaticCached(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Provider = ProviderStatic

	e, err := NewEmbedder(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	cached, ok := e.(*CachedEmbedder)
	require.True(t, ok, "expected a cache wrapper, got %T", e)
	_, ok = cached.Inner().(*StaticEmbedder)
	assert.True(t, ok, "expected a static inner embedder, got %T", cached.Inner())

	info := GetInfo(e)
	assert.Equal(t, ProviderStatic, info.Provider)
	assert.Equal(t, "static-hash", info.Model)
	assert.Equal(t, StaticDimensions, info.Dimensions)
	assert.True(t, info.Cached)
}

// TS03: NoCache Returns The Bare Provider
func TestNewEmbedder_NoCache(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Provider = ProviderStatic
	cfg.NoCache = true

	e, err := NewEmbedder(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	_, ok := e.(*StaticEmbedder)
	assert.True(t, ok, "expected a bare static embedder, got %T", e)
	assert.False(t, GetInfo(e).Cached)
}

// TS04: Unknown Provider
func TestNewEmbedder_UnknownProvider(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Provider = "faiss"

	_, err := NewEmbedder(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown embedding provider")
}

// TS05: Auto Falls Back To Static When Ollama Is Down
func TestNewEmbedder_AutoFallback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ollama.Host = "http://127.0.0.1:1"

	e, err := NewEmbedder(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	assert.Equal(t, ProviderStatic, GetInfo(e).Provider)
}

// TS06: Explicit Ollama Fails Hard When Down
func TestNewEmbedder_OllamaRequired(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Provider = ProviderOllama
	cfg.Ollama.Host = "http://127.0.0.1:1"

	_, err := NewEmbedder(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not reachable")
}

// TS07: Auto Uses Ollama When Reachable
func TestNewEmbedder_AutoPrefersOllama(t *testing.T) {
	f := startFakeOllama(t, 4, "nomic-embed-text:latest")
	cfg := DefaultConfig()
	cfg.Ollama = f.config()

	e, err := NewEmbedder(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	info := GetInfo(e)
	assert.Equal(t, ProviderOllama, info.Provider)
	assert.Equal(t, "nomic-embed-text:latest", info.Model)
	assert.Equal(t, 4, info.Dimensions)
	assert.True(t, info.Cached)
}

// TS08: MustNewEmbedder Panics On Error
func TestMustNewEmbedder_Panics(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Provider = "bogus"

	assert.Panics(t, func() {
		MustNewEmbedder(context.Background(), cfg)
	})
}

// TS09: Default Configuration
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ProviderAuto, cfg.Provider)
	assert.Equal(t, DefaultCacheSize, cfg.CacheSize)
	assert.False(t, cfg.NoCache)
	assert.Equal(t, DefaultOllamaHost, cfg.Ollama.Host)
	assert.Equal(t, DefaultBatchSize, cfg.Ollama.BatchSize)
}
