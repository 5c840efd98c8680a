package answer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TS01: Backend Parsing
func TestParseBackend(t *testing.T) {
	tests := []struct {
		in   string
		want Backend
	}{
		{"", BackendStub},
		{"stub", BackendStub},
		{"Stub", BackendStub},
		{" OLLAMA ", BackendOllama},
		{"openai", BackendOpenAI},
	}
	for _, tt := range tests {
		got, err := ParseBackend(tt.in)
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}

	_, err := ParseBackend("gemini")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gemini")
}

// TS02: Generator Dispatch
func TestNewGenerator_Dispatch(t *testing.T) {
	g, err := NewGenerator(Config{Backend: BackendStub})
	require.NoError(t, err)
	assert.IsType(t, &StubGenerator{}, g)

	g, err = NewGenerator(Config{})
	require.NoError(t, err)
	assert.IsType(t, &StubGenerator{}, g)

	g, err = NewGenerator(Config{Backend: BackendOllama, Model: "m"})
	require.NoError(t, err)
	assert.IsType(t, &OllamaGenerator{}, g)
	assert.Equal(t, "ollama:m", g.Name())

	g, err = NewGenerator(Config{Backend: BackendOpenAI, Model: "m"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIGenerator{}, g)
	assert.Equal(t, "openai:m", g.Name())

	_, err = NewGenerator(Config{Backend: "gemini"})
	require.Error(t, err)
}

// TS03: Stub Answer
func TestStubGenerator(t *testing.T) {
	g := NewStubGenerator()
	text, err := g.Complete(t.Context(), "s", "u")
	require.NoError(t, err)
	assert.Contains(t, text, "stub")
	assert.Equal(t, "stub", g.Name())
}

// TS04: Config Defaults
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, BackendStub, cfg.Backend)
	assert.Equal(t, DefaultAPIKeyEnv, cfg.APIKeyEnv)
	assert.Equal(t, 60*time.Second, cfg.Timeout)
}
