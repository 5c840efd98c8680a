package answer

import (
	"fmt"
	"strings"
	"time"

	qerrors "github.com/quarrylabs/quarry/internal/errors"
)

// Backend identifies an answer generation backend.
type Backend string

const (
	// BackendStub is the offline canned-answer backend.
	BackendStub Backend = "stub"

	// BackendOllama chats with a local Ollama server.
	BackendOllama Backend = "ollama"

	// BackendOpenAI chats with any OpenAI-compatible endpoint.
	BackendOpenAI Backend = "openai"
)

const (
	// DefaultOllamaHost is the chat endpoint used when none is
	// configured.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is the chat model used with the Ollama
	// backend when none is configured.
	DefaultOllamaModel = "llama3.2"

	// DefaultOpenAIBaseURL targets the OpenAI API itself; point it at
	// any compatible server to use another provider.
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"

	// DefaultOpenAIModel is the chat model used with the OpenAI
	// backend when none is configured.
	DefaultOpenAIModel = "gpt-4o-mini"

	// DefaultAPIKeyEnv names the environment variable read for the
	// API key.
	DefaultAPIKeyEnv = "OPENAI_API_KEY"

	// DefaultTimeout bounds one generation request.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxContextChars caps the sanitized context, in runes.
	DefaultMaxContextChars = 20000

	// DefaultMaxContextTokens caps the context by approximate token
	// count.
	DefaultMaxContextTokens = 3000
)

// Config selects and configures a generation backend.
//
// File and environment overrides are resolved by the configuration
// layer before a Config reaches this package.
type Config struct {
	Backend       Backend
	Model         string
	OllamaHost    string
	OpenAIBaseURL string
	APIKeyEnv     string
	Timeout       time.Duration
}

// DefaultConfig returns the default generator configuration: the
// offline stub.
func DefaultConfig() Config {
	return Config{
		Backend:   BackendStub,
		APIKeyEnv: DefaultAPIKeyEnv,
		Timeout:   DefaultTimeout,
	}
}

// ParseBackend converts a configuration string to a Backend.
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "stub":
		return BackendStub, nil
	case "ollama":
		return BackendOllama, nil
	case "openai":
		return BackendOpenAI, nil
	default:
		return "", qerrors.ConfigError(
			fmt.Sprintf("unknown answer generator %q", s), nil).
			WithSuggestion("valid generators: stub, ollama, openai")
	}
}

// NewGenerator constructs the configured backend. An empty backend
// means the stub.
func NewGenerator(cfg Config) (Generator, error) {
	switch cfg.Backend {
	case BackendStub, "":
		return NewStubGenerator(), nil
	case BackendOllama:
		return NewOllamaGenerator(cfg), nil
	case BackendOpenAI:
		return NewOpenAIGenerator(cfg), nil
	default:
		return nil, qerrors.ConfigError(
			fmt.Sprintf("unknown answer generator %q", cfg.Backend), nil).
			WithSuggestion("valid generators: stub, ollama, openai")
	}
}
