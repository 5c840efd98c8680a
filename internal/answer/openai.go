package answer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	qerrors "github.com/quarrylabs/quarry/internal/errors"
)

// ErrMissingAPIKey is returned when the configured key environment
// variable is empty at request time.
var ErrMissingAPIKey = errors.New("api key is missing")

type openaiChatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type openaiChatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// OpenAIGenerator produces answers via any OpenAI-compatible chat
// completions endpoint.
//
// The API key is read from the environment on every call rather than
// being captured at construction, so exporting the key and retrying
// works without restarting anything.
type OpenAIGenerator struct {
	baseURL string
	model   string
	keyEnv  string
	timeout time.Duration
	client  *http.Client
}

// NewOpenAIGenerator creates an OpenAI-compatible chat backend. Empty
// or non-positive fields fall back to DefaultOpenAIBaseURL,
// DefaultOpenAIModel, DefaultAPIKeyEnv, and DefaultTimeout.
func NewOpenAIGenerator(cfg Config) *OpenAIGenerator {
	baseURL := strings.TrimRight(cfg.OpenAIBaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	keyEnv := cfg.APIKeyEnv
	if keyEnv == "" {
		keyEnv = DefaultAPIKeyEnv
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &OpenAIGenerator{
		baseURL: baseURL,
		model:   model,
		keyEnv:  keyEnv,
		timeout: timeout,
		client:  &http.Client{},
	}
}

// Complete sends one chat completions request.
func (g *OpenAIGenerator) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	key := os.Getenv(g.keyEnv)
	if key == "" {
		return "", fmt.Errorf("%w: set %s", ErrMissingAPIKey, g.keyEnv)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	body, err := json.Marshal(openaiChatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	})
	if err != nil {
		return "", qerrors.InternalError("marshal chat request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", qerrors.InternalError("build chat request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", qerrors.NetworkError("openai chat request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", qerrors.NetworkError(
			fmt.Sprintf("openai chat returned %s: %s", resp.Status, strings.TrimSpace(string(detail))), nil)
	}

	var decoded openaiChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", qerrors.InternalError("decode chat response", err)
	}
	if len(decoded.Choices) == 0 {
		return "", qerrors.InternalError("openai chat returned no choices", nil)
	}
	return strings.TrimSpace(decoded.Choices[0].Message.Content), nil
}

// Name identifies the backend and model.
func (g *OpenAIGenerator) Name() string {
	return "openai:" + g.model
}
