package answer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	qerrors "github.com/quarrylabs/quarry/internal/errors"
)

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type ollamaChatResponse struct {
	Message chatMessage `json:"message"`
}

// OllamaGenerator produces answers via a local Ollama server's chat
// endpoint. Requests are non-streaming and carry a per-call timeout.
type OllamaGenerator struct {
	host    string
	model   string
	timeout time.Duration
	client  *http.Client
}

// NewOllamaGenerator creates an Ollama chat backend. Empty or
// non-positive fields fall back to DefaultOllamaHost,
// DefaultOllamaModel, and DefaultTimeout. The server is not contacted
// until the first Complete call, so a dead server degrades answers
// instead of failing startup.
func NewOllamaGenerator(cfg Config) *OllamaGenerator {
	host := strings.TrimRight(cfg.OllamaHost, "/")
	if host == "" {
		host = DefaultOllamaHost
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOllamaModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &OllamaGenerator{
		host:    host,
		model:   model,
		timeout: timeout,
		client:  &http.Client{},
	}
}

// Complete sends one non-streaming chat request.
func (g *OllamaGenerator) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	body, err := json.Marshal(ollamaChatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	})
	if err != nil {
		return "", qerrors.InternalError("marshal chat request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", qerrors.InternalError("build chat request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", qerrors.NetworkError("ollama chat request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", qerrors.NetworkError(
			fmt.Sprintf("ollama chat returned %s: %s", resp.Status, strings.TrimSpace(string(detail))), nil)
	}

	var decoded ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", qerrors.InternalError("decode chat response", err)
	}
	return strings.TrimSpace(decoded.Message.Content), nil
}

// Name identifies the backend and model.
func (g *OllamaGenerator) Name() string {
	return "ollama:" + g.model
}
