// Package answer generates grounded answers from assembled context.
//
// Three backends sit behind one Generator interface: an offline stub
// (the default, needs no keys or servers), an Ollama chat client, and
// an OpenAI-compatible HTTP client. The Answerer wraps a Generator
// with prompt construction, context sanitation, and a token cap, and
// turns backend failures into a friendly fallback answer plus
// developer diagnostics; a dead backend degrades the answer, never
// the ask flow.
package answer

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	qerrors "github.com/quarrylabs/quarry/internal/errors"
)

// ErrNilGenerator is returned when attempting to create an Answerer
// without a generator.
var ErrNilGenerator = errors.New("generator is required")

// DefaultSystemPrompt is the built-in system prompt used when no
// prompt file is configured.
//
//go:embed prompt.txt
var DefaultSystemPrompt string

// Generator produces a plain-text completion for a prompt pair.
// Implementations must be safe for concurrent use.
type Generator interface {
	// Complete returns the model's answer to the system and user
	// prompts.
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// Name identifies the backend and model for diagnostics.
	Name() string
}

// chatMessage is one turn of a chat-style request, shared by the
// Ollama and OpenAI wire formats.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Limits are the context-shaping knobs applied before generation.
type Limits struct {
	// MaxContextChars caps the sanitized context, in runes. The cut
	// prefers a paragraph boundary.
	MaxContextChars int `json:"max_context_chars"`

	// MaxContextTokens caps the context by an approximate token
	// count, one word per token.
	MaxContextTokens int `json:"max_context_tokens"`

	// Sanitize enables paragraph dedupe and the character cap.
	Sanitize bool `json:"sanitize"`

	// TokenCap enables the approximate token cap.
	TokenCap bool `json:"token_cap"`
}

// DefaultLimits returns the default context limits, with both the
// sanitizer and the token cap enabled.
func DefaultLimits() Limits {
	return Limits{
		MaxContextChars:  DefaultMaxContextChars,
		MaxContextTokens: DefaultMaxContextTokens,
		Sanitize:         true,
		TokenCap:         true,
	}
}

// Response is the outcome of one answer generation.
type Response struct {
	// FinalOutput is the user-facing answer. On backend failure it
	// holds a friendly fallback rather than an error dump.
	FinalOutput string `json:"final_output"`

	// Developer exposes what was actually sent to the model.
	Developer *Diagnostics `json:"developer_output,omitempty"`
}

// Diagnostics describe one generation attempt for debugging.
type Diagnostics struct {
	Generator   string       `json:"generator"`
	ContextUsed string       `json:"context_used"`
	FullPrompt  string       `json:"full_prompt"`
	Limits      Limits       `json:"limits"`
	Error       *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail carries a failed backend call into the developer view.
type ErrorDetail struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Answerer turns a question and assembled context into an answer.
type Answerer struct {
	generator    Generator
	limits       Limits
	systemPrompt string
	promptPath   string
}

// AnswererOption configures an Answerer during construction.
type AnswererOption func(*Answerer)

// WithLimits replaces the default context limits.
func WithLimits(limits Limits) AnswererOption {
	return func(a *Answerer) {
		a.limits = limits
	}
}

// WithSystemPrompt sets the system prompt to the given text.
func WithSystemPrompt(text string) AnswererOption {
	return func(a *Answerer) {
		a.systemPrompt = strings.TrimSpace(text)
	}
}

// WithSystemPromptFile loads the system prompt from a file. A missing
// or unreadable file fails construction rather than silently falling
// back.
func WithSystemPromptFile(path string) AnswererOption {
	return func(a *Answerer) {
		a.promptPath = path
	}
}

// NewAnswerer creates an Answerer over the given generator. Without
// options it uses the embedded system prompt and DefaultLimits.
func NewAnswerer(generator Generator, opts ...AnswererOption) (*Answerer, error) {
	if generator == nil {
		return nil, ErrNilGenerator
	}

	a := &Answerer{
		generator: generator,
		limits:    DefaultLimits(),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.limits.MaxContextChars <= 0 {
		a.limits.MaxContextChars = DefaultMaxContextChars
	}
	if a.limits.MaxContextTokens <= 0 {
		a.limits.MaxContextTokens = DefaultMaxContextTokens
	}

	if a.promptPath != "" {
		data, err := os.ReadFile(a.promptPath)
		if err != nil {
			return nil, qerrors.IOError(
				fmt.Sprintf("load system prompt from %s", a.promptPath), err)
		}
		a.systemPrompt = strings.TrimSpace(string(data))
	}
	if a.systemPrompt == "" {
		a.systemPrompt = strings.TrimSpace(DefaultSystemPrompt)
	}

	return a, nil
}

// Answer generates an answer for question over contextText.
//
// Backend failures never surface as errors: the response carries a
// friendly fallback answer and the failure moves into the developer
// diagnostics.
func (a *Answerer) Answer(ctx context.Context, question, contextText string) *Response {
	cleaned := contextText
	if a.limits.Sanitize {
		cleaned = sanitizeContext(cleaned, a.limits.MaxContextChars)
	}
	if a.limits.TokenCap {
		cleaned = trimToTokens(cleaned, a.limits.MaxContextTokens)
	}

	userPrompt := buildUserPrompt(question, cleaned)
	diag := &Diagnostics{
		Generator:   a.generator.Name(),
		ContextUsed: cleaned,
		FullPrompt:  a.systemPrompt + "\n\n" + userPrompt,
		Limits:      a.limits,
	}

	text, err := a.generator.Complete(ctx, a.systemPrompt, userPrompt)
	if err != nil {
		slog.Warn("answer generation failed",
			"generator", diag.Generator,
			"error", err)
		diag.Error = &ErrorDetail{
			Code:    qerrors.GetCode(err),
			Message: err.Error(),
		}
		return &Response{FinalOutput: fallbackFor(err), Developer: diag}
	}

	return &Response{FinalOutput: strings.TrimSpace(text), Developer: diag}
}

// SystemPrompt returns the prompt the Answerer sends as the system
// message.
func (a *Answerer) SystemPrompt() string {
	return a.systemPrompt
}

// fallbackFor maps a backend failure to a user-facing answer.
func fallbackFor(err error) string {
	switch {
	case errors.Is(err, ErrMissingAPIKey):
		return "The assistant is not configured: the API key is missing.\n" +
			"Set the configured key environment variable, or switch answer.generator to \"stub\" in quarry.yaml."
	case qerrors.GetCategory(err) == qerrors.CategoryNetwork:
		return "The assistant backend is unreachable right now.\n" +
			"Check that the model server is running, then try again."
	default:
		return "The assistant encountered a temporary issue. Please try again in a moment."
	}
}

// buildUserPrompt frames the question and context for the model. The
// context is passed as plain text so answers cannot cite internals.
func buildUserPrompt(question, contextText string) string {
	var b strings.Builder
	b.WriteString("User question:\n")
	b.WriteString(question)
	b.WriteString("\n\nRelevant context (do not mention its origin in the answer):\n")
	b.WriteString(contextText)
	b.WriteString("\n\nNow answer following the system instructions.")
	return b.String()
}
