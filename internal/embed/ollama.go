package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	qerrors "github.com/quarrylabs/quarry/internal/errors"
)

// OllamaEmbedder produces embeddings via a local Ollama server.
//
// Connections to the server are pooled. Requests carry per-call timeouts:
// a shorter one while the model is resident, a longer one when Ollama has
// to load the model from disk first. Transient failures are retried with
// exponential backoff behind a circuit breaker, so a dead server fails
// fast instead of stalling every caller for the full timeout.
type OllamaEmbedder struct {
	config  OllamaConfig
	client  *http.Client
	breaker *qerrors.CircuitBreaker
	retry   qerrors.RetryConfig
	dims    int

	mu       sync.Mutex
	lastCall time.Time
	closed   bool
}

// NewOllamaEmbedder connects to an Ollama server, resolves which embedding
// model to use, and probes the model's vector dimensions.
//
// When config.Model is empty the embedder picks the first installed model
// from DefaultOllamaModel and FallbackOllamaModels. A configured model
// that is not installed is an error rather than a silent substitution.
func NewOllamaEmbedder(ctx context.Context, config OllamaConfig) (*OllamaEmbedder, error) {
	if config.Host == "" {
		config.Host = DefaultOllamaHost
	}
	config.Host = strings.TrimRight(config.Host, "/")
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.BatchSize > MaxBatchSize {
		config.BatchSize = MaxBatchSize
	}
	if config.PoolSize <= 0 {
		config.PoolSize = DefaultPoolSize
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.WarmTimeout <= 0 {
		config.WarmTimeout = DefaultWarmTimeout
	}
	if config.ColdTimeout <= 0 {
		config.ColdTimeout = DefaultColdTimeout
	}

	retry := qerrors.DefaultRetryConfig()
	retry.MaxRetries = config.MaxRetries

	e := &OllamaEmbedder{
		config: config,
		client: &http.Client{
			// No client-level timeout: each request carries its own
			// context deadline via requestTimeout.
			Transport: newOllamaTransport(config.PoolSize),
		},
		breaker: qerrors.NewCircuitBreaker("ollama-embed"),
		retry:   retry,
	}

	if !e.Available(ctx) {
		return nil, qerrors.NetworkError(
			fmt.Sprintf("ollama server not reachable at %s", config.Host), nil).
			WithSuggestion("start it with 'ollama serve' or set embeddings.ollama_host to a running server")
	}

	model, err := e.resolveModel(ctx)
	if err != nil {
		return nil, err
	}
	e.config.Model = model

	dims, err := e.probeDimensions(ctx)
	if err != nil {
		return nil, fmt.Errorf("probe dimensions for %s: %w", model, err)
	}
	e.dims = dims

	slog.Debug("ollama embedder ready",
		"host", e.config.Host,
		"model", model,
		"dimensions", dims)
	return e, nil
}

func newOllamaTransport(poolSize int) *http.Transport {
	return &http.Transport{
		MaxIdleConns:        poolSize,
		MaxIdleConnsPerHost: poolSize,
		IdleConnTimeout:     10 * time.Second,
	}
}

// Embed returns the normalized embedding for a single text.
// Whitespace-only text embeds to a zero vector without a server call.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.isClosed() {
		return nil, fmt.Errorf("ollama embedder is closed")
	}
	if strings.TrimSpace(text) == "" {
		return make([]float32, e.dims), nil
	}
	vecs, err := e.embedWithRetry(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in chunks of BatchSize, returning one vector
// per input in input order.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.isClosed() {
		return nil, fmt.Errorf("ollama embedder is closed")
	}
	out := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += e.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+e.config.BatchSize, len(texts))
		chunk := texts[start:end]

		// Whitespace-only texts become zero vectors; only real text
		// goes to the server.
		inputs := make([]string, 0, len(chunk))
		positions := make([]int, 0, len(chunk))
		for i, text := range chunk {
			if strings.TrimSpace(text) == "" {
				out[start+i] = make([]float32, e.dims)
				continue
			}
			inputs = append(inputs, text)
			positions = append(positions, start+i)
		}
		if len(inputs) == 0 {
			continue
		}

		vecs, err := e.embedWithRetry(ctx, inputs)
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		for i, vec := range vecs {
			out[positions[i]] = vec
		}
	}
	return out, nil
}

// Dimensions returns the vector length probed at construction.
func (e *OllamaEmbedder) Dimensions() int {
	return e.dims
}

// ModelName returns the resolved model name, including its tag.
func (e *OllamaEmbedder) ModelName() string {
	return e.config.Model
}

// Available reports whether the Ollama server answers /api/tags.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	if e.isClosed() {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// Close releases pooled connections. It is safe to call more than once.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.client.CloseIdleConnections()
	return nil
}

func (e *OllamaEmbedder) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// embedWithRetry wraps doEmbed in retry-with-backoff behind the circuit
// breaker. The breaker trips after repeated failures so callers stop
// waiting out full timeouts against a server that is clearly down.
func (e *OllamaEmbedder) embedWithRetry(ctx context.Context, inputs []string) ([][]float32, error) {
	return qerrors.RetryWithResult(ctx, e.retry, func() ([][]float32, error) {
		return qerrors.ExecuteWithResult(e.breaker, func() ([][]float32, error) {
			return e.doEmbed(ctx, inputs)
		})
	})
}

// doEmbed performs one /api/embed call. The request runs in a goroutine
// so a hung connection cannot outlive the deadline: on timeout the pooled
// transport is replaced and its connections force-closed.
func (e *OllamaEmbedder) doEmbed(ctx context.Context, inputs []string) ([][]float32, error) {
	timeout := e.requestTimeout()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var input any = inputs
	if len(inputs) == 1 {
		input = inputs[0]
	}
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.config.Model, Input: input})
	if err != nil {
		return nil, qerrors.InternalError("marshal embed request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, qerrors.InternalError("build embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	type embedResult struct {
		resp *ollamaEmbedResponse
		err  error
	}
	resultCh := make(chan embedResult, 1)
	go func() {
		resp, err := e.client.Do(req)
		if err != nil {
			resultCh <- embedResult{err: qerrors.NetworkError("ollama embed request failed", err)}
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resultCh <- embedResult{err: qerrors.NetworkError(
				fmt.Sprintf("ollama embed returned %s: %s", resp.Status, strings.TrimSpace(string(detail))), nil)}
			return
		}
		var decoded ollamaEmbedResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			resultCh <- embedResult{err: qerrors.InternalError("decode embed response", err)}
			return
		}
		resultCh <- embedResult{resp: &decoded}
	}()

	select {
	case <-ctx.Done():
		e.forceCloseConnections()
		return nil, qerrors.NetworkError(
			fmt.Sprintf("ollama embed timed out after %s", timeout), ctx.Err())
	case res := <-resultCh:
		if res.err != nil {
			return nil, res.err
		}
		e.touch()
		return convertEmbeddings(res.resp.Embeddings, len(inputs))
	}
}

// requestTimeout returns the cold timeout when the model has likely been
// unloaded since the last call, the warm timeout otherwise.
func (e *OllamaEmbedder) requestTimeout() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastCall.IsZero() || time.Since(e.lastCall) > ModelUnloadThreshold {
		return e.config.ColdTimeout
	}
	return e.config.WarmTimeout
}

func (e *OllamaEmbedder) touch() {
	e.mu.Lock()
	e.lastCall = time.Now()
	e.mu.Unlock()
}

// forceCloseConnections swaps in a fresh transport and closes the old
// one's connections, including any the hung request still holds.
func (e *OllamaEmbedder) forceCloseConnections() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	old := e.client.Transport
	e.client.Transport = newOllamaTransport(e.config.PoolSize)
	if t, ok := old.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}

// resolveModel picks the embedding model to use. A configured model must
// be installed; otherwise the default and fallback models are tried in
// order against the server's installed list.
func (e *OllamaEmbedder) resolveModel(ctx context.Context) (string, error) {
	installed, err := e.listModels(ctx)
	if err != nil {
		return "", err
	}

	if e.config.Model != "" {
		if name, ok := matchModel(installed, e.config.Model); ok {
			return name, nil
		}
		return "", qerrors.ConfigError(
			fmt.Sprintf("embedding model %q is not installed on %s", e.config.Model, e.config.Host), nil).
			WithSuggestion(fmt.Sprintf("run 'ollama pull %s'", e.config.Model))
	}

	candidates := append([]string{DefaultOllamaModel}, FallbackOllamaModels...)
	for _, candidate := range candidates {
		if name, ok := matchModel(installed, candidate); ok {
			if candidate != DefaultOllamaModel {
				slog.Debug("default embedding model not installed, using fallback", "model", name)
			}
			return name, nil
		}
	}
	return "", qerrors.ConfigError("no embedding model installed", nil).
		WithSuggestion(fmt.Sprintf("run 'ollama pull %s'", DefaultOllamaModel))
}

// listModels fetches the names of models installed on the server.
func (e *OllamaEmbedder) listModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return nil, qerrors.InternalError("build tags request", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, qerrors.NetworkError("list ollama models", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, qerrors.NetworkError(
			fmt.Sprintf("ollama tags returned %s", resp.Status), nil)
	}

	var decoded ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, qerrors.InternalError("decode tags response", err)
	}
	names := make([]string, 0, len(decoded.Models))
	for _, m := range decoded.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// matchModel resolves want against installed model names. Ollama lists
// models with tags ("nomic-embed-text:latest"), so a bare name matches
// any tag of that model.
func matchModel(installed []string, want string) (string, bool) {
	for _, name := range installed {
		if name == want || strings.HasPrefix(name, want+":") {
			return name, true
		}
	}
	return "", false
}

// probeDimensions embeds a short text to learn the model's vector length.
func (e *OllamaEmbedder) probeDimensions(ctx context.Context) (int, error) {
	vecs, err := e.embedWithRetry(ctx, []string{"dimension probe"})
	if err != nil {
		return 0, err
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return 0, fmt.Errorf("model %s returned an empty embedding", e.config.Model)
	}
	return len(vecs[0]), nil
}

// convertEmbeddings converts the wire format to normalized []float32
// vectors, verifying the server returned one vector per input.
func convertEmbeddings(raw [][]float64, want int) ([][]float32, error) {
	if len(raw) != want {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(raw), want)
	}
	out := make([][]float32, len(raw))
	for i, emb := range raw {
		vec := make([]float32, len(emb))
		for j, v := range emb {
			vec[j] = float32(v)
		}
		out[i] = normalizeVector(vec)
	}
	return out, nil
}
