package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/quarrylabs/quarry/internal/answer"
	"github.com/quarrylabs/quarry/internal/assemble"
	"github.com/quarrylabs/quarry/internal/config"
	"github.com/quarrylabs/quarry/internal/embed"
	qerrors "github.com/quarrylabs/quarry/internal/errors"
	"github.com/quarrylabs/quarry/internal/logging"
	"github.com/quarrylabs/quarry/internal/search"
	"github.com/quarrylabs/quarry/internal/store"
)

// loadWorkspace resolves the workspace root from the working directory and
// loads the layered configuration for it.
func loadWorkspace() (string, *config.Config, error) {
	root, err := config.FindWorkspaceRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}

	cfg, err := config.Load(root)
	if err != nil {
		return "", nil, err
	}
	if err := cfg.Validate(); err != nil {
		return "", nil, err
	}
	return root, cfg, nil
}

// setupCommandLogging initializes file logging for a CLI invocation. Output
// never goes to stderr so machine-readable stdout modes stay clean. The
// returned cleanup is a no-op when setup failed; CLI commands work without
// logs.
func setupCommandLogging(cfg *config.Config) func() {
	if loggingCleanup != nil {
		// --debug already installed a logger via the root hook.
		return func() {}
	}

	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if cfg != nil {
		logCfg.Level = logging.LevelFromString(cfg.Server.LogLevel)
	}
	if _, cleanup, err := logging.Setup(logCfg); err == nil {
		return cleanup
	}
	return func() {}
}

// embedderConfig converts the embeddings section into the embed factory
// configuration.
func embedderConfig(cfg *config.Config) (embed.Config, error) {
	provider, err := embed.ParseProvider(cfg.Embeddings.Provider)
	if err != nil {
		return embed.Config{}, err
	}

	ollama := embed.DefaultOllamaConfig()
	if cfg.Embeddings.OllamaHost != "" {
		ollama.Host = cfg.Embeddings.OllamaHost
	}
	if cfg.Embeddings.Model != "" {
		ollama.Model = cfg.Embeddings.Model
	}
	if cfg.Embeddings.BatchSize > 0 {
		ollama.BatchSize = cfg.Embeddings.BatchSize
	}

	return embed.Config{
		Provider:  provider,
		Ollama:    ollama,
		CacheSize: cfg.Embeddings.CacheSize,
	}, nil
}

// newEmbedder constructs the configured embedder.
func newEmbedder(ctx context.Context, cfg *config.Config) (embed.Embedder, error) {
	ecfg, err := embedderConfig(cfg)
	if err != nil {
		return nil, err
	}
	return embed.NewEmbedder(ctx, ecfg)
}

// generatorConfig converts the answer section into the generator factory
// configuration.
func generatorConfig(cfg *config.Config) (answer.Config, error) {
	backend, err := answer.ParseBackend(cfg.Answer.Generator)
	if err != nil {
		return answer.Config{}, err
	}

	acfg := answer.DefaultConfig()
	acfg.Backend = backend
	acfg.Model = cfg.Answer.Model
	acfg.OpenAIBaseURL = cfg.Answer.OpenAIBaseURL
	if cfg.Answer.APIKeyEnv != "" {
		acfg.APIKeyEnv = cfg.Answer.APIKeyEnv
	}

	// The answer generator falls back to the embeddings host so a single
	// ollama_host setting covers both.
	acfg.OllamaHost = cfg.Answer.OllamaHost
	if acfg.OllamaHost == "" {
		acfg.OllamaHost = cfg.Embeddings.OllamaHost
	}

	if cfg.Answer.Timeout != "" {
		timeout, err := time.ParseDuration(cfg.Answer.Timeout)
		if err != nil {
			return answer.Config{}, qerrors.ConfigError(
				fmt.Sprintf("invalid answer timeout %q", cfg.Answer.Timeout), err)
		}
		acfg.Timeout = timeout
	}

	return acfg, nil
}

// assemblerConfig maps the workspace assembly settings onto the context
// assembler. Zero fields fall back to assemble defaults.
func assemblerConfig(cfg *config.Config) assemble.Config {
	return assemble.Config{
		SectionCap:      cfg.Assembly.SectionCap,
		OverfetchFactor: cfg.Assembly.OverfetchFactor,
		ExcludeSections: cfg.Assembly.ExcludeSections,
	}
}

// answerLimits maps the workspace answer settings onto context limits.
func answerLimits(cfg *config.Config) answer.Limits {
	limits := answer.DefaultLimits()
	if cfg.Answer.MaxContextTokens > 0 {
		limits.MaxContextTokens = cfg.Answer.MaxContextTokens
	}
	return limits
}

// parseFilterFlag parses a --filters JSON value into a metadata filter.
func parseFilterFlag(raw string) (*store.Filter, error) {
	filter, err := store.ParseFilterJSON([]byte(raw))
	if err != nil {
		return nil, qerrors.ValidationError(
			fmt.Sprintf("invalid --filters value %q", raw), err)
	}
	return filter, nil
}

// engineConfig converts the retrieval section into engine parameters.
func engineConfig(cfg *config.Config) search.Config {
	scfg := search.DefaultConfig()
	if cfg.Retrieval.FinalK > 0 {
		scfg.FinalK = cfg.Retrieval.FinalK
	}
	if cfg.Retrieval.CandidatePool > 0 {
		scfg.CandidatePool = cfg.Retrieval.CandidatePool
	}
	if cfg.Retrieval.RRFK > 0 {
		scfg.RRFK = cfg.Retrieval.RRFK
	}
	if cfg.Retrieval.MMRLambda > 0 {
		scfg.MMRLambda = cfg.Retrieval.MMRLambda
	}
	if cfg.Retrieval.MaxFetchBatch > 0 {
		scfg.MaxFetchBatch = cfg.Retrieval.MaxFetchBatch
	}
	return scfg
}

// engineComponents bundles the opened read path of a built index. The
// engine owns every handle; Close releases them all.
type engineComponents struct {
	passages store.PassageStore
	embedder embed.Embedder
	engine   *search.Engine
}

func (c *engineComponents) Close() error {
	return c.engine.Close()
}

// indexHandles are the raw artifact handles under a built index.
type indexHandles struct {
	passages store.PassageStore
	embedder embed.Embedder
	sparse   store.SparseIndex
	dense    store.DenseIndex
}

func (h *indexHandles) Close() error {
	var firstErr error
	for _, c := range []io.Closer{h.sparse, h.dense, h.passages, h.embedder} {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// openIndexes opens the built index artifacts without wiring an engine.
// A missing index comes back as an index-missing error with a hint to
// run `quarry index`.
func openIndexes(ctx context.Context, root string, cfg *config.Config) (*indexHandles, error) {
	passagePath := cfg.PassageDBPath(root)
	if _, err := os.Stat(passagePath); os.IsNotExist(err) {
		return nil, qerrors.IndexMissingError(
			fmt.Sprintf("no index found in %s", cfg.IndexDir(root)), nil).
			WithSuggestion("run 'quarry index' to build one")
	}

	passages, err := store.NewSQLitePassageStore(passagePath)
	if err != nil {
		return nil, fmt.Errorf("open passage store: %w", err)
	}

	embedder, err := newEmbedder(ctx, cfg)
	if err != nil {
		_ = passages.Close()
		return nil, err
	}

	sparse, err := store.OpenSparseIndex(cfg.Retrieval.SparseBackend, cfg.SparseIndexPath(root), store.DefaultSparseConfig())
	if err != nil {
		_ = passages.Close()
		_ = embedder.Close()
		return nil, err
	}

	dense, err := store.OpenDenseIndex(cfg.Retrieval.DenseBackend, cfg.DenseIndexPath(root), store.DefaultDenseConfig(indexDimensions(ctx, passages, embedder)))
	if err != nil {
		_ = sparse.Close()
		_ = passages.Close()
		_ = embedder.Close()
		return nil, err
	}

	return &indexHandles{
		passages: passages,
		embedder: embedder,
		sparse:   sparse,
		dense:    dense,
	}, nil
}

// openEngine opens the built index for querying.
func openEngine(ctx context.Context, root string, cfg *config.Config, opts ...search.EngineOption) (*engineComponents, error) {
	h, err := openIndexes(ctx, root, cfg)
	if err != nil {
		return nil, err
	}

	opts = append([]search.EngineOption{search.WithConfig(engineConfig(cfg))}, opts...)
	engine, err := search.NewEngine(h.sparse, h.dense, h.passages, h.embedder, opts...)
	if err != nil {
		_ = h.Close()
		return nil, err
	}

	// The engine owns the handles now; closing goes through it.
	return &engineComponents{
		passages: h.passages,
		embedder: h.embedder,
		engine:   engine,
	}, nil
}

// indexDimensions reads the vector dimensionality the index was built with,
// falling back to the active embedder when the state key is absent.
func indexDimensions(ctx context.Context, passages store.PassageStore, embedder embed.Embedder) int {
	if v, err := passages.GetState(ctx, store.StateKeyEmbedderDimensions); err == nil && v != "" {
		if dims, err := strconv.Atoi(v); err == nil && dims > 0 {
			return dims
		}
	}
	return embedder.Dimensions()
}
