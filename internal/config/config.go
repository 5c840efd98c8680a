package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	qerrors "github.com/quarrylabs/quarry/internal/errors"
)

// Config represents the complete quarry configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Corpus     CorpusConfig     `yaml:"corpus" json:"corpus"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" json:"retrieval"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Index      IndexConfig      `yaml:"index" json:"index"`
	Assembly   AssemblyConfig   `yaml:"assembly" json:"assembly"`
	Answer     AnswerConfig     `yaml:"answer" json:"answer"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Eval       EvalConfig       `yaml:"eval" json:"eval"`
}

// CorpusConfig configures where passages come from.
type CorpusConfig struct {
	// Path is the corpus source: a pre-chunked passage JSON file or a
	// directory of markdown files.
	Path string `yaml:"path" json:"path"`
	// Format selects the ingest mode: "json", "markdown", or "" for
	// auto-detection from the path.
	Format string `yaml:"format" json:"format"`
	// SourceID is the default source label stamped on passages that carry none.
	SourceID string `yaml:"source_id" json:"source_id"`
	// ChunkSize is the target chunk size in characters (markdown mode).
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`
	// ChunkOverlap is the overlap between adjacent chunks (markdown mode).
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap"`
	// Exclude lists gitignore-style patterns dropped from directory
	// corpora, merged with any .quarryignore at the corpus root.
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// RetrievalConfig configures the fusion retriever.
// Tunables are configurable via:
//  1. User config (~/.config/quarry/config.yaml) - personal defaults
//  2. Project config (.quarry.yaml) - per-corpus tuning
//  3. Env vars (QUARRY_CANDIDATE_POOL, QUARRY_RRF_K, QUARRY_MMR_LAMBDA, ...) - highest priority
type RetrievalConfig struct {
	// CandidatePool is the per-branch fetch depth before fusion.
	CandidatePool int `yaml:"candidate_pool" json:"candidate_pool"`

	// RRFK is the reciprocal rank fusion smoothing constant.
	// Default: 60 (industry standard used by Azure AI Search, OpenSearch).
	// Higher values reduce the impact of rank differences.
	RRFK int `yaml:"rrf_k" json:"rrf_k"`

	// MMRLambda trades relevance against diversity in [0,1]:
	// 1.0 = pure relevance, 0.0 = pure diversity.
	MMRLambda float64 `yaml:"mmr_lambda" json:"mmr_lambda"`

	// FinalK is the default result count.
	FinalK int `yaml:"final_k" json:"final_k"`

	// MaxFetchBatch caps how many passages one store lookup may request.
	MaxFetchBatch int `yaml:"max_fetch_batch" json:"max_fetch_batch"`

	// SparseBackend selects the keyword index backend.
	// Options: "bleve" (default) or "sqlite" (FTS5, concurrent access).
	SparseBackend string `yaml:"sparse_backend" json:"sparse_backend"`

	// DenseBackend selects the vector index backend.
	// Options: "hnsw" (default) or "chromem" (embedded persistent collection).
	DenseBackend string `yaml:"dense_backend" json:"dense_backend"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the embedder: "ollama", "static", or "" for
	// auto-detection (ollama when reachable, static otherwise).
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"` // 0 = probe from embedder
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"` // empty uses http://localhost:11434
	// CacheSize is the LRU capacity for query-embedding reuse.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// IndexConfig configures index building and artifact locations.
type IndexConfig struct {
	// Dir is the index artifact directory, relative to the workspace root.
	Dir string `yaml:"dir" json:"dir"`
	// Workers is the embedding fan-out width during builds.
	Workers int `yaml:"workers" json:"workers"`
	// WatchDebounce is the quiet period before a watched rebuild fires.
	WatchDebounce string `yaml:"watch_debounce" json:"watch_debounce"`
}

// AssemblyConfig configures context assembly for answer generation.
type AssemblyConfig struct {
	// SectionCap limits how many passages one section may contribute.
	SectionCap int `yaml:"section_cap" json:"section_cap"`
	// OverfetchFactor multiplies k when pulling candidates so policy
	// filtering still leaves enough passages.
	OverfetchFactor int `yaml:"overfetch_factor" json:"overfetch_factor"`
	// ExcludeSections drops passages from the named sections.
	ExcludeSections []string `yaml:"exclude_sections" json:"exclude_sections"`
}

// AnswerConfig configures answer generation.
type AnswerConfig struct {
	// Generator selects the backend: "stub" (default, offline), "ollama",
	// or "openai" (any OpenAI-compatible endpoint).
	Generator string `yaml:"generator" json:"generator"`
	Model     string `yaml:"model" json:"model"`
	// OllamaHost overrides the chat endpoint (empty uses embeddings.ollama_host,
	// then http://localhost:11434).
	OllamaHost    string `yaml:"ollama_host" json:"ollama_host"`
	OpenAIBaseURL string `yaml:"openai_base_url" json:"openai_base_url"`
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env" json:"api_key_env"`
	// MaxContextTokens caps the assembled context (approximate, word-based).
	MaxContextTokens int `yaml:"max_context_tokens" json:"max_context_tokens"`
	// Timeout is the per-request generation timeout.
	Timeout string `yaml:"timeout" json:"timeout"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
}

// EvalConfig configures offline evaluation.
type EvalConfig struct {
	// QrelsPath is the relevance judgments file (JSONL), relative to the
	// workspace root.
	QrelsPath string `yaml:"qrels_path" json:"qrels_path"`
	// Ks are the cutoffs metrics are reported at.
	Ks []int `yaml:"ks" json:"ks"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Corpus: CorpusConfig{
			Path:         "",
			Format:       "", // auto-detect from path
			SourceID:     "",
			ChunkSize:    1500,
			ChunkOverlap: 200,
		},
		Retrieval: RetrievalConfig{
			CandidatePool: 40,
			// k=60 is the industry standard (Azure AI Search, OpenSearch)
			RRFK:          60,
			MMRLambda:     0.7,
			FinalK:        10,
			MaxFetchBatch: 256,
			SparseBackend: "bleve",
			DenseBackend:  "hnsw",
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "", // empty triggers auto-detection: Ollama -> Static
			Model:      "nomic-embed-text",
			Dimensions: 0, // probe from embedder
			BatchSize:  32,
			OllamaHost: "", // empty uses default http://localhost:11434
			CacheSize:  1024,
		},
		Index: IndexConfig{
			Dir:           ".quarry",
			Workers:       runtime.NumCPU(),
			WatchDebounce: "500ms",
		},
		Assembly: AssemblyConfig{
			SectionCap:      2,
			OverfetchFactor: 3,
			ExcludeSections: nil,
		},
		Answer: AnswerConfig{
			Generator:        "stub", // offline by default
			Model:            "llama3.2",
			OllamaHost:       "",
			OpenAIBaseURL:    "",
			APIKeyEnv:        "OPENAI_API_KEY",
			MaxContextTokens: 3000,
			Timeout:          "60s",
		},
		Server: ServerConfig{
			Transport: "stdio",
			LogLevel:  "debug", // debug by default to aid troubleshooting
		},
		Eval: EvalConfig{
			QrelsPath: filepath.Join("eval", "qrels.jsonl"),
			Ks:        []int{5, 10},
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/quarry/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/quarry/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "quarry", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "quarry", "config.yaml")
	}
	return filepath.Join(home, ".config", "quarry", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist (that's OK).
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()

	if !fileExists(configPath) {
		return nil, nil // no user config is fine
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}

	return cfg, nil
}

// Load loads configuration from the specified directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/quarry/config.yaml)
//  3. Project config (.quarry.yaml in workspace root)
//  4. Environment variables (QUARRY_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from .quarry.yaml or .quarry.yml.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ".quarry.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, ".quarry.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	// No config file is fine - use defaults
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return qerrors.ConfigError(fmt.Sprintf("failed to parse config file %s", path), err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// Corpus
	if other.Corpus.Path != "" {
		c.Corpus.Path = other.Corpus.Path
	}
	if other.Corpus.Format != "" {
		c.Corpus.Format = other.Corpus.Format
	}
	if other.Corpus.SourceID != "" {
		c.Corpus.SourceID = other.Corpus.SourceID
	}
	if other.Corpus.ChunkSize != 0 {
		c.Corpus.ChunkSize = other.Corpus.ChunkSize
	}
	if other.Corpus.ChunkOverlap != 0 {
		c.Corpus.ChunkOverlap = other.Corpus.ChunkOverlap
	}
	if len(other.Corpus.Exclude) > 0 {
		c.Corpus.Exclude = other.Corpus.Exclude
	}

	// Retrieval tunables
	// Note: zero is not a practical YAML value for these, so only non-zero
	// values merge; an explicit zero lambda is reachable via QUARRY_MMR_LAMBDA.
	if other.Retrieval.CandidatePool != 0 {
		c.Retrieval.CandidatePool = other.Retrieval.CandidatePool
	}
	if other.Retrieval.RRFK != 0 {
		c.Retrieval.RRFK = other.Retrieval.RRFK
	}
	if other.Retrieval.MMRLambda != 0 {
		c.Retrieval.MMRLambda = other.Retrieval.MMRLambda
	}
	if other.Retrieval.FinalK != 0 {
		c.Retrieval.FinalK = other.Retrieval.FinalK
	}
	if other.Retrieval.MaxFetchBatch != 0 {
		c.Retrieval.MaxFetchBatch = other.Retrieval.MaxFetchBatch
	}
	if other.Retrieval.SparseBackend != "" {
		c.Retrieval.SparseBackend = other.Retrieval.SparseBackend
	}
	if other.Retrieval.DenseBackend != "" {
		c.Retrieval.DenseBackend = other.Retrieval.DenseBackend
	}

	// Embeddings
	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.OllamaHost != "" {
		c.Embeddings.OllamaHost = other.Embeddings.OllamaHost
	}
	if other.Embeddings.CacheSize != 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}

	// Index
	if other.Index.Dir != "" {
		c.Index.Dir = other.Index.Dir
	}
	if other.Index.Workers != 0 {
		c.Index.Workers = other.Index.Workers
	}
	if other.Index.WatchDebounce != "" {
		c.Index.WatchDebounce = other.Index.WatchDebounce
	}

	// Assembly
	if other.Assembly.SectionCap != 0 {
		c.Assembly.SectionCap = other.Assembly.SectionCap
	}
	if other.Assembly.OverfetchFactor != 0 {
		c.Assembly.OverfetchFactor = other.Assembly.OverfetchFactor
	}
	if len(other.Assembly.ExcludeSections) > 0 {
		c.Assembly.ExcludeSections = other.Assembly.ExcludeSections
	}

	// Answer
	if other.Answer.Generator != "" {
		c.Answer.Generator = other.Answer.Generator
	}
	if other.Answer.Model != "" {
		c.Answer.Model = other.Answer.Model
	}
	if other.Answer.OllamaHost != "" {
		c.Answer.OllamaHost = other.Answer.OllamaHost
	}
	if other.Answer.OpenAIBaseURL != "" {
		c.Answer.OpenAIBaseURL = other.Answer.OpenAIBaseURL
	}
	if other.Answer.APIKeyEnv != "" {
		c.Answer.APIKeyEnv = other.Answer.APIKeyEnv
	}
	if other.Answer.MaxContextTokens != 0 {
		c.Answer.MaxContextTokens = other.Answer.MaxContextTokens
	}
	if other.Answer.Timeout != "" {
		c.Answer.Timeout = other.Answer.Timeout
	}

	// Server
	if other.Server.Transport != "" {
		c.Server.Transport = other.Server.Transport
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}

	// Eval
	if other.Eval.QrelsPath != "" {
		c.Eval.QrelsPath = other.Eval.QrelsPath
	}
	if len(other.Eval.Ks) > 0 {
		c.Eval.Ks = other.Eval.Ks
	}
}

// applyEnvOverrides applies QUARRY_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// Retrieval tunables (explicit zero values are supported here)
	if v := os.Getenv("QUARRY_CANDIDATE_POOL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Retrieval.CandidatePool = n
		}
	}
	if v := os.Getenv("QUARRY_RRF_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Retrieval.RRFK = k
		}
	}
	if v := os.Getenv("QUARRY_MMR_LAMBDA"); v != "" {
		if l, err := parseFloat64(v); err == nil && l >= 0 && l <= 1 {
			c.Retrieval.MMRLambda = l
		}
	}
	if v := os.Getenv("QUARRY_FINAL_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Retrieval.FinalK = k
		}
	}
	if v := os.Getenv("QUARRY_SPARSE_BACKEND"); v != "" {
		c.Retrieval.SparseBackend = v
	}
	if v := os.Getenv("QUARRY_DENSE_BACKEND"); v != "" {
		c.Retrieval.DenseBackend = v
	}

	if v := os.Getenv("QUARRY_CORPUS"); v != "" {
		c.Corpus.Path = v
	}

	if v := os.Getenv("QUARRY_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	// QUARRY_EMBEDDER is an alias for QUARRY_EMBEDDINGS_PROVIDER
	if v := os.Getenv("QUARRY_EMBEDDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("QUARRY_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("QUARRY_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}

	if v := os.Getenv("QUARRY_ANSWER_GENERATOR"); v != "" {
		c.Answer.Generator = v
	}
	if v := os.Getenv("QUARRY_ANSWER_MODEL"); v != "" {
		c.Answer.Model = v
	}

	if v := os.Getenv("QUARRY_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
}

// parseFloat64 parses a string to float64, used for config parsing.
func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Retrieval.CandidatePool < 1 {
		return qerrors.TunableError(fmt.Sprintf("retrieval.candidate_pool must be at least 1, got %d", c.Retrieval.CandidatePool))
	}
	if c.Retrieval.RRFK < 1 {
		return qerrors.TunableError(fmt.Sprintf("retrieval.rrf_k must be at least 1, got %d", c.Retrieval.RRFK))
	}
	if c.Retrieval.MMRLambda < 0 || c.Retrieval.MMRLambda > 1 {
		return qerrors.TunableError(fmt.Sprintf("retrieval.mmr_lambda must be between 0 and 1, got %f", c.Retrieval.MMRLambda))
	}
	if c.Retrieval.FinalK < 1 {
		return qerrors.TunableError(fmt.Sprintf("retrieval.final_k must be at least 1, got %d", c.Retrieval.FinalK))
	}
	if c.Retrieval.MaxFetchBatch < 1 {
		return qerrors.TunableError(fmt.Sprintf("retrieval.max_fetch_batch must be at least 1, got %d", c.Retrieval.MaxFetchBatch))
	}

	validSparse := map[string]bool{"bleve": true, "sqlite": true}
	if !validSparse[strings.ToLower(c.Retrieval.SparseBackend)] {
		return qerrors.ConfigError(
			fmt.Sprintf("retrieval.sparse_backend must be 'bleve' or 'sqlite', got %s", c.Retrieval.SparseBackend), nil)
	}
	validDense := map[string]bool{"hnsw": true, "chromem": true}
	if !validDense[strings.ToLower(c.Retrieval.DenseBackend)] {
		return qerrors.ConfigError(
			fmt.Sprintf("retrieval.dense_backend must be 'hnsw' or 'chromem', got %s", c.Retrieval.DenseBackend), nil)
	}

	if c.Corpus.Format != "" {
		validFormats := map[string]bool{"json": true, "markdown": true}
		if !validFormats[strings.ToLower(c.Corpus.Format)] {
			return qerrors.ConfigError(
				fmt.Sprintf("corpus.format must be 'json', 'markdown', or empty (auto-detect), got %s", c.Corpus.Format), nil)
		}
	}

	if c.Embeddings.Provider != "" { // empty string triggers auto-detection
		validProviders := map[string]bool{"ollama": true, "static": true, "auto": true}
		if !validProviders[strings.ToLower(c.Embeddings.Provider)] {
			return qerrors.ConfigError(
				fmt.Sprintf("embeddings.provider must be 'ollama', 'static', or 'auto', got %s", c.Embeddings.Provider), nil)
		}
	}
	if c.Embeddings.BatchSize < 1 {
		return qerrors.TunableError(fmt.Sprintf("embeddings.batch_size must be at least 1, got %d", c.Embeddings.BatchSize))
	}

	if c.Assembly.SectionCap < 1 {
		return qerrors.TunableError(fmt.Sprintf("assembly.section_cap must be at least 1, got %d", c.Assembly.SectionCap))
	}
	if c.Assembly.OverfetchFactor < 1 {
		return qerrors.TunableError(fmt.Sprintf("assembly.overfetch_factor must be at least 1, got %d", c.Assembly.OverfetchFactor))
	}

	validGenerators := map[string]bool{"stub": true, "ollama": true, "openai": true}
	if !validGenerators[strings.ToLower(c.Answer.Generator)] {
		return qerrors.ConfigError(
			fmt.Sprintf("answer.generator must be 'stub', 'ollama', or 'openai', got %s", c.Answer.Generator), nil)
	}

	if strings.ToLower(c.Server.Transport) != "stdio" {
		return qerrors.ConfigError(
			fmt.Sprintf("server.transport must be 'stdio', got %s", c.Server.Transport), nil)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return qerrors.ConfigError(
			fmt.Sprintf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel), nil)
	}

	for _, k := range c.Eval.Ks {
		if k < 1 {
			return qerrors.TunableError(fmt.Sprintf("eval.ks cutoffs must be at least 1, got %d", k))
		}
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// MergeNewDefaults adds new default fields while preserving existing values.
// Returns a list of field names that were added with their default values.
// `quarry init` on an existing workspace uses this to upgrade old configs.
func (c *Config) MergeNewDefaults() []string {
	defaults := NewConfig()
	var added []string

	if c.Retrieval.CandidatePool == 0 {
		c.Retrieval.CandidatePool = defaults.Retrieval.CandidatePool
		added = append(added, "retrieval.candidate_pool")
	}
	if c.Retrieval.RRFK == 0 {
		c.Retrieval.RRFK = defaults.Retrieval.RRFK
		added = append(added, "retrieval.rrf_k")
	}
	if c.Retrieval.MMRLambda == 0 {
		c.Retrieval.MMRLambda = defaults.Retrieval.MMRLambda
		added = append(added, "retrieval.mmr_lambda")
	}
	if c.Retrieval.FinalK == 0 {
		c.Retrieval.FinalK = defaults.Retrieval.FinalK
		added = append(added, "retrieval.final_k")
	}
	if c.Retrieval.MaxFetchBatch == 0 {
		c.Retrieval.MaxFetchBatch = defaults.Retrieval.MaxFetchBatch
		added = append(added, "retrieval.max_fetch_batch")
	}
	if c.Retrieval.SparseBackend == "" {
		c.Retrieval.SparseBackend = defaults.Retrieval.SparseBackend
		added = append(added, "retrieval.sparse_backend")
	}
	if c.Retrieval.DenseBackend == "" {
		c.Retrieval.DenseBackend = defaults.Retrieval.DenseBackend
		added = append(added, "retrieval.dense_backend")
	}

	if c.Embeddings.CacheSize == 0 {
		c.Embeddings.CacheSize = defaults.Embeddings.CacheSize
		added = append(added, "embeddings.cache_size")
	}

	if c.Assembly.SectionCap == 0 {
		c.Assembly.SectionCap = defaults.Assembly.SectionCap
		added = append(added, "assembly.section_cap")
	}
	if c.Assembly.OverfetchFactor == 0 {
		c.Assembly.OverfetchFactor = defaults.Assembly.OverfetchFactor
		added = append(added, "assembly.overfetch_factor")
	}

	if c.Answer.Generator == "" {
		c.Answer.Generator = defaults.Answer.Generator
		added = append(added, "answer.generator")
	}
	if c.Answer.MaxContextTokens == 0 {
		c.Answer.MaxContextTokens = defaults.Answer.MaxContextTokens
		added = append(added, "answer.max_context_tokens")
	}

	if c.Eval.QrelsPath == "" {
		c.Eval.QrelsPath = defaults.Eval.QrelsPath
		added = append(added, "eval.qrels_path")
	}
	if len(c.Eval.Ks) == 0 {
		c.Eval.Ks = defaults.Eval.Ks
		added = append(added, "eval.ks")
	}

	return added
}
