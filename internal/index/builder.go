// Package index builds the retrieval artifacts: it loads and normalizes the
// corpus, embeds passages in batches, populates the passage store and the
// sparse and dense indexes in a staging directory, verifies the three stores
// agree, and atomically promotes the staged build over the live one.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quarrylabs/quarry/internal/config"
	"github.com/quarrylabs/quarry/internal/embed"
	"github.com/quarrylabs/quarry/internal/store"
	"github.com/quarrylabs/quarry/internal/ui"
)

// BuildConfig configures one index build.
type BuildConfig struct {
	// Root is the workspace root directory.
	Root string

	// Force rebuilds even when the corpus hash matches the last build.
	Force bool
}

// BuildResult contains the outcome of an index build.
type BuildResult struct {
	// Documents is the number of source units the corpus split into.
	Documents int

	// Passages is the number of passages indexed.
	Passages int

	// Duration is the total build time.
	Duration time.Duration

	// Errors is the count of fatal errors.
	Errors int

	// Warnings is the count of non-fatal warnings.
	Warnings int

	// Skipped reports that the corpus was unchanged and no build ran.
	Skipped bool
}

// BuilderDependencies contains the injected dependencies for Builder.
type BuilderDependencies struct {
	// Renderer for progress display (required).
	Renderer ui.Renderer

	// Config is the loaded workspace configuration (required).
	Config *config.Config

	// Embedder for generating passage embeddings (required).
	Embedder embed.Embedder
}

// Builder executes index builds with progress reporting. Builds stage into
// a scratch directory under the index dir and promote by rename, so a crash
// mid-build never corrupts the live index.
type Builder struct {
	renderer ui.Renderer
	config   *config.Config
	embedder embed.Embedder
}

// NewBuilder creates a Builder with injected dependencies.
func NewBuilder(deps BuilderDependencies) (*Builder, error) {
	if deps.Renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if deps.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}

	return &Builder{
		renderer: deps.Renderer,
		config:   deps.Config,
		embedder: deps.Embedder,
	}, nil
}

// stageTiming tracks duration for each build stage.
type stageTiming struct {
	load   time.Duration
	embed  time.Duration
	index  time.Duration
	verify time.Duration
	swap   time.Duration
}

// artifactPaths are the on-disk locations of the three stores.
type artifactPaths struct {
	passages string
	sparse   string
	dense    string
}

// liveArtifacts resolves the live store locations for the configured
// backends.
func (b *Builder) liveArtifacts(root string) artifactPaths {
	return artifactPaths{
		passages: b.config.PassageDBPath(root),
		sparse:   b.config.SparseIndexPath(root),
		dense:    b.config.DenseIndexPath(root),
	}
}

// stagedArtifacts mirrors the live layout inside the staging directory so
// promotion is a per-artifact rename.
func stagedArtifacts(stagingDir string, live artifactPaths) artifactPaths {
	return artifactPaths{
		passages: filepath.Join(stagingDir, filepath.Base(live.passages)),
		sparse:   filepath.Join(stagingDir, filepath.Base(live.sparse)),
		dense:    filepath.Join(stagingDir, filepath.Base(live.dense)),
	}
}

// Build executes the full build pipeline.
func (b *Builder) Build(ctx context.Context, cfg BuildConfig) (*BuildResult, error) {
	startTime := time.Now()
	var errorCount, warnCount int
	var timing stageTiming

	root := cfg.Root
	corpusPath := b.config.CorpusPath(root)
	if corpusPath == "" {
		return nil, fmt.Errorf("no corpus configured (set corpus.path in .quarry.yaml or run 'quarry init')")
	}

	if err := os.MkdirAll(b.config.IndexDir(root), 0o755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}

	// One build at a time per index directory
	lock := NewBuildLock(b.config.BuildLockPath(root))
	acquired, err := lock.TryLock()
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, fmt.Errorf("another build holds the lock at %s", lock.Path())
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			slog.Warn("failed to release build lock", slog.String("error", err.Error()))
		}
	}()

	corpusHash, err := HashCorpusSource(corpusPath, b.config.Corpus.Exclude)
	if err != nil {
		return nil, err
	}

	if !cfg.Force {
		if ok, docs, passages := b.upToDate(ctx, root, corpusHash); ok {
			slog.Info("index_up_to_date",
				slog.String("corpus_hash", corpusHash),
				slog.Int("passages", passages))
			return &BuildResult{
				Documents: docs,
				Passages:  passages,
				Duration:  time.Since(startTime),
				Skipped:   true,
			}, nil
		}
	}

	// Stage 1: Load corpus
	loadStart := time.Now()
	corpus, err := b.loadCorpus(ctx, corpusPath)
	if err != nil {
		return nil, err
	}
	timing.load = time.Since(loadStart)
	warnCount += len(corpus.Warnings)

	if len(corpus.Passages) == 0 {
		return nil, fmt.Errorf("corpus %s produced no passages", corpusPath)
	}

	// Stage 2: Generate embeddings
	embedStart := time.Now()
	embeddings, err := b.generateEmbeddings(ctx, corpus.Passages)
	if err != nil {
		return nil, err
	}
	timing.embed = time.Since(embedStart)

	// Stage 3: Populate the staged stores
	indexStart := time.Now()
	staging := b.config.BuildTmpDir(root)
	live := b.liveArtifacts(root)
	staged := stagedArtifacts(staging, live)

	// A crashed build may have left a stale staging directory behind
	if err := os.RemoveAll(staging); err != nil {
		return nil, fmt.Errorf("clear staging directory: %w", err)
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(staging); err != nil {
			slog.Warn("failed to remove staging directory", slog.String("error", err.Error()))
		}
	}()

	stores, err := b.openStagedStores(staged)
	if err != nil {
		return nil, err
	}

	if err := b.populateStores(ctx, stores, corpus, embeddings, corpusHash); err != nil {
		stores.Close()
		return nil, err
	}
	timing.index = time.Since(indexStart)

	// Stage 4: Verify the staged stores agree
	verifyStart := time.Now()
	if err := b.verifyStores(ctx, stores, corpus); err != nil {
		stores.Close()
		return nil, err
	}
	timing.verify = time.Since(verifyStart)

	// Flush everything to disk before the swap
	if err := stores.Close(); err != nil {
		return nil, err
	}

	// Stage 5: Atomic swap
	swapStart := time.Now()
	if err := b.swapArtifacts(staged, live); err != nil {
		return nil, err
	}
	timing.swap = time.Since(swapStart)

	duration := time.Since(startTime)
	info := embed.GetInfo(b.embedder)

	b.renderer.Complete(ui.CompletionStats{
		Documents: corpus.Documents,
		Passages:  len(corpus.Passages),
		Duration:  duration,
		Errors:    errorCount,
		Warnings:  warnCount,
		Stages: ui.StageTimings{
			Load:   timing.load,
			Embed:  timing.embed,
			Index:  timing.index,
			Verify: timing.verify,
			Swap:   timing.swap,
		},
		Embedder: ui.EmbedderInfo{
			Provider:   string(info.Provider),
			Model:      info.Model,
			Dimensions: info.Dimensions,
		},
	})

	passagesPerSec := 0.0
	if timing.embed.Seconds() > 0 {
		passagesPerSec = float64(len(corpus.Passages)) / timing.embed.Seconds()
	}

	slog.Info("index_complete",
		slog.Int("documents", corpus.Documents),
		slog.Int("passages", len(corpus.Passages)),
		slog.String("duration_total", duration.String()),
		slog.Int64("duration_total_ms", duration.Milliseconds()),
		slog.Int64("duration_load_ms", timing.load.Milliseconds()),
		slog.Int64("duration_embed_ms", timing.embed.Milliseconds()),
		slog.Int64("duration_index_ms", timing.index.Milliseconds()),
		slog.Int64("duration_verify_ms", timing.verify.Milliseconds()),
		slog.Int64("duration_swap_ms", timing.swap.Milliseconds()),
		slog.String("embedder_provider", string(info.Provider)),
		slog.String("embedder_model", info.Model),
		slog.Int("embedder_dimensions", info.Dimensions),
		slog.Float64("passages_per_sec", passagesPerSec),
		slog.String("corpus_hash", corpusHash))

	return &BuildResult{
		Documents: corpus.Documents,
		Passages:  len(corpus.Passages),
		Duration:  duration,
		Errors:    errorCount,
		Warnings:  warnCount,
	}, nil
}

// upToDate reports whether the live index was built from the same corpus
// content, returning the stored document and passage counts for the skip
// result.
func (b *Builder) upToDate(ctx context.Context, root, corpusHash string) (bool, int, int) {
	live := b.liveArtifacts(root)
	if _, err := os.Stat(live.passages); err != nil {
		return false, 0, 0
	}

	passages, err := store.NewSQLitePassageStore(live.passages)
	if err != nil {
		return false, 0, 0
	}
	defer passages.Close()

	stored, err := passages.GetState(ctx, store.StateKeyCorpusHash)
	if err != nil || stored == "" || stored != corpusHash {
		return false, 0, 0
	}

	count, err := passages.Count(ctx)
	if err != nil {
		return false, 0, 0
	}

	docs := 0
	if v, err := passages.GetState(ctx, store.StateKeyDocumentCount); err == nil && v != "" {
		if n, convErr := strconv.Atoi(v); convErr == nil {
			docs = n
		}
	}

	return true, docs, count
}

// loadCorpus loads and normalizes the corpus with progress reporting.
func (b *Builder) loadCorpus(ctx context.Context, path string) (*Corpus, error) {
	b.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageLoading,
		Message: fmt.Sprintf("Reading %s...", path),
	})
	slog.Info("index_load_started", slog.String("path", path))

	corpus, err := LoadCorpus(ctx, path, b.config.Corpus, func(current, total int, file string) {
		b.renderer.UpdateProgress(ui.ProgressEvent{
			Stage:       ui.StageLoading,
			Current:     current,
			Total:       total,
			CurrentFile: file,
		})
	})
	if err != nil {
		return nil, err
	}

	for _, warn := range corpus.Warnings {
		b.renderer.AddError(ui.ErrorEvent{
			File:   warn.Source,
			Err:    warn.Err,
			IsWarn: true,
		})
	}

	slog.Info("index_load_complete",
		slog.Int("documents", corpus.Documents),
		slog.Int("passages", len(corpus.Passages)),
		slog.String("format", corpus.Format))
	return corpus, nil
}

// generateEmbeddings embeds every passage, fanning batches out across
// config.Index.Workers goroutines. The returned slice aligns with passages.
func (b *Builder) generateEmbeddings(ctx context.Context, passages []*store.Passage) ([][]float32, error) {
	batchSize := b.config.Embeddings.BatchSize
	if batchSize <= 0 {
		batchSize = embed.DefaultBatchSize
	}
	if batchSize > embed.MaxBatchSize {
		batchSize = embed.MaxBatchSize
	}

	workers := b.config.Index.Workers
	if workers < 1 {
		workers = 1
	}

	total := len(passages)
	b.renderer.UpdateProgress(ui.ProgressEvent{
		Stage: ui.StageEmbedding,
		Total: total,
	})

	embeddings := make([][]float32, total)
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for batchStart := 0; batchStart < total; batchStart += batchSize {
		start := batchStart
		end := min(start+batchSize, total)

		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			texts := make([]string, end-start)
			for i, p := range passages[start:end] {
				texts[i] = p.Text
			}

			vecs, err := b.embedder.EmbedBatch(gctx, texts)
			if err != nil {
				return fmt.Errorf("embed passages %d-%d: %w", start, end, err)
			}
			if len(vecs) != end-start {
				return fmt.Errorf("embedder returned %d vectors for %d passages", len(vecs), end-start)
			}
			copy(embeddings[start:end], vecs)

			current := done.Add(int64(end - start))
			b.renderer.UpdateProgress(ui.ProgressEvent{
				Stage:   ui.StageEmbedding,
				Current: int(current),
				Total:   total,
			})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			slog.Info("index_interrupted",
				slog.Int64("embedded", done.Load()),
				slog.Int("total", total))
			return nil, fmt.Errorf("indexing interrupted at %d/%d passages: %w", done.Load(), total, err)
		}
		return nil, err
	}

	return embeddings, nil
}

// stagedStores holds the three stores while a build populates them.
type stagedStores struct {
	passages store.PassageStore
	sparse   store.SparseIndex
	dense    store.DenseIndex
}

// Close flushes and closes all stores. Every store is attempted; the first
// error wins.
func (s *stagedStores) Close() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	record(wrapErr("save sparse index", s.sparse.Save()))
	record(wrapErr("close sparse index", s.sparse.Close()))
	record(wrapErr("save dense index", s.dense.Save()))
	record(wrapErr("close dense index", s.dense.Close()))
	record(wrapErr("close passage store", s.passages.Close()))
	return firstErr
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// openStagedStores creates the three stores inside the staging directory.
func (b *Builder) openStagedStores(paths artifactPaths) (*stagedStores, error) {
	passages, err := store.NewSQLitePassageStore(paths.passages)
	if err != nil {
		return nil, fmt.Errorf("create staged passage store: %w", err)
	}

	sparse, err := store.NewSparseIndex(b.config.Retrieval.SparseBackend, paths.sparse, store.DefaultSparseConfig())
	if err != nil {
		passages.Close()
		return nil, fmt.Errorf("create staged sparse index: %w", err)
	}

	dense, err := store.NewDenseIndex(b.config.Retrieval.DenseBackend, paths.dense, store.DefaultDenseConfig(b.embedder.Dimensions()))
	if err != nil {
		sparse.Close()
		passages.Close()
		return nil, fmt.Errorf("create staged dense index: %w", err)
	}

	return &stagedStores{passages: passages, sparse: sparse, dense: dense}, nil
}

// populateStores fills the staged stores and records the build state.
func (b *Builder) populateStores(ctx context.Context, stores *stagedStores, corpus *Corpus, embeddings [][]float32, corpusHash string) error {
	total := len(corpus.Passages)
	b.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageIndexing,
		Total:   total,
		Message: "Building search indices...",
	})

	if err := stores.passages.SavePassages(ctx, corpus.Passages); err != nil {
		return fmt.Errorf("save passages: %w", err)
	}

	if err := stores.sparse.Index(ctx, corpus.Passages); err != nil {
		return fmt.Errorf("build sparse index: %w", err)
	}

	if err := stores.dense.Add(ctx, corpus.Passages, embeddings); err != nil {
		return fmt.Errorf("build dense index: %w", err)
	}

	b.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageIndexing,
		Current: total,
		Total:   total,
	})

	return b.storeBuildState(ctx, stores.passages, corpus, corpusHash)
}

// storeBuildState stamps the staged passage store with the embedder
// identity, corpus hash and build time. Search-time mismatch detection
// reads these keys.
func (b *Builder) storeBuildState(ctx context.Context, passages store.PassageStore, corpus *Corpus, corpusHash string) error {
	info := embed.GetInfo(b.embedder)
	entries := map[string]string{
		store.StateKeyEmbedderModel:      info.Model,
		store.StateKeyEmbedderProvider:   string(info.Provider),
		store.StateKeyEmbedderDimensions: strconv.Itoa(info.Dimensions),
		store.StateKeyCorpusHash:         corpusHash,
		store.StateKeyBuiltAt:            time.Now().UTC().Format(time.RFC3339),
		store.StateKeyDocumentCount:      strconv.Itoa(corpus.Documents),
	}
	for key, value := range entries {
		if err := passages.SetState(ctx, key, value); err != nil {
			return fmt.Errorf("store build state %s: %w", key, err)
		}
	}
	return nil
}

// verifyStores checks the staged stores agree before promotion and probes
// the sparse index with terms from the first passage.
func (b *Builder) verifyStores(ctx context.Context, stores *stagedStores, corpus *Corpus) error {
	b.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageVerifying,
		Message: "Checking store consistency...",
	})

	checker := NewConsistencyChecker(stores.passages, stores.sparse, stores.dense)
	result, err := checker.Check(ctx)
	if err != nil {
		return fmt.Errorf("consistency check: %w", err)
	}
	if n := len(result.Inconsistencies); n > 0 {
		first := result.Inconsistencies[0]
		return fmt.Errorf("staged build failed consistency check: %d issues (first: %s %s)",
			n, first.Type, first.PassageID)
	}

	// Smoke-test the sparse index with real corpus terms
	if probe := probeQuery(corpus.Passages[0].Text); probe != "" {
		hits, err := stores.sparse.Search(ctx, probe, 1)
		if err != nil {
			return fmt.Errorf("probe query: %w", err)
		}
		if len(hits) == 0 {
			slog.Warn("probe query returned no results", slog.String("query", probe))
		}
	}

	slog.Info("index_verified",
		slog.Int("passages", result.Checked),
		slog.Int64("duration_ms", result.Duration.Milliseconds()))
	return nil
}

// probeQuery takes the first few words of text for an index smoke test.
func probeQuery(text string) string {
	fields := strings.Fields(text)
	if len(fields) > 4 {
		fields = fields[:4]
	}
	return strings.Join(fields, " ")
}

// swapArtifacts promotes the staged artifacts over the live ones.
func (b *Builder) swapArtifacts(staged, live artifactPaths) error {
	b.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageSwapping,
		Message: "Promoting staged build...",
	})

	pairs := []struct{ staged, live string }{
		{staged.passages, live.passages},
		{staged.sparse, live.sparse},
		{staged.dense, live.dense},
	}
	for _, p := range pairs {
		if err := swapArtifact(p.staged, p.live); err != nil {
			return err
		}
	}
	return nil
}

// swapArtifact replaces live with staged by rename. The previous artifact
// moves to live+".old" first and is restored if the promotion rename fails.
func swapArtifact(staged, live string) error {
	if _, err := os.Stat(staged); err != nil {
		return fmt.Errorf("staged artifact %s: %w", staged, err)
	}

	old := live + ".old"
	if err := os.RemoveAll(old); err != nil {
		return fmt.Errorf("clear %s: %w", old, err)
	}

	hadLive := false
	if _, err := os.Stat(live); err == nil {
		hadLive = true
		if err := os.Rename(live, old); err != nil {
			return fmt.Errorf("move %s aside: %w", live, err)
		}
	}

	// Stale SQLite WAL sidecars from a crashed process would shadow the
	// promoted database.
	_ = os.Remove(live + "-wal")
	_ = os.Remove(live + "-shm")

	if err := os.Rename(staged, live); err != nil {
		if hadLive {
			if restoreErr := os.Rename(old, live); restoreErr != nil {
				slog.Error("failed to restore previous index",
					slog.String("path", live),
					slog.String("error", restoreErr.Error()))
			}
		}
		return fmt.Errorf("promote %s: %w", staged, err)
	}

	if hadLive {
		if err := os.RemoveAll(old); err != nil {
			slog.Warn("failed to remove previous index",
				slog.String("path", old),
				slog.String("error", err.Error()))
		}
	}
	return nil
}
