// Package integration exercises the full retrieval pipeline through real
// artifacts: corpus load, index build, artifact swap, and fused search,
// with the deterministic static embedder standing in for Ollama.
package integration

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/quarrylabs/quarry/internal/config"
	"github.com/quarrylabs/quarry/internal/embed"
	"github.com/quarrylabs/quarry/internal/index"
	"github.com/quarrylabs/quarry/internal/search"
	"github.com/quarrylabs/quarry/internal/store"
	"github.com/quarrylabs/quarry/internal/ui"
)

const pipelineCorpus = `[
	{"id": "bio-0001", "text": "The axolotl is a neotenic salamander that keeps its external gills for life.", "section_title": "Amphibians", "category": "BIOLOGY"},
	{"id": "bio-0002", "text": "Mitochondria produce adenosine triphosphate through cellular respiration.", "section_title": "Cell Biology", "category": "BIOLOGY"},
	{"id": "hist-0001", "text": "The printing press with movable type spread across Europe in the fifteenth century.", "section_title": "Early Modern Europe", "category": "HISTORY"},
	{"id": "phys-0001", "text": "Superconductors lose all electrical resistance below a critical temperature.", "section_title": "Condensed Matter", "category": "PHYSICS"}
]`

// buildWorkspace writes the corpus, builds the index, and returns the
// workspace root with its configuration.
func buildWorkspace(t *testing.T, corpusJSON string) (string, *config.Config) {
	t.Helper()
	root := t.TempDir()
	cfg := config.NewConfig()
	cfg.Corpus.Path = "passages.json"

	writeCorpus(t, root, corpusJSON)
	runBuild(t, root, cfg, false)
	return root, cfg
}

func writeCorpus(t *testing.T, root, corpusJSON string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(root, "passages.json"), []byte(corpusJSON), 0o644))
}

func runBuild(t *testing.T, root string, cfg *config.Config, force bool) *index.BuildResult {
	t.Helper()
	builder, err := index.NewBuilder(index.BuilderDependencies{
		Renderer: ui.NewPlainRenderer(ui.Config{Output: io.Discard}),
		Config:   cfg,
		Embedder: embed.NewStaticEmbedder(),
	})
	require.NoError(t, err)

	result, err := builder.Build(context.Background(), index.BuildConfig{Root: root, Force: force})
	require.NoError(t, err)
	return result
}

// openTestEngine opens the built artifacts the way the CLI does.
func openTestEngine(t *testing.T, ctx context.Context, root string, cfg *config.Config) *search.Engine {
	t.Helper()

	passages, err := store.NewSQLitePassageStore(cfg.PassageDBPath(root))
	require.NoError(t, err)

	embedder := embed.NewStaticEmbedder()

	sparse, err := store.OpenSparseIndex(cfg.Retrieval.SparseBackend, cfg.SparseIndexPath(root), store.DefaultSparseConfig())
	require.NoError(t, err)

	dense, err := store.OpenDenseIndex(cfg.Retrieval.DenseBackend, cfg.DenseIndexPath(root), store.DefaultDenseConfig(embedder.Dimensions()))
	require.NoError(t, err)

	engine, err := search.NewEngine(sparse, dense, passages, embedder)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

func TestPipeline_BuildThenSearch(t *testing.T) {
	ctx := context.Background()
	root, cfg := buildWorkspace(t, pipelineCorpus)
	engine := openTestEngine(t, ctx, root, cfg)

	result, err := engine.Retrieve(ctx, "axolotl external gills", search.Options{K: 3})
	require.NoError(t, err)
	require.NotEmpty(t, result.Items)

	// The passage with the unique sparse terms must rank first, fully
	// hydrated from the passage store.
	top := result.Items[0]
	assert.Equal(t, "bio-0001", top.Passage.ID)
	assert.Contains(t, top.Passage.Text, "axolotl")
	assert.Equal(t, "Amphibians", top.Passage.Metadata["section_title"])
	assert.Positive(t, top.Score)
	assert.Equal(t, 1, top.SparseRank)
	assert.False(t, result.Degraded)
}

func TestPipeline_RebuildReflectsCorpusChanges(t *testing.T) {
	ctx := context.Background()
	root, cfg := buildWorkspace(t, pipelineCorpus)

	const revised = `[
		{"id": "bio-0001", "text": "The axolotl is a neotenic salamander that keeps its external gills for life.", "section_title": "Amphibians", "category": "BIOLOGY"},
		{"id": "geo-0001", "text": "Basalt columns form when thick lava flows cool and contract into hexagonal prisms.", "section_title": "Volcanism", "category": "GEOLOGY"}
	]`
	writeCorpus(t, root, revised)
	result := runBuild(t, root, cfg, false)
	assert.False(t, result.Skipped, "changed corpus must trigger a rebuild")
	assert.Equal(t, 2, result.Passages)

	engine := openTestEngine(t, ctx, root, cfg)

	// New passage is searchable.
	found, err := engine.Retrieve(ctx, "basalt hexagonal prisms", search.Options{K: 1})
	require.NoError(t, err)
	require.Len(t, found.Items, 1)
	assert.Equal(t, "geo-0001", found.Items[0].Passage.ID)

	// Passages dropped from the corpus are gone from the index.
	gone, err := engine.Retrieve(ctx, "printing press movable type", search.Options{K: 4})
	require.NoError(t, err)
	for _, item := range gone.Items {
		assert.NotEqual(t, "hist-0001", item.Passage.ID)
	}
}

func TestPipeline_UnchangedCorpusSkipsRebuild(t *testing.T) {
	root, cfg := buildWorkspace(t, pipelineCorpus)

	result := runBuild(t, root, cfg, false)
	assert.True(t, result.Skipped)
	assert.Equal(t, 4, result.Passages)

	forced := runBuild(t, root, cfg, true)
	assert.False(t, forced.Skipped)
}

func TestPipeline_FilterRestrictsResults(t *testing.T) {
	ctx := context.Background()
	root, cfg := buildWorkspace(t, pipelineCorpus)
	engine := openTestEngine(t, ctx, root, cfg)

	result, err := engine.Retrieve(ctx, "temperature", search.Options{
		K:      4,
		Filter: store.Eq("category", "PHYSICS"),
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.Items)
	for _, item := range result.Items {
		assert.Equal(t, "PHYSICS", item.Passage.Metadata["category"])
	}
}

func TestPipeline_FilterMatchingNothingIsEmpty(t *testing.T) {
	ctx := context.Background()
	root, cfg := buildWorkspace(t, pipelineCorpus)
	engine := openTestEngine(t, ctx, root, cfg)

	result, err := engine.Retrieve(ctx, "temperature", search.Options{
		K:      4,
		Filter: store.Eq("category", "ASTROLOGY"),
	})
	require.NoError(t, err)
	assert.Empty(t, result.Items)
}

func TestPipeline_ConcurrentSearches(t *testing.T) {
	ctx := context.Background()
	root, cfg := buildWorkspace(t, pipelineCorpus)
	engine := openTestEngine(t, ctx, root, cfg)

	queries := []string{
		"axolotl gills",
		"adenosine triphosphate",
		"printing press",
		"critical temperature",
	}

	g, gctx := errgroup.WithContext(ctx)
	for worker := 0; worker < 8; worker++ {
		g.Go(func() error {
			for i, q := range queries {
				result, err := engine.Retrieve(gctx, q, search.Options{K: 2})
				if err != nil {
					return fmt.Errorf("query %d %q: %w", i, q, err)
				}
				if len(result.Items) == 0 {
					return fmt.Errorf("query %q returned nothing", q)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestPipeline_ConfigLayeringDrivesBuild(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	ctx := context.Background()
	root := t.TempDir()

	projectYAML := `version: 1
corpus:
  path: passages.json
  exclude:
    - drafts/
index:
  dir: artifacts
retrieval:
  final_k: 2
`
	require.NoError(t, os.WriteFile(filepath.Join(root, ".quarry.yaml"), []byte(projectYAML), 0o644))
	writeCorpus(t, root, pipelineCorpus)

	cfg, err := config.Load(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"drafts/"}, cfg.Corpus.Exclude)
	assert.Equal(t, 2, cfg.Retrieval.FinalK)

	runBuild(t, root, cfg, false)

	// Artifacts land in the configured directory, and the engine opens
	// from the same configuration.
	_, err = os.Stat(filepath.Join(root, "artifacts", "passages.db"))
	require.NoError(t, err)

	engine := openTestEngine(t, ctx, root, cfg)
	result, err := engine.Retrieve(ctx, "mitochondria respiration", search.Options{K: cfg.Retrieval.FinalK})
	require.NoError(t, err)
	require.NotEmpty(t, result.Items)
	assert.Equal(t, "bio-0002", result.Items[0].Passage.ID)
}
