package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/internal/config"
	"github.com/quarrylabs/quarry/internal/embed"
	qerrors "github.com/quarrylabs/quarry/internal/errors"
	"github.com/quarrylabs/quarry/internal/store"
	"github.com/quarrylabs/quarry/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index health and status",
		Long: `Display information about the current index including:
  - Number of indexed documents and passages
  - Last build time
  - Storage sizes (passages, sparse, dense)
  - Embedder status (provider, model, availability)
  - Per-section passage counts`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	root, cfg, err := loadWorkspace()
	if err != nil {
		return err
	}

	cleanup := setupCommandLogging(cfg)
	defer cleanup()

	passagePath := cfg.PassageDBPath(root)
	if _, err := os.Stat(passagePath); os.IsNotExist(err) {
		return qerrors.IndexMissingError(
			fmt.Sprintf("no index found in %s", cfg.IndexDir(root)), nil).
			WithSuggestion("run 'quarry index' to build one")
	}

	info, err := collectStatus(ctx, root, cfg)
	if err != nil {
		return fmt.Errorf("failed to collect status: %w", err)
	}

	renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), ui.DetectNoColor())
	if jsonOutput {
		return renderer.RenderJSON(info)
	}
	return renderer.Render(info)
}

func collectStatus(ctx context.Context, root string, cfg *config.Config) (ui.StatusInfo, error) {
	info := ui.StatusInfo{
		ProjectName: filepath.Base(root),
		CorpusPath:  cfg.CorpusPath(root),
	}

	passages, err := store.NewSQLitePassageStore(cfg.PassageDBPath(root))
	if err != nil {
		return info, fmt.Errorf("failed to open passage store: %w", err)
	}
	defer func() { _ = passages.Close() }()

	if count, err := passages.Count(ctx); err == nil {
		info.TotalPassages = count
	}
	if v, err := passages.GetState(ctx, store.StateKeyDocumentCount); err == nil && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			info.TotalDocuments = n
		}
	}
	if v, err := passages.GetState(ctx, store.StateKeyBuiltAt); err == nil && v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			info.LastIndexed = t
		}
	}

	if sections, err := passages.Sections(ctx); err == nil {
		for _, s := range sections {
			info.Sections = append(info.Sections, ui.SectionCount{
				Title:    s.SectionTitle,
				Passages: s.Count,
			})
		}
	}

	info.PassageDBSize = artifactSize(cfg.PassageDBPath(root))
	info.SparseSize = artifactSize(cfg.SparseIndexPath(root))
	info.DenseSize = artifactSize(cfg.DenseIndexPath(root))
	info.TotalSize = info.PassageDBSize + info.SparseSize + info.DenseSize

	collectEmbedderStatus(ctx, cfg, passages, &info)

	// No background watcher process; only `quarry index --watch` watches.
	info.WatcherStatus = "n/a"

	return info, nil
}

// collectEmbedderStatus probes the configured embedder and compares it
// against what the index was built with. A configured Ollama that resolves
// to the static fallback reports as offline.
func collectEmbedderStatus(ctx context.Context, cfg *config.Config, passages store.PassageStore, info *ui.StatusInfo) {
	if v, err := passages.GetState(ctx, store.StateKeyEmbedderModel); err == nil && v != "" {
		info.EmbedderModel = v
	}
	if v, err := passages.GetState(ctx, store.StateKeyEmbedderDimensions); err == nil && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			info.EmbedderDimensions = n
		}
	}

	embedder, err := newEmbedder(ctx, cfg)
	if err != nil {
		info.EmbedderProvider = cfg.Embeddings.Provider
		info.EmbedderStatus = "error"
		return
	}
	defer func() { _ = embedder.Close() }()

	einfo := embed.GetInfo(embedder)
	info.EmbedderProvider = string(einfo.Provider)
	info.EmbedderModel = einfo.Model
	info.EmbedderDimensions = einfo.Dimensions
	info.EmbedderStatus = "ready"

	builtWith, _ := passages.GetState(ctx, store.StateKeyEmbedderProvider)
	if builtWith == string(embed.ProviderOllama) && einfo.Provider != embed.ProviderOllama {
		info.EmbedderStatus = "offline"
	}
}

// artifactSize returns the byte size of an index artifact, walking
// directory-backed artifacts like a bleve or chromem index.
func artifactSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	if !fi.IsDir() {
		return fi.Size()
	}

	var size int64
	_ = filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size
}
