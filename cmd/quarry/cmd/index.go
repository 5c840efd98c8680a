package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/internal/config"
	"github.com/quarrylabs/quarry/internal/embed"
	"github.com/quarrylabs/quarry/internal/index"
	"github.com/quarrylabs/quarry/internal/output"
	"github.com/quarrylabs/quarry/internal/ui"
	"github.com/quarrylabs/quarry/internal/watcher"
)

type indexOptions struct {
	corpus string
	format string
	noTUI  bool
	force  bool
	watch  bool
}

func newIndexCmd() *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index [corpus]",
		Short: "Build the sparse and dense indices from the corpus",
		Long: `Load the corpus, split it into passages, generate embeddings, and build
the BM25 and vector indices plus the passage store.

The corpus comes from corpus.path in .quarry.yaml unless a path is given
as an argument. Rebuilds are skipped when the corpus content is unchanged;
use --force to rebuild anyway.

Use --watch to stay running and rebuild automatically when corpus files
change.`,
		Example: `  # Index the configured corpus
  quarry index

  # Index a specific passage file
  quarry index ./corpus/passages.json

  # Index a markdown directory, rebuilding on changes
  quarry index ./docs --from markdown --watch`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Signal handling so Ctrl+C cancels embedding batches cleanly.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if len(args) > 0 {
				opts.corpus = args[0]
			}
			return runIndex(ctx, cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.noTUI, "no-tui", false, "Disable TUI mode, use plain text output")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Rebuild even when the corpus is unchanged")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Stay running and rebuild when the corpus changes")
	cmd.Flags().StringVar(&opts.format, "from", "", "Corpus format: json or markdown (default: detect from path)")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, opts indexOptions) error {
	root, cfg, err := loadWorkspace()
	if err != nil {
		return err
	}

	cleanup := setupCommandLogging(cfg)
	defer cleanup()

	if opts.corpus != "" {
		abs, err := filepath.Abs(opts.corpus)
		if err != nil {
			return fmt.Errorf("failed to resolve corpus path: %w", err)
		}
		cfg.Corpus.Path = abs
	}
	if opts.format != "" {
		cfg.Corpus.Format = opts.format
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	embedder, err := newEmbedder(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = embedder.Close() }()

	result, err := buildOnce(ctx, cmd, root, cfg, embedder, opts.noTUI, opts.force)
	if err != nil {
		return err
	}
	if result.Skipped {
		out := output.New(cmd.OutOrStdout())
		out.Statusf("", "Index up to date (%d passages). Use --force to rebuild.", result.Passages)
	}

	if !opts.watch {
		return nil
	}
	return watchAndRebuild(ctx, cmd, root, cfg, embedder)
}

// buildOnce runs a single build with its own renderer lifecycle.
func buildOnce(ctx context.Context, cmd *cobra.Command, root string, cfg *config.Config, embedder embed.Embedder, noTUI, force bool) (*index.BuildResult, error) {
	uiCfg := ui.NewConfig(cmd.OutOrStdout(), ui.WithForcePlain(noTUI), ui.WithWorkspaceDir(root))
	renderer := ui.NewRenderer(uiCfg)
	if err := renderer.Start(ctx); err != nil {
		slog.Warn("failed to start progress renderer", slog.String("error", err.Error()))
	}
	defer func() { _ = renderer.Stop() }()

	builder, err := index.NewBuilder(index.BuilderDependencies{
		Renderer: renderer,
		Config:   cfg,
		Embedder: embedder,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create index builder: %w", err)
	}

	return builder.Build(ctx, index.BuildConfig{Root: root, Force: force})
}

func watchAndRebuild(ctx context.Context, cmd *cobra.Command, root string, cfg *config.Config, embedder embed.Embedder) error {
	out := output.New(cmd.OutOrStdout())

	watchOpts := watcher.DefaultOptions()
	if d, err := time.ParseDuration(cfg.Index.WatchDebounce); err == nil && d > 0 {
		watchOpts.DebounceWindow = d
	}

	w, err := watcher.NewCorpusWatcher(watchOpts)
	if err != nil {
		return fmt.Errorf("failed to create corpus watcher: %w", err)
	}

	corpusPath := cfg.CorpusPath(root)
	if err := w.Start(ctx, corpusPath); err != nil {
		return fmt.Errorf("failed to watch %s: %w", corpusPath, err)
	}
	defer func() { _ = w.Stop() }()

	out.Newline()
	out.Statusf("👀", "Watching %s for changes (Ctrl+C to stop)", corpusPath)
	slog.Info("watch_started",
		slog.String("path", corpusPath),
		slog.String("watcher", w.WatcherType()),
		slog.Duration("debounce", watchOpts.DebounceWindow))

	for {
		select {
		case <-ctx.Done():
			out.Newline()
			out.Status("", "Watch stopped.")
			return nil

		case err, ok := <-w.Errors():
			if !ok {
				return nil
			}
			slog.Warn("watcher_error", slog.String("error", err.Error()))

		case batch, ok := <-w.Events():
			if !ok {
				return nil
			}
			out.Statusf("📝", "%d change(s) detected, rebuilding...", len(batch))

			// Plain rendering inside the loop; a full TUI relaunch per
			// save would flash.
			result, err := buildOnce(ctx, cmd, root, cfg, embedder, true, false)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				out.Errorf("Rebuild failed: %v", err)
				slog.Error("watch_rebuild_failed", slog.String("error", err.Error()))
				continue
			}
			if result.Skipped {
				out.Status("", "Corpus unchanged, nothing to do.")
			}
		}
	}
}
