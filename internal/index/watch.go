package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quarrylabs/quarry/internal/watcher"
)

// CoordinatorConfig contains configuration for the Coordinator.
type CoordinatorConfig struct {
	// Root is the workspace root directory.
	Root string

	// Debounce is the quiet period before a batch of corpus changes
	// triggers a rebuild. Zero uses the watcher default.
	Debounce time.Duration
}

// Coordinator rebuilds the index when the corpus changes on disk. Every
// change batch triggers a full build; the corpus-hash check inside the
// builder turns spurious batches into cheap no-ops, and a failed rebuild
// leaves the previous index serving.
type Coordinator struct {
	builder *Builder
	config  CoordinatorConfig

	mu       sync.Mutex
	rebuilds atomic.Int64
}

// NewCoordinator creates a coordinator driving the given builder.
func NewCoordinator(builder *Builder, config CoordinatorConfig) *Coordinator {
	return &Coordinator{
		builder: builder,
		config:  config,
	}
}

// Run builds once, then watches the corpus source and rebuilds on change.
// It blocks until the context is cancelled. The initial build must succeed;
// later rebuild failures are logged and watching continues.
func (c *Coordinator) Run(ctx context.Context) error {
	if _, err := c.builder.Build(ctx, BuildConfig{Root: c.config.Root}); err != nil {
		return fmt.Errorf("initial build: %w", err)
	}

	corpusPath := c.builder.config.CorpusPath(c.config.Root)

	w, err := watcher.NewCorpusWatcher(watcher.Options{DebounceWindow: c.config.Debounce})
	if err != nil {
		return fmt.Errorf("create corpus watcher: %w", err)
	}
	defer w.Stop()

	startErr := make(chan error, 1)
	go func() {
		startErr <- w.Start(ctx, corpusPath)
	}()

	slog.Info("watch_started",
		slog.String("path", corpusPath),
		slog.String("watcher", w.WatcherType()))

	for {
		select {
		case <-ctx.Done():
			return nil
		case batch, ok := <-w.Events():
			if !ok {
				return nil
			}
			c.HandleBatch(ctx, batch)
		case werr, ok := <-w.Errors():
			if ok && werr != nil {
				slog.Warn("watcher error", slog.String("error", werr.Error()))
			}
		case serr := <-startErr:
			if serr != nil && !errors.Is(serr, context.Canceled) {
				return fmt.Errorf("watch corpus: %w", serr)
			}
			return nil
		}
	}
}

// HandleBatch runs one rebuild for a batch of file events.
func (c *Coordinator) HandleBatch(ctx context.Context, events []watcher.FileEvent) {
	if len(events) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	slog.Info("corpus_changed",
		slog.Int("events", len(events)),
		slog.String("first_path", events[0].Path),
		slog.String("first_op", events[0].Operation.String()))

	result, err := c.builder.Build(ctx, BuildConfig{Root: c.config.Root})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		// Keep watching; the previous index stays live (graceful degradation)
		slog.Warn("rebuild failed, previous index still serving",
			slog.String("error", err.Error()))
		return
	}

	c.rebuilds.Add(1)
	slog.Info("rebuild_complete",
		slog.Int("passages", result.Passages),
		slog.Bool("skipped", result.Skipped),
		slog.Int64("duration_ms", result.Duration.Milliseconds()))
}

// Rebuilds returns the number of successful rebuilds HandleBatch has run.
func (c *Coordinator) Rebuilds() int64 {
	return c.rebuilds.Load()
}
