package index

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/quarrylabs/quarry/internal/config"
	"github.com/quarrylabs/quarry/internal/store"
	"github.com/quarrylabs/quarry/internal/watcher"
)

func modifyEvent(path string) watcher.FileEvent {
	return watcher.FileEvent{
		Path:      path,
		Operation: watcher.OpModify,
		Timestamp: time.Now(),
	}
}

func TestCoordinator_HandleBatch(t *testing.T) {
	root := t.TempDir()
	writeCorpusFile(t, root, "corpus.json", testCorpusJSON)

	cfg := config.NewConfig()
	cfg.Corpus.Path = "corpus.json"
	builder, _ := newTestBuilder(t, cfg)
	coord := NewCoordinator(builder, CoordinatorConfig{Root: root})

	coord.HandleBatch(context.Background(), []watcher.FileEvent{modifyEvent("corpus.json")})
	if got := coord.Rebuilds(); got != 1 {
		t.Fatalf("Expected 1 rebuild, got %d", got)
	}

	passages, err := store.NewSQLitePassageStore(cfg.PassageDBPath(root))
	if err != nil {
		t.Fatalf("open passage store: %v", err)
	}
	count, err := passages.Count(context.Background())
	passages.Close()
	if err != nil {
		t.Fatalf("Count() error: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected 3 passages after rebuild, got %d", count)
	}

	// Spurious events on an unchanged corpus still count as a handled batch
	coord.HandleBatch(context.Background(), []watcher.FileEvent{modifyEvent("corpus.json")})
	if got := coord.Rebuilds(); got != 2 {
		t.Errorf("Expected 2 rebuilds, got %d", got)
	}
}

func TestCoordinator_HandleBatch_EmptyBatch(t *testing.T) {
	root := t.TempDir()
	writeCorpusFile(t, root, "corpus.json", testCorpusJSON)

	cfg := config.NewConfig()
	cfg.Corpus.Path = "corpus.json"
	builder, _ := newTestBuilder(t, cfg)
	coord := NewCoordinator(builder, CoordinatorConfig{Root: root})

	coord.HandleBatch(context.Background(), nil)
	if got := coord.Rebuilds(); got != 0 {
		t.Errorf("Expected no rebuild for empty batch, got %d", got)
	}
}

func TestCoordinator_HandleBatch_RebuildFailureTolerated(t *testing.T) {
	root := t.TempDir()
	writeCorpusFile(t, root, "corpus.json", testCorpusJSON)

	cfg := config.NewConfig()
	cfg.Corpus.Path = "corpus.json"
	builder, _ := newTestBuilder(t, cfg)
	coord := NewCoordinator(builder, CoordinatorConfig{Root: root})

	coord.HandleBatch(context.Background(), []watcher.FileEvent{modifyEvent("corpus.json")})
	if got := coord.Rebuilds(); got != 1 {
		t.Fatalf("Expected 1 rebuild, got %d", got)
	}

	// A broken corpus must not panic or count as a rebuild
	writeCorpusFile(t, root, "corpus.json", `{not json`)
	coord.HandleBatch(context.Background(), []watcher.FileEvent{modifyEvent("corpus.json")})
	if got := coord.Rebuilds(); got != 1 {
		t.Errorf("Expected failed rebuild to be skipped, got %d", got)
	}

	// The previous index keeps serving
	passages, err := store.NewSQLitePassageStore(cfg.PassageDBPath(root))
	if err != nil {
		t.Fatalf("open passage store: %v", err)
	}
	defer passages.Close()
	count, err := passages.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() error: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected live index untouched with 3 passages, got %d", count)
	}

	// A fixed corpus resumes rebuilding
	writeCorpusFile(t, root, "corpus.json", `[{"id": "p1", "text": "Fresh content after the fix."}]`)
	coord.HandleBatch(context.Background(), []watcher.FileEvent{modifyEvent("corpus.json")})
	if got := coord.Rebuilds(); got != 2 {
		t.Errorf("Expected 2 rebuilds after fix, got %d", got)
	}
}

func TestCoordinator_Run_FailedInitialBuild(t *testing.T) {
	root := t.TempDir()
	writeCorpusFile(t, root, "corpus.json", `{not json`)

	cfg := config.NewConfig()
	cfg.Corpus.Path = "corpus.json"
	builder, _ := newTestBuilder(t, cfg)
	coord := NewCoordinator(builder, CoordinatorConfig{Root: root, Debounce: 10 * time.Millisecond})

	err := coord.Run(context.Background())
	if err == nil {
		t.Fatal("Expected error for broken initial build")
	}
	if !strings.Contains(err.Error(), "initial build") {
		t.Errorf("Unexpected error: %v", err)
	}
}
