package index

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/quarrylabs/quarry/internal/config"
	"github.com/quarrylabs/quarry/internal/embed"
	"github.com/quarrylabs/quarry/internal/store"
	"github.com/quarrylabs/quarry/internal/ui"
)

// MockRenderer implements ui.Renderer for testing.
type MockRenderer struct {
	StartCalled     bool
	StopCalled      bool
	CompleteCalled  bool
	ProgressEvents  []ui.ProgressEvent
	ErrorEvents     []ui.ErrorEvent
	CompletionStats ui.CompletionStats
}

func (m *MockRenderer) Start(ctx context.Context) error {
	m.StartCalled = true
	return nil
}

func (m *MockRenderer) UpdateProgress(event ui.ProgressEvent) {
	m.ProgressEvents = append(m.ProgressEvents, event)
}

func (m *MockRenderer) AddError(event ui.ErrorEvent) {
	m.ErrorEvents = append(m.ErrorEvents, event)
}

func (m *MockRenderer) Complete(stats ui.CompletionStats) {
	m.CompleteCalled = true
	m.CompletionStats = stats
}

func (m *MockRenderer) Stop() error {
	m.StopCalled = true
	return nil
}

// Stages returns the distinct stages seen in progress events, in order of
// first appearance.
func (m *MockRenderer) Stages() []ui.Stage {
	var stages []ui.Stage
	seen := make(map[ui.Stage]bool)
	for _, ev := range m.ProgressEvents {
		if !seen[ev.Stage] {
			seen[ev.Stage] = true
			stages = append(stages, ev.Stage)
		}
	}
	return stages
}

const testCorpusJSON = `[
	{"id": "p1", "text": "The quick brown fox jumps over the lazy dog.", "section_title": "Animals"},
	{"id": "p2", "text": "A stitch in time saves nine.", "section_title": "Proverbs"},
	{"id": "p3", "text": "All that glitters is not gold.", "section_title": "Proverbs"}
]`

func newTestBuilder(t *testing.T, cfg *config.Config) (*Builder, *MockRenderer) {
	t.Helper()
	renderer := &MockRenderer{}
	builder, err := NewBuilder(BuilderDependencies{
		Renderer: renderer,
		Config:   cfg,
		Embedder: embed.NewStaticEmbedder(),
	})
	if err != nil {
		t.Fatalf("NewBuilder() error: %v", err)
	}
	return builder, renderer
}

func TestNewBuilder_RequiresDependencies(t *testing.T) {
	cfg := config.NewConfig()
	renderer := &MockRenderer{}
	embedder := embed.NewStaticEmbedder()

	if _, err := NewBuilder(BuilderDependencies{Config: cfg, Embedder: embedder}); err == nil {
		t.Error("Expected error without renderer")
	}
	if _, err := NewBuilder(BuilderDependencies{Renderer: renderer, Embedder: embedder}); err == nil {
		t.Error("Expected error without config")
	}
	if _, err := NewBuilder(BuilderDependencies{Renderer: renderer, Config: cfg}); err == nil {
		t.Error("Expected error without embedder")
	}
}

func TestBuilder_Build(t *testing.T) {
	root := t.TempDir()
	writeCorpusFile(t, root, "corpus.json", testCorpusJSON)

	cfg := config.NewConfig()
	cfg.Corpus.Path = "corpus.json"
	builder, renderer := newTestBuilder(t, cfg)

	result, err := builder.Build(context.Background(), BuildConfig{Root: root})
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	if result.Skipped {
		t.Error("First build must not be skipped")
	}
	if result.Documents != 3 {
		t.Errorf("Expected 3 documents, got %d", result.Documents)
	}
	if result.Passages != 3 {
		t.Errorf("Expected 3 passages, got %d", result.Passages)
	}

	// All three artifacts exist at their live locations
	for _, path := range []string{
		cfg.PassageDBPath(root),
		cfg.SparseIndexPath(root),
		cfg.DenseIndexPath(root),
	} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("Expected artifact at %s: %v", path, err)
		}
	}

	// Staging directory is cleaned up after promotion
	if _, err := os.Stat(cfg.BuildTmpDir(root)); !os.IsNotExist(err) {
		t.Errorf("Expected staging directory removed, stat err: %v", err)
	}

	if !renderer.CompleteCalled {
		t.Error("Expected renderer Complete")
	}
	if renderer.CompletionStats.Passages != 3 {
		t.Errorf("Expected 3 passages in completion stats, got %d", renderer.CompletionStats.Passages)
	}
	wantStages := []ui.Stage{ui.StageLoading, ui.StageEmbedding, ui.StageIndexing, ui.StageVerifying, ui.StageSwapping}
	gotStages := renderer.Stages()
	if len(gotStages) != len(wantStages) {
		t.Fatalf("Expected stages %v, got %v", wantStages, gotStages)
	}
	for i, want := range wantStages {
		if gotStages[i] != want {
			t.Errorf("Stage %d = %v, want %v", i, gotStages[i], want)
		}
	}

	// Build state is stamped into the passage store
	passages, err := store.NewSQLitePassageStore(cfg.PassageDBPath(root))
	if err != nil {
		t.Fatalf("open passage store: %v", err)
	}
	defer passages.Close()

	ctx := context.Background()
	count, err := passages.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected 3 stored passages, got %d", count)
	}

	stateChecks := map[string]string{
		store.StateKeyEmbedderModel:      "static-hash",
		store.StateKeyEmbedderProvider:   "static",
		store.StateKeyEmbedderDimensions: "256",
		store.StateKeyDocumentCount:      "3",
	}
	for key, want := range stateChecks {
		got, err := passages.GetState(ctx, key)
		if err != nil {
			t.Fatalf("GetState(%s) error: %v", key, err)
		}
		if got != want {
			t.Errorf("State %s = %q, want %q", key, got, want)
		}
	}
	for _, key := range []string{store.StateKeyCorpusHash, store.StateKeyBuiltAt} {
		if got, _ := passages.GetState(ctx, key); got == "" {
			t.Errorf("Expected state %s to be set", key)
		}
	}
}

func TestBuilder_Build_SkipsUnchanged(t *testing.T) {
	root := t.TempDir()
	writeCorpusFile(t, root, "corpus.json", testCorpusJSON)

	cfg := config.NewConfig()
	cfg.Corpus.Path = "corpus.json"

	builder, _ := newTestBuilder(t, cfg)
	if _, err := builder.Build(context.Background(), BuildConfig{Root: root}); err != nil {
		t.Fatalf("first Build() error: %v", err)
	}

	// Unchanged corpus: skip, report stored counts, no completion banner
	builder2, renderer2 := newTestBuilder(t, cfg)
	result, err := builder2.Build(context.Background(), BuildConfig{Root: root})
	if err != nil {
		t.Fatalf("second Build() error: %v", err)
	}
	if !result.Skipped {
		t.Error("Expected unchanged corpus to skip the build")
	}
	if result.Passages != 3 {
		t.Errorf("Expected 3 passages from stored state, got %d", result.Passages)
	}
	if result.Documents != 3 {
		t.Errorf("Expected 3 documents from stored state, got %d", result.Documents)
	}
	if renderer2.CompleteCalled {
		t.Error("Skipped build must not render completion")
	}

	// Force overrides the hash check
	builder3, _ := newTestBuilder(t, cfg)
	result, err = builder3.Build(context.Background(), BuildConfig{Root: root, Force: true})
	if err != nil {
		t.Fatalf("forced Build() error: %v", err)
	}
	if result.Skipped {
		t.Error("Forced build must not be skipped")
	}

	// A corpus change triggers a rebuild without force
	writeCorpusFile(t, root, "corpus.json", `[{"id": "p1", "text": "Entirely new content."}]`)
	builder4, _ := newTestBuilder(t, cfg)
	result, err = builder4.Build(context.Background(), BuildConfig{Root: root})
	if err != nil {
		t.Fatalf("rebuild after change error: %v", err)
	}
	if result.Skipped {
		t.Error("Changed corpus must rebuild")
	}
	if result.Passages != 1 {
		t.Errorf("Expected 1 passage after rebuild, got %d", result.Passages)
	}
}

func TestBuilder_Build_MarkdownCorpus(t *testing.T) {
	root := t.TempDir()
	writeCorpusFile(t, root, "docs/intro.md", "# Intro\n\nThe introduction text.\n")
	writeCorpusFile(t, root, "docs/usage.md", "# Usage\n\nHow to use the thing.\n\n## Flags\n\nFlag reference.\n")

	cfg := config.NewConfig()
	cfg.Corpus.Path = "docs"
	builder, _ := newTestBuilder(t, cfg)

	result, err := builder.Build(context.Background(), BuildConfig{Root: root})
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if result.Documents != 2 {
		t.Errorf("Expected 2 documents, got %d", result.Documents)
	}
	if result.Passages != 3 {
		t.Errorf("Expected 3 passages, got %d", result.Passages)
	}

	passages, err := store.NewSQLitePassageStore(cfg.PassageDBPath(root))
	if err != nil {
		t.Fatalf("open passage store: %v", err)
	}
	defer passages.Close()

	first, err := passages.GetPassage(context.Background(), "0000")
	if err != nil {
		t.Fatalf("GetPassage() error: %v", err)
	}
	if first.Metadata["section_title"] != "Intro" {
		t.Errorf("Expected section_title Intro, got %v", first.Metadata["section_title"])
	}
	if first.Metadata["file"] != "intro.md" {
		t.Errorf("Expected file intro.md, got %v", first.Metadata["file"])
	}
}

func TestBuilder_Build_EmptyCorpus(t *testing.T) {
	root := t.TempDir()
	writeCorpusFile(t, root, "corpus.json", `[{"text": "   "}]`)

	cfg := config.NewConfig()
	cfg.Corpus.Path = "corpus.json"
	builder, renderer := newTestBuilder(t, cfg)

	_, err := builder.Build(context.Background(), BuildConfig{Root: root})
	if err == nil {
		t.Fatal("Expected error for corpus without passages")
	}
	if !strings.Contains(err.Error(), "produced no passages") {
		t.Errorf("Unexpected error: %v", err)
	}
	// The skipped record still surfaces as a warning
	if len(renderer.ErrorEvents) != 1 || !renderer.ErrorEvents[0].IsWarn {
		t.Errorf("Expected 1 warning event, got %+v", renderer.ErrorEvents)
	}
}

func TestBuilder_Build_NoCorpusConfigured(t *testing.T) {
	cfg := config.NewConfig()
	builder, _ := newTestBuilder(t, cfg)

	_, err := builder.Build(context.Background(), BuildConfig{Root: t.TempDir()})
	if err == nil {
		t.Fatal("Expected error without a corpus path")
	}
	if !strings.Contains(err.Error(), "no corpus configured") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestBuilder_Build_LockHeld(t *testing.T) {
	root := t.TempDir()
	writeCorpusFile(t, root, "corpus.json", testCorpusJSON)

	cfg := config.NewConfig()
	cfg.Corpus.Path = "corpus.json"

	held := NewBuildLock(cfg.BuildLockPath(root))
	if err := held.Lock(); err != nil {
		t.Fatalf("Lock() error: %v", err)
	}
	defer held.Unlock()

	builder, _ := newTestBuilder(t, cfg)
	_, err := builder.Build(context.Background(), BuildConfig{Root: root})
	if err == nil {
		t.Fatal("Expected error while another build holds the lock")
	}
	if !strings.Contains(err.Error(), "another build holds the lock") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestBuilder_Build_Interrupted(t *testing.T) {
	root := t.TempDir()
	writeCorpusFile(t, root, "corpus.json", testCorpusJSON)

	cfg := config.NewConfig()
	cfg.Corpus.Path = "corpus.json"
	builder, _ := newTestBuilder(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := builder.Build(ctx, BuildConfig{Root: root})
	if err == nil {
		t.Fatal("Expected error for cancelled context")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled in chain, got: %v", err)
	}
}

func TestBuilder_Build_PreservesLiveIndexOnFailure(t *testing.T) {
	root := t.TempDir()
	writeCorpusFile(t, root, "corpus.json", testCorpusJSON)

	cfg := config.NewConfig()
	cfg.Corpus.Path = "corpus.json"

	builder, _ := newTestBuilder(t, cfg)
	if _, err := builder.Build(context.Background(), BuildConfig{Root: root}); err != nil {
		t.Fatalf("first Build() error: %v", err)
	}

	// A corrupt corpus must fail before touching the live artifacts
	writeCorpusFile(t, root, "corpus.json", `{not json`)
	builder2, _ := newTestBuilder(t, cfg)
	if _, err := builder2.Build(context.Background(), BuildConfig{Root: root}); err == nil {
		t.Fatal("Expected error for corrupt corpus")
	}

	passages, err := store.NewSQLitePassageStore(cfg.PassageDBPath(root))
	if err != nil {
		t.Fatalf("open passage store after failed build: %v", err)
	}
	defer passages.Close()

	count, err := passages.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() error: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected live index untouched with 3 passages, got %d", count)
	}
}
