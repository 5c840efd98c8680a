package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// CorpusWatcher watches the corpus source and emits debounced change
// batches. fsnotify is the primary mechanism with polling as the fallback.
//
// A single-file corpus is watched through its parent directory: editors
// save atomically by writing a temp file and renaming it over the target,
// which unwatches the file itself but stays visible on the directory.
type CorpusWatcher struct {
	fsWatcher      *fsnotify.Watcher
	pollWatcher    *PollingWatcher
	useFsnotify    bool
	debouncer      *Debouncer
	events         chan []FileEvent
	errors         chan error
	stopCh         chan struct{}
	sourcePath     string
	sourceIsDir    bool
	opts           Options
	mu             sync.RWMutex
	stopped        bool
	droppedBatches atomic.Uint64
}

// CorpusWatcher emits batched events, so it satisfies the batched variant
// of the Watcher interface.
var _ interface {
	Start(ctx context.Context, path string) error
	Stop() error
	Events() <-chan []FileEvent
	Errors() <-chan error
} = (*CorpusWatcher)(nil)

// NewCorpusWatcher creates a corpus watcher with the given options.
// It attempts fsnotify first and falls back to polling if that fails.
func NewCorpusWatcher(opts Options) (*CorpusWatcher, error) {
	opts = opts.WithDefaults()

	w := &CorpusWatcher{
		debouncer: NewDebouncer(opts.DebounceWindow),
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
		opts:      opts,
	}

	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		w.fsWatcher = fsw
		w.useFsnotify = true
	} else {
		slog.Warn("fsnotify unavailable, falling back to polling",
			slog.String("error", err.Error()))
		w.pollWatcher = NewPollingWatcher(opts.PollInterval)
	}

	return w, nil
}

// Start begins watching the corpus source at path. It blocks until Stop is
// called or the context is cancelled.
func (w *CorpusWatcher) Start(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("stat corpus source: %w", err)
	}
	w.sourcePath = absPath
	w.sourceIsDir = info.IsDir()

	go w.forwardDebounced(ctx)

	if w.useFsnotify {
		return w.startFsnotify(ctx)
	}
	return w.startPolling(ctx)
}

// startFsnotify runs the fsnotify event loop.
func (w *CorpusWatcher) startFsnotify(ctx context.Context) error {
	if w.sourceIsDir {
		if err := w.addRecursive(w.sourcePath); err != nil {
			return fmt.Errorf("add directories to watcher: %w", err)
		}
	} else {
		// Watch the parent so saves via rename stay visible.
		if err := w.fsWatcher.Add(filepath.Dir(w.sourcePath)); err != nil {
			return fmt.Errorf("watch corpus directory: %w", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handleFsnotifyEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

// startPolling runs the polling fallback, forwarding its events through
// the debouncer.
func (w *CorpusWatcher) startPolling(ctx context.Context) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case event, ok := <-w.pollWatcher.Events():
				if !ok {
					return
				}
				base := filepath.Base(event.Path)
				if w.sourceIsDir && (strings.HasPrefix(base, ".") || (!event.IsDir && !isMarkdown(base))) {
					continue
				}
				w.debouncer.Add(event)
			case err, ok := <-w.pollWatcher.Errors():
				if !ok {
					return
				}
				w.emitError(err)
			}
		}
	}()

	return w.pollWatcher.Start(ctx, w.sourcePath)
}

// handleFsnotifyEvent converts and filters raw fsnotify events.
func (w *CorpusWatcher) handleFsnotifyEvent(event fsnotify.Event) {
	isDir := false
	if info, err := os.Stat(event.Name); err == nil {
		isDir = info.IsDir()
	}

	if !w.relevant(event.Name, isDir, event.Op) {
		return
	}

	var op Operation
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreate
		// New subdirectories join the watch.
		if isDir {
			_ = w.fsWatcher.Add(event.Name)
		}
	case event.Op&fsnotify.Write != 0:
		op = OpModify
	case event.Op&fsnotify.Remove != 0:
		op = OpDelete
	case event.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		// chmod does not change corpus content
		return
	}

	w.debouncer.Add(FileEvent{
		Path:      w.relPath(event.Name),
		Operation: op,
		IsDir:     isDir,
		Timestamp: time.Now(),
	})
}

// relevant filters events down to the watched corpus source.
func (w *CorpusWatcher) relevant(name string, isDir bool, op fsnotify.Op) bool {
	if !w.sourceIsDir {
		return filepath.Clean(name) == w.sourcePath
	}

	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		// Editor temp and hidden files.
		return false
	}
	if isDir || isMarkdown(base) {
		return true
	}
	// A removed entry cannot be stat'ed anymore; it may have been a
	// directory of documents.
	return op&(fsnotify.Remove|fsnotify.Rename) != 0
}

// relPath makes an event path relative to the watched source.
func (w *CorpusWatcher) relPath(name string) string {
	root := w.sourcePath
	if !w.sourceIsDir {
		root = filepath.Dir(w.sourcePath)
	}
	rel, err := filepath.Rel(root, name)
	if err != nil {
		return name
	}
	return rel
}

// addRecursive adds root and all directories under it to the fsnotify
// watcher.
func (w *CorpusWatcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(filepath.Base(path), ".") {
			return filepath.SkipDir
		}
		return w.fsWatcher.Add(path)
	})
}

// forwardDebounced forwards debounced batches to the output channel.
func (w *CorpusWatcher) forwardDebounced(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case events, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			if len(events) == 0 {
				continue
			}
			w.emitEvents(events)
		}
	}
}

// emitEvents sends a batch without blocking.
func (w *CorpusWatcher) emitEvents(events []FileEvent) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.stopped {
		return
	}

	select {
	case w.events <- events:
	default:
		count := w.droppedBatches.Add(1)
		slog.Warn("watcher output full, dropping batch",
			slog.Int("batch_size", len(events)),
			slog.Uint64("dropped_total", count))
	}
}

// emitError sends an error without blocking.
func (w *CorpusWatcher) emitError(err error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.stopped {
		return
	}

	select {
	case w.errors <- err:
	default:
	}
}

// DroppedBatches returns how many batches were dropped because the
// consumer fell behind.
func (w *CorpusWatcher) DroppedBatches() uint64 {
	return w.droppedBatches.Load()
}

// Stop stops the watcher and releases resources. Safe to call multiple
// times.
func (w *CorpusWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true

	close(w.stopCh)
	w.debouncer.Stop()

	var err error
	if w.useFsnotify && w.fsWatcher != nil {
		err = w.fsWatcher.Close()
	}
	if w.pollWatcher != nil {
		_ = w.pollWatcher.Stop()
	}

	close(w.events)
	close(w.errors)
	return err
}

// Events returns the channel of debounced event batches.
func (w *CorpusWatcher) Events() <-chan []FileEvent {
	return w.events
}

// Errors returns the channel of watcher errors.
func (w *CorpusWatcher) Errors() <-chan error {
	return w.errors
}

// WatcherType reports the active mechanism: "fsnotify" or "polling".
func (w *CorpusWatcher) WatcherType() string {
	if w.useFsnotify {
		return "fsnotify"
	}
	return "polling"
}

// SourcePath returns the absolute path of the watched source.
func (w *CorpusWatcher) SourcePath() string {
	return w.sourcePath
}

// isMarkdown reports whether name looks like a markdown document.
func isMarkdown(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".markdown", ".mdx":
		return true
	}
	return false
}
