// Package watcher watches a corpus source for changes and emits debounced
// change batches that drive index rebuilds.
//
// The package implements a hybrid watching strategy:
//   - Primary: fsnotify for event-based watching
//   - Fallback: polling for filesystems where fsnotify fails (network
//     mounts, some container volumes)
//
// The corpus source is either a single pre-chunked JSON file or a directory
// of markdown documents. A single-file source is watched through its parent
// directory, because editors save atomically by writing a temp file and
// renaming it over the target, which unwatches the file itself.
//
// Events are debounced so one editing burst produces one batch:
//
//	w, err := watcher.NewCorpusWatcher(watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	go w.Start(ctx, corpusPath)
//
//	for batch := range w.Events() {
//	    // rebuild the index
//	    _ = batch
//	}
package watcher
