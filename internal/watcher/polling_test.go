package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startPolling(t *testing.T, path string) *PollingWatcher {
	t.Helper()
	p := NewPollingWatcher(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(func() { _ = p.Stop() })

	go func() { _ = p.Start(ctx, path) }()

	// Give the initial snapshot time to land before the test mutates files.
	time.Sleep(100 * time.Millisecond)
	return p
}

// waitFor drains events until match returns true or the timeout expires.
func waitFor(t *testing.T, p *PollingWatcher, match func(FileEvent) bool) FileEvent {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case e, ok := <-p.Events():
			if !ok {
				t.Fatal("events channel closed while waiting")
			}
			if match(e) {
				return e
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
		}
	}
}

// TS01: Single File Modify
func TestPollingWatcher_SingleFileModify(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corpus.json")
	require.NoError(t, os.WriteFile(path, []byte(`[]`), 0o644))

	p := startPolling(t, path)

	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"a"}]`), 0o644))

	e := waitFor(t, p, func(e FileEvent) bool { return e.Operation == OpModify })
	assert.Equal(t, "corpus.json", e.Path)
	assert.False(t, e.IsDir)
}

// TS02: Single File Delete And Recreate
func TestPollingWatcher_SingleFileDeleteRecreate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corpus.json")
	require.NoError(t, os.WriteFile(path, []byte(`[]`), 0o644))

	p := startPolling(t, path)

	require.NoError(t, os.Remove(path))
	e := waitFor(t, p, func(e FileEvent) bool { return e.Operation == OpDelete })
	assert.Equal(t, "corpus.json", e.Path)

	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"b"}]`), 0o644))
	e = waitFor(t, p, func(e FileEvent) bool { return e.Operation == OpCreate })
	assert.Equal(t, "corpus.json", e.Path)
}

// TS03: Directory Tree Changes
func TestPollingWatcher_DirectoryTree(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("# A\n"), 0o644))

	p := startPolling(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.md"), []byte("# B\n"), 0o644))
	e := waitFor(t, p, func(e FileEvent) bool { return e.Path == "b.md" })
	assert.Equal(t, OpCreate, e.Operation)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "c.md"), []byte("# C\n"), 0o644))
	e = waitFor(t, p, func(e FileEvent) bool { return e.Path == filepath.Join("sub", "c.md") })
	assert.Equal(t, OpCreate, e.Operation)
}

// TS04: Absent Source Appears Later
func TestPollingWatcher_AbsentSourceAppears(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corpus.json")

	p := startPolling(t, path)

	require.NoError(t, os.WriteFile(path, []byte(`[]`), 0o644))
	e := waitFor(t, p, func(e FileEvent) bool { return e.Operation == OpCreate })
	assert.Equal(t, "corpus.json", e.Path)
}

// TS05: Stop Idempotent
func TestPollingWatcher_StopIdempotent(t *testing.T) {
	p := NewPollingWatcher(20 * time.Millisecond)

	require.NoError(t, p.Stop())
	require.NoError(t, p.Stop())

	_, ok := <-p.Events()
	assert.False(t, ok, "events channel should be closed")
}
