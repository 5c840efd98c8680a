package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(path string, op Operation) FileEvent {
	return FileEvent{Path: path, Operation: op, Timestamp: time.Now()}
}

func waitBatch(t *testing.T, ch <-chan []FileEvent, timeout time.Duration) []FileEvent {
	t.Helper()
	select {
	case batch := <-ch:
		return batch
	case <-time.After(timeout):
		t.Fatal("timed out waiting for event batch")
		return nil
	}
}

func requireNoBatch(t *testing.T, ch <-chan []FileEvent, wait time.Duration) {
	t.Helper()
	select {
	case batch := <-ch:
		t.Fatalf("unexpected batch: %v", batch)
	case <-time.After(wait):
	}
}

// TS01: Quiet Window Batching
func TestDebouncer_QuietWindowBatching(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.Add(event("a.md", OpCreate))
	d.Add(event("b.md", OpModify))
	d.Add(event("c.md", OpDelete))

	batch := waitBatch(t, d.Output(), 2*time.Second)
	assert.Len(t, batch, 3)

	paths := make(map[string]Operation, len(batch))
	for _, e := range batch {
		paths[e.Path] = e.Operation
	}
	assert.Equal(t, OpCreate, paths["a.md"])
	assert.Equal(t, OpModify, paths["b.md"])
	assert.Equal(t, OpDelete, paths["c.md"])
}

// TS02: Create Plus Modify Stays Create
func TestDebouncer_CreateModifyCoalesces(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.Add(event("corpus.json", OpCreate))
	d.Add(event("corpus.json", OpModify))

	batch := waitBatch(t, d.Output(), 2*time.Second)
	require.Len(t, batch, 1)
	assert.Equal(t, OpCreate, batch[0].Operation)
}

// TS03: Create Plus Delete Cancels
func TestDebouncer_CreateDeleteCancels(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.Add(event("tmp.md", OpCreate))
	d.Add(event("tmp.md", OpDelete))

	requireNoBatch(t, d.Output(), 150*time.Millisecond)
}

// TS04: Delete Plus Create Becomes Modify
func TestDebouncer_DeleteCreateBecomesModify(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.Add(event("corpus.json", OpDelete))
	d.Add(event("corpus.json", OpCreate))

	batch := waitBatch(t, d.Output(), 2*time.Second)
	require.Len(t, batch, 1)
	assert.Equal(t, OpModify, batch[0].Operation, "a replaced file reads as modified")
}

// TS05: Modify Plus Delete Becomes Delete
func TestDebouncer_ModifyDeleteBecomesDelete(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.Add(event("a.md", OpModify))
	d.Add(event("a.md", OpDelete))

	batch := waitBatch(t, d.Output(), 2*time.Second)
	require.Len(t, batch, 1)
	assert.Equal(t, OpDelete, batch[0].Operation)
}

// TS06: Stop Closes Output
func TestDebouncer_StopClosesOutput(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)

	d.Stop()
	d.Stop() // idempotent

	_, ok := <-d.Output()
	assert.False(t, ok, "output should be closed after Stop")

	// Add after Stop must not panic or emit.
	d.Add(event("late.md", OpCreate))
}
