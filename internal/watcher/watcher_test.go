package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TS01: Option Defaults
func TestOptions_WithDefaults(t *testing.T) {
	opts := Options{}.WithDefaults()
	assert.Equal(t, 500*time.Millisecond, opts.DebounceWindow)
	assert.Equal(t, 5*time.Second, opts.PollInterval)
	assert.Equal(t, 16, opts.EventBufferSize)

	custom := Options{
		DebounceWindow:  time.Second,
		PollInterval:    time.Minute,
		EventBufferSize: 4,
	}.WithDefaults()
	assert.Equal(t, time.Second, custom.DebounceWindow)
	assert.Equal(t, time.Minute, custom.PollInterval)
	assert.Equal(t, 4, custom.EventBufferSize)
}

// TS02: Operation Names
func TestOperation_String(t *testing.T) {
	assert.Equal(t, "CREATE", OpCreate.String())
	assert.Equal(t, "MODIFY", OpModify.String())
	assert.Equal(t, "DELETE", OpDelete.String())
	assert.Equal(t, "RENAME", OpRename.String())
	assert.Equal(t, "UNKNOWN", Operation(99).String())
}

// TS03: Markdown Detection
func TestIsMarkdown(t *testing.T) {
	assert.True(t, isMarkdown("guide.md"))
	assert.True(t, isMarkdown("guide.MD"))
	assert.True(t, isMarkdown("guide.markdown"))
	assert.True(t, isMarkdown("page.mdx"))
	assert.False(t, isMarkdown("corpus.json"))
	assert.False(t, isMarkdown("README"))
}
