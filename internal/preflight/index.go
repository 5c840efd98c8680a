package preflight

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/quarrylabs/quarry/internal/store"
)

// CheckIndex inspects the built index artifacts. Not critical: a missing
// index just means `quarry index` has not run yet.
func (c *Checker) CheckIndex(ctx context.Context) CheckResult {
	if c.cfg == nil {
		return skipped("index")
	}

	result := CheckResult{
		Name:     "index",
		Required: false,
	}

	dbPath := c.cfg.PassageDBPath(c.root)
	if _, err := os.Stat(dbPath); err != nil {
		result.Status = StatusWarn
		result.Message = "no index built yet"
		result.Details = "Run 'quarry index' to build one"
		return result
	}

	passages, err := store.NewSQLitePassageStore(dbPath)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("passage store unreadable: %v", err)
		result.Details = "Rebuild with 'quarry index --force'"
		return result
	}
	defer func() { _ = passages.Close() }()

	count, err := passages.Count(ctx)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("passage count failed: %v", err)
		result.Details = "Rebuild with 'quarry index --force'"
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%d passages", count)

	var facts []string
	if builtAt, err := passages.GetState(ctx, store.StateKeyBuiltAt); err == nil && builtAt != "" {
		facts = append(facts, "built "+builtAt)
	}
	if model, err := passages.GetState(ctx, store.StateKeyEmbedderModel); err == nil && model != "" {
		dims, _ := passages.GetState(ctx, store.StateKeyEmbedderDimensions)
		if dims != "" {
			facts = append(facts, fmt.Sprintf("embedder %s (%sd)", model, dims))
		} else {
			facts = append(facts, "embedder "+model)
		}
	}
	result.Details = strings.Join(facts, "; ")
	return result
}
