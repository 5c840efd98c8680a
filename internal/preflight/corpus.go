package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/quarrylabs/quarry/internal/config"
)

// CheckCorpus verifies the corpus source resolves to something readable.
// A configured path that is missing fails; having no corpus at all is only
// a warning, since `quarry index <corpus>` can name one directly.
func (c *Checker) CheckCorpus() CheckResult {
	if c.cfg == nil {
		return skipped("corpus")
	}

	result := CheckResult{
		Name:     "corpus",
		Required: true,
	}

	path := c.cfg.CorpusPath(c.root)
	if path == "" {
		if discovered := config.DiscoverCorpus(c.root); discovered != "" {
			result.Status = StatusPass
			result.Message = fmt.Sprintf("auto-detected: %s", discovered)
			result.Details = fmt.Sprintf("full path: %s", filepath.Join(c.root, discovered))
			return result
		}
		result.Status = StatusWarn
		result.Message = "no corpus configured or discovered"
		result.Details = "Set corpus.path in .quarry.yaml or pass a path to 'quarry index'"
		return result
	}

	info, err := os.Stat(path)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("corpus not found: %s", path)
		return result
	}

	result.Status = StatusPass
	switch {
	case info.IsDir():
		result.Message = fmt.Sprintf("markdown directory: %s", path)
	case strings.EqualFold(filepath.Ext(path), ".json"):
		result.Message = fmt.Sprintf("json corpus: %s (%s)", path, formatBytes(uint64(info.Size())))
	default:
		result.Message = fmt.Sprintf("corpus: %s (%s)", path, formatBytes(uint64(info.Size())))
	}
	return result
}
