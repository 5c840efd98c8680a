package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// MarkerFile records the last clean doctor run inside the index directory.
const MarkerFile = "preflight.ok"

// NeedsCheck reports whether no clean run is on record.
func NeedsCheck(indexDir string) bool {
	_, err := os.Stat(filepath.Join(indexDir, MarkerFile))
	return os.IsNotExist(err)
}

// MarkPassed records a clean run.
func MarkPassed(indexDir string) error {
	if err := os.MkdirAll(indexDir, 0o755); err != nil {
		return fmt.Errorf("create marker directory: %w", err)
	}
	content := []byte(time.Now().Format(time.RFC3339))
	return os.WriteFile(filepath.Join(indexDir, MarkerFile), content, 0o644)
}

// ClearMarker forgets the last clean run.
func ClearMarker(indexDir string) error {
	err := os.Remove(filepath.Join(indexDir, MarkerFile))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove marker file: %w", err)
	}
	return nil
}

// MarkerAge returns how long ago the last clean run was, zero when none
// is on record.
func MarkerAge(indexDir string) time.Duration {
	content, err := os.ReadFile(filepath.Join(indexDir, MarkerFile))
	if err != nil {
		return 0
	}
	t, err := time.Parse(time.RFC3339, string(content))
	if err != nil {
		return 0
	}
	return time.Since(t)
}
