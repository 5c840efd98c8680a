package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FindWorkspaceRoot finds the workspace root directory.
// It looks for a .quarry.yaml/.yml file or a .git directory by walking up
// the directory tree.
func FindWorkspaceRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if fileExists(filepath.Join(currentDir, ".quarry.yaml")) ||
			fileExists(filepath.Join(currentDir, ".quarry.yml")) {
			return currentDir, nil
		}

		if dirExists(filepath.Join(currentDir, ".git")) {
			return currentDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			// Reached filesystem root, fall back to the original directory
			return absDir, nil
		}
		currentDir = parentDir
	}
}

// DiscoverCorpus looks for a corpus source in conventional locations.
// Returns a path relative to dir, or empty string when nothing was found.
func DiscoverCorpus(dir string) string {
	fileCandidates := []string{
		filepath.Join("corpus", "passages.json"),
		filepath.Join("corpus", "chunks.json"),
		"passages.json",
		"chunks.json",
	}
	for _, c := range fileCandidates {
		if fileExists(filepath.Join(dir, c)) {
			return c
		}
	}

	dirCandidates := []string{"corpus", "docs", "content"}
	for _, d := range dirCandidates {
		full := filepath.Join(dir, d)
		if dirExists(full) && hasMarkdown(full) {
			return d
		}
	}

	return ""
}

// hasMarkdown reports whether the directory contains at least one .md file.
func hasMarkdown(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(strings.ToLower(e.Name()), ".md") {
			return true
		}
	}
	return false
}

// IndexDir resolves the index artifact directory under the workspace root.
func (c *Config) IndexDir(root string) string {
	if filepath.IsAbs(c.Index.Dir) {
		return c.Index.Dir
	}
	return filepath.Join(root, c.Index.Dir)
}

// PassageDBPath is the SQLite passage store.
func (c *Config) PassageDBPath(root string) string {
	return filepath.Join(c.IndexDir(root), "passages.db")
}

// BlevePath is the bleve sparse index directory.
func (c *Config) BlevePath(root string) string {
	return filepath.Join(c.IndexDir(root), "sparse.bleve")
}

// SparseDBPath is the SQLite FTS5 sparse index file.
func (c *Config) SparseDBPath(root string) string {
	return filepath.Join(c.IndexDir(root), "sparse.db")
}

// SparseIndexPath resolves the sparse index location for the configured
// backend.
func (c *Config) SparseIndexPath(root string) string {
	if c.Retrieval.SparseBackend == "sqlite" {
		return c.SparseDBPath(root)
	}
	return c.BlevePath(root)
}

// HNSWPath is the hnsw dense index file.
func (c *Config) HNSWPath(root string) string {
	return filepath.Join(c.IndexDir(root), "vectors.hnsw")
}

// ChromemDir is the chromem dense backend directory.
func (c *Config) ChromemDir(root string) string {
	return filepath.Join(c.IndexDir(root), "chromem")
}

// DenseIndexPath resolves the dense index location for the configured
// backend.
func (c *Config) DenseIndexPath(root string) string {
	if c.Retrieval.DenseBackend == "chromem" {
		return c.ChromemDir(root)
	}
	return c.HNSWPath(root)
}

// RunsDir holds run telemetry (last_run.json, runs_history.jsonl).
func (c *Config) RunsDir(root string) string {
	return filepath.Join(c.IndexDir(root), "runs")
}

// BuildLockPath is the exclusive lock taken by index builds.
func (c *Config) BuildLockPath(root string) string {
	return filepath.Join(c.IndexDir(root), "build.lock")
}

// BuildTmpDir is the staging directory builds assemble into before the
// atomic swap.
func (c *Config) BuildTmpDir(root string) string {
	return filepath.Join(c.IndexDir(root), "build-tmp")
}

// CorpusPath resolves the configured corpus source under the workspace root.
func (c *Config) CorpusPath(root string) string {
	if c.Corpus.Path == "" {
		return ""
	}
	if filepath.IsAbs(c.Corpus.Path) {
		return c.Corpus.Path
	}
	return filepath.Join(root, c.Corpus.Path)
}

// QrelsPathResolved resolves the qrels file under the workspace root.
func (c *Config) QrelsPathResolved(root string) string {
	if filepath.IsAbs(c.Eval.QrelsPath) {
		return c.Eval.QrelsPath
	}
	return filepath.Join(root, c.Eval.QrelsPath)
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// dirExists checks if a directory exists.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
