package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/configs"
	"github.com/quarrylabs/quarry/internal/config"
	"github.com/quarrylabs/quarry/internal/output"
	"github.com/quarrylabs/quarry/pkg/version"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a quarry workspace",
		Long: `Create a .quarry.yaml configuration template in the workspace root and
add the index directory to .gitignore.

The template documents every project-level setting with its default. A
corpus file in a conventional location (corpus/passages.json, passages.json,
or a docs/ directory of markdown) is detected and reported.`,
		Example: `  # Initialize the current workspace
  quarry init

  # Overwrite an existing .quarry.yaml
  quarry init --force`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing .quarry.yaml")

	return cmd
}

func runInit(cmd *cobra.Command, force bool) error {
	out := output.New(cmd.OutOrStdout())

	out.Statusf("🚀", "Quarry %s - initializing workspace...", version.Version)
	out.Newline()

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}

	root, err := config.FindWorkspaceRoot(cwd)
	if err != nil {
		root = cwd
	}
	out.Statusf("📁", "Workspace: %s", root)

	yamlPath := filepath.Join(root, ".quarry.yaml")
	if _, err := os.Stat(yamlPath); err == nil && !force {
		out.Newline()
		out.Warning("Workspace already initialized (.quarry.yaml exists)")
		out.Status("💡", "Use --force to overwrite with a fresh template")
		return nil
	}

	if err := os.WriteFile(yamlPath, []byte(configs.ProjectConfigTemplate), 0o644); err != nil {
		return fmt.Errorf("failed to write .quarry.yaml: %w", err)
	}
	out.Success("Created .quarry.yaml")

	if added, err := ensureGitignore(root); err != nil {
		out.Warningf("Could not update .gitignore: %v", err)
	} else if added {
		out.Success("Added .quarry/ to .gitignore")
	}

	out.Newline()
	if corpus := config.DiscoverCorpus(root); corpus != "" {
		out.Statusf("📚", "Found corpus: %s", corpus)
		out.Status("", "Set corpus.path in .quarry.yaml to make it explicit.")
	} else {
		out.Status("📚", "No corpus found yet")
		out.Status("", "Set corpus.path in .quarry.yaml to a JSON passage file or a markdown directory.")
	}

	out.Newline()
	out.Status("📋", "Next steps:")
	out.Status("", "  1. Review .quarry.yaml")
	out.Status("", "  2. Run 'quarry index' to build the index")
	out.Status("", "  3. Run 'quarry search --q \"...\"' to query it")

	return nil
}

// hasQuarryIgnore checks if the index directory is already in .gitignore.
// Handles variations: .quarry, .quarry/, /.quarry, /.quarry/
func hasQuarryIgnore(content string) bool {
	patterns := []string{
		".quarry",
		".quarry/",
		"/.quarry",
		"/.quarry/",
	}

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for _, pattern := range patterns {
			if line == pattern {
				return true
			}
		}
	}
	return false
}

// ensureGitignore adds the index directory to .gitignore if not present.
// Returns (true, nil) if added, (false, nil) if already present.
func ensureGitignore(root string) (bool, error) {
	gitignorePath := filepath.Join(root, ".gitignore")

	content, err := os.ReadFile(gitignorePath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("reading .gitignore: %w", err)
	}

	if hasQuarryIgnore(string(content)) {
		return false, nil
	}

	// Match the file's existing line endings
	lineEnding := "\n"
	if bytes.Contains(content, []byte("\r\n")) {
		lineEnding = "\r\n"
	}

	if len(content) > 0 && !bytes.HasSuffix(content, []byte("\n")) {
		content = append(content, []byte(lineEnding)...)
	}

	entry := "# Quarry index artifacts" + lineEnding + ".quarry/" + lineEnding
	content = append(content, []byte(entry)...)

	if err := os.WriteFile(gitignorePath, content, 0o644); err != nil {
		return false, fmt.Errorf("writing .gitignore: %w", err)
	}
	return true, nil
}
