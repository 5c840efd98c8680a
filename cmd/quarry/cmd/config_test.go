package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/internal/config"
)

func runConfigCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(append([]string{"config"}, args...))

	execErr := cmd.Execute()
	return buf.String(), execErr
}

func TestConfigPathCmd(t *testing.T) {
	// Given: a redirected user config location
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	// When: printing the config path
	output, err := runConfigCmd(t, "path")

	// Then: the XDG location comes back
	require.NoError(t, err)
	assert.Contains(t, output, filepath.Join(xdg, "quarry", "config.yaml"))
}

func TestConfigInitCmd_CreatesUserConfig(t *testing.T) {
	// Given: no user config yet
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	// When: creating the user config
	output, err := runConfigCmd(t, "init")

	// Then: the template lands at the XDG path
	require.NoError(t, err)
	assert.Contains(t, output, "Created user configuration")

	data, err := os.ReadFile(config.GetUserConfigPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), "version: 1")
	assert.Contains(t, string(data), "embeddings")
}

func TestConfigInitCmd_ExistingWithoutForce(t *testing.T) {
	// Given: an existing user config
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	_, err := runConfigCmd(t, "init")
	require.NoError(t, err)

	// When: running init again
	output, err := runConfigCmd(t, "init")

	// Then: the file is left alone
	require.NoError(t, err)
	assert.Contains(t, output, "already exists")
	assert.Contains(t, output, "--force")
}

func TestConfigInitCmd_ForceUpgradePreservesSettings(t *testing.T) {
	// Given: a user config with a customized setting
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	configPath := config.GetUserConfigPath()
	require.NoError(t, os.MkdirAll(filepath.Dir(configPath), 0o755))
	require.NoError(t, os.WriteFile(configPath, []byte("version: 1\nembeddings:\n  provider: static\n"), 0o644))

	// When: upgrading with --force
	output, err := runConfigCmd(t, "init", "--force")

	// Then: the customization survives and a backup exists
	require.NoError(t, err)
	assert.Contains(t, output, "Configuration upgraded")
	assert.Contains(t, output, "Backup:")

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "provider: static")

	backups, err := config.ListConfigBackups(configPath)
	require.NoError(t, err)
	assert.NotEmpty(t, backups, "a backup file should exist")
}

func TestConfigShowCmd_DefaultsAsJSON(t *testing.T) {
	// Given: no config files anywhere
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	// When: showing hardcoded defaults as JSON
	output, err := runConfigCmd(t, "show", "--source", "defaults", "--json")

	// Then: the document parses and carries the retrieval defaults
	require.NoError(t, err)

	var cfg struct {
		Version   int `json:"version"`
		Retrieval struct {
			CandidatePool int     `json:"candidate_pool"`
			RRFK          int     `json:"rrf_k"`
			MMRLambda     float64 `json:"mmr_lambda"`
		} `json:"retrieval"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &cfg))
	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, 40, cfg.Retrieval.CandidatePool)
	assert.Equal(t, 60, cfg.Retrieval.RRFK)
	assert.InDelta(t, 0.7, cfg.Retrieval.MMRLambda, 1e-9)
}

func TestConfigShowCmd_UserMissing(t *testing.T) {
	// Given: no user config
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	// When: showing the user source
	output, err := runConfigCmd(t, "show", "--source", "user")

	// Then: a hint, not an error
	require.NoError(t, err)
	assert.Contains(t, output, "No user configuration file found")
	assert.Contains(t, output, "quarry config init")
}

func TestConfigShowCmd_InvalidSource(t *testing.T) {
	// When: asking for an unknown source
	_, err := runConfigCmd(t, "show", "--source", "bogus")

	// Then: the valid sources are named
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid source")
	assert.Contains(t, err.Error(), "merged, user, project, defaults")
}
