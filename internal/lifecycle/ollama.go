// Package lifecycle probes the local Ollama install. It answers the
// diagnostic questions (installed? running? model pulled?) without ever
// starting processes or pulling models itself; the embedding layer falls
// back to static vectors when Ollama is unavailable, so all findings here
// are advisory.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os/exec"
	"strings"
	"time"

	"github.com/quarrylabs/quarry/internal/embed"
)

// probeTimeout bounds the liveness request so diagnostics stay fast when
// nothing listens on the port.
const probeTimeout = 2 * time.Second

// Status is one snapshot of the Ollama install.
type Status struct {
	Installed   bool
	BinaryPath  string
	Running     bool
	Models      []string
	HasModel    bool
	TargetModel string
}

// Manager probes one Ollama endpoint.
type Manager struct {
	host   string
	client *http.Client

	// lookPath is swappable for tests.
	lookPath func(file string) (string, error)
}

// NewManager returns a Manager for the given host. An empty host probes
// the default local endpoint.
func NewManager(host string) *Manager {
	if host == "" {
		host = embed.DefaultOllamaHost
	}
	return &Manager{
		host:     strings.TrimRight(host, "/"),
		client:   &http.Client{Timeout: probeTimeout},
		lookPath: exec.LookPath,
	}
}

// Host returns the endpoint being probed.
func (m *Manager) Host() string {
	return m.host
}

// IsRemote reports whether the endpoint is not on this machine. Install
// checks are skipped for remote hosts; the binary lives elsewhere.
func (m *Manager) IsRemote() bool {
	u, err := url.Parse(m.host)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1", "":
		return false
	}
	return true
}

// IsInstalled looks for the ollama binary on PATH.
func (m *Manager) IsInstalled() (bool, string) {
	path, err := m.lookPath("ollama")
	if err != nil {
		return false, ""
	}
	return true, path
}

// IsRunning reports whether the server answers its model listing route.
// Connection failures mean "not running", not an error.
func (m *Manager) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.host+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// Models lists the models the server has pulled.
func (m *Manager) Models(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.host+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ollama at %s: %w", m.host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status %d from %s: %s", resp.StatusCode, m.host, string(body))
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode model list: %w", err)
	}

	models := make([]string, len(result.Models))
	for i, m := range result.Models {
		models[i] = m.Name
	}
	return models, nil
}

// HasModel reports whether model is pulled. A bare name matches any tag
// of the same model, so "llama3.2" matches "llama3.2:latest".
func (m *Manager) HasModel(ctx context.Context, model string) (bool, error) {
	models, err := m.Models(ctx)
	if err != nil {
		return false, err
	}
	return matchModel(models, model), nil
}

func matchModel(available []string, want string) bool {
	wantLower := strings.ToLower(want)
	wantBase, _, _ := strings.Cut(wantLower, ":")

	for _, name := range available {
		nameLower := strings.ToLower(name)
		nameBase, _, _ := strings.Cut(nameLower, ":")
		if nameLower == wantLower || nameBase == wantBase {
			return true
		}
	}
	return false
}

// Probe gathers the full snapshot for targetModel. Probing stops at the
// first negative answer: a server that is not running has no model list
// worth fetching.
func (m *Manager) Probe(ctx context.Context, targetModel string) *Status {
	status := &Status{TargetModel: targetModel}

	if !m.IsRemote() {
		status.Installed, status.BinaryPath = m.IsInstalled()
	} else {
		// Remote endpoints are reachable or not; the binary check
		// does not apply.
		status.Installed = true
	}

	status.Running = m.IsRunning(ctx)
	if !status.Running {
		return status
	}

	models, err := m.Models(ctx)
	if err != nil {
		return status
	}
	status.Models = models
	status.HasModel = matchModel(models, targetModel)
	return status
}
