package preflight

import (
	"context"
	"fmt"

	"github.com/quarrylabs/quarry/internal/embed"
	"github.com/quarrylabs/quarry/internal/lifecycle"
)

// CheckEmbedder probes the configured embedding provider. Never critical:
// every provider degrades to the deterministic static embedder, so a dead
// Ollama costs quality, not availability.
func (c *Checker) CheckEmbedder(ctx context.Context) CheckResult {
	if c.cfg == nil {
		return skipped("embedder")
	}

	result := CheckResult{
		Name:     "embedder",
		Required: false,
	}

	// The config was validated during load, so the provider string parses.
	provider, _ := embed.ParseProvider(c.cfg.Embeddings.Provider)
	if provider == embed.ProviderStatic {
		result.Status = StatusPass
		result.Message = "static (deterministic, offline)"
		return result
	}

	// ollama or auto: probe the endpoint.
	manager := lifecycle.NewManager(c.cfg.Embeddings.OllamaHost)
	status := manager.Probe(ctx, c.cfg.Embeddings.Model)

	// A responding endpoint outranks the PATH lookup; the server may be
	// managed by systemd or running in a container.
	switch {
	case status.Running && status.HasModel:
		result.Status = StatusPass
		result.Message = fmt.Sprintf("ollama ready (model %s)", status.TargetModel)
		result.Details = fmt.Sprintf("endpoint: %s, %d models available", manager.Host(), len(status.Models))
	case status.Running:
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("model %s not pulled", status.TargetModel)
		result.Details = fmt.Sprintf("Run 'ollama pull %s'", status.TargetModel)
	case !status.Installed:
		result.Status = StatusWarn
		result.Message = "ollama not found on PATH"
		result.Details = "Install from https://ollama.com/download, or set embeddings.provider: static"
	default:
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("ollama not responding at %s", manager.Host())
		result.Details = "Start it with 'ollama serve'"
	}

	if provider == embed.ProviderAuto && result.Status == StatusWarn {
		result.Details += "; auto provider falls back to static embeddings"
	}
	return result
}
