package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/internal/answer"
	"github.com/quarrylabs/quarry/internal/assemble"
	"github.com/quarrylabs/quarry/internal/mcp"
	"github.com/quarrylabs/quarry/internal/preflight"
	"github.com/quarrylabs/quarry/internal/search"
	"github.com/quarrylabs/quarry/internal/telemetry"
	"github.com/quarrylabs/quarry/pkg/version"
)

func newServeCmd() *cobra.Command {
	var (
		transport string
		addr      string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server over the index",
		Long: `Serve retrieval over the Model Context Protocol.

Exposes a 'retrieve' tool (query to ranked passages), an 'ask' tool
(question to grounded answer with references), and an index-status
resource. The stdio transport speaks JSON-RPC on stdin/stdout for MCP
clients like Claude Desktop.

Stdout carries protocol messages exclusively; diagnostics go to the log
file. Use 'quarry logs -f' in another terminal to watch them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, transport, addr)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "", "Transport: stdio (default from config)")
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address for network transports")

	return cmd
}

func runServe(ctx context.Context, transport, addr string) error {
	// The MCP protocol owns stdout from here on. Nothing below may print;
	// all diagnostics go through slog to the log file.
	root, cfg, err := loadWorkspace()
	if err != nil {
		return err
	}

	cleanup := setupCommandLogging(cfg)
	defer cleanup()

	if transport == "" {
		transport = cfg.Server.Transport
	}
	if transport == "" {
		transport = "stdio"
	}

	slog.Info("serve_starting",
		slog.String("version", version.Version),
		slog.String("root", root),
		slog.String("transport", transport))

	// The first run on a workspace gates on a silent diagnostic pass;
	// a clean run leaves a marker so later starts skip it.
	indexDir := cfg.IndexDir(root)
	if preflight.NeedsCheck(indexDir) {
		checker := preflight.New(root, preflight.WithOutput(io.Discard))
		results := checker.RunAll(ctx)
		if checker.HasCriticalFailures(results) {
			slog.Error("preflight_failed",
				slog.String("hint", "run 'quarry doctor' for diagnostics"))
			return fmt.Errorf("system check failed (run 'quarry doctor')")
		}
		if err := preflight.MarkPassed(indexDir); err != nil {
			slog.Debug("preflight_marker_write_failed", slog.String("error", err.Error()))
		}
	}

	stats := telemetry.NewQueryStats()

	components, err := openEngine(ctx, root, cfg, search.WithStats(stats))
	if err != nil {
		return err
	}
	defer func() { _ = components.Close() }()

	assembler, err := assemble.New(components.engine, assemblerConfig(cfg))
	if err != nil {
		return err
	}

	gcfg, err := generatorConfig(cfg)
	if err != nil {
		return err
	}
	generator, err := answer.NewGenerator(gcfg)
	if err != nil {
		return err
	}
	answerer, err := answer.NewAnswerer(generator, answer.WithLimits(answerLimits(cfg)))
	if err != nil {
		return err
	}

	server, err := mcp.NewServer(components.engine, assembler, answerer, components.passages, components.embedder, cfg)
	if err != nil {
		return err
	}
	server.SetStats(stats)

	return server.Serve(ctx, transport, addr)
}
