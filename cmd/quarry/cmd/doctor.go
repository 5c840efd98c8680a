package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/internal/config"
	"github.com/quarrylabs/quarry/internal/preflight"
)

func newDoctorCmd() *cobra.Command {
	var (
		verbose    bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the workspace and diagnose issues",
		Long: `Run workspace diagnostics.

Checks:
  - Configuration validity (.quarry.yaml and user config)
  - Write permissions on the workspace
  - Disk space (100 MB minimum)
  - File descriptor limits (1024 minimum)
  - Corpus presence
  - Index state and build metadata
  - Embedder reachability (Ollama endpoint and model)

Corpus, index, and embedder findings are warnings, not failures: a
missing index just means 'quarry index' has not run, and a dead Ollama
degrades to static embeddings.`,
		Example: `  # Run diagnostics
  quarry doctor

  # Detailed output
  quarry doctor --verbose

  # Machine-readable output for scripting
  quarry doctor --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDoctor(ctx, cmd, verbose, jsonOutput)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed diagnostic info")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runDoctor(ctx context.Context, cmd *cobra.Command, verbose, jsonOutput bool) error {
	// Not loadWorkspace: a broken config must surface as a finding, not
	// abort the whole report.
	root, err := config.FindWorkspaceRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}

	checker := preflight.New(root,
		preflight.WithVerbose(verbose),
		preflight.WithOutput(cmd.OutOrStdout()),
	)
	results := checker.RunAll(ctx)

	if jsonOutput {
		if err := writeDoctorJSON(cmd, checker, results); err != nil {
			return err
		}
	} else {
		checker.PrintResults(results)

		if cfg := checker.Config(); cfg != nil {
			if age := preflight.MarkerAge(cfg.IndexDir(root)); age > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "\nLast clean check: %s ago\n", formatAge(age))
			}
		}
	}

	if checker.HasCriticalFailures(results) {
		return errors.New("system check failed")
	}

	// Record clean runs so serve can skip the gate next time.
	if cfg := checker.Config(); cfg != nil && checker.SummaryStatus(results) == "ready" {
		_ = preflight.MarkPassed(cfg.IndexDir(root))
	}
	return nil
}

type doctorReport struct {
	Status   string        `json:"status"`
	Checks   []doctorCheck `json:"checks"`
	Warnings []string      `json:"warnings,omitempty"`
	Errors   []string      `json:"errors,omitempty"`
}

type doctorCheck struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Message  string `json:"message"`
	Required bool   `json:"required"`
	Details  string `json:"details,omitempty"`
}

func writeDoctorJSON(cmd *cobra.Command, checker *preflight.Checker, results []preflight.CheckResult) error {
	report := doctorReport{
		Status: checker.SummaryStatus(results),
		Checks: make([]doctorCheck, len(results)),
	}

	for i, r := range results {
		report.Checks[i] = doctorCheck{
			Name:     r.Name,
			Status:   strings.ToLower(r.Status.String()),
			Message:  r.Message,
			Required: r.Required,
			Details:  r.Details,
		}
		if r.IsCritical() {
			report.Errors = append(report.Errors, r.Name+": "+r.Message)
		} else if r.Status == preflight.StatusWarn || r.Status == preflight.StatusFail {
			report.Warnings = append(report.Warnings, r.Name+": "+r.Message)
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

// formatAge renders a marker age in the largest useful unit.
func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "moments"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
