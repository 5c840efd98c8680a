package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/quarrylabs/quarry/internal/config"
)

// CheckStatus is the outcome of one check.
type CheckStatus int

const (
	// StatusPass means the check passed.
	StatusPass CheckStatus = iota
	// StatusWarn means a non-critical finding.
	StatusWarn
	// StatusFail means the check failed.
	StatusFail
)

// String returns the uppercase status label.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// CheckResult is the outcome of a single diagnostic.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical reports a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Checker runs the workspace diagnostics. The configuration loads during
// RunAll; checks that need it degrade to a skip warning when loading fails
// so one broken .quarry.yaml never hides the other findings.
type Checker struct {
	root    string
	verbose bool
	output  io.Writer

	cfg    *config.Config
	cfgErr error
}

// Option configures a Checker.
type Option func(*Checker)

// WithVerbose prints check details under each line.
func WithVerbose(verbose bool) Option {
	return func(c *Checker) {
		c.verbose = verbose
	}
}

// WithOutput sets the writer PrintResults uses.
func WithOutput(w io.Writer) Option {
	return func(c *Checker) {
		c.output = w
	}
}

// New creates a Checker for the workspace at root.
func New(root string, opts ...Option) *Checker {
	c := &Checker{
		root:   root,
		output: os.Stdout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs every diagnostic and returns the results in display order.
func (c *Checker) RunAll(ctx context.Context) []CheckResult {
	results := []CheckResult{
		c.CheckConfig(),
		c.CheckWritePermissions(),
		c.CheckDiskSpace(),
		c.CheckFileDescriptors(),
		c.CheckCorpus(),
		c.CheckIndex(ctx),
		c.CheckEmbedder(ctx),
	}
	return results
}

// CheckConfig loads and validates the layered configuration. The loaded
// config feeds the corpus, index, and embedder checks.
func (c *Checker) CheckConfig() CheckResult {
	result := CheckResult{
		Name:     "config",
		Required: true,
	}

	c.cfg, c.cfgErr = config.Load(c.root)
	if c.cfgErr != nil {
		result.Status = StatusFail
		result.Message = c.cfgErr.Error()
		return result
	}

	result.Status = StatusPass
	result.Message = "configuration valid"
	projectCfg := filepath.Join(c.root, ".quarry.yaml")
	if _, err := os.Stat(projectCfg); err == nil {
		result.Details = fmt.Sprintf("project config: %s", projectCfg)
	} else {
		result.Details = "no project config; defaults and user config apply"
	}
	return result
}

// CheckWritePermissions verifies the workspace root accepts new files.
func (c *Checker) CheckWritePermissions() CheckResult {
	result := CheckResult{
		Name:     "write_permissions",
		Required: true,
	}

	probe := filepath.Join(c.root, ".quarry-preflight-probe")
	f, err := os.Create(probe)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot write to %s: %v", c.root, err)
		return result
	}
	_ = f.Close()
	_ = os.Remove(probe)

	result.Status = StatusPass
	result.Message = "OK"
	return result
}

// Config returns the configuration CheckConfig loaded, nil when loading
// failed or RunAll has not run yet.
func (c *Checker) Config() *config.Config {
	return c.cfg
}

// skipped is the shared result for checks that need a valid configuration.
func skipped(name string) CheckResult {
	return CheckResult{
		Name:    name,
		Status:  StatusWarn,
		Message: "skipped: configuration invalid",
	}
}

// HasCriticalFailures reports whether any required check failed.
func (c *Checker) HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus collapses the results into ready, ready_with_warnings, or
// failed.
func (c *Checker) SummaryStatus(results []CheckResult) string {
	hasWarnings := false
	for _, r := range results {
		if r.IsCritical() {
			return "failed"
		}
		if r.Status == StatusWarn || r.Status == StatusFail {
			hasWarnings = true
		}
	}
	if hasWarnings {
		return "ready_with_warnings"
	}
	return "ready"
}

// PrintResults writes the human-readable report.
func (c *Checker) PrintResults(results []CheckResult) {
	_, _ = fmt.Fprintln(c.output, "Quarry Workspace Check")
	_, _ = fmt.Fprintln(c.output, "======================")
	_, _ = fmt.Fprintln(c.output)

	for _, r := range results {
		_, _ = fmt.Fprintf(c.output, "[%s] %s: %s\n", r.Status, r.Name, r.Message)
		if c.verbose && r.Details != "" {
			_, _ = fmt.Fprintf(c.output, "       %s\n", r.Details)
		}
	}

	_, _ = fmt.Fprintln(c.output)
	_, _ = fmt.Fprintf(c.output, "Status: %s\n", strings.ToUpper(c.SummaryStatus(results)))

	var warnings, errors []string
	for _, r := range results {
		if r.IsCritical() {
			errors = append(errors, r.Name+": "+r.Message)
		} else if r.Status == StatusWarn || r.Status == StatusFail {
			warnings = append(warnings, r.Name+": "+r.Message)
		}
	}

	if len(errors) > 0 {
		_, _ = fmt.Fprintln(c.output)
		_, _ = fmt.Fprintf(c.output, "%d error(s):\n", len(errors))
		for _, e := range errors {
			_, _ = fmt.Fprintf(c.output, "  - %s\n", e)
		}
	}
	if len(warnings) > 0 {
		_, _ = fmt.Fprintln(c.output)
		_, _ = fmt.Fprintf(c.output, "%d warning(s):\n", len(warnings))
		for _, w := range warnings {
			_, _ = fmt.Fprintf(c.output, "  - %s\n", w)
		}
	}
}
