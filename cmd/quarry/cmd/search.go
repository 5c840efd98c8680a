package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/internal/output"
	"github.com/quarrylabs/quarry/internal/search"
	"github.com/quarrylabs/quarry/internal/telemetry"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	query      string
	queryFile  string
	k          int
	candidates int
	rrfK       int
	mmrLambda  float64
	filters    string
	format     string // "pretty", "json", "ids"
	snippet    bool
	metaKeys   []string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the indexed corpus",
		Long: `Run a hybrid query against the indexed corpus.

The BM25 and embedding branches each fetch a candidate pool, the pools are
merged with reciprocal rank fusion, and the top of the fused ranking is
diversified with maximal marginal relevance.

The query comes from the positional arguments, --q, or --q-file.`,
		Example: `  quarry search "thermal tolerance of reef fish"
  quarry search --q "spawning season" -k 5 --format json
  quarry search "coral bleaching" --filters '{"category": "BIOLOGY"}'
  quarry search "migration routes" --mmr-lambda 1.0 --snippet`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := resolveQuery(args, opts.query, opts.queryFile)
			if err != nil {
				return err
			}
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().StringVar(&opts.query, "q", "", "Query text (alternative to positional arguments)")
	cmd.Flags().StringVar(&opts.queryFile, "q-file", "", "Read the query from a file")
	cmd.Flags().IntVarP(&opts.k, "k", "k", 0, "Number of results (default from config)")
	cmd.Flags().IntVar(&opts.candidates, "candidates", 0, "Per-branch candidate pool size (default from config)")
	cmd.Flags().IntVar(&opts.rrfK, "rrf-k", 0, "Reciprocal rank fusion constant (default from config)")
	cmd.Flags().Float64Var(&opts.mmrLambda, "mmr-lambda", 0, "Relevance/diversity trade-off in [0,1]; 1.0 disables diversification")
	cmd.Flags().StringVar(&opts.filters, "filters", "", "Metadata filter as JSON, e.g. '{\"category\": \"BIOLOGY\"}'")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "pretty", "Output format: pretty, json, ids")
	cmd.Flags().BoolVar(&opts.snippet, "snippet", false, "Show passage text snippets")
	cmd.Flags().StringSliceVar(&opts.metaKeys, "meta-keys", nil, "Metadata keys to show per result (repeatable)")

	return cmd
}

// resolveQuery picks the query from positional args, --q, or --q-file, in
// that order of precedence.
func resolveQuery(args []string, flagQuery, queryFile string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if flagQuery != "" {
		return flagQuery, nil
	}
	if queryFile != "" {
		data, err := os.ReadFile(queryFile)
		if err != nil {
			return "", fmt.Errorf("failed to read query file: %w", err)
		}
		query := strings.TrimSpace(string(data))
		if query == "" {
			return "", fmt.Errorf("query file %s is empty", queryFile)
		}
		return query, nil
	}
	return "", fmt.Errorf("no query given (use a positional argument, --q, or --q-file)")
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	root, cfg, err := loadWorkspace()
	if err != nil {
		return err
	}

	cleanup := setupCommandLogging(cfg)
	defer cleanup()

	slog.Info("search_started", slog.String("query", query), slog.Int("k", opts.k))

	searchOpts := search.Options{
		K:             opts.k,
		CandidatePool: opts.candidates,
		RRFK:          opts.rrfK,
	}
	// Lambda zero means "pure diversity", so only an explicit flag counts.
	if cmd.Flags().Changed("mmr-lambda") {
		searchOpts.Lambda = search.LambdaAt(opts.mmrLambda)
	}
	if opts.filters != "" {
		filter, err := parseFilterFlag(opts.filters)
		if err != nil {
			return err
		}
		searchOpts.Filter = filter
	}

	components, err := openEngine(ctx, root, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = components.Close() }()

	result, err := components.engine.Retrieve(ctx, query, searchOpts)
	if err != nil {
		return err
	}

	logRun(cfg.RunsDir(root), result, searchOpts.K)

	view := output.View{
		Snippet:  opts.snippet,
		MetaKeys: opts.metaKeys,
	}
	switch opts.format {
	case "json":
		return output.WriteJSONL(cmd.OutOrStdout(), result, view)
	case "ids":
		return output.WriteIDs(cmd.OutOrStdout(), result)
	case "pretty", "":
		output.New(cmd.OutOrStdout()).Results(result, view)
		return nil
	default:
		return fmt.Errorf("unknown format: %s (valid: pretty, json, ids)", opts.format)
	}
}

// logRun records the query in the runs directory. Run logging never fails a
// search; problems go to the debug log.
func logRun(runsDir string, result *search.Result, k int) {
	logger, err := telemetry.NewRunLogger(runsDir)
	if err != nil {
		slog.Warn("run_logger_unavailable", slog.String("error", err.Error()))
		return
	}

	ids := make([]string, 0, len(result.Items))
	for _, item := range result.Items {
		if item != nil && item.Passage != nil {
			ids = append(ids, item.Passage.ID)
		}
	}

	rec := telemetry.RunRecord{
		Query:             result.Query,
		K:                 k,
		ResultIDs:         ids,
		DegradedBranch:    result.Debug.DegradedBranch,
		DiversityFallback: result.Debug.DiversityFallback,
		HydrationGaps:     len(result.Debug.HydrationGaps),
		LatencyMS:         float64(result.Debug.Timings.Total.Microseconds()) / 1000,
		StageMS: map[string]float64{
			"embed":   float64(result.Debug.Timings.Embed.Microseconds()) / 1000,
			"sparse":  float64(result.Debug.Timings.Sparse.Microseconds()) / 1000,
			"dense":   float64(result.Debug.Timings.Dense.Microseconds()) / 1000,
			"fuse":    float64(result.Debug.Timings.Fuse.Microseconds()) / 1000,
			"select":  float64(result.Debug.Timings.Select.Microseconds()) / 1000,
			"hydrate": float64(result.Debug.Timings.Hydrate.Microseconds()) / 1000,
		},
	}
	if err := logger.Log(rec); err != nil {
		slog.Warn("run_log_failed", slog.String("error", err.Error()))
	}
}
