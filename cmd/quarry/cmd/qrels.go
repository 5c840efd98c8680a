package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/internal/eval"
	"github.com/quarrylabs/quarry/internal/output"
)

// qrelsOptions holds CLI flags for qrels.
type qrelsOptions struct {
	queriesFile string
	outPath     string
	minRel      int
	validate    bool
}

func newQrelsCmd() *cobra.Command {
	var opts qrelsOptions

	cmd := &cobra.Command{
		Use:   "qrels [query]...",
		Short: "Generate or validate relevance judgments",
		Long: `Generate silver relevance judgments for a set of queries.

For each query, both retrieval branches fetch their top results; IDs the
branches agree on are labeled relevant, topped up from the fused order
until every query has at least the minimum label count. Silver labels are
weaker than hand judgments but good enough for comparing parameter sweeps
with 'quarry eval'.

Queries come from the positional arguments or from --queries, a text file
with one query per line ('#' lines are comments).

With --validate, no labels are generated; the existing qrels file is
parsed and summarized instead.`,
		Example: `  quarry qrels "spawning season" "reef shark threats"
  quarry qrels --queries queries.txt --min-rel 5
  quarry qrels --validate`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQrels(cmd.Context(), cmd, args, opts)
		},
	}

	cmd.Flags().StringVar(&opts.queriesFile, "queries", "", "File with one query per line")
	cmd.Flags().StringVar(&opts.outPath, "out", "", "Output qrels path (default from config)")
	cmd.Flags().IntVar(&opts.minRel, "min-rel", 0, "Minimum relevant IDs per query (default 3)")
	cmd.Flags().BoolVar(&opts.validate, "validate", false, "Validate the existing qrels file instead of generating")

	return cmd
}

func runQrels(ctx context.Context, cmd *cobra.Command, args []string, opts qrelsOptions) error {
	root, cfg, err := loadWorkspace()
	if err != nil {
		return err
	}

	cleanup := setupCommandLogging(cfg)
	defer cleanup()

	out := output.New(cmd.OutOrStdout())

	qrelsPath := opts.outPath
	if qrelsPath == "" {
		qrelsPath = cfg.QrelsPathResolved(root)
	}

	if opts.validate {
		return validateQrels(out, qrelsPath)
	}

	queries, err := collectQueries(args, opts.queriesFile)
	if err != nil {
		return err
	}
	if len(queries) == 0 {
		return fmt.Errorf("no queries given (use positional arguments or --queries)")
	}

	handles, err := openIndexes(ctx, root, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = handles.Close() }()

	gcfg := eval.DefaultGeneratorConfig()
	if cfg.Retrieval.RRFK > 0 {
		gcfg.RRFK = cfg.Retrieval.RRFK
	}
	if opts.minRel > 0 {
		gcfg.MinRel = opts.minRel
	}

	generator, err := eval.NewQrelsGenerator(handles.sparse, handles.dense, handles.embedder, gcfg)
	if err != nil {
		return err
	}

	out.Headerf("🏷️  Labeling %d queries", len(queries))
	qrels, err := generator.Generate(ctx, queries)
	if err != nil {
		return err
	}

	if err := eval.WriteQrels(qrelsPath, qrels); err != nil {
		return err
	}

	total := 0
	for _, q := range qrels {
		total += len(q.RelevantIDs)
	}
	out.Successf("Wrote %d judgments (%d labels) to %s", len(qrels), total, qrelsPath)
	out.Status("💡", "Review the labels, then run 'quarry eval' to score retrieval against them.")
	return nil
}

func validateQrels(out *output.Writer, path string) error {
	qrels, err := eval.ReadQrels(path)
	if err != nil {
		return err
	}

	total := 0
	filtered := 0
	for _, q := range qrels {
		total += len(q.RelevantIDs)
		if len(q.Filters) > 0 {
			filtered++
		}
	}

	out.Successf("%s is valid", path)
	out.KeyValue("Queries", fmt.Sprintf("%d", len(qrels)))
	out.KeyValue("Labels", fmt.Sprintf("%d", total))
	if filtered > 0 {
		out.KeyValue("With filters", fmt.Sprintf("%d", filtered))
	}
	return nil
}

// collectQueries merges positional queries with the lines of --queries.
// Blank lines and '#' comments are skipped.
func collectQueries(args []string, queriesFile string) ([]string, error) {
	queries := make([]string, 0, len(args))
	for _, arg := range args {
		if q := strings.TrimSpace(arg); q != "" {
			queries = append(queries, q)
		}
	}

	if queriesFile != "" {
		data, err := os.ReadFile(queriesFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read queries file: %w", err)
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			queries = append(queries, line)
		}
	}

	return queries, nil
}
