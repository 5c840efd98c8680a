package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/internal/eval"
	"github.com/quarrylabs/quarry/internal/output"
	"github.com/quarrylabs/quarry/internal/search"
)

// evalOptions holds CLI flags for eval.
type evalOptions struct {
	qrelsPath  string
	ks         []int
	candidates int
	rrfK       int
	mmrLambda  float64
	csv        bool
	jsonOut    bool
}

func newEvalCmd() *cobra.Command {
	var opts evalOptions

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate retrieval quality against relevance judgments",
		Long: `Replay judged queries through the retriever and score the results:
Recall@k, binary nDCG@k, MRR@k, and the rank of the first relevant hit
(p50/p95).

Judgments come from a qrels JSONL file, one {query, relevant_ids, filters}
object per line. Reports are written to the runs directory under the index.

The sweep flags (--candidates, --rrf-k, --mmr-lambda) override the
retriever configuration for the whole run, for comparing parameter
settings against the same judgments.`,
		Example: `  quarry eval
  quarry eval --k 5 --k 10 --csv
  quarry eval --mmr-lambda 1.0 --candidates 80`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEval(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.qrelsPath, "qrels", "", "Qrels JSONL path (default from config)")
	cmd.Flags().IntSliceVar(&opts.ks, "k", nil, "Cutoff depths to evaluate (default from config)")
	cmd.Flags().IntVar(&opts.candidates, "candidates", 0, "Per-branch candidate pool size (default from config)")
	cmd.Flags().IntVar(&opts.rrfK, "rrf-k", 0, "Reciprocal rank fusion constant (default from config)")
	cmd.Flags().Float64Var(&opts.mmrLambda, "mmr-lambda", 0, "Relevance/diversity trade-off in [0,1]")
	cmd.Flags().BoolVar(&opts.csv, "csv", false, "Also write per-query metrics as CSV")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print reports as JSON instead of text")

	return cmd
}

func runEval(ctx context.Context, cmd *cobra.Command, opts evalOptions) error {
	root, cfg, err := loadWorkspace()
	if err != nil {
		return err
	}

	cleanup := setupCommandLogging(cfg)
	defer cleanup()

	qrelsPath := opts.qrelsPath
	if qrelsPath == "" {
		qrelsPath = cfg.QrelsPathResolved(root)
	}
	qrels, err := eval.ReadQrels(qrelsPath)
	if err != nil {
		return err
	}

	ks := opts.ks
	if len(ks) == 0 {
		ks = cfg.Eval.Ks
	}
	if len(ks) == 0 {
		ks = []int{10}
	}

	searchOpts := search.Options{
		CandidatePool: opts.candidates,
		RRFK:          opts.rrfK,
	}
	if cmd.Flags().Changed("mmr-lambda") {
		searchOpts.Lambda = search.LambdaAt(opts.mmrLambda)
	}

	components, err := openEngine(ctx, root, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = components.Close() }()

	evaluator, err := eval.NewEvaluator(components.engine)
	if err != nil {
		return err
	}

	slog.Info("eval_started",
		slog.String("qrels", qrelsPath),
		slog.Int("queries", len(qrels)),
		slog.Any("ks", ks))

	out := output.New(cmd.OutOrStdout())
	runsDir := cfg.RunsDir(root)
	reports := make([]*eval.Report, 0, len(ks))

	if !opts.jsonOut {
		out.Headerf("📊 Evaluating %d queries from %s", len(qrels), qrelsPath)
	}

	for _, k := range ks {
		report, err := evaluator.Evaluate(ctx, qrels, k, searchOpts)
		if err != nil {
			return err
		}
		reports = append(reports, report)

		jsonPath := filepath.Join(runsDir, fmt.Sprintf("eval_k%d.json", k))
		if err := report.WriteJSON(jsonPath); err != nil {
			return err
		}

		csvPath := ""
		if opts.csv {
			csvPath = filepath.Join(runsDir, fmt.Sprintf("eval_k%d.csv", k))
			if err := report.WriteCSV(csvPath); err != nil {
				return err
			}
		}

		if !opts.jsonOut {
			printEvalSummary(out, report, jsonPath, csvPath)
		}
	}

	if opts.jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	}
	return nil
}

func printEvalSummary(out *output.Writer, report *eval.Report, jsonPath, csvPath string) {
	s := report.Summary
	out.Newline()
	out.Headerf("K=%d", s.K)
	out.KeyValue(fmt.Sprintf("Recall@%d", s.K), fmt.Sprintf("%.3f", s.RecallMean))
	out.KeyValue(fmt.Sprintf("nDCG@%d", s.K), fmt.Sprintf("%.3f", s.NDCGMean))
	out.KeyValue(fmt.Sprintf("MRR@%d", s.K), fmt.Sprintf("%.3f", s.MRRMean))
	out.KeyValue("First relevant", fmt.Sprintf("p50=%.1f  p95=%.1f", s.FirstRelRankP50, s.FirstRelRankP95))
	out.KeyValue("Report", jsonPath)
	if csvPath != "" {
		out.KeyValue("Per-query CSV", csvPath)
	}
}
