//go:build ignore

// Compares two `quarry eval` reports and fails on quality regressions.
// Usage: go run scripts/eval-compare.go [options] <current.json> <baseline.json>
//
// The inputs are the per-K report files eval writes under .quarry/runs/
// (eval_k10.json and friends). Recall, NDCG, and MRR may not drop by more
// than the threshold relative to the baseline; the first-relevant-rank
// percentiles may not grow by more than the threshold.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
)

// DefaultThreshold is the allowed relative quality change (5%).
const DefaultThreshold = 0.05

// Report mirrors the JSON quarry eval writes; only compared fields appear.
type Report struct {
	Params struct {
		K             int     `json:"k"`
		CandidatePool int     `json:"candidate_pool"`
		RRFK          int     `json:"rrf_k"`
		MMRLambda     float64 `json:"mmr_lambda"`
	} `json:"params"`
	Summary struct {
		Queries         int     `json:"queries"`
		K               int     `json:"k"`
		RecallMean      float64 `json:"recall_at_k_mean"`
		NDCGMean        float64 `json:"ndcg_at_k_mean"`
		MRRMean         float64 `json:"mrr_at_k_mean"`
		FirstRelRankP50 float64 `json:"first_rel_rank_p50"`
		FirstRelRankP95 float64 `json:"first_rel_rank_p95"`
	} `json:"summary"`
}

// Delta is the comparison of one metric.
type Delta struct {
	Metric     string  `json:"metric"`
	Current    float64 `json:"current"`
	Baseline   float64 `json:"baseline"`
	Change     float64 `json:"change"`
	Regression bool    `json:"regression"`
}

// Comparison is the full report for both output modes.
type Comparison struct {
	K         int      `json:"k"`
	Queries   int      `json:"queries"`
	Deltas    []*Delta `json:"deltas"`
	Regressed bool     `json:"regressed"`
}

var (
	outputJSON = flag.Bool("json", false, "Output results as JSON")
	threshold  = flag.Float64("threshold", DefaultThreshold, "Allowed relative change (0.0-1.0)")
	failOnDrop = flag.Bool("fail", true, "Exit with code 1 on regression")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <current.json> <baseline.json>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Compares quarry eval reports and detects retrieval quality regressions.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 2 {
		flag.Usage()
		os.Exit(1)
	}

	current, err := readReport(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading current report %s: %v\n", flag.Arg(0), err)
		os.Exit(1)
	}
	baseline, err := readReport(flag.Arg(1))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading baseline report %s: %v\n", flag.Arg(1), err)
		os.Exit(1)
	}

	if current.Summary.K != baseline.Summary.K {
		fmt.Fprintf(os.Stderr, "Error: reports use different K (%d vs %d); compare like with like\n",
			current.Summary.K, baseline.Summary.K)
		os.Exit(1)
	}

	report := compare(current, baseline, *threshold)

	if *outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
	} else {
		printText(report, *threshold)
	}

	if *failOnDrop && report.Regressed {
		os.Exit(1)
	}
}

func readReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if r.Summary.Queries == 0 {
		return nil, fmt.Errorf("%s has no evaluated queries", path)
	}
	return &r, nil
}

func compare(current, baseline *Report, threshold float64) *Comparison {
	c := &Comparison{
		K:       current.Summary.K,
		Queries: current.Summary.Queries,
	}

	// Higher is better for the quality means.
	c.add("recall", current.Summary.RecallMean, baseline.Summary.RecallMean, threshold, true)
	c.add("ndcg", current.Summary.NDCGMean, baseline.Summary.NDCGMean, threshold, true)
	c.add("mrr", current.Summary.MRRMean, baseline.Summary.MRRMean, threshold, true)

	// Lower is better for the rank percentiles.
	c.add("first_rel_rank_p50", current.Summary.FirstRelRankP50, baseline.Summary.FirstRelRankP50, threshold, false)
	c.add("first_rel_rank_p95", current.Summary.FirstRelRankP95, baseline.Summary.FirstRelRankP95, threshold, false)

	return c
}

func (c *Comparison) add(metric string, current, baseline, threshold float64, higherBetter bool) {
	d := &Delta{
		Metric:   metric,
		Current:  current,
		Baseline: baseline,
	}
	if baseline != 0 {
		d.Change = (current - baseline) / math.Abs(baseline)
	}
	if higherBetter {
		d.Regression = d.Change < -threshold
	} else {
		d.Regression = d.Change > threshold
	}
	if d.Regression {
		c.Regressed = true
	}
	c.Deltas = append(c.Deltas, d)
}

func printText(report *Comparison, threshold float64) {
	fmt.Printf("Eval comparison (K=%d, %d queries, threshold %.0f%%)\n\n", report.K, report.Queries, threshold*100)
	fmt.Printf("%-22s %10s %10s %9s\n", "metric", "current", "baseline", "change")
	for _, d := range report.Deltas {
		marker := ""
		if d.Regression {
			marker = "  REGRESSION"
		}
		fmt.Printf("%-22s %10.4f %10.4f %+8.1f%%%s\n", d.Metric, d.Current, d.Baseline, d.Change*100, marker)
	}
	fmt.Println()
	if report.Regressed {
		fmt.Println("FAIL: retrieval quality regressed")
	} else {
		fmt.Println("OK: no regression")
	}
}
