package eval

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	qerrors "github.com/quarrylabs/quarry/internal/errors"
	"github.com/quarrylabs/quarry/internal/search"
	"github.com/quarrylabs/quarry/internal/store"
)

// ErrNilRetriever is returned when attempting to create an Evaluator
// without a retriever.
var ErrNilRetriever = errors.New("retriever is required")

// DefaultK is the evaluation depth when none is requested.
const DefaultK = 10

// QueryMetrics are the evaluation results for one query.
type QueryMetrics struct {
	Query        string   `json:"query"`
	RelCount     int      `json:"rel_count"`
	HitCount     int      `json:"hit_count"`
	Recall       float64  `json:"recall_at_k"`
	NDCG         float64  `json:"ndcg_at_k"`
	MRR          float64  `json:"mrr_at_k"`
	FirstRelRank int      `json:"first_rel_rank,omitempty"` // 0 when no hit in the top k
	RetrievedIDs []string `json:"retrieved_ids"`
}

// Summary aggregates metrics over all evaluated queries. The
// first-relevant percentiles count a query with no hit as rank k+1.
type Summary struct {
	Queries         int     `json:"queries"`
	K               int     `json:"k"`
	RecallMean      float64 `json:"recall_at_k_mean"`
	NDCGMean        float64 `json:"ndcg_at_k_mean"`
	MRRMean         float64 `json:"mrr_at_k_mean"`
	FirstRelRankP50 float64 `json:"first_rel_rank_p50"`
	FirstRelRankP95 float64 `json:"first_rel_rank_p95"`
}

// Params records the retrieval knobs a run used, for the report.
type Params struct {
	K             int     `json:"k"`
	CandidatePool int     `json:"candidate_pool,omitempty"`
	RRFK          int     `json:"rrf_k,omitempty"`
	MMRLambda     float64 `json:"mmr_lambda,omitempty"`
}

// Report is the outcome of one evaluation run.
type Report struct {
	Timestamp time.Time `json:"timestamp"`
	Params    Params    `json:"params"`
	Summary   *Summary  `json:"summary"`

	// PerQuery backs the CSV export; the JSON summary stays compact.
	PerQuery []*QueryMetrics `json:"-"`
}

// Evaluator replays qrels through a retriever and scores the results.
type Evaluator struct {
	retriever search.Retriever
}

// NewEvaluator creates an Evaluator over the given retriever.
func NewEvaluator(retriever search.Retriever) (*Evaluator, error) {
	if retriever == nil {
		return nil, ErrNilRetriever
	}
	return &Evaluator{retriever: retriever}, nil
}

// Evaluate scores each qrel's top k. opts carries sweep overrides
// (candidate pool, RRF constant, MMR lambda); a qrel's own filters
// replace opts.Filter for that query. Retrieval errors abort the run.
func (e *Evaluator) Evaluate(ctx context.Context, qrels []*Qrel, k int, opts search.Options) (*Report, error) {
	if len(qrels) == 0 {
		return nil, qerrors.ValidationError("no qrels to evaluate", nil)
	}
	if k <= 0 {
		k = DefaultK
	}
	opts.K = k

	perQuery := make([]*QueryMetrics, 0, len(qrels))
	firstRanks := make([]int, 0, len(qrels))
	var recallSum, ndcgSum, mrrSum float64

	for _, q := range qrels {
		queryOpts := opts
		if q.Filters != nil {
			filter, err := store.ParseFilterObject(q.Filters)
			if err != nil {
				return nil, qerrors.ValidationError(
					fmt.Sprintf("invalid filters for query %q", q.Query), err)
			}
			queryOpts.Filter = filter
		}

		res, err := e.retriever.Retrieve(ctx, q.Query, queryOpts)
		if err != nil {
			return nil, fmt.Errorf("evaluate query %q: %w", q.Query, err)
		}

		ids := make([]string, len(res.Items))
		for i, item := range res.Items {
			ids[i] = item.Passage.ID
		}

		relevant := make(map[string]struct{}, len(q.RelevantIDs))
		for _, id := range q.RelevantIDs {
			relevant[id] = struct{}{}
		}

		m := &QueryMetrics{
			Query:        q.Query,
			RelCount:     len(relevant),
			Recall:       RecallAtK(ids, relevant, k),
			NDCG:         NDCGAtK(ids, relevant, k),
			MRR:          MRRAtK(ids, relevant, k),
			RetrievedIDs: topK(ids, k),
		}
		for _, id := range m.RetrievedIDs {
			if _, ok := relevant[id]; ok {
				m.HitCount++
			}
		}
		if rank, ok := FirstRelevantRank(ids, relevant, k); ok {
			m.FirstRelRank = rank
			firstRanks = append(firstRanks, rank)
		} else {
			firstRanks = append(firstRanks, k+1)
		}

		perQuery = append(perQuery, m)
		recallSum += m.Recall
		ndcgSum += m.NDCG
		mrrSum += m.MRR
	}

	n := float64(len(perQuery))
	summary := &Summary{
		Queries:         len(perQuery),
		K:               k,
		RecallMean:      recallSum / n,
		NDCGMean:        ndcgSum / n,
		MRRMean:         mrrSum / n,
		FirstRelRankP50: Percentile(firstRanks, 50),
		FirstRelRankP95: Percentile(firstRanks, 95),
	}

	return &Report{
		Timestamp: time.Now().UTC(),
		Params: Params{
			K:             k,
			CandidatePool: opts.CandidatePool,
			RRFK:          opts.RRFK,
			MMRLambda:     lambdaValue(opts.Lambda),
		},
		Summary:  summary,
		PerQuery: perQuery,
	}, nil
}

func lambdaValue(lambda *float64) float64 {
	if lambda == nil {
		return 0
	}
	return *lambda
}

// WriteJSON writes the report summary as indented JSON, creating
// parent directories as needed.
func (r *Report) WriteJSON(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return qerrors.IOError(fmt.Sprintf("create report directory %s", dir), err)
		}
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return qerrors.InternalError("marshal evaluation report", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return qerrors.IOError(fmt.Sprintf("write report %s", path), err)
	}
	return nil
}

// WriteCSV writes per-query metrics as CSV, creating parent
// directories as needed.
func (r *Report) WriteCSV(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return qerrors.IOError(fmt.Sprintf("create report directory %s", dir), err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return qerrors.IOError(fmt.Sprintf("create report %s", path), err)
	}

	w := csv.NewWriter(f)
	header := []string{"query", "rel_count", "hit_count", "recall@k", "ndcg@k", "mrr@k", "first_rel_rank", "retrieved_ids"}
	if err := w.Write(header); err != nil {
		f.Close()
		return qerrors.IOError(fmt.Sprintf("write report %s", path), err)
	}
	for _, m := range r.PerQuery {
		firstRank := ""
		if m.FirstRelRank > 0 {
			firstRank = strconv.Itoa(m.FirstRelRank)
		}
		row := []string{
			m.Query,
			strconv.Itoa(m.RelCount),
			strconv.Itoa(m.HitCount),
			strconv.FormatFloat(m.Recall, 'f', 6, 64),
			strconv.FormatFloat(m.NDCG, 'f', 6, 64),
			strconv.FormatFloat(m.MRR, 'f', 6, 64),
			firstRank,
			strings.Join(m.RetrievedIDs, " "),
		}
		if err := w.Write(row); err != nil {
			f.Close()
			return qerrors.IOError(fmt.Sprintf("write report %s", path), err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return qerrors.IOError(fmt.Sprintf("write report %s", path), err)
	}
	if err := f.Close(); err != nil {
		return qerrors.IOError(fmt.Sprintf("close report %s", path), err)
	}
	return nil
}
