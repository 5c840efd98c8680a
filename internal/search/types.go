// Package search implements hybrid retrieval over a passage corpus. A sparse
// keyword branch and a dense vector branch run in parallel, their rankings are
// merged with reciprocal rank fusion, and the fused pool is re-ranked for
// diversity with maximal marginal relevance before payloads are hydrated.
package search

import (
	"context"
	"time"

	"github.com/quarrylabs/quarry/internal/store"
)

// Branch names used in degradation metadata and error details.
const (
	BranchSparse = "sparse"
	BranchDense  = "dense"
)

// Retriever is the interface consumed by the CLI, the MCP server, and the
// evaluation harness.
type Retriever interface {
	// Retrieve runs a hybrid query and returns at most opts.K hydrated items.
	Retrieve(ctx context.Context, query string, opts Options) (*Result, error)
}

// Config holds engine-level retrieval parameters. Zero values are replaced
// with defaults; per-call overrides in Options take precedence.
type Config struct {
	// FinalK is the number of results returned when Options.K is zero.
	FinalK int

	// MaxK caps the requested result count.
	MaxK int

	// CandidatePool is how many candidates each branch fetches before fusion.
	CandidatePool int

	// RRFK is the reciprocal rank fusion constant.
	RRFK int

	// MMRLambda trades relevance (1.0) against diversity (0.0).
	MMRLambda float64

	// MaxFetchBatch bounds the id count per hydration batch.
	MaxFetchBatch int
}

// DefaultConfig returns the standard retrieval parameters.
func DefaultConfig() Config {
	return Config{
		FinalK:        10,
		MaxK:          100,
		CandidatePool: 40,
		RRFK:          60,
		MMRLambda:     0.7,
		MaxFetchBatch: 256,
	}
}

// Options carries per-call overrides. Zero values fall back to the engine
// Config; Lambda is a pointer because zero is a meaningful setting.
type Options struct {
	// K is the number of results to return.
	K int

	// CandidatePool overrides the per-branch fetch depth.
	CandidatePool int

	// RRFK overrides the fusion constant.
	RRFK int

	// Lambda overrides the relevance/diversity trade-off. Must be in [0, 1].
	Lambda *float64

	// Filter restricts results by payload metadata.
	Filter *store.Filter
}

// LambdaAt is a convenience for building Options with an explicit lambda.
func LambdaAt(v float64) *float64 { return &v }

// Item is one hydrated search result.
type Item struct {
	Passage *store.Passage `json:"passage"`

	// Score is the raw reciprocal rank fusion sum.
	Score float64 `json:"score"`

	// SparseRank and DenseRank are 1-based ranks in the branch results,
	// zero when the branch did not return the passage.
	SparseRank int `json:"sparse_rank,omitempty"`
	DenseRank  int `json:"dense_rank,omitempty"`

	// SparseScore and DenseScore are the branch-native scores, kept for
	// display and debugging only; fusion works on ranks.
	SparseScore float64 `json:"sparse_score,omitempty"`
	DenseScore  float64 `json:"dense_score,omitempty"`

	// MatchedTerms are the query terms the sparse branch matched.
	MatchedTerms []string `json:"matched_terms,omitempty"`
}

// Result is the outcome of one Retrieve call.
type Result struct {
	Query string  `json:"query"`
	Items []*Item `json:"items"`

	// Degraded is true when a branch failed and the result was produced
	// from the surviving branch alone.
	Degraded bool `json:"degraded,omitempty"`

	Debug Debug `json:"debug"`
}

// Debug carries developer-facing diagnostics for a Retrieve call.
type Debug struct {
	// DegradedBranch names the failed branch ("sparse" or "dense").
	DegradedBranch string `json:"degraded_branch,omitempty"`

	// BranchErrors holds the messages of recovered branch failures.
	BranchErrors []string `json:"branch_errors,omitempty"`

	// DiversityFallback is true when candidate embeddings could not be
	// hydrated and the result is the truncated fused ranking instead of
	// a diversity-selected one.
	DiversityFallback bool `json:"diversity_fallback,omitempty"`

	// HydrationGaps lists candidate ids that were dropped because their
	// payloads could not be fetched. Gaps shorten the result; they are
	// never padded over.
	HydrationGaps []string `json:"hydration_gaps,omitempty"`

	SparseCount int `json:"sparse_count"`
	DenseCount  int `json:"dense_count"`
	PoolSize    int `json:"pool_size"`

	Timings Timings `json:"timings"`
}

// Timings breaks a Retrieve call down by stage. Embed and Dense overlap
// Sparse in wall time because the branches run concurrently.
type Timings struct {
	Embed   time.Duration `json:"embed"`
	Sparse  time.Duration `json:"sparse"`
	Dense   time.Duration `json:"dense"`
	Fuse    time.Duration `json:"fuse"`
	Select  time.Duration `json:"select"`
	Hydrate time.Duration `json:"hydrate"`
	Total   time.Duration `json:"total"`
}
