package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quarrylabs/quarry/internal/embed"
	qerrors "github.com/quarrylabs/quarry/internal/errors"
	"github.com/quarrylabs/quarry/internal/store"
	"github.com/quarrylabs/quarry/internal/telemetry"
)

// ErrNilDependency is returned by NewEngine when a required component is
// missing.
var ErrNilDependency = errors.New("nil dependency")

// Engine coordinates the two retrieval branches, fusion, diversity
// selection, and hydration. It holds no per-query state; a single Engine is
// safe for concurrent Retrieve calls.
type Engine struct {
	sparse   store.SparseIndex
	dense    store.DenseIndex
	passages store.PassageStore
	embedder embed.Embedder
	config   Config
	stats    *telemetry.QueryStats

	closeMu sync.Mutex
	closed  bool
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithConfig replaces the default retrieval parameters.
func WithConfig(cfg Config) EngineOption {
	return func(e *Engine) { e.config = cfg }
}

// WithStats attaches a query telemetry collector.
func WithStats(stats *telemetry.QueryStats) EngineOption {
	return func(e *Engine) { e.stats = stats }
}

// NewEngine builds an Engine over the given indexes and stores. All four
// dependencies are required; the engine does not take ownership until Close.
func NewEngine(sparse store.SparseIndex, dense store.DenseIndex, passages store.PassageStore, embedder embed.Embedder, opts ...EngineOption) (*Engine, error) {
	if sparse == nil {
		return nil, fmt.Errorf("%w: sparse index", ErrNilDependency)
	}
	if dense == nil {
		return nil, fmt.Errorf("%w: dense index", ErrNilDependency)
	}
	if passages == nil {
		return nil, fmt.Errorf("%w: passage store", ErrNilDependency)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder", ErrNilDependency)
	}

	e := &Engine{
		sparse:   sparse,
		dense:    dense,
		passages: passages,
		embedder: embedder,
		config:   DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.config = e.config.withDefaults()
	if e.config.MMRLambda < 0 || e.config.MMRLambda > 1 {
		return nil, qerrors.ConfigError(fmt.Sprintf("mmr lambda must be in [0, 1], got %g", e.config.MMRLambda), nil)
	}
	return e, nil
}

// Retrieve runs the hybrid pipeline for one query. A single failed branch
// degrades the call to the surviving branch and is reported through the
// result; the call fails outright only when both branches fail, when the
// parameters are invalid, or when the context ends.
func (e *Engine) Retrieve(ctx context.Context, query string, opts Options) (*Result, error) {
	start := time.Now()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, qerrors.New(qerrors.ErrCodeQueryEmpty, "query is empty", nil).
			WithSuggestion("provide a non-empty query string")
	}
	p, err := e.config.resolve(opts)
	if err != nil {
		return nil, err
	}

	br := e.runBranches(ctx, query, p)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if br.sparseErr != nil && br.denseErr != nil {
		return nil, qerrors.New(qerrors.ErrCodeAllBranchesDown, "both retrieval branches failed",
			errors.Join(br.sparseErr, br.denseErr))
	}

	res := &Result{Query: query, Items: []*Item{}}
	res.Debug.SparseCount = len(br.sparse)
	res.Debug.DenseCount = len(br.dense)
	res.Debug.Timings.Embed = br.embedDur
	res.Debug.Timings.Sparse = br.sparseDur
	res.Debug.Timings.Dense = br.denseDur
	if br.sparseErr != nil {
		res.Degraded = true
		res.Debug.DegradedBranch = BranchSparse
		res.Debug.BranchErrors = append(res.Debug.BranchErrors, br.sparseErr.Error())
		slog.Warn("sparse branch failed, serving dense-only results", "query", query, "error", br.sparseErr)
	}
	if br.denseErr != nil {
		res.Degraded = true
		res.Debug.DegradedBranch = BranchDense
		res.Debug.BranchErrors = append(res.Debug.BranchErrors, br.denseErr.Error())
		slog.Warn("dense branch failed, serving sparse-only results", "query", query, "error", br.denseErr)
	}

	fuseStart := time.Now()
	fusion := &RRFFusion{K: p.RRFK}
	pool := fusion.Fuse(br.sparse, br.dense)
	res.Debug.Timings.Fuse = time.Since(fuseStart)
	res.Debug.PoolSize = len(pool)

	if len(pool) == 0 {
		e.finish(res, start)
		return res, nil
	}

	selStart := time.Now()
	selected, err := e.selectFromPool(ctx, pool, p, res)
	if err != nil {
		return nil, err
	}
	res.Debug.Timings.Select = time.Since(selStart)

	hydStart := time.Now()
	items, gaps, err := e.hydrate(ctx, selected, p, res.Debug.DiversityFallback)
	if err != nil {
		return nil, err
	}
	res.Debug.Timings.Hydrate = time.Since(hydStart)
	res.Items = items
	res.Debug.HydrationGaps = append(res.Debug.HydrationGaps, gaps...)
	if len(gaps) > 0 {
		slog.Warn("dropped results with missing payloads", "query", query, "dropped", len(gaps))
	}

	e.finish(res, start)
	return res, nil
}

// branchResults carries the outcome of the parallel retrieval branches.
// Errors are recorded here instead of being returned through the errgroup
// so that one failing branch cannot cancel the other.
type branchResults struct {
	sparse    []*store.SparseResult
	dense     []*store.VectorResult
	sparseErr error
	denseErr  error
	embedDur  time.Duration
	sparseDur time.Duration
	denseDur  time.Duration
}

func (e *Engine) runBranches(ctx context.Context, query string, p params) branchResults {
	var br branchResults
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		t0 := time.Now()
		results, err := e.sparse.Search(gctx, query, p.CandidatePool)
		br.sparseDur = time.Since(t0)
		if err != nil {
			br.sparseErr = qerrors.BranchError(BranchSparse, err)
			return nil
		}
		br.sparse = results
		return nil
	})

	g.Go(func() error {
		t0 := time.Now()
		vec, err := e.embedder.Embed(gctx, query)
		br.embedDur = time.Since(t0)
		if err != nil {
			br.denseErr = qerrors.BranchError(BranchDense, err)
			return nil
		}
		t0 = time.Now()
		results, err := e.dense.Search(gctx, vec, p.CandidatePool, p.Filter)
		br.denseDur = time.Since(t0)
		if err != nil {
			br.denseErr = qerrors.BranchError(BranchDense, err)
			return nil
		}
		br.dense = results
		return nil
	})

	_ = g.Wait()
	return br
}

// selectFromPool fetches candidate payloads and runs diversity selection.
// When payloads cannot be fetched at all, it falls back to the truncated
// fused ranking and marks the result; metadata filtering then happens
// against the passage store during hydration instead.
func (e *Engine) selectFromPool(ctx context.Context, pool []*FusedCandidate, p params, res *Result) ([]*FusedCandidate, error) {
	payloads, err := e.fetchPayloads(ctx, pool)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("candidate payload fetch failed, serving fused order", "error", err)
	}
	if err != nil || len(payloads) == 0 {
		res.Debug.DiversityFallback = true
		return pool, nil
	}

	mmrPool := make([]*FusedCandidate, 0, len(pool))
	embs := make(map[string][]float32, len(pool))
	for _, c := range pool {
		pl, ok := payloads[c.ID]
		if !ok {
			res.Debug.HydrationGaps = append(res.Debug.HydrationGaps, c.ID)
			continue
		}
		if p.Filter != nil && !p.Filter.Matches(pl.Metadata) {
			continue
		}
		mmrPool = append(mmrPool, c)
		embs[c.ID] = pl.Embedding
	}
	return SelectDiverse(mmrPool, embs, p.K, p.Lambda), nil
}

// fetchPayloads loads payloads for the pool from the dense index in batches
// of at most MaxFetchBatch ids.
func (e *Engine) fetchPayloads(ctx context.Context, pool []*FusedCandidate) (map[string]*store.Payload, error) {
	ids := make([]string, len(pool))
	for i, c := range pool {
		ids[i] = c.ID
	}

	payloads := make(map[string]*store.Payload, len(ids))
	for start := 0; start < len(ids); start += e.config.MaxFetchBatch {
		end := min(start+e.config.MaxFetchBatch, len(ids))
		batch, err := e.dense.Fetch(ctx, ids[start:end])
		if err != nil {
			return nil, err
		}
		for id, pl := range batch {
			payloads[id] = pl
		}
	}
	return payloads, nil
}

// hydrate resolves selected candidates into passages, keeping selection
// order. Ids the passage store no longer has are dropped and reported; the
// shortfall is never padded from lower-ranked candidates. In fallback mode
// the input is the whole fused pool and the metadata filter is applied
// here, so hydration stops once k items pass.
func (e *Engine) hydrate(ctx context.Context, selected []*FusedCandidate, p params, fallback bool) ([]*Item, []string, error) {
	byID := make(map[string]*store.Passage, len(selected))
	for start := 0; start < len(selected); start += e.config.MaxFetchBatch {
		end := min(start+e.config.MaxFetchBatch, len(selected))
		ids := make([]string, 0, end-start)
		for _, c := range selected[start:end] {
			ids = append(ids, c.ID)
		}
		batch, err := e.passages.GetPassages(ctx, ids)
		if err != nil {
			return nil, nil, qerrors.IOError("hydrate search results", err)
		}
		for _, passage := range batch {
			byID[passage.ID] = passage
		}
	}

	items := make([]*Item, 0, min(p.K, len(selected)))
	var gaps []string
	for _, c := range selected {
		passage, ok := byID[c.ID]
		if !ok {
			gaps = append(gaps, c.ID)
			continue
		}
		if fallback && p.Filter != nil && !p.Filter.Matches(passage.Metadata) {
			continue
		}
		items = append(items, &Item{
			Passage:      passage,
			Score:        c.Score,
			SparseRank:   c.SparseRank,
			DenseRank:    c.DenseRank,
			SparseScore:  c.SparseScore,
			DenseScore:   c.DenseScore,
			MatchedTerms: c.MatchedTerms,
		})
		if len(items) == p.K {
			break
		}
	}
	return items, gaps, nil
}

// finish stamps the total latency, records telemetry, and logs the call.
func (e *Engine) finish(res *Result, start time.Time) {
	res.Debug.Timings.Total = time.Since(start)
	if e.stats != nil {
		e.stats.Record(telemetry.QueryEvent{
			Query:             res.Query,
			ResultCount:       len(res.Items),
			Latency:           res.Debug.Timings.Total,
			DegradedBranch:    res.Debug.DegradedBranch,
			DiversityFallback: res.Debug.DiversityFallback,
			HydrationGaps:     len(res.Debug.HydrationGaps),
			Timestamp:         time.Now(),
		})
	}
	slog.Debug("retrieve complete",
		"query", res.Query,
		"items", len(res.Items),
		"pool", res.Debug.PoolSize,
		"degraded", res.Degraded,
		"total", res.Debug.Timings.Total)
}

// EngineStats summarizes the indexes behind the engine.
type EngineStats struct {
	SparsePassages int `json:"sparse_passages"`
	DenseVectors   int `json:"dense_vectors"`
	StoredPassages int `json:"stored_passages"`
}

// Stats reports corpus counts for status output.
func (e *Engine) Stats(ctx context.Context) (*EngineStats, error) {
	stored, err := e.passages.Count(ctx)
	if err != nil {
		return nil, qerrors.IOError("read passage count", err)
	}
	return &EngineStats{
		SparsePassages: e.sparse.Stats().PassageCount,
		DenseVectors:   e.dense.Count(),
		StoredPassages: stored,
	}, nil
}

// Close releases the underlying indexes, stores, and the embedder. It is
// safe to call more than once.
func (e *Engine) Close() error {
	e.closeMu.Lock()
	defer e.closeMu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	// The stats collector is caller-owned and stays open.
	return errors.Join(
		e.sparse.Close(),
		e.dense.Close(),
		e.passages.Close(),
		e.embedder.Close(),
	)
}
