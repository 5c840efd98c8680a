package eval

import (
	"context"
	"errors"
	"fmt"

	"github.com/quarrylabs/quarry/internal/embed"
	"github.com/quarrylabs/quarry/internal/search"
	"github.com/quarrylabs/quarry/internal/store"
)

// ErrNilDependency is returned when a QrelsGenerator is created
// without one of its stores or the embedder.
var ErrNilDependency = errors.New("nil dependency")

// GeneratorConfig controls silver qrels generation.
type GeneratorConfig struct {
	// KDense is the dense branch depth. Default: 20.
	KDense int

	// KSparse is the sparse branch depth. Default: 30.
	KSparse int

	// RRFK is the fusion constant for the top-up ordering. Default: 60.
	RRFK int

	// MinRel is the number of relevant IDs to label per query.
	// Default: 3.
	MinRel int
}

// DefaultGeneratorConfig returns the silver labeling defaults.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		KDense:  20,
		KSparse: 30,
		RRFK:    search.DefaultConfig().RRFK,
		MinRel:  3,
	}
}

// QrelsGenerator derives silver relevance labels from branch
// agreement: IDs both branches rank highly are labeled relevant, and
// queries short of MinRel labels are topped up from the fused order.
// Silver labels are weaker than hand judgments but track the same
// signal both branches already agree on, which is enough for
// comparing parameter sweeps.
type QrelsGenerator struct {
	sparse   store.SparseIndex
	dense    store.DenseIndex
	embedder embed.Embedder
	config   GeneratorConfig
}

// NewQrelsGenerator creates a generator over both retrieval branches.
// Zero config fields fall back to DefaultGeneratorConfig.
func NewQrelsGenerator(sparse store.SparseIndex, dense store.DenseIndex, embedder embed.Embedder, cfg GeneratorConfig) (*QrelsGenerator, error) {
	if sparse == nil {
		return nil, fmt.Errorf("%w: sparse index", ErrNilDependency)
	}
	if dense == nil {
		return nil, fmt.Errorf("%w: dense index", ErrNilDependency)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder", ErrNilDependency)
	}

	defaults := DefaultGeneratorConfig()
	if cfg.KDense <= 0 {
		cfg.KDense = defaults.KDense
	}
	if cfg.KSparse <= 0 {
		cfg.KSparse = defaults.KSparse
	}
	if cfg.RRFK <= 0 {
		cfg.RRFK = defaults.RRFK
	}
	if cfg.MinRel <= 0 {
		cfg.MinRel = defaults.MinRel
	}

	return &QrelsGenerator{
		sparse:   sparse,
		dense:    dense,
		embedder: embedder,
		config:   cfg,
	}, nil
}

// Generate labels every query, one Qrel per query in input order.
func (g *QrelsGenerator) Generate(ctx context.Context, queries []string) ([]*Qrel, error) {
	qrels := make([]*Qrel, 0, len(queries))
	for _, query := range queries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		q, err := g.Label(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("label query %q: %w", query, err)
		}
		qrels = append(qrels, q)
	}
	return qrels, nil
}

// Label produces the silver judgment for one query: the intersection
// of both branch top lists in dense order, topped up from the fused
// order until MinRel IDs are labeled.
func (g *QrelsGenerator) Label(ctx context.Context, query string) (*Qrel, error) {
	embedding, err := g.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	denseHits, err := g.dense.Search(ctx, embedding, g.config.KDense, nil)
	if err != nil {
		return nil, fmt.Errorf("dense search: %w", err)
	}
	sparseHits, err := g.sparse.Search(ctx, query, g.config.KSparse)
	if err != nil {
		return nil, fmt.Errorf("sparse search: %w", err)
	}

	sparseSet := make(map[string]struct{}, len(sparseHits))
	for _, hit := range sparseHits {
		sparseSet[hit.ID] = struct{}{}
	}

	relIDs := make([]string, 0, g.config.MinRel)
	seen := make(map[string]struct{}, g.config.MinRel)
	add := func(id string) bool {
		if _, dup := seen[id]; dup {
			return false
		}
		seen[id] = struct{}{}
		relIDs = append(relIDs, id)
		return len(relIDs) >= g.config.MinRel
	}

	for _, hit := range denseHits {
		if _, both := sparseSet[hit.ID]; !both {
			continue
		}
		if add(hit.ID) {
			return &Qrel{Query: query, RelevantIDs: relIDs}, nil
		}
	}

	fused := search.NewRRFFusion(g.config.RRFK).Fuse(sparseHits, denseHits)
	for _, c := range fused {
		if add(c.ID) {
			break
		}
	}
	return &Qrel{Query: query, RelevantIDs: relIDs}, nil
}
