package search

import (
	"sort"

	"github.com/quarrylabs/quarry/internal/store"
)

// FusedCandidate is one passage after rank fusion, before diversity
// selection and hydration.
type FusedCandidate struct {
	ID string

	// Score is the sum of reciprocal rank contributions. Raw, not
	// normalized; diversity selection normalizes over the pool.
	Score float64

	// SparseRank and DenseRank are 1-based positions in the branch
	// rankings, zero when the branch did not return the passage.
	SparseRank int
	DenseRank  int

	// Branch-native scores, carried for display only.
	SparseScore float64
	DenseScore  float64

	MatchedTerms []string
}

// RRFFusion merges branch rankings with reciprocal rank fusion. Each branch
// contributes 1/(K+rank) for every passage it returned; a passage missing
// from a branch gets no contribution from it. Only positions matter, so the
// two branches need no score calibration.
type RRFFusion struct {
	// K dampens the gap between adjacent ranks. Larger values flatten
	// the contribution curve.
	K int
}

// NewRRFFusion returns a fusion with the given constant, or the default
// when k is not positive.
func NewRRFFusion(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultConfig().RRFK
	}
	return &RRFFusion{K: k}
}

// Fuse merges the two branch rankings into a single list ordered by fused
// score. Every id from either branch appears exactly once. Ties are broken
// toward the sparse branch, then by the lower rank there.
func (f *RRFFusion) Fuse(sparse []*store.SparseResult, dense []*store.VectorResult) []*FusedCandidate {
	byID := make(map[string]*FusedCandidate, len(sparse)+len(dense))
	fused := make([]*FusedCandidate, 0, len(sparse)+len(dense))

	get := func(id string) *FusedCandidate {
		if c, ok := byID[id]; ok {
			return c
		}
		c := &FusedCandidate{ID: id}
		byID[id] = c
		fused = append(fused, c)
		return c
	}

	for i, r := range sparse {
		c := get(r.ID)
		c.SparseRank = i + 1
		c.SparseScore = r.Score
		c.MatchedTerms = r.MatchedTerms
		c.Score += 1.0 / float64(f.K+i+1)
	}
	for i, r := range dense {
		c := get(r.ID)
		c.DenseRank = i + 1
		c.DenseScore = float64(r.Score)
		c.Score += 1.0 / float64(f.K+i+1)
	}

	sort.Slice(fused, func(i, j int) bool {
		return f.less(fused[i], fused[j])
	})
	return fused
}

// less orders candidates by fused score, breaking ties by which branch saw
// the candidate first (sparse before dense) and then by rank there. The
// order is total because ranks are unique within a branch.
func (f *RRFFusion) less(a, b *FusedCandidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	aSparse := a.SparseRank > 0
	bSparse := b.SparseRank > 0
	if aSparse != bSparse {
		return aSparse
	}
	if aSparse {
		return a.SparseRank < b.SparseRank
	}
	return a.DenseRank < b.DenseRank
}
