package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/internal/store"
)

// sparseList builds sparse hits for the given ids with descending scores.
func sparseList(ids ...string) []*store.SparseResult {
	out := make([]*store.SparseResult, len(ids))
	for i, id := range ids {
		out[i] = &store.SparseResult{ID: id, Score: float64(len(ids) - i)}
	}
	return out
}

// denseList builds dense hits for the given ids with descending scores.
func denseList(ids ...string) []*store.VectorResult {
	out := make([]*store.VectorResult, len(ids))
	for i, id := range ids {
		out[i] = &store.VectorResult{
			ID:       id,
			Distance: float32(i) * 0.1,
			Score:    1 - float32(i)*0.1,
		}
	}
	return out
}

func fusedIDs(fused []*FusedCandidate) []string {
	ids := make([]string, len(fused))
	for i, c := range fused {
		ids[i] = c.ID
	}
	return ids
}

// TS01: Reference Ranking
//
// With sparse [A B C] and dense [B D A] at K=60, B leads on ranks 2+1 over
// A on ranks 1+3; the single-branch candidates D and C trail.
func TestRRFFusion_ReferenceRanking(t *testing.T) {
	fusion := NewRRFFusion(60)
	fused := fusion.Fuse(sparseList("A", "B", "C"), denseList("B", "D", "A"))

	require.Equal(t, []string{"B", "A", "D", "C"}, fusedIDs(fused))

	byID := make(map[string]*FusedCandidate)
	for _, c := range fused {
		byID[c.ID] = c
	}
	assert.InEpsilon(t, 1.0/62+1.0/61, byID["B"].Score, 1e-12)
	assert.InEpsilon(t, 1.0/61+1.0/63, byID["A"].Score, 1e-12)
	assert.InEpsilon(t, 1.0/62, byID["D"].Score, 1e-12)
	assert.InEpsilon(t, 1.0/63, byID["C"].Score, 1e-12)
}

// TS02: Missing Branch Contributes Nothing
func TestRRFFusion_SingleBranch(t *testing.T) {
	fusion := NewRRFFusion(60)
	fused := fusion.Fuse(sparseList("A", "B"), nil)

	require.Len(t, fused, 2)
	assert.Equal(t, []string{"A", "B"}, fusedIDs(fused))
	// Exactly the sparse contribution, no penalty for the absent branch.
	assert.InEpsilon(t, 1.0/61, fused[0].Score, 1e-12)
	assert.InEpsilon(t, 1.0/62, fused[1].Score, 1e-12)
	assert.Zero(t, fused[0].DenseRank)
	assert.Zero(t, fused[0].DenseScore)
}

// TS03: Branch Scores Do Not Affect Fusion
func TestRRFFusion_RankOnly(t *testing.T) {
	fusion := NewRRFFusion(60)

	sparse := sparseList("A", "B", "C")
	dense := denseList("B", "D", "A")
	base := fusion.Fuse(sparse, dense)

	for _, r := range sparse {
		r.Score *= 7
	}
	for _, r := range dense {
		r.Score /= 3
	}
	scaled := fusion.Fuse(sparse, dense)

	require.Equal(t, fusedIDs(base), fusedIDs(scaled))
	for i := range base {
		assert.Equal(t, base[i].Score, scaled[i].Score)
	}
}

// TS04: Ties Break Toward The Sparse Branch, Then Rank
func TestRRFFusion_TieBreak(t *testing.T) {
	fusion := NewRRFFusion(60)

	// X and Y swap ranks across branches: identical sums.
	fused := fusion.Fuse(sparseList("X", "Y"), denseList("Y", "X"))
	require.Equal(t, fused[0].Score, fused[1].Score)
	assert.Equal(t, []string{"X", "Y"}, fusedIDs(fused))

	// Same rank in different branches: the sparse-seen candidate wins.
	fused = fusion.Fuse(sparseList("S"), denseList("D"))
	require.Equal(t, fused[0].Score, fused[1].Score)
	assert.Equal(t, []string{"S", "D"}, fusedIDs(fused))
}

// TS05: Every Candidate Appears Once With Branch Detail
func TestRRFFusion_CandidateDetail(t *testing.T) {
	fusion := NewRRFFusion(60)

	sparse := sparseList("A", "B")
	sparse[0].MatchedTerms = []string{"rank", "fusion"}
	fused := fusion.Fuse(sparse, denseList("B", "C"))

	require.Len(t, fused, 3)
	byID := make(map[string]*FusedCandidate)
	for _, c := range fused {
		require.NotContains(t, byID, c.ID)
		byID[c.ID] = c
	}

	a := byID["A"]
	assert.Equal(t, 1, a.SparseRank)
	assert.Zero(t, a.DenseRank)
	assert.Equal(t, []string{"rank", "fusion"}, a.MatchedTerms)

	b := byID["B"]
	assert.Equal(t, 2, b.SparseRank)
	assert.Equal(t, 1, b.DenseRank)
	assert.InDelta(t, 1.0, b.SparseScore, 1e-9)
	assert.InDelta(t, 1.0, b.DenseScore, 1e-9)

	c := byID["C"]
	assert.Zero(t, c.SparseRank)
	assert.Equal(t, 2, c.DenseRank)
}

// TS06: Empty Branches
func TestRRFFusion_Empty(t *testing.T) {
	fusion := NewRRFFusion(60)

	fused := fusion.Fuse(nil, nil)
	require.NotNil(t, fused)
	assert.Empty(t, fused)

	fused = fusion.Fuse(nil, denseList("A"))
	require.Len(t, fused, 1)
	assert.Equal(t, "A", fused[0].ID)
}

// TS07: Constant Defaults
func TestNewRRFFusion_Defaults(t *testing.T) {
	assert.Equal(t, 60, NewRRFFusion(0).K)
	assert.Equal(t, 60, NewRRFFusion(-5).K)
	assert.Equal(t, 10, NewRRFFusion(10).K)
}

// TS08: Deterministic Across Runs
func TestRRFFusion_Deterministic(t *testing.T) {
	fusion := NewRRFFusion(60)
	sparse := sparseList("A", "B", "C", "D", "E", "F")
	dense := denseList("F", "E", "G", "A", "H")

	first := fusedIDs(fusion.Fuse(sparse, dense))
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, fusedIDs(fusion.Fuse(sparse, dense)))
	}
}
