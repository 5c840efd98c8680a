package search

import "math"

// SelectDiverse re-ranks the fused pool with maximal marginal relevance and
// returns min(k, len(pool)) candidates in selection order. The first pick is
// the candidate with the highest normalized relevance; each further pick
// maximizes
//
//	lambda*relevance - (1-lambda)*maxSimilarityToSelected
//
// so lambda 1 reproduces the fused order and lambda 0 spreads the picks as
// far apart as the embeddings allow. Ties go to the earlier pool position.
// Candidates without an embedding contribute zero similarity; the engine
// drops those before calling.
func SelectDiverse(pool []*FusedCandidate, embeddings map[string][]float32, k int, lambda float64) []*FusedCandidate {
	selected := make([]*FusedCandidate, 0, min(k, len(pool)))
	if k <= 0 || len(pool) == 0 {
		return selected
	}

	rel := normalizeRelevance(pool)
	picked := make([]bool, len(pool))

	// Highest relevance seeds the selection; on a flat pool that is the
	// first fused position.
	best := 0
	for i := 1; i < len(pool); i++ {
		if rel[i] > rel[best] {
			best = i
		}
	}
	picked[best] = true
	selected = append(selected, pool[best])

	for len(selected) < k && len(selected) < len(pool) {
		bestIdx := -1
		bestScore := math.Inf(-1)
		for i, c := range pool {
			if picked[i] {
				continue
			}
			maxSim := math.Inf(-1)
			for _, s := range selected {
				sim := cosineSimilarity(embeddings[c.ID], embeddings[s.ID])
				if sim > maxSim {
					maxSim = sim
				}
			}
			score := lambda*rel[i] - (1-lambda)*maxSim
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		picked[bestIdx] = true
		selected = append(selected, pool[bestIdx])
	}
	return selected
}

// normalizeRelevance min-max scales the fused scores to [0, 1] over the
// pool. When every score is equal there is no relevance signal and all
// candidates map to zero, leaving diversity to decide the later picks.
func normalizeRelevance(pool []*FusedCandidate) []float64 {
	rel := make([]float64, len(pool))
	if len(pool) == 0 {
		return rel
	}
	lo, hi := pool[0].Score, pool[0].Score
	for _, c := range pool[1:] {
		if c.Score < lo {
			lo = c.Score
		}
		if c.Score > hi {
			hi = c.Score
		}
	}
	if hi == lo {
		return rel
	}
	for i, c := range pool {
		rel[i] = (c.Score - lo) / (hi - lo)
	}
	return rel
}

// cosineSimilarity returns the cosine of the angle between two vectors, or
// zero when either is empty, zero-length, or the dimensions disagree.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
