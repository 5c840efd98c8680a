// Package eval measures retrieval quality against relevance judgments.
//
// Qrels are JSONL lines pairing a query with the passage IDs a good
// retrieval should return. The Evaluator replays them through a
// retriever and reports Recall@k, binary nDCG@k, MRR@k, and
// first-relevant-rank percentiles; the QrelsGenerator bootstraps
// silver qrels from branch agreement when no hand labels exist.
package eval

import (
	"math"
	"sort"
)

// RecallAtK is the fraction of relevant IDs found in the top k.
// No relevant IDs means zero recall by definition.
func RecallAtK(retrieved []string, relevant map[string]struct{}, k int) float64 {
	if len(relevant) == 0 {
		return 0
	}
	hits := 0
	for _, id := range topK(retrieved, k) {
		if _, ok := relevant[id]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(relevant))
}

// NDCGAtK is binary-gain nDCG: DCG over the top k against the ideal
// ordering of min(len(relevant), k) hits.
func NDCGAtK(retrieved []string, relevant map[string]struct{}, k int) float64 {
	ideal := idcgAtK(len(relevant), k)
	if ideal == 0 {
		return 0
	}
	return dcgAtK(retrieved, relevant, k) / ideal
}

// MRRAtK is the reciprocal rank of the first relevant hit in the top
// k, zero when there is none.
func MRRAtK(retrieved []string, relevant map[string]struct{}, k int) float64 {
	if rank, ok := FirstRelevantRank(retrieved, relevant, k); ok {
		return 1 / float64(rank)
	}
	return 0
}

// FirstRelevantRank returns the 1-based rank of the first relevant hit
// in the top k, or false when none appears.
func FirstRelevantRank(retrieved []string, relevant map[string]struct{}, k int) (int, bool) {
	for i, id := range topK(retrieved, k) {
		if _, ok := relevant[id]; ok {
			return i + 1, true
		}
	}
	return 0, false
}

// Percentile returns the p-th percentile of values using the
// inclusive nearest-rank method. NaN for an empty input.
func Percentile(values []int, p float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := make([]int, len(values))
	copy(sorted, values)
	sort.Ints(sorted)

	pos := int(math.Ceil(p / 100 * float64(len(sorted))))
	if pos < 1 {
		pos = 1
	}
	return float64(sorted[pos-1])
}

func dcgAtK(retrieved []string, relevant map[string]struct{}, k int) float64 {
	dcg := 0.0
	for i, id := range topK(retrieved, k) {
		if _, ok := relevant[id]; ok {
			dcg += 1 / math.Log2(float64(i)+2)
		}
	}
	return dcg
}

func idcgAtK(relCount, k int) float64 {
	n := min(relCount, k)
	ideal := 0.0
	for rank := 1; rank <= n; rank++ {
		ideal += 1 / math.Log2(float64(rank)+1)
	}
	return ideal
}

func topK(ids []string, k int) []string {
	if k >= 0 && len(ids) > k {
		return ids[:k]
	}
	return ids
}
