package index

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quarrylabs/quarry/internal/store"
)

// InconsistencyType categorizes detected cross-store issues.
type InconsistencyType int

const (
	// InconsistencyOrphanSparse indicates a sparse entry without a stored passage.
	InconsistencyOrphanSparse InconsistencyType = iota
	// InconsistencyOrphanDense indicates a dense entry without a stored passage.
	InconsistencyOrphanDense
	// InconsistencyMissingSparse indicates a stored passage missing from the sparse index.
	InconsistencyMissingSparse
	// InconsistencyMissingDense indicates a stored passage missing from the dense index.
	InconsistencyMissingDense
)

// String returns a human-readable description of the inconsistency type.
func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyOrphanSparse:
		return "orphan_sparse"
	case InconsistencyOrphanDense:
		return "orphan_dense"
	case InconsistencyMissingSparse:
		return "missing_sparse"
	case InconsistencyMissingDense:
		return "missing_dense"
	default:
		return "unknown"
	}
}

// Inconsistency represents a detected cross-store issue. PassageID is empty
// for aggregate findings such as a count mismatch.
type Inconsistency struct {
	Type      InconsistencyType
	PassageID string
	Details   string
}

// CheckResult contains the outcome of a consistency check.
type CheckResult struct {
	// Checked is the number of passages verified.
	Checked int
	// Inconsistencies contains all detected issues.
	Inconsistencies []Inconsistency
	// Duration is how long the check took.
	Duration time.Duration
}

// ConsistencyChecker validates that the three retrieval stores agree.
// The passage store is the source of truth: the checker detects orphaned
// entries (present in the sparse or dense index but not stored) and missing
// entries (stored but absent from an index).
type ConsistencyChecker struct {
	passages store.PassageStore
	sparse   store.SparseIndex
	dense    store.DenseIndex
}

// NewConsistencyChecker creates a checker over the given stores.
func NewConsistencyChecker(passages store.PassageStore, sparse store.SparseIndex, dense store.DenseIndex) *ConsistencyChecker {
	return &ConsistencyChecker{
		passages: passages,
		sparse:   sparse,
		dense:    dense,
	}
}

// Check scans all stores for inconsistencies. O(n) in the total number of
// entries across the stores. Backends that cannot enumerate ids (chromem)
// degrade to membership probes plus a count comparison.
func (c *ConsistencyChecker) Check(ctx context.Context) (*CheckResult, error) {
	start := time.Now()
	var issues []Inconsistency

	// Passage store ids are the source of truth
	passageIDs, err := c.passages.AllIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("read passage ids: %w", err)
	}

	stored := make(map[string]bool, len(passageIDs))
	for _, id := range passageIDs {
		stored[id] = true
	}

	sparseIDs, err := c.sparse.AllIDs()
	if err != nil {
		slog.Warn("failed to read sparse ids for consistency check", slog.String("error", err.Error()))
		// Continue with what we have
	}

	denseIDs, denseErr := c.dense.AllIDs()
	denseEnumerable := denseErr == nil
	if !denseEnumerable {
		slog.Debug("dense backend does not enumerate ids, using membership probes",
			slog.String("reason", denseErr.Error()))
	}

	// Orphans in the sparse index (not stored)
	for _, id := range sparseIDs {
		if !stored[id] {
			issues = append(issues, Inconsistency{
				Type:      InconsistencyOrphanSparse,
				PassageID: id,
				Details:   "sparse entry without a stored passage",
			})
		}
	}

	// Orphans in the dense index (not stored)
	if denseEnumerable {
		for _, id := range denseIDs {
			if !stored[id] {
				issues = append(issues, Inconsistency{
					Type:      InconsistencyOrphanDense,
					PassageID: id,
					Details:   "dense entry without a stored passage",
				})
			}
		}
	} else if count := c.dense.Count(); count > len(passageIDs) {
		issues = append(issues, Inconsistency{
			Type:    InconsistencyOrphanDense,
			Details: fmt.Sprintf("dense index holds %d entries for %d stored passages", count, len(passageIDs)),
		})
	}

	sparseSet := make(map[string]bool, len(sparseIDs))
	for _, id := range sparseIDs {
		sparseSet[id] = true
	}

	denseSet := make(map[string]bool, len(denseIDs))
	for _, id := range denseIDs {
		denseSet[id] = true
	}

	// Missing entries (stored but absent from an index)
	for _, id := range passageIDs {
		if !sparseSet[id] {
			issues = append(issues, Inconsistency{
				Type:      InconsistencyMissingSparse,
				PassageID: id,
				Details:   "stored passage missing from the sparse index",
			})
		}

		inDense := denseSet[id]
		if !denseEnumerable {
			inDense = c.dense.Contains(ctx, id)
		}
		if !inDense {
			issues = append(issues, Inconsistency{
				Type:      InconsistencyMissingDense,
				PassageID: id,
				Details:   "stored passage missing from the dense index",
			})
		}
	}

	return &CheckResult{
		Checked:         len(passageIDs),
		Inconsistencies: issues,
		Duration:        time.Since(start),
	}, nil
}

// Repair fixes detected inconsistencies.
//   - Orphans: deleted from the sparse/dense index (best-effort)
//   - Missing: logged as a warning (requires a rebuild to fix)
func (c *ConsistencyChecker) Repair(ctx context.Context, issues []Inconsistency) error {
	var orphanSparse, orphanDense []string
	var missingCount int

	for _, issue := range issues {
		switch issue.Type {
		case InconsistencyOrphanSparse:
			orphanSparse = append(orphanSparse, issue.PassageID)
		case InconsistencyOrphanDense:
			if issue.PassageID != "" {
				orphanDense = append(orphanDense, issue.PassageID)
			}
		case InconsistencyMissingSparse, InconsistencyMissingDense:
			missingCount++
		}
	}

	if len(orphanSparse) > 0 {
		if err := c.sparse.Delete(ctx, orphanSparse); err != nil {
			slog.Warn("failed to delete orphan sparse entries",
				slog.Int("count", len(orphanSparse)),
				slog.String("error", err.Error()))
		} else {
			slog.Info("deleted orphan sparse entries", slog.Int("count", len(orphanSparse)))
		}
	}

	if len(orphanDense) > 0 {
		if err := c.dense.Delete(ctx, orphanDense); err != nil {
			slog.Warn("failed to delete orphan dense entries",
				slog.Int("count", len(orphanDense)),
				slog.String("error", err.Error()))
		} else {
			slog.Info("deleted orphan dense entries", slog.Int("count", len(orphanDense)))
		}
	}

	if missingCount > 0 {
		slog.Warn("index has missing entries, run 'quarry index --force' to rebuild",
			slog.Int("missing_count", missingCount))
	}

	return nil
}

// QuickCheck performs a lightweight consistency check: it only verifies
// that counts match across the stores, not individual ids. Returns true
// when the counts agree.
func (c *ConsistencyChecker) QuickCheck(ctx context.Context) (bool, error) {
	passageCount, err := c.passages.Count(ctx)
	if err != nil {
		return false, fmt.Errorf("count passages: %w", err)
	}

	sparseCount := 0
	if stats := c.sparse.Stats(); stats != nil {
		sparseCount = stats.PassageCount
	}

	denseCount := c.dense.Count()

	consistent := passageCount == sparseCount && passageCount == denseCount

	if !consistent {
		slog.Debug("index counts mismatch",
			slog.Int("passages", passageCount),
			slog.Int("sparse", sparseCount),
			slog.Int("dense", denseCount))
	}

	return consistent, nil
}
