// Package telemetry collects local query statistics and run logs for the
// retrieval pipeline. Nothing leaves the machine; the data exists so that
// tuning decisions can be made from real usage.
package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// =============================================================================
// Latency Buckets
// =============================================================================

// LatencyBucket is a histogram bucket for query latency.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// =============================================================================
// Query Event
// =============================================================================

// QueryEvent describes one completed retrieval call.
type QueryEvent struct {
	Query       string
	ResultCount int
	Latency     time.Duration

	// DegradedBranch names the branch that failed ("sparse" or "dense"),
	// empty when both branches served.
	DegradedBranch string

	// DiversityFallback is true when the call served the plain fused
	// ranking because candidate embeddings were unavailable.
	DiversityFallback bool

	// HydrationGaps counts results dropped for missing payloads.
	HydrationGaps int

	Timestamp time.Time
}

// IsZeroResult reports whether the query returned nothing.
func (e QueryEvent) IsZeroResult() bool {
	return e.ResultCount == 0
}

// =============================================================================
// Circular Buffer
// =============================================================================

// CircularBuffer is a fixed-capacity FIFO buffer. The zero value is not
// usable; construct with NewCircularBuffer.
type CircularBuffer[T any] struct {
	mu       sync.RWMutex
	items    []T
	head     int
	size     int
	capacity int
}

// NewCircularBuffer creates a buffer holding at most capacity items.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add appends an item, evicting the oldest when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns the buffered items oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]T, b.size)
	if b.size < b.capacity {
		copy(out, b.items[:b.size])
		return out
	}
	copy(out, b.items[b.head:])
	copy(out[b.capacity-b.head:], b.items[:b.head])
	return out
}

// Size returns the number of buffered items.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Clear empties the buffer.
func (b *CircularBuffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.size = 0
}

// =============================================================================
// Query Stats
// =============================================================================

// ExtractTerms splits a query into lowercased terms of at least three
// characters, the unit tracked by the top-terms table.
func ExtractTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// TermCount pairs a query term with its frequency.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// StatsConfig bounds the memory the collector may use.
type StatsConfig struct {
	TopTermsCapacity      int // distinct terms tracked (default 100)
	ZeroResultsCapacity   int // recent zero-result queries kept (default 100)
	RecentQueriesCapacity int // query hashes kept for repeat detection (default 500)
}

// DefaultStatsConfig returns the standard capacities.
func DefaultStatsConfig() StatsConfig {
	return StatsConfig{
		TopTermsCapacity:      100,
		ZeroResultsCapacity:   100,
		RecentQueriesCapacity: 500,
	}
}

// QueryStats aggregates retrieval telemetry in memory. Safe for concurrent
// use; Record is cheap enough to sit on the query path.
type QueryStats struct {
	mu sync.RWMutex

	totalQueries    int64
	zeroResultCount int64
	degraded        map[string]int64
	fallbackCount   int64
	gapCount        int64

	latencies map[LatencyBucket]int64
	topTerms  *lru.Cache[string, int64]
	zeroRing  *CircularBuffer[string]

	recentQueries    *lru.Cache[string, struct{}]
	exactRepeatCount int64

	startTime time.Time
}

// NewQueryStats creates a collector with default capacities.
func NewQueryStats() *QueryStats {
	return NewQueryStatsWithConfig(DefaultStatsConfig())
}

// NewQueryStatsWithConfig creates a collector with custom capacities.
func NewQueryStatsWithConfig(cfg StatsConfig) *QueryStats {
	def := DefaultStatsConfig()
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = def.TopTermsCapacity
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = def.ZeroResultsCapacity
	}
	if cfg.RecentQueriesCapacity <= 0 {
		cfg.RecentQueriesCapacity = def.RecentQueriesCapacity
	}

	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	recentQueries, _ := lru.New[string, struct{}](cfg.RecentQueriesCapacity)

	return &QueryStats{
		degraded:      make(map[string]int64),
		latencies:     make(map[LatencyBucket]int64),
		topTerms:      topTerms,
		zeroRing:      NewCircularBuffer[string](cfg.ZeroResultsCapacity),
		recentQueries: recentQueries,
		startTime:     time.Now(),
	}
}

// Record folds one query event into the aggregates.
func (s *QueryStats) Record(ev QueryEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalQueries++
	s.latencies[LatencyToBucket(ev.Latency)]++

	if ev.IsZeroResult() {
		s.zeroResultCount++
		s.zeroRing.Add(ev.Query)
	}
	if ev.DegradedBranch != "" {
		s.degraded[ev.DegradedBranch]++
	}
	if ev.DiversityFallback {
		s.fallbackCount++
	}
	s.gapCount += int64(ev.HydrationGaps)

	for _, term := range ExtractTerms(ev.Query) {
		count, _ := s.topTerms.Get(term)
		s.topTerms.Add(term, count+1)
	}

	key := queryHash(ev.Query)
	if _, seen := s.recentQueries.Get(key); seen {
		s.exactRepeatCount++
	}
	s.recentQueries.Add(key, struct{}{})
}

// queryHash normalizes a query for repeat detection.
func queryHash(query string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Reset discards all aggregates and restarts the collection window.
func (s *QueryStats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalQueries = 0
	s.zeroResultCount = 0
	s.degraded = make(map[string]int64)
	s.fallbackCount = 0
	s.gapCount = 0
	s.latencies = make(map[LatencyBucket]int64)
	s.topTerms.Purge()
	s.zeroRing.Clear()
	s.recentQueries.Purge()
	s.exactRepeatCount = 0
	s.startTime = time.Now()
}

// =============================================================================
// Snapshot
// =============================================================================

// StatsSnapshot is an immutable copy of the aggregates, shaped for the
// status command and the MCP status resource.
type StatsSnapshot struct {
	TotalQueries        int64                   `json:"total_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	ZeroResultQueries   []string                `json:"zero_result_queries,omitempty"`
	DegradedCounts      map[string]int64        `json:"degraded_counts,omitempty"`
	DiversityFallbacks  int64                   `json:"diversity_fallbacks,omitempty"`
	HydrationGapCount   int64                   `json:"hydration_gap_count,omitempty"`
	TopTerms            []TermCount             `json:"top_terms,omitempty"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution,omitempty"`
	ExactRepeatCount    int64                   `json:"exact_repeat_count"`
	Since               time.Time               `json:"since"`
}

// ZeroResultPercentage returns the share of queries that found nothing.
func (s *StatsSnapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// Snapshot copies the current aggregates.
func (s *QueryStats) Snapshot() *StatsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	degraded := make(map[string]int64, len(s.degraded))
	for branch, n := range s.degraded {
		degraded[branch] = n
	}
	latencies := make(map[LatencyBucket]int64, len(s.latencies))
	for bucket, n := range s.latencies {
		latencies[bucket] = n
	}

	terms := make([]TermCount, 0, s.topTerms.Len())
	for _, term := range s.topTerms.Keys() {
		if count, ok := s.topTerms.Peek(term); ok {
			terms = append(terms, TermCount{Term: term, Count: count})
		}
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].Count != terms[j].Count {
			return terms[i].Count > terms[j].Count
		}
		return terms[i].Term < terms[j].Term
	})

	return &StatsSnapshot{
		TotalQueries:        s.totalQueries,
		ZeroResultCount:     s.zeroResultCount,
		ZeroResultQueries:   s.zeroRing.Items(),
		DegradedCounts:      degraded,
		DiversityFallbacks:  s.fallbackCount,
		HydrationGapCount:   s.gapCount,
		TopTerms:            terms,
		LatencyDistribution: latencies,
		ExactRepeatCount:    s.exactRepeatCount,
		Since:               s.startTime,
	}
}
