package mcp

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/quarrylabs/quarry/internal/embed"
	"github.com/quarrylabs/quarry/internal/store"
	"github.com/quarrylabs/quarry/pkg/version"
)

// Resource URIs served by the Quarry MCP server.
const (
	// IndexStatusURI identifies the index-status resource.
	IndexStatusURI = "quarry://index-status"

	// QueryStatsURI identifies the query telemetry resource.
	QueryStatsURI = "quarry://query_stats"
)

// IndexStatusOutput is the JSON structure of the index-status resource.
type IndexStatusOutput struct {
	// Status is "ready" when passages are indexed, "empty" otherwise.
	Status     string        `json:"status"`
	Corpus     CorpusStatus  `json:"corpus"`
	Embeddings EmbeddingInfo `json:"embeddings"`
	Retrieval  RetrievalInfo `json:"retrieval"`
	Version    string        `json:"version"`
}

// CorpusStatus describes the indexed corpus.
type CorpusStatus struct {
	Passages   int            `json:"passages"`
	Documents  int            `json:"documents"`
	Sections   []SectionCount `json:"sections,omitempty"`
	BuiltAt    string         `json:"built_at,omitempty"`
	CorpusHash string         `json:"corpus_hash,omitempty"`
}

// SectionCount is one section title with its passage count.
type SectionCount struct {
	Title string `json:"title"`
	Count int    `json:"count"`
}

// EmbeddingInfo reports the embedder the index was built with next to the
// one currently active, so clients can spot a mismatch before querying.
type EmbeddingInfo struct {
	// Build-time identity, stamped into the passage store.
	IndexProvider   string `json:"index_provider,omitempty"`
	IndexModel      string `json:"index_model,omitempty"`
	IndexDimensions int    `json:"index_dimensions,omitempty"`

	// Runtime state of the active embedder.
	ActiveProvider   string `json:"active_provider"`
	ActiveModel      string `json:"active_model"`
	ActiveDimensions int    `json:"active_dimensions"`
	Status           string `json:"status"`

	// Mismatch is true when the active embedder differs from the one the
	// index was built with. Semantic results are unreliable until the
	// index is rebuilt.
	Mismatch bool `json:"mismatch"`
}

// RetrievalInfo echoes the tunables and backends in effect.
type RetrievalInfo struct {
	SparseBackend string  `json:"sparse_backend"`
	DenseBackend  string  `json:"dense_backend"`
	FinalK        int     `json:"final_k"`
	CandidatePool int     `json:"candidate_pool"`
	RRFK          int     `json:"rrf_k"`
	MMRLambda     float64 `json:"mmr_lambda"`
}

// registerIndexStatusResource registers the index-status resource.
func (s *Server) registerIndexStatusResource() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "index-status",
			URI:         IndexStatusURI,
			Description: "Index readiness, corpus composition, embedder identity, and active retrieval tunables",
			MIMEType:    "application/json",
		},
		func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			return s.readIndexStatus(ctx)
		},
	)
}

// readIndexStatus builds the index-status resource content.
func (s *Server) readIndexStatus(ctx context.Context) (*mcp.ReadResourceResult, error) {
	status, err := s.IndexStatus(ctx)
	if err != nil {
		return nil, err
	}

	content, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return nil, MapError(err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      IndexStatusURI,
				MIMEType: "application/json",
				Text:     string(content),
			},
		},
	}, nil
}

// IndexStatus reports the state of the index behind the server.
func (s *Server) IndexStatus(ctx context.Context) (*IndexStatusOutput, error) {
	count, err := s.passages.Count(ctx)
	if err != nil {
		return nil, MapError(err)
	}

	sections, err := s.passages.Sections(ctx)
	if err != nil {
		return nil, MapError(err)
	}

	output := &IndexStatusOutput{
		Status: "ready",
		Corpus: CorpusStatus{
			Passages: count,
			Sections: make([]SectionCount, 0, len(sections)),
		},
		Retrieval: RetrievalInfo{
			SparseBackend: s.config.Retrieval.SparseBackend,
			DenseBackend:  s.config.Retrieval.DenseBackend,
			FinalK:        s.config.Retrieval.FinalK,
			CandidatePool: s.config.Retrieval.CandidatePool,
			RRFK:          s.config.Retrieval.RRFK,
			MMRLambda:     s.config.Retrieval.MMRLambda,
		},
		Version: version.Version,
	}
	if count == 0 {
		output.Status = "empty"
	}

	for _, sec := range sections {
		title := sec.SectionTitle
		if title == "" {
			title = "(untitled)"
		}
		output.Corpus.Sections = append(output.Corpus.Sections, SectionCount{
			Title: title,
			Count: sec.Count,
		})
	}

	// Build metadata stamped by the last index run. Missing keys read as
	// empty strings on a fresh store.
	output.Corpus.BuiltAt, _ = s.passages.GetState(ctx, store.StateKeyBuiltAt)
	output.Corpus.CorpusHash, _ = s.passages.GetState(ctx, store.StateKeyCorpusHash)
	if v, _ := s.passages.GetState(ctx, store.StateKeyDocumentCount); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			output.Corpus.Documents = n
		}
	}

	output.Embeddings = s.embeddingInfo(ctx)

	return output, nil
}

// embeddingInfo compares the build-time embedder identity with the
// active embedder.
func (s *Server) embeddingInfo(ctx context.Context) EmbeddingInfo {
	var info EmbeddingInfo

	info.IndexProvider, _ = s.passages.GetState(ctx, store.StateKeyEmbedderProvider)
	info.IndexModel, _ = s.passages.GetState(ctx, store.StateKeyEmbedderModel)
	if v, _ := s.passages.GetState(ctx, store.StateKeyEmbedderDimensions); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			info.IndexDimensions = n
		}
	}

	if s.embedder == nil {
		info.ActiveProvider = "none"
		info.ActiveModel = "none"
		info.Status = "unavailable"
		info.Mismatch = info.IndexModel != ""
		return info
	}

	active := embed.GetInfo(s.embedder)
	info.ActiveProvider = string(active.Provider)
	info.ActiveModel = active.Model
	info.ActiveDimensions = active.Dimensions

	if s.embedder.Available(ctx) {
		info.Status = "ready"
	} else {
		info.Status = "unavailable"
	}

	info.Mismatch = info.IndexModel != "" &&
		(info.IndexModel != info.ActiveModel || info.IndexDimensions != info.ActiveDimensions)

	return info
}

// QueryStatsOutput is the JSON structure of the query_stats resource.
type QueryStatsOutput struct {
	Summary             QueryStatsSummary `json:"summary"`
	DegradedCounts      map[string]int64  `json:"degraded_counts"`
	DiversityFallbacks  int64             `json:"diversity_fallbacks"`
	HydrationGapCount   int64             `json:"hydration_gap_count"`
	TopTerms            []QueryTermCount  `json:"top_terms"`
	ZeroResultQueries   []string          `json:"zero_result_queries"`
	LatencyDistribution map[string]int64  `json:"latency_distribution"`
}

// QueryStatsSummary provides overview statistics.
type QueryStatsSummary struct {
	TotalQueries     int64   `json:"total_queries"`
	TimePeriod       string  `json:"time_period"`
	ZeroResultPct    float64 `json:"zero_result_pct"`
	ExactRepeatCount int64   `json:"exact_repeat_count"`
}

// QueryTermCount represents a term and its frequency.
type QueryTermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// registerQueryStatsResource registers the query_stats resource.
// Callers hold s.mu.
func (s *Server) registerQueryStatsResource() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "query_stats",
			URI:         QueryStatsURI,
			Description: "Query pattern telemetry: volumes, degradations, top terms, and latency buckets",
			MIMEType:    "application/json",
		},
		func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			return s.readQueryStats()
		},
	)
}

// readQueryStats builds the query_stats resource content.
func (s *Server) readQueryStats() (*mcp.ReadResourceResult, error) {
	s.mu.RLock()
	stats := s.stats
	s.mu.RUnlock()

	if stats == nil {
		return nil, NewResourceNotFoundError(QueryStatsURI)
	}

	snapshot := stats.Snapshot()

	output := QueryStatsOutput{
		Summary: QueryStatsSummary{
			TotalQueries:     snapshot.TotalQueries,
			TimePeriod:       "session",
			ZeroResultPct:    snapshot.ZeroResultPercentage(),
			ExactRepeatCount: snapshot.ExactRepeatCount,
		},
		DegradedCounts:      snapshot.DegradedCounts,
		DiversityFallbacks:  snapshot.DiversityFallbacks,
		HydrationGapCount:   snapshot.HydrationGapCount,
		TopTerms:            make([]QueryTermCount, 0, len(snapshot.TopTerms)),
		ZeroResultQueries:   snapshot.ZeroResultQueries,
		LatencyDistribution: make(map[string]int64, len(snapshot.LatencyDistribution)),
	}

	for _, tc := range snapshot.TopTerms {
		output.TopTerms = append(output.TopTerms, QueryTermCount{
			Term:  tc.Term,
			Count: tc.Count,
		})
	}
	for bucket, count := range snapshot.LatencyDistribution {
		output.LatencyDistribution[string(bucket)] = count
	}

	content, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return nil, MapError(err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      QueryStatsURI,
				MIMEType: "application/json",
				Text:     string(content),
			},
		},
	}, nil
}
