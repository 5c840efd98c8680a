package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/quarrylabs/quarry/internal/answer"
	"github.com/quarrylabs/quarry/internal/assemble"
	"github.com/quarrylabs/quarry/internal/config"
	"github.com/quarrylabs/quarry/internal/embed"
	"github.com/quarrylabs/quarry/internal/search"
	"github.com/quarrylabs/quarry/internal/store"
	"github.com/quarrylabs/quarry/internal/telemetry"
	"github.com/quarrylabs/quarry/pkg/version"
)

// Server is the MCP server for Quarry. It exposes the hybrid retrieval
// engine and the question answering pipeline to AI clients over stdio.
type Server struct {
	mcp       *mcp.Server
	retriever search.Retriever
	assembler *assemble.Assembler
	answerer  *answer.Answerer
	passages  store.PassageStore
	embedder  embed.Embedder // May be nil - reported as unavailable
	config    *config.Config
	logger    *slog.Logger

	// Query telemetry (optional, set via SetStats)
	stats *telemetry.QueryStats

	mu sync.RWMutex
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// ResourceInfo contains information about a resource.
type ResourceInfo struct {
	URI      string
	Name     string
	MIMEType string
}

// ResourceContent contains the content of a resource.
type ResourceContent struct {
	URI      string
	Content  string
	MIMEType string
}

// NewServer creates a new MCP server over an opened retrieval stack.
// The embedder is used for capability signaling only - clients can read
// the index-status resource to see which embedder is active and whether
// it matches the one the index was built with.
func NewServer(retriever search.Retriever, assembler *assemble.Assembler, answerer *answer.Answerer, passages store.PassageStore, embedder embed.Embedder, cfg *config.Config) (*Server, error) {
	if retriever == nil {
		return nil, errors.New("retriever is required")
	}
	if assembler == nil {
		return nil, errors.New("assembler is required")
	}
	if answerer == nil {
		return nil, errors.New("answerer is required")
	}
	if passages == nil {
		return nil, errors.New("passage store is required")
	}
	if cfg == nil {
		cfg = config.NewConfig()
	}

	s := &Server{
		retriever: retriever,
		assembler: assembler,
		answerer:  answerer,
		passages:  passages,
		embedder:  embedder,
		config:    cfg,
		logger:    slog.Default(),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "Quarry",
			Version: version.Version,
		},
		nil, // ServerOptions - capabilities are inferred from registered tools/resources
	)

	s.registerTools()
	s.registerIndexStatusResource()

	return s, nil
}

// SetStats sets the query telemetry collector. When set, a query_stats
// resource is registered so clients can read usage aggregates.
func (s *Server) SetStats(stats *telemetry.QueryStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = stats

	if stats != nil {
		s.registerQueryStatsResource()
	}
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return "Quarry", version.Version
}

// Capabilities returns whether tools and resources are enabled.
func (s *Server) Capabilities() (hasTools, hasResources bool) {
	return true, true
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	return []ToolInfo{
		{
			Name:        "retrieve",
			Description: "Hybrid passage retrieval over the indexed corpus. Fuses keyword and semantic rankings, then diversifies the top results. Supports metadata filters and per-call tuning of pool depth, fusion constant, and the relevance-diversity balance.",
		},
		{
			Name:        "ask",
			Description: "Answer a question from the indexed corpus. Retrieves diverse supporting passages, assembles them into a context block, and generates a grounded answer with passage references.",
		},
	}
}

// CallTool invokes a tool by name with the given arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch name {
	case "retrieve":
		return s.handleRetrieveTool(ctx, args)
	case "ask":
		return s.handleAskTool(ctx, args)
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

// handleRetrieveTool handles the retrieve tool invocation.
// Returns markdown-formatted results.
func (s *Server) handleRetrieveTool(ctx context.Context, args map[string]any) (string, error) {
	start := time.Now()
	requestID := generateRequestID()

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return "", NewInvalidParamsError("query parameter is required and must be a non-empty string")
	}
	if strings.TrimSpace(query) == "" {
		return "", NewInvalidParamsError("query cannot be empty or whitespace only")
	}

	opts, err := retrieveOptionsFromArgs(args)
	if err != nil {
		return "", err
	}

	s.logger.Info("retrieve started",
		slog.String("request_id", requestID),
		slog.String("query", query),
		slog.Int("k", opts.K))

	result, rerr := s.retriever.Retrieve(ctx, query, opts)
	duration := time.Since(start)

	if rerr != nil {
		s.logger.Error("retrieve failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", rerr.Error()))
		return "", MapError(rerr)
	}

	s.logger.Info("retrieve completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.Int("result_count", len(result.Items)),
		slog.Bool("degraded", result.Degraded))

	return FormatRetrieveResults(result), nil
}

// handleAskTool handles the ask tool invocation.
// Returns a markdown answer with its source references.
func (s *Server) handleAskTool(ctx context.Context, args map[string]any) (string, error) {
	start := time.Now()
	requestID := generateRequestID()

	question, ok := args["question"].(string)
	if !ok || question == "" {
		return "", NewInvalidParamsError("question parameter is required and must be a non-empty string")
	}
	if strings.TrimSpace(question) == "" {
		return "", NewInvalidParamsError("question cannot be empty or whitespace only")
	}

	k := 0
	if v, ok := args["k"].(float64); ok {
		k = clampLimit(int(v), 0, 1, 50)
	}

	s.logger.Info("ask started",
		slog.String("request_id", requestID),
		slog.String("question", question),
		slog.Int("k", k))

	assembled, err := s.assembler.Build(ctx, question, k, search.Options{})
	if err != nil {
		duration := time.Since(start)
		s.logger.Error("ask failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return "", MapError(err)
	}

	resp := s.answerer.Answer(ctx, question, assembled.ContextText)
	duration := time.Since(start)

	s.logger.Info("ask completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.Int("ref_count", len(assembled.Refs)))

	return FormatAnswer(resp.FinalOutput, assembled.Refs), nil
}

// retrieveOptionsFromArgs builds engine options from loosely typed tool
// arguments. JSON numbers arrive as float64.
func retrieveOptionsFromArgs(args map[string]any) (search.Options, error) {
	var opts search.Options

	if v, ok := args["k"].(float64); ok {
		opts.K = clampLimit(int(v), 0, 1, 100)
	}
	if v, ok := args["candidate_pool"].(float64); ok {
		opts.CandidatePool = int(v)
	}
	if v, ok := args["rrf_k"].(float64); ok {
		opts.RRFK = int(v)
	}
	if v, ok := args["mmr_lambda"].(float64); ok {
		opts.Lambda = search.LambdaAt(v)
	}
	if raw, ok := args["filters"].(map[string]any); ok {
		filter, err := store.ParseFilterObject(raw)
		if err != nil {
			return opts, NewInvalidParamsError(fmt.Sprintf("invalid filters: %v", err))
		}
		opts.Filter = filter
	}

	return opts, nil
}

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	s.logger.Debug("Registering MCP tools")

	for _, tool := range s.ListTools() {
		switch tool.Name {
		case "retrieve":
			mcp.AddTool(s.mcp, &mcp.Tool{
				Name:        tool.Name,
				Description: tool.Description,
			}, s.mcpRetrieveHandler)
		case "ask":
			mcp.AddTool(s.mcp, &mcp.Tool{
				Name:        tool.Name,
				Description: tool.Description,
			}, s.mcpAskHandler)
		}
		s.logger.Debug("Registered tool", slog.String("name", tool.Name))
	}

	s.logger.Info("MCP tools registered", slog.Int("count", len(s.ListTools())))
}

// mcpRetrieveHandler is the MCP SDK handler for the retrieve tool.
func (s *Server) mcpRetrieveHandler(ctx context.Context, _ *mcp.CallToolRequest, input RetrieveInput) (
	*mcp.CallToolResult,
	RetrieveOutput,
	error,
) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, RetrieveOutput{}, NewInvalidParamsError("query parameter is required")
	}

	var opts search.Options
	if input.K > 0 {
		opts.K = clampLimit(input.K, 0, 1, 100)
	}
	opts.CandidatePool = input.CandidatePool
	opts.RRFK = input.RRFK
	if input.MMRLambda != nil {
		opts.Lambda = search.LambdaAt(*input.MMRLambda)
	}
	if len(input.Filters) > 0 {
		filter, err := store.ParseFilterObject(input.Filters)
		if err != nil {
			return nil, RetrieveOutput{}, NewInvalidParamsError(fmt.Sprintf("invalid filters: %v", err))
		}
		opts.Filter = filter
	}

	result, err := s.retriever.Retrieve(ctx, input.Query, opts)
	if err != nil {
		return nil, RetrieveOutput{}, MapError(err)
	}

	return nil, toRetrieveOutput(result), nil
}

// mcpAskHandler is the MCP SDK handler for the ask tool.
func (s *Server) mcpAskHandler(ctx context.Context, _ *mcp.CallToolRequest, input AskInput) (
	*mcp.CallToolResult,
	AskOutput,
	error,
) {
	if strings.TrimSpace(input.Question) == "" {
		return nil, AskOutput{}, NewInvalidParamsError("question parameter is required")
	}

	k := 0
	if input.K > 0 {
		k = clampLimit(input.K, 0, 1, 50)
	}

	assembled, err := s.assembler.Build(ctx, input.Question, k, search.Options{})
	if err != nil {
		return nil, AskOutput{}, MapError(err)
	}

	resp := s.answerer.Answer(ctx, input.Question, assembled.ContextText)

	output := AskOutput{
		Answer: resp.FinalOutput,
		Refs:   toAnswerRefs(assembled.Refs),
	}
	if assembled.Retrieval != nil {
		output.Degraded = assembled.Retrieval.Degraded
	}

	return nil, output, nil
}

// ListResources returns all registered resources.
func (s *Server) ListResources() []ResourceInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resources := []ResourceInfo{
		{
			URI:      IndexStatusURI,
			Name:     "index-status",
			MIMEType: "application/json",
		},
	}
	if s.stats != nil {
		resources = append(resources, ResourceInfo{
			URI:      QueryStatsURI,
			Name:     "query_stats",
			MIMEType: "application/json",
		})
	}
	return resources
}

// ReadResource reads a resource by URI.
func (s *Server) ReadResource(ctx context.Context, uri string) (*ResourceContent, error) {
	switch uri {
	case IndexStatusURI:
		result, err := s.readIndexStatus(ctx)
		if err != nil {
			return nil, err
		}
		return resourceContentFromResult(result), nil
	case QueryStatsURI:
		result, err := s.readQueryStats()
		if err != nil {
			return nil, err
		}
		return resourceContentFromResult(result), nil
	default:
		return nil, NewResourceNotFoundError(uri)
	}
}

// resourceContentFromResult flattens a single-content read result.
func resourceContentFromResult(result *mcp.ReadResourceResult) *ResourceContent {
	if result == nil || len(result.Contents) == 0 {
		return nil
	}
	c := result.Contents[0]
	return &ResourceContent{
		URI:      c.URI,
		Content:  c.Text,
		MIMEType: c.MIMEType,
	}
}

// Serve starts the server with the specified transport.
func (s *Server) Serve(ctx context.Context, transport, addr string) error {
	s.logger.Info("Starting MCP server",
		slog.String("transport", transport),
		slog.String("addr", addr))

	switch transport {
	case "stdio":
		s.logger.Debug("Using stdio transport for JSON-RPC")
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && err != context.Canceled {
			s.logger.Error("MCP server stopped with error",
				slog.String("error", err.Error()))
		} else {
			s.logger.Info("MCP server stopped gracefully")
		}
		return err
	case "sse":
		// SSE transport not yet implemented in SDK
		return fmt.Errorf("SSE transport not yet implemented")
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// Close releases server resources. The underlying stores are owned by the
// caller and stay open.
func (s *Server) Close() error {
	return nil
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
