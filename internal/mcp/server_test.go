package mcp

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/internal/answer"
	"github.com/quarrylabs/quarry/internal/assemble"
	"github.com/quarrylabs/quarry/internal/config"
	"github.com/quarrylabs/quarry/internal/embed"
	qerrors "github.com/quarrylabs/quarry/internal/errors"
	"github.com/quarrylabs/quarry/internal/search"
	"github.com/quarrylabs/quarry/internal/store"
)

// MockRetriever implements search.Retriever for testing.
type MockRetriever struct {
	RetrieveFn func(ctx context.Context, query string, opts search.Options) (*search.Result, error)

	LastQuery string
	LastOpts  search.Options
}

func (m *MockRetriever) Retrieve(ctx context.Context, query string, opts search.Options) (*search.Result, error) {
	m.LastQuery = query
	m.LastOpts = opts
	if m.RetrieveFn != nil {
		return m.RetrieveFn(ctx, query, opts)
	}
	return &search.Result{Query: query}, nil
}

var _ search.Retriever = (*MockRetriever)(nil)

// MockPassageStore implements store.PassageStore for testing.
type MockPassageStore struct {
	PassageCount int
	SectionStats []store.SectionStat
	State        map[string]string
}

func (m *MockPassageStore) SavePassages(_ context.Context, _ []*store.Passage) error { return nil }
func (m *MockPassageStore) GetPassage(_ context.Context, _ string) (*store.Passage, error) {
	return nil, nil
}
func (m *MockPassageStore) GetPassages(_ context.Context, _ []string) ([]*store.Passage, error) {
	return nil, nil
}
func (m *MockPassageStore) Delete(_ context.Context, _ []string) error { return nil }
func (m *MockPassageStore) AllIDs(_ context.Context) ([]string, error) { return nil, nil }
func (m *MockPassageStore) Count(_ context.Context) (int, error)       { return m.PassageCount, nil }
func (m *MockPassageStore) Sections(_ context.Context) ([]store.SectionStat, error) {
	return m.SectionStats, nil
}
func (m *MockPassageStore) GetState(_ context.Context, key string) (string, error) {
	return m.State[key], nil
}
func (m *MockPassageStore) SetState(_ context.Context, key, value string) error {
	if m.State == nil {
		m.State = make(map[string]string)
	}
	m.State[key] = value
	return nil
}
func (m *MockPassageStore) Close() error { return nil }

var _ store.PassageStore = (*MockPassageStore)(nil)

// sampleResult builds a two-passage retrieval result with metadata.
func sampleResult(query string) *search.Result {
	return &search.Result{
		Query: query,
		Items: []*search.Item{
			{
				Passage: &store.Passage{
					ID:   "p1",
					Text: "The quick brown fox jumps over the lazy dog.",
					Metadata: map[string]any{
						"section_title": "Animals",
						"position":      float64(3),
						"category":      "NATURE",
						"source_id":     "book",
					},
				},
				Score:        0.0321,
				SparseRank:   1,
				DenseRank:    2,
				SparseScore:  4.2,
				DenseScore:   0.91,
				MatchedTerms: []string{"fox", "quick"},
			},
			{
				Passage: &store.Passage{
					ID:   "p2",
					Text: "A stitch in time saves nine.",
					Metadata: map[string]any{
						"section_title": "Proverbs",
					},
				},
				Score:     0.0290,
				DenseRank: 1,
			},
		},
	}
}

// newTestServer wires a server over mocks, a stub answerer, and the
// offline embedder.
func newTestServer(t *testing.T, retriever search.Retriever, passages store.PassageStore) *Server {
	t.Helper()

	asm, err := assemble.New(retriever, assemble.DefaultConfig())
	require.NoError(t, err)

	ans, err := answer.NewAnswerer(answer.NewStubGenerator())
	require.NoError(t, err)

	s, err := NewServer(retriever, asm, ans, passages, embed.NewStaticEmbedder(), config.NewConfig())
	require.NoError(t, err)
	return s
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	retriever := &MockRetriever{}
	asm, err := assemble.New(retriever, assemble.DefaultConfig())
	require.NoError(t, err)
	ans, err := answer.NewAnswerer(answer.NewStubGenerator())
	require.NoError(t, err)
	passages := &MockPassageStore{}

	_, err = NewServer(nil, asm, ans, passages, nil, nil)
	assert.ErrorContains(t, err, "retriever is required")

	_, err = NewServer(retriever, nil, ans, passages, nil, nil)
	assert.ErrorContains(t, err, "assembler is required")

	_, err = NewServer(retriever, asm, nil, passages, nil, nil)
	assert.ErrorContains(t, err, "answerer is required")

	_, err = NewServer(retriever, asm, ans, nil, nil, nil)
	assert.ErrorContains(t, err, "passage store is required")
}

func TestNewServer_DefaultsConfig(t *testing.T) {
	retriever := &MockRetriever{}
	asm, err := assemble.New(retriever, assemble.DefaultConfig())
	require.NoError(t, err)
	ans, err := answer.NewAnswerer(answer.NewStubGenerator())
	require.NoError(t, err)

	s, err := NewServer(retriever, asm, ans, &MockPassageStore{}, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, s.MCPServer())
}

func TestServer_Info(t *testing.T) {
	s := newTestServer(t, &MockRetriever{}, &MockPassageStore{})

	name, ver := s.Info()
	assert.Equal(t, "Quarry", name)
	assert.NotEmpty(t, ver)
}

func TestServer_Capabilities(t *testing.T) {
	s := newTestServer(t, &MockRetriever{}, &MockPassageStore{})

	hasTools, hasResources := s.Capabilities()
	assert.True(t, hasTools)
	assert.True(t, hasResources)
}

func TestServer_ListTools(t *testing.T) {
	s := newTestServer(t, &MockRetriever{}, &MockPassageStore{})

	tools := s.ListTools()
	require.Len(t, tools, 2)

	names := make([]string, len(tools))
	for i, tool := range tools {
		names[i] = tool.Name
		assert.NotEmpty(t, tool.Description, "tool %s needs a description", tool.Name)
	}
	assert.Equal(t, []string{"retrieve", "ask"}, names)
}

func TestServer_CallTool_UnknownTool(t *testing.T) {
	s := newTestServer(t, &MockRetriever{}, &MockPassageStore{})

	_, err := s.CallTool(context.Background(), "nonexistent", nil)
	require.Error(t, err)

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeMethodNotFound, mcpErr.Code)
	assert.Contains(t, mcpErr.Message, "nonexistent")
}

func TestServer_CallTool_Retrieve(t *testing.T) {
	retriever := &MockRetriever{
		RetrieveFn: func(_ context.Context, query string, _ search.Options) (*search.Result, error) {
			return sampleResult(query), nil
		},
	}
	s := newTestServer(t, retriever, &MockPassageStore{})

	out, err := s.CallTool(context.Background(), "retrieve", map[string]any{
		"query": "quick fox",
	})
	require.NoError(t, err)

	text, ok := out.(string)
	require.True(t, ok, "retrieve should return markdown text")
	assert.Contains(t, text, `## Results for "quick fox"`)
	assert.Contains(t, text, "Found 2 results")
	assert.Contains(t, text, "### 1. p1")
	assert.Contains(t, text, "The quick brown fox")
	assert.Contains(t, text, "**Matched:** fox, quick")
	assert.Equal(t, "quick fox", retriever.LastQuery)
}

func TestServer_CallTool_Retrieve_EmptyQuery(t *testing.T) {
	s := newTestServer(t, &MockRetriever{}, &MockPassageStore{})

	for _, args := range []map[string]any{
		{},
		{"query": ""},
		{"query": "   "},
		{"query": 42},
	} {
		_, err := s.CallTool(context.Background(), "retrieve", args)
		require.Error(t, err, "args %v should be rejected", args)

		var mcpErr *MCPError
		require.ErrorAs(t, err, &mcpErr)
		assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
	}
}

func TestServer_CallTool_Retrieve_PassesOptions(t *testing.T) {
	retriever := &MockRetriever{}
	s := newTestServer(t, retriever, &MockPassageStore{})

	_, err := s.CallTool(context.Background(), "retrieve", map[string]any{
		"query":          "fox",
		"k":              float64(7),
		"candidate_pool": float64(25),
		"rrf_k":          float64(30),
		"mmr_lambda":     0.4,
		"filters":        map[string]any{"category": "NATURE"},
	})
	require.NoError(t, err)

	assert.Equal(t, 7, retriever.LastOpts.K)
	assert.Equal(t, 25, retriever.LastOpts.CandidatePool)
	assert.Equal(t, 30, retriever.LastOpts.RRFK)
	require.NotNil(t, retriever.LastOpts.Lambda)
	assert.InDelta(t, 0.4, *retriever.LastOpts.Lambda, 1e-12)
	require.NotNil(t, retriever.LastOpts.Filter)
	assert.True(t, retriever.LastOpts.Filter.Matches(map[string]any{"category": "NATURE"}))
	assert.False(t, retriever.LastOpts.Filter.Matches(map[string]any{"category": "OTHER"}))
}

func TestServer_CallTool_Retrieve_ClampsK(t *testing.T) {
	retriever := &MockRetriever{}
	s := newTestServer(t, retriever, &MockPassageStore{})

	_, err := s.CallTool(context.Background(), "retrieve", map[string]any{
		"query": "fox",
		"k":     float64(10000),
	})
	require.NoError(t, err)
	assert.Equal(t, 100, retriever.LastOpts.K)
}

func TestServer_CallTool_Retrieve_InvalidFilters(t *testing.T) {
	s := newTestServer(t, &MockRetriever{}, &MockPassageStore{})

	_, err := s.CallTool(context.Background(), "retrieve", map[string]any{
		"query":   "fox",
		"filters": map[string]any{"position": map[string]any{"near": 3.0}},
	})
	require.Error(t, err)

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
	assert.Contains(t, mcpErr.Message, "invalid filters")
}

func TestServer_CallTool_Retrieve_EngineError(t *testing.T) {
	retriever := &MockRetriever{
		RetrieveFn: func(_ context.Context, _ string, _ search.Options) (*search.Result, error) {
			return nil, qerrors.IndexMissingError("no index at .quarry", nil)
		},
	}
	s := newTestServer(t, retriever, &MockPassageStore{})

	_, err := s.CallTool(context.Background(), "retrieve", map[string]any{"query": "fox"})
	require.Error(t, err)

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeIndexNotFound, mcpErr.Code)
}

func TestServer_CallTool_Ask(t *testing.T) {
	retriever := &MockRetriever{
		RetrieveFn: func(_ context.Context, query string, _ search.Options) (*search.Result, error) {
			return sampleResult(query), nil
		},
	}
	s := newTestServer(t, retriever, &MockPassageStore{})

	out, err := s.CallTool(context.Background(), "ask", map[string]any{
		"question": "what does the fox do",
	})
	require.NoError(t, err)

	text, ok := out.(string)
	require.True(t, ok, "ask should return markdown text")
	assert.Contains(t, text, "offline stub answer")
	assert.Contains(t, text, "**Sources:**")
	assert.Contains(t, text, "p1")
}

func TestServer_CallTool_Ask_EmptyQuestion(t *testing.T) {
	s := newTestServer(t, &MockRetriever{}, &MockPassageStore{})

	for _, args := range []map[string]any{
		{},
		{"question": ""},
		{"question": "  \t "},
	} {
		_, err := s.CallTool(context.Background(), "ask", args)
		require.Error(t, err, "args %v should be rejected", args)

		var mcpErr *MCPError
		require.ErrorAs(t, err, &mcpErr)
		assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
	}
}

func TestServer_CallTool_Ask_RetrieverError(t *testing.T) {
	retriever := &MockRetriever{
		RetrieveFn: func(_ context.Context, _ string, _ search.Options) (*search.Result, error) {
			return nil, qerrors.NetworkError("embedding host unreachable", nil)
		},
	}
	s := newTestServer(t, retriever, &MockPassageStore{})

	_, err := s.CallTool(context.Background(), "ask", map[string]any{"question": "anything"})
	require.Error(t, err)

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeTimeout, mcpErr.Code)
}

func TestServer_Serve_UnknownTransport(t *testing.T) {
	s := newTestServer(t, &MockRetriever{}, &MockPassageStore{})

	err := s.Serve(context.Background(), "carrier-pigeon", "")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unknown transport"))

	err = s.Serve(context.Background(), "sse", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not yet implemented")
}

func TestServer_Close(t *testing.T) {
	s := newTestServer(t, &MockRetriever{}, &MockPassageStore{})
	assert.NoError(t, s.Close())
}

func TestGenerateRequestID(t *testing.T) {
	a := generateRequestID()
	b := generateRequestID()

	assert.Len(t, a, 8)
	assert.Len(t, b, 8)
	assert.NotEqual(t, a, b)
}
