package mcp

// RetrieveInput defines the input schema for the retrieve tool.
type RetrieveInput struct {
	Query         string         `json:"query" jsonschema:"the search query to execute"`
	K             int            `json:"k,omitempty" jsonschema:"number of passages to return, default 10"`
	CandidatePool int            `json:"candidate_pool,omitempty" jsonschema:"per-branch candidate depth before fusion, default 40"`
	RRFK          int            `json:"rrf_k,omitempty" jsonschema:"reciprocal rank fusion constant, default 60"`
	MMRLambda     *float64       `json:"mmr_lambda,omitempty" jsonschema:"relevance-diversity balance between 0 and 1, default 0.7"`
	Filters       map[string]any `json:"filters,omitempty" jsonschema:"metadata filter object, e.g. {\"category\": \"PRACTICAL\"} or {\"position\": {\"gte\": 3}}"`
}

// RetrieveOutput defines the output schema for the retrieve tool.
type RetrieveOutput struct {
	Query          string             `json:"query" jsonschema:"the query that was executed"`
	Results        []RetrievedPassage `json:"results" jsonschema:"ranked passages"`
	Degraded       bool               `json:"degraded,omitempty" jsonschema:"true if one retrieval branch failed and results come from the other"`
	DegradedBranch string             `json:"degraded_branch,omitempty" jsonschema:"which branch failed: sparse or dense"`
}

// RetrievedPassage is one ranked result with its fusion provenance.
type RetrievedPassage struct {
	ID           string   `json:"id" jsonschema:"passage identifier"`
	Text         string   `json:"text" jsonschema:"passage text"`
	Score        float64  `json:"score" jsonschema:"fused relevance score"`
	SparseRank   int      `json:"sparse_rank,omitempty" jsonschema:"rank in the keyword result list, 0 if absent"`
	DenseRank    int      `json:"dense_rank,omitempty" jsonschema:"rank in the semantic result list, 0 if absent"`
	MatchedTerms []string `json:"matched_terms,omitempty" jsonschema:"query terms the keyword branch matched"`
	Section      string   `json:"section,omitempty" jsonschema:"section title the passage came from"`
	Position     int      `json:"position,omitempty" jsonschema:"1-based position within the source"`
	Category     string   `json:"category,omitempty" jsonschema:"passage category label"`
	SourceID     string   `json:"source_id,omitempty" jsonschema:"source document identifier"`
}

// AskInput defines the input schema for the ask tool.
type AskInput struct {
	Question string `json:"question" jsonschema:"the question to answer from the corpus"`
	K        int    `json:"k,omitempty" jsonschema:"number of context passages to use, default 5"`
}

// AskOutput defines the output schema for the ask tool.
type AskOutput struct {
	Answer   string       `json:"answer" jsonschema:"the generated answer"`
	Refs     []*AnswerRef `json:"refs" jsonschema:"passages the answer was grounded on"`
	Degraded bool         `json:"degraded,omitempty" jsonschema:"true if retrieval ran on a single branch"`
}

// AnswerRef describes one context passage behind an answer.
type AnswerRef struct {
	ID       string  `json:"id" jsonschema:"passage identifier"`
	Score    float64 `json:"score" jsonschema:"fused relevance score"`
	Section  string  `json:"section,omitempty" jsonschema:"section title the passage came from"`
	Position *int    `json:"position,omitempty" jsonschema:"1-based position within the source"`
	Category string  `json:"category,omitempty" jsonschema:"passage category label"`
	SourceID string  `json:"source_id,omitempty" jsonschema:"source document identifier"`
	Preview  string  `json:"preview" jsonschema:"first sentences of the passage"`
}
