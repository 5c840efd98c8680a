package answer

import "context"

// stubAnswer is the canned response of the offline backend.
const stubAnswer = `This is an offline stub answer; no model backend is configured.

The retrieval pipeline ran and assembled context for your question, but
answer generation needs a live model. Switch answer.generator to
"ollama" or "openai" in quarry.yaml to enable real answers.`

// StubGenerator returns a canned answer without contacting any model.
// It is the default backend, keeping the ask flow usable offline and
// in tests.
type StubGenerator struct{}

// NewStubGenerator returns the offline stub backend.
func NewStubGenerator() *StubGenerator {
	return &StubGenerator{}
}

// Complete returns the canned stub answer.
func (g *StubGenerator) Complete(_ context.Context, _, _ string) (string, error) {
	return stubAnswer, nil
}

// Name identifies the stub backend.
func (g *StubGenerator) Name() string {
	return "stub"
}
