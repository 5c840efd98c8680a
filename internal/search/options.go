package search

import (
	"fmt"

	qerrors "github.com/quarrylabs/quarry/internal/errors"
	"github.com/quarrylabs/quarry/internal/store"
)

// params is a fully resolved parameter set for one Retrieve call.
type params struct {
	K             int
	CandidatePool int
	RRFK          int
	Lambda        float64
	Filter        *store.Filter
}

// withDefaults fills zero-valued fields. Callers that need an explicit
// lambda of zero set it per call through Options.Lambda.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.FinalK <= 0 {
		c.FinalK = def.FinalK
	}
	if c.MaxK <= 0 {
		c.MaxK = def.MaxK
	}
	if c.CandidatePool <= 0 {
		c.CandidatePool = def.CandidatePool
	}
	if c.RRFK <= 0 {
		c.RRFK = def.RRFK
	}
	if c.MMRLambda == 0 {
		c.MMRLambda = def.MMRLambda
	}
	if c.MaxFetchBatch <= 0 {
		c.MaxFetchBatch = def.MaxFetchBatch
	}
	return c
}

// resolve merges per-call options over the engine config and validates the
// outcome. Negative counts and an out-of-range lambda are rejected rather
// than clamped; a requested k above MaxK is capped.
func (c Config) resolve(opts Options) (params, error) {
	p := params{
		K:             c.FinalK,
		CandidatePool: c.CandidatePool,
		RRFK:          c.RRFK,
		Lambda:        c.MMRLambda,
		Filter:        opts.Filter,
	}

	if opts.K < 0 {
		return params{}, qerrors.TunableError(fmt.Sprintf("k must be positive, got %d", opts.K))
	}
	if opts.K > 0 {
		p.K = opts.K
	}
	if p.K > c.MaxK {
		p.K = c.MaxK
	}

	if opts.CandidatePool < 0 {
		return params{}, qerrors.TunableError(fmt.Sprintf("candidate pool must be positive, got %d", opts.CandidatePool))
	}
	if opts.CandidatePool > 0 {
		p.CandidatePool = opts.CandidatePool
	}
	// The pool always covers the requested result count.
	if p.CandidatePool < p.K {
		p.CandidatePool = p.K
	}

	if opts.RRFK < 0 {
		return params{}, qerrors.TunableError(fmt.Sprintf("rrf constant must be positive, got %d", opts.RRFK))
	}
	if opts.RRFK > 0 {
		p.RRFK = opts.RRFK
	}

	if opts.Lambda != nil {
		if *opts.Lambda < 0 || *opts.Lambda > 1 {
			return params{}, qerrors.TunableError(fmt.Sprintf("lambda must be in [0, 1], got %g", *opts.Lambda))
		}
		p.Lambda = *opts.Lambda
	}

	return p, nil
}
