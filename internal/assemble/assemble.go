// Package assemble turns ranked retrieval results into answer-ready
// context: a single context string for the generator plus structured
// references for citation and debugging.
//
// The assembler over-fetches from the retriever, then applies editorial
// policy in rank order: excluded sections are dropped, duplicate IDs are
// collapsed, no section may dominate the context, and the survivors are
// trimmed to the requested budget.
package assemble

import (
	"context"
	"errors"
	"strings"

	"github.com/quarrylabs/quarry/internal/search"
	"github.com/quarrylabs/quarry/internal/store"
)

// ErrNilRetriever is returned when attempting to create an Assembler
// without a retriever.
var ErrNilRetriever = errors.New("retriever is required")

// DefaultPreviewLength is the rune budget for reference previews.
const DefaultPreviewLength = 200

// Config controls how retrieval results are condensed into context.
type Config struct {
	// K is the number of passages kept when the caller does not ask
	// for a specific count. Default: 5.
	K int

	// OverfetchFactor multiplies the passage budget when querying the
	// retriever, leaving room for policy filtering. Default: 3.
	OverfetchFactor int

	// SectionCap bounds how many passages a single section may
	// contribute. Non-positive disables the cap. Default: 2.
	SectionCap int

	// ExcludeSections lists section titles that never enter the
	// context, matched after trimming surrounding whitespace.
	ExcludeSections []string

	// PreviewLength is the rune budget for reference previews.
	// Default: 200.
	PreviewLength int
}

// DefaultConfig returns the assembly defaults.
func DefaultConfig() Config {
	return Config{
		K:               5,
		OverfetchFactor: 3,
		SectionCap:      2,
		PreviewLength:   DefaultPreviewLength,
	}
}

// Ref points back at the source of one assembled passage.
type Ref struct {
	ID       string  `json:"id"`
	Score    float64 `json:"score"`
	Section  string  `json:"section,omitempty"`
	Position *int    `json:"position,omitempty"`
	Category string  `json:"category,omitempty"`
	SourceID string  `json:"source_id,omitempty"`
	Preview  string  `json:"preview"`
}

// Assembled is the output of one assembly pass.
type Assembled struct {
	// ContextText is the generator input: the kept passage texts
	// joined by blank lines, in rank order.
	ContextText string `json:"context_text"`

	// Refs describe the kept passages, parallel to ContextText.
	Refs []*Ref `json:"refs"`

	// Retrieval is the raw retriever response the context was built
	// from, including degradation flags and stage timings.
	Retrieval *search.Result `json:"-"`
}

// Assembler builds answer context from a retriever.
type Assembler struct {
	retriever search.Retriever
	config    Config
	excluded  map[string]struct{}
}

// New creates an Assembler over the given retriever. Zero config
// fields fall back to DefaultConfig.
func New(retriever search.Retriever, cfg Config) (*Assembler, error) {
	if retriever == nil {
		return nil, ErrNilRetriever
	}

	defaults := DefaultConfig()
	if cfg.K <= 0 {
		cfg.K = defaults.K
	}
	if cfg.OverfetchFactor <= 0 {
		cfg.OverfetchFactor = defaults.OverfetchFactor
	}
	if cfg.PreviewLength <= 0 {
		cfg.PreviewLength = defaults.PreviewLength
	}

	excluded := make(map[string]struct{}, len(cfg.ExcludeSections))
	for _, section := range cfg.ExcludeSections {
		section = strings.TrimSpace(section)
		if section != "" {
			excluded[section] = struct{}{}
		}
	}

	return &Assembler{
		retriever: retriever,
		config:    cfg,
		excluded:  excluded,
	}, nil
}

// Build retrieves candidates for question and condenses them into
// context. A non-positive k falls back to the configured default.
// opts.K is replaced by the over-fetch budget; every other option is
// forwarded to the retriever as given.
func (a *Assembler) Build(ctx context.Context, question string, k int, opts search.Options) (*Assembled, error) {
	if k <= 0 {
		k = a.config.K
	}
	opts.K = max(k*a.config.OverfetchFactor, k)

	res, err := a.retriever.Retrieve(ctx, question, opts)
	if err != nil {
		return nil, err
	}

	kept := a.screen(res.Items, k)

	texts := make([]string, 0, len(kept))
	refs := make([]*Ref, 0, len(kept))
	for _, item := range kept {
		if text := strings.TrimSpace(item.Passage.Text); text != "" {
			texts = append(texts, text)
		}
		refs = append(refs, a.ref(item))
	}

	return &Assembled{
		ContextText: strings.Join(texts, "\n\n"),
		Refs:        refs,
		Retrieval:   res,
	}, nil
}

// screen applies assembly policy to ranked items: excluded sections
// and duplicate IDs drop out first, then the per-section cap, then
// the budget trim. Rank order is preserved throughout.
func (a *Assembler) screen(items []*search.Item, k int) []*search.Item {
	seen := make(map[string]struct{}, len(items))
	kept := make([]*search.Item, 0, len(items))
	for _, item := range items {
		if _, drop := a.excluded[sectionOf(item.Passage)]; drop {
			continue
		}
		if _, dup := seen[item.Passage.ID]; dup {
			continue
		}
		seen[item.Passage.ID] = struct{}{}
		kept = append(kept, item)
	}

	if a.config.SectionCap > 0 {
		perSection := make(map[string]int, len(kept))
		capped := kept[:0]
		for _, item := range kept {
			section := sectionOf(item.Passage)
			if perSection[section] >= a.config.SectionCap {
				continue
			}
			perSection[section]++
			capped = append(capped, item)
		}
		kept = capped
	}

	if len(kept) > k {
		kept = kept[:k]
	}
	return kept
}

func (a *Assembler) ref(item *search.Item) *Ref {
	return &Ref{
		ID:       item.Passage.ID,
		Score:    item.Score,
		Section:  sectionOf(item.Passage),
		Position: intMeta(item.Passage.Metadata, "position"),
		Category: stringMeta(item.Passage.Metadata, "category"),
		SourceID: stringMeta(item.Passage.Metadata, "source_id"),
		Preview:  preview(item.Passage.Text, a.config.PreviewLength),
	}
}

// sectionOf reads the section title from passage metadata. Passages
// without one group under the empty section.
func sectionOf(p *store.Passage) string {
	return stringMeta(p.Metadata, "section_title", "section")
}

func stringMeta(meta map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := meta[key].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

// intMeta coerces a metadata value to an int. JSON round-trips store
// numbers as float64.
func intMeta(meta map[string]any, key string) *int {
	switch v := meta[key].(type) {
	case int:
		n := v
		return &n
	case int64:
		n := int(v)
		return &n
	case float64:
		n := int(v)
		return &n
	}
	return nil
}

// preview returns the first runes of the trimmed text, capped at
// limit. The cut is rune-aligned so previews stay valid UTF-8.
func preview(text string, limit int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
