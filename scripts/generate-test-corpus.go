//go:build ignore

// Generates a synthetic passage corpus for benchmarking index builds and
// retrieval quality.
// Usage: go run scripts/generate-test-corpus.go -passages 5000 -output testdata/bench/passages.json
//
// Passages cluster into themed sections so sparse search has vocabulary
// structure to find and dense search has topical neighborhoods. The same
// seed always produces the same corpus.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

var (
	numPassages = flag.Int("passages", 1000, "Number of passages to generate")
	output      = flag.String("output", "testdata/bench/passages.json", "Output file (.json) or directory (markdown)")
	seed        = flag.Int64("seed", 42, "Random seed for reproducibility")
	markdown    = flag.Bool("markdown", false, "Emit a directory of markdown chapters instead of JSON")
)

// topic is one themed vocabulary cluster.
type topic struct {
	category string
	chapter  string
	sections []string
	nouns    []string
	verbs    []string
	mods     []string
}

var topics = []topic{
	{
		category: "BIOLOGY",
		chapter:  "Life at Small Scales",
		sections: []string{"Cell Structure", "Metabolism", "Inheritance", "Microbial Ecology"},
		nouns:    []string{"mitochondrion", "ribosome", "enzyme", "chromosome", "membrane", "organelle", "protein", "genome", "cytoplasm", "nucleus"},
		verbs:    []string{"synthesizes", "catalyzes", "replicates", "transports", "regulates", "metabolizes", "encodes", "binds"},
		mods:     []string{"eukaryotic", "selective", "hereditary", "enzymatic", "cellular", "microbial"},
	},
	{
		category: "PHYSICS",
		chapter:  "Matter and Energy",
		sections: []string{"Thermodynamics", "Electromagnetism", "Quantum Behavior", "Condensed Matter"},
		nouns:    []string{"photon", "entropy", "superconductor", "lattice", "field", "particle", "wavelength", "resistance", "charge", "momentum"},
		verbs:    []string{"radiates", "conducts", "oscillates", "accelerates", "diffracts", "dissipates", "polarizes", "tunnels"},
		mods:     []string{"critical", "magnetic", "coherent", "thermal", "relativistic", "quantized"},
	},
	{
		category: "HISTORY",
		chapter:  "Turning Points",
		sections: []string{"Early Trade Routes", "Print and Literacy", "Industrial Growth", "Modern States"},
		nouns:    []string{"empire", "caravan", "printing press", "treaty", "harvest", "guild", "railway", "archive", "dynasty", "port"},
		verbs:    []string{"expanded", "collapsed", "negotiated", "flourished", "migrated", "taxed", "chronicled", "unified"},
		mods:     []string{"medieval", "mercantile", "colonial", "agrarian", "maritime", "imperial"},
	},
	{
		category: "GEOLOGY",
		chapter:  "The Restless Earth",
		sections: []string{"Plate Tectonics", "Volcanism", "Erosion", "Deep Time"},
		nouns:    []string{"basalt", "magma", "fault", "sediment", "glacier", "stratum", "crust", "fossil", "mineral", "delta"},
		verbs:    []string{"subducts", "erupts", "erodes", "deposits", "fractures", "crystallizes", "uplifts", "weathers"},
		mods:     []string{"igneous", "tectonic", "sedimentary", "volcanic", "glacial", "metamorphic"},
	},
}

// passage matches the JSON corpus shape quarry index ingests.
type passage struct {
	ID           string `json:"id"`
	Text         string `json:"text"`
	SectionTitle string `json:"section_title"`
	ChapterTitle string `json:"chapter_title"`
	Category     string `json:"category"`
	Position     int    `json:"position"`
	SourceID     string `json:"source_id"`
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	passages := make([]*passage, 0, *numPassages)
	for i := 0; i < *numPassages; i++ {
		t := topics[i%len(topics)]
		section := t.sections[(i/len(topics))%len(t.sections)]
		passages = append(passages, &passage{
			ID:           fmt.Sprintf("%s-%04d", strings.ToLower(t.category[:3]), i),
			Text:         generateText(rng, t, 3+rng.Intn(4)),
			SectionTitle: section,
			ChapterTitle: t.chapter,
			Category:     t.category,
			Position:     i,
			SourceID:     "synthetic-bench",
		})
	}

	var err error
	if *markdown {
		err = writeMarkdown(*output, passages)
	} else {
		err = writeJSON(*output, passages)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Generated %d passages (seed %d) at %s\n", len(passages), *seed, *output)
}

// generateText builds n sentences from the topic vocabulary.
func generateText(rng *rand.Rand, t topic, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		noun := t.nouns[rng.Intn(len(t.nouns))]
		verb := t.verbs[rng.Intn(len(t.verbs))]
		mod := t.mods[rng.Intn(len(t.mods))]
		obj := t.nouns[rng.Intn(len(t.nouns))]
		fmt.Fprintf(&b, "The %s %s %s the %s %s.", mod, noun, verb, t.mods[rng.Intn(len(t.mods))], obj)
	}
	return b.String()
}

func writeJSON(path string, passages []*passage) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(passages)
}

// writeMarkdown lays the passages out as one chapter file per topic with
// a heading per section, the shape `quarry index` expects of a markdown
// corpus directory.
func writeMarkdown(dir string, passages []*passage) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	byChapter := make(map[string][]*passage)
	var order []string
	for _, p := range passages {
		if _, seen := byChapter[p.ChapterTitle]; !seen {
			order = append(order, p.ChapterTitle)
		}
		byChapter[p.ChapterTitle] = append(byChapter[p.ChapterTitle], p)
	}

	for i, chapter := range order {
		var b strings.Builder
		fmt.Fprintf(&b, "# %s\n", chapter)
		lastSection := ""
		for _, p := range byChapter[chapter] {
			if p.SectionTitle != lastSection {
				fmt.Fprintf(&b, "\n## %s\n", p.SectionTitle)
				lastSection = p.SectionTitle
			}
			fmt.Fprintf(&b, "\n%s\n", p.Text)
		}
		name := fmt.Sprintf("%02d-%s.md", i+1, slugify(chapter))
		if err := os.WriteFile(filepath.Join(dir, name), []byte(b.String()), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func slugify(s string) string {
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r == ' ' || r == '-':
			return '-'
		default:
			return -1
		}
	}, s)
	return strings.Trim(s, "-")
}
