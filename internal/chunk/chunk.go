// Package chunk splits markdown reference documents into passage-sized
// sections. Sections follow the header structure of the document; oversize
// sections are split further with a markdown-aware text splitter so code
// fences and tables survive intact.
package chunk

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"
)

// Chunk size defaults, in characters.
const (
	// DefaultChunkSize is the target size of one passage.
	DefaultChunkSize = 1500
	// DefaultChunkOverlap is the overlap between parts of a split section.
	DefaultChunkOverlap = 200
)

// Regex patterns for markdown parsing.
var (
	// Matches headers: # Title, ## Title, etc.
	headerPattern = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)

	// Matches frontmatter: ---\n...\n---
	frontmatterPattern = regexp.MustCompile(`(?s)^---\n(.+?)\n---\n*`)
)

// Section is one passage-sized piece of a markdown document.
type Section struct {
	// Title is the innermost header above the text.
	// Empty for text before the first header.
	Title string

	// Path is the full header trail, e.g. "Guide > Setup > Linux".
	Path string

	// Level is the header level 1-6, or 0 before the first header.
	Level int

	// Text is the section text, including its header line.
	Text string

	// Part and Parts number the pieces of a section that exceeded the
	// chunk size. Parts is 1 when the section fit whole.
	Part  int
	Parts int
}

// Options configures the splitter.
type Options struct {
	// ChunkSize is the target passage size in characters (default: DefaultChunkSize).
	ChunkSize int

	// ChunkOverlap is the overlap between adjacent parts of a split
	// section (default: DefaultChunkOverlap).
	ChunkOverlap int
}

// Splitter splits markdown documents into header-delimited sections.
type Splitter struct {
	options Options
	inner   textsplitter.TextSplitter
}

// NewSplitter creates a splitter with default options.
func NewSplitter() *Splitter {
	return NewSplitterWithOptions(Options{})
}

// NewSplitterWithOptions creates a splitter with custom options.
func NewSplitterWithOptions(opts Options) *Splitter {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ChunkOverlap <= 0 {
		opts.ChunkOverlap = DefaultChunkOverlap
	}
	// The overlap must stay below the chunk size or splitting cannot advance.
	if opts.ChunkOverlap >= opts.ChunkSize {
		opts.ChunkOverlap = opts.ChunkSize / 4
	}
	return &Splitter{
		options: opts,
		inner: textsplitter.NewMarkdownTextSplitter(
			textsplitter.WithChunkSize(opts.ChunkSize),
			textsplitter.WithChunkOverlap(opts.ChunkOverlap),
		),
	}
}

// Split splits a markdown document into sections in document order.
// Frontmatter and header-only sections are dropped. Whitespace-only
// input returns nil.
func (s *Splitter) Split(content string) ([]*Section, error) {
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	// Frontmatter configures the document, it is not prose.
	if m := frontmatterPattern.FindString(content); m != "" {
		content = content[len(m):]
	}

	var sections []*Section
	for _, sec := range parseSections(content) {
		if strings.TrimSpace(sec.body()) == "" {
			// Only the header itself, nothing to index.
			continue
		}

		parts := []string{sec.text}
		if utf8.RuneCountInString(sec.text) > s.options.ChunkSize {
			split, err := s.inner.SplitText(sec.text)
			if err != nil {
				return nil, fmt.Errorf("split section %q: %w", sec.title, err)
			}
			if len(split) > 0 {
				parts = split
			}
		}

		for i, part := range parts {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			sections = append(sections, &Section{
				Title: sec.title,
				Path:  sec.path,
				Level: sec.level,
				Text:  part,
				Part:  i + 1,
				Parts: len(parts),
			})
		}
	}

	return sections, nil
}

// parsed is a raw header-delimited region of the document.
type parsed struct {
	level int
	title string
	path  string
	text  string
}

// body returns the region text without its header line.
func (p *parsed) body() string {
	if p.level == 0 {
		return p.text
	}
	if i := strings.IndexByte(p.text, '\n'); i >= 0 {
		return p.text[i+1:]
	}
	return ""
}

// parseSections walks the document line by line and cuts it at headers.
// Text before the first header becomes an untitled level-0 region.
func parseSections(content string) []*parsed {
	lines := strings.Split(content, "\n")
	headerStack := make([]string, 6)

	var sections []*parsed
	current := &parsed{}
	var text strings.Builder

	flush := func() {
		current.text = strings.TrimRight(text.String(), "\n")
		if strings.TrimSpace(current.text) != "" {
			sections = append(sections, current)
		}
		text.Reset()
	}

	for _, line := range lines {
		match := headerPattern.FindStringSubmatch(line)
		if match == nil {
			text.WriteString(line)
			text.WriteByte('\n')
			continue
		}

		flush()

		level := len(match[1])
		title := strings.TrimSpace(match[2])

		// Update the header trail; entering a level clears deeper ones.
		headerStack[level-1] = title
		for i := level; i < len(headerStack); i++ {
			headerStack[i] = ""
		}
		var trail []string
		for i := 0; i < level; i++ {
			if headerStack[i] != "" {
				trail = append(trail, headerStack[i])
			}
		}

		current = &parsed{
			level: level,
			title: title,
			path:  strings.Join(trail, " > "),
		}
		text.WriteString(line)
		text.WriteByte('\n')
	}
	flush()

	return sections
}
