// Package ignore filters corpus files through gitignore-style patterns.
//
// Patterns come from two places: the exclude list in the corpus
// configuration and a .quarryignore file at the corpus root. Syntax
// follows gitignore: * and ? wildcards, ** for any depth, a trailing
// slash for directories, a leading slash to anchor at the corpus root,
// and ! to re-include an earlier match. The last matching pattern wins.
package ignore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// IgnoreFile is the per-corpus exclusion file read from the corpus root.
const IgnoreFile = ".quarryignore"

type rule struct {
	regex    *regexp.Regexp
	negation bool
	dirOnly  bool
	anchored bool
}

// Matcher holds compiled exclusion patterns. Add every pattern before
// matching starts; Match does not lock.
type Matcher struct {
	rules []rule
}

// New builds a matcher seeded with the given patterns.
func New(patterns ...string) *Matcher {
	m := &Matcher{}
	for _, p := range patterns {
		m.AddPattern(p)
	}
	return m
}

// ForCorpus builds the exclusion matcher for a corpus directory:
// configured patterns first, then the root ignore file when present.
func ForCorpus(root string, patterns []string) (*Matcher, error) {
	m := New(patterns...)
	path := filepath.Join(root, IgnoreFile)
	if _, err := os.Stat(path); err == nil {
		if err := m.AddFile(path); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// AddPattern compiles one pattern into the rule list. Blank lines,
// comments, and patterns that do not compile are dropped; an escaped
// leading # or ! is a literal.
func (m *Matcher) AddPattern(pattern string) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || strings.HasPrefix(pattern, "#") {
		return
	}

	var r rule
	if strings.HasPrefix(pattern, "!") {
		r.negation = true
		pattern = pattern[1:]
		if pattern == "" {
			return
		}
	}
	if strings.HasSuffix(pattern, "/") {
		r.dirOnly = true
		pattern = strings.TrimSuffix(pattern, "/")
	}
	switch {
	case strings.HasPrefix(pattern, "/"):
		r.anchored = true
		pattern = strings.TrimPrefix(pattern, "/")
	case strings.Contains(pattern, "/") && !strings.HasPrefix(pattern, "**/"):
		// "drafts/old" means "/drafts/old", not "**/drafts/old".
		r.anchored = true
	}

	regex, err := regexp.Compile("^" + translate(pattern) + "$")
	if err != nil {
		return
	}
	r.regex = regex
	m.rules = append(m.rules, r)
}

// AddFile reads patterns from a gitignore-format file.
func (m *Matcher) AddFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open ignore file: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		m.AddPattern(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read ignore file %s: %w", path, err)
	}
	return nil
}

// Len reports the number of active rules.
func (m *Matcher) Len() int {
	return len(m.rules)
}

// Match reports whether rel, a path relative to the corpus root in
// either separator style, is excluded.
func (m *Matcher) Match(rel string, isDir bool) bool {
	rel = filepath.ToSlash(rel)

	excluded := false
	for _, r := range m.rules {
		if r.matches(rel, isDir) {
			excluded = !r.negation
		}
	}
	return excluded
}

func (r rule) matches(rel string, isDir bool) bool {
	parts := strings.Split(rel, "/")

	if r.anchored {
		if r.regex.MatchString(rel) {
			return !r.dirOnly || isDir
		}
		// A matched directory takes everything under it along.
		for i := 1; i < len(parts); i++ {
			if r.regex.MatchString(strings.Join(parts[:i], "/")) {
				return true
			}
		}
		return false
	}

	if r.dirOnly {
		for i, part := range parts {
			if r.regex.MatchString(part) {
				return i < len(parts)-1 || isDir
			}
		}
		return false
	}

	// Basename, full path, then parent components, so a bare name
	// drops a whole subtree wherever it appears.
	if r.regex.MatchString(parts[len(parts)-1]) || r.regex.MatchString(rel) {
		return true
	}
	for _, part := range parts[:len(parts)-1] {
		if r.regex.MatchString(part) {
			return true
		}
	}
	return false
}

// translate converts one gitignore pattern into a regexp fragment.
func translate(pattern string) string {
	var b strings.Builder
	for i := 0; i < len(pattern); {
		switch c := pattern[i]; c {
		case '*':
			switch {
			case strings.HasPrefix(pattern[i:], "**/"):
				b.WriteString("(?:.*/)?")
				i += 3
			case strings.HasPrefix(pattern[i:], "**"):
				b.WriteString(".*")
				i += 2
			default:
				b.WriteString("[^/]*")
				i++
			}
		case '?':
			b.WriteString("[^/]")
			i++
		case '[':
			// Character classes pass through; an unterminated bracket is
			// a literal.
			if end := strings.IndexByte(pattern[i:], ']'); end > 0 {
				b.WriteString(pattern[i : i+end+1])
				i += end + 1
			} else {
				b.WriteString(regexp.QuoteMeta("["))
				i++
			}
		case '\\':
			if i+1 < len(pattern) {
				b.WriteString(regexp.QuoteMeta(string(pattern[i+1])))
				i += 2
			} else {
				b.WriteString(regexp.QuoteMeta(`\`))
				i++
			}
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
			i++
		}
	}
	return b.String()
}
