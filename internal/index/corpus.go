package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/quarrylabs/quarry/internal/chunk"
	"github.com/quarrylabs/quarry/internal/config"
	"github.com/quarrylabs/quarry/internal/ignore"
	"github.com/quarrylabs/quarry/internal/store"
)

// Corpus formats accepted by LoadCorpus.
const (
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
)

// textKeys are the record keys tried in order for the passage text when a
// JSON corpus does not use "text".
var textKeys = []string{"text", "document", "content", "chunk"}

// Corpus is a normalized corpus load: the passages to index plus the
// provenance used for rebuild skipping and status display.
type Corpus struct {
	// Passages in corpus order.
	Passages []*store.Passage

	// Documents is the number of source units: records for a JSON corpus,
	// files for a markdown corpus.
	Documents int

	// Format is the detected corpus format: "json" or "markdown".
	Format string

	// Hash identifies the source content. Equal hashes mean an unchanged
	// corpus.
	Hash string

	// Warnings lists records or files that were skipped.
	Warnings []CorpusWarning
}

// CorpusWarning describes a skipped record or file.
type CorpusWarning struct {
	// Source names what was skipped: a file path or "record N".
	Source string
	Err    error
}

// ProgressFunc receives per-document load progress. file is empty for
// single-file corpora.
type ProgressFunc func(current, total int, file string)

// LoadCorpus reads and normalizes the corpus at path. The format is taken
// from cfg.Format, or detected from the path when unset: a directory or a
// .md file loads as markdown, a .json file as a pre-chunked passage array.
func LoadCorpus(ctx context.Context, path string, cfg config.CorpusConfig, progress ProgressFunc) (*Corpus, error) {
	format, err := detectCorpusFormat(path, cfg.Format)
	if err != nil {
		return nil, err
	}

	sourceID := cfg.SourceID
	if sourceID == "" {
		sourceID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	switch format {
	case FormatJSON:
		return loadJSONCorpus(path, sourceID, progress)
	case FormatMarkdown:
		return loadMarkdownCorpus(ctx, path, sourceID, cfg, progress)
	default:
		return nil, fmt.Errorf("unsupported corpus format %q (valid options: json, markdown)", format)
	}
}

// detectCorpusFormat resolves the ingest mode for path. An explicit
// configured format wins; otherwise the path decides.
func detectCorpusFormat(path, configured string) (string, error) {
	if configured != "" && configured != "auto" {
		if configured != FormatJSON && configured != FormatMarkdown {
			return "", fmt.Errorf("unsupported corpus format %q (valid options: json, markdown)", configured)
		}
		return configured, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("corpus source %s: %w", path, err)
	}
	if info.IsDir() {
		return FormatMarkdown, nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".md", ".markdown":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("cannot detect corpus format of %s (expected a .json file, a .md file, or a directory)", path)
	}
}

// loadJSONCorpus parses a pre-chunked passage array. Each record supplies
// its text under one of textKeys; records without usable text are skipped
// with a warning. Record ids are kept when present and generated from the
// record position otherwise.
func loadJSONCorpus(path, sourceID string, progress ProgressFunc) (*Corpus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus %s: %w", path, err)
	}

	var records []map[string]any
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse corpus %s (expected a JSON array of passage objects): %w", path, err)
	}

	corpus := &Corpus{
		Documents: len(records),
		Format:    FormatJSON,
		Hash:      hashBytes(data),
	}

	if progress != nil {
		progress(0, len(records), "")
	}

	for i, rec := range records {
		passage := normalizeRecord(rec, i, sourceID)
		if passage == nil {
			corpus.Warnings = append(corpus.Warnings, CorpusWarning{
				Source: fmt.Sprintf("record %d", i),
				Err:    fmt.Errorf("no usable text (tried keys: %s)", strings.Join(textKeys, ", ")),
			})
			continue
		}
		corpus.Passages = append(corpus.Passages, passage)
	}

	if progress != nil {
		progress(len(records), len(records), "")
	}

	return corpus, nil
}

// normalizeRecord converts one corpus record into a Passage. Returns nil
// when the record carries no usable text.
//
// Metadata normalization: section_title falls back through chapter_title
// and chapter to "Unknown"; section_number through chapter_number and
// section to 0; position defaults to the record index; source_id to the
// corpus default. A category list keeps its first entry as the primary
// category and adds a has_<category> flag per entry. Remaining scalar
// fields pass through untouched; nested values are dropped.
func normalizeRecord(rec map[string]any, position int, sourceID string) *store.Passage {
	var text, textKey string
	for _, key := range textKeys {
		if s, ok := rec[key].(string); ok && strings.TrimSpace(s) != "" {
			text = strings.TrimSpace(s)
			textKey = key
			break
		}
	}
	if text == "" {
		return nil
	}

	id := stringValue(rec["id"])
	if id == "" {
		id = fmt.Sprintf("%04d", position)
	}

	meta := make(map[string]any)

	title := firstString(rec, "section_title", "chapter_title", "chapter")
	if title == "" {
		title = "Unknown"
	}
	meta["section_title"] = title

	meta["section_number"] = firstInt(rec, "section_number", "chapter_number", "section")

	if pos, ok := intValue(rec["position"]); ok {
		meta["position"] = pos
	} else {
		meta["position"] = position
	}

	if sid := stringValue(rec["source_id"]); sid != "" {
		meta["source_id"] = sid
	} else {
		meta["source_id"] = sourceID
	}

	switch v := rec["category"].(type) {
	case string:
		if c := strings.TrimSpace(v); c != "" {
			meta["category"] = c
		}
	case []any:
		for _, item := range v {
			c, ok := item.(string)
			if !ok {
				continue
			}
			c = strings.TrimSpace(c)
			if c == "" {
				continue
			}
			// The first entry is the primary category; every entry
			// stays queryable through its flag.
			if _, seen := meta["category"]; !seen {
				meta["category"] = c
			}
			meta["has_"+flagKey(c)] = true
		}
	}

	handled := map[string]bool{
		"id": true, textKey: true,
		"section_title": true, "chapter_title": true, "chapter": true,
		"section_number": true, "chapter_number": true, "section": true,
		"position": true, "source_id": true, "category": true,
	}
	for key, value := range rec {
		if handled[key] {
			continue
		}
		switch value.(type) {
		case string, bool, float64, int, int64:
			meta[key] = value
		}
	}

	return &store.Passage{ID: id, Text: text, Metadata: meta}
}

// loadMarkdownCorpus splits one markdown file or every .md file under a
// directory into passages. Files are processed in lexical path order so
// generated ids and positions are deterministic.
func loadMarkdownCorpus(ctx context.Context, path, sourceID string, cfg config.CorpusConfig, progress ProgressFunc) (*Corpus, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("corpus source %s: %w", path, err)
	}

	var files []string
	root := path
	if info.IsDir() {
		excludes, err := ignore.ForCorpus(path, cfg.Exclude)
		if err != nil {
			return nil, err
		}
		files, err = listMarkdownFiles(path, excludes)
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("corpus directory %s contains no markdown files", path)
		}
	} else {
		root = filepath.Dir(path)
		files = []string{path}
	}

	splitter := chunk.NewSplitterWithOptions(chunk.Options{
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
	})

	corpus := &Corpus{
		Documents: len(files),
		Format:    FormatMarkdown,
	}

	hasher := sha256.New()
	position := 0

	for docNum, file := range files {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		rel, relErr := filepath.Rel(root, file)
		if relErr != nil {
			rel = filepath.Base(file)
		}

		if progress != nil {
			progress(docNum+1, len(files), rel)
		}

		content, err := os.ReadFile(file)
		if err != nil {
			corpus.Warnings = append(corpus.Warnings, CorpusWarning{Source: rel, Err: err})
			continue
		}
		// Hash exactly what HashCorpusSource hashes so the skip check and
		// the stored corpus hash agree.
		if info.IsDir() {
			hasher.Write([]byte(rel))
			hasher.Write([]byte{0})
		}
		hasher.Write(content)

		sections, err := splitter.Split(string(content))
		if err != nil {
			corpus.Warnings = append(corpus.Warnings, CorpusWarning{Source: rel, Err: err})
			continue
		}
		if len(sections) == 0 {
			corpus.Warnings = append(corpus.Warnings, CorpusWarning{
				Source: rel,
				Err:    fmt.Errorf("no indexable sections"),
			})
			continue
		}

		for _, sec := range sections {
			title := sec.Title
			if title == "" {
				title = "Unknown"
			}
			meta := map[string]any{
				"section_title":  title,
				"section_number": docNum + 1,
				"position":       position,
				"source_id":      sourceID,
				"file":           rel,
			}
			if sec.Path != "" && sec.Path != sec.Title {
				meta["section_path"] = sec.Path
			}
			if sec.Parts > 1 {
				meta["part"] = sec.Part
				meta["parts"] = sec.Parts
			}

			corpus.Passages = append(corpus.Passages, &store.Passage{
				ID:       fmt.Sprintf("%04d", position),
				Text:     sec.Text,
				Metadata: meta,
			})
			position++
		}
	}

	sum := hasher.Sum(nil)
	corpus.Hash = hex.EncodeToString(sum)[:16]

	return corpus, nil
}

// HashCorpusSource hashes the corpus source content without parsing it.
// Equal hashes mean the corpus is unchanged since the last build. For a
// directory the hash covers every markdown file path and content, after
// the same exclusions the loader applies, so an edit to an excluded file
// never forces a rebuild.
func HashCorpusSource(path string, exclude []string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("corpus source %s: %w", path, err)
	}

	if !info.IsDir() {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read corpus %s: %w", path, err)
		}
		return hashBytes(data), nil
	}

	excludes, err := ignore.ForCorpus(path, exclude)
	if err != nil {
		return "", err
	}
	files, err := listMarkdownFiles(path, excludes)
	if err != nil {
		return "", err
	}

	hasher := sha256.New()
	for _, file := range files {
		rel, relErr := filepath.Rel(path, file)
		if relErr != nil {
			rel = filepath.Base(file)
		}
		content, err := os.ReadFile(file)
		if err != nil {
			continue
		}
		hasher.Write([]byte(rel))
		hasher.Write([]byte{0})
		hasher.Write(content)
	}
	sum := hasher.Sum(nil)
	return hex.EncodeToString(sum)[:16], nil
}

// listMarkdownFiles collects .md and .markdown files under root in lexical
// path order, skipping hidden directories and excluded paths.
func listMarkdownFiles(root string, excludes *ignore.Matcher) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") || excludes.Match(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if excludes.Match(rel, false) {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".md", ".markdown":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk corpus directory %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

// firstString returns the first non-empty string value among keys.
func firstString(rec map[string]any, keys ...string) string {
	for _, key := range keys {
		if s := stringValue(rec[key]); s != "" {
			return s
		}
	}
	return ""
}

// firstInt returns the first integer value among keys, or 0.
func firstInt(rec map[string]any, keys ...string) int {
	for _, key := range keys {
		if n, ok := intValue(rec[key]); ok {
			return n
		}
	}
	return 0
}

// stringValue coerces a JSON value to a trimmed string. Numbers format
// without a fraction when whole, so ids survive JSON number decoding.
func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64:
		if s == float64(int64(s)) {
			return fmt.Sprintf("%d", int64(s))
		}
		return fmt.Sprintf("%g", s)
	case int:
		return fmt.Sprintf("%d", s)
	default:
		return ""
	}
}

// intValue coerces a JSON value to an int.
func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	default:
		return 0, false
	}
}

// flagKey normalizes a category name into a metadata flag suffix.
func flagKey(category string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(category), " ", "_"))
}

// hashBytes returns the SHA256 hash of data (first 16 hex chars).
func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])[:16]
}
