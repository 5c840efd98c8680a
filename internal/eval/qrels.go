package eval

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	qerrors "github.com/quarrylabs/quarry/internal/errors"
)

// Qrel is one relevance judgment: a query and the passage IDs a good
// retrieval should surface for it. Filters, when present, are the
// JSON filter object to apply during retrieval.
type Qrel struct {
	Query       string         `json:"query"`
	RelevantIDs []string       `json:"relevant_ids"`
	Filters     map[string]any `json:"filters"`
}

// ReadQrels loads qrels from a JSONL file. Blank lines are skipped;
// a malformed line or an empty file is an error.
func ReadQrels(path string) ([]*Qrel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, qerrors.IOError(fmt.Sprintf("open qrels file %s", path), err)
	}
	defer f.Close()

	var qrels []*Qrel
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var q Qrel
		if err := json.Unmarshal([]byte(line), &q); err != nil {
			return nil, qerrors.ValidationError(
				fmt.Sprintf("qrels line %d is not valid JSON", lineNo), err)
		}
		q.Query = strings.TrimSpace(q.Query)
		qrels = append(qrels, &q)
	}
	if err := scanner.Err(); err != nil {
		return nil, qerrors.IOError(fmt.Sprintf("read qrels file %s", path), err)
	}
	if len(qrels) == 0 {
		return nil, qerrors.ValidationError(
			fmt.Sprintf("qrels file %s has no judgments", path), nil)
	}
	return qrels, nil
}

// WriteQrels writes qrels as JSONL, one judgment per line, creating
// parent directories as needed.
func WriteQrels(path string, qrels []*Qrel) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return qerrors.IOError(fmt.Sprintf("create qrels directory %s", dir), err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return qerrors.IOError(fmt.Sprintf("create qrels file %s", path), err)
	}

	w := bufio.NewWriter(f)
	for _, q := range qrels {
		line, err := json.Marshal(q)
		if err != nil {
			f.Close()
			return qerrors.InternalError("marshal qrel", err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			f.Close()
			return qerrors.IOError(fmt.Sprintf("write qrels file %s", path), err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return qerrors.IOError(fmt.Sprintf("write qrels file %s", path), err)
	}
	if err := f.Close(); err != nil {
		return qerrors.IOError(fmt.Sprintf("close qrels file %s", path), err)
	}
	return nil
}

// ReadQueries loads evaluation queries from a text file, one per
// line. Blank lines are skipped; an empty file is an error.
func ReadQueries(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, qerrors.IOError(fmt.Sprintf("open queries file %s", path), err)
	}

	var queries []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			queries = append(queries, line)
		}
	}
	if len(queries) == 0 {
		return nil, qerrors.ValidationError(
			fmt.Sprintf("queries file %s has no queries", path), nil)
	}
	return queries, nil
}
