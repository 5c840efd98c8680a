package telemetry

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Run log file names, relative to the index directory.
const (
	LastRunFile     = "last_run.json"
	RunsHistoryFile = "runs_history.jsonl"
)

// DefaultHistoryLimit is how many runs the history file retains.
const DefaultHistoryLimit = 1000

// RunRecord captures one retrieval run for offline inspection.
type RunRecord struct {
	Timestamp         time.Time          `json:"timestamp"`
	Query             string             `json:"query"`
	K                 int                `json:"k"`
	ResultIDs         []string           `json:"result_ids"`
	DegradedBranch    string             `json:"degraded_branch,omitempty"`
	DiversityFallback bool               `json:"diversity_fallback,omitempty"`
	HydrationGaps     int                `json:"hydration_gaps,omitempty"`
	LatencyMS         float64            `json:"latency_ms"`
	StageMS           map[string]float64 `json:"stage_ms,omitempty"`
}

// RunLogger writes the latest run to last_run.json and appends every run to
// runs_history.jsonl, trimming the history once it grows past twice the
// retention limit. Safe for concurrent use within one process; the files
// are not locked across processes.
type RunLogger struct {
	mu    sync.Mutex
	dir   string
	limit int
	lines int
}

// NewRunLogger creates the log directory if needed and counts any existing
// history so trimming picks up where the last process left off.
func NewRunLogger(dir string) (*RunLogger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run log dir: %w", err)
	}
	l := &RunLogger{dir: dir, limit: DefaultHistoryLimit}
	lines, err := countLines(l.historyPath())
	if err != nil {
		return nil, fmt.Errorf("read run history: %w", err)
	}
	l.lines = lines
	return l, nil
}

// SetHistoryLimit overrides the retention limit. Values below one are
// ignored.
func (l *RunLogger) SetHistoryLimit(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n >= 1 {
		l.limit = n
	}
}

func (l *RunLogger) lastRunPath() string { return filepath.Join(l.dir, LastRunFile) }
func (l *RunLogger) historyPath() string { return filepath.Join(l.dir, RunsHistoryFile) }

// Log records one run. The last-run file is replaced atomically so a reader
// never sees a partial document.
func (l *RunLogger) Log(rec RunRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	pretty, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run record: %w", err)
	}
	if err := writeFileAtomic(l.lastRunPath(), append(pretty, '\n')); err != nil {
		return fmt.Errorf("write last run: %w", err)
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode run record: %w", err)
	}
	f, err := os.OpenFile(l.historyPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open run history: %w", err)
	}
	_, werr := f.Write(append(line, '\n'))
	cerr := f.Close()
	if werr != nil {
		return fmt.Errorf("append run history: %w", werr)
	}
	if cerr != nil {
		return fmt.Errorf("append run history: %w", cerr)
	}

	l.lines++
	if l.lines > 2*l.limit {
		return l.trimLocked()
	}
	return nil
}

// LastRun returns the most recent run, or nil when none has been logged.
func (l *RunLogger) LastRun() (*RunRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.lastRunPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read last run: %w", err)
	}
	var rec RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode last run: %w", err)
	}
	return &rec, nil
}

// History returns up to limit recent runs, newest first. Malformed lines
// are skipped.
func (l *RunLogger) History(limit int) ([]RunRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit <= 0 {
		limit = l.limit
	}
	lines, err := readLines(l.historyPath())
	if err != nil {
		return nil, fmt.Errorf("read run history: %w", err)
	}
	if len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}

	records := make([]RunRecord, 0, len(lines))
	for i := len(lines) - 1; i >= 0; i-- {
		var rec RunRecord
		if err := json.Unmarshal([]byte(lines[i]), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// trimLocked rewrites the history keeping only the newest limit lines.
// Caller holds l.mu.
func (l *RunLogger) trimLocked() error {
	lines, err := readLines(l.historyPath())
	if err != nil {
		return fmt.Errorf("trim run history: %w", err)
	}
	if len(lines) > l.limit {
		lines = lines[len(lines)-l.limit:]
	}

	var buf []byte
	for _, line := range lines {
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	if err := writeFileAtomic(l.historyPath(), buf); err != nil {
		return fmt.Errorf("trim run history: %w", err)
	}
	l.lines = len(lines)
	return nil
}

// writeFileAtomic writes data to a sibling temp file and renames it over
// path.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".runlog-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

func countLines(path string) (int, error) {
	lines, err := readLines(path)
	if err != nil {
		return 0, err
	}
	return len(lines), nil
}
