package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// ErrPassageNotFound is returned by GetPassage for unknown ids.
var ErrPassageNotFound = errors.New("passage not found")

// fetchBatchSize caps the IN-clause size for batched lookups. Keeps
// parameter lists well under SQLite's host parameter limit and bounds
// per-query memory.
const fetchBatchSize = 256

// SQLitePassageStore is the canonical passage store: full text and typed
// metadata per passage, plus a key/value state table for index provenance
// (embedding model, corpus hash, build timestamp).
type SQLitePassageStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

// Verify interface implementation at compile time
var _ PassageStore = (*SQLitePassageStore)(nil)

// validatePassageDBIntegrity checks a passage database before opening.
// Returns nil if valid, error describing corruption if not.
func validatePassageDBIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // Database doesn't exist, will be created
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}

	var count int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master
                       WHERE type='table' AND name='passages'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("cannot query schema: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("table 'passages' missing")
	}

	return nil
}

// NewSQLitePassageStore creates or opens the passage store at path.
// If path is empty, creates an in-memory store for testing.
func NewSQLitePassageStore(path string) (*SQLitePassageStore, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}

		// Validate integrity before opening, clearing corrupt databases
		if validErr := validatePassageDBIntegrity(path); validErr != nil {
			slog.Warn("passage_store_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))

			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, fmt.Errorf("passage store corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")

			slog.Info("passage_store_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, please reindex"))
		}

		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer to prevent lock contention
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Set pragmas via statements; DSN params may be ignored by modernc.org/sqlite
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	store := &SQLitePassageStore{
		db:   db,
		path: path,
	}

	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the passage and state tables.
func (s *SQLitePassageStore) initSchema() error {
	schema := `
	-- Schema version tracking
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	-- Passages: full text plus metadata as a JSON document, queried with
	-- the json_extract builtin.
	CREATE TABLE IF NOT EXISTS passages (
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}'
	);

	-- Index provenance and build state
	CREATE TABLE IF NOT EXISTS state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	if _, err := s.db.Exec(`INSERT OR IGNORE INTO schema_version (version) VALUES (?)`, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	return nil
}

// SavePassages inserts or replaces passages.
func (s *SQLitePassageStore) SavePassages(ctx context.Context, passages []*Passage) error {
	if len(passages) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO passages (id, text, metadata) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range passages {
		meta, err := marshalMetadata(p.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for %s: %w", p.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, p.ID, p.Text, meta); err != nil {
			return fmt.Errorf("failed to save passage %s: %w", p.ID, err)
		}
	}

	return tx.Commit()
}

// GetPassage returns a single passage by id.
// Returns an error wrapping ErrPassageNotFound for unknown ids.
func (s *SQLitePassageStore) GetPassage(ctx context.Context, id string) (*Passage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	var p Passage
	var meta string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, text, metadata FROM passages WHERE id = ?`, id).
		Scan(&p.ID, &p.Text, &meta)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("passage %s: %w", id, ErrPassageNotFound)
		}
		return nil, fmt.Errorf("failed to get passage %s: %w", id, err)
	}

	if err := unmarshalMetadata(meta, &p); err != nil {
		return nil, fmt.Errorf("failed to decode metadata for %s: %w", id, err)
	}

	return &p, nil
}

// GetPassages returns passages in the order the ids were requested, fetching
// in batches of fetchBatchSize. Ids with no stored passage are skipped, not
// errors; callers that care about gaps compare lengths.
func (s *SQLitePassageStore) GetPassages(ctx context.Context, ids []string) ([]*Passage, error) {
	if len(ids) == 0 {
		return []*Passage{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	found := make(map[string]*Passage, len(ids))

	for start := 0; start < len(ids); start += fetchBatchSize {
		end := start + fetchBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		placeholders := make([]string, len(batch))
		args := make([]any, len(batch))
		for i, id := range batch {
			placeholders[i] = "?"
			args[i] = id
		}

		query := fmt.Sprintf(
			`SELECT id, text, metadata FROM passages WHERE id IN (%s)`,
			strings.Join(placeholders, ","))

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query passages: %w", err)
		}

		for rows.Next() {
			var p Passage
			var meta string
			if err := rows.Scan(&p.ID, &p.Text, &meta); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan passage: %w", err)
			}
			if err := unmarshalMetadata(meta, &p); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to decode metadata for %s: %w", p.ID, err)
			}
			found[p.ID] = &p
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to read passages: %w", err)
		}
		rows.Close()
	}

	// Reassemble in request order, skipping missing ids
	out := make([]*Passage, 0, len(found))
	for _, id := range ids {
		if p, ok := found[id]; ok {
			out = append(out, p)
		}
	}

	return out, nil
}

// Delete removes passages by id.
func (s *SQLitePassageStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for start := 0; start < len(ids); start += fetchBatchSize {
		end := start + fetchBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		placeholders := make([]string, len(batch))
		args := make([]any, len(batch))
		for i, id := range batch {
			placeholders[i] = "?"
			args[i] = id
		}

		query := fmt.Sprintf(
			`DELETE FROM passages WHERE id IN (%s)`,
			strings.Join(placeholders, ","))
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to delete passages: %w", err)
		}
	}

	return tx.Commit()
}

// AllIDs returns all passage ids.
// Used for consistency checking between stores.
func (s *SQLitePassageStore) AllIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM passages ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// Count returns the number of stored passages.
func (s *SQLitePassageStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, fmt.Errorf("store is closed")
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM passages`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count passages: %w", err)
	}

	return count, nil
}

// Sections aggregates passages by their section_title metadata field,
// most populous first. Passages without one fall into the "" bucket.
func (s *SQLitePassageStore) Sections(ctx context.Context) ([]SectionStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(json_extract(metadata, '$.section_title'), ''), COUNT(*)
		FROM passages
		GROUP BY 1
		ORDER BY 2 DESC, 1 ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sections: %w", err)
	}
	defer rows.Close()

	var stats []SectionStat
	for rows.Next() {
		var stat SectionStat
		if err := rows.Scan(&stat.SectionTitle, &stat.Count); err != nil {
			return nil, fmt.Errorf("failed to scan section: %w", err)
		}
		stats = append(stats, stat)
	}

	return stats, rows.Err()
}

// GetState returns the value for a state key, or "" when unset.
func (s *SQLitePassageStore) GetState(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", fmt.Errorf("store is closed")
	}

	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get state %s: %w", key, err)
	}

	return value, nil
}

// SetState stores a state key/value pair, replacing any previous value.
func (s *SQLitePassageStore) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO state (key, value) VALUES (?, ?)`, key, value); err != nil {
		return fmt.Errorf("failed to set state %s: %w", key, err)
	}

	return nil
}

// Close checkpoints and closes the store. Idempotent.
func (s *SQLitePassageStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	if s.db != nil {
		// Checkpoint before close to ensure durability
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}

// marshalMetadata encodes metadata as JSON, "{}" for empty.
func marshalMetadata(meta map[string]any) (string, error) {
	if len(meta) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// unmarshalMetadata decodes the stored JSON into the passage, leaving
// Metadata nil for "{}".
func unmarshalMetadata(data string, p *Passage) error {
	if data == "" || data == "{}" {
		return nil
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(data), &meta); err != nil {
		return err
	}
	p.Metadata = meta
	return nil
}
