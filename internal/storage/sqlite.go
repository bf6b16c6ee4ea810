package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// OpenSQLite opens (creating if needed) the database at path and applies
// migrations. Writers take the lock when a transaction begins, so
// concurrent read-modify-write cycles serialise instead of failing midway.
func OpenSQLite(path, journalMode string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if err := NewMigrationRunner(db).WithJournalMode(journalMode).Run(); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

// SQLiteStore implements Store backed by a SQLite database. It also keeps
// the exclusion rules and the sync log.
type SQLiteStore struct {
	db *sql.DB

	// Prepared statements
	getDoc *sql.Stmt
	putDoc *sql.Stmt
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLiteStore from an already-opened and migrated database.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}

	if err := s.prepareStatements(); err != nil {
		return nil, fmt.Errorf("prepare statements: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.getDoc, err = s.db.Prepare(`SELECT value FROM documents WHERE key = ?`)
	if err != nil {
		return err
	}

	s.putDoc, err = s.db.Prepare(`
		INSERT INTO documents (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`)
	if err != nil {
		return err
	}

	return nil
}

// DB returns the underlying database handle.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) readDoc(ctx context.Context, stmt *sql.Stmt, key string) (string, error) {
	var value string
	err := stmt.QueryRowContext(ctx, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// LoadPages returns the persisted page list.
func (s *SQLiteStore) LoadPages(ctx context.Context) ([]Domain, error) {
	value, err := s.readDoc(ctx, s.getDoc, PageListKey)
	if err != nil {
		return nil, unavailable("load page list", err)
	}
	return decodePages([]byte(value))
}

// UpdatePages runs fn on the current page list and stores its result in
// one transaction.
func (s *SQLiteStore) UpdatePages(ctx context.Context, fn UpdateFunc) ([]Domain, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable("begin tx", err)
	}
	defer tx.Rollback() //nolint:errcheck

	value, err := s.readDoc(ctx, tx.StmtContext(ctx, s.getDoc), PageListKey)
	if err != nil {
		return nil, unavailable("load page list", err)
	}
	current, err := decodePages([]byte(value))
	if err != nil {
		return nil, err
	}

	next, err := fn(current)
	if err != nil {
		return nil, err
	}

	data, err := encodePages(next)
	if err != nil {
		return nil, err
	}
	if _, err := tx.StmtContext(ctx, s.putDoc).ExecContext(ctx, PageListKey, string(data)); err != nil {
		return nil, unavailable("store page list", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, unavailable("commit page list", err)
	}
	return next, nil
}

// Marker returns the time stored under name, or the zero time.
func (s *SQLiteStore) Marker(ctx context.Context, name string) (time.Time, error) {
	value, err := s.readDoc(ctx, s.getDoc, markerKey(name))
	if err != nil {
		return time.Time{}, unavailable("load marker "+name, err)
	}
	return decodeMarker(value)
}

// SetMarker stores t under name.
func (s *SQLiteStore) SetMarker(ctx context.Context, name string, t time.Time) error {
	if _, err := s.putDoc.ExecContext(ctx, markerKey(name), encodeMarker(t)); err != nil {
		return unavailable("store marker "+name, err)
	}
	return nil
}

// ListExclusions returns every stored exclusion rule, defaults first.
func (s *SQLiteStore) ListExclusions(ctx context.Context) ([]Exclusion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_type, rule_value, reason, is_default, created_at
		FROM exclusions ORDER BY is_default DESC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list exclusions: %w", err)
	}
	defer rows.Close()

	rules := []Exclusion{}
	for rows.Next() {
		var e Exclusion
		var createdAt string
		if err := rows.Scan(&e.ID, &e.RuleType, &e.RuleValue, &e.Reason, &e.IsDefault, &createdAt); err != nil {
			return nil, fmt.Errorf("scan exclusion: %w", err)
		}
		e.CreatedAt, _ = parseTimestamp(createdAt)
		rules = append(rules, e)
	}
	return rules, rows.Err()
}

// AddExclusion stores a new rule. Adding an existing rule returns ErrDuplicate.
func (s *SQLiteStore) AddExclusion(ctx context.Context, e *Exclusion) error {
	if e.RuleValue == "" {
		return fmt.Errorf("exclusion value is empty")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO exclusions (rule_type, rule_value, reason, is_default) VALUES (?, ?, ?, 0)`,
		e.RuleType, e.RuleValue, e.Reason,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("exclusion %s %q: %w", e.RuleType, e.RuleValue, ErrDuplicate)
		}
		return fmt.Errorf("add exclusion: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

// RemoveExclusion deletes the rule with the given type and value.
func (s *SQLiteStore) RemoveExclusion(ctx context.Context, ruleType, value string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM exclusions WHERE rule_type = ? AND rule_value = ?`, ruleType, value,
	)
	if err != nil {
		return fmt.Errorf("remove exclusion: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("exclusion %s %q: %w", ruleType, value, ErrNotFound)
	}
	return nil
}

// LogSync records one sync attempt.
func (s *SQLiteStore) LogSync(ctx context.Context, a SyncAttempt) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_log (id, started_at, status, pages, http_status, detail) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.StartedAt.UTC().Format(sortableTime), a.Status, a.Pages, a.HTTPStatus, a.Detail,
	)
	if err != nil {
		return fmt.Errorf("log sync: %w", err)
	}
	return nil
}

// ListSyncLog returns the most recent sync attempts, newest first.
func (s *SQLiteStore) ListSyncLog(ctx context.Context, limit int) ([]SyncAttempt, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, status, pages, http_status, detail
		FROM sync_log ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sync log: %w", err)
	}
	defer rows.Close()

	attempts := []SyncAttempt{}
	for rows.Next() {
		var a SyncAttempt
		var startedAt string
		if err := rows.Scan(&a.ID, &startedAt, &a.Status, &a.Pages, &a.HTTPStatus, &a.Detail); err != nil {
			return nil, fmt.Errorf("scan sync log: %w", err)
		}
		a.StartedAt, _ = parseTimestamp(startedAt)
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// PurgeAll deletes the page list, the markers and the sync log. Exclusion
// rules are kept.
func (s *SQLiteStore) PurgeAll(ctx context.Context) error {
	stmts := []string{
		"DELETE FROM documents",
		"DELETE FROM sync_log",
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("purge (%s): %w", stmt, err)
		}
	}
	return nil
}

// GetStats returns aggregate statistics about the stored page list.
func (s *SQLiteStore) GetStats(ctx context.Context) (*Stats, error) {
	return CollectStats(ctx, s)
}

// Close releases all prepared statements. The underlying *sql.DB is NOT
// closed; that is the caller's responsibility.
func (s *SQLiteStore) Close() error {
	stmts := []*sql.Stmt{s.getDoc, s.putDoc}
	for _, stmt := range stmts {
		if stmt != nil {
			stmt.Close()
		}
	}
	return nil
}

// sortableTime keeps a fixed width so text ordering matches time ordering.
const sortableTime = "2006-01-02T15:04:05.000000000Z07:00"

// parseTimestamp tries several common SQLite timestamp formats.
func parseTimestamp(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05.999999999-07:00",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse timestamp: %s", s)
}
