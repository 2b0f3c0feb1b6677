// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides session/usage persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			state      TEXT NOT NULL,
			error_code TEXT,
			work_dir   TEXT,
			bypass     INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			ended_at   TEXT,

			CHECK (state IN ('created', 'running', 'completed', 'failed', 'cancelled'))
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at);
		CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions(state);

		CREATE TABLE IF NOT EXISTS session_usage (
			session_id    TEXT PRIMARY KEY REFERENCES sessions(id) ON DELETE CASCADE,
			input_tokens  INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			cached_tokens INTEGER NOT NULL DEFAULT 0,
			updated_at    TEXT NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// CreateSession inserts a session record.
// If a record with the same id already exists, it returns ErrDuplicateSession.
func (s *SQLiteStore) CreateSession(ctx context.Context, rec *SessionRecord) error {
	query := `
		INSERT INTO sessions (id, state, error_code, work_dir, bypass, created_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.State,
		nullString(rec.ErrorCode),
		nullString(rec.WorkDir),
		boolToInt(rec.Bypass),
		rec.CreatedAt.UTC().Format(time.RFC3339),
		nullTime(rec.EndedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateSession
		}
		return fmt.Errorf("inserting session: %w", err)
	}

	s.logger.Debug("created session record", "id", rec.ID, "state", rec.State)
	return nil
}

// ReplaceSession overwrites an existing session record with a fresh turn's
// metadata. REPLACE deletes the old row first, so the previous turn's usage
// row is cascade-deleted along with it.
func (s *SQLiteStore) ReplaceSession(ctx context.Context, rec *SessionRecord) error {
	query := `
		INSERT OR REPLACE INTO sessions (id, state, error_code, work_dir, bypass, created_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.State,
		nullString(rec.ErrorCode),
		nullString(rec.WorkDir),
		boolToInt(rec.Bypass),
		rec.CreatedAt.UTC().Format(time.RFC3339),
		nullTime(rec.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("replacing session: %w", err)
	}

	s.logger.Debug("replaced session record", "id", rec.ID, "state", rec.State)
	return nil
}

// GetSession retrieves a session record by id.
// Returns ErrNotFound if the record doesn't exist.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	query := `
		SELECT id, state, error_code, work_dir, bypass, created_at, ended_at
		FROM sessions
		WHERE id = ?
	`

	rec, err := scanSession(s.db.QueryRowContext(ctx, query, id).Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	return rec, nil
}

// UpdateSessionState records a state transition. Terminal updates carry the
// error code and end time; endedAt's zero value leaves ended_at untouched.
// Returns ErrNotFound if the record doesn't exist.
func (s *SQLiteStore) UpdateSessionState(ctx context.Context, id, state, errorCode string, endedAt time.Time) error {
	var endedAtVal any
	if !endedAt.IsZero() {
		endedAtVal = endedAt.UTC().Format(time.RFC3339)
	}

	query := `
		UPDATE sessions
		SET state = ?, error_code = ?, ended_at = COALESCE(?, ended_at)
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, state, nullString(errorCode), endedAtVal, id)
	if err != nil {
		return fmt.Errorf("updating session state: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated session state", "id", id, "state", state)
	return nil
}

// ListSessions retrieves session records ordered by most recent creation.
// If limit is 0 or negative, a default limit of 100 is used.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]*SessionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `
		SELECT id, state, error_code, work_dir, bypass, created_at, ended_at
		FROM sessions
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var records []*SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}
	return records, nil
}

// RecordUsage saves or replaces the token totals for a session.
// Uses INSERT OR REPLACE since the engine reports cumulative counts.
func (s *SQLiteStore) RecordUsage(ctx context.Context, rec *UsageRecord) error {
	query := `
		INSERT OR REPLACE INTO session_usage (session_id, input_tokens, output_tokens, cached_tokens, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.SessionID,
		rec.InputTokens,
		rec.OutputTokens,
		rec.CachedTokens,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("recording usage: %w", err)
	}

	s.logger.Debug("recorded usage", "session_id", rec.SessionID,
		"input", rec.InputTokens, "output", rec.OutputTokens)
	return nil
}

// GetUsage retrieves the token totals for a session.
// Returns ErrNotFound if the session has no recorded usage.
func (s *SQLiteStore) GetUsage(ctx context.Context, sessionID string) (*UsageRecord, error) {
	query := `
		SELECT session_id, input_tokens, output_tokens, cached_tokens
		FROM session_usage
		WHERE session_id = ?
	`

	var rec UsageRecord
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&rec.SessionID,
		&rec.InputTokens,
		&rec.OutputTokens,
		&rec.CachedTokens,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying usage: %w", err)
	}
	return &rec, nil
}

// SummarizeUsage aggregates token totals for sessions created at or after since.
func (s *SQLiteStore) SummarizeUsage(ctx context.Context, since time.Time) (*UsageSummary, error) {
	query := `
		SELECT COUNT(u.session_id),
		       COALESCE(SUM(u.input_tokens), 0),
		       COALESCE(SUM(u.output_tokens), 0),
		       COALESCE(SUM(u.cached_tokens), 0)
		FROM session_usage u
		JOIN sessions s ON s.id = u.session_id
		WHERE s.created_at >= ?
	`

	var sum UsageSummary
	err := s.db.QueryRowContext(ctx, query, since.UTC().Format(time.RFC3339)).Scan(
		&sum.Sessions,
		&sum.InputTokens,
		&sum.OutputTokens,
		&sum.CachedTokens,
	)
	if err != nil {
		return nil, fmt.Errorf("summarizing usage: %w", err)
	}
	return &sum, nil
}

// PurgeSessionsBefore deletes terminal session records that ended before the
// cutoff, along with their usage rows. Live sessions are never purged.
func (s *SQLiteStore) PurgeSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM sessions
		WHERE ended_at IS NOT NULL AND ended_at < ?
	`

	result, err := s.db.ExecContext(ctx, query, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("purging sessions: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected > 0 {
		s.logger.Debug("purged session records", "count", rowsAffected)
	}
	return rowsAffected, nil
}

// scanSession reads one session row via the given Scan function.
func scanSession(scan func(...any) error) (*SessionRecord, error) {
	var rec SessionRecord
	var errorCode, workDir, endedAt sql.NullString
	var bypass int
	var createdAt string

	if err := scan(&rec.ID, &rec.State, &errorCode, &workDir, &bypass, &createdAt, &endedAt); err != nil {
		return nil, err
	}

	var err error
	rec.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if endedAt.Valid {
		t, err := time.Parse(time.RFC3339, endedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing ended_at: %w", err)
		}
		rec.EndedAt = &t
	}
	rec.ErrorCode = errorCode.String
	rec.WorkDir = workDir.String
	rec.Bypass = bypass != 0

	return &rec, nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// nullString returns nil for empty strings, otherwise the string
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullTime returns nil for a nil or zero time, otherwise the RFC3339 string
func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
