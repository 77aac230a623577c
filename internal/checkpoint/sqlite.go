package checkpoint

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db      *sql.DB
	mu      sync.RWMutex
	closed  bool
	writeMu sync.Mutex
}

const busyTimeoutMs = 60000

// NewSQLiteStore opens (or creates) the outcome ledger at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// modernc applies each _pragma on every new connection
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=cache_size(-2000)", dbPath, busyTimeoutMs)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(10 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS outcomes (
		session_id INTEGER NOT NULL,
		file_key TEXT NOT NULL,
		local_path TEXT NOT NULL,
		size INTEGER NOT NULL,
		status TEXT NOT NULL,
		attempts INTEGER DEFAULT 0,
		last_error TEXT,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (session_id, file_key)
	);

	CREATE INDEX IF NOT EXISTS idx_outcomes_status ON outcomes(session_id, status);
	`

	_, err := s.db.Exec(query)
	return err
}

func (s *SQLiteStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New("database store is closed")
	}
	return nil
}

// GetOutcome returns the recorded outcome, or nil when the file has no record
func (s *SQLiteStore) GetOutcome(sessionID int64, key string) (*OutcomeRecord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var result *OutcomeRecord
	err := s.retryOnBusy(func() error {
		row := s.db.QueryRow(`
		SELECT session_id, file_key, local_path, size, status, attempts, last_error, updated_at
		FROM outcomes WHERE session_id = ? AND file_key = ?
		`, sessionID, key)

		record, err := scanOutcome(row)
		if errors.Is(err, sql.ErrNoRows) {
			result = nil
			return nil
		}
		result = record
		return err
	})
	return result, err
}

// SaveOutcome inserts or updates an outcome record
func (s *SQLiteStore) SaveOutcome(record *OutcomeRecord) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	// Serialize writes to avoid SQLITE_BUSY from multiple concurrent writers
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.retryOnBusy(func() error {
		return s.saveOutcomeWithTransaction(record)
	})
}

func (s *SQLiteStore) saveOutcomeWithTransaction(record *OutcomeRecord) error {
	record.UpdatedAt = time.Now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
	INSERT INTO outcomes
	(session_id, file_key, local_path, size, status, attempts, last_error, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id, file_key) DO UPDATE SET
		local_path = excluded.local_path,
		size = excluded.size,
		status = excluded.status,
		attempts = outcomes.attempts + excluded.attempts,
		last_error = excluded.last_error,
		updated_at = excluded.updated_at
	`,
		record.SessionID,
		record.Key,
		record.LocalPath,
		record.Size,
		record.Status,
		record.Attempts,
		record.LastError,
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to execute insert: %w", err)
	}

	return tx.Commit()
}

// retryOnBusy retries the operation if SQLite is busy
func (s *SQLiteStore) retryOnBusy(operation func() error) error {
	const maxRetries = 10
	baseDelay := 50 * time.Millisecond

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = operation()
		if err == nil || !isSQLiteBusyError(err) {
			return err
		}
		delay := baseDelay * time.Duration(1<<uint(attempt))
		jitter := time.Duration(attempt*10) * time.Millisecond
		time.Sleep(delay + jitter)
	}

	return err
}

func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}

// ListOutcomes returns every recorded outcome of a session in key order
func (s *SQLiteStore) ListOutcomes(sessionID int64) ([]*OutcomeRecord, error) {
	return s.list(`
	SELECT session_id, file_key, local_path, size, status, attempts, last_error, updated_at
	FROM outcomes WHERE session_id = ?
	ORDER BY file_key ASC
	`, sessionID)
}

// ListFailed returns the failed outcomes of a session in key order
func (s *SQLiteStore) ListFailed(sessionID int64) ([]*OutcomeRecord, error) {
	return s.list(`
	SELECT session_id, file_key, local_path, size, status, attempts, last_error, updated_at
	FROM outcomes WHERE session_id = ? AND status = ?
	ORDER BY file_key ASC
	`, sessionID, StatusFailed)
}

func (s *SQLiteStore) list(query string, args ...any) ([]*OutcomeRecord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*OutcomeRecord
	for rows.Next() {
		record, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOutcome(row scanner) (*OutcomeRecord, error) {
	var record OutcomeRecord
	var lastError sql.NullString

	err := row.Scan(
		&record.SessionID,
		&record.Key,
		&record.LocalPath,
		&record.Size,
		&record.Status,
		&record.Attempts,
		&lastError,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastError.Valid {
		record.LastError = lastError.String
	}

	return &record, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
