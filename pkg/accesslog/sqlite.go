package accesslog

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS access_records (
	id             TEXT PRIMARY KEY,
	request_id     TEXT NOT NULL,
	timestamp      TEXT NOT NULL,
	client_ip      TEXT NOT NULL,
	method         TEXT NOT NULL,
	target         TEXT NOT NULL,
	status         INTEGER NOT NULL,
	backend        TEXT,
	latency_ms     INTEGER NOT NULL,
	cache_status   TEXT,
	streamed       INTEGER NOT NULL,
	bytes_returned INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_access_records_timestamp ON access_records(timestamp);
CREATE INDEX IF NOT EXISTS idx_access_records_request_id ON access_records(request_id);
`

// SQLiteStorage persists access records to a SQLite database in WAL
// mode.
type SQLiteStorage struct {
	db     *sql.DB
	insert *sql.Stmt
	logger *slog.Logger
}

// NewSQLiteStorage opens (creating if needed) the database at path and
// prepares the schema.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open access log database %q: %w", path, err)
	}

	// A single writer keeps SQLite happy under concurrent recording.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize access log schema: %w", err)
	}

	insert, err := db.Prepare(`
		INSERT INTO access_records
			(id, request_id, timestamp, client_ip, method, target, status,
			 backend, latency_ms, cache_status, streamed, bytes_returned)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare access log insert: %w", err)
	}

	logger := slog.Default().With("component", "accesslog.sqlite")
	logger.Info("access log storage initialized", "path", path)

	return &SQLiteStorage{db: db, insert: insert, logger: logger}, nil
}

// Write stores one record.
func (s *SQLiteStorage) Write(record *Record) error {
	streamed := 0
	if record.Streamed {
		streamed = 1
	}

	_, err := s.insert.Exec(
		record.ID,
		record.RequestID,
		record.Timestamp.UTC().Format(time.RFC3339Nano),
		record.ClientIP,
		record.Method,
		record.Target,
		record.Status,
		record.Backend,
		record.LatencyMS,
		record.CacheStatus,
		streamed,
		record.BytesReturned,
	)
	if err != nil {
		return fmt.Errorf("insert access record: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *SQLiteStorage) Recent(limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.Query(`
		SELECT id, request_id, timestamp, client_ip, method, target, status,
		       backend, latency_ms, cache_status, streamed, bytes_returned
		FROM access_records
		ORDER BY timestamp DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query access records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var r Record
		var ts string
		var streamed int
		if err := rows.Scan(&r.ID, &r.RequestID, &ts, &r.ClientIP, &r.Method,
			&r.Target, &r.Status, &r.Backend, &r.LatencyMS, &r.CacheStatus,
			&streamed, &r.BytesReturned); err != nil {
			return nil, fmt.Errorf("scan access record: %w", err)
		}
		r.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		r.Streamed = streamed != 0
		out = append(out, &r)
	}
	return out, rows.Err()
}

// Close releases the prepared statement and database handle.
func (s *SQLiteStorage) Close() error {
	if s.insert != nil {
		_ = s.insert.Close()
	}
	return s.db.Close()
}
