package eventlog

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Store appends records of one or more runs to a SQLite database.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and applies the schema.
// The database runs in WAL mode with a single connection so concurrent node
// goroutines serialise their writes instead of failing with SQLITE_BUSY.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record appends rec. rec.RunID must be set.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.RunID == "" {
		return fmt.Errorf("write event: empty run id")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events
		(run_id, node_id, recorded_at, logical_clock, kind, queue_length, recipient)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		rec.RunID,
		rec.NodeID,
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
		int64(rec.LogicalClock),
		string(rec.Kind),
		rec.QueueLength,
		rec.Recipient,
	)
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// ForRun returns a Recorder that stamps every record with runID before
// appending it.
func (s *Store) ForRun(runID string) Recorder {
	return RecorderFunc(func(ctx context.Context, rec Record) error {
		rec.RunID = runID
		return s.Record(ctx, rec)
	})
}

// Events returns the records of runID in Lamport total order.
func (s *Store) Events(ctx context.Context, runID string) ([]Record, error) {
	return s.query(ctx, `
		SELECT run_id, node_id, recorded_at, logical_clock, kind, queue_length, recipient
		FROM events
		WHERE run_id = ?
		ORDER BY logical_clock ASC, node_id COLLATE BINARY ASC, id ASC
	`, runID)
}

// History returns the records of runID in the order they were appended,
// which is emission order per node. CheckHistory needs this order.
func (s *Store) History(ctx context.Context, runID string) ([]Record, error) {
	return s.query(ctx, `
		SELECT run_id, node_id, recorded_at, logical_clock, kind, queue_length, recipient
		FROM events
		WHERE run_id = ?
		ORDER BY id ASC
	`, runID)
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		var (
			rec        Record
			recordedAt string
			lc         int64
			kind       string
		)
		if err := rows.Scan(&rec.RunID, &rec.NodeID, &recordedAt, &lc, &kind, &rec.QueueLength, &rec.Recipient); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, recordedAt)
		if err != nil {
			return nil, fmt.Errorf("parse event time: %w", err)
		}
		rec.Timestamp = ts
		rec.LogicalClock = uint64(lc)
		rec.Kind = Kind(kind)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return out, nil
}

// Runs returns every run id in the database, most recent first.
func (s *Store) Runs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id FROM events
		GROUP BY run_id
		ORDER BY MIN(id) DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, id)
	}
	return runs, rows.Err()
}
