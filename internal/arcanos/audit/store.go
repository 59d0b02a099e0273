package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Store is a SQLite-backed audit sink. Events are appended to a single
// audit_log table; the daemon never reads them back.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenStore opens (or creates) the audit database at dbPath.
func OpenStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_log (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			ts          TEXT NOT NULL,
			event       TEXT NOT NULL,
			fields_json TEXT
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit_log: %w", err)
	}

	return &Store{db: db}, nil
}

// Record implements Recorder. Append failures are logged, never propagated:
// a broken audit disk must not take down the turn that triggered the event.
func (s *Store) Record(event string, fields map[string]any) {
	e := prepare(event, fields)

	var fieldsJSON sql.NullString
	if len(e.Fields) > 0 {
		b, err := json.Marshal(e.Fields)
		if err != nil {
			slog.Warn("audit: could not marshal event fields", "event", event, "err", err)
		} else {
			fieldsJSON = sql.NullString{String: string(b), Valid: true}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(
		`INSERT INTO audit_log (ts, event, fields_json) VALUES (?, ?, ?)`,
		e.Timestamp.Format(time.RFC3339Nano), e.Name, fieldsJSON,
	); err != nil {
		slog.Warn("audit: could not append event", "event", event, "err", err)
	}
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
