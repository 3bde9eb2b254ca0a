// Package store keeps the operational audit log: one row per REST call and
// one per websocket session. It holds no weather history.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// RetentionDays is how long audit rows are kept.
const RetentionDays = 30

type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

func New(db *sql.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Open opens (creating if needed) the sqlite database at path and applies
// migrations.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable wal: %w", err)
		}
	} else {
		db.SetMaxOpenConns(1)
	}
	s := New(db, logger)
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Cleanup purges audit rows older than retentionDays from both tables.
func (s *Store) Cleanup(retentionDays int) (int64, error) {
	runs, err := s.CleanupOldRuns(retentionDays)
	if err != nil {
		return 0, err
	}
	sessions, err := s.CleanupOldSessions(retentionDays)
	if err != nil {
		return runs, err
	}
	return runs + sessions, nil
}
