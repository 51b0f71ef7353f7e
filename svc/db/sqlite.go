package db

import (
	"database/sql"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type SQLite struct {
	*sqlStore
}

func NewSQLite(path string) (*SQLite, error) {
	return NewSQLiteWithConfig(path, defaultMaxOpenConns, defaultMaxIdleConns, defaultQueryTimeout)
}

func NewSQLiteWithConfig(path string, maxOpenConns, maxIdleConns int, queryTimeout time.Duration) (*SQLite, error) {
	db, err := sql.Open("sqlite3", withBusyTimeout(path))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping db")
	}
	s := &SQLite{&sqlStore{
		db:           db,
		name:         "sqlite",
		queryTimeout: queryTimeout,
		isUnique:     isSQLiteUnique,
	}}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migration failed")
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	if _, err := s.db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return errors.Wrap(err, "enable WAL mode")
	}
	if _, err := s.db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return errors.Wrap(err, "set busy timeout")
	}
	if _, err := s.db.Exec("PRAGMA synchronous=FULL"); err != nil {
		return errors.Wrap(err, "set synchronous mode")
	}
	query := `
	CREATE TABLE IF NOT EXISTS pastes (
		id TEXT PRIMARY KEY,
		slug TEXT NOT NULL UNIQUE,
		title TEXT,
		content TEXT NOT NULL,
		language TEXT,
		privacy TEXT NOT NULL DEFAULT 'unlisted' CHECK (privacy IN ('public', 'unlisted', 'private')),
		token_hash TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME,
		views INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_pastes_expires_at ON pastes(expires_at);
	`
	_, err := s.db.Exec(query)
	return err
}

// withBusyTimeout sets busy_timeout through the DSN so every pooled
// connection gets it, not only the one that ran the PRAGMA.
func withBusyTimeout(path string) string {
	if strings.Contains(path, "_busy_timeout") {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_busy_timeout=5000"
}

func isSQLiteUnique(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
