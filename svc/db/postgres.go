package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
)

const pgUniqueViolation = "23505"

type Postgres struct {
	*sqlStore
}

func NewPostgres(ctx context.Context, dsn string, maxOpenConns, maxIdleConns int, queryTimeout time.Duration) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open postgres")
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping postgres")
	}
	p := &Postgres{&sqlStore{
		db:           db,
		name:         "postgres",
		queryTimeout: queryTimeout,
		rebind:       dollarPlaceholders,
		isUnique:     isPostgresUnique,
	}}
	if err := p.migrate(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migration failed")
	}
	return p, nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS pastes (
		id UUID PRIMARY KEY,
		slug VARCHAR(64) NOT NULL UNIQUE,
		title TEXT,
		content TEXT NOT NULL,
		language VARCHAR(64),
		privacy VARCHAR(16) NOT NULL DEFAULT 'unlisted' CHECK (privacy IN ('public', 'unlisted', 'private')),
		token_hash VARCHAR(128) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMPTZ,
		views BIGINT NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_pastes_expires_at ON pastes(expires_at);
	CREATE INDEX IF NOT EXISTS idx_pastes_privacy ON pastes(privacy);
	`
	_, err := p.db.ExecContext(ctx, query)
	return err
}

func isPostgresUnique(err error) bool {
	var pe *pq.Error
	if errors.As(err, &pe) {
		return pe.Code == pgUniqueViolation
	}
	return false
}
