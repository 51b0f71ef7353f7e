package db

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"slugbin/cfg"
	"slugbin/pkg/domain"
)

// Store is the record backend contract every implementation in this package
// satisfies. Token checks happen inside UpdateBySlug and DeleteBySlug so the
// check and the write are a single atomic step.
type Store interface {
	Insert(ctx context.Context, p *domain.Paste) error
	GetBySlug(ctx context.Context, slug string) (*domain.Paste, error)
	UpdateBySlug(ctx context.Context, slug, tokenHash string, f domain.Fields) (bool, error)
	DeleteBySlug(ctx context.Context, slug, tokenHash string) (bool, error)
	Evict(ctx context.Context, slug string) error
	IncrViews(ctx context.Context, slug string) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*SQLite)(nil)
	_ Store = (*Postgres)(nil)
	_ Store = (*Redis)(nil)
	_ Store = (*Memory)(nil)
)

// Open builds the backend selected by c.Backend.
func Open(ctx context.Context, c *cfg.Cfg) (Store, error) {
	switch c.Backend {
	case cfg.BackendSQLite:
		s, err := NewSQLiteWithConfig(c.DatabasePath, c.DBMaxOpenConns, c.DBMaxIdleConns, c.DBQueryTimeout)
		if err != nil {
			return nil, err
		}
		return s, nil
	case cfg.BackendPostgres:
		p, err := NewPostgres(ctx, c.PostgresDSN.Value(), c.DBMaxOpenConns, c.DBMaxIdleConns, c.DBQueryTimeout)
		if err != nil {
			return nil, err
		}
		return p, nil
	case cfg.BackendRedis:
		r, err := NewRedis(ctx, c)
		if err != nil {
			return nil, err
		}
		return r, nil
	case cfg.BackendMemory:
		return NewMemory(), nil
	default:
		return nil, errors.Errorf("unknown backend %q", c.Backend)
	}
}
