package db

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"slugbin/pkg/domain"
)

const (
	defaultMaxOpenConns = 25
	defaultMaxIdleConns = 5
	defaultQueryTimeout = 5 * time.Second
	cleanupBatchSize    = 100
	maxCleanupBatches   = 10000
)

const pasteColumns = `id, slug, title, content, language, privacy, token_hash, created_at, expires_at, views`

// sqlStore holds the queries shared by the SQLite and Postgres backends.
// Statements are written with ? placeholders and rebound per driver.
type sqlStore struct {
	db           *sql.DB
	name         string
	queryTimeout time.Duration
	rebind       func(string) string
	isUnique     func(error) bool
	breaker
}

func (s *sqlStore) DB() *sql.DB {
	return s.db
}

func (s *sqlStore) q(query string) string {
	if s.rebind == nil {
		return query
	}
	return s.rebind(query)
}

func (s *sqlStore) Insert(ctx context.Context, p *domain.Paste) error {
	if err := s.check(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := s.q(`INSERT INTO pastes (` + pasteColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`)
	_, err := s.db.ExecContext(queryCtx, q,
		p.ID, p.Slug, nullString(p.Title), p.Content, nullString(p.Language), string(p.Privacy),
		p.TokenHash, p.CreatedAt.UTC(), nullTime(p.ExpiresAt),
	)
	if err != nil && s.isUnique != nil && s.isUnique(err) {
		err = domain.ErrSlugTaken
	}
	s.record(err)
	if errors.Is(err, domain.ErrSlugTaken) {
		return err
	}
	return errors.Wrap(err, s.name+" insert")
}

func (s *sqlStore) GetBySlug(ctx context.Context, slug string) (*domain.Paste, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := s.q(`SELECT ` + pasteColumns + ` FROM pastes WHERE slug = ?`)
	var (
		p        domain.Paste
		title    sql.NullString
		language sql.NullString
		privacy  string
		expires  sql.NullTime
	)
	err := s.db.QueryRowContext(queryCtx, q, slug).Scan(
		&p.ID, &p.Slug, &title, &p.Content, &language, &privacy, &p.TokenHash, &p.CreatedAt, &expires, &p.Views,
	)
	if err == sql.ErrNoRows {
		s.record(nil)
		return nil, domain.ErrPasteNotFound
	}
	s.record(err)
	if err != nil {
		return nil, errors.Wrap(err, s.name+" get")
	}
	p.Privacy = domain.Privacy(privacy)
	p.CreatedAt = p.CreatedAt.UTC()
	if title.Valid {
		p.Title = &title.String
	}
	if language.Valid {
		p.Language = &language.String
	}
	if expires.Valid {
		t := expires.Time.UTC()
		p.ExpiresAt = &t
	}
	return &p, nil
}

// UpdateBySlug rewrites the editable fields only when tokenHash still matches.
// It reports whether a row was changed.
func (s *sqlStore) UpdateBySlug(ctx context.Context, slug, tokenHash string, f domain.Fields) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := s.q(`UPDATE pastes SET title = ?, content = ?, language = ? WHERE slug = ? AND token_hash = ?`)
	res, err := s.db.ExecContext(queryCtx, q, nullString(f.Title), f.Content, nullString(f.Language), slug, tokenHash)
	s.record(err)
	if err != nil {
		return false, errors.Wrap(err, s.name+" update")
	}
	return affected(res)
}

func (s *sqlStore) DeleteBySlug(ctx context.Context, slug, tokenHash string) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	res, err := s.db.ExecContext(queryCtx, s.q(`DELETE FROM pastes WHERE slug = ? AND token_hash = ?`), slug, tokenHash)
	s.record(err)
	if err != nil {
		return false, errors.Wrap(err, s.name+" delete")
	}
	return affected(res)
}

func (s *sqlStore) Evict(ctx context.Context, slug string) error {
	if err := s.check(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	_, err := s.db.ExecContext(queryCtx, s.q(`DELETE FROM pastes WHERE slug = ?`), slug)
	s.record(err)
	return errors.Wrap(err, s.name+" evict")
}

func (s *sqlStore) IncrViews(ctx context.Context, slug string) error {
	if err := s.check(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	res, err := s.db.ExecContext(queryCtx, s.q(`UPDATE pastes SET views = views + 1 WHERE slug = ?`), slug)
	s.record(err)
	if err != nil {
		return errors.Wrap(err, s.name+" incr views")
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrPasteNotFound
	}
	return nil
}

// DeleteExpired removes pastes whose expiry is before now in batches so a
// large backlog never holds the write lock for long.
func (s *sqlStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	q := s.q(`DELETE FROM pastes WHERE id IN (
		SELECT id FROM pastes WHERE expires_at IS NOT NULL AND expires_at < ? LIMIT ` + strconv.Itoa(cleanupBatchSize) + `
	)`)
	total := 0
	for i := 0; i < maxCleanupBatches; i++ {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}
		queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
		res, err := s.db.ExecContext(queryCtx, q, now.UTC())
		cancel()
		s.record(err)
		if err != nil {
			return total, errors.Wrap(err, s.name+" cleanup batch")
		}
		n, _ := res.RowsAffected()
		total += int(n)
		if n < cleanupBatchSize {
			return total, nil
		}
	}
	return total, errors.New("cleanup hit iteration limit, more records may exist")
}

func (s *sqlStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "rows affected")
	}
	return n > 0, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// dollarPlaceholders rewrites ? placeholders to $1..$n for lib/pq.
func dollarPlaceholders(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
