package db

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"slugbin/cfg"
	"slugbin/pkg/domain"
)

const (
	pasteKeyPrefix = "paste:"
	// expired records outlive their expiry by this much so reads can still
	// report them as expired before the key is dropped
	expiryGrace = 24 * time.Hour
)

// Each paste is a hash under paste:<slug>. Optional fields are absent
// rather than empty so "no title" and "empty title" stay distinct.
var (
	insertScript = redis.NewScript(`
		if redis.call("EXISTS", KEYS[1]) == 1 then
			return 0
		end
		redis.call("HSET", KEYS[1], unpack(ARGV, 2))
		if ARGV[1] ~= "0" then
			redis.call("PEXPIREAT", KEYS[1], ARGV[1])
		end
		return 1
	`)
	updateScript = redis.NewScript(`
		if redis.call("HGET", KEYS[1], "token_hash") ~= ARGV[1] then
			return 0
		end
		redis.call("HSET", KEYS[1], "content", ARGV[2])
		if ARGV[3] == "1" then
			redis.call("HSET", KEYS[1], "title", ARGV[4])
		else
			redis.call("HDEL", KEYS[1], "title")
		end
		if ARGV[5] == "1" then
			redis.call("HSET", KEYS[1], "language", ARGV[6])
		else
			redis.call("HDEL", KEYS[1], "language")
		end
		return 1
	`)
	deleteScript = redis.NewScript(`
		if redis.call("HGET", KEYS[1], "token_hash") ~= ARGV[1] then
			return 0
		end
		return redis.call("DEL", KEYS[1])
	`)
	incrViewsScript = redis.NewScript(`
		if redis.call("EXISTS", KEYS[1]) == 0 then
			return -1
		end
		return redis.call("HINCRBY", KEYS[1], "views", 1)
	`)
)

type Redis struct {
	client  *redis.Client
	timeout time.Duration
	breaker
}

func NewRedis(ctx context.Context, c *cfg.Cfg) (*Redis, error) {
	opt, err := redis.ParseURL(c.RedisURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	opt.PoolSize = 50
	opt.MinIdleConns = 10
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute
	opt.MaxRetries = 3
	opt.MinRetryBackoff = 8 * time.Millisecond
	opt.MaxRetryBackoff = 512 * time.Millisecond
	if c.RedisTLSCACert != "" {
		if opt.TLSConfig == nil {
			opt.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: hostOnly(opt.Addr)}
		}
		pool, err := loadCAPool(c.RedisTLSCACert)
		if err != nil {
			return nil, errors.Wrap(err, "failed to build Redis TLS config")
		}
		opt.TLSConfig.RootCAs = pool
	}
	if c.RedisUsername != "" {
		opt.Username = c.RedisUsername
	}
	if c.RedisPassword.Value() != "" {
		opt.Password = c.RedisPassword.Value()
	}
	timeout := c.RedisTimeout
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return &Redis{client: client, timeout: timeout}, nil
}

func loadCAPool(path string) (*x509.CertPool, error) {
	caCert, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read Redis CA cert")
	}
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, errors.New("failed to append Redis CA cert to pool")
	}
	return pool, nil
}

func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func pasteKey(slug string) string {
	return pasteKeyPrefix + slug
}

func (r *Redis) Insert(ctx context.Context, p *domain.Paste) error {
	if err := r.check(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	expireAt := "0"
	args := []interface{}{
		"id", p.ID,
		"slug", p.Slug,
		"content", p.Content,
		"privacy", string(p.Privacy),
		"token_hash", p.TokenHash,
		"created_at", p.CreatedAt.UTC().Format(time.RFC3339Nano),
		"views", "0",
	}
	if p.Title != nil {
		args = append(args, "title", *p.Title)
	}
	if p.Language != nil {
		args = append(args, "language", *p.Language)
	}
	if p.ExpiresAt != nil {
		args = append(args, "expires_at", p.ExpiresAt.UTC().Format(time.RFC3339Nano))
		expireAt = strconv.FormatInt(p.ExpiresAt.Add(expiryGrace).UnixMilli(), 10)
	}
	ok, err := insertScript.Run(ctx, r.client, []string{pasteKey(p.Slug)}, append([]interface{}{expireAt}, args...)...).Int()
	r.record(err)
	if err != nil {
		return errors.Wrap(err, "redis insert")
	}
	if ok == 0 {
		return domain.ErrSlugTaken
	}
	return nil
}

func (r *Redis) GetBySlug(ctx context.Context, slug string) (*domain.Paste, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	h, err := r.client.HGetAll(ctx, pasteKey(slug)).Result()
	r.record(err)
	if err != nil {
		return nil, errors.Wrap(err, "redis get")
	}
	if len(h) == 0 {
		return nil, domain.ErrPasteNotFound
	}
	return decodePaste(h)
}

func decodePaste(h map[string]string) (*domain.Paste, error) {
	p := &domain.Paste{
		ID:        h["id"],
		Slug:      h["slug"],
		Content:   h["content"],
		Privacy:   domain.Privacy(h["privacy"]),
		TokenHash: h["token_hash"],
	}
	if v, ok := h["title"]; ok {
		p.Title = &v
	}
	if v, ok := h["language"]; ok {
		p.Language = &v
	}
	created, err := time.Parse(time.RFC3339Nano, h["created_at"])
	if err != nil {
		return nil, errors.Wrap(err, "decode created_at")
	}
	p.CreatedAt = created
	if v, ok := h["expires_at"]; ok {
		exp, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, errors.Wrap(err, "decode expires_at")
		}
		p.ExpiresAt = &exp
	}
	if v := h["views"]; v != "" {
		if p.Views, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, errors.Wrap(err, "decode views")
		}
	}
	return p, nil
}

func (r *Redis) UpdateBySlug(ctx context.Context, slug, tokenHash string, f domain.Fields) (bool, error) {
	if err := r.check(); err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	title, hasTitle := optional(f.Title)
	lang, hasLang := optional(f.Language)
	ok, err := updateScript.Run(ctx, r.client, []string{pasteKey(slug)},
		tokenHash, f.Content, hasTitle, title, hasLang, lang,
	).Int()
	r.record(err)
	if err != nil {
		return false, errors.Wrap(err, "redis update")
	}
	return ok == 1, nil
}

func optional(s *string) (string, string) {
	if s == nil {
		return "", "0"
	}
	return *s, "1"
}

func (r *Redis) DeleteBySlug(ctx context.Context, slug, tokenHash string) (bool, error) {
	if err := r.check(); err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	n, err := deleteScript.Run(ctx, r.client, []string{pasteKey(slug)}, tokenHash).Int()
	r.record(err)
	if err != nil {
		return false, errors.Wrap(err, "redis delete")
	}
	return n == 1, nil
}

func (r *Redis) Evict(ctx context.Context, slug string) error {
	if err := r.check(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	err := r.client.Del(ctx, pasteKey(slug)).Err()
	r.record(err)
	return errors.Wrap(err, "redis evict")
}

func (r *Redis) IncrViews(ctx context.Context, slug string) error {
	if err := r.check(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	n, err := incrViewsScript.Run(ctx, r.client, []string{pasteKey(slug)}).Int()
	r.record(err)
	if err != nil {
		return errors.Wrap(err, "redis incr views")
	}
	if n < 0 {
		return domain.ErrPasteNotFound
	}
	return nil
}

// DeleteExpired is a no-op: every key carries a PEXPIREAT and Redis drops it
// itself once the grace period has passed.
func (r *Redis) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
