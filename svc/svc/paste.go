package svc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"slugbin/cfg"
	"slugbin/metrics"
	"slugbin/pkg/domain"
	"slugbin/svc/auth"
	"slugbin/svc/util"
)

const (
	maxSlugRetries      = 3
	defaultEvictTimeout = 2 * time.Second
)

// Store is what the paste service needs from a record backend. The token
// digest travels with UpdateBySlug and DeleteBySlug so the backend can make
// the write conditional on it; a false result means nothing matched.
type Store interface {
	Insert(ctx context.Context, p *domain.Paste) error
	GetBySlug(ctx context.Context, slug string) (*domain.Paste, error)
	UpdateBySlug(ctx context.Context, slug, tokenHash string, f domain.Fields) (bool, error)
	DeleteBySlug(ctx context.Context, slug, tokenHash string) (bool, error)
	Evict(ctx context.Context, slug string) error
	IncrViews(ctx context.Context, slug string) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

type Paste struct {
	store        Store
	hasher       *auth.TokenHasher
	cfg          *cfg.Cfg
	loc          *time.Location
	now          func() time.Time
	evictTimeout time.Duration
	shutdown     atomic.Bool
	opWg         sync.WaitGroup
}

func NewPaste(store Store, h *auth.TokenHasher, c *cfg.Cfg) *Paste {
	if store == nil || h == nil || c == nil {
		panic("paste service: nil dependency (store, hasher, or cfg)")
	}
	loc := c.Location
	if loc == nil {
		loc = time.Local
	}
	return &Paste{
		store:        store,
		hasher:       h,
		cfg:          c,
		loc:          loc,
		now:          time.Now,
		evictTimeout: defaultEvictTimeout,
	}
}

// SetClock replaces the time source. Tests only.
func (p *Paste) SetClock(now func() time.Time) {
	p.now = now
}

// Shutdown rejects new operations and waits for in-flight ones.
func (p *Paste) Shutdown() {
	p.shutdown.Store(true)
	p.opWg.Wait()
	util.Debug().Msg("paste service shutdown complete")
}

func (p *Paste) begin() error {
	if p.shutdown.Load() {
		return domain.ErrUnavailable
	}
	p.opWg.Add(1)
	return nil
}

func (p *Paste) checkFields(f domain.Fields) error {
	if f.Content == "" {
		return domain.ErrContentRequired
	}
	if p.cfg.MaxPasteSize > 0 && int64(len(f.Content)) > p.cfg.MaxPasteSize {
		return domain.ErrPasteTooLarge
	}
	return nil
}

// Create stores a new paste and returns it with the one-time secret token.
// The token is drawn once; only the slug is redrawn on collision.
func (p *Paste) Create(ctx context.Context, params domain.CreateParams) (*domain.Paste, string, error) {
	if err := p.begin(); err != nil {
		return nil, "", err
	}
	defer p.opWg.Done()
	if err := p.checkFields(params.Fields); err != nil {
		return nil, "", err
	}
	if params.Privacy == "" {
		params.Privacy = domain.PrivacyUnlisted
	}
	if params.Expiration == "" {
		params.Expiration = domain.ExpireNever
	}
	token, err := util.GenSecretToken(p.tokenBytes())
	if err != nil {
		return nil, "", errors.Wrap(err, "gen secret token")
	}
	created := p.now().In(p.loc)
	paste := &domain.Paste{
		ID:        uuid.NewString(),
		Title:     params.Title,
		Content:   params.Content,
		Language:  params.Language,
		Privacy:   params.Privacy,
		TokenHash: p.hasher.Digest(token),
		CreatedAt: created,
		ExpiresAt: params.Expiration.ExpiresAt(created),
	}
	for attempt := 0; attempt <= maxSlugRetries; attempt++ {
		slug, err := util.GenSlug(p.slugLength())
		if err != nil {
			return nil, "", errors.Wrap(err, "gen slug")
		}
		paste.Slug = slug
		err = p.store.Insert(ctx, paste)
		if err == nil {
			metrics.PasteCreated.Inc()
			return paste, token, nil
		}
		if !errors.Is(err, domain.ErrSlugTaken) {
			return nil, "", p.backendErr(ctx, "insert", err)
		}
		metrics.SlugCollisions.Inc()
		util.Warn().
			Str("request_id", util.GetRequestID(ctx)).
			Int("attempt", attempt+1).
			Msg("slug collision, regenerating")
	}
	return nil, "", domain.ErrSlugConflict
}

// Get returns a live paste and counts the view. Private pastes need the
// matching token; callers outside the core should not reveal the difference
// between ErrForbidden and ErrPasteNotFound.
func (p *Paste) Get(ctx context.Context, slug, token string) (*domain.Paste, error) {
	if err := p.begin(); err != nil {
		return nil, err
	}
	defer p.opWg.Done()
	rec, err := p.fetch(ctx, slug)
	if err != nil {
		return nil, err
	}
	if rec.Expired(p.now()) {
		p.evict(ctx, slug, "read")
		return nil, domain.ErrPasteExpired
	}
	if rec.Privacy == domain.PrivacyPrivate && !p.hasher.Match(token, rec.TokenHash) {
		metrics.AccessDenied.WithLabelValues("read").Inc()
		return nil, domain.ErrForbidden
	}
	if err := p.store.IncrViews(ctx, slug); err != nil {
		if errors.Is(err, domain.ErrPasteNotFound) {
			return nil, domain.ErrPasteNotFound
		}
		return nil, p.backendErr(ctx, "incr_views", err)
	}
	rec.Views++
	metrics.PasteRetrieved.Inc()
	return rec, nil
}

// Update replaces title, content and language wholesale.
func (p *Paste) Update(ctx context.Context, slug string, params domain.UpdateParams) error {
	if err := p.begin(); err != nil {
		return err
	}
	defer p.opWg.Done()
	if params.Token == "" {
		return domain.ErrTokenRequired
	}
	if err := p.checkFields(params.Fields); err != nil {
		return err
	}
	rec, err := p.fetch(ctx, slug)
	if err != nil {
		return err
	}
	if rec.Expired(p.now()) {
		p.evict(ctx, slug, "update")
		return domain.ErrPasteExpired
	}
	if !p.hasher.Match(params.Token, rec.TokenHash) {
		metrics.AccessDenied.WithLabelValues("update").Inc()
		return domain.ErrForbidden
	}
	ok, err := p.store.UpdateBySlug(ctx, slug, rec.TokenHash, params.Fields)
	if err != nil {
		return p.backendErr(ctx, "update", err)
	}
	if !ok {
		return domain.ErrPasteNotFound
	}
	metrics.PasteUpdated.Inc()
	return nil
}

// Delete removes a paste. An expired paste is purged and reported as not found.
func (p *Paste) Delete(ctx context.Context, slug, token string) error {
	if err := p.begin(); err != nil {
		return err
	}
	defer p.opWg.Done()
	if token == "" {
		return domain.ErrTokenRequired
	}
	rec, err := p.fetch(ctx, slug)
	if err != nil {
		return err
	}
	if rec.Expired(p.now()) {
		p.evict(ctx, slug, "delete")
		return domain.ErrPasteNotFound
	}
	if !p.hasher.Match(token, rec.TokenHash) {
		metrics.AccessDenied.WithLabelValues("delete").Inc()
		return domain.ErrForbidden
	}
	ok, err := p.store.DeleteBySlug(ctx, slug, rec.TokenHash)
	if err != nil {
		return p.backendErr(ctx, "delete", err)
	}
	if !ok {
		return domain.ErrPasteNotFound
	}
	metrics.PasteDeleted.Inc()
	return nil
}

func (p *Paste) fetch(ctx context.Context, slug string) (*domain.Paste, error) {
	if !util.ValidSlug(slug) {
		return nil, domain.ErrPasteNotFound
	}
	rec, err := p.store.GetBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, domain.ErrPasteNotFound) {
			return nil, domain.ErrPasteNotFound
		}
		return nil, p.backendErr(ctx, "get", err)
	}
	return rec, nil
}

// evict purges an expired paste on a detached context. Failures are logged
// and counted; the caller still answers with the expiry result.
func (p *Paste) evict(ctx context.Context, slug, trigger string) {
	evictCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.evictTimeout)
	defer cancel()
	if err := p.store.Evict(evictCtx, slug); err != nil {
		metrics.PasteEvicted.WithLabelValues(trigger, "error").Inc()
		util.Warn().
			Err(err).
			Str("request_id", util.GetRequestID(ctx)).
			Str("slug", slug).
			Msg("failed to evict expired paste")
		return
	}
	metrics.PasteEvicted.WithLabelValues(trigger, "ok").Inc()
	util.Debug().
		Str("request_id", util.GetRequestID(ctx)).
		Str("slug", slug).
		Msg("evicted expired paste")
}

func (p *Paste) backendErr(ctx context.Context, op string, err error) error {
	metrics.BackendErrors.WithLabelValues(op).Inc()
	util.Error().
		Err(err).
		Str("request_id", util.GetRequestID(ctx)).
		Str("operation", op).
		Msg("backend operation failed")
	return errors.Wrap(err, op)
}

func (p *Paste) slugLength() int {
	if p.cfg.SlugLength > 0 {
		return p.cfg.SlugLength
	}
	return util.DefaultSlugLen
}

func (p *Paste) tokenBytes() int {
	if p.cfg.TokenBytes > util.MinTokenBytes {
		return p.cfg.TokenBytes
	}
	return util.MinTokenBytes
}
