package db

import (
	"context"
	"sync"
	"time"

	"slugbin/pkg/domain"
)

// Memory keeps pastes in a map. It is meant for tests and local runs.
type Memory struct {
	mu     sync.Mutex
	pastes map[string]*domain.Paste
}

func NewMemory() *Memory {
	return &Memory{pastes: make(map[string]*domain.Paste)}
}

func clonePaste(p *domain.Paste) *domain.Paste {
	cp := *p
	cp.Title = copyStr(p.Title)
	cp.Language = copyStr(p.Language)
	if p.ExpiresAt != nil {
		e := *p.ExpiresAt
		cp.ExpiresAt = &e
	}
	return &cp
}

func copyStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func (m *Memory) Insert(_ context.Context, p *domain.Paste) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pastes[p.Slug]; ok {
		return domain.ErrSlugTaken
	}
	cp := clonePaste(p)
	cp.Views = 0
	m.pastes[p.Slug] = cp
	return nil
}

func (m *Memory) GetBySlug(_ context.Context, slug string) (*domain.Paste, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pastes[slug]
	if !ok {
		return nil, domain.ErrPasteNotFound
	}
	return clonePaste(p), nil
}

func (m *Memory) UpdateBySlug(_ context.Context, slug, tokenHash string, f domain.Fields) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pastes[slug]
	if !ok || p.TokenHash != tokenHash {
		return false, nil
	}
	p.Title = copyStr(f.Title)
	p.Language = copyStr(f.Language)
	p.Content = f.Content
	return true, nil
}

func (m *Memory) DeleteBySlug(_ context.Context, slug, tokenHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pastes[slug]
	if !ok || p.TokenHash != tokenHash {
		return false, nil
	}
	delete(m.pastes, slug)
	return true, nil
}

func (m *Memory) Evict(_ context.Context, slug string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pastes, slug)
	return nil
}

func (m *Memory) IncrViews(_ context.Context, slug string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pastes[slug]
	if !ok {
		return domain.ErrPasteNotFound
	}
	p.Views++
	return nil
}

func (m *Memory) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for slug, p := range m.pastes {
		if p.Expired(now) {
			delete(m.pastes, slug)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
