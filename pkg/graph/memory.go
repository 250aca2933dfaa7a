package graph

import (
	"context"
	"strings"
	"sync"
)

// MemSource is a map-backed Source for tests and local harnesses.
type MemSource struct {
	mu      sync.RWMutex
	byTitle map[string]*Article
	order   []string
}

// NewMemSource builds a MemSource from title → outbound links.
func NewMemSource(articles map[string][]string) *MemSource {
	m := &MemSource{byTitle: make(map[string]*Article, len(articles))}
	for title, links := range articles {
		m.Add(title, links)
	}
	return m
}

// Add inserts or replaces an article.
func (m *MemSource) Add(title string, links []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byTitle[title]; !exists {
		m.order = append(m.order, title)
	}
	m.byTitle[title] = &Article{Title: title, Links: append([]string(nil), links...)}
}

func (m *MemSource) Get(_ context.Context, title string) (*Article, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if a, ok := m.byTitle[title]; ok {
		return a, nil
	}
	return nil, ErrArticleNotFound
}

func (m *MemSource) GetFold(_ context.Context, title string) (*Article, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.order {
		if strings.EqualFold(t, title) {
			return m.byTitle[t], nil
		}
	}
	return nil, ErrArticleNotFound
}

func (m *MemSource) Titles(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...), nil
}

func (m *MemSource) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byTitle), nil
}

func (m *MemSource) Close() error {
	return nil
}
