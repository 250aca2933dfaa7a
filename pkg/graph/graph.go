// Package graph provides read-only access to the article link graph: exact
// and case-insensitive title lookup, bounded-depth canonicalization, and the
// memoization caches in front of the backing store.
package graph

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ErrArticleNotFound indicates the title has no entry in the graph.
var ErrArticleNotFound = errors.New("article not found")

// Article is one node of the link graph: a title and its ordered outbound
// link titles.
type Article struct {
	Title string   `json:"title"`
	Links []string `json:"links"`
}

// Source is the minimal backend the graph reads from.
type Source interface {
	// Get returns the article stored under the exact title, or
	// ErrArticleNotFound.
	Get(ctx context.Context, title string) (*Article, error)

	// GetFold returns an article whose title matches case-insensitively,
	// or ErrArticleNotFound.
	GetFold(ctx context.Context, title string) (*Article, error)

	// Titles returns every stored title.
	Titles(ctx context.Context) ([]string, error)

	// Count returns the number of stored articles.
	Count(ctx context.Context) (int, error)

	Close() error
}

const (
	articleCacheSize  = 8192
	resolveCacheSize  = 8192
	canonicalMaxDepth = 6
)

// Graph wraps a Source with title resolution, bounded single-link
// canonicalization, and memoization. The underlying data is immutable for
// the process lifetime, so cached articles never expire; resolve results
// expire on the configured TTL.
type Graph struct {
	src      Source
	articles *expirable.LRU[string, *Article]
	resolved *expirable.LRU[string, string] // empty value marks a known miss
}

// New builds a Graph over src. resolveTTL bounds how long resolve results
// (hits and misses) are remembered; zero disables expiry.
func New(src Source, resolveTTL time.Duration) *Graph {
	return &Graph{
		src:      src,
		articles: expirable.NewLRU[string, *Article](articleCacheSize, nil, 0),
		resolved: expirable.NewLRU[string, string](resolveCacheSize, nil, resolveTTL),
	}
}

// ArticleWithLinks returns the article stored under the exact title.
func (g *Graph) ArticleWithLinks(ctx context.Context, title string) (*Article, error) {
	if a, ok := g.articles.Get(title); ok {
		return a, nil
	}
	a, err := g.src.Get(ctx, title)
	if err != nil {
		return nil, err
	}
	g.articles.Add(title, a)
	return a, nil
}

// Resolve maps free-form input to a stored title: trim, exact match,
// hyphen/space variants, then the same candidates case-insensitively.
// Misses are cached alongside hits.
func (g *Graph) Resolve(ctx context.Context, title string) (string, error) {
	t := strings.TrimSpace(title)
	if t == "" {
		return "", ErrArticleNotFound
	}
	if hit, ok := g.resolved.Get(t); ok {
		if hit == "" {
			return "", ErrArticleNotFound
		}
		return hit, nil
	}
	resolved, err := g.lookup(ctx, t)
	if errors.Is(err, ErrArticleNotFound) {
		g.resolved.Add(t, "")
		return "", err
	}
	if err != nil {
		return "", err
	}
	g.resolved.Add(t, resolved)
	return resolved, nil
}

func (g *Graph) lookup(ctx context.Context, title string) (string, error) {
	variants := titleVariants(title)
	for _, v := range variants {
		a, err := g.src.Get(ctx, v)
		if err == nil {
			return a.Title, nil
		}
		if !errors.Is(err, ErrArticleNotFound) {
			return "", err
		}
	}
	for _, v := range variants {
		a, err := g.src.GetFold(ctx, v)
		if err == nil {
			return a.Title, nil
		}
		if !errors.Is(err, ErrArticleNotFound) {
			return "", err
		}
	}
	return "", ErrArticleNotFound
}

func titleVariants(t string) []string {
	variants := []string{t}
	if strings.Contains(t, "-") {
		variants = append(variants, strings.ReplaceAll(t, "-", " "))
	}
	if strings.Contains(t, " ") {
		variants = append(variants, strings.ReplaceAll(t, " ", "-"))
	}
	return variants
}

// Canonical resolves the title and then follows up to six consecutive
// single-outbound-link pages, stopping on a branch, a dead end, an
// unresolvable link, or a revisit of an already-seen title.
func (g *Graph) Canonical(ctx context.Context, title string) (string, error) {
	current, err := g.Resolve(ctx, title)
	if err != nil {
		return "", err
	}
	seen := map[string]struct{}{current: {}}
	for i := 0; i < canonicalMaxDepth; i++ {
		a, err := g.ArticleWithLinks(ctx, current)
		if errors.Is(err, ErrArticleNotFound) {
			break
		}
		if err != nil {
			return "", err
		}
		if len(a.Links) != 1 {
			break
		}
		next, err := g.Resolve(ctx, a.Links[0])
		if errors.Is(err, ErrArticleNotFound) {
			break
		}
		if err != nil {
			return "", err
		}
		if _, ok := seen[next]; ok {
			break
		}
		seen[next] = struct{}{}
		current = next
	}
	return current, nil
}

// CanonicalOr returns Canonical(title) and falls back to the given default
// when the title does not resolve.
func (g *Graph) CanonicalOr(ctx context.Context, title, fallback string) string {
	c, err := g.Canonical(ctx, title)
	if err != nil {
		return fallback
	}
	return c
}

// Titles returns every stored title.
func (g *Graph) Titles(ctx context.Context) ([]string, error) {
	return g.src.Titles(ctx)
}

// Count returns the number of stored articles.
func (g *Graph) Count(ctx context.Context) (int, error) {
	return g.src.Count(ctx)
}

// Close releases the backing store.
func (g *Graph) Close() error {
	return g.src.Close()
}
