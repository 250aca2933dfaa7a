package wiki

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/wikiracing-llms/wikirace/pkg/graph"
)

// CacheStatus is reported to clients via the X-Wiki-Proxy-Cache header.
type CacheStatus string

const (
	CacheHit     CacheStatus = "HIT"
	CacheMiss    CacheStatus = "MISS"
	CacheOffline CacheStatus = "OFFLINE"
)

// Page is a proxied article ready to serve.
type Page struct {
	HTML   string
	Status CacheStatus
}

// ServiceConfig tunes the proxy cache.
type ServiceConfig struct {
	CacheMaxEntries int
	CacheTTL        time.Duration
}

// Service serves rewritten article pages through a TTL'd LRU cache.
// Offline fallback pages are generated from the graph and never cached.
type Service struct {
	fetcher *Fetcher
	graph   *graph.Graph
	cache   *expirable.LRU[string, string]
	flights singleflight.Group
	ttl     time.Duration
}

// NewService wires the proxy.
func NewService(fetcher *Fetcher, g *graph.Graph, cfg ServiceConfig) *Service {
	maxEntries := cfg.CacheMaxEntries
	if maxEntries <= 0 {
		maxEntries = 512
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Service{
		fetcher: fetcher,
		graph:   g,
		cache:   expirable.NewLRU[string, string](maxEntries, nil, ttl),
		ttl:     ttl,
	}
}

// TTL returns the cache TTL, for Cache-Control headers.
func (s *Service) TTL() time.Duration { return s.ttl }

type flightResult struct {
	html string
	hit  bool
}

// Get returns the rewritten page for a title. Cache keys are canonical
// titles so alias spellings share one entry, and concurrent misses for
// the same key share a single upstream fetch. Any upstream failure
// serves a locally built offline page instead.
func (s *Service) Get(ctx context.Context, title string) Page {
	key := s.graph.CanonicalOr(ctx, title, strings.TrimSpace(title))

	if cached, ok := s.cache.Get(key); ok {
		return Page{HTML: cached, Status: CacheHit}
	}

	v, err, _ := s.flights.Do(key, func() (interface{}, error) {
		// a flight that just landed may have filled the cache
		if cached, ok := s.cache.Get(key); ok {
			return flightResult{html: cached, hit: true}, nil
		}
		raw, err := s.fetcher.Fetch(ctx, key)
		if err != nil {
			return nil, err
		}
		rewritten := Rewrite(raw)
		s.cache.Add(key, rewritten)
		return flightResult{html: rewritten}, nil
	})
	if err != nil {
		slog.Warn("Wiki page fetch failed, serving offline page", "title", key, "error", err)
		return Page{HTML: s.offlinePage(ctx, key), Status: CacheOffline}
	}

	res := v.(flightResult)
	if res.hit {
		return Page{HTML: res.html, Status: CacheHit}
	}
	return Page{HTML: res.html, Status: CacheMiss}
}

// offlinePage renders a minimal local page listing the article's
// outbound links, keeping the race playable without the upstream. The
// click bridge is injected so iframe navigation still works.
func (s *Service) offlinePage(ctx context.Context, title string) string {
	var links []string
	if a, err := s.graph.ArticleWithLinks(ctx, title); err == nil {
		links = a.Links
	}

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>")
	b.WriteString(html.EscapeString(title))
	b.WriteString("</title></head>\n<body>\n<h1>")
	b.WriteString(html.EscapeString(title))
	b.WriteString("</h1>\n<p>The live page is unavailable right now. Links from this article:</p>\n<ul>\n")
	for _, link := range links {
		fmt.Fprintf(&b, "<li><a href=\"/wiki/%s\">%s</a></li>\n",
			url.PathEscape(strings.ReplaceAll(link, " ", "_")),
			html.EscapeString(link))
	}
	b.WriteString("</ul>\n</body></html>")
	return InjectBridge(b.String())
}
