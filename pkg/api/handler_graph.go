package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/wikiracing-llms/wikirace/pkg/graph"
)

// allArticlesHandler handles GET /get_all_articles.
func (s *Server) allArticlesHandler(c *echo.Context) error {
	titles, err := s.graph.Titles(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, titles)
}

// articleWithLinksHandler handles GET /get_article_with_links/*.
// The lookup is exact: no trimming, no case folding.
func (s *Server) articleWithLinksHandler(c *echo.Context) error {
	title := c.Param("*")
	if title == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "article title is required")
	}

	a, err := s.graph.ArticleWithLinks(c.Request().Context(), title)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &ArticleResponse{Title: a.Title, Links: a.Links})
}

// resolveArticleHandler handles GET /resolve_article/*. Misses are a valid
// answer, not an error, so both outcomes are cacheable.
func (s *Server) resolveArticleHandler(c *echo.Context) error {
	title := c.Param("*")

	if ttl := s.cfg.ResolveCacheTTL; ttl > 0 {
		c.Response().Header().Set("Cache-Control",
			fmt.Sprintf("public, max-age=%d", int(ttl.Seconds())))
	}

	resolved, err := s.graph.Resolve(c.Request().Context(), title)
	if errors.Is(err, graph.ErrArticleNotFound) {
		return c.JSON(http.StatusOK, &ResolveResponse{Exists: false})
	}
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &ResolveResponse{Exists: true, Title: resolved})
}

// canonicalTitleHandler handles GET /canonical_title/*. Unresolvable titles
// fall back to the trimmed input.
func (s *Server) canonicalTitleHandler(c *echo.Context) error {
	title := c.Param("*")
	canonical := s.graph.CanonicalOr(c.Request().Context(), title, strings.TrimSpace(title))
	return c.JSON(http.StatusOK, &CanonicalResponse{Title: canonical})
}
