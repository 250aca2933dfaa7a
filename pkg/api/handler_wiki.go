package api

import (
	"fmt"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/wikiracing-llms/wikirace/pkg/wiki"
)

// wikiProxyHandler handles GET /wiki/*: the rewritten upstream page, or the
// offline fallback when the upstream is unreachable. The frontend loads
// these in an iframe so clicks inside the page become game moves.
func (s *Server) wikiProxyHandler(c *echo.Context) error {
	title := c.Param("*")
	if title == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "article title is required")
	}

	page := s.wiki.Get(c.Request().Context(), title)

	h := c.Response().Header()
	h.Set("X-Wiki-Proxy-Cache", string(page.Status))
	// Offline fallbacks must not stick in browser caches past the outage.
	if ttl := s.wiki.TTL(); ttl > 0 && page.Status != wiki.CacheOffline {
		h.Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(ttl.Seconds())))
	}
	return c.HTML(http.StatusOK, page.HTML)
}
