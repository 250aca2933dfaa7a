package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health. The article count doubles as the
// database liveness probe: the graph is required at startup, so a count
// failure means the backing store went away.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	count, err := s.graph.Count(reqCtx)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, &HealthResponse{
			Status: healthStatusUnhealthy,
		})
	}

	return c.JSON(http.StatusOK, &HealthResponse{
		Status:       healthStatusHealthy,
		ArticleCount: count,
	})
}
