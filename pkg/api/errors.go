package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/wikiracing-llms/wikirace/pkg/graph"
	"github.com/wikiracing-llms/wikirace/pkg/room"
)

// mapServiceError maps service-layer errors to HTTP error responses.
func mapServiceError(err error) *echo.HTTPError {
	var validErr *room.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validErr.Error())
	}
	var moveErr *room.IllegalMoveError
	if errors.As(err, &moveErr) {
		return echo.NewHTTPError(http.StatusBadRequest, moveErr.Error())
	}
	if errors.Is(err, room.ErrNotOwner) || errors.Is(err, room.ErrNotRunOwner) {
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	}
	if errors.Is(err, room.ErrRoomNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Room not found")
	}
	if errors.Is(err, room.ErrPlayerNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Player not found")
	}
	if errors.Is(err, room.ErrRunNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Run not found")
	}
	if errors.Is(err, graph.ErrArticleNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Article not found")
	}
	if errors.Is(err, room.ErrRoomNotRunning) ||
		errors.Is(err, room.ErrRunNotRunning) ||
		errors.Is(err, room.ErrLLMRunLimit) ||
		errors.Is(err, room.ErrWrongRunKind) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	if errors.Is(err, room.ErrInvariant) {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
