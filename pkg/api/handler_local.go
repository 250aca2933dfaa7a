package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/wikiracing-llms/wikirace/pkg/room"
)

// validateMoveHandler handles POST /local/validate_move: the move legality
// check against the graph with no room state involved.
func (s *Server) validateMoveHandler(c *echo.Context) error {
	var req ValidateMoveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	res, err := s.rooms.Validator().Validate(c.Request().Context(), room.MoveInput{
		Current:     req.CurrentArticle,
		To:          req.ToArticle,
		Destination: req.DestinationArticle,
		CurrentHops: req.CurrentHops,
		MaxHops:     req.MaxHops,
	})
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, &ValidateMoveResponse{
		Outcome: string(res.Outcome),
		Article: res.Article,
		MaxHops: res.MaxHops,
	})
}
