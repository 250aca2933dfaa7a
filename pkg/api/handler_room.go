package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/wikiracing-llms/wikirace/pkg/room"
)

// createRoomHandler handles POST /rooms.
func (s *Server) createRoomHandler(c *echo.Context) error {
	var req CreateRoomRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	created, err := s.rooms.CreateRoom(c.Request().Context(), room.CreateRoomRequest{
		StartArticle:       req.StartArticle,
		DestinationArticle: req.DestinationArticle,
		OwnerName:          req.OwnerName,
		MaxHops:            req.MaxHops,
		MaxLinks:           req.MaxLinks,
		MaxTokens:          req.MaxTokens,
		IncludeImageLinks:  req.IncludeImageLinks,
		DisableLinksView:   req.DisableLinksView,
	})
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, &CreateRoomResponse{
		RoomID:        created.ID,
		OwnerPlayerID: created.OwnerPlayerID,
		JoinURL:       s.joinURL(c, created.ID),
		Room:          created,
	})
}

// getRoomHandler handles GET /rooms/:id.
func (s *Server) getRoomHandler(c *echo.Context) error {
	snapshot, err := s.rooms.Get(room.NormalizeRoomID(c.Param("id")))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, snapshot)
}

// joinRoomHandler handles POST /rooms/:id/join.
func (s *Server) joinRoomHandler(c *echo.Context) error {
	var req JoinRoomRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	playerID, snapshot, err := s.rooms.Join(c.Request().Context(), room.NormalizeRoomID(c.Param("id")), req.Name)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &JoinRoomResponse{PlayerID: playerID, Room: snapshot})
}

// startRoomHandler handles POST /rooms/:id/start.
func (s *Server) startRoomHandler(c *echo.Context) error {
	var req StartRoomRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	snapshot, err := s.rooms.Start(c.Request().Context(), room.NormalizeRoomID(c.Param("id")), req.PlayerID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, snapshot)
}

// newRoundHandler handles POST /rooms/:id/new_round.
func (s *Server) newRoundHandler(c *echo.Context) error {
	var req NewRoundRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	snapshot, err := s.rooms.NewRound(c.Request().Context(), room.NormalizeRoomID(c.Param("id")),
		req.PlayerID, req.StartArticle, req.DestinationArticle)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, snapshot)
}

// moveHandler handles POST /rooms/:id/move.
func (s *Server) moveHandler(c *echo.Context) error {
	var req MoveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	snapshot, err := s.rooms.Move(c.Request().Context(), room.NormalizeRoomID(c.Param("id")),
		req.PlayerID, req.ToArticle)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, snapshot)
}
