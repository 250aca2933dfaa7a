package api

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/wikiracing-llms/wikirace/pkg/room"
)

// addLLMHandler handles POST /rooms/:id/add_llm.
func (s *Server) addLLMHandler(c *echo.Context) error {
	var req AddLLMRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	effort := req.ReasoningEffort
	if effort == "" {
		effort = req.Effort
	}

	snapshot, err := s.rooms.AddLLM(c.Request().Context(), room.AddLLMRequest{
		RoomID:              room.NormalizeRoomID(c.Param("id")),
		RequestedByPlayerID: req.RequestedByPlayerID,
		Model:               req.Model,
		PlayerName:          req.PlayerName,
		APIBase:             req.APIBase,
		ReasoningEffort:     strings.TrimSpace(effort),
		Temperature:         req.Temperature,
		MaxSteps:            req.MaxSteps,
		MaxLinks:            req.MaxLinks,
		MaxTokens:           req.MaxTokens,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, snapshot)
}

// cancelRunHandler handles POST /rooms/:id/runs/:run_id/cancel.
func (s *Server) cancelRunHandler(c *echo.Context) error {
	var req RunActionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	snapshot, err := s.rooms.CancelRun(c.Request().Context(), room.NormalizeRoomID(c.Param("id")),
		req.PlayerID, c.Param("run_id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, snapshot)
}

// restartRunHandler handles POST /rooms/:id/runs/:run_id/restart.
func (s *Server) restartRunHandler(c *echo.Context) error {
	var req RunActionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	snapshot, err := s.rooms.RestartRun(c.Request().Context(), room.NormalizeRoomID(c.Param("id")),
		req.PlayerID, c.Param("run_id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, snapshot)
}

// abandonRunHandler handles POST /rooms/:id/runs/:run_id/abandon.
func (s *Server) abandonRunHandler(c *echo.Context) error {
	var req RunActionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	snapshot, err := s.rooms.AbandonRun(c.Request().Context(), room.NormalizeRoomID(c.Param("id")),
		req.PlayerID, c.Param("run_id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, snapshot)
}
