package api

import (
	"errors"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"

	"github.com/wikiracing-llms/wikirace/pkg/models"
	"github.com/wikiracing-llms/wikirace/pkg/room"
)

// wsHandler handles GET /rooms/:id/ws. It upgrades to WebSocket, marks the
// player connected while the socket lives, and delegates the push loop to
// the ConnectionManager. Unknown rooms are closed with a policy-violation
// code after the upgrade, so browser clients see a clean close frame
// instead of a failed handshake.
func (s *Server) wsHandler(c *echo.Context) error {
	roomID := room.NormalizeRoomID(c.Param("id"))
	playerID := c.QueryParam("player_id")

	_, err := s.rooms.Get(roomID)
	unknownRoom := errors.Is(err, room.ErrRoomNotFound)
	if err != nil && !unknownRoom {
		return mapServiceError(err)
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		// The API is open to any LAN origin; the WS surface follows.
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}

	if unknownRoom {
		_ = conn.Close(websocket.StatusPolicyViolation, "unknown room")
		return nil
	}

	if playerID != "" {
		s.rooms.SetPlayerConnected(roomID, playerID, true)
		defer s.rooms.SetPlayerConnected(roomID, playerID, false)
	}

	// Blocks until the socket closes.
	s.connManager.HandleConnection(c.Request().Context(), conn, roomID, func() *models.Room {
		snapshot, err := s.rooms.Get(roomID)
		if err != nil {
			return nil
		}
		return snapshot
	})
	return nil
}
