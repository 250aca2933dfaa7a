// Package events fans room snapshots out to the WebSocket clients
// attached to each room.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/wikiracing-llms/wikirace/pkg/models"
)

const frameTypeRoomState = "room_state"

// RoomStateFrame is the only frame type pushed to clients: the full room
// snapshot, once on attach and again after every accepted mutation.
type RoomStateFrame struct {
	Type string       `json:"type"`
	Room *models.Room `json:"room"`
}

// ConnectionManager tracks WebSocket connections per room. Each Go
// process has one ConnectionManager instance.
type ConnectionManager struct {
	// Attached connections: room_id → connection_id → *connection
	rooms map[string]map[string]*connection
	mu    sync.RWMutex

	// Write timeout for WebSocket sends
	writeTimeout time.Duration
}

// connection represents a single WebSocket client, pinned to one room
// for its whole lifetime.
type connection struct {
	id     string
	roomID string
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// NewConnectionManager creates a new ConnectionManager.
func NewConnectionManager(writeTimeout time.Duration) *ConnectionManager {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &ConnectionManager{
		rooms:        make(map[string]map[string]*connection),
		writeTimeout: writeTimeout,
	}
}

// HandleConnection manages the lifecycle of a single WebSocket
// connection. Called by the WebSocket HTTP handler after upgrade; blocks
// until the connection closes. The initial snapshot is fetched after
// registration so no broadcast can fall into the gap.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, ws *websocket.Conn, roomID string, initial func() *models.Room) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &connection{
		id:     uuid.New().String(),
		roomID: roomID,
		conn:   ws,
		ctx:    ctx,
		cancel: cancel,
	}

	m.register(c)
	defer m.unregister(c)

	if room := initial(); room != nil {
		m.sendRoomState(c, room)
	}

	// Clients have nothing to say on this socket; the read loop exists
	// only to notice the disconnect.
	for {
		if _, _, err := ws.Read(ctx); err != nil {
			return
		}
	}
}

// BroadcastRoom sends a room snapshot to every connection attached to it.
func (m *ConnectionManager) BroadcastRoom(room *models.Room) {
	if room == nil {
		return
	}
	conns := m.snapshotConns(room.ID)
	if len(conns) == 0 {
		return
	}

	data, err := json.Marshal(RoomStateFrame{Type: frameTypeRoomState, Room: room})
	if err != nil {
		slog.Warn("Failed to marshal room state", "room_id", room.ID, "error", err)
		return
	}
	for _, c := range conns {
		m.sendRaw(c, data)
	}
}

// CloseRoom closes every socket attached to the room.
func (m *ConnectionManager) CloseRoom(roomID string) {
	for _, c := range m.snapshotConns(roomID) {
		_ = c.conn.Close(websocket.StatusNormalClosure, "room closed")
		c.cancel()
	}
}

// ActiveConnections returns the count of attached WebSocket connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, set := range m.rooms {
		n += len(set)
	}
	return n
}

// roomSubscriberCount returns the number of sockets attached to a room.
// Unexported — used by tests to poll instead of sleeping.
func (m *ConnectionManager) roomSubscriberCount(roomID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms[roomID])
}

// snapshotConns copies the room's connection set under the lock, so the
// potentially slow sends (up to writeTimeout each) happen without it.
func (m *ConnectionManager) snapshotConns(roomID string) []*connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.rooms[roomID]
	conns := make([]*connection, 0, len(set))
	for _, c := range set {
		conns = append(conns, c)
	}
	return conns
}

func (m *ConnectionManager) sendRoomState(c *connection, room *models.Room) {
	data, err := json.Marshal(RoomStateFrame{Type: frameTypeRoomState, Room: room})
	if err != nil {
		slog.Warn("Failed to marshal room state", "room_id", room.ID, "error", err)
		return
	}
	m.sendRaw(c, data)
}

// sendRaw sends raw bytes to a single connection with a write timeout.
// A failed write leaves the socket in an unknown state, so the
// connection's context is cancelled and its read loop cleans up.
func (m *ConnectionManager) sendRaw(c *connection, data []byte) {
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	if err := c.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		slog.Warn("Failed to send to WebSocket client",
			"connection_id", c.id, "room_id", c.roomID, "error", err)
		c.cancel()
	}
}

// registerConnection adds a connection to its room's set.
func (m *ConnectionManager) register(c *connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.rooms[c.roomID]
	if set == nil {
		set = make(map[string]*connection)
		m.rooms[c.roomID] = set
	}
	set[c.id] = c
}

// unregister removes a connection and closes the socket.
func (m *ConnectionManager) unregister(c *connection) {
	m.mu.Lock()
	if set := m.rooms[c.roomID]; set != nil {
		delete(set, c.id)
		if len(set) == 0 {
			delete(m.rooms, c.roomID)
		}
	}
	m.mu.Unlock()

	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}
