package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/wikiracing-llms/wikirace/pkg/models"
)

// WSEvent represents a received WebSocket frame.
type WSEvent struct {
	Type     string                 `json:"type"`
	Raw      json.RawMessage        // Original JSON
	Parsed   map[string]interface{} // Parsed for assertions
	Received time.Time              // When we received it
}

// Room decodes the frame's room payload, or nil when absent or malformed.
func (e *WSEvent) Room() *models.Room {
	var frame struct {
		Room *models.Room `json:"room"`
	}
	if err := json.Unmarshal(e.Raw, &frame); err != nil {
		return nil
	}
	return frame.Room
}

// WSClient attaches to a room's WebSocket endpoint and collects frames.
type WSClient struct {
	conn   *websocket.Conn
	events []WSEvent
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	doneCh chan struct{}
}

// WSConnect establishes a WebSocket connection to the test server and starts
// collecting frames in a background goroutine.
func WSConnect(ctx context.Context, wsURL string) (*WSClient, error) {
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{})
	if err != nil {
		return nil, fmt.Errorf("WebSocket dial: %w", err)
	}

	clientCtx, cancel := context.WithCancel(ctx)
	c := &WSClient{
		conn:   conn,
		ctx:    clientCtx,
		cancel: cancel,
		doneCh: make(chan struct{}),
	}

	// Start background reader.
	go c.readLoop()

	return c, nil
}

// WaitForEvent waits until a frame matching the predicate is received, or timeout.
func (c *WSClient) WaitForEvent(predicate func(WSEvent) bool, timeout time.Duration) (*WSEvent, error) {
	deadline := time.After(timeout)
	tick := time.NewTicker(25 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-deadline:
			return nil, fmt.Errorf("timeout waiting for frame (collected %d frames)", len(c.Events()))
		case <-tick.C:
			c.mu.Lock()
			for i := range c.events {
				if predicate(c.events[i]) {
					evt := c.events[i]
					c.mu.Unlock()
					return &evt, nil
				}
			}
			c.mu.Unlock()
		}
	}
}

// WaitForRoomState waits for a room_state frame whose snapshot matches the
// predicate and returns that snapshot.
func (c *WSClient) WaitForRoomState(predicate func(*models.Room) bool, timeout time.Duration) (*models.Room, error) {
	evt, err := c.WaitForEvent(func(e WSEvent) bool {
		if e.Type != "room_state" {
			return false
		}
		r := e.Room()
		return r != nil && predicate(r)
	}, timeout)
	if err != nil {
		return nil, err
	}
	return evt.Room(), nil
}

// WaitForRoomStatus waits for a room_state frame with the given room status.
func (c *WSClient) WaitForRoomStatus(status models.RoomStatus, timeout time.Duration) (*models.Room, error) {
	return c.WaitForRoomState(func(r *models.Room) bool {
		return r.Status == status
	}, timeout)
}

// WaitClosed blocks until the server closes the socket, or timeout.
func (c *WSClient) WaitClosed(timeout time.Duration) error {
	select {
	case <-c.doneCh:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for close (collected %d frames)", len(c.Events()))
	}
}

// Events returns a snapshot of all collected frames.
func (c *WSClient) Events() []WSEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]WSEvent, len(c.events))
	copy(result, c.events)
	return result
}

// RoomStates returns the room snapshots of every room_state frame, in
// arrival order.
func (c *WSClient) RoomStates() []*models.Room {
	var result []*models.Room
	for _, e := range c.Events() {
		if e.Type != "room_state" {
			continue
		}
		if r := e.Room(); r != nil {
			result = append(result, r)
		}
	}
	return result
}

// Close closes the WebSocket connection and waits for the read loop to exit.
func (c *WSClient) Close() error {
	c.cancel()
	_ = c.conn.CloseNow()
	<-c.doneCh
	return nil
}

// readLoop reads frames from the WebSocket and appends them to the events slice.
func (c *WSClient) readLoop() {
	defer close(c.doneCh)
	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			return // Connection closed or context cancelled.
		}

		var parsed map[string]interface{}
		if err := json.Unmarshal(data, &parsed); err != nil {
			continue // Skip malformed messages.
		}

		evt := WSEvent{
			Raw:      json.RawMessage(data),
			Parsed:   parsed,
			Received: time.Now(),
		}
		if t, ok := parsed["type"].(string); ok {
			evt.Type = t
		}

		c.mu.Lock()
		c.events = append(c.events, evt)
		c.mu.Unlock()
	}
}
