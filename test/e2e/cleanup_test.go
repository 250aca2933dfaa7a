package e2e

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wikiracing-llms/wikirace/pkg/models"
	"github.com/wikiracing-llms/wikirace/pkg/room"
)

// TestIdleRoomReaped lets a lobby room sit past its TTL and checks the
// reaper removes it end to end: REST 404s and the room's WebSocket
// subscribers are disconnected.
func TestIdleRoomReaped(t *testing.T) {
	app := NewTestApp(t,
		WithRoomTTL(250*time.Millisecond),
		WithCleanupInterval(50*time.Millisecond),
	)

	roomID, ownerID, _ := app.CreateRoom(t, map[string]interface{}{
		"start_article":       "Cat",
		"destination_article": "Dog",
		"owner_name":          "alice",
	})

	ws, err := WSConnect(context.Background(), app.WSURL(roomID, ownerID))
	require.NoError(t, err)
	defer func() { _ = ws.Close() }()
	_, err = ws.WaitForRoomStatus(models.RoomStatusLobby, 5*time.Second)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := app.Rooms.Get(roomID)
		return errors.Is(err, room.ErrRoomNotFound)
	}, 10*time.Second, 25*time.Millisecond, "idle room was never reaped")

	status, _ := app.request(t, http.MethodGet, "/rooms/"+roomID, nil)
	require.Equal(t, http.StatusNotFound, status)

	require.NoError(t, ws.WaitClosed(5*time.Second))
}

// TestReapCancelsRunningExecutor reaps a room whose LLM executor is
// parked inside a decision call. The executor's context must be
// cancelled and its registration released.
func TestReapCancelsRunningExecutor(t *testing.T) {
	onBlock := make(chan struct{}, 1)
	llmClient := NewScriptedLLMClient()
	llmClient.Add(LLMScriptEntry{BlockUntilCancelled: true, OnBlock: onBlock})
	app := NewTestApp(t, WithWorld(llmWorld()), WithLLMClient(llmClient),
		WithRoomTTL(250*time.Millisecond),
		WithCleanupInterval(50*time.Millisecond),
	)

	roomID, ownerID, _ := app.CreateRoom(t, map[string]interface{}{
		"start_article":       "Harbor",
		"destination_article": "Island",
		"owner_name":          "alice",
	})
	app.AddLLM(t, roomID, map[string]interface{}{
		"requested_by_player_id": ownerID,
		"model":                  "test-model",
	})
	app.StartRoom(t, roomID, ownerID)

	select {
	case <-onBlock:
	case <-time.After(10 * time.Second):
		t.Fatal("scripted LLM call never started")
	}

	// The blocked executor commits nothing, so the room's last activity
	// stays at start time and the TTL runs out underneath it.
	require.Eventually(t, func() bool {
		_, err := app.Rooms.Get(roomID)
		return errors.Is(err, room.ErrRoomNotFound)
	}, 10*time.Second, 25*time.Millisecond, "running room was never reaped")

	require.Eventually(t, func() bool {
		return app.Registry.TaskCount() == 0
	}, 5*time.Second, 25*time.Millisecond, "executor registration leaked")
	require.Equal(t, 1, llmClient.CallCount())
}

// TestFreshRoomSurvivesSweeps runs the reaper on a short interval with a
// long TTL; sweeps must leave a young room alone.
func TestFreshRoomSurvivesSweeps(t *testing.T) {
	app := NewTestApp(t,
		WithRoomTTL(time.Hour),
		WithCleanupInterval(50*time.Millisecond),
	)

	roomID, _, _ := app.CreateRoom(t, map[string]interface{}{
		"start_article":       "Cat",
		"destination_article": "Dog",
		"owner_name":          "alice",
	})

	time.Sleep(300 * time.Millisecond)

	snapshot, err := app.Rooms.Get(roomID)
	require.NoError(t, err)
	require.Equal(t, models.RoomStatusLobby, snapshot.Status)
}
