package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wikiracing-llms/wikirace/pkg/models"
)

// ────────────────────────────────────────────────────────────
// HTTP Client Helpers
// ────────────────────────────────────────────────────────────

// request performs one HTTP round-trip and returns status code and body.
func (app *TestApp) request(t *testing.T, method, path string, body interface{}) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, app.BaseURL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func (app *TestApp) postJSON(t *testing.T, path string, body interface{}, expectedStatus int) map[string]interface{} {
	t.Helper()
	status, data := app.request(t, http.MethodPost, path, body)
	require.Equal(t, expectedStatus, status, "POST %s: unexpected status (body: %s)", path, data)
	var result map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &result))
	return result
}

func (app *TestApp) getJSON(t *testing.T, path string, expectedStatus int) map[string]interface{} {
	t.Helper()
	status, data := app.request(t, http.MethodGet, path, nil)
	require.Equal(t, expectedStatus, status, "GET %s: unexpected status (body: %s)", path, data)
	var result map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &result))
	return result
}

// postRoom posts a room mutation and decodes the snapshot it returns.
func (app *TestApp) postRoom(t *testing.T, path string, reqBody interface{}) *models.Room {
	t.Helper()
	status, data := app.request(t, http.MethodPost, path, reqBody)
	require.Equal(t, http.StatusOK, status, "POST %s: unexpected status (body: %s)", path, data)
	var snapshot models.Room
	require.NoError(t, json.Unmarshal(data, &snapshot))
	return &snapshot
}

// postExpectError posts, asserts the error status, and returns the detail.
func (app *TestApp) postExpectError(t *testing.T, path string, reqBody interface{}, expectedStatus int) string {
	t.Helper()
	status, data := app.request(t, http.MethodPost, path, reqBody)
	require.Equal(t, expectedStatus, status, "POST %s: unexpected status (body: %s)", path, data)
	var er struct {
		Detail string `json:"detail"`
	}
	require.NoError(t, json.Unmarshal(data, &er))
	require.NotEmpty(t, er.Detail)
	return er.Detail
}

func decodeRoom(t *testing.T, v interface{}) *models.Room {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	var snapshot models.Room
	require.NoError(t, json.Unmarshal(data, &snapshot))
	return &snapshot
}

// ────────────────────────────────────────────────────────────
// Room API Helpers
// ────────────────────────────────────────────────────────────

// CreateRoom posts /rooms and returns the room id, the owner's player id,
// and the initial snapshot.
func (app *TestApp) CreateRoom(t *testing.T, reqBody map[string]interface{}) (string, string, *models.Room) {
	t.Helper()
	res := app.postJSON(t, "/rooms", reqBody, http.StatusOK)
	roomID, _ := res["room_id"].(string)
	ownerID, _ := res["owner_player_id"].(string)
	require.NotEmpty(t, roomID)
	require.NotEmpty(t, ownerID)
	return roomID, ownerID, decodeRoom(t, res["room"])
}

// JoinRoom adds a player and returns the new player id and the snapshot.
func (app *TestApp) JoinRoom(t *testing.T, roomID, name string) (string, *models.Room) {
	t.Helper()
	res := app.postJSON(t, "/rooms/"+roomID+"/join", map[string]string{"name": name}, http.StatusOK)
	playerID, _ := res["player_id"].(string)
	require.NotEmpty(t, playerID)
	return playerID, decodeRoom(t, res["room"])
}

// StartRoom starts the race as playerID.
func (app *TestApp) StartRoom(t *testing.T, roomID, playerID string) *models.Room {
	t.Helper()
	return app.postRoom(t, "/rooms/"+roomID+"/start", map[string]string{"player_id": playerID})
}

// NewRound rotates the room onto a fresh article pair.
func (app *TestApp) NewRound(t *testing.T, roomID, playerID, start, destination string) *models.Room {
	t.Helper()
	return app.postRoom(t, "/rooms/"+roomID+"/new_round", map[string]string{
		"player_id":           playerID,
		"start_article":       start,
		"destination_article": destination,
	})
}

// Move plays one human move and returns the snapshot.
func (app *TestApp) Move(t *testing.T, roomID, playerID, to string) *models.Room {
	t.Helper()
	return app.postRoom(t, "/rooms/"+roomID+"/move", map[string]string{
		"player_id":  playerID,
		"to_article": to,
	})
}

// MoveExpectError plays a rejected move and returns the error detail.
func (app *TestApp) MoveExpectError(t *testing.T, roomID, playerID, to string, expectedStatus int) string {
	t.Helper()
	return app.postExpectError(t, "/rooms/"+roomID+"/move", map[string]string{
		"player_id":  playerID,
		"to_article": to,
	}, expectedStatus)
}

// AddLLM attaches an agent run. reqBody must include
// requested_by_player_id and model.
func (app *TestApp) AddLLM(t *testing.T, roomID string, reqBody map[string]interface{}) *models.Room {
	t.Helper()
	return app.postRoom(t, "/rooms/"+roomID+"/add_llm", reqBody)
}

// CancelRun cancels an LLM run as playerID.
func (app *TestApp) CancelRun(t *testing.T, roomID, runID, playerID string) *models.Room {
	t.Helper()
	return app.postRoom(t, "/rooms/"+roomID+"/runs/"+runID+"/cancel", map[string]string{"player_id": playerID})
}

// RestartRun resets an LLM run as playerID.
func (app *TestApp) RestartRun(t *testing.T, roomID, runID, playerID string) *models.Room {
	t.Helper()
	return app.postRoom(t, "/rooms/"+roomID+"/runs/"+runID+"/restart", map[string]string{"player_id": playerID})
}

// AbandonRun gives up a human run as playerID.
func (app *TestApp) AbandonRun(t *testing.T, roomID, runID, playerID string) *models.Room {
	t.Helper()
	return app.postRoom(t, "/rooms/"+roomID+"/runs/"+runID+"/abandon", map[string]string{"player_id": playerID})
}

// GetRoom fetches the current snapshot over HTTP.
func (app *TestApp) GetRoom(t *testing.T, roomID string) *models.Room {
	t.Helper()
	status, data := app.request(t, http.MethodGet, "/rooms/"+roomID, nil)
	require.Equal(t, http.StatusOK, status, "GET /rooms/%s: unexpected status (body: %s)", roomID, data)
	var snapshot models.Room
	require.NoError(t, json.Unmarshal(data, &snapshot))
	return &snapshot
}

// ────────────────────────────────────────────────────────────
// Polling Helpers
// ────────────────────────────────────────────────────────────

// WaitForRunStatus polls until the run reaches the expected status and
// returns the run from that snapshot.
func (app *TestApp) WaitForRunStatus(t *testing.T, roomID, runID string, expected models.RunStatus) *models.Run {
	t.Helper()
	var found models.Run
	require.Eventually(t, func() bool {
		snapshot, err := app.Rooms.Get(roomID)
		if err != nil {
			return false
		}
		run := snapshot.Run(runID)
		if run == nil || run.Status != expected {
			return false
		}
		found = *run
		return true
	}, 10*time.Second, 25*time.Millisecond,
		"run %s did not reach status %s", runID, expected)
	return &found
}

// WaitForRoomStatus polls until the room reaches the expected status.
func (app *TestApp) WaitForRoomStatus(t *testing.T, roomID string, expected models.RoomStatus) *models.Room {
	t.Helper()
	var found *models.Room
	require.Eventually(t, func() bool {
		snapshot, err := app.Rooms.Get(roomID)
		if err != nil {
			return false
		}
		if snapshot.Status != expected {
			return false
		}
		found = snapshot
		return true
	}, 10*time.Second, 25*time.Millisecond,
		"room %s did not reach status %s", roomID, expected)
	return found
}

// ────────────────────────────────────────────────────────────
// Snapshot Projections
// ────────────────────────────────────────────────────────────

// LLMRun returns the room's sole LLM run, failing when absent or ambiguous.
func LLMRun(t *testing.T, snapshot *models.Room) *models.Run {
	t.Helper()
	var found *models.Run
	for i := range snapshot.Runs {
		if snapshot.Runs[i].Kind == models.RunKindLLM {
			require.Nil(t, found, "expected exactly one LLM run")
			found = &snapshot.Runs[i]
		}
	}
	require.NotNil(t, found, "no LLM run in room")
	return found
}

// StepTypes projects a run's step log onto its type sequence.
func StepTypes(run *models.Run) []models.StepType {
	out := make([]models.StepType, 0, len(run.Steps))
	for _, s := range run.Steps {
		out = append(out, s.Type)
	}
	return out
}

// StepArticles projects a run's step log onto the visited articles.
func StepArticles(run *models.Run) []string {
	out := make([]string, 0, len(run.Steps))
	for _, s := range run.Steps {
		out = append(out, s.Article)
	}
	return out
}
