package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/require"

	"github.com/wikiracing-llms/wikirace/pkg/events"
	"github.com/wikiracing-llms/wikirace/pkg/graph"
	"github.com/wikiracing-llms/wikirace/pkg/llm"
	"github.com/wikiracing-llms/wikirace/pkg/models"
	"github.com/wikiracing-llms/wikirace/pkg/room"
	"github.com/wikiracing-llms/wikirace/pkg/wiki"
)

// scriptedClient returns canned outputs in call order. Configure the fields
// before the first request.
type scriptedClient struct {
	mu      sync.Mutex
	outputs []string
	err     error
	calls   int
}

func (s *scriptedClient) Chat(_ context.Context, _ llm.ChatRequest) (*llm.ChatResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if s.calls >= len(s.outputs) {
		return nil, fmt.Errorf("unscripted llm call %d", s.calls+1)
	}
	out := s.outputs[s.calls]
	s.calls++
	return &llm.ChatResult{Content: out}, nil
}

type testServer struct {
	*Server
	llm   *scriptedClient
	rooms *room.Service
}

// newTestServer wires a full router over an in-memory graph and a local
// HTML upstream. Luna is a single-link alias of Moon for canonical tests;
// Comet exists but nothing links to it.
func newTestServer(t *testing.T) *testServer {
	t.Helper()

	src := graph.NewMemSource(map[string][]string{
		"Earth": {"Moon", "Sun"},
		"Moon":  {"Earth", "Sun"},
		"Sun":   {"Earth", "Moon"},
		"Luna":  {"Moon"},
		"Comet": {},
	})
	g := graph.New(src, time.Minute)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "<html><head></head><body>upstream %s</body></html>", r.URL.Path)
	}))
	t.Cleanup(upstream.Close)

	connManager := events.NewConnectionManager(time.Second)
	client := &scriptedClient{}
	rooms := room.NewService(room.NewRegistry(), g, client, connManager, room.ServiceConfig{})
	wikiSvc := wiki.NewService(wiki.NewFetcher(wiki.FetcherConfig{Origin: upstream.URL}), g, wiki.ServiceConfig{})

	srv := NewServer(g, rooms, wikiSvc, client, connManager, Config{ResolveCacheTTL: time.Hour})
	return &testServer{Server: srv, llm: client, rooms: rooms}
}

// do runs one request through the router. A non-nil body is sent as JSON.
func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)
	return rec
}

func decodeAs[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func errorDetail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeAs[ErrorResponse](t, rec).Detail
}

// createTestRoom creates an Earth → Sun room owned by alice.
func (ts *testServer) createTestRoom(t *testing.T) CreateRoomResponse {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/rooms", CreateRoomRequest{
		StartArticle:       "Earth",
		DestinationArticle: "Sun",
		OwnerName:          "alice",
	})
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	created := decodeAs[CreateRoomResponse](t, rec)
	t.Cleanup(func() { ts.rooms.Registry().CancelRoomTasks(created.RoomID) })
	return created
}

func (ts *testServer) startRoom(t *testing.T, created CreateRoomResponse) *models.Room {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/rooms/"+created.RoomID+"/start",
		StartRoomRequest{PlayerID: created.OwnerPlayerID})
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	snapshot := decodeAs[models.Room](t, rec)
	return &snapshot
}

func TestHealthRoute(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	health := decodeAs[HealthResponse](t, rec)
	require.Equal(t, "healthy", health.Status)
	require.Equal(t, 5, health.ArticleCount)
}

func TestArticleRoutes(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/get_all_articles", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	titles := decodeAs[[]string](t, rec)
	require.ElementsMatch(t, []string{"Earth", "Moon", "Sun", "Luna", "Comet"}, titles)

	rec = ts.do(t, http.MethodGet, "/get_article_with_links/Earth", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	article := decodeAs[ArticleResponse](t, rec)
	require.Equal(t, "Earth", article.Title)
	require.Equal(t, []string{"Moon", "Sun"}, article.Links)

	// exact lookup: no case folding on this route
	rec = ts.do(t, http.MethodGet, "/get_article_with_links/earth", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "Article not found", errorDetail(t, rec))
}

func TestResolveAndCanonicalRoutes(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/resolve_article/earth", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))
	resolved := decodeAs[ResolveResponse](t, rec)
	require.True(t, resolved.Exists)
	require.Equal(t, "Earth", resolved.Title)

	// a miss is a cacheable answer, not an error
	rec = ts.do(t, http.MethodGet, "/resolve_article/Pluto", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, decodeAs[ResolveResponse](t, rec).Exists)

	rec = ts.do(t, http.MethodGet, "/canonical_title/Luna", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Moon", decodeAs[CanonicalResponse](t, rec).Title)
}

func TestCreateRoomValidationRoutes(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/rooms", CreateRoomRequest{
		StartArticle:       "Earth",
		DestinationArticle: "Sun",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, errorDetail(t, rec), "owner_name")

	rec = ts.do(t, http.MethodPost, "/rooms", CreateRoomRequest{
		OwnerName:          "alice",
		StartArticle:       "Pluto",
		DestinationArticle: "Sun",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, errorDetail(t, rec), "start_article")
	require.Contains(t, errorDetail(t, rec), "not found")

	// Luna canonicalizes to Moon, so Moon → Luna has nowhere to go
	rec = ts.do(t, http.MethodPost, "/rooms", CreateRoomRequest{
		OwnerName:          "alice",
		StartArticle:       "Moon",
		DestinationArticle: "Luna",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, errorDetail(t, rec), "must differ")

	created := ts.createTestRoom(t)
	require.True(t, strings.HasPrefix(created.RoomID, "room_"), created.RoomID)
	require.True(t, strings.HasPrefix(created.OwnerPlayerID, "player_"), created.OwnerPlayerID)
	require.Contains(t, created.JoinURL, "/?room="+created.RoomID)
	require.Equal(t, models.RoomStatusLobby, created.Room.Status)
	require.Equal(t, 20, created.Room.Rules.MaxHops)
	require.Len(t, created.Room.Players, 1)
	require.False(t, created.Room.Players[0].Connected)
	require.Len(t, created.Room.Runs, 1)
	require.Equal(t, models.RunStatusNotStarted, created.Room.Runs[0].Status)
}

func TestRaceFlowOverRoutes(t *testing.T) {
	ts := newTestServer(t)
	created := ts.createTestRoom(t)
	ownerID := created.OwnerPlayerID

	// races only accept moves after start
	rec := ts.do(t, http.MethodPost, "/rooms/"+created.RoomID+"/move",
		MoveRequest{PlayerID: ownerID, ToArticle: "Moon"})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/rooms/"+created.RoomID+"/join", JoinRoomRequest{Name: "bob"})
	require.Equal(t, http.StatusOK, rec.Code)
	joined := decodeAs[JoinRoomResponse](t, rec)
	bobID := joined.PlayerID
	require.Len(t, joined.Room.Players, 2)
	bobRun := joined.Room.HumanRunForPlayer(bobID)
	require.NotNil(t, bobRun)

	// only the owner starts the race
	rec = ts.do(t, http.MethodPost, "/rooms/"+created.RoomID+"/start", StartRoomRequest{PlayerID: bobID})
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Contains(t, errorDetail(t, rec), "owner")

	started := ts.startRoom(t, created)
	require.Equal(t, models.RoomStatusRunning, started.Status)
	require.NotNil(t, started.StartedAt)
	for _, run := range started.Runs {
		require.Equal(t, models.RunStatusRunning, run.Status)
		require.Len(t, run.Steps, 1)
		require.Equal(t, models.StepTypeStart, run.Steps[0].Type)
		require.Equal(t, "Earth", run.Steps[0].Article)
	}

	// Comet exists but Earth does not link to it
	rec = ts.do(t, http.MethodPost, "/rooms/"+created.RoomID+"/move",
		MoveRequest{PlayerID: ownerID, ToArticle: "Comet"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, errorDetail(t, rec), "illegal move")

	rec = ts.do(t, http.MethodPost, "/rooms/"+created.RoomID+"/move",
		MoveRequest{PlayerID: ownerID, ToArticle: "Pluto"})
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "Article not found", errorDetail(t, rec))

	rec = ts.do(t, http.MethodPost, "/rooms/"+created.RoomID+"/move",
		MoveRequest{PlayerID: "player_NOBODY999", ToArticle: "Moon"})
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "Player not found", errorDetail(t, rec))

	// lowercase input resolves onto the stored title
	rec = ts.do(t, http.MethodPost, "/rooms/"+created.RoomID+"/move",
		MoveRequest{PlayerID: ownerID, ToArticle: "moon"})
	require.Equal(t, http.StatusOK, rec.Code)
	snapshot := decodeAs[models.Room](t, rec)
	ownerRun := snapshot.HumanRunForPlayer(ownerID)
	require.NotNil(t, ownerRun)
	require.Len(t, ownerRun.Steps, 2)
	require.Equal(t, models.StepTypeMove, ownerRun.Steps[1].Type)
	require.Equal(t, "Moon", ownerRun.Steps[1].Article)

	// Luna canonicalizes to Moon, where the run already stands
	rec = ts.do(t, http.MethodPost, "/rooms/"+created.RoomID+"/move",
		MoveRequest{PlayerID: ownerID, ToArticle: "Luna"})
	require.Equal(t, http.StatusOK, rec.Code)
	snapshot = decodeAs[models.Room](t, rec)
	require.Len(t, snapshot.HumanRunForPlayer(ownerID).Steps, 2, "noop must not append a step")

	rec = ts.do(t, http.MethodPost, "/rooms/"+created.RoomID+"/move",
		MoveRequest{PlayerID: ownerID, ToArticle: "Sun"})
	require.Equal(t, http.StatusOK, rec.Code)
	snapshot = decodeAs[models.Room](t, rec)
	ownerRun = snapshot.HumanRunForPlayer(ownerID)
	require.Equal(t, models.RunStatusFinished, ownerRun.Status)
	require.Equal(t, models.RunResultWin, ownerRun.Result)
	require.Equal(t, models.StepTypeWin, ownerRun.Steps[len(ownerRun.Steps)-1].Type)
	require.Equal(t, "Sun", ownerRun.Steps[len(ownerRun.Steps)-1].Article)
	require.Equal(t, models.RoomStatusRunning, snapshot.Status, "bob is still racing")

	rec = ts.do(t, http.MethodPost, "/rooms/"+created.RoomID+"/runs/"+bobRun.ID+"/abandon",
		RunActionRequest{PlayerID: bobID})
	require.Equal(t, http.StatusOK, rec.Code)
	snapshot = decodeAs[models.Room](t, rec)
	require.Equal(t, models.RoomStatusFinished, snapshot.Status)
	require.NotNil(t, snapshot.FinishedAt)
	bobFinal := snapshot.HumanRunForPlayer(bobID)
	require.Equal(t, models.RunResultAbandoned, bobFinal.Result)
	last := bobFinal.Steps[len(bobFinal.Steps)-1]
	require.Equal(t, models.StepTypeLose, last.Type)
	require.Equal(t, models.LoseReasonAbandoned, last.Metadata.Reason)
}

func TestRunGuardRoutes(t *testing.T) {
	ts := newTestServer(t)
	created := ts.createTestRoom(t)
	ownerID := created.OwnerPlayerID
	aliceRunID := created.Room.Runs[0].ID

	rec := ts.do(t, http.MethodPost, "/rooms/"+created.RoomID+"/join", JoinRoomRequest{Name: "bob"})
	require.Equal(t, http.StatusOK, rec.Code)
	bobID := decodeAs[JoinRoomResponse](t, rec).PlayerID

	rec = ts.do(t, http.MethodPost, "/rooms/"+created.RoomID+"/add_llm",
		AddLLMRequest{RequestedByPlayerID: ownerID})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, errorDetail(t, rec), "model")

	rec = ts.do(t, http.MethodPost, "/rooms/"+created.RoomID+"/add_llm",
		AddLLMRequest{RequestedByPlayerID: bobID, Model: "gpt-4o"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	// cancel and restart apply to LLM runs only
	rec = ts.do(t, http.MethodPost, "/rooms/"+created.RoomID+"/runs/"+aliceRunID+"/cancel",
		RunActionRequest{PlayerID: ownerID})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/rooms/"+created.RoomID+"/runs/"+aliceRunID+"/restart",
		RunActionRequest{PlayerID: ownerID})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/rooms/"+created.RoomID+"/runs/"+aliceRunID+"/cancel",
		RunActionRequest{PlayerID: bobID})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPost, "/rooms/"+created.RoomID+"/runs/"+aliceRunID+"/abandon",
		RunActionRequest{PlayerID: bobID})
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Contains(t, errorDetail(t, rec), "player")

	rec = ts.do(t, http.MethodPost, "/rooms/"+created.RoomID+"/runs/run_MISSING999/cancel",
		RunActionRequest{PlayerID: ownerID})
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "Run not found", errorDetail(t, rec))
}

func TestAddLLMLifecycleRoutes(t *testing.T) {
	ts := newTestServer(t)
	created := ts.createTestRoom(t)
	ownerID := created.OwnerPlayerID

	rec := ts.do(t, http.MethodPost, "/rooms/"+created.RoomID+"/add_llm",
		AddLLMRequest{RequestedByPlayerID: ownerID, Model: "gpt-4o"})
	require.Equal(t, http.StatusOK, rec.Code)
	snapshot := decodeAs[models.Room](t, rec)
	require.Len(t, snapshot.Runs, 2)

	llmRun := snapshot.Runs[1]
	require.Equal(t, models.RunKindLLM, llmRun.Kind)
	require.Equal(t, models.RunStatusNotStarted, llmRun.Status, "lobby runs wait for start")
	require.Equal(t, "gpt-4o", llmRun.PlayerName, "name defaults to the model")
	require.Equal(t, 20, llmRun.MaxSteps, "budget defaults to the room's max hops")

	// cancelling a pending run removes it outright
	rec = ts.do(t, http.MethodPost, "/rooms/"+created.RoomID+"/runs/"+llmRun.ID+"/cancel",
		RunActionRequest{PlayerID: ownerID})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeAs[models.Room](t, rec).Runs, 1)
}

func TestChatRoute(t *testing.T) {
	ts := newTestServer(t)
	ts.llm.outputs = []string{"All right."}

	rec := ts.do(t, http.MethodPost, "/llm/chat", ChatRequest{Model: "gpt-4o", Prompt: "say something"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "All right.", decodeAs[llm.ChatResult](t, rec).Content)

	rec = ts.do(t, http.MethodPost, "/llm/chat", ChatRequest{Prompt: "no model"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, errorDetail(t, rec), "model")

	rec = ts.do(t, http.MethodPost, "/llm/chat", ChatRequest{Model: "gpt-4o"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, errorDetail(t, rec), "prompt")
}

func TestChooseLinkRoute(t *testing.T) {
	ts := newTestServer(t)
	ts.llm.outputs = []string{"<answer>2</answer>"}

	rec := ts.do(t, http.MethodPost, "/llm/choose_link", ChooseLinkRequest{
		Model:   "gpt-4o",
		Current: "Earth",
		Target:  "Sun",
		Links:   []string{"Moon", "Sun"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	chosen := decodeAs[ChooseLinkResponse](t, rec)
	require.Equal(t, 2, chosen.SelectedIndex)
	require.Equal(t, 1, chosen.Tries)
	require.Equal(t, "<answer>2</answer>", chosen.LLMOutput)

	rec = ts.do(t, http.MethodPost, "/llm/choose_link", ChooseLinkRequest{Model: "gpt-4o"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, errorDetail(t, rec), "links")
}

func TestValidateMoveRoute(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/local/validate_move", ValidateMoveRequest{
		CurrentArticle:     "Earth",
		ToArticle:          "Sun",
		DestinationArticle: "Sun",
		CurrentHops:        0,
		MaxHops:            5,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeAs[ValidateMoveResponse](t, rec)
	require.Equal(t, "win", res.Outcome)
	require.Equal(t, "Sun", res.Article)

	// fragments and case differences collapse onto the current article
	rec = ts.do(t, http.MethodPost, "/local/validate_move", ValidateMoveRequest{
		CurrentArticle:     "earth",
		ToArticle:          "Earth#History",
		DestinationArticle: "Sun",
		MaxHops:            5,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "noop", decodeAs[ValidateMoveResponse](t, rec).Outcome)

	rec = ts.do(t, http.MethodPost, "/local/validate_move", ValidateMoveRequest{
		CurrentArticle:     "Earth",
		ToArticle:          "Moon",
		DestinationArticle: "Sun",
		CurrentHops:        4,
		MaxHops:            5,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	res = decodeAs[ValidateMoveResponse](t, rec)
	require.Equal(t, "lose", res.Outcome)
	require.Equal(t, "Moon", res.Article)
	require.Equal(t, 5, res.MaxHops)

	rec = ts.do(t, http.MethodPost, "/local/validate_move", ValidateMoveRequest{
		CurrentArticle:     "Earth",
		ToArticle:          "Pluto",
		DestinationArticle: "Sun",
		MaxHops:            5,
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "Article not found", errorDetail(t, rec))
}

func TestWikiProxyRoutes(t *testing.T) {
	ts := newTestServer(t)

	// Luna shares Moon's cache entry through canonicalization
	rec := ts.do(t, http.MethodGet, "/wiki/Luna", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "MISS", rec.Header().Get("X-Wiki-Proxy-Cache"))
	require.Equal(t, "public, max-age=600", rec.Header().Get("Cache-Control"))
	body := rec.Body.String()
	require.Contains(t, body, "upstream /wiki/Moon")
	require.Contains(t, body, `<base href="https://simple.wikipedia.org/"`)
	require.Contains(t, body, "wikirace:navigate")

	rec = ts.do(t, http.MethodGet, "/wiki/Moon", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "HIT", rec.Header().Get("X-Wiki-Proxy-Cache"))
}

func TestCORSAndSecurityHeaders(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodOptions, "/rooms", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")

	rec = ts.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, "SAMEORIGIN", rec.Header().Get("X-Frame-Options"))
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "strict-origin-when-cross-origin", rec.Header().Get("Referrer-Policy"))
}

func TestErrorBodyShape(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/rooms/room_ZZZZ9999", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.JSONEq(t, `{"detail": "Room not found"}`, rec.Body.String())
}
