// Package e2e boots the full arena server against an in-memory article
// graph and drives it through real HTTP and WebSocket connections.
package e2e

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wikiracing-llms/wikirace/pkg/api"
	"github.com/wikiracing-llms/wikirace/pkg/cleanup"
	"github.com/wikiracing-llms/wikirace/pkg/events"
	"github.com/wikiracing-llms/wikirace/pkg/graph"
	"github.com/wikiracing-llms/wikirace/pkg/llm"
	"github.com/wikiracing-llms/wikirace/pkg/room"
	"github.com/wikiracing-llms/wikirace/pkg/wiki"
)

// TestApp boots a complete arena instance for e2e testing.
type TestApp struct {
	// Core
	Graph    *graph.Graph
	Registry *room.Registry
	Rooms    *room.Service

	// Mocks / test wiring
	LLM *ScriptedLLMClient

	// Real infrastructure
	ConnManager *events.ConnectionManager
	Reaper      *cleanup.Service
	Server      *api.Server

	// Runtime
	BaseURL string // e.g. "http://127.0.0.1:54321"

	wsBase string // e.g. "ws://127.0.0.1:54321"
	t      *testing.T
}

// testAppConfig holds options accumulated before creating the TestApp.
type testAppConfig struct {
	world             map[string][]string
	llmClient         *ScriptedLLMClient
	wikiUpstream      http.Handler
	roomTTL           time.Duration
	cleanupInterval   time.Duration
	maxLLMRunsPerRoom int
	llmMaxTries       int
	maxConcurrentLLM  int
}

// TestAppOption configures the test app.
type TestAppOption func(*testAppConfig)

// WithWorld sets the article graph (title → outbound links).
func WithWorld(world map[string][]string) TestAppOption {
	return func(c *testAppConfig) { c.world = world }
}

// WithLLMClient sets a pre-scripted LLM client.
func WithLLMClient(client *ScriptedLLMClient) TestAppOption {
	return func(c *testAppConfig) { c.llmClient = client }
}

// WithWikiUpstream serves the given handler as the upstream wiki. The
// default upstream refuses every request, exercising the offline fallback.
func WithWikiUpstream(h http.Handler) TestAppOption {
	return func(c *testAppConfig) { c.wikiUpstream = h }
}

// WithRoomTTL sets the idle TTL after which rooms are reaped.
func WithRoomTTL(d time.Duration) TestAppOption {
	return func(c *testAppConfig) { c.roomTTL = d }
}

// WithCleanupInterval sets how often the reaper scans for idle rooms.
func WithCleanupInterval(d time.Duration) TestAppOption {
	return func(c *testAppConfig) { c.cleanupInterval = d }
}

// WithMaxLLMRunsPerRoom caps unfinished LLM runs per room.
func WithMaxLLMRunsPerRoom(n int) TestAppOption {
	return func(c *testAppConfig) { c.maxLLMRunsPerRoom = n }
}

// WithLLMMaxTries sets the decision-protocol retry budget.
func WithLLMMaxTries(n int) TestAppOption {
	return func(c *testAppConfig) { c.llmMaxTries = n }
}

// WithMaxConcurrentLLMCalls bounds in-flight calls through the LLM gate.
func WithMaxConcurrentLLMCalls(n int) TestAppOption {
	return func(c *testAppConfig) { c.maxConcurrentLLM = n }
}

// NewTestApp creates and starts a full arena test instance.
// Shutdown is registered via t.Cleanup automatically.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	// Apply options. Default TTLs are long enough that no test sees an
	// accidental reap.
	tc := &testAppConfig{
		roomTTL:         time.Hour,
		cleanupInterval: time.Minute,
	}
	for _, opt := range opts {
		opt(tc)
	}
	if tc.world == nil {
		tc.world = defaultWorld()
	}
	if tc.llmClient == nil {
		tc.llmClient = NewScriptedLLMClient()
	}
	if tc.wikiUpstream == nil {
		tc.wikiUpstream = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
		})
	}
	maxConcurrent := tc.maxConcurrentLLM
	if maxConcurrent == 0 {
		maxConcurrent = 3
	}

	// 1. Article graph over an in-memory source.
	g := graph.New(graph.NewMemSource(tc.world), time.Hour)

	// 2. LLM: the scripted client behind the same gate production uses.
	gated := llm.NewGate(tc.llmClient, maxConcurrent)

	// 3. WebSocket fan-out.
	connManager := events.NewConnectionManager(5 * time.Second)

	// 4. Room service.
	registry := room.NewRegistry()
	rooms := room.NewService(registry, g, gated, connManager, room.ServiceConfig{
		MaxLLMRunsPerRoom: tc.maxLLMRunsPerRoom,
		LLMMaxTries:       tc.llmMaxTries,
	})

	// 5. Idle-room reaper.
	reaper := cleanup.NewService(rooms, tc.roomTTL, tc.cleanupInterval)
	reaper.Start(context.Background())

	// 6. Wiki proxy against a local upstream stub.
	upstream := httptest.NewServer(tc.wikiUpstream)
	fetcher := wiki.NewFetcher(wiki.FetcherConfig{
		Origin:  upstream.URL,
		Timeout: 5 * time.Second,
	})
	wikiService := wiki.NewService(fetcher, g, wiki.ServiceConfig{
		CacheMaxEntries: 64,
		CacheTTL:        time.Minute,
	})

	// 7. HTTP server on a random port. PublicHost is pinned so join URLs
	// stay deterministic instead of depending on LAN detection.
	server := api.NewServer(g, rooms, wikiService, gated, connManager, api.Config{
		ResolveCacheTTL: time.Hour,
		PublicHost:      "127.0.0.1",
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		_ = server.StartWithListener(ln)
	}()

	addr := ln.Addr().String()
	app := &TestApp{
		Graph:       g,
		Registry:    registry,
		Rooms:       rooms,
		LLM:         tc.llmClient,
		ConnManager: connManager,
		Reaper:      reaper,
		Server:      server,
		BaseURL:     fmt.Sprintf("http://%s", addr),
		wsBase:      fmt.Sprintf("ws://%s", addr),
		t:           t,
	}

	// Register cleanup in reverse-creation order.
	t.Cleanup(func() {
		reaper.Stop()
		for _, id := range registry.IDs() {
			registry.CancelRoomTasks(id)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		upstream.Close()
		_ = g.Close()
	})

	return app
}

// WSURL returns the room's WebSocket endpoint, optionally carrying a
// player id for presence tracking.
func (app *TestApp) WSURL(roomID, playerID string) string {
	u := app.wsBase + "/rooms/" + roomID + "/ws"
	if playerID != "" {
		u += "?player_id=" + url.QueryEscape(playerID)
	}
	return u
}

// defaultWorld is a small linked world for tests without a bespoke
// topology. Non-terminal articles keep at least two outbound links so
// canonicalization never collapses them into a neighbor.
func defaultWorld() map[string][]string {
	return map[string][]string{
		"Cat":    {"Animal", "Mammal"},
		"Animal": {"Dog", "Plant"},
		"Dog":    {"Cat", "Animal"},
		"Mammal": {"Animal", "Cat"},
		"Plant":  {},
		"Feline": {"Cat"}, // redirect-like page: single outbound link
	}
}
