// Package api is the HTTP and WebSocket surface of the arena server.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/wikiracing-llms/wikirace/pkg/events"
	"github.com/wikiracing-llms/wikirace/pkg/graph"
	"github.com/wikiracing-llms/wikirace/pkg/llm"
	"github.com/wikiracing-llms/wikirace/pkg/room"
	"github.com/wikiracing-llms/wikirace/pkg/wiki"
)

// Config tunes the HTTP layer.
type Config struct {
	// ResolveCacheTTL is the max-age sent on resolve_article responses.
	ResolveCacheTTL time.Duration

	// PublicHost overrides LAN IP detection when building join URLs.
	PublicHost string

	// StaticDir is served at / when it exists (the built frontend).
	StaticDir string
}

// Server wires the domain services into routes.
type Server struct {
	e          *echo.Echo
	httpServer *http.Server

	graph       *graph.Graph
	rooms       *room.Service
	wiki        *wiki.Service
	llmClient   llm.Client
	connManager *events.ConnectionManager
	cfg         Config
}

// NewServer builds the router over the given services. llmClient backs the
// standalone /llm endpoints and is normally the same gated client the room
// service uses.
func NewServer(g *graph.Graph, rooms *room.Service, wikiService *wiki.Service, llmClient llm.Client, connManager *events.ConnectionManager, cfg Config) *Server {
	s := &Server{
		graph:       g,
		rooms:       rooms,
		wiki:        wikiService,
		llmClient:   llmClient,
		connManager: connManager,
		cfg:         cfg,
	}

	e := echo.New()
	e.HTTPErrorHandler = errorHandler
	e.Use(corsAllowAll())
	e.Use(securityHeaders())
	s.registerRoutes(e)

	s.e = e
	s.httpServer = &http.Server{
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes(e *echo.Echo) {
	e.GET("/health", s.healthHandler)

	// Article graph.
	e.GET("/get_all_articles", s.allArticlesHandler)
	e.GET("/get_article_with_links/*", s.articleWithLinksHandler)
	e.GET("/resolve_article/*", s.resolveArticleHandler)
	e.GET("/canonical_title/*", s.canonicalTitleHandler)

	// Upstream HTML proxy.
	e.GET("/wiki/*", s.wikiProxyHandler)

	// Rooms.
	e.POST("/rooms", s.createRoomHandler)
	e.GET("/rooms/:id", s.getRoomHandler)
	e.POST("/rooms/:id/join", s.joinRoomHandler)
	e.POST("/rooms/:id/start", s.startRoomHandler)
	e.POST("/rooms/:id/new_round", s.newRoundHandler)
	e.POST("/rooms/:id/move", s.moveHandler)
	e.POST("/rooms/:id/add_llm", s.addLLMHandler)
	e.POST("/rooms/:id/runs/:run_id/cancel", s.cancelRunHandler)
	e.POST("/rooms/:id/runs/:run_id/restart", s.restartRunHandler)
	e.POST("/rooms/:id/runs/:run_id/abandon", s.abandonRunHandler)
	e.GET("/rooms/:id/ws", s.wsHandler)

	// Standalone endpoints for headless harnesses.
	e.POST("/llm/chat", s.llmChatHandler)
	e.POST("/llm/choose_link", s.chooseLinkHandler)
	e.POST("/local/validate_move", s.validateMoveHandler)

	// The built frontend, when present. Dev setups run the UI separately
	// and only need the API routes.
	if s.cfg.StaticDir != "" {
		if _, err := os.Stat(s.cfg.StaticDir); err == nil {
			e.Static("/", s.cfg.StaticDir)
		} else {
			slog.Info("Static dir not found, skipping mount", "dir", s.cfg.StaticDir)
		}
	}
}

// errorHandler renders every error as the {"detail": ...} JSON shape.
func errorHandler(c *echo.Context, err error) {
	if r, _ := echo.UnwrapResponse(c.Response()); r != nil && r.Committed {
		return
	}

	code := http.StatusInternalServerError
	detail := "internal server error"

	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		detail = fmt.Sprintf("%v", he.Message)
	}

	if jsonErr := c.JSON(code, &ErrorResponse{Detail: detail}); jsonErr != nil {
		slog.Error("Failed to write error response", "error", jsonErr)
	}
}

// Start listens on addr and serves until Shutdown or failure.
func (s *Server) Start(addr string) error {
	s.httpServer.Addr = addr
	return s.httpServer.ListenAndServe()
}

// StartWithListener serves on an existing listener. Tests use this with a
// 127.0.0.1:0 listener to get a free port.
func (s *Server) StartWithListener(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
