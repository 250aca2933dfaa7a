// WikiRace arena server — hosts shared race rooms over a read-only
// article-link graph, fans out room state over WebSocket, and drives LLM
// racers through a bounded gateway.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wikiracing-llms/wikirace/pkg/api"
	"github.com/wikiracing-llms/wikirace/pkg/cleanup"
	"github.com/wikiracing-llms/wikirace/pkg/config"
	"github.com/wikiracing-llms/wikirace/pkg/events"
	"github.com/wikiracing-llms/wikirace/pkg/graph"
	"github.com/wikiracing-llms/wikirace/pkg/llm"
	"github.com/wikiracing-llms/wikirace/pkg/room"
	"github.com/wikiracing-llms/wikirace/pkg/version"
	"github.com/wikiracing-llms/wikirace/pkg/wiki"
)

func main() {
	envFile := flag.String("env-file", ".env", "Path to an optional .env file")
	staticDir := flag.String("static-dir", "./static", "Directory with the built frontend (skipped when absent)")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", *envFile, "error", err)
	} else {
		slog.Info("Loaded environment", "path", *envFile)
	}

	// 1. Configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting wikirace",
		"version", version.Full(),
		"http_port", cfg.HTTPPort,
		"db_path", cfg.DBPath)

	ctx := context.Background()

	// 2. Article graph
	src, err := graph.OpenSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to open article database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	g := graph.New(src, cfg.ResolveCacheTTL)
	defer func() {
		if err := g.Close(); err != nil {
			slog.Error("Error closing article database", "error", err)
		}
	}()

	count, err := g.Count(ctx)
	if err != nil {
		slog.Error("Failed to probe article database", "error", err)
		os.Exit(1)
	}
	slog.Info("Article graph ready", "articles", count)

	// 3. LLM gateway behind the process-wide concurrency gate
	llmClient := llm.NewGate(llm.NewOpenAIClient(cfg.OpenAIAPIKey), cfg.MaxConcurrentLLMCalls)
	slog.Info("LLM gateway initialized", "max_concurrent_calls", cfg.MaxConcurrentLLMCalls)

	// 4. Realtime fan-out and room service
	connManager := events.NewConnectionManager(5 * time.Second)
	registry := room.NewRegistry()
	rooms := room.NewService(registry, g, llmClient, connManager, room.ServiceConfig{
		MaxLLMRunsPerRoom: cfg.MaxLLMRunsPerRoom,
		LLMMaxTries:       cfg.LLMMaxTries,
	})

	// 5. Idle-room reaper
	reaper := cleanup.NewService(rooms, cfg.RoomTTL, cfg.RoomCleanupInterval)
	reaper.Start(ctx)

	// 6. Wiki HTML proxy
	fetcher := wiki.NewFetcher(wiki.FetcherConfig{
		Timeout:        cfg.WikiFetchTimeout,
		ConnectTimeout: cfg.WikiFetchConnectTimeout,
		MaxConnections: cfg.WikiHTTPMaxConnections,
	})
	wikiService := wiki.NewService(fetcher, g, wiki.ServiceConfig{
		CacheMaxEntries: cfg.WikiCacheMaxEntries,
		CacheTTL:        cfg.WikiCacheTTL,
	})

	// 7. HTTP server (non-blocking)
	httpServer := api.NewServer(g, rooms, wikiService, llmClient, connManager, api.Config{
		ResolveCacheTTL: cfg.ResolveCacheTTL,
		PublicHost:      cfg.PublicHost,
		StaticDir:       *staticDir,
	})

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + strconv.Itoa(cfg.HTTPPort)
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	// 8. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 9. Graceful shutdown: stop the reaper, cancel in-flight LLM
	// executors, then drain HTTP with its own timeout budget.
	reaper.Stop()
	for _, id := range registry.IDs() {
		registry.CancelRoomTasks(id)
	}

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
