// Package config loads server settings from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime settings for the server.
type Config struct {
	// HTTPPort is the listen port for the HTTP/WS server.
	HTTPPort int

	// DBPath points at the read-only article graph database.
	DBPath string

	// Room lifecycle.
	RoomTTL             time.Duration
	RoomCleanupInterval time.Duration
	MaxLLMRunsPerRoom   int

	// LLM gateway.
	MaxConcurrentLLMCalls int
	LLMMaxTries           int
	OpenAIAPIKey          string

	// Wiki HTML proxy.
	WikiCacheMaxEntries     int
	WikiCacheTTL            time.Duration
	WikiFetchTimeout        time.Duration
	WikiFetchConnectTimeout time.Duration
	WikiHTTPMaxConnections  int

	// Graph resolve cache TTL (also the max-age on resolve responses).
	ResolveCacheTTL time.Duration

	// PublicHost overrides LAN IP detection in join URLs.
	PublicHost string
}

// Load reads the configuration from the environment. The article database
// path is the only required setting.
func Load() (*Config, error) {
	dbPath := os.Getenv("WIKISPEEDIA_DB_PATH")
	if dbPath == "" {
		return nil, fmt.Errorf("WIKISPEEDIA_DB_PATH is required")
	}

	return &Config{
		HTTPPort:                getEnvIntOrDefault("HTTP_PORT", 8000),
		DBPath:                  dbPath,
		RoomTTL:                 getEnvSecondsOrDefault("WIKIRACE_ROOM_TTL_SECONDS", 21600),
		RoomCleanupInterval:     getEnvSecondsOrDefault("WIKIRACE_ROOM_CLEANUP_INTERVAL_SECONDS", 300),
		MaxLLMRunsPerRoom:       getEnvIntOrDefault("WIKIRACE_MAX_LLM_RUNS_PER_ROOM", 8),
		MaxConcurrentLLMCalls:   getEnvIntOrDefault("WIKIRACE_MAX_CONCURRENT_LLM_CALLS", 3),
		LLMMaxTries:             getEnvIntOrDefault("WIKIRACE_LLM_MAX_TRIES", 3),
		OpenAIAPIKey:            os.Getenv("OPENAI_API_KEY"),
		WikiCacheMaxEntries:     getEnvIntOrDefault("WIKIRACE_WIKI_CACHE_MAX_ENTRIES", 512),
		WikiCacheTTL:            getEnvSecondsOrDefault("WIKIRACE_WIKI_CACHE_TTL_SECONDS", 600),
		WikiFetchTimeout:        getEnvSecondsOrDefault("WIKIRACE_WIKI_FETCH_TIMEOUT_SECONDS", 20),
		WikiFetchConnectTimeout: getEnvSecondsOrDefault("WIKIRACE_WIKI_FETCH_CONNECT_TIMEOUT_SECONDS", 5),
		WikiHTTPMaxConnections:  getEnvIntOrDefault("WIKIRACE_WIKI_HTTP_MAX_CONNECTIONS", 16),
		ResolveCacheTTL:         getEnvSecondsOrDefault("WIKIRACE_RESOLVE_ARTICLE_CACHE_TTL_SECONDS", 3600),
		PublicHost:              os.Getenv("WIKIRACE_PUBLIC_HOST"),
	}, nil
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvSecondsOrDefault(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvIntOrDefault(key, defaultSeconds)) * time.Second
}
