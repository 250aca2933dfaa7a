package wiki

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// FetcherConfig tunes the upstream HTTP client.
type FetcherConfig struct {
	// Origin overrides the upstream wiki origin (tests).
	Origin string
	// Timeout is the total per-request budget.
	Timeout time.Duration
	// ConnectTimeout bounds dialing the upstream.
	ConnectTimeout time.Duration
	// MaxConnections caps concurrent connections to the upstream host.
	MaxConnections int
}

// Fetcher retrieves raw article HTML from the upstream wiki.
type Fetcher struct {
	origin string
	client *http.Client
}

// NewFetcher builds the upstream client. Zero config values fall back to
// the defaults used against the public wiki.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	origin := strings.TrimRight(cfg.Origin, "/")
	if origin == "" {
		origin = Origin
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}
	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = 16
	}
	return &Fetcher{
		origin: origin,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: connectTimeout}).DialContext,
				MaxConnsPerHost:     maxConns,
				MaxIdleConnsPerHost: maxConns,
			},
		},
	}
}

// Fetch downloads one article page, following redirects. Anything but a
// 200 is an error.
func (f *Fetcher) Fetch(ctx context.Context, title string) (string, error) {
	safe := strings.ReplaceAll(title, " ", "_")
	pageURL := f.origin + "/wiki/" + url.PathEscape(safe)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "wikiracing-llms")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch wiki page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch wiki page (%d)", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read wiki page: %w", err)
	}
	return string(body), nil
}
