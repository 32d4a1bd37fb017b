// Package feed fetches and parses remote source feeds: JSON documents
// describing a repository of installable packages.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxFeedSize bounds how much of a feed response is read. Feeds are small
// JSON documents; anything larger is suspect.
const maxFeedSize = 8 * 1024 * 1024

// Feed is a parsed remote source feed.
type Feed struct {
	Name       string `json:"name"`
	Identifier string `json:"identifier"`
	IconURL    string `json:"iconURL"`
	Apps       []App  `json:"apps"`
}

// App is one installable package listed in a feed.
type App struct {
	BundleIdentifier string `json:"bundleIdentifier"`
	Name             string `json:"name"`
	Version          string `json:"version"`
	DownloadURL      string `json:"downloadURL"`
}

// Client fetches feeds. A nil HTTPClient falls back to http.DefaultClient.
type Client struct {
	HTTPClient *http.Client

	// Authorization, when set, is sent as the Authorization header on every
	// fetch (per-source tokens from the credential store).
	Authorization string
}

// Fetch retrieves and parses the feed at url. All failures are returned to
// the caller; the repository store decides whether to downgrade them.
func (c *Client) Fetch(ctx context.Context, url string) (*Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.Authorization != "" {
		req.Header.Set("Authorization", c.Authorization)
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching feed %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching feed %s: HTTP %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return nil, fmt.Errorf("reading feed %s: %w", url, err)
	}

	var feed Feed
	if err := json.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("parsing feed %s: %w", url, err)
	}
	return &feed, nil
}

// NormalizeSourceURL turns user input into a fetchable feed URL: bare
// domains get an https scheme, everything else is passed through.
func NormalizeSourceURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return trimmed
	}
	if !strings.Contains(trimmed, "://") {
		return "https://" + trimmed
	}
	return trimmed
}
