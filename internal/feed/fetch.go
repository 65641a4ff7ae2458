// Package feed retrieves and parses podcast feeds.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrInvalidFeed is returned when neither the direct nor the proxied response
// looks like a feed document.
var ErrInvalidFeed = errors.New("invalid feed content")

const maxFeedBytes = 16 << 20

// Client fetches feed documents, falling back to a CORS-style JSON proxy.
type Client struct {
	HTTP      *http.Client
	ProxyURL  string // e.g. https://api.allorigins.win/get?url=
	UserAgent string
	SearchURL string
	Backoff   Backoff
	Logger    *slog.Logger
}

// NewClient returns a Client with the default backoff and a bounded timeout.
func NewClient(logger *slog.Logger) *Client {
	b := DefaultBackoff()
	b.Logger = logger
	return &Client{
		HTTP:      &http.Client{Timeout: 30 * time.Second},
		ProxyURL:  "https://api.allorigins.win/get?url=",
		UserAgent: "podloop/1.0",
		SearchURL: "https://itunes.apple.com/search",
		Backoff:   b,
		Logger:    logger,
	}
}

// Fetch returns the raw feed text for feedURL. One attempt tries the origin
// directly and then the proxy.
func (c *Client) Fetch(ctx context.Context, feedURL string) (string, error) {
	body, err := c.get(ctx, feedURL)
	if err == nil && looksLikeFeed(body) {
		return body, nil
	}
	if err != nil {
		c.Logger.Debug("direct fetch failed", "url", feedURL, "error", err)
	} else {
		c.Logger.Debug("direct fetch returned non-feed content", "url", feedURL)
	}

	if c.ProxyURL == "" {
		if err != nil {
			return "", err
		}
		return "", ErrInvalidFeed
	}

	body, perr := c.viaProxy(ctx, feedURL)
	if perr != nil {
		return "", fmt.Errorf("proxy fetch: %w", perr)
	}
	if !looksLikeFeed(body) {
		return "", ErrInvalidFeed
	}
	return body, nil
}

// Load fetches and parses feedURL, retrying the whole attempt with backoff.
func (c *Client) Load(ctx context.Context, feedURL string) (Channel, error) {
	var ch Channel
	err := c.Backoff.Do(ctx, "load feed", func(ctx context.Context) error {
		raw, err := c.Fetch(ctx, feedURL)
		if err != nil {
			return err
		}
		ch, err = Parse(raw, feedURL)
		return err
	})
	return ch, err
}

func (c *Client) get(ctx context.Context, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("GET %s: status %d", target, resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(b), nil
}

func (c *Client) viaProxy(ctx context.Context, feedURL string) (string, error) {
	body, err := c.get(ctx, c.ProxyURL+url.QueryEscape(feedURL))
	if err != nil {
		return "", err
	}
	var env struct {
		Contents string `json:"contents"`
	}
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return "", fmt.Errorf("decode proxy response: %w", err)
	}
	return env.Contents, nil
}

// looksLikeFeed rejects HTML pages and anything that is not markup.
func looksLikeFeed(body string) bool {
	s := strings.TrimSpace(body)
	if !strings.HasPrefix(s, "<") {
		return false
	}
	head := strings.ToLower(s[:min(len(s), 1024)])
	if strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html") {
		return false
	}
	return strings.Contains(head, "<rss") || strings.Contains(head, "<feed") || strings.Contains(head, "<rdf")
}
