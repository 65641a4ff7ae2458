package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/samber/lo"
)

// SearchResult is one podcast from the directory search.
type SearchResult struct {
	Title      string `json:"title"`
	FeedURL    string `json:"feed_url"`
	ArtworkURL string `json:"artwork_url"`
}

type itunesResult struct {
	CollectionName string `json:"collectionName"`
	FeedURL        string `json:"feedUrl"`
	ArtworkURL100  string `json:"artworkUrl100"`
}

type itunesResponse struct {
	Results []itunesResult `json:"results"`
}

// Search queries the podcast directory for term. Results without a feed URL
// are dropped.
func (c *Client) Search(ctx context.Context, term string) ([]SearchResult, error) {
	q := url.Values{}
	q.Set("term", term)
	q.Set("entity", "podcast")
	q.Set("media", "podcast")

	var out []SearchResult
	err := c.Backoff.Do(ctx, "search", func(ctx context.Context) error {
		body, err := c.get(ctx, c.SearchURL+"?"+q.Encode())
		if err != nil {
			return err
		}
		var resp itunesResponse
		if err := json.Unmarshal([]byte(body), &resp); err != nil {
			return fmt.Errorf("decode search response: %w", err)
		}
		out = lo.FilterMap(resp.Results, func(r itunesResult, _ int) (SearchResult, bool) {
			return SearchResult{Title: r.CollectionName, FeedURL: r.FeedURL, ArtworkURL: r.ArtworkURL100}, r.FeedURL != ""
		})
		return nil
	})
	return out, err
}
