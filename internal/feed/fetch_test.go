package feed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClient(proxy string) *Client {
	c := NewClient(discardLogger())
	c.ProxyURL = proxy
	c.Backoff.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

// TestClient_FetchDirect tests that a valid origin response is used as is.
func TestClient_FetchDirect(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, sampleRSS)
	}))
	defer origin.Close()

	c := testClient("")
	body, err := c.Fetch(context.Background(), origin.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if body != sampleRSS {
		t.Fatalf("unexpected body")
	}
}

// TestClient_FetchFallsBackToProxy tests the proxy path when the origin serves HTML.
func TestClient_FetchFallsBackToProxy(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<!DOCTYPE html><html><body>blocked</body></html>")
	}))
	defer origin.Close()

	var proxied string
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxied = r.URL.Query().Get("url")
		_ = json.NewEncoder(w).Encode(map[string]string{"contents": sampleRSS})
	}))
	defer proxy.Close()

	c := testClient(proxy.URL + "/get?url=")
	ch, err := c.Load(context.Background(), origin.URL)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if proxied != origin.URL {
		t.Fatalf("proxy asked for %q, want %q", proxied, origin.URL)
	}
	if len(ch.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(ch.Items))
	}
}

// TestClient_LoadRetriesThenFails tests that every attempt is made before failing.
func TestClient_LoadRetriesThenFails(t *testing.T) {
	var hits atomic.Int32
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer origin.Close()

	c := testClient("")
	_, err := c.Load(context.Background(), origin.URL)
	if err == nil {
		t.Fatalf("expected error")
	}
	if got := hits.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

// TestClient_FetchRejectsNonFeed tests that markup that is not a feed is refused.
func TestClient_FetchRejectsNonFeed(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<note>not a feed</note>")
	}))
	defer origin.Close()

	c := testClient("")
	_, err := c.Fetch(context.Background(), origin.URL)
	if !errors.Is(err, ErrInvalidFeed) {
		t.Fatalf("expected ErrInvalidFeed, got %v", err)
	}
}

// TestBackoff_Doubles tests the delay sequence between attempts.
func TestBackoff_Doubles(t *testing.T) {
	var delays []time.Duration
	b := Backoff{Attempts: 3, Initial: 2 * time.Second}
	b.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	calls := 0
	err := b.Do(context.Background(), "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if len(delays) != 2 || delays[0] != 2*time.Second || delays[1] != 4*time.Second {
		t.Fatalf("delays = %v", delays)
	}
}

// TestBackoff_StopsOnCancel tests that a cancelled context ends the retries.
func TestBackoff_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := Backoff{Attempts: 5, Initial: time.Hour}

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- b.Do(ctx, "op", func(context.Context) error {
			calls++
			return errors.New("down")
		})
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Do did not return after cancel")
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

// TestClient_Search tests directory result mapping.
func TestClient_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("term") != "night shift" {
			t.Errorf("unexpected term %q", r.URL.Query().Get("term"))
		}
		_, _ = io.WriteString(w, `{"results":[
			{"collectionName":"Night Shift","feedUrl":"https://x/feed.xml","artworkUrl100":"https://x/a.jpg"},
			{"collectionName":"No Feed","feedUrl":""}
		]}`)
	}))
	defer srv.Close()

	c := testClient("")
	c.SearchURL = srv.URL
	res, err := c.Search(context.Background(), "night shift")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 1 || res[0].Title != "Night Shift" || res[0].FeedURL != "https://x/feed.xml" {
		t.Fatalf("results = %+v", res)
	}
}
