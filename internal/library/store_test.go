package library

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"podloop/internal/feed"
)

type fakeSource struct {
	mu       sync.Mutex
	channels map[string]feed.Channel
	err      error
}

func (f *fakeSource) Load(_ context.Context, url string) (feed.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return feed.Channel{}, f.err
	}
	ch, ok := f.channels[url]
	if !ok {
		return feed.Channel{}, feed.ErrInvalidFeed
	}
	return ch, nil
}

func (f *fakeSource) set(ch feed.Channel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels[ch.URL] = ch
}

func showChannel(url string, items ...feed.Item) feed.Channel {
	return feed.Channel{URL: url, Title: "Show", ImageURL: "https://x/show.jpg", Items: items}
}

func item(id string, published int64) feed.Item {
	return feed.Item{ID: id, Title: "Episode " + id, AudioURL: "https://x/" + id + ".mp3", DurationMs: 60000, PublishedAt: published}
}

func openTestStore(t *testing.T, src Source) (*Store, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	clock := time.Unix(1700000000, 0)
	s, err := Open(filepath.Join(t.TempDir(), "library.db"), Options{
		Source:      src,
		Fs:          fs,
		DownloadDir: "/downloads",
		Now: func() time.Time {
			clock = clock.Add(time.Millisecond)
			return clock
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, fs
}

// TestStore_SubscribeAndWatch tests that subscribing publishes the episodes.
func TestStore_SubscribeAndWatch(t *testing.T) {
	src := &fakeSource{channels: map[string]feed.Channel{}}
	src.set(showChannel("https://x/feed.xml", item("e1", 100), item("e2", 200)))
	s, _ := openTestStore(t, src)

	ch, cancel := s.Watch()
	defer cancel()
	if initial := <-ch; len(initial) != 0 {
		t.Fatalf("expected empty initial library, got %d", len(initial))
	}

	res := s.Subscribe(context.Background(), "https://x/feed.xml")
	created, err := res.Get()
	if err != nil || !created {
		t.Fatalf("Subscribe = %v, %v", created, err)
	}

	select {
	case eps := <-ch:
		if len(eps) != 2 || eps[0].ID != "e2" {
			t.Fatalf("unexpected library %+v", eps)
		}
	case <-time.After(time.Second):
		t.Fatalf("no library update")
	}

	again, err := s.Subscribe(context.Background(), "https://x/feed.xml").Get()
	if err != nil || again {
		t.Fatalf("resubscribe = %v, %v", again, err)
	}
}

// TestStore_SubscribeFailure tests that fetch failures are reported and nothing is stored.
func TestStore_SubscribeFailure(t *testing.T) {
	src := &fakeSource{channels: map[string]feed.Channel{}, err: errors.New("network unreachable")}
	s, _ := openTestStore(t, src)

	res := s.Subscribe(context.Background(), "https://x/feed.xml")
	if !res.IsError() {
		t.Fatalf("expected error")
	}
	if got := res.Error().Error(); got != "subscribe https://x/feed.xml: network unreachable" {
		t.Fatalf("unexpected error %q", got)
	}
	if feeds, _ := s.Feeds(); len(feeds) != 0 {
		t.Fatalf("expected no feeds, got %d", len(feeds))
	}
}

// TestStore_SyncKeepsLocalState tests that refreshing a feed keeps progress and queue flags.
func TestStore_SyncKeepsLocalState(t *testing.T) {
	src := &fakeSource{channels: map[string]feed.Channel{}}
	src.set(showChannel("https://x/feed.xml", item("e1", 100)))
	s, _ := openTestStore(t, src)

	if _, err := s.Subscribe(context.Background(), "https://x/feed.xml").Get(); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := s.UpdateProgress("e1", 12000); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	if err := s.AddToQueue("e1"); err != nil {
		t.Fatalf("AddToQueue: %v", err)
	}

	src.set(showChannel("https://x/feed.xml", item("e1", 100), item("e2", 200)))
	added, err := s.Sync(context.Background())
	if err != nil || added != 1 {
		t.Fatalf("Sync = %d, %v", added, err)
	}

	e1, ok := s.Episode("e1").Get()
	if !ok {
		t.Fatalf("e1 missing")
	}
	if e1.ProgressMs != 12000 || !e1.InQueue || e1.LastPlayed == 0 {
		t.Fatalf("local state lost: %+v", e1)
	}
}

// TestStore_QueueAndLastPlayed tests queue flags and last-played lookup.
func TestStore_QueueAndLastPlayed(t *testing.T) {
	src := &fakeSource{channels: map[string]feed.Channel{}}
	src.set(showChannel("https://x/feed.xml", item("e1", 100), item("e2", 200)))
	s, _ := openTestStore(t, src)
	_, _ = s.Subscribe(context.Background(), "https://x/feed.xml").Get()

	if s.LastPlayed().IsPresent() {
		t.Fatalf("nothing played yet")
	}

	_ = s.UpdateProgress("e2", 1000)
	_ = s.UpdateProgress("e1", 2000)
	last, ok := s.LastPlayed().Get()
	if !ok || last.ID != "e1" {
		t.Fatalf("LastPlayed = %+v, %v", last, ok)
	}

	_ = s.AddToQueue("e2")
	_ = s.RemoveFromQueue("e2")
	e2, _ := s.Episode("e2").Get()
	if e2.InQueue {
		t.Fatalf("e2 should be out of the queue")
	}

	if err := s.AddToQueue("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// TestStore_MarkOlderPlayed tests archiving older episodes of the same feed.
func TestStore_MarkOlderPlayed(t *testing.T) {
	src := &fakeSource{channels: map[string]feed.Channel{}}
	src.set(showChannel("https://x/a.xml", item("a1", 100), item("a2", 200), item("a3", 300)))
	src.set(showChannel("https://x/b.xml", item("b1", 50)))
	s, _ := openTestStore(t, src)
	_, _ = s.Subscribe(context.Background(), "https://x/a.xml").Get()
	_, _ = s.Subscribe(context.Background(), "https://x/b.xml").Get()

	ids, err := s.MarkOlderPlayed("a3")
	if err != nil {
		t.Fatalf("MarkOlderPlayed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %v", ids)
	}
	a1, _ := s.Episode("a1").Get()
	b1, _ := s.Episode("b1").Get()
	if !a1.Finished() || b1.Finished() {
		t.Fatalf("a1 finished=%v b1 finished=%v", a1.Finished(), b1.Finished())
	}
}

// TestStore_DownloadAndUnsubscribe tests the download path and cleanup on unsubscribe.
func TestStore_DownloadAndUnsubscribe(t *testing.T) {
	audio := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ID3-audio-bytes")
	}))
	defer audio.Close()

	src := &fakeSource{channels: map[string]feed.Channel{}}
	it := item("e1", 100)
	it.AudioURL = audio.URL + "/e1.mp3?token=1"
	src.set(showChannel("https://x/feed.xml", it))
	s, fs := openTestStore(t, src)
	_, _ = s.Subscribe(context.Background(), "https://x/feed.xml").Get()

	path, err := s.Download(context.Background(), "e1").Get()
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if path != filepath.Join("/downloads", "e1.mp3") {
		t.Fatalf("path = %q", path)
	}
	data, err := afero.ReadFile(fs, path)
	if err != nil || string(data) != "ID3-audio-bytes" {
		t.Fatalf("file = %q, %v", data, err)
	}
	e1, _ := s.Episode("e1").Get()
	if !e1.Downloaded || e1.PlaybackURL() != path {
		t.Fatalf("episode not marked downloaded: %+v", e1)
	}

	candidates, err := s.AutoDownloadCandidates()
	if err != nil || len(candidates) != 0 {
		t.Fatalf("candidates = %v, %v", candidates, err)
	}

	if err := s.Unsubscribe("https://x/feed.xml"); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if exists, _ := afero.Exists(fs, path); exists {
		t.Fatalf("download should be removed")
	}
	if len(s.Library()) != 0 {
		t.Fatalf("library should be empty")
	}
	if err := s.Unsubscribe("https://x/feed.xml"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// TestStore_DownloadPolicy tests policy storage and validation.
func TestStore_DownloadPolicy(t *testing.T) {
	src := &fakeSource{channels: map[string]feed.Channel{}}
	src.set(showChannel("https://x/feed.xml", item("e1", 100), item("e2", 200)))
	s, _ := openTestStore(t, src)
	_, _ = s.Subscribe(context.Background(), "https://x/feed.xml").Get()

	got, _ := s.AutoDownloadCandidates()
	if len(got) != 1 || got[0] != "e2" {
		t.Fatalf("latest policy candidates = %v", got)
	}

	if err := s.SetDownloadPolicy("https://x/feed.xml", PolicyOldestUnplayed); err != nil {
		t.Fatalf("SetDownloadPolicy: %v", err)
	}
	got, _ = s.AutoDownloadCandidates()
	if len(got) != 1 || got[0] != "e1" {
		t.Fatalf("oldest_unplayed candidates = %v", got)
	}

	if err := s.SetDownloadPolicy("https://x/feed.xml", "sometimes"); err == nil {
		t.Fatalf("expected invalid policy error")
	}
}
