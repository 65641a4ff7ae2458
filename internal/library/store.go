package library

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/samber/lo"
	"github.com/samber/mo"
	"github.com/spf13/afero"
	"go.etcd.io/bbolt"

	"podloop/internal/feed"
	"podloop/internal/watch"
)

var (
	feedsBucket    = []byte("feeds")
	episodesBucket = []byte("episodes")
	eventsBucket   = []byte("events")
)

// ErrNotFound is returned for unknown episode ids or feed urls.
var ErrNotFound = errors.New("not found")

// Source loads a parsed feed. *feed.Client satisfies it.
type Source interface {
	Load(ctx context.Context, url string) (feed.Channel, error)
}

// Options configures a Store.
type Options struct {
	Source      Source
	Fs          afero.Fs
	DownloadDir string
	HTTP        *http.Client
	EventKeep   int
	Now         func() time.Time
	Logger      *slog.Logger
}

// Store is the bbolt-backed library.
type Store struct {
	db      *bbolt.DB
	opts    Options
	logger  *slog.Logger
	library *watch.Value[[]Episode]
}

// Open opens (or creates) the database at path.
func Open(path string, opts Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("could not open bbolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{feedsBucket, episodesBucket, eventsBucket, factsBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.HTTP == nil {
		opts.HTTP = &http.Client{Timeout: 10 * time.Minute}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.EventKeep <= 0 {
		opts.EventKeep = 1000
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Store{db: db, opts: opts, logger: opts.Logger}
	eps, err := s.Episodes()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.library = watch.NewValue(eps)
	return s, nil
}

// Close closes the library stream and the database.
func (s *Store) Close() error {
	s.library.Close()
	return s.db.Close()
}

// Watch streams the episode list, replaying the current value first.
func (s *Store) Watch() (<-chan []Episode, func()) {
	return s.library.Watch()
}

// Library returns the last published episode list.
func (s *Store) Library() []Episode {
	return s.library.Get()
}

// Episodes reads every episode, newest first.
func (s *Store) Episodes() ([]Episode, error) {
	var out []Episode
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(episodesBucket).ForEach(func(_, v []byte) error {
			var e Episode
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("error deserializing episode: %w", err)
			}
			out = append(out, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortEpisodes(out)
	return out, nil
}

func sortEpisodes(eps []Episode) {
	sort.SliceStable(eps, func(i, j int) bool {
		if eps[i].PublishedAt != eps[j].PublishedAt {
			return eps[i].PublishedAt > eps[j].PublishedAt
		}
		return eps[i].ID < eps[j].ID
	})
}

// Feeds lists subscriptions ordered by url.
func (s *Store) Feeds() ([]Feed, error) {
	var out []Feed
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(feedsBucket).ForEach(func(_, v []byte) error {
			var f Feed
			if err := json.Unmarshal(v, &f); err != nil {
				return fmt.Errorf("error deserializing feed: %w", err)
			}
			out = append(out, f)
			return nil
		})
	})
	return out, err
}

func (s *Store) publish() {
	eps, err := s.Episodes()
	if err != nil {
		s.logger.Error("library reload failed", "error", err)
		return
	}
	s.library.Set(eps)
}

// ============================================================================
// Subscriptions
// ============================================================================

// Subscribe fetches url and stores its feed and episodes. The value is true
// when the feed was not subscribed before.
func (s *Store) Subscribe(ctx context.Context, url string) mo.Result[bool] {
	ch, err := s.opts.Source.Load(ctx, url)
	if err != nil {
		return mo.Err[bool](fmt.Errorf("subscribe %s: %w", url, err))
	}

	var created bool
	err = s.db.Update(func(tx *bbolt.Tx) error {
		var err error
		created, _, err = s.storeChannel(tx, ch)
		return err
	})
	if err != nil {
		return mo.Err[bool](fmt.Errorf("subscribe %s: %w", url, err))
	}

	s.logger.Info("subscribed", "url", url, "episodes", len(ch.Items), "new_feed", created)
	s.publish()
	return mo.Ok(created)
}

// storeChannel upserts the feed record and its episodes, returning whether
// the feed is new and how many episodes were added.
func (s *Store) storeChannel(tx *bbolt.Tx, ch feed.Channel) (bool, int, error) {
	fb := tx.Bucket(feedsBucket)
	eb := tx.Bucket(episodesBucket)

	f := Feed{URL: ch.URL, DownloadPolicy: PolicyLatest, SubscribedAt: s.opts.Now().Unix()}
	created := true
	if raw := fb.Get([]byte(ch.URL)); raw != nil {
		created = false
		if err := json.Unmarshal(raw, &f); err != nil {
			return false, 0, fmt.Errorf("error deserializing feed: %w", err)
		}
	}
	f.Title = ch.Title
	f.ImageURL = ch.ImageURL
	if err := putJSON(fb, []byte(f.URL), f); err != nil {
		return false, 0, err
	}

	added := 0
	for _, it := range ch.Items {
		remote := episodeFromItem(ch, it)
		if raw := eb.Get([]byte(remote.ID)); raw != nil {
			var local Episode
			if err := json.Unmarshal(raw, &local); err != nil {
				return false, 0, fmt.Errorf("error deserializing episode: %w", err)
			}
			remote = mergeRemote(local, remote)
		} else {
			added++
		}
		if err := putJSON(eb, []byte(remote.ID), remote); err != nil {
			return false, 0, err
		}
	}
	return created, added, nil
}

// Sync refreshes every subscription and returns the number of new episodes.
// Failures of individual feeds are joined into the returned error.
func (s *Store) Sync(ctx context.Context) (int, error) {
	feeds, err := s.Feeds()
	if err != nil {
		return 0, err
	}

	total := 0
	var errs []error
	for _, f := range feeds {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		ch, err := s.opts.Source.Load(ctx, f.URL)
		if err != nil {
			s.logger.Warn("sync failed", "url", f.URL, "error", err)
			errs = append(errs, fmt.Errorf("sync %s: %w", f.URL, err))
			continue
		}
		err = s.db.Update(func(tx *bbolt.Tx) error {
			_, added, err := s.storeChannel(tx, ch)
			total += added
			return err
		})
		if err != nil {
			errs = append(errs, err)
		}
	}

	s.publish()
	return total, errors.Join(errs...)
}

// Unsubscribe removes the feed, its episodes and any downloaded files.
func (s *Store) Unsubscribe(url string) error {
	var files []string
	err := s.db.Update(func(tx *bbolt.Tx) error {
		fb := tx.Bucket(feedsBucket)
		if fb.Get([]byte(url)) == nil {
			return fmt.Errorf("feed %s: %w", url, ErrNotFound)
		}
		if err := fb.Delete([]byte(url)); err != nil {
			return err
		}

		eb := tx.Bucket(episodesBucket)
		var doomed [][]byte
		err := eb.ForEach(func(k, v []byte) error {
			var e Episode
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.FeedURL == url {
				doomed = append(doomed, append([]byte(nil), k...))
				if e.Downloaded && e.LocalPath != "" {
					files = append(files, e.LocalPath)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range doomed {
			if err := eb.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, f := range files {
		if err := s.opts.Fs.Remove(f); err != nil {
			s.logger.Warn("could not remove download", "path", f, "error", err)
		}
	}
	s.publish()
	return nil
}

// SetDownloadPolicy changes the auto-download policy of a feed.
func (s *Store) SetDownloadPolicy(url string, p Policy) error {
	if !ValidPolicy(p) {
		return fmt.Errorf("unknown download policy %q", p)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		fb := tx.Bucket(feedsBucket)
		raw := fb.Get([]byte(url))
		if raw == nil {
			return fmt.Errorf("feed %s: %w", url, ErrNotFound)
		}
		var f Feed
		if err := json.Unmarshal(raw, &f); err != nil {
			return err
		}
		f.DownloadPolicy = p
		return putJSON(fb, []byte(url), f)
	})
}

// AutoDownloadCandidates applies each feed's policy to the current library.
func (s *Store) AutoDownloadCandidates() ([]string, error) {
	feeds, err := s.Feeds()
	if err != nil {
		return nil, err
	}
	policies := lo.SliceToMap(feeds, func(f Feed) (string, Policy) { return f.URL, f.DownloadPolicy })
	return DownloadCandidates(s.Library(), policies), nil
}

// ============================================================================
// Episode mutations
// ============================================================================

// Episode looks up a single episode.
func (s *Store) Episode(id string) mo.Option[Episode] {
	var e Episode
	found := false
	_ = s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(episodesBucket).Get([]byte(id))
		if raw == nil {
			return nil
		}
		found = json.Unmarshal(raw, &e) == nil
		return nil
	})
	if !found {
		return mo.None[Episode]()
	}
	return mo.Some(e)
}

// LastPlayed returns the most recently played episode, if any.
func (s *Store) LastPlayed() mo.Option[Episode] {
	played := lo.Filter(s.Library(), func(e Episode, _ int) bool { return e.LastPlayed > 0 })
	if len(played) == 0 {
		return mo.None[Episode]()
	}
	return mo.Some(lo.MaxBy(played, func(a, b Episode) bool { return a.LastPlayed > b.LastPlayed }))
}

// UpdateProgress saves the playback position and marks the episode played now.
func (s *Store) UpdateProgress(id string, positionMs int64) error {
	now := s.opts.Now().UnixMilli()
	return s.mutate([]string{id}, func(e *Episode) {
		e.ProgressMs = max(positionMs, 0)
		e.LastPlayed = now
	})
}

// AddToQueue appends the episode to the end of the queue.
func (s *Store) AddToQueue(id string) error {
	order := s.opts.Now().UnixNano()
	return s.mutate([]string{id}, func(e *Episode) {
		e.InQueue = true
		e.QueueOrder = order
	})
}

// RemoveFromQueue takes the episode out of the queue.
func (s *Store) RemoveFromQueue(id string) error {
	return s.mutate([]string{id}, func(e *Episode) {
		e.InQueue = false
		e.QueueOrder = 0
	})
}

// MarkPlayed sets the progress of every id to its duration.
func (s *Store) MarkPlayed(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.mutate(ids, func(e *Episode) {
		e.ProgressMs = e.DurationMs
	})
}

// MarkOlderPlayed marks every unfinished episode of ref's feed published
// before ref as played and returns their ids.
func (s *Store) MarkOlderPlayed(refID string) ([]string, error) {
	ref, ok := s.Episode(refID).Get()
	if !ok {
		return nil, fmt.Errorf("episode %s: %w", refID, ErrNotFound)
	}
	siblings := lo.Filter(s.Library(), func(e Episode, _ int) bool { return e.FeedURL == ref.FeedURL })
	ids := ArchiveCandidates(ref, siblings)
	return ids, s.MarkPlayed(ids)
}

func (s *Store) mutate(ids []string, fn func(*Episode)) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		eb := tx.Bucket(episodesBucket)
		for _, id := range ids {
			raw := eb.Get([]byte(id))
			if raw == nil {
				return fmt.Errorf("episode %s: %w", id, ErrNotFound)
			}
			var e Episode
			if err := json.Unmarshal(raw, &e); err != nil {
				return fmt.Errorf("error deserializing episode: %w", err)
			}
			fn(&e)
			if err := putJSON(eb, []byte(id), e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.publish()
	return nil
}

func putJSON(b *bbolt.Bucket, key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("error serializing %s: %w", key, err)
	}
	return b.Put(key, raw)
}
