package app

import (
	"context"
	"fmt"
	"sync"

	"podloop/internal/library"
	"podloop/internal/playback"
)

// effectQueue is an unbounded FIFO so the run loop never blocks on effects.
type effectQueue struct {
	mu     sync.Mutex
	items  []Effect
	closed bool
	signal chan struct{}
}

func newEffectQueue() *effectQueue {
	return &effectQueue{signal: make(chan struct{}, 1)}
}

func (q *effectQueue) push(e Effect) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, e)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *effectQueue) pop() (Effect, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	e := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return e, true
}

func (q *effectQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
}

// runEffects executes effects one at a time in the order they were queued.
// Network-bound effects are started on their own goroutines and report back
// through Dispatch.
func (s *Store) runEffects(ctx context.Context) {
	for {
		for {
			eff, ok := s.effects.pop()
			if !ok {
				break
			}
			s.runEffect(ctx, eff)
		}
		select {
		case <-ctx.Done():
			return
		case <-s.effects.signal:
		}
	}
}

func (s *Store) runEffect(ctx context.Context, eff Effect) {
	switch e := eff.(type) {
	case EffPlay:
		s.playback.Play(mediaFor(e.Episode))

	case EffTogglePlay:
		s.playback.TogglePlay()

	case EffSeek:
		s.playback.SeekTo(e.PositionMs)

	case EffSkip:
		s.playback.Skip(e.Seconds)

	case EffSetSpeed:
		s.playback.SetSpeed(e.Speed)

	case EffStartSleepTimer:
		s.playback.StartSleepTimer(e.Minutes)

	case EffSubscribe:
		s.async(func() {
			if _, err := s.lib.Subscribe(ctx, e.FeedURL).Get(); err != nil {
				s.report(Rollback{Index: e.Index, Epoch: e.Epoch, FeedURL: e.FeedURL, Message: err.Error()})
				return
			}
			s.report(SubscribeSucceeded{FeedURL: e.FeedURL, Title: e.Title})
		})

	case EffDownload:
		s.async(func() {
			path, err := s.lib.Download(ctx, e.ID).Get()
			if err != nil {
				s.report(DownloadFailed{ID: e.ID, Message: err.Error()})
				return
			}
			s.report(DownloadFinished{ID: e.ID, Path: path})
		})

	case EffSync:
		s.async(func() {
			added, err := s.lib.Sync(ctx)
			if ids, cerr := s.lib.AutoDownloadCandidates(); cerr == nil {
				for _, id := range ids {
					s.report(Download{ID: id})
				}
			} else {
				s.logger.Warn("auto-download candidates failed", "error", cerr)
			}
			done := SyncFinished{Added: added}
			if err != nil {
				done.Message = err.Error()
			}
			s.report(done)
		})

	case EffAddToQueue:
		s.reportErr(s.lib.AddToQueue(e.ID), "add to queue")

	case EffRemoveFromQueue:
		s.reportErr(s.lib.RemoveFromQueue(e.ID), "remove from queue")

	case EffUnsubscribe:
		if err := s.lib.Unsubscribe(e.FeedURL); err != nil {
			s.reportErr(err, "unsubscribe")
			return
		}
		s.report(Notify{Text: "Unsubscribed from " + e.FeedURL})

	case EffResumeLastPlayed:
		ep, ok := s.lib.LastPlayed().Get()
		if !ok {
			s.report(Notify{Text: "Nothing to resume"})
			return
		}
		s.report(PlayItem{ID: ep.ID})

	case EffMarkOlderPlayed:
		ids, err := s.lib.MarkOlderPlayed(e.ID)
		if err != nil {
			s.reportErr(err, "mark older played")
			return
		}
		s.report(Notify{Text: fmt.Sprintf("Marked %d episodes as played", len(ids))})

	case EffSaveProgress:
		if err := s.lib.UpdateProgress(e.ID, e.PositionMs); err != nil {
			s.logger.Warn("save progress failed", "id", e.ID, "error", err)
		}

	default:
		s.logger.Warn("unknown effect", "effect", eff.String())
	}
}

func (s *Store) async(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *Store) report(a Action) {
	if err := s.Dispatch(a); err != nil {
		s.logger.Debug("effect result dropped", "kind", a.Kind(), "error", err)
	}
}

func (s *Store) reportErr(err error, what string) {
	if err == nil {
		return
	}
	s.logger.Warn(what+" failed", "error", err)
	s.report(Notify{Text: fmt.Sprintf("Could not %s: %v", what, err), Error: true})
}

// mediaFor resumes unfinished episodes from their saved progress.
func mediaFor(ep library.Episode) playback.Media {
	m := playback.Media{
		ID:         ep.ID,
		URL:        ep.PlaybackURL(),
		Title:      ep.EpisodeTitle,
		Artist:     ep.Title,
		ArtworkURL: ep.ImageURL,
	}
	if !ep.Finished() {
		m.StartMs = ep.ProgressMs
	}
	return m
}
