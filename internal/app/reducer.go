package app

import (
	"fmt"
	"slices"
	"strings"

	"github.com/samber/lo"

	"podloop/internal/library"
)

const placeholderPrefix = "pending:"

// Result is the outcome of reducing one action.
type Result struct {
	State         State
	Effects       []Effect
	Notifications []Notification

	// Unhandled is set for actions Reduce has no case for.
	Unhandled bool
}

// Reduce computes the next state for a. It performs no I/O.
// Invalid requests (pop at the root, unknown screens, duplicate
// subscriptions) leave the state unchanged.
func Reduce(s State, a Action) Result {
	r := Result{State: s}

	switch a := a.(type) {
	case Navigate:
		if !a.Screen.Valid() || s.Top() == a.Screen {
			break
		}
		r.State.Stack = append(slices.Clone(s.Stack), a.Screen)

	case Pop:
		if len(s.Stack) <= 1 {
			break
		}
		r.State.Stack = slices.Clone(s.Stack[:len(s.Stack)-1])

	case SetPlayerOpen:
		r.State.PlayerOpen = a.Open

	case SetCarMode:
		r.State.CarMode = a.Enabled

	case SetFilter:
		label := strings.TrimSpace(a.Label)
		if label == "" {
			label = FilterAll
		}
		r.State.Filter = label

	case PlayItem:
		ep, ok := s.find(a.ID)
		if !ok {
			r.Notifications = append(r.Notifications, ShowError(fmt.Sprintf("Episode %s not found", a.ID)))
			break
		}
		r.State.Current = &ep
		r.State.Colors = DeriveColors(ep.ImageURL)
		r.Effects = append(r.Effects, EffPlay{Episode: ep})

	case TogglePlay:
		r.Effects = append(r.Effects, EffTogglePlay{})

	case Seek:
		r.Effects = append(r.Effects, EffSeek{PositionMs: a.PositionMs})

	case Skip:
		if a.Seconds != 0 {
			r.Effects = append(r.Effects, EffSkip{Seconds: a.Seconds})
		}

	case SetSpeed:
		r.Effects = append(r.Effects, EffSetSpeed{Speed: a.Speed})

	case StartSleepTimer:
		r.Effects = append(r.Effects, EffStartSleepTimer{Minutes: a.Minutes})

	case Subscribe:
		r = reduceSubscribe(s, a)

	case SubscribeSucceeded:
		r.State.Optimistic = withoutFeed(s.Optimistic, a.FeedURL)
		r.Notifications = append(r.Notifications, ShowMessage("Subscribed to "+lo.CoalesceOrEmpty(a.Title, a.FeedURL)))

	case Rollback:
		r.State.Optimistic = withoutFeed(s.Optimistic, a.FeedURL)
		r.Notifications = append(r.Notifications, ShowError(a.Message))

	case LibraryUpdated:
		r.State = foldLibrary(s, a.Items)

	case AddToQueue:
		r.Effects = append(r.Effects, EffAddToQueue{ID: a.ID})

	case RemoveFromQueue:
		r.Effects = append(r.Effects, EffRemoveFromQueue{ID: a.ID})

	case Download:
		if slices.Contains(s.Downloading, a.ID) {
			break
		}
		if ep, ok := s.find(a.ID); ok && ep.Downloaded {
			break
		}
		r.State.Downloading = append(slices.Clone(s.Downloading), a.ID)
		r.Effects = append(r.Effects, EffDownload{ID: a.ID})

	case DownloadFinished:
		r.State.Downloading = without(s.Downloading, a.ID)
		title := a.ID
		if ep, ok := s.find(a.ID); ok {
			title = ep.EpisodeTitle
		}
		r.Notifications = append(r.Notifications, ShowMessage("Downloaded "+title))

	case DownloadFailed:
		r.State.Downloading = without(s.Downloading, a.ID)
		r.Notifications = append(r.Notifications, ShowError(a.Message))

	case Unsubscribe:
		r.Effects = append(r.Effects, EffUnsubscribe{FeedURL: a.FeedURL})

	case ResumeLastPlayed:
		r.Effects = append(r.Effects, EffResumeLastPlayed{})

	case SyncFeeds:
		if s.Syncing {
			break
		}
		r.State.Syncing = true
		r.Effects = append(r.Effects, EffSync{})

	case SyncFinished:
		r.State.Syncing = false
		if a.Message != "" {
			r.Notifications = append(r.Notifications, ShowError(a.Message))
		} else {
			r.Notifications = append(r.Notifications, ShowMessage(fmt.Sprintf("%d new episodes", a.Added)))
		}

	case MarkOlderPlayed:
		r.Effects = append(r.Effects, EffMarkOlderPlayed{ID: a.ID})

	case Notify:
		if a.Error {
			r.Notifications = append(r.Notifications, ShowError(a.Text))
		} else {
			r.Notifications = append(r.Notifications, ShowMessage(a.Text))
		}

	default:
		r.Unhandled = true
	}

	if len(r.State.Stack) == 0 {
		panic(fmt.Sprintf("app: navigation stack emptied by %T", a))
	}
	return r
}

func reduceSubscribe(s State, a Subscribe) Result {
	r := Result{State: s}
	url := strings.TrimSpace(a.FeedURL)
	switch {
	case url == "":
		r.Notifications = append(r.Notifications, ShowError("Feed URL is required"))
		return r
	case s.pending(url):
		return r
	case s.subscribed(url):
		r.Notifications = append(r.Notifications, ShowMessage("Already subscribed to "+lo.CoalesceOrEmpty(a.Title, url)))
		return r
	}

	placeholder := library.Episode{
		ID:           placeholderPrefix + url,
		Title:        lo.CoalesceOrEmpty(a.Title, url),
		EpisodeTitle: "Subscribing…",
		ImageURL:     a.Artwork,
		FeedURL:      url,
	}
	r.State.Optimistic = append(slices.Clone(s.Optimistic), placeholder)
	r.Effects = append(r.Effects, EffSubscribe{FeedURL: url, Title: a.Title})
	return r
}

// foldLibrary replaces the library and drops placeholders whose feed has
// been persisted. The current episode is refreshed from the new list.
func foldLibrary(s State, items []library.Episode) State {
	next := s
	next.Library = slices.Clone(items)

	persisted := lo.SliceToMap(items, func(e library.Episode) (string, struct{}) { return e.FeedURL, struct{}{} })
	if slices.ContainsFunc(s.Optimistic, func(e library.Episode) bool { _, ok := persisted[e.FeedURL]; return ok }) {
		next.Optimistic = lo.Filter(s.Optimistic, func(e library.Episode, _ int) bool {
			_, ok := persisted[e.FeedURL]
			return !ok
		})
	}

	if s.Current != nil {
		if ep, ok := next.find(s.Current.ID); ok && ep != *s.Current {
			next.Current = &ep
		}
	}
	return next
}

func withoutFeed(eps []library.Episode, feedURL string) []library.Episode {
	if !slices.ContainsFunc(eps, func(e library.Episode) bool { return e.FeedURL == feedURL }) {
		return eps
	}
	return lo.Filter(eps, func(e library.Episode, _ int) bool { return e.FeedURL != feedURL })
}

func without(ids []string, id string) []string {
	if !slices.Contains(ids, id) {
		return ids
	}
	return lo.Without(ids, id)
}

// IsPlaceholder reports whether e is an optimistic entry.
func IsPlaceholder(e library.Episode) bool {
	return strings.HasPrefix(e.ID, placeholderPrefix)
}
