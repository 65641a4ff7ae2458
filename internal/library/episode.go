// Package library persists subscriptions, episodes and the event log in a
// bbolt database and publishes the episode list as a replaying stream.
package library

import "podloop/internal/feed"

// Episode is a single playable item. All fields are comparable so that
// states holding episodes can be compared with ==.
type Episode struct {
	ID           string `json:"id"`
	Title        string `json:"title"` // show title
	EpisodeTitle string `json:"episode_title"`
	Description  string `json:"description"`
	ImageURL     string `json:"image_url"`
	AudioURL     string `json:"audio_url"`
	FeedURL      string `json:"feed_url"`
	DurationMs   int64  `json:"duration_ms"`
	PublishedAt  int64  `json:"published_at"` // unix seconds
	Downloaded   bool   `json:"downloaded"`
	LocalPath    string `json:"local_path,omitempty"`
	InQueue      bool   `json:"in_queue"`
	QueueOrder   int64  `json:"queue_order"`
	ProgressMs   int64  `json:"progress_ms"`
	LastPlayed   int64  `json:"last_played"` // unix millis
}

// Unplayed reports whether playback has never started.
func (e Episode) Unplayed() bool { return e.ProgressMs == 0 }

// InProgress reports whether playback started but has not finished.
func (e Episode) InProgress() bool {
	return e.ProgressMs > 0 && (e.DurationMs == 0 || e.ProgressMs < e.DurationMs)
}

// Finished reports whether the saved progress reaches the duration.
func (e Episode) Finished() bool {
	return e.DurationMs > 0 && e.ProgressMs >= e.DurationMs
}

// PlaybackURL prefers the downloaded copy.
func (e Episode) PlaybackURL() string {
	if e.Downloaded && e.LocalPath != "" {
		return e.LocalPath
	}
	return e.AudioURL
}

// Policy selects which episodes of a feed are downloaded automatically.
type Policy string

const (
	PolicyLatest         Policy = "latest"
	PolicyOldestUnplayed Policy = "oldest_unplayed"
	PolicyNone           Policy = "none"
)

// Feed is a subscription.
type Feed struct {
	URL            string `json:"url"`
	Title          string `json:"title"`
	ImageURL       string `json:"image_url"`
	DownloadPolicy Policy `json:"download_policy"`
	SubscribedAt   int64  `json:"subscribed_at"`
}

func episodeFromItem(ch feed.Channel, it feed.Item) Episode {
	return Episode{
		ID:           it.ID,
		Title:        ch.Title,
		EpisodeTitle: it.Title,
		Description:  it.Description,
		ImageURL:     it.ImageURL,
		AudioURL:     it.AudioURL,
		FeedURL:      ch.URL,
		DurationMs:   it.DurationMs,
		PublishedAt:  it.PublishedAt,
	}
}

// mergeRemote refreshes feed-owned fields and keeps local playback state.
func mergeRemote(local, remote Episode) Episode {
	remote.Downloaded = local.Downloaded
	remote.LocalPath = local.LocalPath
	remote.InQueue = local.InQueue
	remote.QueueOrder = local.QueueOrder
	remote.ProgressMs = local.ProgressMs
	remote.LastPlayed = local.LastPlayed
	if remote.DurationMs == 0 {
		remote.DurationMs = local.DurationMs
	}
	return remote
}
