package app

import (
	"fmt"

	"podloop/internal/library"
)

// Effect is asynchronous work requested by Reduce. Effects run outside the
// run loop and report back by dispatching new actions.
type Effect interface {
	effectMarker()
	String() string
}

// EffPlay hands an episode to the playback controller.
type EffPlay struct {
	Episode library.Episode
}

type EffTogglePlay struct{}

type EffSeek struct {
	PositionMs int64
}

type EffSkip struct {
	Seconds int
}

type EffSetSpeed struct {
	Speed float64
}

type EffStartSleepTimer struct {
	Minutes int
}

// EffSubscribe subscribes through the library. Index and Epoch locate the
// history entry to roll back to; the Store fills them after recording.
type EffSubscribe struct {
	FeedURL string
	Title   string
	Index   int
	Epoch   int
}

type EffAddToQueue struct {
	ID string
}

type EffRemoveFromQueue struct {
	ID string
}

type EffDownload struct {
	ID string
}

type EffUnsubscribe struct {
	FeedURL string
}

type EffResumeLastPlayed struct{}

type EffSync struct{}

type EffMarkOlderPlayed struct {
	ID string
}

// EffSaveProgress persists a playback position. It is produced by the
// Store's playback fold, not by Reduce.
type EffSaveProgress struct {
	ID         string
	PositionMs int64
}

func (EffPlay) effectMarker()             {}
func (EffTogglePlay) effectMarker()       {}
func (EffSeek) effectMarker()             {}
func (EffSkip) effectMarker()             {}
func (EffSetSpeed) effectMarker()         {}
func (EffStartSleepTimer) effectMarker()  {}
func (EffSubscribe) effectMarker()        {}
func (EffAddToQueue) effectMarker()       {}
func (EffRemoveFromQueue) effectMarker()  {}
func (EffDownload) effectMarker()         {}
func (EffUnsubscribe) effectMarker()      {}
func (EffResumeLastPlayed) effectMarker() {}
func (EffSync) effectMarker()             {}
func (EffMarkOlderPlayed) effectMarker()  {}
func (EffSaveProgress) effectMarker()     {}

func (e EffPlay) String() string        { return fmt.Sprintf("EffPlay(id=%s)", e.Episode.ID) }
func (EffTogglePlay) String() string    { return "EffTogglePlay()" }
func (e EffSeek) String() string        { return fmt.Sprintf("EffSeek(ms=%d)", e.PositionMs) }
func (e EffSkip) String() string        { return fmt.Sprintf("EffSkip(s=%d)", e.Seconds) }
func (e EffSetSpeed) String() string    { return fmt.Sprintf("EffSetSpeed(x=%.2f)", e.Speed) }
func (e EffStartSleepTimer) String() string {
	return fmt.Sprintf("EffStartSleepTimer(min=%d)", e.Minutes)
}
func (e EffSubscribe) String() string {
	return fmt.Sprintf("EffSubscribe(url=%s, index=%d, epoch=%d)", e.FeedURL, e.Index, e.Epoch)
}
func (e EffAddToQueue) String() string      { return fmt.Sprintf("EffAddToQueue(id=%s)", e.ID) }
func (e EffRemoveFromQueue) String() string { return fmt.Sprintf("EffRemoveFromQueue(id=%s)", e.ID) }
func (e EffDownload) String() string        { return fmt.Sprintf("EffDownload(id=%s)", e.ID) }
func (e EffUnsubscribe) String() string     { return fmt.Sprintf("EffUnsubscribe(url=%s)", e.FeedURL) }
func (EffResumeLastPlayed) String() string  { return "EffResumeLastPlayed()" }
func (EffSync) String() string              { return "EffSync()" }
func (e EffMarkOlderPlayed) String() string { return fmt.Sprintf("EffMarkOlderPlayed(id=%s)", e.ID) }
func (e EffSaveProgress) String() string {
	return fmt.Sprintf("EffSaveProgress(id=%s, ms=%d)", e.ID, e.PositionMs)
}

// NotificationKind distinguishes informational messages from errors.
type NotificationKind string

const (
	KindMessage NotificationKind = "message"
	KindError   NotificationKind = "error"
)

// Notification is a dismissible user-facing message.
type Notification struct {
	Kind NotificationKind `json:"kind"`
	Text string           `json:"text"`
}

// ShowMessage is an informational notification.
func ShowMessage(text string) Notification {
	return Notification{Kind: KindMessage, Text: text}
}

// ShowError is an error notification.
func ShowError(text string) Notification {
	return Notification{Kind: KindError, Text: text}
}
