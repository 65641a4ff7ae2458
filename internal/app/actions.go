// Package app is the single-writer state engine: actions are reduced into
// immutable application states, recorded in a bounded history and turned
// into effects against the playback controller and the library.
package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"podloop/internal/library"
)

// ============================================================================
// Actions
// ============================================================================
// Actions describe what happened. They are produced by control surfaces
// (IPC, media keys, the shell) and by effects reporting their results, and
// are consumed only by the Store's run loop.
// ============================================================================

// Action is a closed set of intents understood by Reduce.
type Action interface {
	actionMarker()
	Kind() string
}

// Screen is one entry of the navigation stack.
type Screen string

const (
	ScreenHome        Screen = "home"
	ScreenLibrary     Screen = "library"
	ScreenInbox       Screen = "inbox"
	ScreenQueue       Screen = "queue"
	ScreenMarketplace Screen = "marketplace"
	ScreenSettings    Screen = "settings"
	ScreenEpisode     Screen = "episode"
)

// Valid reports whether s is a known screen.
func (s Screen) Valid() bool {
	switch s {
	case ScreenHome, ScreenLibrary, ScreenInbox, ScreenQueue, ScreenMarketplace, ScreenSettings, ScreenEpisode:
		return true
	}
	return false
}

// Navigate pushes a screen.
type Navigate struct {
	Screen Screen `json:"screen"`
}

// Pop returns to the previous screen.
type Pop struct{}

// SetPlayerOpen shows or hides the full player overlay.
type SetPlayerOpen struct {
	Open bool `json:"open"`
}

// SetCarMode toggles the simplified driving layout.
type SetCarMode struct {
	Enabled bool `json:"enabled"`
}

// SetFilter selects the library filter label.
type SetFilter struct {
	Label string `json:"label"`
}

// PlayItem starts the library episode with the given id.
type PlayItem struct {
	ID string `json:"id"`
}

type TogglePlay struct{}

type Seek struct {
	PositionMs int64 `json:"position_ms"`
}

type Skip struct {
	Seconds int `json:"seconds"`
}

type SetSpeed struct {
	Speed float64 `json:"speed"`
}

type StartSleepTimer struct {
	Minutes int `json:"minutes"`
}

// Subscribe optimistically adds a feed and subscribes to it in the background.
type Subscribe struct {
	FeedURL string `json:"feed_url"`
	Title   string `json:"title,omitempty"`
	Artwork string `json:"artwork,omitempty"`
}

// SubscribeSucceeded confirms a Subscribe.
type SubscribeSucceeded struct {
	FeedURL string `json:"feed_url"`
	Title   string `json:"title,omitempty"`
}

// Rollback reverts to history entry Index after a failed optimistic
// mutation. Epoch is the ledger eviction count when Index was captured.
type Rollback struct {
	Index   int    `json:"index"`
	Epoch   int    `json:"epoch"`
	FeedURL string `json:"feed_url,omitempty"`
	Message string `json:"message"`
}

// LibraryUpdated carries the persisted episode list.
type LibraryUpdated struct {
	Items []library.Episode `json:"items"`
}

type AddToQueue struct {
	ID string `json:"id"`
}

type RemoveFromQueue struct {
	ID string `json:"id"`
}

type Download struct {
	ID string `json:"id"`
}

type DownloadFinished struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

type DownloadFailed struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

type Unsubscribe struct {
	FeedURL string `json:"feed_url"`
}

// ResumeLastPlayed plays the most recently played episode.
type ResumeLastPlayed struct{}

// SyncFeeds refreshes every subscription and queues auto-downloads.
type SyncFeeds struct{}

type SyncFinished struct {
	Added   int    `json:"added"`
	Message string `json:"message,omitempty"`
}

// MarkOlderPlayed archives the unfinished episodes older than ID.
type MarkOlderPlayed struct {
	ID string `json:"id"`
}

// Notify surfaces a message without changing state.
type Notify struct {
	Text  string `json:"text"`
	Error bool   `json:"error,omitempty"`
}

func (Navigate) actionMarker()           {}
func (Pop) actionMarker()                {}
func (SetPlayerOpen) actionMarker()      {}
func (SetCarMode) actionMarker()         {}
func (SetFilter) actionMarker()          {}
func (PlayItem) actionMarker()           {}
func (TogglePlay) actionMarker()         {}
func (Seek) actionMarker()               {}
func (Skip) actionMarker()               {}
func (SetSpeed) actionMarker()           {}
func (StartSleepTimer) actionMarker()    {}
func (Subscribe) actionMarker()          {}
func (SubscribeSucceeded) actionMarker() {}
func (Rollback) actionMarker()           {}
func (LibraryUpdated) actionMarker()     {}
func (AddToQueue) actionMarker()         {}
func (RemoveFromQueue) actionMarker()    {}
func (Download) actionMarker()           {}
func (DownloadFinished) actionMarker()   {}
func (DownloadFailed) actionMarker()     {}
func (Unsubscribe) actionMarker()        {}
func (ResumeLastPlayed) actionMarker()   {}
func (SyncFeeds) actionMarker()          {}
func (SyncFinished) actionMarker()       {}
func (MarkOlderPlayed) actionMarker()    {}
func (Notify) actionMarker()             {}

func (Navigate) Kind() string           { return "navigate" }
func (Pop) Kind() string                { return "pop" }
func (SetPlayerOpen) Kind() string      { return "set_player_open" }
func (SetCarMode) Kind() string         { return "set_car_mode" }
func (SetFilter) Kind() string          { return "set_filter" }
func (PlayItem) Kind() string           { return "play_item" }
func (TogglePlay) Kind() string         { return "toggle_play" }
func (Seek) Kind() string               { return "seek" }
func (Skip) Kind() string               { return "skip" }
func (SetSpeed) Kind() string           { return "set_speed" }
func (StartSleepTimer) Kind() string    { return "start_sleep_timer" }
func (Subscribe) Kind() string          { return "subscribe" }
func (SubscribeSucceeded) Kind() string { return "subscribe_succeeded" }
func (Rollback) Kind() string           { return "rollback" }
func (LibraryUpdated) Kind() string     { return "library_updated" }
func (AddToQueue) Kind() string         { return "add_to_queue" }
func (RemoveFromQueue) Kind() string    { return "remove_from_queue" }
func (Download) Kind() string           { return "download" }
func (DownloadFinished) Kind() string   { return "download_finished" }
func (DownloadFailed) Kind() string     { return "download_failed" }
func (Unsubscribe) Kind() string        { return "unsubscribe" }
func (ResumeLastPlayed) Kind() string   { return "resume_last_played" }
func (SyncFeeds) Kind() string          { return "sync_feeds" }
func (SyncFinished) Kind() string       { return "sync_finished" }
func (MarkOlderPlayed) Kind() string    { return "mark_older_played" }
func (Notify) Kind() string             { return "notify" }

// ============================================================================
// JSON Encoding/Decoding Support
// ============================================================================

// ActionEnvelope wraps an action with a type discriminator for JSON marshaling.
type ActionEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func decodeAs[T Action](data json.RawMessage) (Action, error) {
	var a T
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return a, nil
	}
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", a.Kind(), err)
	}
	return a, nil
}

// registry maps every action kind to its decoder. Registry entries are
// checked against Reduce in tests so a new variant cannot go unhandled.
var registry = map[string]func(json.RawMessage) (Action, error){
	Navigate{}.Kind():           decodeAs[Navigate],
	Pop{}.Kind():                decodeAs[Pop],
	SetPlayerOpen{}.Kind():      decodeAs[SetPlayerOpen],
	SetCarMode{}.Kind():         decodeAs[SetCarMode],
	SetFilter{}.Kind():          decodeAs[SetFilter],
	PlayItem{}.Kind():           decodeAs[PlayItem],
	TogglePlay{}.Kind():         decodeAs[TogglePlay],
	Seek{}.Kind():               decodeAs[Seek],
	Skip{}.Kind():               decodeAs[Skip],
	SetSpeed{}.Kind():           decodeAs[SetSpeed],
	StartSleepTimer{}.Kind():    decodeAs[StartSleepTimer],
	Subscribe{}.Kind():          decodeAs[Subscribe],
	SubscribeSucceeded{}.Kind(): decodeAs[SubscribeSucceeded],
	Rollback{}.Kind():           decodeAs[Rollback],
	LibraryUpdated{}.Kind():     decodeAs[LibraryUpdated],
	AddToQueue{}.Kind():         decodeAs[AddToQueue],
	RemoveFromQueue{}.Kind():    decodeAs[RemoveFromQueue],
	Download{}.Kind():           decodeAs[Download],
	DownloadFinished{}.Kind():   decodeAs[DownloadFinished],
	DownloadFailed{}.Kind():     decodeAs[DownloadFailed],
	Unsubscribe{}.Kind():        decodeAs[Unsubscribe],
	ResumeLastPlayed{}.Kind():   decodeAs[ResumeLastPlayed],
	SyncFeeds{}.Kind():          decodeAs[SyncFeeds],
	SyncFinished{}.Kind():       decodeAs[SyncFinished],
	MarkOlderPlayed{}.Kind():    decodeAs[MarkOlderPlayed],
	Notify{}.Kind():             decodeAs[Notify],
}

// Kinds lists every registered action kind in sorted order.
func Kinds() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// NewAction decodes data as the action of the given kind.
func NewAction(kind string, data json.RawMessage) (Action, error) {
	dec, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("unknown action type: %q", kind)
	}
	return dec(data)
}

// UnmarshalAction deserializes a JSON action envelope into a concrete Action.
func UnmarshalAction(data []byte) (Action, error) {
	var env ActionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return NewAction(env.Type, env.Data)
}

// MarshalAction serializes an Action into a JSON envelope. Payload-free
// actions omit the data field.
func MarshalAction(a Action) ([]byte, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", a.Kind(), err)
	}
	env := ActionEnvelope{Type: a.Kind()}
	if !bytes.Equal(data, []byte("{}")) {
		env.Data = data
	}
	return json.Marshal(env)
}
