package app

import (
	"slices"

	"podloop/internal/library"
)

// Playback mirrors the observed player state. It is written only by
// FoldPlayback.
type Playback struct {
	IsPlaying  bool    `json:"is_playing"`
	PositionMs int64   `json:"position_ms"`
	DurationMs int64   `json:"duration_ms"`
	Speed      float64 `json:"speed"`
	Amplitude  float64 `json:"amplitude"`
	MediaID    string  `json:"media_id"`
}

// Colors are derived from the current episode's artwork.
type Colors struct {
	Primary    string `json:"primary"`
	Accent     string `json:"accent"`
	Background string `json:"background"`
}

// State is an immutable application snapshot. Reduce never modifies the
// slices of a State it was given; it builds new ones.
type State struct {
	Stack      []Screen          `json:"stack"`
	PlayerOpen bool              `json:"player_open"`
	CarMode    bool              `json:"car_mode"`
	Filter     string            `json:"filter"`
	Library    []library.Episode `json:"library"`
	Optimistic []library.Episode `json:"optimistic"`
	Current    *library.Episode  `json:"current,omitempty"`
	Playback   Playback          `json:"playback"`
	Colors     Colors            `json:"colors"`

	Downloading []string `json:"downloading"`
	Syncing     bool     `json:"syncing"`
}

// InitialState is the root screen with nothing loaded.
func InitialState() State {
	return State{
		Stack:    []Screen{ScreenHome},
		Filter:   FilterAll,
		Playback: Playback{DurationMs: 1, Speed: 1},
		Colors:   DeriveColors(""),
	}
}

// Top is the active screen.
func (s State) Top() Screen {
	return s.Stack[len(s.Stack)-1]
}

// Equal compares states structurally.
func (s State) Equal(o State) bool {
	if s.PlayerOpen != o.PlayerOpen || s.CarMode != o.CarMode || s.Filter != o.Filter ||
		s.Playback != o.Playback || s.Colors != o.Colors || s.Syncing != o.Syncing {
		return false
	}
	if (s.Current == nil) != (o.Current == nil) {
		return false
	}
	if s.Current != nil && *s.Current != *o.Current {
		return false
	}
	return slices.Equal(s.Stack, o.Stack) &&
		slices.Equal(s.Library, o.Library) &&
		slices.Equal(s.Optimistic, o.Optimistic) &&
		slices.Equal(s.Downloading, o.Downloading)
}

func (s State) find(id string) (library.Episode, bool) {
	i := slices.IndexFunc(s.Library, func(e library.Episode) bool { return e.ID == id })
	if i < 0 {
		return library.Episode{}, false
	}
	return s.Library[i], true
}

func (s State) pending(feedURL string) bool {
	return slices.ContainsFunc(s.Optimistic, func(e library.Episode) bool { return e.FeedURL == feedURL })
}

func (s State) subscribed(feedURL string) bool {
	return slices.ContainsFunc(s.Library, func(e library.Episode) bool { return e.FeedURL == feedURL })
}
