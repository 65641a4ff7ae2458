package playback

import (
	"context"
	"errors"
	"sync"
)

// ErrReleased is returned by Attach once the handle has been released.
var ErrReleased = errors.New("playback: player handle released")

// Media is a playable item as the external player sees it.
type Media struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
	Artist     string `json:"artist,omitempty"`
	ArtworkURL string `json:"artwork_url,omitempty"`

	// StartMs is the saved progress to resume from when the item is switched to.
	StartMs int64 `json:"start_ms,omitempty"`
}

// Notification is a push message from the external player.
type Notification interface {
	notificationMarker()
}

// PlayingNotification reports a play/pause change.
type PlayingNotification struct {
	Playing bool
}

// MediaTransition reports that the player switched to a different media item.
type MediaTransition struct {
	MediaID string
}

// SpeedNotification reports a playback rate change.
type SpeedNotification struct {
	Speed float64
}

func (PlayingNotification) notificationMarker() {}
func (MediaTransition) notificationMarker()     {}
func (SpeedNotification) notificationMarker()   {}

// Player is the external, single-instance media player.
//
// Commands may block on I/O and take a context. Queries must be cheap and
// non-blocking; they report the player's last known values.
type Player interface {
	SetMedia(ctx context.Context, m Media) error
	Prepare(ctx context.Context) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	SeekTo(ctx context.Context, ms int64) error
	SetSpeed(ctx context.Context, speed float64) error

	CurrentPosition() int64
	Duration() int64
	IsPlaying() bool
	CurrentMediaID() string
	Speed() float64

	// Notifications is closed when the player goes away.
	Notifications() <-chan Notification

	Close() error
}

// AmplitudeMeter is implemented by players that can report an output level.
type AmplitudeMeter interface {
	Amplitude() float64
}

// Sample is a point-in-time read of the player's queries. The zero value is
// what an absent player reports.
type Sample struct {
	PositionMs int64
	DurationMs int64
	Playing    bool
	MediaID    string
	Speed      float64
	Amplitude  float64
}

// Handle owns the connection to the external player.
//
// The player is attached once it is reachable and released exactly once on
// shutdown. While no player is attached, Current reports false and Sample
// returns zero values.
type Handle struct {
	mu       sync.RWMutex
	p        Player
	released bool
}

// NewHandle returns an empty handle.
func NewHandle() *Handle {
	return &Handle{}
}

// Attach installs p as the current player. A previously attached player is
// closed.
func (h *Handle) Attach(p Player) error {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return ErrReleased
	}
	prev := h.p
	h.p = p
	h.mu.Unlock()

	if prev != nil && prev != p {
		_ = prev.Close()
	}
	return nil
}

// Detach removes p if it is still the current player. It does not close p.
func (h *Handle) Detach(p Player) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.p != p || p == nil {
		return false
	}
	h.p = nil
	return true
}

// Current returns the attached player.
func (h *Handle) Current() (Player, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.p, h.p != nil
}

// Sample reads every query of the attached player.
func (h *Handle) Sample() Sample {
	p, ok := h.Current()
	if !ok {
		return Sample{}
	}
	s := Sample{
		PositionMs: p.CurrentPosition(),
		DurationMs: p.Duration(),
		Playing:    p.IsPlaying(),
		MediaID:    p.CurrentMediaID(),
		Speed:      p.Speed(),
	}
	if m, ok := p.(AmplitudeMeter); ok {
		s.Amplitude = m.Amplitude()
	}
	return s
}

// Released reports whether Release has been called.
func (h *Handle) Released() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.released
}

// Release closes the attached player. Only the first call does any work;
// later calls return nil.
func (h *Handle) Release() error {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return nil
	}
	h.released = true
	p := h.p
	h.p = nil
	h.mu.Unlock()

	if p == nil {
		return nil
	}
	return p.Close()
}
