package playback

import (
	"sync"
	"time"
)

// Desired is the caller's intent for the external player.
type Desired struct {
	Playing bool   `json:"playing"`
	Media   *Media `json:"media,omitempty"`

	// Seek is a one-shot absolute target. A newer seek overwrites an older one.
	Seek *int64 `json:"seek,omitempty"`

	// RewindMs is a one-shot relative rewind applied when no Seek is pending.
	RewindMs int64 `json:"rewind_ms,omitempty"`

	Speed float64 `json:"speed"`
}

func (d Desired) clone() Desired {
	if d.Media != nil {
		m := *d.Media
		d.Media = &m
	}
	if d.Seek != nil {
		s := *d.Seek
		d.Seek = &s
	}
	return d
}

// desiredCell is the single mutable desired-state cell.
//
// Intent setters write it; the reconciler reads it and clears the one-shot
// fields through take. Both happen under the same lock, so a pass never sees
// a half-written seek and the latest seek always wins.
type desiredCell struct {
	mu       sync.Mutex
	d        Desired
	pausedAt time.Time
}

func newDesiredCell() *desiredCell {
	return &desiredCell{d: Desired{Speed: 1}}
}

func (c *desiredCell) snapshot() Desired {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.d.clone()
}

// take returns the current intent and clears Seek and RewindMs.
func (c *desiredCell) take() Desired {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.d.clone()
	c.d.Seek = nil
	c.d.RewindMs = 0
	return out
}

// restoreSeek puts back a seek whose command failed, unless a newer seek has
// been set since it was taken.
func (c *desiredCell) restoreSeek(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.d.Seek == nil {
		c.d.Seek = &ms
	}
}

// restoreRewind puts back a rewind whose seek failed. A seek or rewind set
// since it was taken wins.
func (c *desiredCell) restoreRewind(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.d.Seek == nil && c.d.RewindMs == 0 {
		c.d.RewindMs = ms
	}
}

func (c *desiredCell) play(m Media) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switching := c.d.Media == nil || c.d.Media.ID != m.ID
	c.d.Playing = true
	c.d.Media = &m
	if switching {
		c.d.Seek = nil
		c.d.RewindMs = 0
		if m.StartMs > 0 {
			start := m.StartMs
			c.d.Seek = &start
		}
	}
	c.pausedAt = time.Time{}
}

func (c *desiredCell) pause(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pauseLocked(now)
}

func (c *desiredCell) pauseLocked(now time.Time) {
	if c.d.Playing || c.pausedAt.IsZero() {
		c.pausedAt = now
	}
	c.d.Playing = false
}

func (c *desiredCell) resume(now time.Time, after, rewind time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resumeLocked(now, after, rewind)
}

func (c *desiredCell) resumeLocked(now time.Time, after, rewind time.Duration) {
	if c.d.Playing {
		return
	}
	c.d.Playing = true
	if !c.pausedAt.IsZero() && after > 0 && now.Sub(c.pausedAt) > after && c.d.Seek == nil {
		c.d.RewindMs = rewind.Milliseconds()
	}
	c.pausedAt = time.Time{}
}

// toggle flips the desired playing flag and reports the new value. It reads
// the intent, not the player, so a fast double toggle cancels out.
func (c *desiredCell) toggle(now time.Time, after, rewind time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.d.Playing {
		c.pauseLocked(now)
	} else {
		c.resumeLocked(now, after, rewind)
	}
	return c.d.Playing
}

func (c *desiredCell) seek(ms int64) {
	if ms < 0 {
		ms = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.d.Seek = &ms
	c.d.RewindMs = 0
}

func (c *desiredCell) setSpeed(x float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.d.Speed = x
}
