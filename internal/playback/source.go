package playback

import (
	"context"
	"sync"
	"time"
)

// translate maps a player notification to a playback event. Media transitions
// read the player's duration at the time of the transition.
func translate(n Notification, s Sample) (Event, bool) {
	switch v := n.(type) {
	case PlayingNotification:
		return IsPlayingChanged{Playing: v.Playing}, true
	case MediaTransition:
		return MediaChanged{MediaID: v.MediaID, DurationMs: s.DurationMs}, true
	case SpeedNotification:
		return SpeedChanged{Speed: v.Speed}, true
	default:
		return nil, false
	}
}

// forwardNotifications turns p's notification stream into events until the
// stream closes or ctx is canceled. It reports whether the stream closed.
func forwardNotifications(ctx context.Context, p Player, h *Handle, emit func(context.Context, Event) bool) bool {
	notes := p.Notifications()
	for {
		select {
		case <-ctx.Done():
			return false
		case n, ok := <-notes:
			if !ok {
				return true
			}
			ev, ok := translate(n, h.Sample())
			if !ok {
				continue
			}
			if !emit(ctx, ev) {
				return false
			}
		}
	}
}

// ============================================================================
// Position poller
// ============================================================================

// poller samples the player position at a fixed interval while playback is
// running. start and stop are idempotent. When stop returns, the sampling
// goroutine has exited and will emit nothing more.
type poller struct {
	interval time.Duration
	handle   *Handle
	emit     func(context.Context, Event) bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newPoller(interval time.Duration, handle *Handle, emit func(context.Context, Event) bool) *poller {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &poller{interval: interval, handle: handle, emit: emit}
}

func (p *poller) start(parent context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if ctx.Err() != nil {
					return
				}
				if !p.sampleOnce(ctx) {
					return
				}
			}
		}
	}()
}

func (p *poller) stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *poller) running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// sampleOnce emits one PositionUpdated if a player is attached. It returns
// false once ctx is done or the emitter has shut down.
func (p *poller) sampleOnce(ctx context.Context) bool {
	if _, ok := p.handle.Current(); !ok {
		return true
	}
	s := p.handle.Sample()
	return p.emit(ctx, PositionUpdated{
		PositionMs: s.PositionMs,
		DurationMs: s.DurationMs,
		Amplitude:  s.Amplitude,
	})
}
