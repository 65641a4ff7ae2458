package statews

import (
	"context"
	"log/slog"
	"time"

	"podloop/internal/app"
)

// DefaultCoalesceWindow is the maximum rate of position-only state frames.
const DefaultCoalesceWindow = 250 * time.Millisecond

// positionOnly reports whether next differs from prev only in playback
// position and amplitude.
func positionOnly(prev, next app.State) bool {
	prev.Playback.PositionMs = next.Playback.PositionMs
	prev.Playback.Amplitude = next.Playback.Amplitude
	return prev.Equal(next)
}

// RunBroadcaster turns state and notification streams into hub frames. It
// runs as a single goroutine until ctx ends or the state stream closes.
//
// State changes that only move the playback position are rate limited to
// one frame per window, latest wins. The timer is not reset by further
// updates, so a playing item still advances on screen. Any other change, and
// every notification, flushes the pending frame and goes out immediately.
func RunBroadcaster(ctx context.Context, hub *Hub, states <-chan app.State, notes <-chan app.Notification, window time.Duration, logger *slog.Logger) {
	if hub == nil || states == nil {
		return
	}
	if window <= 0 {
		window = DefaultCoalesceWindow
	}

	var (
		last     app.State
		haveLast bool
		pending  *app.State
		timer    *time.Timer
		timerCh  <-chan time.Time
	)

	send := func(typ string, data any) {
		msg, err := marshalFrame(typ, data, time.Now())
		if err != nil {
			logger.Warn("ws broadcaster marshal failed", "error", err, "type", typ)
			return
		}
		hub.BroadcastBytes(msg)
	}

	emit := func(s app.State) {
		last, haveLast = s, true
		send(TypeState, NewStateFrame(s))
	}

	flush := func() {
		if pending == nil {
			return
		}
		s := *pending
		pending = nil
		emit(s)
	}

	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timer, timerCh = nil, nil
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			stopTimer()
			return

		case <-timerCh:
			flush()
			stopTimer()

		case s, ok := <-states:
			if !ok {
				flush()
				stopTimer()
				logger.Info("ws broadcaster stopping (source ended)")
				return
			}
			if haveLast && positionOnly(last, s) {
				if last.Equal(s) {
					pending = nil
					continue
				}
				cp := s
				pending = &cp
				if timer == nil {
					timer = time.NewTimer(window)
					timerCh = timer.C
				}
				continue
			}
			pending = nil
			stopTimer()
			emit(s)

		case n, ok := <-notes:
			if !ok {
				notes = nil
				continue
			}
			flush()
			stopTimer()
			send(TypeNotification, n)
		}
	}
}
