package app

import "podloop/internal/playback"

// FoldPlayback projects an observed playback state into s. When the player
// reports a media id that is a known episode other than the current one,
// that episode becomes current.
func FoldPlayback(s State, p playback.State) State {
	next := s
	next.Playback = Playback{
		IsPlaying:  p.IsPlaying,
		PositionMs: p.PositionMs,
		DurationMs: p.DurationMs,
		Speed:      p.Speed,
		Amplitude:  p.Amplitude,
		MediaID:    p.MediaID,
	}

	if p.MediaID != "" && (s.Current == nil || s.Current.ID != p.MediaID) {
		if ep, ok := s.find(p.MediaID); ok {
			next.Current = &ep
			next.Colors = DeriveColors(ep.ImageURL)
		}
	}
	return next
}
