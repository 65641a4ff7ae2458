package playback

// State is the observed state of the external player. It is produced only by
// Reduce and is never mutated by callers.
type State struct {
	IsPlaying  bool    `json:"is_playing"`
	DurationMs int64   `json:"duration_ms"`
	PositionMs int64   `json:"position_ms"`
	MediaID    string  `json:"media_id,omitempty"`
	Speed      float64 `json:"speed"`
	Amplitude  float64 `json:"amplitude"`
}

// InitialState is the state before any event has been observed.
func InitialState() State {
	return State{DurationMs: 1, Speed: 1}
}

// Reduce applies one event to the observed state.
//
// Each variant touches only its own fields. Duration never drops below 1 so
// progress ratios stay defined.
func Reduce(s State, e Event) State {
	switch ev := e.(type) {
	case IsPlayingChanged:
		s.IsPlaying = ev.Playing

	case PositionUpdated:
		s.PositionMs = ev.PositionMs
		s.DurationMs = clampDuration(ev.DurationMs)
		s.Amplitude = ev.Amplitude

	case MediaChanged:
		s.MediaID = ev.MediaID
		s.DurationMs = clampDuration(ev.DurationMs)

	case SpeedChanged:
		s.Speed = ev.Speed
	}
	return s
}

// ProgressRatio returns position/duration in [0,1].
func (s State) ProgressRatio() float64 {
	if s.DurationMs <= 0 {
		return 0
	}
	r := float64(s.PositionMs) / float64(s.DurationMs)
	switch {
	case r < 0:
		return 0
	case r > 1:
		return 1
	}
	return r
}

func clampDuration(ms int64) int64 {
	if ms < 1 {
		return 1
	}
	return ms
}
