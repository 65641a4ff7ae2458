package playback

// ============================================================================
// Playback events
// ============================================================================
// Events are observations about the external player. They are produced by the
// event source (player notifications) and the position poller, and consumed
// only by Reduce. The set is closed: every variant is declared in this file.
// ============================================================================

// Event is a marker interface for player observations.
type Event interface {
	eventMarker()
}

// IsPlayingChanged reports that the player started or stopped producing audio.
type IsPlayingChanged struct {
	Playing bool
}

// PositionUpdated is a position sample taken by the poller.
type PositionUpdated struct {
	PositionMs int64
	DurationMs int64
	Amplitude  float64
}

// MediaChanged reports a media-item transition.
type MediaChanged struct {
	MediaID    string
	DurationMs int64
}

// SpeedChanged reports a new playback rate.
type SpeedChanged struct {
	Speed float64
}

func (IsPlayingChanged) eventMarker() {}
func (PositionUpdated) eventMarker()  {}
func (MediaChanged) eventMarker()     {}
func (SpeedChanged) eventMarker()     {}
