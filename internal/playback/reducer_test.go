package playback

import "testing"

// TestReduce_Sequences tests event sequences against the expected observed state.
func TestReduce_Sequences(t *testing.T) {
	tests := []struct {
		name   string
		events []Event
		want   State
	}{
		{
			name: "media then play then position",
			events: []Event{
				MediaChanged{MediaID: "a", DurationMs: 60000},
				IsPlayingChanged{Playing: true},
				PositionUpdated{PositionMs: 30000, DurationMs: 60000, Amplitude: 0.5},
			},
			want: State{IsPlaying: true, DurationMs: 60000, PositionMs: 30000, MediaID: "a", Speed: 1, Amplitude: 0.5},
		},
		{
			name:   "zero duration clamps to one",
			events: []Event{MediaChanged{MediaID: "b", DurationMs: 0}},
			want:   State{DurationMs: 1, MediaID: "b", Speed: 1},
		},
		{
			name:   "negative duration in sample clamps to one",
			events: []Event{PositionUpdated{PositionMs: 5, DurationMs: -20}},
			want:   State{DurationMs: 1, PositionMs: 5, Speed: 1},
		},
		{
			name: "speed change leaves other fields alone",
			events: []Event{
				MediaChanged{MediaID: "c", DurationMs: 1000},
				IsPlayingChanged{Playing: true},
				SpeedChanged{Speed: 1.5},
			},
			want: State{IsPlaying: true, DurationMs: 1000, MediaID: "c", Speed: 1.5},
		},
		{
			name: "media change keeps position until sampled",
			events: []Event{
				PositionUpdated{PositionMs: 4000, DurationMs: 8000},
				MediaChanged{MediaID: "d", DurationMs: 9000},
			},
			want: State{DurationMs: 9000, PositionMs: 4000, MediaID: "d", Speed: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := InitialState()
			for _, ev := range tt.events {
				s = Reduce(s, ev)
			}
			if s != tt.want {
				t.Fatalf("got %+v, want %+v", s, tt.want)
			}
		})
	}
}

// TestReduce_Deterministic tests that the same (state, event) pair always yields the same state.
func TestReduce_Deterministic(t *testing.T) {
	start := State{IsPlaying: true, DurationMs: 500, PositionMs: 20, MediaID: "x", Speed: 2, Amplitude: 0.1}
	events := []Event{
		IsPlayingChanged{Playing: false},
		PositionUpdated{PositionMs: 100, DurationMs: 0, Amplitude: 0.9},
		MediaChanged{MediaID: "y", DurationMs: 42},
		SpeedChanged{Speed: 0.75},
	}
	for _, ev := range events {
		a := Reduce(start, ev)
		b := Reduce(start, ev)
		if a != b {
			t.Fatalf("reduce not deterministic for %T: %+v vs %+v", ev, a, b)
		}
		if a.DurationMs < 1 {
			t.Fatalf("duration dropped below 1 for %T: %+v", ev, a)
		}
	}
}

// TestState_ProgressRatio tests ratio bounds.
func TestState_ProgressRatio(t *testing.T) {
	if r := (State{PositionMs: 50, DurationMs: 100}).ProgressRatio(); r != 0.5 {
		t.Fatalf("expected 0.5, got %v", r)
	}
	if r := (State{PositionMs: 500, DurationMs: 100}).ProgressRatio(); r != 1 {
		t.Fatalf("expected ratio capped at 1, got %v", r)
	}
	if r := InitialState().ProgressRatio(); r != 0 {
		t.Fatalf("expected 0 for initial state, got %v", r)
	}
}
