package main

import (
	"bytes"
	"testing"
)

// TestPrintFrame tests the terminal rendering of each frame type.
func TestPrintFrame(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{
			`{"type":"state","data":{"screen":"home","filter":"All","library":[{},{}],"current":{"episode_title":"Ep 1"},"playback":{"is_playing":true,"position_ms":65000,"duration_ms":3725000,"speed":1.5}}}`,
			"[STATE] screen=home filter=\"All\" episodes=2 | playing \"Ep 1\" 1:05/1:02:05 x1.5\n",
		},
		{
			`{"type":"notification","data":{"kind":"error","text":"network unreachable"}}`,
			"[ERROR] network unreachable\n",
		},
		{
			`{"type":"state_init","data":{"screen":"queue","filter":"Queue","optimistic":[{}],"syncing":true}}`,
			"[STATE_INIT] screen=queue filter=\"Queue\" episodes=0 pending=1 | syncing\n",
		},
		{`not json`, "[TEXT] not json\n"},
	}
	for _, tc := range cases {
		var buf bytes.Buffer
		printFrame(&buf, []byte(tc.in))
		if buf.String() != tc.want {
			t.Fatalf("printFrame(%s)\n got %q\nwant %q", tc.in, buf.String(), tc.want)
		}
	}
}
