//go:build linux

package input

import (
	"bytes"
	"context"
	"encoding/binary"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"podloop/internal/app"
)

type chanDispatcher chan app.Action

func (c chanDispatcher) TryDispatch(a app.Action) error {
	c <- a
	return nil
}

// fifoDevice creates a named pipe standing in for an input device and
// returns its path plus the writing end.
func fifoDevice(t *testing.T, dir, name string) (string, *os.File) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := unix.Mkfifo(path, 0o600); err != nil {
		t.Fatalf("mkfifo: %v", err)
	}
	w, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("open fifo: %v", err)
	}
	return path, w
}

func press(t *testing.T, w *os.File, code uint16) {
	t.Helper()
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, Event{Type: EV_KEY, Code: code, Value: evValuePress})
	if _, err := w.Write(buf.Bytes()); err != nil {
		t.Fatalf("write event: %v", err)
	}
}

func nextAction(t *testing.T, d chanDispatcher) app.Action {
	t.Helper()
	select {
	case a := <-d:
		return a
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for action")
		return nil
	}
}

// TestRun_SurvivesLostDevice tests that keys keep flowing from the other
// devices after one goes away, and that Run fails when none is left.
func TestRun_SurvivesLostDevice(t *testing.T) {
	dir := t.TempDir()
	keyboard, kw := fifoDevice(t, dir, "keyboard")
	headset, hw := fifoDevice(t, dir, "headset")
	defer kw.Close()

	d := make(chanDispatcher, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- Run(ctx, []string{keyboard, headset}, d, slog.Default()) }()

	press(t, kw, KEY_NEXTSONG)
	if a := nextAction(t, d); a != (app.Skip{Seconds: SkipForwardSeconds}) {
		t.Fatalf("action = %#v", a)
	}

	hw.Close()
	press(t, kw, KEY_PLAYPAUSE)
	if a := nextAction(t, d); a != (app.TogglePlay{}) {
		t.Fatalf("action after losing headset = %#v", a)
	}

	kw.Close()
	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "media keys stopped") {
			t.Fatalf("Run err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop after every device was lost")
	}
}
