package playback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakePlayer is a test double for Player. Commands take effect immediately
// and are recorded in calls.
type fakePlayer struct {
	mu sync.Mutex

	mediaID  string
	playing  bool
	position int64
	duration int64
	speed    float64

	calls  []string
	failOn string // command prefix that returns an error
	closes int

	notes chan Notification
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{
		speed: 1,
		notes: make(chan Notification, 32),
	}
}

func (f *fakePlayer) record(name string) error {
	f.calls = append(f.calls, name)
	if f.failOn != "" && strings.HasPrefix(name, f.failOn) {
		return errors.New("boom")
	}
	return nil
}

func (f *fakePlayer) SetMedia(_ context.Context, m Media) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("set_media:" + m.ID); err != nil {
		return err
	}
	f.mediaID = m.ID
	f.position = 0
	f.duration = 60000
	f.notify(MediaTransition{MediaID: m.ID})
	return nil
}

func (f *fakePlayer) Prepare(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("prepare")
}

func (f *fakePlayer) Play(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("play"); err != nil {
		return err
	}
	f.playing = true
	f.notify(PlayingNotification{Playing: true})
	return nil
}

func (f *fakePlayer) Pause(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("pause"); err != nil {
		return err
	}
	f.playing = false
	f.notify(PlayingNotification{Playing: false})
	return nil
}

func (f *fakePlayer) SeekTo(_ context.Context, ms int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("seek:" + strconv.FormatInt(ms, 10)); err != nil {
		return err
	}
	f.position = ms
	return nil
}

func (f *fakePlayer) SetSpeed(_ context.Context, speed float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("speed"); err != nil {
		return err
	}
	f.speed = speed
	return nil
}

func (f *fakePlayer) CurrentPosition() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position
}

func (f *fakePlayer) Duration() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.duration
}

func (f *fakePlayer) IsPlaying() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playing
}

func (f *fakePlayer) CurrentMediaID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mediaID
}

func (f *fakePlayer) Speed() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.speed
}

func (f *fakePlayer) Notifications() <-chan Notification { return f.notes }

func (f *fakePlayer) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakePlayer) notify(n Notification) {
	select {
	case f.notes <- n:
	default:
	}
}

func (f *fakePlayer) setPosition(ms int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.position = ms
}

func (f *fakePlayer) takeCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.calls
	f.calls = nil
	return out
}

func (f *fakePlayer) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// waitUntil polls cond until it holds or the timeout expires.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}
