package playback

import (
	"context"
	"sync"
	"testing"
	"time"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func startController(t *testing.T, cfg Config) (*Controller, context.CancelFunc) {
	t.Helper()
	c := NewController(NewHandle(), cfg, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c, cancel
}

// TestController_PlayDrivesObservedState tests the full loop: intent, reconcile, notifications, reducer, poller.
func TestController_PlayDrivesObservedState(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond
	c, _ := startController(t, cfg)

	fp := newFakePlayer()
	if err := c.Connect(fp); err != nil {
		t.Fatalf("connect: %v", err)
	}

	c.Play(Media{ID: "ep1", URL: "http://x/1.mp3"})

	waitUntil(t, time.Second, func() bool {
		s := c.Observed()
		return s.IsPlaying && s.MediaID == "ep1" && s.DurationMs == 60000
	})
	waitUntil(t, time.Second, func() bool { return c.poll.running() })

	fp.setPosition(1234)
	waitUntil(t, time.Second, func() bool { return c.Observed().PositionMs == 1234 })

	c.Pause()
	waitUntil(t, time.Second, func() bool { return !c.Observed().IsPlaying })
	waitUntil(t, time.Second, func() bool { return !c.poll.running() })
}

// TestController_SeekWhilePausedRefreshesPosition tests that a pass refreshes the position sample.
func TestController_SeekWhilePausedRefreshesPosition(t *testing.T) {
	c, _ := startController(t, DefaultConfig())
	fp := newFakePlayer()
	_ = c.Connect(fp)

	c.Play(Media{ID: "ep1"})
	waitUntil(t, time.Second, func() bool { return c.Observed().IsPlaying })
	c.Pause()
	waitUntil(t, time.Second, func() bool { return !c.Observed().IsPlaying })

	c.SeekTo(42000)
	waitUntil(t, time.Second, func() bool { return c.Observed().PositionMs == 42000 })
}

// TestController_TogglePlayReadsDesired tests that toggling twice cancels out regardless of the player.
func TestController_TogglePlayReadsDesired(t *testing.T) {
	c := NewController(nil, DefaultConfig(), discardLogger())
	defer c.Close()

	c.TogglePlay()
	if !c.Desired().Playing {
		t.Fatalf("expected desired playing after first toggle")
	}
	c.TogglePlay()
	if c.Desired().Playing {
		t.Fatalf("expected desired paused after second toggle")
	}
}

// TestController_SmartResume tests that resuming after a long pause injects a rewind.
func TestController_SmartResume(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	cfg := DefaultConfig()
	cfg.Now = clock.Now
	c := NewController(nil, cfg, discardLogger())
	defer c.Close()

	c.Play(Media{ID: "ep1"})
	c.Pause()
	clock.advance(time.Minute)
	c.Resume()
	if got := c.Desired().RewindMs; got != 0 {
		t.Fatalf("short pause must not rewind, got %d", got)
	}

	c.Pause()
	clock.advance(6 * time.Minute)
	c.Resume()
	if got := c.Desired().RewindMs; got != 3000 {
		t.Fatalf("expected 3000ms rewind after long pause, got %d", got)
	}
}

// TestController_SeekClampsAtZero tests negative seek targets.
func TestController_SeekClampsAtZero(t *testing.T) {
	c := NewController(nil, DefaultConfig(), discardLogger())
	defer c.Close()

	c.SeekTo(-100)
	if d := c.Desired(); d.Seek == nil || *d.Seek != 0 {
		t.Fatalf("expected seek clamped to 0, got %v", d.Seek)
	}
}

// TestController_SetSpeedClamps tests the speed range and rejection of invalid values.
func TestController_SetSpeedClamps(t *testing.T) {
	c := NewController(nil, DefaultConfig(), discardLogger())
	defer c.Close()

	c.SetSpeed(10)
	if got := c.Desired().Speed; got != 3.0 {
		t.Fatalf("expected speed clamped to 3.0, got %v", got)
	}
	c.SetSpeed(-1)
	if got := c.Desired().Speed; got != 3.0 {
		t.Fatalf("invalid speed must be ignored, got %v", got)
	}
}

// TestController_SleepTimerPauses tests that an expiring sleep timer pauses playback.
func TestController_SleepTimerPauses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SleepStep = time.Millisecond
	c := NewController(nil, cfg, discardLogger())
	defer c.Close()

	c.Play(Media{ID: "ep1"})
	c.startSleep(20 * time.Millisecond)

	waitUntil(t, time.Second, func() bool { return !c.Desired().Playing })
	if r := c.SleepRemaining(); r != 0 {
		t.Fatalf("expected no remaining sleep after expiry, got %v", r)
	}
}

// TestController_SleepTimerDefaultAndReset tests the default duration and cancellation.
func TestController_SleepTimerDefaultAndReset(t *testing.T) {
	c := NewController(nil, DefaultConfig(), discardLogger())
	defer c.Close()

	c.StartSleepTimer(0)
	if r := c.SleepRemaining(); r < 44*time.Minute || r > 45*time.Minute {
		t.Fatalf("expected ~45m remaining, got %v", r)
	}
	c.ResetSleepTimer()
	c.ResetSleepTimer()
	if r := c.SleepRemaining(); r != 0 {
		t.Fatalf("expected 0 after reset, got %v", r)
	}
}

// TestController_CloseReleasesOnce tests that teardown releases the player exactly once.
func TestController_CloseReleasesOnce(t *testing.T) {
	c := NewController(nil, DefaultConfig(), discardLogger())
	fp := newFakePlayer()
	if err := c.Connect(fp); err != nil {
		t.Fatalf("connect: %v", err)
	}
	c.poll.start(context.Background())

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
	if n := fp.closeCount(); n != 1 {
		t.Fatalf("expected player closed once, got %d", n)
	}
	if c.poll.running() {
		t.Fatalf("poller should be stopped after close")
	}
	if err := c.Connect(newFakePlayer()); err != ErrReleased {
		t.Fatalf("expected ErrReleased after close, got %v", err)
	}
}

// TestController_PlayerDisconnect tests that a closed notification stream detaches the player.
func TestController_PlayerDisconnect(t *testing.T) {
	c, _ := startController(t, DefaultConfig())
	fp := newFakePlayer()
	_ = c.Connect(fp)

	c.Play(Media{ID: "ep1"})
	waitUntil(t, time.Second, func() bool { return c.Observed().IsPlaying })

	close(fp.notes)
	waitUntil(t, time.Second, func() bool {
		_, attached := c.handle.Current()
		return !attached && !c.Observed().IsPlaying
	})
}

// TestPoller_StopIdempotent tests redundant stops.
func TestPoller_StopIdempotent(t *testing.T) {
	p := newPoller(time.Millisecond, NewHandle(), func(context.Context, Event) bool { return true })
	p.stop()
	p.start(context.Background())
	p.start(context.Background())
	p.stop()
	p.stop()
	if p.running() {
		t.Fatalf("poller still running")
	}
}
