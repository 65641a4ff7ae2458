package playback

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"podloop/internal/watch"
)

// Config tunes the playback controller.
type Config struct {
	// PollInterval is the position sampling period while playing.
	PollInterval time.Duration

	// RetryInterval is how often a skipped or failed pass is retried.
	RetryInterval time.Duration

	// CommandTimeout bounds each command sent to the player.
	CommandTimeout time.Duration

	// SmartResumeAfter is the pause length after which resuming rewinds by
	// SmartResumeRewind.
	SmartResumeAfter  time.Duration
	SmartResumeRewind time.Duration

	// DefaultSleep is used when StartSleepTimer gets a non-positive value.
	DefaultSleep time.Duration
	// SleepStep is the sleep timer's countdown resolution.
	SleepStep time.Duration

	MinSpeed float64
	MaxSpeed float64

	// EventBuffer is the capacity of the event queue feeding the reducer.
	EventBuffer int

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns the controller defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:      100 * time.Millisecond,
		RetryInterval:     time.Second,
		CommandTimeout:    5 * time.Second,
		SmartResumeAfter:  5 * time.Minute,
		SmartResumeRewind: 3 * time.Second,
		DefaultSleep:      45 * time.Minute,
		SleepStep:         time.Second,
		MinSpeed:          0.5,
		MaxSpeed:          3.0,
		EventBuffer:       64,
		Now:               time.Now,
	}
}

// Controller is the playback subsystem: it owns the desired-state cell, the
// observed state, the reconciler, the position poller and the sleep timer.
//
// Intent setters are safe to call from any goroutine and never touch the
// player directly; they update the desired cell and schedule a pass.
type Controller struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	handle *Handle
	cell   *desiredCell
	rec    *reconciler
	poll   *poller
	sleep  *sleepTimer

	events chan Event
	state  *watch.Value[State]

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

// NewController wires a controller around handle. Call Run to start it.
func NewController(handle *Handle, cfg Config, logger *slog.Logger) *Controller {
	def := DefaultConfig()
	if cfg.Now == nil {
		cfg.Now = def.Now
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}
	if cfg.MinSpeed <= 0 {
		cfg.MinSpeed = def.MinSpeed
	}
	if cfg.MaxSpeed < cfg.MinSpeed {
		cfg.MaxSpeed = def.MaxSpeed
	}
	if cfg.DefaultSleep <= 0 {
		cfg.DefaultSleep = def.DefaultSleep
	}
	if handle == nil {
		handle = NewHandle()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:    cfg,
		logger: logger,
		now:    cfg.Now,
		handle: handle,
		cell:   newDesiredCell(),
		events: make(chan Event, cfg.EventBuffer),
		state:  watch.NewValue(InitialState()),
		ctx:    ctx,
		cancel: cancel,
	}
	c.rec = newReconciler(handle, c.cell, cfg.RetryInterval, cfg.CommandTimeout, logger)
	c.poll = newPoller(cfg.PollInterval, handle, c.emit)
	c.sleep = newSleepTimer(cfg.SleepStep, cfg.Now)

	// Commands can move the position without a notification (seek while
	// paused), so refresh it after every pass that did something.
	c.rec.afterPass = func(passResult) { c.poll.sampleOnce(c.ctx) }
	return c
}

// Run reduces events and runs the reconciler until ctx is canceled or Close
// is called. Canceling ctx closes the controller.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("playback controller starting")
	go c.rec.run(c.ctx)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("playback controller stopping (context canceled)")
			return c.Close()

		case <-c.ctx.Done():
			return nil

		case ev := <-c.events:
			c.apply(ev)
		}
	}
}

func (c *Controller) apply(ev Event) {
	prev := c.state.Get()
	next := Reduce(prev, ev)

	if next.IsPlaying != prev.IsPlaying {
		if next.IsPlaying {
			c.poll.start(c.ctx)
		} else {
			c.poll.stop()
		}
	}
	if next != prev {
		c.state.Set(next)
	}
}

// emit queues an event for the reducer. It returns false once ctx or the
// controller is done.
func (c *Controller) emit(ctx context.Context, ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-c.ctx.Done():
		return false
	}
}

// Connect attaches p and starts translating its notifications into events.
func (c *Controller) Connect(p Player) error {
	if err := c.handle.Attach(p); err != nil {
		return err
	}
	c.logger.Info("player connected")

	go func() {
		s := c.handle.Sample()
		if s.MediaID != "" {
			c.emit(c.ctx, MediaChanged{MediaID: s.MediaID, DurationMs: s.DurationMs})
		}
		if s.Speed > 0 {
			c.emit(c.ctx, SpeedChanged{Speed: s.Speed})
		}
		c.emit(c.ctx, IsPlayingChanged{Playing: s.Playing})

		if forwardNotifications(c.ctx, p, c.handle, c.emit) && c.handle.Detach(p) {
			c.logger.Warn("player disconnected")
			c.emit(c.ctx, IsPlayingChanged{Playing: false})
		}
	}()

	c.rec.kick()
	return nil
}

// ============================================================================
// Intent setters
// ============================================================================

// Play makes m the desired media and starts playback. Switching to a new item
// with a saved position seeks to it.
func (c *Controller) Play(m Media) {
	c.cell.play(m)
	c.rec.kick()
}

// Pause stops playback and remembers when.
func (c *Controller) Pause() {
	c.cell.pause(c.now())
	c.rec.kick()
}

// Resume restarts playback. After a long pause the next pass rewinds a few
// seconds.
func (c *Controller) Resume() {
	c.cell.resume(c.now(), c.cfg.SmartResumeAfter, c.cfg.SmartResumeRewind)
	c.rec.kick()
}

// TogglePlay flips the desired playing flag.
func (c *Controller) TogglePlay() {
	c.cell.toggle(c.now(), c.cfg.SmartResumeAfter, c.cfg.SmartResumeRewind)
	c.rec.kick()
}

// SeekTo sets a one-shot absolute seek target. Negative targets clamp to 0.
func (c *Controller) SeekTo(ms int64) {
	c.cell.seek(ms)
	c.rec.kick()
}

// Skip seeks relative to the current position.
func (c *Controller) Skip(seconds int) {
	base := c.state.Get().PositionMs
	if _, ok := c.handle.Current(); ok {
		base = c.handle.Sample().PositionMs
	}
	c.cell.seek(base + int64(seconds)*1000)
	c.rec.kick()
}

// SetSpeed sets the desired playback rate, clamped to the configured range.
func (c *Controller) SetSpeed(x float64) {
	if math.IsNaN(x) || x <= 0 {
		return
	}
	x = math.Max(c.cfg.MinSpeed, math.Min(c.cfg.MaxSpeed, x))
	c.cell.setSpeed(x)
	c.rec.kick()
}

// StartSleepTimer pauses playback after the given number of minutes.
func (c *Controller) StartSleepTimer(minutes int) {
	d := time.Duration(minutes) * time.Minute
	if d <= 0 {
		d = c.cfg.DefaultSleep
	}
	c.startSleep(d)
}

func (c *Controller) startSleep(d time.Duration) {
	c.logger.Info("sleep timer started", "duration", d)
	c.sleep.start(c.ctx, d, func() {
		c.logger.Info("sleep timer expired")
		c.Pause()
	})
}

// ResetSleepTimer cancels a running sleep timer.
func (c *Controller) ResetSleepTimer() {
	c.sleep.reset()
}

// SleepRemaining reports the time left on the sleep timer, or 0.
func (c *Controller) SleepRemaining() time.Duration {
	return c.sleep.remaining()
}

// ============================================================================
// Read side
// ============================================================================

// Observed returns the current observed state.
func (c *Controller) Observed() State {
	return c.state.Get()
}

// Watch streams observed states, starting with the current one.
func (c *Controller) Watch() (<-chan State, func()) {
	return c.state.Watch()
}

// Desired returns a copy of the current intent.
func (c *Controller) Desired() Desired {
	return c.cell.snapshot()
}

// Close stops the poller and the sleep timer and releases the player. It is
// safe to call more than once.
func (c *Controller) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		c.poll.stop()
		c.sleep.reset()
		err = c.handle.Release()
		c.state.Close()
	})
	return err
}
