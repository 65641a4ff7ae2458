package playback

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"
)

const speedEpsilon = 1e-3

// passResult describes one reconciliation pass.
type passResult struct {
	Skipped bool     // no player attached
	Issued  []string // commands sent, in order
	Err     error    // first command failure; the pass stops there
}

func (r passResult) settled() bool {
	return !r.Skipped && r.Err == nil
}

// reconciler drives the external player toward the desired state.
//
// Passes run on a single goroutine, so they never overlap. Triggers arrive on
// a one-slot channel: a burst of intent changes collapses into one pending
// pass that reads the newest intent.
type reconciler struct {
	handle *Handle
	cell   *desiredCell
	logger *slog.Logger

	trigger chan struct{}

	retryEvery     time.Duration
	commandTimeout time.Duration

	// afterPass is called on the reconciler goroutine after every pass that
	// issued at least one command.
	afterPass func(passResult)
}

func newReconciler(handle *Handle, cell *desiredCell, retryEvery, commandTimeout time.Duration, logger *slog.Logger) *reconciler {
	return &reconciler{
		handle:         handle,
		cell:           cell,
		logger:         logger,
		trigger:        make(chan struct{}, 1),
		retryEvery:     retryEvery,
		commandTimeout: commandTimeout,
	}
}

// kick schedules a pass. It never blocks.
func (r *reconciler) kick() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// run consumes triggers until ctx is canceled. The retry ticker only runs a
// pass when the previous one was skipped or failed; a settled player is left
// alone between intent changes.
func (r *reconciler) run(ctx context.Context) {
	retry := r.retryEvery
	if retry <= 0 {
		retry = time.Second
	}
	ticker := time.NewTicker(retry)
	defer ticker.Stop()

	pending := false
	for {
		select {
		case <-ctx.Done():
			return

		case <-r.trigger:
			pending = !r.runPass(ctx).settled()

		case <-ticker.C:
			if pending {
				pending = !r.runPass(ctx).settled()
			}
		}
	}
}

func (r *reconciler) runPass(ctx context.Context) passResult {
	res := r.pass(ctx)
	switch {
	case res.Skipped:
		r.logger.Debug("reconcile skipped (player not ready)")
	case res.Err != nil:
		r.logger.Warn("reconcile command failed", "issued", res.Issued, "error", res.Err)
	case len(res.Issued) > 0:
		r.logger.Debug("reconciled", "issued", res.Issued)
	}
	if len(res.Issued) > 0 && r.afterPass != nil {
		r.afterPass(res)
	}
	return res
}

// pass compares intent with the live player and issues the missing commands:
// media, then seek, then play/pause, then speed. Running it again without an
// intent change issues nothing.
func (r *reconciler) pass(ctx context.Context) passResult {
	p, ok := r.handle.Current()
	if !ok {
		return passResult{Skipped: true}
	}

	d := r.cell.take()
	var res passResult

	issue := func(name string, fn func(context.Context) error) bool {
		cctx, cancel := r.commandCtx(ctx)
		defer cancel()
		if err := fn(cctx); err != nil {
			res.Err = fmt.Errorf("%s: %w", name, err)
			return false
		}
		res.Issued = append(res.Issued, name)
		return true
	}

	// A seek or rewind taken from the cell is put back if we fail before
	// issuing it.
	var seekTarget *int64
	if d.Seek != nil {
		seekTarget = d.Seek
	} else if d.RewindMs > 0 {
		t := p.CurrentPosition() - d.RewindMs
		if t < 0 {
			t = 0
		}
		seekTarget = &t
	}
	restore := func() {
		switch {
		case d.Seek != nil:
			r.cell.restoreSeek(*d.Seek)
		case d.RewindMs > 0:
			r.cell.restoreRewind(d.RewindMs)
		}
	}

	if d.Media != nil && d.Media.ID != p.CurrentMediaID() {
		m := *d.Media
		if !issue("set_media:"+m.ID, func(c context.Context) error { return p.SetMedia(c, m) }) {
			restore()
			return res
		}
		if !issue("prepare", p.Prepare) {
			restore()
			return res
		}
	}

	if seekTarget != nil {
		target := *seekTarget
		if !issue(fmt.Sprintf("seek:%d", target), func(c context.Context) error { return p.SeekTo(c, target) }) {
			restore()
			return res
		}
	}

	switch {
	case d.Playing && !p.IsPlaying():
		if !issue("play", p.Play) {
			return res
		}
	case !d.Playing && p.IsPlaying():
		if !issue("pause", p.Pause) {
			return res
		}
	}

	if d.Speed > 0 && math.Abs(p.Speed()-d.Speed) > speedEpsilon {
		speed := d.Speed
		if !issue(fmt.Sprintf("speed:%.2f", speed), func(c context.Context) error { return p.SetSpeed(c, speed) }) {
			return res
		}
	}

	return res
}

func (r *reconciler) commandCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.commandTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.commandTimeout)
}
