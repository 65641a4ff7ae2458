package playback

import (
	"context"
	"sync"
	"time"
)

// sleepTimer pauses playback once its deadline passes. Starting it again
// replaces the running countdown.
type sleepTimer struct {
	step time.Duration
	now  func() time.Time

	mu       sync.Mutex
	cancel   context.CancelFunc
	deadline time.Time
}

func newSleepTimer(step time.Duration, now func() time.Time) *sleepTimer {
	if step <= 0 {
		step = time.Second
	}
	return &sleepTimer{step: step, now: now}
}

func (s *sleepTimer) start(parent context.Context, d time.Duration, onExpire func()) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.deadline = s.now().Add(d)
	deadline := s.deadline
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(s.step)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if s.now().Before(deadline) {
					continue
				}
				if !s.finish(ctx) {
					return
				}
				onExpire()
				return
			}
		}
	}()
}

// finish clears the timer if ctx still belongs to the running countdown.
func (s *sleepTimer) finish(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	s.cancel()
	s.cancel = nil
	s.deadline = time.Time{}
	return true
}

func (s *sleepTimer) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.deadline = time.Time{}
}

func (s *sleepTimer) remaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deadline.IsZero() {
		return 0
	}
	if r := s.deadline.Sub(s.now()); r > 0 {
		return r
	}
	return 0
}
