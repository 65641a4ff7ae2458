// Package watch provides the two push primitives used between the daemon's
// goroutines: a replaying latest-value stream and a buffered fan-out feed.
package watch

import "sync"

// Value holds the latest value of T and pushes every update to its observers.
//
// New observers receive the current value immediately. Delivery is
// latest-wins: each observer channel holds at most one pending value, so a
// slow observer skips intermediate updates instead of blocking the writer.
type Value[T any] struct {
	mu     sync.Mutex
	cur    T
	subs   map[int]chan T
	next   int
	closed bool
}

// NewValue returns a Value seeded with initial.
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{
		cur:  initial,
		subs: make(map[int]chan T),
	}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cur
}

// Set replaces the current value and notifies observers.
func (v *Value[T]) Set(x T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.cur = x
	for _, ch := range v.subs {
		offerLatest(ch, x)
	}
}

// Watch registers an observer. The returned cancel func is idempotent and
// closes the channel.
func (v *Value[T]) Watch() (<-chan T, func()) {
	v.mu.Lock()
	defer v.mu.Unlock()

	ch := make(chan T, 1)
	if v.closed {
		close(ch)
		return ch, func() {}
	}

	id := v.next
	v.next++
	v.subs[id] = ch
	ch <- v.cur

	return ch, func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		if c, ok := v.subs[id]; ok {
			delete(v.subs, id)
			close(c)
		}
	}
}

// Close closes every observer channel. Later Sets are ignored.
func (v *Value[T]) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.closed = true
	for id, ch := range v.subs {
		delete(v.subs, id)
		close(ch)
	}
}

// offerLatest replaces any pending value in a 1-slot channel.
func offerLatest[T any](ch chan T, x T) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- x:
	default:
	}
}

// Feed fans out every sent value to all subscribers. Unlike Value it does not
// coalesce; a subscriber whose buffer is full misses the value.
type Feed[T any] struct {
	mu     sync.Mutex
	subs   map[int]chan T
	next   int
	buf    int
	closed bool
}

// NewFeed returns a Feed whose subscriber channels have capacity buf.
func NewFeed[T any](buf int) *Feed[T] {
	if buf <= 0 {
		buf = 16
	}
	return &Feed[T]{
		subs: make(map[int]chan T),
		buf:  buf,
	}
}

// Send delivers x to every subscriber without blocking and reports how many
// subscribers dropped it.
func (f *Feed[T]) Send(x T) (dropped int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0
	}
	for _, ch := range f.subs {
		select {
		case ch <- x:
		default:
			dropped++
		}
	}
	return dropped
}

// Subscribe registers a subscriber. The cancel func is idempotent. On a
// closed Feed the returned channel is already closed.
func (f *Feed[T]) Subscribe() (<-chan T, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan T, f.buf)
	if f.closed {
		close(ch)
		return ch, func() {}
	}

	id := f.next
	f.next++
	f.subs[id] = ch

	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if c, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(c)
		}
	}
}

// Close closes every subscriber channel after its buffered values. Later
// Sends are ignored.
func (f *Feed[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}
