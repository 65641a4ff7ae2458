package app

// Ledger is a bounded, append-only list of states. Once full, each append
// evicts the oldest entry and bumps the eviction count, so positions
// captured earlier can be translated with Resolve.
type Ledger struct {
	cap     int
	entries []State
	dropped int
}

// NewLedger returns a ledger holding at most cap entries (minimum 2).
func NewLedger(cap int) *Ledger {
	return &Ledger{cap: max(cap, 2)}
}

// Record appends s unless it equals the last entry. It reports whether s
// was appended.
func (l *Ledger) Record(s State) bool {
	if n := len(l.entries); n > 0 && l.entries[n-1].Equal(s) {
		return false
	}
	l.entries = append(l.entries, s)
	if len(l.entries) > l.cap {
		over := len(l.entries) - l.cap
		l.entries = append(l.entries[:0:0], l.entries[over:]...)
		l.dropped += over
	}
	return true
}

// Len is the number of entries.
func (l *Ledger) Len() int { return len(l.entries) }

// Cap is the maximum number of entries.
func (l *Ledger) Cap() int { return l.cap }

// Dropped is the number of entries evicted so far.
func (l *Ledger) Dropped() int { return l.dropped }

// At returns entry i.
func (l *Ledger) At(i int) (State, bool) {
	if i < 0 || i >= len(l.entries) {
		return State{}, false
	}
	return l.entries[i], true
}

// Resolve maps an index captured when Dropped() was epoch to the current
// position of that entry. It fails when the entry has been evicted.
func (l *Ledger) Resolve(index, epoch int) (int, bool) {
	i := index - (l.dropped - epoch)
	if i < 0 || i >= len(l.entries) {
		return 0, false
	}
	return i, true
}
