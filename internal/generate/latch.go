package generate

import "sync"

// Latch is a one-way switch shared by the main turn and the preamble. The
// main turn trips it on its first chunk; from then on the preamble's output
// is discarded. The zero value is an untripped latch.
type Latch struct {
	mu      sync.Mutex
	tripped bool
}

// Trip closes the latch. Calls after the first are no-ops.
func (l *Latch) Trip() {
	l.mu.Lock()
	l.tripped = true
	l.mu.Unlock()
}

// Tripped reports whether Trip has been called.
func (l *Latch) Tripped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tripped
}

// Unless runs fn while holding the latch, but only if it has not been
// tripped. It reports whether fn ran. A Trip that returns before Unless is
// entered always wins.
func (l *Latch) Unless(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tripped {
		return false
	}
	fn()
	return true
}
