package check

import "sync/atomic"

// Access detects concurrent misuse of an unsynchronized container:
// modify-while-reading, modify-while-iterating and iterate-while-modifying.
// A nil *Access checks nothing.
type Access struct {
	modifying atomic.Bool
	iterators atomic.Int32
	readers   atomic.Int32
}

// NewAccess returns a checker, or nil when enabled is false.
func NewAccess(enabled bool) *Access {
	if !enabled {
		return nil
	}
	return &Access{}
}

// Modify marks the start of a modification and returns its end.
func (a *Access) Modify() (done func()) {
	if a == nil {
		return func() {}
	}
	if n := a.iterators.Load(); n != 0 {
		fail("access", "modification with %d live iterators", n)
	}
	if a.modifying.Swap(true) {
		fail("access", "concurrent modification")
	}
	if n := a.readers.Load(); n != 0 {
		fail("access", "modification with %d active readers", n)
	}
	return func() {
		if a.iterators.Load() != 0 {
			fail("access", "iteration started during modification")
		}
		if n := a.readers.Load(); n != 0 {
			fail("access", "%d readers started during modification", n)
		}
		a.modifying.Store(false)
	}
}

// Read marks the start of a read and returns its end.
func (a *Access) Read() (done func()) {
	if a == nil {
		return func() {}
	}
	a.readers.Add(1)
	if a.modifying.Load() {
		fail("access", "read during modification")
	}
	return func() {
		if a.modifying.Load() {
			fail("access", "modification during read")
		}
		a.readers.Add(-1)
	}
}

// StartIteration marks a new iterator and returns its end, which must run
// however the iteration stops.
func (a *Access) StartIteration() (done func()) {
	if a == nil {
		return func() {}
	}
	if a.modifying.Load() {
		fail("access", "iteration started during modification")
	}
	a.iterators.Add(1)
	return func() { a.iterators.Add(-1) }
}

// Advance is called each time an iterator moves.
func (a *Access) Advance() {
	if a == nil {
		return
	}
	if a.modifying.Load() {
		fail("access", "container modified while iterating")
	}
}
