package container

import (
	"sync"
	"sync/atomic"
)

// Locker is the synchronization capability of a container. NoLock makes
// every call free; RWLock is a reader/writer mutex that must be reset once
// per attach.
type Locker interface {
	Lock()
	Unlock()
	RLock()
	RUnlock()

	// Reset reinitializes the lock. It must not be held.
	Reset()
}

// NoLock is the Locker of unsynchronized containers.
type NoLock struct{}

func (NoLock) Lock()    {}
func (NoLock) Unlock()  {}
func (NoLock) RLock()   {}
func (NoLock) RUnlock() {}
func (NoLock) Reset()   {}

// RWLock is a reader/writer lock that refuses to be used until Reset has
// been called. Locking it earlier panics with ErrLockNotReset.
type RWLock struct {
	mu    sync.RWMutex
	ready atomic.Bool
}

// NewRWLock returns a lock that is ready to use.
func NewRWLock() *RWLock {
	l := &RWLock{}
	l.ready.Store(true)
	return l
}

// NewUnresetRWLock returns a lock that panics until Reset is called. It is
// what containers use when attaching to an existing region.
func NewUnresetRWLock() *RWLock { return &RWLock{} }

func (l *RWLock) Lock() {
	l.mustBeReady()
	l.mu.Lock()
}

func (l *RWLock) Unlock() { l.mu.Unlock() }

func (l *RWLock) RLock() {
	l.mustBeReady()
	l.mu.RLock()
}

func (l *RWLock) RUnlock() { l.mu.RUnlock() }

func (l *RWLock) Reset() {
	l.mu = sync.RWMutex{}
	l.ready.Store(true)
}

func (l *RWLock) mustBeReady() {
	if !l.ready.Load() {
		panic(ErrLockNotReset)
	}
}

// Unique locks l exclusively and returns the matching unlock.
func Unique(l Locker) (unlock func()) {
	l.Lock()
	return l.Unlock
}

// Shared locks l for reading and returns the matching unlock.
func Shared(l Locker) (unlock func()) {
	l.RLock()
	return l.RUnlock
}
