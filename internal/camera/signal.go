package camera

import (
	"sync"
	"sync/atomic"
)

// Signal is the shared run gate for one camera group. Every runtime in the
// group blocks on the same condition variable, so a single Start wakes the
// whole group at once and a single Pause idles it after the in-flight
// frame completes.
type Signal struct {
	mu   sync.Mutex
	cond *sync.Cond
	run  bool
}

// NewSignal returns a paused run gate.
func NewSignal() *Signal {
	s := &Signal{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Start sets the run flag and wakes every waiter. Idempotent.
func (s *Signal) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run {
		return
	}
	s.run = true
	s.cond.Broadcast()
}

// Pause clears the run flag. Capture loops finish their current frame and
// then block on the gate.
func (s *Signal) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.run = false
}

// Running reports whether the gate is open.
func (s *Signal) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run
}

// awaitRun blocks until the gate opens or the waiter's kill flag is set.
// It reports false when killed. The kill flag is per-runtime so one camera
// can leave the group without disturbing its peers.
func (s *Signal) awaitRun(killed *atomic.Bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.run && !killed.Load() {
		s.cond.Wait()
	}
	return !killed.Load()
}

// wake re-broadcasts so a waiter rechecks its kill flag.
func (s *Signal) wake() {
	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()
}
