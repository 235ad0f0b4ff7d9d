// Package trigger holds the per-cycle synchronization state shared between
// the device notification callbacks and the runner's wait loop.
package trigger

import (
	"sync"
	"time"
)

// State is a point-in-time copy of a Session.
type State struct {
	ResultAvailable bool
	ImageAvailable  bool
	// ResultPath is only meaningful when ResultAvailable is true.
	ResultPath string
	ArmedAt    time.Time
}

// Complete reports whether both the result and the image have arrived.
func (s State) Complete() bool {
	return s.ResultAvailable && s.ImageAvailable
}

// Session records which notifications arrived since the last Arm. It is safe
// for concurrent use: callbacks write from the device goroutines while the
// runner reads.
type Session struct {
	mu      sync.Mutex
	state   State
	changed chan struct{}
}

// NewSession returns an empty, unarmed session.
func NewSession() *Session {
	return &Session{changed: make(chan struct{}, 1)}
}

// Arm clears both flags and the result path and stamps the arming time.
// Notifications recorded before Arm are discarded.
func (s *Session) Arm(now time.Time) {
	s.mu.Lock()
	s.state = State{ArmedAt: now}
	s.mu.Unlock()

	// Drain a pending signal that belongs to the previous cycle.
	select {
	case <-s.changed:
	default:
	}
}

// MarkResult records the result notification and the record file path.
func (s *Session) MarkResult(path string) {
	s.mu.Lock()
	s.state.ResultAvailable = true
	s.state.ResultPath = path
	s.mu.Unlock()
	s.signal()
}

// MarkImage records the image notification.
func (s *Session) MarkImage() {
	s.mu.Lock()
	s.state.ImageAvailable = true
	s.mu.Unlock()
	s.signal()
}

// Snapshot returns the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Changed is signalled, at most one pending value at a time, after every
// MarkResult or MarkImage.
func (s *Session) Changed() <-chan struct{} {
	return s.changed
}

func (s *Session) signal() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}
