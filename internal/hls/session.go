// Package hls materializes on-disk HLS sessions: one transcoder process
// per session writing segments and a media playlist into a session
// directory, with exactly-once session creation and idle eviction.
package hls

import (
	"sync"
	"sync/atomic"
	"time"
)

// State is the session lifecycle. Transitions only move forward:
// NotStarted -> Starting -> Ready -> Expired, with Failed reachable from
// Starting and Ready.
type State int32

const (
	StateNotStarted State = iota
	StateStarting
	StateReady
	StateFailed
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateExpired:
		return "expired"
	}
	return "unknown"
}

// Session is one materialized HLS rendition of one media part. Handles are
// shared; refcounts keep the sweeper from evicting a session mid-playback.
type Session struct {
	// Key identifies the session: part plus rendition parameters.
	Key string

	// Dir is the session directory holding playlist and segments.
	Dir string

	// RequestedStartMs is what the client asked for; AchievedStartMs is
	// the keyframe the session actually starts on.
	RequestedStartMs int64
	AchievedStartMs  int64

	// Done closes when the transcoder process has exited.
	Done chan struct{}

	state atomic.Int32

	mu         sync.Mutex
	err        error
	refs       int
	lastAccess time.Time

	stop func()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Err returns the terminal error, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Acquire marks the session in use. Every Acquire needs a matching Release.
func (s *Session) Acquire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs++
	s.lastAccess = time.Now()
}

// Release drops one reference and refreshes the idle clock.
func (s *Session) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refs > 0 {
		s.refs--
	}
	s.lastAccess = time.Now()
}

// Touch refreshes the idle clock without holding a reference, used by
// segment reads served straight off disk.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAccess = time.Now()
}

// idle reports whether the session has no holders and has been untouched
// for at least ttl.
func (s *Session) idle(ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs == 0 && time.Since(s.lastAccess) >= ttl
}
