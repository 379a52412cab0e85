package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aretw0/toolgate/pkg/dedup"
	"github.com/aretw0/toolgate/pkg/loopguard"
	"github.com/aretw0/toolgate/pkg/registry"
	"github.com/aretw0/toolgate/pkg/state"
)

// Session is one live conversation.
type Session struct {
	ID        string
	Pinned    registry.Snapshot
	State     *state.Controller
	Loop      *loopguard.Detector
	Dedup     *dedup.Detector
	StartedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	ended  atomic.Bool

	mu    sync.Mutex
	turn  int
	calls int
}

// Context is cancelled when the session ends. Retry timers wait on it.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Ended reports whether End has been called.
func (s *Session) Ended() bool {
	return s.ended.Load()
}

// Turn returns the current turn number, starting at 1.
func (s *Session) Turn() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turn
}

// CallsThisTurn returns how many calls were admitted in the current turn.
func (s *Session) CallsThisTurn() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// CountCall admits one more call in the current turn and returns the new count.
func (s *Session) CountCall() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.calls
}

func (s *Session) nextTurn() int {
	s.mu.Lock()
	s.turn++
	s.calls = 0
	turn := s.turn
	s.mu.Unlock()

	s.Loop.StartTurn(turn)
	s.Dedup.StartTurn(turn)
	return turn
}

// end marks the session ended and cancels its context. It reports false if already ended.
func (s *Session) end() bool {
	if !s.ended.CompareAndSwap(false, true) {
		return false
	}
	s.cancel()
	return true
}
