// Package state holds the mutable per-session counters and flags shared by
// the frame scheduler and the input translator.
package state

import "sync"

// NoAnchor marks an interaction without a recorded down position.
const NoAnchor = -1

// Interaction tracks an in-progress pointer gesture.
type Interaction struct {
	Active  bool
	AnchorX int
	AnchorY int
}

// Session is owned by one session and passed by pointer to its scheduler
// and input translator. All methods are safe for concurrent use.
type Session struct {
	mu          sync.Mutex
	frame       uint64
	paused      bool
	interaction Interaction
}

// New returns a state with no anchor recorded.
func New() *Session {
	return &Session{
		interaction: Interaction{AnchorX: NoAnchor, AnchorY: NoAnchor},
	}
}

// NextFrame increments the frame counter and returns the value it held
// before the increment. The returned value identifies the capture.
func (s *Session) NextFrame() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.frame
	s.frame++
	return seq
}

// IsLatest reports whether no capture started after seq.
func (s *Session) IsLatest(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return seq+1 == s.frame
}

// Frames returns the number of capture attempts so far.
func (s *Session) Frames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

// SetPaused sets the paused flag.
func (s *Session) SetPaused(paused bool) {
	s.mu.Lock()
	s.paused = paused
	s.mu.Unlock()
}

// Paused returns the paused flag.
func (s *Session) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// BeginInteraction marks a gesture active and records its anchor.
func (s *Session) BeginInteraction(x, y int) {
	s.mu.Lock()
	s.interaction = Interaction{Active: true, AnchorX: x, AnchorY: y}
	s.mu.Unlock()
}

// Interaction returns a copy of the gesture state.
func (s *Session) Interaction() Interaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interaction
}

// Interacting reports whether a gesture is in progress.
func (s *Session) Interacting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interaction.Active
}

// EndInteraction clears the gesture and returns what it was. ok is false
// when no gesture was active, in which case nothing changes.
func (s *Session) EndInteraction() (Interaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.interaction
	if !prev.Active {
		return prev, false
	}
	s.interaction = Interaction{AnchorX: NoAnchor, AnchorY: NoAnchor}
	return prev, true
}
