package session

import (
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/dgallion1/retell/internal/quiz"
)

// ErrBusy is returned by Begin while another step of the same session is
// still running.
var ErrBusy = errors.New("session is busy")

// State is the per-conversation record shared by the pipeline stages.
type State struct {
	Summary   string
	Questions []quiz.Question
	Answers   map[int]string // Only for questions already asked.
	Attempts  map[int]int
	Completed bool

	current int
	active  bool
}

// Pointer returns the index of the question awaiting an answer. ok is
// false when no quiz is in progress.
func (s *State) Pointer() (i int, ok bool) {
	return s.current, s.active
}

// SetPointer moves the quiz to question i. i may equal len(Questions).
func (s *State) SetPointer(i int) {
	if i < 0 {
		i = 0
	}
	if i > len(s.Questions) {
		i = len(s.Questions)
	}
	s.current = i
	s.active = true
}

// ClearPointer leaves quiz mode.
func (s *State) ClearPointer() {
	s.current = 0
	s.active = false
}

// Clear wipes the summary, the quiz and all answers.
func (s *State) Clear() {
	*s = State{}
}

// Clone returns a deep copy.
func (s *State) Clone() State {
	out := *s
	out.Questions = slices.Clone(s.Questions)
	out.Answers = maps.Clone(s.Answers)
	out.Attempts = maps.Clone(s.Attempts)
	return out
}

// Ticket identifies one running step. It goes stale when the session is
// reset.
type Ticket struct {
	epoch uint64
}

// Session owns the State of one conversation and admits one step at a
// time.
type Session struct {
	mu sync.Mutex

	ID        string
	CreatedAt time.Time

	state     State
	epoch     uint64
	busy      bool
	updatedAt time.Time
}

func newSession(id string) *Session {
	now := time.Now()
	return &Session{ID: id, CreatedAt: now, updatedAt: now}
}

// Begin marks the session busy and hands out a copy of its state to work
// on.
func (s *Session) Begin() (Ticket, State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return Ticket{}, State{}, ErrBusy
	}
	s.busy = true
	s.updatedAt = time.Now()
	return Ticket{epoch: s.epoch}, s.state.Clone(), nil
}

// Commit stores st and ends the step. It reports false, leaving the
// session untouched, when a reset happened after Begin.
func (s *Session) Commit(t Ticket, st State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.epoch != s.epoch {
		return false
	}
	s.state = st.Clone()
	s.busy = false
	s.updatedAt = time.Now()
	return true
}

// Release ends a step without changing state.
func (s *Session) Release(t Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.epoch == s.epoch {
		s.busy = false
	}
}

// Reset clears the state. It is accepted at any time; results of steps
// begun earlier are discarded on Commit.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.state.Clear()
	s.busy = false
	s.updatedAt = time.Now()
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Busy reports whether a step is running.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

func (s *Session) touch() {
	s.mu.Lock()
	s.updatedAt = time.Now()
	s.mu.Unlock()
}

// UpdatedAt returns the time of the last activity.
func (s *Session) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}
