package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/loqalabs/loqa-story/internal/segment"
)

var (
	ErrSessionExists   = errors.New("session already exists")
	ErrPhaseRegression = errors.New("phase index must increase")
	ErrNotAwaiting     = errors.New("no interaction outstanding")
)

// Session is the per-connection record of one story run. All methods are
// safe for concurrent use.
type Session struct {
	id        string
	createdAt time.Time

	mu         sync.Mutex
	state      State
	phaseIndex int
	input      string
	language   string
	narrative  strings.Builder
	pending    string
	awaiting   bool
	steering   []string
}

func newSession(id string, now time.Time) *Session {
	return &Session{id: id, createdAt: now, state: Idle{}, phaseIndex: -1}
}

func (s *Session) ID() string { return s.id }

func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Reset starts a new run on the same connection.
func (s *Session) Reset(input, language string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Idle{}
	s.phaseIndex = -1
	s.input = input
	s.language = language
	s.narrative.Reset()
	s.pending = ""
	s.awaiting = false
	s.steering = nil
}

// Transition enters phase index, which must be greater than the current one.
// Text of the previous phase is separated from the next by a single space.
func (s *Session) Transition(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index <= s.phaseIndex {
		return fmt.Errorf("%w: %d -> %d", ErrPhaseRegression, s.phaseIndex, index)
	}
	if Terminal(s.state) {
		return fmt.Errorf("session %s is %s", s.id, s.state)
	}
	if n := s.narrative.Len(); n > 0 {
		r, _ := utf8.DecodeLastRuneInString(s.narrative.String())
		if !unicode.IsSpace(r) {
			s.narrative.WriteByte(' ')
		}
	}
	s.phaseIndex = index
	s.state = Generating{Phase: index}
	s.awaiting = false
	return nil
}

// AwaitInteraction marks the current phase as waiting for client input.
func (s *Session) AwaitInteraction() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.awaiting = true
	s.state = AwaitingInteraction{Phase: s.phaseIndex}
}

// Steer records the client's answer to the outstanding interaction request.
// Steering never enters the narrative.
func (s *Session) Steer(content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.awaiting {
		return ErrNotAwaiting
	}
	s.awaiting = false
	if content = strings.TrimSpace(content); content != "" {
		s.steering = append(s.steering, content)
	}
	return nil
}

// ClearInteraction drops the outstanding interaction without steering.
func (s *Session) ClearInteraction() {
	s.mu.Lock()
	s.awaiting = false
	s.mu.Unlock()
}

func (s *Session) Complete() {
	s.mu.Lock()
	s.state = Completed{}
	s.awaiting = false
	s.mu.Unlock()
}

func (s *Session) Abort(err error) {
	s.mu.Lock()
	s.state = Aborted{Err: err}
	s.awaiting = false
	s.mu.Unlock()
}

// Feed appends a generated fragment to the narrative and returns the
// sentences it completed. At most one incomplete sentence stays pending.
func (s *Session) Feed(fragment string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.narrative.WriteString(fragment)
	sentences, rest := segment.Split(s.pending + fragment)
	s.pending = rest
	out := sentences[:0]
	for _, sentence := range sentences {
		if trimmed := strings.TrimSpace(sentence); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Flush empties the pending buffer at the end of a phase. An unterminated
// remainder gets a period, which is appended to the narrative as well.
func (s *Session) Flush() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rest := s.pending
	s.pending = ""
	if strings.TrimSpace(rest) == "" {
		return ""
	}
	if !segment.Terminated(rest) {
		s.narrative.WriteString(".")
	}
	return strings.TrimSpace(segment.EnsureTerminated(rest))
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) PhaseIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phaseIndex
}

func (s *Session) Awaiting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.awaiting
}

func (s *Session) Input() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.input
}

func (s *Session) Language() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.language
}

func (s *Session) Narrative() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.narrative.String()
}

func (s *Session) Pending() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Steering returns a copy of the steering inputs collected so far.
func (s *Session) Steering() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.steering...)
}
