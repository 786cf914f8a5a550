package session

import "fmt"

// State is the closed set of lifecycle states of a story run.
type State interface {
	fmt.Stringer
	state()
}

type Idle struct{}

// Generating means phase Phase is streaming text and audio.
type Generating struct{ Phase int }

// AwaitingInteraction means Phase finished and the run waits for the client.
type AwaitingInteraction struct{ Phase int }

type Completed struct{}

// Aborted records why a run stopped early.
type Aborted struct{ Err error }

func (Idle) state()                {}
func (Generating) state()          {}
func (AwaitingInteraction) state() {}
func (Completed) state()           {}
func (Aborted) state()             {}

func (Idle) String() string                  { return "idle" }
func (s Generating) String() string          { return fmt.Sprintf("generating(%d)", s.Phase) }
func (s AwaitingInteraction) String() string { return fmt.Sprintf("awaiting_interaction(%d)", s.Phase) }
func (Completed) String() string             { return "completed" }

func (s Aborted) String() string {
	if s.Err == nil {
		return "aborted"
	}
	return "aborted: " + s.Err.Error()
}

// Terminal reports whether no further transitions are expected in this run.
func Terminal(s State) bool {
	switch s.(type) {
	case Completed, Aborted:
		return true
	}
	return false
}
