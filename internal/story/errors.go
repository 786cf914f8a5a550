package story

import (
	"errors"
	"fmt"

	"github.com/loqalabs/loqa-story/internal/gate"
)

type Stage string

const (
	StageGeneration Stage = "generation"
	StageSynthesis  Stage = "synthesis"
)

// UpstreamError wraps a failure of the generation or synthesis collaborator.
type UpstreamError struct {
	Stage Stage
	Phase string
	Err   error
}

func (e *UpstreamError) Error() string {
	if e.Phase == "" {
		return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s failed in phase %q: %v", e.Stage, e.Phase, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// clientMessage is the text of the error message sent to the client.
func clientMessage(err error) string {
	var upstream *UpstreamError
	switch {
	case errors.As(err, &upstream):
		switch upstream.Stage {
		case StageSynthesis:
			return "Audio synthesis failed: " + upstream.Err.Error()
		default:
			return "Story generation failed: " + upstream.Err.Error()
		}
	case errors.Is(err, gate.ErrTimeout):
		return gate.ErrTimeout.Error()
	default:
		return "Internal error: " + err.Error()
	}
}
