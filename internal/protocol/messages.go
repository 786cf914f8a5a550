package protocol

import "time"

// MessageType tags every JSON message exchanged on a story connection.
type MessageType string

const (
	TypeTranscription       MessageType = "transcription"
	TypeInteractionResponse MessageType = "interaction_response"

	TypeStatus             MessageType = "status"
	TypeText               MessageType = "text"
	TypeInteractionRequest MessageType = "interaction_request"
	TypeError              MessageType = "error"
)

const (
	StatusStarted   = "started"
	StatusCompleted = "completed"
)

// Inbound is any client message. Only the fields of its Type are populated.
type Inbound struct {
	Type     MessageType `json:"type"`
	Text     string      `json:"text,omitempty"`
	Language string      `json:"language,omitempty"`
	Content  string      `json:"content,omitempty"`
}

// Status marks the start or end of a story run.
type Status struct {
	Type     MessageType `json:"type"`
	Status   string      `json:"status"`
	Message  string      `json:"message"`
	Language string      `json:"language,omitempty"`
}

// Text carries one narrative fragment as produced by the generator.
type Text struct {
	Type    MessageType `json:"type"`
	Content string      `json:"content"`
	Phase   string      `json:"phase,omitempty"`
}

// InteractionRequest pauses the run until an interaction_response arrives.
type InteractionRequest struct {
	Type        MessageType `json:"type"`
	Message     string      `json:"message"`
	PhasePrompt string      `json:"phase_prompt"`
}

// Error reports an unrecoverable session failure.
type Error struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

func NewStatus(status, message, language string) Status {
	return Status{Type: TypeStatus, Status: status, Message: message, Language: language}
}

func NewText(content, phase string) Text {
	return Text{Type: TypeText, Content: content, Phase: phase}
}

func NewInteractionRequest(message, phasePrompt string) InteractionRequest {
	return InteractionRequest{Type: TypeInteractionRequest, Message: message, PhasePrompt: phasePrompt}
}

func NewError(message string) Error {
	return Error{Type: TypeError, Message: message}
}

// StoryEvent is published on the bus at story lifecycle transitions.
type StoryEvent struct {
	SessionID  string    `json:"session_id"`
	Kind       string    `json:"kind"`
	Phase      string    `json:"phase,omitempty"`
	PhaseIndex int       `json:"phase_index"`
	Language   string    `json:"language,omitempty"`
	Chars      int       `json:"chars,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

const (
	EventStarted        = "started"
	EventPhaseCompleted = "phase_completed"
	EventCompleted      = "completed"
	EventAborted        = "aborted"
)

const SubjectStoryEventPrefix = "story.events"

// SubjectForEvent returns the bus subject for an event kind.
func SubjectForEvent(kind string) string {
	return SubjectStoryEventPrefix + "." + kind
}
