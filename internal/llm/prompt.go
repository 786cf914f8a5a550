package llm

import (
	"fmt"
	"strings"
	"text/template"
)

type phaseFraming struct {
	previous     string
	continuation string
	start        string
}

var freshFraming = phaseFraming{
	previous:     "This is a new story request. Create an original story based on the child's input.",
	continuation: "with a fresh narrative",
	start:        "Start with a strong hook",
}

var phaseFramings = map[string]phaseFraming{
	"exposition": freshFraming,
	"rising action": {
		previous:     "Now that the scene is set, develop the story further.",
		continuation: "by building upon the established foundation",
		start:        "Expand on the existing elements",
	},
	"climax": {
		previous:     "The story has built up tension, now bring it to its peak.",
		continuation: "by elevating the conflict",
		start:        "Drive the story towards its climactic moment",
	},
	"resolution": {
		previous:     "The climax has occurred, now bring the story to a satisfying close.",
		continuation: "by wrapping up all story elements",
		start:        "Guide the story to its conclusion",
	},
}

var storyTemplate = template.Must(template.New("story").Parse(`You are a master storyteller for young children aged 6 years old.

STRICT LANGUAGE RULE:
You MUST write ONLY in {{.Language}}. No other language is allowed.

{{.Previous}}
{{- if .PreviousStory}}

PREVIOUS STORY:
{{.PreviousStory}}
{{- end}}
{{- if .Phase}}

CURRENT PHASE: {{.Phase}}{{if .TargetWords}} ({{.TargetWords}} words){{end}}
{{.Directive}}
{{- end}}
{{- if .PriorText}}

STORY SO FAR:
{{.PriorText}}
{{- end}}
{{- if .Steering}}

LISTENER SUGGESTIONS (weave these into what comes next):
{{- range .Steering}}
- {{.}}
{{- end}}
{{- end}}

STORYTELLING FORMAT:
- Begin the story {{.Continuation}}
- {{.Start}}
- No introductions or meta-commentary
- No addressing the listener directly
- Write as a continuous narrative
- NEVER end mid-sentence
{{- if not .Final}}
- End with a complete sentence that creates anticipation
{{- end}}

TEXT-TO-SPEECH FORMATTING:
- Use ONLY periods, commas, question marks, exclamation marks and simple quotes
- Write all numbers as words
- Use complete words, no abbreviations
- No asterisks, dashes, parentheses, brackets or ellipsis
- No sound effects or formatting markers

CONTENT RULES:
- Age-appropriate content only
- Focus on positive themes

CHILD'S INPUT:
"{{.Seed}}"
`))

type promptData struct {
	Request
	Previous     string
	Continuation string
	Start        string
}

// RenderPrompt builds the user prompt for one generation request.
func RenderPrompt(req Request) (string, error) {
	framing, ok := phaseFramings[strings.ToLower(strings.TrimSpace(req.Phase))]
	switch {
	case ok:
	case req.PreviousStory != "":
		framing = phaseFraming{
			previous:     "This is a follow-up request. Continue with the same universe and characters, maintaining consistency with the previous story.",
			continuation: "by continuing the adventure",
			start:        "Pick up where we left off",
		}
	default:
		framing = freshFraming
	}
	if req.Language == "" {
		req.Language = "english"
	}
	var b strings.Builder
	err := storyTemplate.Execute(&b, promptData{
		Request:      req,
		Previous:     framing.previous,
		Continuation: framing.continuation,
		Start:        framing.start,
	})
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return b.String(), nil
}

// SystemPrompt is sent alongside the user prompt by chat-style backends.
func SystemPrompt(language string) string {
	if language == "" {
		language = "english"
	}
	return fmt.Sprintf("You are a children's storyteller. You write only in %s and only plain narrative prose.", language)
}
