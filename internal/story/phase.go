package story

import "github.com/loqalabs/loqa-story/internal/config"

// Phase is one read-only entry of the narrative template.
type Phase struct {
	Index             int
	Name              string
	MaxTokens         int
	TargetWords       string
	Directive         string
	InteractivePrompt string
	Final             bool
}

// PhasesFromConfig builds the ordered phase list. Without phased generation
// the story is a single unnamed phase using the model's default budget.
func PhasesFromConfig(cfg config.StoryConfig, defaultMaxTokens int) []Phase {
	if !cfg.Phased || len(cfg.Phases) == 0 {
		return []Phase{{Index: 0, MaxTokens: defaultMaxTokens, Final: true}}
	}
	phases := make([]Phase, len(cfg.Phases))
	for i, p := range cfg.Phases {
		phases[i] = Phase{
			Index:             i,
			Name:              p.Name,
			MaxTokens:         p.MaxTokens,
			TargetWords:       p.TargetWords,
			Directive:         p.Description,
			InteractivePrompt: p.InteractivePrompt,
			Final:             i == len(cfg.Phases)-1,
		}
	}
	return phases
}
