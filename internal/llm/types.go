package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/loqalabs/loqa-story/internal/config"
)

// Request describes one phase of narrative generation.
type Request struct {
	SessionID     string
	Seed          string
	Language      string
	Phase         string
	Directive     string
	TargetWords   string
	MaxTokens     int
	PriorText     string
	Steering      []string
	PreviousStory string
	Final         bool
	Model         string
	Temperature   float64
	TopP          float64
}

// Chunk represents streamed model output.
type Chunk struct {
	SessionID        string
	Content          string
	Partial          bool
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
}

// Generator defines a pluggable LLM backend. Implementations call consumer
// once per fragment, in order, and stop at the first consumer error.
type Generator interface {
	Generate(ctx context.Context, req Request, consumer func(Chunk) error) error
}

// RequestFromConfig builds request defaults from config.
func RequestFromConfig(cfg config.LLMConfig) Request {
	return Request{
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		TopP:        cfg.TopP,
	}
}

// NewGenerator selects the backend named by cfg.Mode.
func NewGenerator(cfg config.LLMConfig) (Generator, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockGenerator(time.Duration(cfg.MockDelayMS) * time.Millisecond), nil
	case "ollama":
		return NewOllamaGenerator(cfg.Endpoint, cfg.Model), nil
	case "openrouter":
		return NewOpenRouterGenerator(cfg.Endpoint, cfg.APIKey, cfg.Model), nil
	case "exec":
		return NewExecGenerator(cfg.Command)
	default:
		return nil, fmt.Errorf("unknown llm mode %q", cfg.Mode)
	}
}
