package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// openRouterGenerator speaks the OpenAI-compatible chat completions API with
// server-sent events, as served by OpenRouter and most hosted gateways.
type openRouterGenerator struct {
	client *openai.Client
	model  string
}

func NewOpenRouterGenerator(endpoint, apiKey, model string) Generator {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimRight(endpoint, "/")
	return &openRouterGenerator{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (g *openRouterGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	prompt, err := RenderPrompt(req)
	if err != nil {
		return err
	}
	model := req.Model
	if model == "" {
		model = g.model
	}

	stream, err := g.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt(req.Language)},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Stream:      true,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
		TopP:        float32(req.TopP),
	})
	if err != nil {
		return fmt.Errorf("openrouter: %w", err)
	}
	defer stream.Close()

	start := time.Now()
	for {
		event, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("openrouter stream: %w", err)
		}
		chunk := Chunk{SessionID: req.SessionID, Partial: true, Latency: time.Since(start)}
		if len(event.Choices) > 0 {
			chunk.Content = event.Choices[0].Delta.Content
			chunk.Partial = event.Choices[0].FinishReason == ""
		}
		if event.Usage != nil {
			chunk.PromptTokens = event.Usage.PromptTokens
			chunk.CompletionTokens = event.Usage.CompletionTokens
		}
		if chunk.Content == "" {
			continue
		}
		if err := consumer(chunk); err != nil {
			return err
		}
	}
}
