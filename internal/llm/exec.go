package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/mattn/go-shellwords"
)

// execGenerator runs an external command per request. The command receives
// the request as JSON on stdin and writes one JSON object per line to stdout.
type execGenerator struct {
	cmd []string
}

type execRequest struct {
	Prompt      string  `json:"prompt"`
	System      string  `json:"system"`
	Language    string  `json:"language"`
	Phase       string  `json:"phase,omitempty"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

type execResponse struct {
	Content          string `json:"content"`
	Error            string `json:"error,omitempty"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
}

func NewExecGenerator(command string) (Generator, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse llm command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("llm command empty")
	}
	return &execGenerator{cmd: args}, nil
}

func (g *execGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	prompt, err := RenderPrompt(req)
	if err != nil {
		return err
	}
	input, err := json.Marshal(execRequest{
		Prompt:      prompt,
		System:      SystemPrompt(req.Language),
		Language:    req.Language,
		Phase:       req.Phase,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	})
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, g.cmd[0], g.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start llm command: %w", err)
	}

	start := time.Now()
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var resp execResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			return fmt.Errorf("decode llm exec response: %w", err)
		}
		if resp.Error != "" {
			_ = cmd.Wait()
			return fmt.Errorf("llm exec command: %s", resp.Error)
		}
		if resp.Content == "" {
			continue
		}
		if err := consumer(Chunk{
			SessionID:        req.SessionID,
			Content:          resp.Content,
			Partial:          true,
			PromptTokens:     resp.PromptTokens,
			CompletionTokens: resp.CompletionTokens,
			Latency:          time.Since(start),
		}); err != nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return fmt.Errorf("read llm exec output: %w", err)
	}
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("llm exec command failed: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}
