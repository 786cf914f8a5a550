package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-story/internal/config"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, g Generator, req Request) string {
	t.Helper()
	var b strings.Builder
	err := g.Generate(context.Background(), req, func(c Chunk) error {
		b.WriteString(c.Content)
		return nil
	})
	require.NoError(t, err)
	return b.String()
}

func TestRenderPromptPhaseFraming(t *testing.T) {
	prompt, err := RenderPrompt(Request{
		Seed:        "a brave mouse",
		Language:    "french",
		Phase:       "Climax",
		Directive:   "Present the main conflict.",
		TargetWords: "600-750",
		PriorText:   "Lulu ran.",
		Steering:    []string{"add a dragon"},
	})
	require.NoError(t, err)
	require.Contains(t, prompt, "You MUST write ONLY in french.")
	require.Contains(t, prompt, "CURRENT PHASE: Climax (600-750 words)")
	require.Contains(t, prompt, "by elevating the conflict")
	require.Contains(t, prompt, "STORY SO FAR:\nLulu ran.")
	require.Contains(t, prompt, "- add a dragon")
	require.Contains(t, prompt, `"a brave mouse"`)
	require.Contains(t, prompt, "creates anticipation")
}

func TestRenderPromptContinuesPreviousStory(t *testing.T) {
	prompt, err := RenderPrompt(Request{Seed: "more please", PreviousStory: "Once a fox.", Final: true})
	require.NoError(t, err)
	require.Contains(t, prompt, "This is a follow-up request.")
	require.Contains(t, prompt, "PREVIOUS STORY:\nOnce a fox.")
	require.Contains(t, prompt, "ONLY in english")
	require.NotContains(t, prompt, "CURRENT PHASE")
	require.NotContains(t, prompt, "creates anticipation")
}

func TestMockGeneratorIsDeterministic(t *testing.T) {
	g := NewMockGenerator(0)
	req := Request{Seed: "a fox", Phase: "Exposition", Steering: []string{"add a dragon"}}
	first := collect(t, g, req)
	require.Equal(t, first, collect(t, g, req))
	require.True(t, strings.HasPrefix(first, "This is the exposition of a tale about a fox. "))
	require.Contains(t, first, "add a dragon")
}

func TestMockGeneratorStopsOnConsumerError(t *testing.T) {
	boom := fmt.Errorf("boom")
	calls := 0
	err := NewMockGenerator(0).Generate(context.Background(), Request{Seed: "x"}, func(Chunk) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)
}

func TestOllamaGeneratorStreams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.True(t, req.Stream)
		require.Equal(t, 650, req.Options.NumPredict)
		require.Contains(t, req.Prompt, "CURRENT PHASE: Exposition")
		fmt.Fprintln(w, `{"response":"Once upon ","done":false}`)
		fmt.Fprintln(w, `{"response":"a time.","done":false}`)
		fmt.Fprintln(w, `{"response":"","done":true,"eval_count":4}`)
	}))
	defer srv.Close()

	got := collect(t, NewOllamaGenerator(srv.URL, "tiny"), Request{Seed: "x", Phase: "Exposition", MaxTokens: 650})
	require.Equal(t, "Once upon a time.", got)
}

func TestOllamaGeneratorStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewOllamaGenerator(srv.URL, "").Generate(context.Background(), Request{}, func(Chunk) error { return nil })
	require.ErrorContains(t, err, "500")
}

func TestOpenRouterGeneratorParsesSSE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		require.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
		require.Equal(t, "m1", req.Model)
		require.True(t, req.Stream)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": OPENROUTER PROCESSING\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hello \"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"there.\"},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ignored\"}}]}\n\n")
	}))
	defer srv.Close()

	got := collect(t, NewOpenRouterGenerator(srv.URL, "secret", "m1"), Request{Seed: "x"})
	require.Equal(t, "Hello there.", got)
}

func TestOpenRouterGeneratorAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key"}}`)
	}))
	defer srv.Close()

	err := NewOpenRouterGenerator(srv.URL, "x", "m").Generate(context.Background(), Request{}, func(Chunk) error { return nil })
	require.ErrorContains(t, err, "bad key")
}

func TestExecGeneratorStreamsLines(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	g, err := NewExecGenerator(`sh -c 'cat >/dev/null; echo "{\"content\":\"One. \"}"; echo "{\"content\":\"Two.\"}"'`)
	require.NoError(t, err)
	require.Equal(t, "One. Two.", collect(t, g, Request{Seed: "x"}))
}

func TestExecGeneratorFailure(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	g, err := NewExecGenerator(`sh -c 'cat >/dev/null; exit 3'`)
	require.NoError(t, err)
	err = g.Generate(context.Background(), Request{}, func(Chunk) error { return nil })
	require.Error(t, err)
}

func TestNewGeneratorModes(t *testing.T) {
	cfg := config.Default().LLM
	g, err := NewGenerator(cfg)
	require.NoError(t, err)
	require.NotNil(t, g)

	cfg.Mode = "exec"
	cfg.Command = ""
	_, err = NewGenerator(cfg)
	require.Error(t, err)

	cfg.Mode = "bogus"
	_, err = NewGenerator(cfg)
	require.Error(t, err)
}
