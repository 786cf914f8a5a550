package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-story/internal/config"
	"github.com/loqalabs/loqa-story/internal/history"
	"github.com/loqalabs/loqa-story/internal/llm"
	"github.com/loqalabs/loqa-story/internal/protocol"
	"github.com/loqalabs/loqa-story/internal/server"
	"github.com/loqalabs/loqa-story/internal/session"
	"github.com/loqalabs/loqa-story/internal/story"
	"github.com/loqalabs/loqa-story/internal/tts"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, generator llm.Generator) *Client {
	t.Helper()
	cfg := config.Default()
	cfg.LLM.MockDelayMS = 0
	cfg.Story.Phases = cfg.Story.Phases[:2]
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if generator == nil {
		generator = llm.NewMockGenerator(0)
	}
	synth, err := tts.NewSynthesizer(cfg.TTS)
	require.NoError(t, err)
	registry := session.NewRegistry(history.NewMemoryLog(), logger)
	orch := story.New(cfg.Story, cfg.LLM, generator, tts.NewAdapter(synth, cfg.TTS, logger), registry, nil, logger)
	srv := server.New(orch, registry, cfg, logger)
	mux := http.NewServeMux()
	srv.Register(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	c, err := New(ts.URL)
	require.NoError(t, err)
	return c
}

type failingGenerator struct{}

func (failingGenerator) Generate(context.Context, llm.Request, func(llm.Chunk) error) error {
	return errors.New("model offline")
}

func TestTellStreamsStory(t *testing.T) {
	c := startServer(t, nil)

	var text strings.Builder
	var statuses []string
	var audio, prompts int
	err := c.Tell(context.Background(), "a moth who loves lamps", "english", Handler{
		OnStatus: func(status, _ string) { statuses = append(statuses, status) },
		OnText:   func(content string) { text.WriteString(content) },
		OnAudio:  func(pcm []byte) { audio += len(pcm) },
		OnInteraction: func(req protocol.InteractionRequest) (string, error) {
			prompts++
			require.NotEmpty(t, req.PhasePrompt)
			return "add a candle", nil
		},
	})
	require.NoError(t, err)
	require.Equal(t, []string{protocol.StatusStarted, protocol.StatusCompleted}, statuses)
	require.Equal(t, 1, prompts)
	require.Positive(t, audio)
	require.Contains(t, text.String(), "a moth who loves lamps")
	require.Contains(t, text.String(), "add a candle")

	turns, err := c.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	require.Equal(t, "a moth who loves lamps", turns[0].Input)
}

func TestTellReportsServerError(t *testing.T) {
	c := startServer(t, failingGenerator{})
	err := c.Tell(context.Background(), "anything", "", Handler{})
	require.True(t, IsStoryError(err))
	require.ErrorContains(t, err, "model offline")
}

func TestTellHonoursContext(t *testing.T) {
	c := startServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := c.Tell(ctx, "a slow story", "", Handler{
		OnInteraction: func(protocol.InteractionRequest) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewRejectsWebsocketScheme(t *testing.T) {
	_, err := New("ws://localhost:8000")
	require.Error(t, err)
	c, err := New("https://stories.example/")
	require.NoError(t, err)
	require.Equal(t, "wss://stories.example/ws", c.wsURL())
}
