package tts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"testing"
	"time"

	"github.com/loqalabs/loqa-story/internal/config"
	"github.com/stretchr/testify/require"
)

type scriptedSynth struct {
	frames  [][]byte
	err     error
	lastReq SynthRequest
}

func (s *scriptedSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	s.lastReq = req
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		for i, f := range s.frames {
			chunks <- SynthChunk{Sequence: i, PCM: f}
		}
		if s.err != nil {
			errs <- s.err
		}
	}()
	return chunks, errs
}

func testAdapter(synth Synthesizer, voice string) *Adapter {
	cfg := config.Default().TTS
	cfg.Voice = voice
	return NewAdapter(synth, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAdapterEmitsFramesInOrder(t *testing.T) {
	synth := &scriptedSynth{frames: [][]byte{{1}, {}, {2}, {3}}}
	var got [][]byte
	err := testAdapter(synth, "").Stream(context.Background(), "*Boom* went the drum…", "french", func(pcm []byte) error {
		got = append(got, pcm)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, [][]byte{{1}, {2}, {3}}, got)
	require.Equal(t, "Boom went the drum", synth.lastReq.Text)
	require.Equal(t, "fr-FR", synth.lastReq.Voice)
	require.Equal(t, "french", synth.lastReq.Language)
}

func TestAdapterKeepsEmittedFramesOnFailure(t *testing.T) {
	boom := errors.New("engine down")
	synth := &scriptedSynth{frames: [][]byte{{1}, {2}}, err: boom}
	var got int
	err := testAdapter(synth, "").Stream(context.Background(), "Hello.", "en", func([]byte) error {
		got++
		return nil
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 2, got)
}

func TestAdapterStopsEmittingAfterEmitError(t *testing.T) {
	closed := errors.New("closed")
	synth := &scriptedSynth{frames: [][]byte{{1}, {2}, {3}}}
	calls := 0
	err := testAdapter(synth, "").Stream(context.Background(), "Hello.", "en", func([]byte) error {
		calls++
		return closed
	})
	require.ErrorIs(t, err, closed)
	require.Equal(t, 1, calls)
}

func TestAdapterSkipsEmptyText(t *testing.T) {
	synth := &scriptedSynth{frames: [][]byte{{1}}}
	err := testAdapter(synth, "").Stream(context.Background(), " ** ", "en", func([]byte) error {
		t.Fatal("unexpected frame")
		return nil
	})
	require.NoError(t, err)
}

func TestAdapterConfiguredVoiceWins(t *testing.T) {
	require.Equal(t, "custom", testAdapter(&scriptedSynth{}, "custom").Voice("french"))
	require.Equal(t, "en-US", testAdapter(&scriptedSynth{}, "").Voice("klingon"))
}

func TestVoiceFor(t *testing.T) {
	require.Equal(t, "es-ES", VoiceFor("Spanish", "x"))
	require.Equal(t, "de-DE", VoiceFor("de", "x"))
	require.Equal(t, "fr-CA", VoiceFor("fr_ca", "x"))
	require.Equal(t, "x", VoiceFor("", "x"))
	require.Equal(t, "x", VoiceFor("xx-YY", "x"))
}

func TestCleanText(t *testing.T) {
	require.Equal(t, `He said "hi" and left`, CleanText("He said “hi” and left"))
	require.Equal(t, "a b c", CleanText("a—b  -  c"))
	require.Equal(t, "bang it went", CleanText("*bang* it went"))
	require.Equal(t, "done", CleanText("[done]…"))
	require.Equal(t, "don't", CleanText("don’t"))
}

func TestMockSynthFrames(t *testing.T) {
	synth := NewMockSynth(16000, 1, 100*time.Millisecond)
	chunks, errs := synth.Synthesize(context.Background(), SynthRequest{Text: "abcde"})
	var total, count int
	var last SynthChunk
	for c := range chunks {
		require.Equal(t, count, c.Sequence)
		total += len(c.PCM)
		count++
		last = c
	}
	require.NoError(t, <-errs)
	// 5 runes at 60ms = 300ms of 16-bit mono audio.
	require.Equal(t, 3, count)
	require.Equal(t, 9600, total)
	require.True(t, last.Final)
}

func TestExecSynthDecodesFrames(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	synth, err := NewExecSynth(`sh -c 'cat >/dev/null; echo "{\"pcm_base64\":\"AQI=\"}"; echo "{\"pcm_base64\":\"Aw==\",\"final\":true}"'`, 16000, 1)
	require.NoError(t, err)
	var got [][]byte
	err = testAdapter(synth, "").Stream(context.Background(), "Hi.", "en", func(pcm []byte) error {
		got = append(got, pcm)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, [][]byte{{1, 2}, {3}}, got)
}
