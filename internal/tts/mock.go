package tts

import (
	"context"
	"time"
	"unicode/utf8"
)

// mockMillisPerRune approximates speaking rate for silent mock audio.
const mockMillisPerRune = 60

type mockSynth struct {
	sampleRate int
	channels   int
	frame      time.Duration
}

// NewMockSynth produces 16-bit silence sized to the text, split into frames of
// the given duration.
func NewMockSynth(sampleRate, channels int, frame time.Duration) Synthesizer {
	if frame <= 0 {
		frame = 400 * time.Millisecond
	}
	return &mockSynth{sampleRate: sampleRate, channels: channels, frame: frame}
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)

		total := time.Duration(utf8.RuneCountInString(req.Text)*mockMillisPerRune) * time.Millisecond
		bytesPerFrame := int(m.frame.Seconds()*float64(m.sampleRate)) * m.channels * 2
		sequence := 0
		for remaining := total; remaining > 0; remaining -= m.frame {
			size := bytesPerFrame
			if remaining < m.frame {
				size = int(remaining.Seconds()*float64(m.sampleRate)) * m.channels * 2
			}
			chunk := SynthChunk{
				SessionID:  req.SessionID,
				Sequence:   sequence,
				SampleRate: m.sampleRate,
				Channels:   m.channels,
				PCM:        make([]byte, size),
				Final:      remaining <= m.frame,
			}
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			case chunks <- chunk:
			}
			sequence++
		}
	}()
	return chunks, errs
}
