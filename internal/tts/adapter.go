package tts

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-story/internal/config"
)

// Adapter turns one sentence at a time into audio frames for a session.
type Adapter struct {
	synth        Synthesizer
	voice        string
	defaultVoice string
	logger       *slog.Logger
}

func NewAdapter(synth Synthesizer, cfg config.TTSConfig, logger *slog.Logger) *Adapter {
	return &Adapter{
		synth:        synth,
		voice:        cfg.Voice,
		defaultVoice: cfg.DefaultVoice,
		logger:       logger.With(slog.String("component", "tts")),
	}
}

// Voice returns the configured voice, or the voice for language.
func (a *Adapter) Voice(language string) string {
	if a.voice != "" {
		return a.voice
	}
	return VoiceFor(language, a.defaultVoice)
}

// Stream synthesizes sentence and passes every non-empty PCM frame to emit in
// order. It returns only after the synthesizer has finished, so callers can
// rely on frames of consecutive sentences never interleaving. Frames emitted
// before a failure stay emitted.
func (a *Adapter) Stream(ctx context.Context, sentence, language string, emit func([]byte) error) error {
	text := CleanText(sentence)
	if text == "" {
		return nil
	}
	chunks, errs := a.synth.Synthesize(ctx, SynthRequest{
		Text:     text,
		Voice:    a.Voice(language),
		Language: language,
	})

	var emitErr, synthErr error
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if emitErr != nil || len(chunk.PCM) == 0 {
				continue
			}
			emitErr = emit(chunk.PCM)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil && synthErr == nil {
				synthErr = err
			}
		}
	}
	if emitErr != nil {
		return emitErr
	}
	if synthErr != nil {
		a.logger.Debug("synthesis failed", slog.Int("chars", len(text)), slog.String("error", synthErr.Error()))
		return fmt.Errorf("synthesize sentence: %w", synthErr)
	}
	return nil
}
