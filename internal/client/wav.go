package client

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVWriter encodes streamed 16-bit little-endian PCM frames into a WAV file.
// Frames may split a sample; the odd byte is carried to the next write.
type WAVWriter struct {
	enc    *wav.Encoder
	format *audio.Format
	carry  []byte
	bytes  int
}

func NewWAVWriter(w io.WriteSeeker, sampleRate, channels int) *WAVWriter {
	return &WAVWriter{
		enc:    wav.NewEncoder(w, sampleRate, 16, channels, 1),
		format: &audio.Format{NumChannels: channels, SampleRate: sampleRate},
	}
}

func (w *WAVWriter) Write(pcm []byte) (int, error) {
	data := append(w.carry, pcm...)
	whole := len(data) &^ 1
	samples := make([]int, whole/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(data[i*2:])))
	}
	w.carry = append(w.carry[:0:0], data[whole:]...)
	if len(samples) > 0 {
		if err := w.enc.Write(&audio.IntBuffer{Format: w.format, Data: samples, SourceBitDepth: 16}); err != nil {
			return 0, fmt.Errorf("write wav: %w", err)
		}
	}
	w.bytes += len(pcm)
	return len(pcm), nil
}

// Bytes is the PCM payload size accepted so far.
func (w *WAVWriter) Bytes() int { return w.bytes }

// Close finalizes the WAV header. A dangling half sample is dropped.
func (w *WAVWriter) Close() error {
	if err := w.enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
