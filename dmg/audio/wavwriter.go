package audio

import (
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WavWriter is a SampleSink that records the resampled stream to a WAV file,
// useful for inspecting APU output without a sound device.
type WavWriter struct {
	file    *os.File
	encoder *wav.Encoder
	buf     *goaudio.IntBuffer
}

// NewWavWriter creates the file and writes a 16-bit stereo header at the
// given sample rate.
func NewWavWriter(path string, sampleRate int) (*WavWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("wav writer: %w", err)
	}
	return &WavWriter{
		file:    f,
		encoder: wav.NewEncoder(f, sampleRate, 16, 2, 1),
		buf: &goaudio.IntBuffer{
			Format: &goaudio.Format{NumChannels: 2, SampleRate: sampleRate},
		},
	}, nil
}

// AppendSamples implements SampleSink.
func (w *WavWriter) AppendSamples(samples []int16) error {
	if cap(w.buf.Data) < len(samples) {
		w.buf.Data = make([]int, len(samples))
	}
	w.buf.Data = w.buf.Data[:len(samples)]
	for i, s := range samples {
		w.buf.Data[i] = int(s)
	}
	if err := w.encoder.Write(w.buf); err != nil {
		return fmt.Errorf("wav writer: %w", err)
	}
	return nil
}

// Close finalizes the WAV header and closes the file.
func (w *WavWriter) Close() error {
	if err := w.encoder.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("wav writer: %w", err)
	}
	return w.file.Close()
}
