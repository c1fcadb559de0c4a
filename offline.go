package textmusic

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	intaudio "github.com/cbegin/textmusic-go/internal/audio"
	"github.com/cbegin/textmusic-go/internal/scheduler"
	"github.com/cbegin/textmusic-go/internal/timeline"
	"github.com/cbegin/textmusic-go/internal/timers"
)

// RenderTimeline synthesizes the audio tasks of tl offline and returns
// interleaved stereo samples covering the timeline plus tail seconds.
func RenderTimeline(tl timeline.Timeline, bank scheduler.Bank, sampleRate int, opts intaudio.MixerOptions, tail float64) []float32 {
	mixer := intaudio.NewMixer(sampleRate, opts)
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	// Highlights are irrelevant offline; the manual clock is never advanced.
	scheduler.New(mixer, timers.NewManual(), quiet).Start(tl, bank, 0, nil, nil)

	frames := int(math.Ceil((tl.TotalDuration + math.Max(tail, 0)) * float64(sampleRate)))
	out := make([]float32, frames*2)
	mixer.Process(out)
	return out
}

// TimbreSource is a bank that can say which tracks it voices.
type TimbreSource interface {
	scheduler.Bank
	Has(track int) bool
}

// RenderTracks builds a timeline from tracks, keeping the tracks bank can
// voice, and renders it.
func RenderTracks(tracks []timeline.Track, bank TimbreSource, sampleRate int, opts intaudio.MixerOptions, tail float64) []float32 {
	return RenderTimeline(timeline.Build(tracks, bank.Has), bank, sampleRate, opts, tail)
}

// EncodeWAVFloat32LE wraps samples in a WAVE_FORMAT_IEEE_FLOAT container.
func EncodeWAVFloat32LE(samples []float32, sampleRate int, channels int) []byte {
	const headerSize = 44
	dataSize := len(samples) * 4
	out := make([]byte, headerSize+dataSize)
	le := binary.LittleEndian

	copy(out[0:], "RIFF")
	le.PutUint32(out[4:], uint32(headerSize-8+dataSize))
	copy(out[8:], "WAVE")
	copy(out[12:], "fmt ")
	le.PutUint32(out[16:], 16)
	le.PutUint16(out[20:], 3) // IEEE float
	le.PutUint16(out[22:], uint16(channels))
	le.PutUint32(out[24:], uint32(sampleRate))
	le.PutUint32(out[28:], uint32(sampleRate*channels*4))
	le.PutUint16(out[32:], uint16(channels*4))
	le.PutUint16(out[34:], 32)
	copy(out[36:], "data")
	le.PutUint32(out[40:], uint32(dataSize))

	for i, s := range samples {
		le.PutUint32(out[headerSize+i*4:], math.Float32bits(s))
	}
	return out
}

// WriteWAV16 writes samples as 16-bit PCM, the format most players accept.
func WriteWAV16(w io.WriteSeeker, samples []float32, sampleRate int, channels int) error {
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		SourceBitDepth: 16,
		Data:           make([]int, len(samples)),
	}
	for i, s := range samples {
		buf.Data[i] = int(math.Round(float64(s) * math.MaxInt16))
	}
	enc := wav.NewEncoder(w, sampleRate, 16, channels, 1)
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
