package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"
)

// SampleSource fills interleaved stereo float32 frames.
type SampleSource interface {
	Process(dst []float32)
}

// StreamReader adapts a SampleSource to the little-endian float32 byte
// stream the device player pulls from. It never reports EOF.
type StreamReader struct {
	mu     sync.Mutex
	source SampleSource
	buf    []float32
}

func NewStreamReader(source SampleSource) *StreamReader {
	return &StreamReader{source: source}
}

func (r *StreamReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	frames := len(p) / 8
	if frames == 0 {
		return 0, nil
	}
	need := frames * 2
	if cap(r.buf) < need {
		r.buf = make([]float32, need)
	}
	r.buf = r.buf[:need]
	r.source.Process(r.buf)
	for i, s := range r.buf {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(s))
	}
	return frames * 8, nil
}

func (r *StreamReader) Close() error { return nil }

// deviceBuffer keeps the gap between the mixer clock and what is audible short.
const deviceBuffer = 40 * time.Millisecond

// Output is the process-wide audio device: one mixer streamed continuously
// through one ebiten player.
type Output struct {
	mixer  *Mixer
	player *ebitaudio.Player
}

var (
	outputOnce sync.Once
	output     *Output
	outputErr  error
	outputRate int
)

// Shared returns the process-wide Output, creating the audio context and
// starting the device stream on first use. Later callers get the same
// instance with their gains applied; asking for a different sample rate is
// an error since the underlying context can only be created once. Voice
// parameters are fixed by the first caller.
func Shared(sampleRate int, opts MixerOptions) (*Output, error) {
	outputOnce.Do(func() {
		outputRate = sampleRate
		output, outputErr = openOutput(sampleRate, opts)
	})
	if outputErr != nil {
		return nil, outputErr
	}
	if err := output.adopt(outputRate, sampleRate, opts); err != nil {
		return nil, err
	}
	return output, nil
}

func (o *Output) adopt(rate, requested int, opts MixerOptions) error {
	if rate != requested {
		return fmt.Errorf("audio output already initialized at %d Hz (requested %d Hz)", rate, requested)
	}
	o.mixer.SetGains(opts.MasterGain, opts.MelodyGain)
	return nil
}

func openOutput(sampleRate int, opts MixerOptions) (*Output, error) {
	ctx := ebitaudio.NewContext(sampleRate)
	mixer := NewMixer(sampleRate, opts)
	pl, err := ctx.NewPlayerF32(NewStreamReader(mixer))
	if err != nil {
		return nil, fmt.Errorf("open audio player: %w", err)
	}
	pl.SetBufferSize(deviceBuffer)
	pl.Play()
	return &Output{mixer: mixer, player: pl}, nil
}

// Mixer returns the mixer feeding the device.
func (o *Output) Mixer() *Mixer { return o.mixer }

// Now is the shared clock.
func (o *Output) Now() float64 { return o.mixer.Now() }

// Queue forwards to the mixer.
func (o *Output) Queue(n Note) *Envelope { return o.mixer.Queue(n) }

// Position returns what the listener actually hears, which trails Now by
// the device buffer.
func (o *Output) Position() time.Duration {
	return o.player.Position()
}
