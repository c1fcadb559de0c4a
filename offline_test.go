package textmusic

import (
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"

	intaudio "github.com/cbegin/textmusic-go/internal/audio"
	"github.com/cbegin/textmusic-go/internal/instrument"
)

func TestRenderTracksProducesAudio(t *testing.T) {
	bank := instrument.NewBank(instrument.DefaultNames, instrument.Builtin{}, quietLogger())
	if err := bank.Load(context.Background(), nil); err != nil {
		t.Fatalf("load bank: %v", err)
	}
	const rate = 22050
	samples := RenderTracks(hiTracks(), bank, rate, intaudio.DefaultMixerOptions(), 0.5)

	wantFrames := int(math.Ceil(1.5 * rate))
	if len(samples) != wantFrames*2 {
		t.Fatalf("samples = %d, want %d", len(samples), wantFrames*2)
	}
	var peak float64
	for _, s := range samples {
		if a := math.Abs(float64(s)); a > peak {
			peak = a
		}
		if s > 1 || s < -1 {
			t.Fatalf("sample %v out of range", s)
		}
	}
	if peak < 0.01 {
		t.Fatalf("render is silent, peak %v", peak)
	}
}

func TestEncodeWAVFloat32LEHeader(t *testing.T) {
	samples := []float32{0, 0.5, -0.5, 1}
	wav := EncodeWAVFloat32LE(samples, 44100, 2)
	le := binary.LittleEndian

	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Fatalf("bad chunk ids")
	}
	if got := le.Uint32(wav[4:]); got != uint32(36+len(samples)*4) {
		t.Fatalf("riff size = %d", got)
	}
	if le.Uint16(wav[20:]) != 3 || le.Uint16(wav[22:]) != 2 || le.Uint32(wav[24:]) != 44100 {
		t.Fatalf("bad fmt chunk")
	}
	if le.Uint32(wav[28:]) != 44100*2*4 || le.Uint16(wav[32:]) != 8 || le.Uint16(wav[34:]) != 32 {
		t.Fatalf("bad byte rate or block align")
	}
	if le.Uint32(wav[40:]) != uint32(len(samples)*4) {
		t.Fatalf("data size = %d", le.Uint32(wav[40:]))
	}
	if got := math.Float32frombits(le.Uint32(wav[44+4:])); got != 0.5 {
		t.Fatalf("second sample = %v", got)
	}
}

func TestWriteWAV16RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	samples := []float32{0, 0.5, -0.5, 1, -1, 0.25}
	if err := WriteWAV16(f, samples, 22050, 2); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	in, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer in.Close()
	dec := wav.NewDecoder(in)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dec.SampleRate != 22050 || dec.NumChans != 2 || dec.BitDepth != 16 {
		t.Fatalf("format = %d Hz, %d ch, %d bit", dec.SampleRate, dec.NumChans, dec.BitDepth)
	}
	want := []int{0, 16384, -16384, 32767, -32767, 8192}
	if len(buf.Data) != len(want) {
		t.Fatalf("samples = %d, want %d", len(buf.Data), len(want))
	}
	for i := range want {
		if buf.Data[i] != want[i] {
			t.Fatalf("sample %d = %d, want %d", i, buf.Data[i], want[i])
		}
	}
}
