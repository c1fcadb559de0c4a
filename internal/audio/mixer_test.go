package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

const testRate = 48000

func render(m *Mixer, frames int) []float32 {
	buf := make([]float32, frames*2)
	m.Process(buf)
	return buf
}

func peak(buf []float32) float64 {
	var p float64
	for _, s := range buf {
		p = math.Max(p, math.Abs(float64(s)))
	}
	return p
}

func TestMixerClockAdvancesWithRenderedFrames(t *testing.T) {
	m := NewMixer(testRate, DefaultMixerOptions())
	if got := m.Now(); got != 0 {
		t.Fatalf("initial clock = %f, want 0", got)
	}
	render(m, testRate/2)
	if got := m.Now(); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("clock = %f, want 0.5", got)
	}
}

func TestMixerSilentWithoutNotes(t *testing.T) {
	m := NewMixer(testRate, DefaultMixerOptions())
	if p := peak(render(m, 4096)); p != 0 {
		t.Fatalf("peak = %f, want silence", p)
	}
}

func TestQueuedNoteStartsAtItsFrame(t *testing.T) {
	m := NewMixer(testRate, DefaultMixerOptions())
	env := m.Queue(Note{Bus: BusMelody, At: 0.1, Pitch: 60, Velocity: 100, Duration: 0.2})

	// Up to 0.05s nothing is due.
	if p := peak(render(m, testRate/20)); p != 0 {
		t.Fatalf("audio before note start: peak %f", p)
	}
	if env.Started() {
		t.Fatalf("envelope started early")
	}
	if p := peak(render(m, testRate/10)); p == 0 {
		t.Fatalf("expected audio after note start")
	}
	if !env.Started() {
		t.Fatalf("envelope should have started")
	}
	if got := env.StartTime(); math.Abs(got-0.1) > 1e-9 {
		t.Fatalf("start time = %f, want 0.1", got)
	}
}

func TestCancelBeforeStartNeverSounds(t *testing.T) {
	m := NewMixer(testRate, DefaultMixerOptions())
	env := m.Queue(Note{At: 0.01, Pitch: 64, Velocity: 127, Duration: 0.5})
	env.Cancel()
	if !env.Cancelled() {
		t.Fatalf("envelope should report cancelled")
	}
	if p := peak(render(m, testRate)); p != 0 {
		t.Fatalf("cancelled note produced audio, peak %f", p)
	}
	if m.ActiveVoices() != 0 {
		t.Fatalf("active voices = %d, want 0", m.ActiveVoices())
	}
	if m.Pending() != 0 {
		t.Fatalf("pending events = %d, want 0", m.Pending())
	}
}

func TestCancelSoundingNoteReleases(t *testing.T) {
	m := NewMixer(testRate, DefaultMixerOptions())
	env := m.Queue(Note{At: 0, Pitch: 64, Velocity: 127, Duration: 10})
	render(m, 1024)
	if m.ActiveVoices() != 1 {
		t.Fatalf("active voices = %d, want 1", m.ActiveVoices())
	}
	env.Cancel()
	env.Cancel()
	render(m, testRate)
	if m.ActiveVoices() != 0 {
		t.Fatalf("voice should have released after cancel")
	}
	if env.Cancelled() {
		t.Fatalf("a started note is released, not cancelled")
	}
}

func TestNoteInThePastStartsImmediately(t *testing.T) {
	m := NewMixer(testRate, DefaultMixerOptions())
	render(m, testRate)
	env := m.Queue(Note{At: 0.25, Pitch: 60, Velocity: 90, Duration: 0.1})
	if got := env.StartTime(); math.Abs(got-1) > 1e-9 {
		t.Fatalf("start time = %f, want clamped to 1", got)
	}
	render(m, 16)
	if !env.Started() {
		t.Fatalf("late note should start on the next frame")
	}
}

func TestMelodyBusIsLouder(t *testing.T) {
	melody := NewMixer(testRate, DefaultMixerOptions())
	melody.Queue(Note{Bus: BusMelody, Pitch: 60, Velocity: 100, Duration: 1})
	master := NewMixer(testRate, DefaultMixerOptions())
	master.Queue(Note{Bus: BusMaster, Pitch: 60, Velocity: 100, Duration: 1})

	pm := peak(render(melody, 4096))
	pa := peak(render(master, 4096))
	if pm <= pa {
		t.Fatalf("melody peak %f should exceed master peak %f", pm, pa)
	}
}

func TestStreamReaderEncodesFloat32LE(t *testing.T) {
	m := NewMixer(testRate, DefaultMixerOptions())
	m.Queue(Note{Pitch: 69, Velocity: 127, Duration: 1})
	r := NewStreamReader(m)

	buf := make([]byte, 8*512+3)
	n, err := r.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 8*512 {
		t.Fatalf("n = %d, want %d", n, 8*512)
	}
	var nonZero bool
	for i := 0; i < n; i += 4 {
		v := math.Float32frombits(binary.LittleEndian.Uint32(buf[i:]))
		if v < -1 || v > 1 {
			t.Fatalf("sample %d out of range: %f", i/4, v)
		}
		if v != 0 {
			nonZero = true
		}
	}
	if !nonZero {
		t.Fatalf("expected non-zero samples")
	}
	if got, want := m.Now(), 512.0/testRate; math.Abs(got-want) > 1e-9 {
		t.Fatalf("clock = %f, want %f", got, want)
	}
}

func TestSharedOutputAppliesLaterGains(t *testing.T) {
	out := &Output{mixer: NewMixer(testRate, DefaultMixerOptions())}
	opts := DefaultMixerOptions()
	opts.MasterGain, opts.MelodyGain = 0.5, 1.5
	if err := out.adopt(testRate, testRate, opts); err != nil {
		t.Fatalf("adopt: %v", err)
	}
	if master, melody := out.Mixer().Gains(); master != 0.5 || melody != 1.5 {
		t.Fatalf("gains = %v/%v, want 0.5/1.5", master, melody)
	}
	if err := out.adopt(testRate, testRate/2, DefaultMixerOptions()); err == nil {
		t.Fatalf("a different sample rate should be rejected")
	}
	if master, _ := out.Mixer().Gains(); master != 0.5 {
		t.Fatalf("rejected call changed gains to %v", master)
	}
}
