package wavetable

import (
	"encoding/hex"
	"errors"
	"math"
	"strings"
	"sync/atomic"
)

const twoPi = math.Pi * 2

const maxVoices = 32

// Params are the engine-wide defaults; a Table may override the envelope.
type Params struct {
	Polyphony   int
	AttackSec   float64
	DecaySec    float64
	SustainLvl  float64
	ReleaseSec  float64
	MasterGain  float64
	VelocityAmp float64
	LPFCutoff   float64 // lowpass filter cutoff in Hz (0 = disabled)
}

// DefaultParams suits short phoneme notes: fast attack, short release.
func DefaultParams() Params {
	return Params{
		Polyphony:   maxVoices,
		AttackSec:   0.005,
		DecaySec:    0.12,
		SustainLvl:  0.75,
		ReleaseSec:  0.2,
		MasterGain:  0.42,
		VelocityAmp: 0.8,
		LPFCutoff:   12000,
	}
}

// Table is a single-cycle waveform plus the envelope shape voices use when
// they play it. Zero envelope fields fall back to the engine's Params.
type Table struct {
	Samples    []float64
	AttackSec  float64
	DecaySec   float64
	SustainLvl float64
	ReleaseSec float64
}

// NewTable copies samples into a new Table.
func NewTable(samples []float64) *Table {
	cp := make([]float64, len(samples))
	copy(cp, samples)
	return &Table{Samples: cp}
}

// Sine returns a sine table of n samples.
func Sine(n int) *Table {
	if n <= 0 {
		n = 64
	}
	s := make([]float64, n)
	for i := range s {
		s[i] = math.Sin(twoPi * float64(i) / float64(n))
	}
	return &Table{Samples: s}
}

type envState int

const (
	envAttack envState = iota
	envDecay
	envSustain
	envRelease
	envOff
)

type voice struct {
	active   bool
	id       int
	velocity float64
	freq     float64
	phase    float64 // current position in the wavetable [0, tableLen)
	env      float64
	envState envState
	table    *Table
	attack   float64
	decay    float64
	sustain  float64
	release  float64
}

// Engine is a polyphonic wavetable voice engine. It is not safe for
// concurrent use; callers serialize NoteOn/NoteOff with rendering.
type Engine struct {
	sampleRate    float64
	params        Params
	voices        []voice
	nextID        int
	masterGain    uint64
	lpfL          float64
	lpfR          float64
	lpfAlpha      float64
	fallbackTable *Table
}

// New returns an engine rendering at sampleRate.
func New(sampleRate int, params Params) *Engine {
	if params.Polyphony <= 0 {
		params.Polyphony = maxVoices
	}
	if params.Polyphony > maxVoices {
		params.Polyphony = maxVoices
	}
	e := &Engine{
		sampleRate:    float64(sampleRate),
		params:        params,
		voices:        make([]voice, params.Polyphony),
		masterGain:    math.Float64bits(params.MasterGain),
		fallbackTable: Sine(64),
	}
	if params.LPFCutoff > 0 && params.LPFCutoff < float64(sampleRate)/2 {
		rc := 1.0 / (twoPi * params.LPFCutoff)
		dt := 1.0 / float64(sampleRate)
		e.lpfAlpha = dt / (rc + dt)
	}
	return e
}

// NoteOn starts a voice playing table and returns its id. A nil or empty
// table plays the built-in sine.
func (e *Engine) NoteOn(note int, velocity int, table *Table) int {
	slot := e.allocVoice()
	id := e.nextID
	e.nextID++

	if table == nil || len(table.Samples) == 0 {
		table = e.fallbackTable
	}
	e.voices[slot] = voice{
		active:   true,
		id:       id,
		velocity: clamp(float64(velocity)/127.0, 0, 1),
		freq:     pitchHz(note),
		envState: envAttack,
		table:    table,
		attack:   pick(table.AttackSec, e.params.AttackSec),
		decay:    pick(table.DecaySec, e.params.DecaySec),
		sustain:  pick(table.SustainLvl, e.params.SustainLvl),
		release:  pick(table.ReleaseSec, e.params.ReleaseSec),
	}
	return id
}

// NoteOff releases a voice by id. Unknown or finished ids are ignored.
func (e *Engine) NoteOff(id int) {
	for i := range e.voices {
		v := &e.voices[i]
		if v.active && v.id == id && v.envState != envRelease {
			v.envState = envRelease
		}
	}
}

// Sounding reports whether the voice with id is still producing output,
// including its release tail.
func (e *Engine) Sounding(id int) bool {
	for i := range e.voices {
		if e.voices[i].active && e.voices[i].id == id {
			return true
		}
	}
	return false
}

// RenderFrame mixes every active voice into one stereo frame.
func (e *Engine) RenderFrame() (float32, float32) {
	var l, r float64
	gain := e.gain()
	for i := range e.voices {
		v := &e.voices[i]
		if !v.active {
			continue
		}

		env := e.stepEnvelope(v)
		if !v.active {
			continue
		}

		table := v.table.Samples
		tableLen := float64(len(table))

		// interpolate
		idx := math.Floor(v.phase)
		frac := v.phase - idx
		i0 := int(idx) % len(table)
		if i0 < 0 {
			i0 += len(table)
		}
		i1 := (i0 + 1) % len(table)
		sig := table[i0]*(1-frac) + table[i1]*frac

		sig *= env * gain * (0.2 + v.velocity*e.params.VelocityAmp)
		// Centre pan, equal power.
		l += sig * math.Sqrt2 / 2
		r += sig * math.Sqrt2 / 2

		v.phase += v.freq * tableLen / e.sampleRate
		for v.phase >= tableLen {
			v.phase -= tableLen
		}
	}

	if e.lpfAlpha > 0 {
		e.lpfL += e.lpfAlpha * (l - e.lpfL)
		e.lpfR += e.lpfAlpha * (r - e.lpfR)
		l = e.lpfL
		r = e.lpfR
	}

	return float32(clamp(l, -1, 1)), float32(clamp(r, -1, 1))
}

// SetMasterGain may be called while another goroutine renders.
func (e *Engine) SetMasterGain(gain float64) {
	if gain < 0 {
		gain = 0
	}
	atomic.StoreUint64(&e.masterGain, math.Float64bits(gain))
}

// ActiveVoiceCount counts voices still sounding or releasing.
func (e *Engine) ActiveVoiceCount() int {
	n := 0
	for i := range e.voices {
		if e.voices[i].active {
			n++
		}
	}
	return n
}

// ParseHex converts a hex string (pairs of hex digits representing signed
// 8-bit values) into samples normalized to [-1, 1]. Whitespace is ignored.
func ParseHex(h string) ([]float64, error) {
	h = strings.Join(strings.Fields(h), "")
	if h == "" {
		return nil, errors.New("empty wavetable")
	}
	data, err := hex.DecodeString(h)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(data))
	for i, b := range data {
		out[i] = float64(int8(b)) / 127.0
	}
	return out, nil
}

func (e *Engine) gain() float64 {
	return math.Float64frombits(atomic.LoadUint64(&e.masterGain))
}

func (e *Engine) allocVoice() int {
	for i := range e.voices {
		if !e.voices[i].active {
			return i
		}
	}
	// all busy: take over the quietest
	quiet := 0
	for i, v := range e.voices {
		if v.env < e.voices[quiet].env {
			quiet = i
		}
	}
	return quiet
}

func (e *Engine) stepEnvelope(v *voice) float64 {
	switch v.envState {
	case envAttack:
		step := 1.0 / (v.attack * e.sampleRate)
		if step <= 0 || math.IsInf(step, 0) {
			step = 1
		}
		v.env += step
		if v.env >= 1 {
			v.env = 1
			v.envState = envDecay
		}
	case envDecay:
		step := (1 - v.sustain) / (v.decay * e.sampleRate)
		if step <= 0 || math.IsInf(step, 0) {
			step = 1
		}
		v.env -= step
		if v.env <= v.sustain {
			v.env = v.sustain
			v.envState = envSustain
		}
	case envSustain:
		// hold
	case envRelease:
		step := math.Max(v.sustain, 0.05) / (v.release * e.sampleRate)
		if step <= 0 || math.IsInf(step, 0) {
			step = 1
		}
		v.env -= step
		if v.env <= 0.0001 {
			v.env = 0
			v.envState = envOff
			v.active = false
		}
	case envOff:
		v.active = false
		v.env = 0
	}
	return v.env
}

func pitchHz(note int) float64 {
	return 440 * math.Pow(2, float64(note-69)/12)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func pick(v, fallback float64) float64 {
	if v > 0 {
		return v
	}
	return fallback
}
