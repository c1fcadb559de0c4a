package audio

import (
	"container/heap"
	"math"
	"sync"
	"sync/atomic"

	"github.com/cbegin/textmusic-go/internal/wavetable"
)

// Bus selects the gain path a note is rendered through.
type Bus int

const (
	// BusMaster is the shared default path.
	BusMaster Bus = iota
	// BusMelody is amplified by the melody gain before joining the master bus.
	BusMelody
)

// Note is a synthesis command targeting an absolute time on the mixer clock.
type Note struct {
	Bus      Bus
	Table    *wavetable.Table
	At       float64 // seconds on the mixer clock
	Pitch    int
	Velocity int
	Duration float64 // seconds
}

// MixerOptions configures the gain stages and the voice engines.
type MixerOptions struct {
	MasterGain float64
	MelodyGain float64
	Params     wavetable.Params
}

// DefaultMixerOptions is a quiet master bus with the melody bus boosted
// into it.
func DefaultMixerOptions() MixerOptions {
	params := wavetable.DefaultParams()
	params.MasterGain = 1
	return MixerOptions{
		MasterGain: 0.2,
		MelodyGain: 2,
		Params:     params,
	}
}

// Mixer owns the voice engines of both buses and a queue of timed
// note-on/note-off events. Its frame counter is the playback clock: Now
// advances only as Process renders audio.
type Mixer struct {
	mu         sync.Mutex
	sampleRate int
	frame      atomic.Int64
	engines    [2]*wavetable.Engine
	masterGain float64
	melodyGain float64
	events     eventQueue
	seq        uint64
}

// NewMixer creates a mixer rendering at sampleRate.
func NewMixer(sampleRate int, opts MixerOptions) *Mixer {
	m := &Mixer{
		sampleRate: sampleRate,
		masterGain: opts.MasterGain,
		melodyGain: opts.MelodyGain,
	}
	m.engines[BusMaster] = wavetable.New(sampleRate, opts.Params)
	m.engines[BusMelody] = wavetable.New(sampleRate, opts.Params)
	heap.Init(&m.events)
	return m
}

// SampleRate returns the rendering rate in Hz.
func (m *Mixer) SampleRate() int { return m.sampleRate }

// Now returns the clock time in seconds: the position of the next frame to
// be rendered. It never decreases.
func (m *Mixer) Now() float64 {
	return float64(m.frame.Load()) / float64(m.sampleRate)
}

// Queue schedules n and returns its envelope. Notes due in the past start
// with the next rendered frame.
func (m *Mixer) Queue(n Note) *Envelope {
	if n.Bus != BusMelody {
		n.Bus = BusMaster
	}
	start := int64(math.Round(n.At * float64(m.sampleRate)))
	length := int64(math.Round(n.Duration * float64(m.sampleRate)))
	if length < 1 {
		length = 1
	}
	env := &Envelope{mixer: m, note: n}

	m.mu.Lock()
	defer m.mu.Unlock()
	if now := m.frame.Load(); start < now {
		start = now
	}
	env.startFrame = start
	env.endFrame = start + length
	m.push(env.startFrame, env, true)
	m.push(env.endFrame, env, false)
	return env
}

// SetGains updates the master and melody gain stages.
func (m *Mixer) SetGains(master, melody float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.masterGain = math.Max(master, 0)
	m.melodyGain = math.Max(melody, 0)
}

// Gains returns the master and melody gain stages.
func (m *Mixer) Gains() (master, melody float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.masterGain, m.melodyGain
}

// Pending returns the number of queued events not yet applied.
func (m *Mixer) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events.Len()
}

// ActiveVoices returns the number of voices sounding on both buses.
func (m *Mixer) ActiveVoices() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engines[BusMaster].ActiveVoiceCount() + m.engines[BusMelody].ActiveVoiceCount()
}

// Process renders interleaved stereo frames into dst and advances the clock.
func (m *Mixer) Process(dst []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	frame := m.frame.Load()
	for i := 0; i+1 < len(dst); i += 2 {
		for m.events.Len() > 0 && m.events[0].frame <= frame {
			ev := heap.Pop(&m.events).(event)
			m.apply(ev)
		}
		ml, mr := m.engines[BusMaster].RenderFrame()
		ll, lr := m.engines[BusMelody].RenderFrame()
		l := (float64(ml) + float64(ll)*m.melodyGain) * m.masterGain
		r := (float64(mr) + float64(lr)*m.melodyGain) * m.masterGain
		dst[i] = float32(clamp(l))
		dst[i+1] = float32(clamp(r))
		frame++
	}
	m.frame.Store(frame)
}

func (m *Mixer) apply(ev event) {
	env := ev.env
	engine := m.engines[env.note.Bus]
	if ev.on {
		if env.state != envelopePending {
			return
		}
		env.voice = engine.NoteOn(env.note.Pitch, env.note.Velocity, env.note.Table)
		env.state = envelopeSounding
		return
	}
	if env.state == envelopeSounding {
		engine.NoteOff(env.voice)
		env.state = envelopeReleased
	}
}

func (m *Mixer) push(frame int64, env *Envelope, on bool) {
	m.seq++
	heap.Push(&m.events, event{frame: frame, seq: m.seq, env: env, on: on})
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

type envelopeState int

const (
	envelopePending envelopeState = iota
	envelopeSounding
	envelopeReleased
	envelopeCancelled
)

// Envelope is the handle of one queued note.
type Envelope struct {
	mixer      *Mixer
	note       Note
	startFrame int64
	endFrame   int64
	state      envelopeState
	voice      int
}

// Cancel stops the note early. A note that has not started never starts; a
// sounding note enters its release; a finished note is left alone.
func (e *Envelope) Cancel() {
	m := e.mixer
	m.mu.Lock()
	defer m.mu.Unlock()
	switch e.state {
	case envelopePending:
		e.state = envelopeCancelled
	case envelopeSounding:
		m.engines[e.note.Bus].NoteOff(e.voice)
		e.state = envelopeReleased
	}
}

// Started reports whether the note has been handed to a voice engine.
func (e *Envelope) Started() bool {
	e.mixer.mu.Lock()
	defer e.mixer.mu.Unlock()
	return e.state == envelopeSounding || e.state == envelopeReleased
}

// Cancelled reports whether Cancel revoked the note before it started.
func (e *Envelope) Cancelled() bool {
	e.mixer.mu.Lock()
	defer e.mixer.mu.Unlock()
	return e.state == envelopeCancelled
}

// StartTime returns the clock time the note was scheduled for.
func (e *Envelope) StartTime() float64 {
	return float64(e.startFrame) / float64(e.mixer.sampleRate)
}

type event struct {
	frame int64
	seq   uint64
	env   *Envelope
	on    bool
}

// eventQueue is a min-heap ordered by frame, then insertion order.
type eventQueue []event

func (q eventQueue) Len() int { return len(q) }
func (q eventQueue) Less(i, j int) bool {
	if q[i].frame != q[j].frame {
		return q[i].frame < q[j].frame
	}
	return q[i].seq < q[j].seq
}
func (q eventQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *eventQueue) Push(x any) {
	*q = append(*q, x.(event))
}

func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	x := old[n-1]
	*q = old[:n-1]
	return x
}
