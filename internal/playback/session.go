// Package playback owns the Idle/Playing state machine that ties the
// instrument bank, the scheduler and the highlight cursor together.
package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/cbegin/textmusic-go/internal/scheduler"
	"github.com/cbegin/textmusic-go/internal/timeline"
	"github.com/cbegin/textmusic-go/internal/timers"
)

// NoHighlight is passed to the Highlighter when the cursor is cleared.
const NoHighlight = -1

// ErrSuperseded is returned by Play when a Stop or a newer Play arrived
// while it was waiting for instruments or for its load.
var ErrSuperseded = errors.New("playback superseded")

// State of a Session.
type State int

const (
	Idle State = iota
	Playing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Playing:
		return "playing"
	default:
		return "unknown"
	}
}

// Config tunes a Session.
type Config struct {
	// Grace is added to the timeline duration before auto-stop so release
	// tails are not cut.
	Grace time.Duration
}

// DefaultConfig waits half a second after the last note before stopping.
func DefaultConfig() Config {
	return Config{Grace: 500 * time.Millisecond}
}

// Bank is the instrument bank as the session sees it.
type Bank interface {
	scheduler.Bank
	Wait(ctx context.Context) error
	Has(track int) bool
}

// Highlighter moves the visual cursor. It is called from timer goroutines
// and must not call back into the Session.
type Highlighter interface {
	Highlight(noteIndex int)
}

// HighlightFunc adapts a function to Highlighter.
type HighlightFunc func(noteIndex int)

func (f HighlightFunc) Highlight(noteIndex int) { f(noteIndex) }

// LoadFunc produces the tracks to play, typically by downloading and
// decoding a MIDI file.
type LoadFunc func(ctx context.Context) ([]timeline.Track, error)

// Deps are the collaborators of a Session. Highlighter, Timers, Observer
// and Logger are optional.
type Deps struct {
	Synth       scheduler.Synth
	Bank        Bank
	Scheduler   *scheduler.Scheduler
	Highlighter Highlighter
	Timers      timers.Timers
	Observer    Observer
	Logger      *slog.Logger
}

// Session plays at most one timeline at a time.
type Session struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	generation atomic.Uint64

	mu       sync.Mutex
	state    State
	run      *scheduler.Run
	autoStop timers.Timer
	done     chan struct{}
	total    float64

	outcomes metric.Int64Counter
}

// New creates an idle Session.
func New(cfg Config, deps Deps) *Session {
	if cfg.Grace < 0 {
		cfg.Grace = 0
	}
	if deps.Timers == nil {
		deps.Timers = timers.System()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Session{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.With(slog.String("component", "playback")),
		done:   closedChan(),
	}
	meter := otel.GetMeterProvider().Meter("github.com/cbegin/textmusic-go/playback")
	counter, err := meter.Int64Counter("textmusic_playback_events_total",
		metric.WithDescription("Playback session transitions by kind"))
	if err != nil {
		s.logger.Warn("playback counter unavailable", slog.String("error", err.Error()))
		counter = noop.Int64Counter{}
	}
	s.outcomes = counter
	return s
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Generation returns the current generation. Every Play and Stop bumps it.
func (s *Session) Generation() uint64 {
	return s.generation.Load()
}

// Done returns a channel closed when the current playback ends. When idle
// the channel is already closed.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// TotalDuration returns the duration of the timeline being played.
func (s *Session) TotalDuration() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Play stops any current playback, waits for the instrument bank, runs
// load and schedules the resulting timeline. If Stop or another Play is
// called meanwhile, nothing is scheduled and ErrSuperseded is returned.
// A load failure leaves the session Idle.
func (s *Session) Play(ctx context.Context, load LoadFunc) error {
	s.mu.Lock()
	gen := s.generation.Add(1)
	events := s.stopLocked(gen, EventStop, "replaced")
	s.mu.Unlock()
	s.emit(events...)

	err := s.deps.Bank.Wait(ctx)
	var tracks []timeline.Track
	if err == nil {
		tracks, err = load(ctx)
	}

	s.mu.Lock()
	if s.generation.Load() != gen {
		s.mu.Unlock()
		s.logger.Debug("play superseded", slog.Uint64("generation", gen))
		s.emit(Event{Kind: EventSuperseded, Generation: gen})
		return ErrSuperseded
	}
	if err != nil {
		s.mu.Unlock()
		s.logger.Error("play failed", slog.Uint64("generation", gen), slog.String("error", err.Error()))
		s.emit(Event{Kind: EventError, Generation: gen, Err: err})
		return err
	}
	tl := timeline.Build(tracks, s.deps.Bank.Has)
	ev := s.startLocked(gen, tl)
	s.mu.Unlock()
	s.emit(ev)
	return nil
}

// PlayTimeline replaces any current playback with tl immediately.
func (s *Session) PlayTimeline(tl timeline.Timeline) {
	s.mu.Lock()
	gen := s.generation.Add(1)
	events := s.stopLocked(gen, EventStop, "replaced")
	events = append(events, s.startLocked(gen, tl))
	s.mu.Unlock()
	s.emit(events...)
}

// Stop cancels everything scheduled, clears the cursor and returns to
// Idle. It also abandons a Play still waiting on its load. Calling it
// when idle only bumps the generation.
func (s *Session) Stop() {
	s.mu.Lock()
	gen := s.generation.Add(1)
	events := s.stopLocked(gen, EventStop, "requested")
	s.mu.Unlock()
	s.emit(events...)
}

func (s *Session) startLocked(gen uint64, tl timeline.Timeline) Event {
	var highlight func(int)
	if s.deps.Highlighter != nil {
		highlight = s.deps.Highlighter.Highlight
	}
	live := func() bool { return s.generation.Load() == gen }
	s.run = s.deps.Scheduler.Start(tl, s.deps.Bank, s.deps.Synth.Now(), highlight, live)
	s.state = Playing
	s.total = tl.TotalDuration
	s.done = make(chan struct{})

	wait := time.Duration(tl.TotalDuration*float64(time.Second)) + s.cfg.Grace
	s.autoStop = s.deps.Timers.AfterFunc(wait, func() { s.autoStopFired(gen) })

	s.logger.Info("Playing...",
		slog.Uint64("generation", gen),
		slog.Int("audio_tasks", tl.AudioCount()),
		slog.Int("highlight_tasks", tl.HighlightCount()),
		slog.Float64("duration", tl.TotalDuration))
	return Event{
		Kind:       EventPlay,
		Generation: gen,
		Duration:   tl.TotalDuration,
		AudioTasks: tl.AudioCount(),
	}
}

func (s *Session) autoStopFired(gen uint64) {
	s.mu.Lock()
	if s.state != Playing || s.generation.Load() != gen {
		s.mu.Unlock()
		return
	}
	next := s.generation.Add(1)
	events := s.stopLocked(next, EventAutoStop, "finished")
	s.mu.Unlock()
	s.emit(events...)
}

// stopLocked tears down the current run. It returns the event to publish
// once the lock is released, or nothing if the session was idle.
func (s *Session) stopLocked(gen uint64, kind EventKind, reason string) []Event {
	if s.state != Playing {
		return nil
	}
	s.run.CancelAll()
	s.run = nil
	if s.autoStop != nil {
		s.autoStop.Stop()
		s.autoStop = nil
	}
	if s.deps.Highlighter != nil {
		s.deps.Highlighter.Highlight(NoHighlight)
	}
	s.state = Idle
	close(s.done)
	s.logger.Info("Ready to play", slog.String("reason", reason), slog.Uint64("generation", gen))
	return []Event{{Kind: kind, Generation: gen, Reason: reason}}
}

func (s *Session) emit(events ...Event) {
	for _, ev := range events {
		if ev.At.IsZero() {
			ev.At = time.Now()
		}
		s.outcomes.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", string(ev.Kind))))
		if s.deps.Observer != nil {
			s.deps.Observer.Observe(ev)
		}
	}
}
