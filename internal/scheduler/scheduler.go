// Package scheduler dispatches a timeline against the shared audio clock and
// owns every handle it creates, so a run can be revoked in one call.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/cbegin/textmusic-go/internal/audio"
	"github.com/cbegin/textmusic-go/internal/timeline"
	"github.com/cbegin/textmusic-go/internal/timers"
	"github.com/cbegin/textmusic-go/internal/wavetable"
)

// Synth queues notes at absolute clock times. *audio.Mixer and
// *audio.Output implement it.
type Synth interface {
	Now() float64
	Queue(n audio.Note) *audio.Envelope
}

// Bank resolves the timbre of a track.
type Bank interface {
	Timbre(track int) (*wavetable.Table, bool)
}

// DispatchHandle is anything the scheduler can take back.
type DispatchHandle interface {
	Revoke()
}

type audioHandle struct {
	env *audio.Envelope
}

func (h audioHandle) Revoke() { h.env.Cancel() }

type timerHandle struct {
	timer timers.Timer
}

func (h timerHandle) Revoke() { h.timer.Stop() }

// Scheduler turns timelines into runs.
type Scheduler struct {
	target Synth
	timers timers.Timers
	logger *slog.Logger

	scheduled metric.Int64Counter
	revoked   metric.Int64Counter
}

// New creates a Scheduler. Metrics are recorded on the global meter
// provider.
func New(synth Synth, t timers.Timers, logger *slog.Logger) *Scheduler {
	if t == nil {
		t = timers.System()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		target: synth,
		timers: t,
		logger: logger.With(slog.String("component", "scheduler")),
	}
	meter := otel.GetMeterProvider().Meter("github.com/cbegin/textmusic-go/scheduler")
	var err error
	if s.scheduled, err = meter.Int64Counter("textmusic_tasks_scheduled_total",
		metric.WithDescription("Timeline tasks handed to the synth or the timer queue")); err != nil {
		s.logger.Warn("scheduled counter unavailable", slog.String("error", err.Error()))
		s.scheduled = noop.Int64Counter{}
	}
	if s.revoked, err = meter.Int64Counter("textmusic_tasks_revoked_total",
		metric.WithDescription("Dispatch handles revoked by CancelAll")); err != nil {
		s.logger.Warn("revoked counter unavailable", slog.String("error", err.Error()))
		s.revoked = noop.Int64Counter{}
	}
	return s
}

// BusForTrack routes the melody to its own gain stage.
func BusForTrack(track int) audio.Bus {
	if track == 0 {
		return audio.BusMelody
	}
	return audio.BusMaster
}

// Start schedules every task of tl. Audio tasks are queued at
// startClock+Offset on the synth clock; highlight tasks become timers that
// call highlight(NoteIndex) unless the run was cancelled or live reports
// false. highlight runs while the run is locked and must not call back
// into CancelAll.
func (s *Scheduler) Start(tl timeline.Timeline, bank Bank, startClock float64, highlight func(int), live func() bool) *Run {
	r := &Run{
		highlight: highlight,
		live:      live,
		revoked:   s.revoked,
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var audioCount, timerCount, skipped int
	for _, task := range tl.Tasks {
		switch task.Kind {
		case timeline.AudioTrigger:
			table, ok := bank.Timbre(task.Audio.Track)
			if !ok {
				skipped++
				continue
			}
			env := s.target.Queue(audio.Note{
				Bus:      BusForTrack(task.Audio.Track),
				Table:    table,
				At:       startClock + task.Offset,
				Pitch:    task.Audio.Pitch,
				Velocity: task.Audio.Velocity,
				Duration: task.Audio.Duration,
			})
			r.handles = append(r.handles, audioHandle{env: env})
			audioCount++
		case timeline.HighlightTrigger:
			if highlight == nil {
				continue
			}
			index := task.Highlight.NoteIndex
			t := s.timers.AfterFunc(seconds(task.Offset), func() { r.fire(index) })
			r.handles = append(r.handles, timerHandle{timer: t})
			timerCount++
		}
	}

	ctx := context.Background()
	s.scheduled.Add(ctx, int64(audioCount), metric.WithAttributes(attribute.String("kind", "audio")))
	s.scheduled.Add(ctx, int64(timerCount), metric.WithAttributes(attribute.String("kind", "highlight")))
	s.logger.Debug("timeline scheduled",
		slog.Int("audio", audioCount),
		slog.Int("highlight", timerCount),
		slog.Int("skipped", skipped),
		slog.Float64("start_clock", startClock),
		slog.Float64("total_duration", tl.TotalDuration))
	return r
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// Run is the set of handles created for one timeline.
type Run struct {
	mu        sync.Mutex
	cancelled bool
	handles   []DispatchHandle
	highlight func(int)
	live      func() bool
	revoked   metric.Int64Counter
}

func (r *Run) fire(index int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelled {
		return
	}
	if r.live != nil && !r.live() {
		return
	}
	r.highlight(index)
}

// CancelAll revokes every handle of the run. Once it returns no highlight
// callback of the run executes and no further note of the run starts.
// Safe to call any number of times, at any point of the run.
func (r *Run) CancelAll() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelled {
		return
	}
	r.cancelled = true
	for _, h := range r.handles {
		h.Revoke()
	}
	if r.revoked != nil {
		r.revoked.Add(context.Background(), int64(len(r.handles)))
	}
	r.handles = nil
}

// Cancelled reports whether CancelAll has run.
func (r *Run) Cancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

// Len returns the number of live handles.
func (r *Run) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
