package playback

import "time"

// EventKind names a session transition.
type EventKind string

const (
	EventPlay       EventKind = "play"
	EventStop       EventKind = "stop"
	EventAutoStop   EventKind = "autostop"
	EventSuperseded EventKind = "superseded"
	EventError      EventKind = "error"
)

// Event describes one transition. Observers receive it after the session
// lock is released, so they may query the session.
type Event struct {
	Kind       EventKind
	Generation uint64
	At         time.Time
	Duration   float64 // timeline length, play events only
	AudioTasks int
	Reason     string
	Err        error
}

// Observer receives session events.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(ev Event) { f(ev) }

// Observers fans an event out to several observers in order.
type Observers []Observer

func (o Observers) Observe(ev Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(ev)
		}
	}
}
