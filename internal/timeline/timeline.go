// Package timeline turns decoded tracks into a flat, offset-ordered list of
// audio and highlight tasks.
package timeline

import (
	"math"
	"sort"
)

// Note is one decoded MIDI note. Time and Duration are in seconds.
type Note struct {
	Time     float64
	Duration float64
	Pitch    int
	Velocity int
}

// Track is a named, time-ordered list of notes. Track 0 is the melody.
type Track struct {
	Name  string
	Notes []Note
}

// Kind distinguishes the two task variants.
type Kind int

const (
	AudioTrigger Kind = iota
	HighlightTrigger
)

func (k Kind) String() string {
	switch k {
	case AudioTrigger:
		return "audio"
	case HighlightTrigger:
		return "highlight"
	default:
		return "unknown"
	}
}

// AudioPayload describes a note to synthesize.
type AudioPayload struct {
	Track    int
	Pitch    int
	Velocity int
	Duration float64
}

// HighlightPayload names a note of track 0 by its position.
type HighlightPayload struct {
	NoteIndex int
}

// TimedTask is one unit of work due Offset seconds after playback start.
// Only the payload matching Kind is meaningful.
type TimedTask struct {
	Offset    float64
	Kind      Kind
	Audio     AudioPayload
	Highlight HighlightPayload
}

// Timeline is the immutable output of Build.
type Timeline struct {
	Tasks         []TimedTask
	TotalDuration float64
}

// AudioCount returns the number of audio tasks.
func (tl Timeline) AudioCount() int { return tl.count(AudioTrigger) }

// HighlightCount returns the number of highlight tasks.
func (tl Timeline) HighlightCount() int { return tl.count(HighlightTrigger) }

// AudioCountForTrack returns the number of audio tasks of one track.
func (tl Timeline) AudioCountForTrack(track int) int {
	n := 0
	for _, t := range tl.Tasks {
		if t.Kind == AudioTrigger && t.Audio.Track == track {
			n++
		}
	}
	return n
}

func (tl Timeline) count(k Kind) int {
	n := 0
	for _, t := range tl.Tasks {
		if t.Kind == k {
			n++
		}
	}
	return n
}

// Build expands tracks into tasks. available reports whether a track has a
// loaded instrument; tracks without one are skipped entirely. Track 0, when
// audible, also contributes one highlight task per note.
//
// TotalDuration is the latest offset+duration among audio tasks, or the
// latest offset of any task when there is no audio.
func Build(tracks []Track, available func(track int) bool) Timeline {
	var tasks []TimedTask
	for ti, track := range tracks {
		audible := available != nil && available(ti)
		for ni, n := range track.Notes {
			offset := math.Max(n.Time, 0)
			if audible && n.Duration > 0 {
				tasks = append(tasks, TimedTask{
					Offset: offset,
					Kind:   AudioTrigger,
					Audio: AudioPayload{
						Track:    ti,
						Pitch:    clampMIDI(n.Pitch),
						Velocity: clampMIDI(n.Velocity),
						Duration: n.Duration,
					},
				})
			}
			if audible && ti == 0 {
				tasks = append(tasks, TimedTask{
					Offset:    offset,
					Kind:      HighlightTrigger,
					Highlight: HighlightPayload{NoteIndex: ni},
				})
			}
		}
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].Offset < tasks[j].Offset
	})
	return Timeline{Tasks: tasks, TotalDuration: totalDuration(tasks)}
}

func totalDuration(tasks []TimedTask) float64 {
	var total, lastOffset float64
	var haveAudio bool
	for _, t := range tasks {
		lastOffset = math.Max(lastOffset, t.Offset)
		if t.Kind == AudioTrigger {
			haveAudio = true
			total = math.Max(total, t.Offset+t.Audio.Duration)
		}
	}
	if !haveAudio {
		return lastOffset
	}
	return total
}

func clampMIDI(v int) int {
	if v < 0 {
		return 0
	}
	if v > 127 {
		return 127
	}
	return v
}
