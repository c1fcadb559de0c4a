// Package midifile converts Standard MIDI Files to and from timeline
// tracks with times in seconds.
package midifile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/cbegin/textmusic-go/internal/timeline"
)

// ErrNoNotes is returned when a file decodes cleanly but holds no notes.
var ErrNoNotes = errors.New("midi file contains no notes")

// Resolution is the ticks-per-quarter used when encoding.
const Resolution = 960

// Decode parses SMF bytes. Every chunk that holds at least one note becomes
// a track, in file order; tempo-only conductor chunks are dropped. Note
// times follow the file's tempo map.
func Decode(data []byte) ([]timeline.Track, error) {
	return DecodeReader(bytes.NewReader(data))
}

// DecodeReader is Decode over a reader.
func DecodeReader(r io.Reader) ([]timeline.Track, error) {
	sm, err := smf.ReadFrom(r)
	if err != nil {
		return nil, fmt.Errorf("read midi: %w", err)
	}
	if _, ok := sm.TimeFormat.(smf.MetricTicks); !ok {
		return nil, fmt.Errorf("read midi: unsupported time format %v", sm.TimeFormat)
	}

	var tracks []timeline.Track
	for _, tr := range sm.Tracks {
		t := decodeTrack(sm, tr)
		if len(t.Notes) == 0 {
			continue
		}
		tracks = append(tracks, t)
	}
	if len(tracks) == 0 {
		return nil, ErrNoNotes
	}
	return tracks, nil
}

type openNote struct {
	tick     int64
	velocity uint8
}

func decodeTrack(sm *smf.SMF, tr smf.Track) timeline.Track {
	var (
		out  timeline.Track
		abs  int64
		open = map[[2]uint8][]openNote{}
	)
	seconds := func(tick int64) float64 {
		return float64(sm.TimeAt(tick)) / 1e6
	}
	for _, ev := range tr {
		abs += int64(ev.Delta)
		var ch, key, vel uint8
		var name string
		switch {
		case ev.Message.GetMetaTrackName(&name):
			if out.Name == "" {
				out.Name = name
			}
		case ev.Message.GetNoteStart(&ch, &key, &vel):
			k := [2]uint8{ch, key}
			open[k] = append(open[k], openNote{tick: abs, velocity: vel})
		case ev.Message.GetNoteEnd(&ch, &key):
			k := [2]uint8{ch, key}
			stack := open[k]
			if len(stack) == 0 {
				continue
			}
			on := stack[0]
			open[k] = stack[1:]
			start := seconds(on.tick)
			out.Notes = append(out.Notes, timeline.Note{
				Time:     start,
				Duration: seconds(abs) - start,
				Pitch:    int(key),
				Velocity: int(on.velocity),
			})
		}
	}
	// Notes left hanging run to the end of the track.
	for k, stack := range open {
		for _, on := range stack {
			start := seconds(on.tick)
			out.Notes = append(out.Notes, timeline.Note{
				Time:     start,
				Duration: seconds(abs) - start,
				Pitch:    int(k[1]),
				Velocity: int(on.velocity),
			})
		}
	}
	sort.SliceStable(out.Notes, func(i, j int) bool {
		return out.Notes[i].Time < out.Notes[j].Time
	})
	return out
}

// Encode writes tracks as a format 1 SMF at a constant tempo. Each track
// goes on its own channel (modulo 16).
func Encode(tracks []timeline.Track, bpm float64) ([]byte, error) {
	if bpm <= 0 {
		bpm = 120
	}
	sm := smf.New()
	sm.TimeFormat = smf.MetricTicks(Resolution)

	var conductor smf.Track
	conductor.Add(0, smf.MetaMeter(4, 4))
	conductor.Add(0, smf.MetaTempo(bpm))
	conductor.Close(0)
	if err := sm.Add(conductor); err != nil {
		return nil, fmt.Errorf("add tempo track: %w", err)
	}

	toTicks := func(sec float64) int64 {
		return int64(math.Round(math.Max(sec, 0) * bpm / 60 * Resolution))
	}
	for i, t := range tracks {
		type event struct {
			tick int64
			off  bool
			msg  midi.Message
		}
		ch := uint8(i % 16)
		var events []event
		for _, n := range t.Notes {
			if n.Duration <= 0 {
				continue
			}
			key := uint8(clamp7(n.Pitch))
			start := toTicks(n.Time)
			end := toTicks(n.Time + n.Duration)
			if end <= start {
				end = start + 1
			}
			events = append(events,
				event{tick: start, msg: midi.NoteOn(ch, key, uint8(clamp7(n.Velocity)))},
				event{tick: end, off: true, msg: midi.NoteOff(ch, key)})
		}
		// Offs before ons at the same tick so repeated keys retrigger.
		sort.SliceStable(events, func(a, b int) bool {
			if events[a].tick != events[b].tick {
				return events[a].tick < events[b].tick
			}
			return events[a].off && !events[b].off
		})

		var tr smf.Track
		if t.Name != "" {
			tr.Add(0, smf.MetaTrackSequenceName(t.Name))
		}
		var last int64
		for _, ev := range events {
			tr.Add(uint32(ev.tick-last), ev.msg)
			last = ev.tick
		}
		tr.Close(0)
		if err := sm.Add(tr); err != nil {
			return nil, fmt.Errorf("add track %d: %w", i, err)
		}
	}

	var buf bytes.Buffer
	if _, err := sm.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write midi: %w", err)
	}
	return buf.Bytes(), nil
}

func clamp7(v int) int {
	if v < 0 {
		return 0
	}
	if v > 127 {
		return 127
	}
	return v
}
