// Package tui renders the phoneme sequence of an encoded text and follows
// the playback cursor.
package tui

import (
	"fmt"
	"strings"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Cursor is a playback highlighter that forwards the latest note index to
// the UI without ever blocking the caller.
type Cursor struct {
	latest atomic.Int64
	notify chan struct{}
}

// NewCursor returns a cursor with nothing highlighted.
func NewCursor() *Cursor {
	c := &Cursor{notify: make(chan struct{}, 1)}
	c.latest.Store(-1)
	return c
}

// Highlight records index; only the most recent value is delivered.
func (c *Cursor) Highlight(index int) {
	c.latest.Store(int64(index))
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Controls starts and stops playback for the view.
type Controls interface {
	Play() error
	Stop()
	Done() <-chan struct{}
}

// HighlightMsg carries the note index to highlight, -1 for none.
type HighlightMsg int

type playedMsg struct{ err error }

type doneMsg struct{}

// ListenForHighlights waits for the next cursor move.
func ListenForHighlights(c *Cursor) tea.Cmd {
	return func() tea.Msg {
		<-c.notify
		return HighlightMsg(c.latest.Load())
	}
}

func listenForDone(done <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-done
		return doneMsg{}
	}
}

func play(ctl Controls) tea.Cmd {
	return func() tea.Msg {
		return playedMsg{err: ctl.Play()}
	}
}

// Model is the bubbletea model of the player view.
type Model struct {
	Text     string
	IPA      string
	Phonemes []string

	cursor   *Cursor
	controls Controls
	current  int
	playing  bool
	status   string
	quitting bool
}

// NewModel shows phonemes, one per melody note, and starts playing as soon
// as the program runs.
func NewModel(text, ipa string, phonemes []string, cursor *Cursor, controls Controls) Model {
	return Model{
		Text:     text,
		IPA:      ipa,
		Phonemes: phonemes,
		cursor:   cursor,
		controls: controls,
		current:  -1,
		status:   "Loading instruments...",
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(ListenForHighlights(m.cursor), play(m.controls))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			m.controls.Stop()
			return m, tea.Quit
		case " ", "p", "enter":
			if m.playing {
				m.controls.Stop()
				return m, nil
			}
			m.status = "Loading..."
			return m, play(m.controls)
		case "s":
			m.controls.Stop()
		}

	case HighlightMsg:
		m.current = int(msg)
		return m, ListenForHighlights(m.cursor)

	case playedMsg:
		if msg.err != nil {
			m.playing = false
			m.status = "Error: " + msg.err.Error()
			return m, nil
		}
		m.playing = true
		m.status = "Playing..."
		return m, listenForDone(m.controls.Done())

	case doneMsg:
		m.playing = false
		m.status = "Ready to play"
	}
	return m, nil
}

// Current returns the highlighted phoneme index, -1 when none.
func (m Model) Current() int { return m.current }

// Playing reports whether the view believes playback is running.
func (m Model) Playing() bool { return m.playing }

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	tokenStyle  = lipgloss.NewStyle().Padding(0, 1)
	activeStyle = lipgloss.NewStyle().Padding(0, 1).Bold(true).
			Foreground(lipgloss.Color("0")).Background(lipgloss.Color("11"))
)

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	tokens := make([]string, len(m.Phonemes))
	for i, p := range m.Phonemes {
		if i == m.current {
			tokens[i] = activeStyle.Render(p)
		} else {
			tokens[i] = tokenStyle.Render(p)
		}
	}

	var out strings.Builder
	out.WriteString("\n")
	out.WriteString(headerStyle.Render(fmt.Sprintf("textmusic  %q", m.Text)))
	out.WriteString("\n")
	if m.IPA != "" {
		out.WriteString(dimStyle.Render("/" + m.IPA + "/"))
		out.WriteString("\n")
	}
	out.WriteString("\n")
	out.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, tokens...))
	out.WriteString("\n\n")
	out.WriteString(m.status)
	out.WriteString("\n")
	out.WriteString(dimStyle.Render("space:play/stop  s:stop  q:quit"))
	return out.String()
}
