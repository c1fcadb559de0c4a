// Package textmusic turns text into music through a phonetic encoding
// service and plays it back with a note cursor kept in step with the audio.
package textmusic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/spf13/afero"

	intaudio "github.com/cbegin/textmusic-go/internal/audio"
	"github.com/cbegin/textmusic-go/internal/instrument"
	"github.com/cbegin/textmusic-go/internal/journal"
	"github.com/cbegin/textmusic-go/internal/midifile"
	"github.com/cbegin/textmusic-go/internal/musicapi"
	"github.com/cbegin/textmusic-go/internal/playback"
	"github.com/cbegin/textmusic-go/internal/scheduler"
	"github.com/cbegin/textmusic-go/internal/timeline"
	"github.com/cbegin/textmusic-go/internal/timers"
)

// Input limits enforced before anything reaches the service.
const (
	MaxTextLength = 500
	MaxFileSize   = 5 * 1024 * 1024
)

var (
	ErrEmptyText        = errors.New("text cannot be empty")
	ErrTextTooLong      = fmt.Errorf("text too long (max %d characters)", MaxTextLength)
	ErrNoFile           = errors.New("no file selected")
	ErrInvalidExtension = errors.New("invalid file format, must be .mid or .midi")
	ErrFileTooLarge     = fmt.Errorf("file too large (max %dMB)", MaxFileSize/(1024*1024))
	ErrNoSong           = errors.New("nothing to play, encode or decode first")
)

// ValidateText trims text and checks it against the service limits.
func ValidateText(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", ErrEmptyText
	}
	if utf8.RuneCountInString(text) > MaxTextLength {
		return "", ErrTextTooLong
	}
	return trimmed, nil
}

// ValidateMIDIFile checks an upload's name and size.
func ValidateMIDIFile(name string, size int64) error {
	if name == "" {
		return ErrNoFile
	}
	ext := strings.ToLower(filepath.Ext(name))
	if ext != ".mid" && ext != ".midi" {
		return ErrInvalidExtension
	}
	if size > MaxFileSize {
		return ErrFileTooLarge
	}
	return nil
}

// Song is an encoded text ready to play.
type Song struct {
	Text     string
	IPA      string
	MIDIFile string
	Notes    []musicapi.Note
	Phonemes []string
}

// DownloadName is the base name of the generated MIDI file.
func (s *Song) DownloadName() string { return path.Base(s.MIDIFile) }

// Decoded is the result of decoding a MIDI file: the recovered text and
// the song obtained by encoding that text again.
type Decoded struct {
	Text string
	Song *Song
}

// PlayerOption configures NewPlayer.
type PlayerOption func(*playerConfig)

type playerConfig struct {
	sampleRate  int
	mixer       intaudio.MixerOptions
	synth       scheduler.Synth
	timers      timers.Timers
	grace       time.Duration
	highlighter playback.Highlighter
	observers   playback.Observers
	journal     *journal.Journal
	fs          afero.Fs
	logger      *slog.Logger
}

func defaultPlayerConfig() playerConfig {
	return playerConfig{
		sampleRate: 48000,
		mixer:      intaudio.DefaultMixerOptions(),
		grace:      playback.DefaultConfig().Grace,
		fs:         afero.NewOsFs(),
	}
}

// WithSampleRate sets the rate of the shared audio output.
func WithSampleRate(rate int) PlayerOption {
	return func(cfg *playerConfig) { cfg.sampleRate = rate }
}

// WithGains sets the master and melody bus gains.
func WithGains(master, melody float64) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.mixer.MasterGain = master
		cfg.mixer.MelodyGain = melody
	}
}

// WithSynth replaces the shared audio device, e.g. with a Mixer rendered
// by hand.
func WithSynth(s scheduler.Synth) PlayerOption {
	return func(cfg *playerConfig) { cfg.synth = s }
}

// WithTimers replaces wall-clock timers.
func WithTimers(t timers.Timers) PlayerOption {
	return func(cfg *playerConfig) { cfg.timers = t }
}

// WithGrace sets the delay between the end of a timeline and auto-stop.
func WithGrace(d time.Duration) PlayerOption {
	return func(cfg *playerConfig) { cfg.grace = d }
}

// WithHighlighter installs the note cursor.
func WithHighlighter(h playback.Highlighter) PlayerOption {
	return func(cfg *playerConfig) { cfg.highlighter = h }
}

// WithObserver adds a playback observer.
func WithObserver(o playback.Observer) PlayerOption {
	return func(cfg *playerConfig) { cfg.observers = append(cfg.observers, o) }
}

// WithJournal records requests and playback transitions.
func WithJournal(j *journal.Journal) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.journal = j
		cfg.observers = append(cfg.observers, j)
	}
}

// WithFs sets the filesystem input files are read from and MIDI files
// are saved to.
func WithFs(fs afero.Fs) PlayerOption {
	return func(cfg *playerConfig) { cfg.fs = fs }
}

// WithLogger sets the logger handed to every component.
func WithLogger(l *slog.Logger) PlayerOption {
	return func(cfg *playerConfig) { cfg.logger = l }
}

// Player encodes text, decodes MIDI files and plays the current song with
// a synchronized note cursor.
type Player struct {
	client  *musicapi.Client
	bank    *instrument.Bank
	session *playback.Session
	synth   scheduler.Synth
	journal *journal.Journal
	fs      afero.Fs
	logger  *slog.Logger

	mu   sync.Mutex
	song *Song
}

// NewPlayer wires a playback session to the shared audio output unless
// WithSynth supplies another clock.
func NewPlayer(client *musicapi.Client, bank *instrument.Bank, opts ...PlayerOption) (*Player, error) {
	if client == nil || bank == nil {
		return nil, errors.New("client and bank are required")
	}
	cfg := defaultPlayerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.sampleRate <= 0 {
		return nil, errors.New("sampleRate must be positive")
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	synth := cfg.synth
	if synth == nil {
		out, err := intaudio.Shared(cfg.sampleRate, cfg.mixer)
		if err != nil {
			return nil, err
		}
		synth = out
	}
	if cfg.timers == nil {
		cfg.timers = timers.System()
	}

	session := playback.New(playback.Config{Grace: cfg.grace}, playback.Deps{
		Synth:       synth,
		Bank:        bank,
		Scheduler:   scheduler.New(synth, cfg.timers, cfg.logger),
		Highlighter: cfg.highlighter,
		Timers:      cfg.timers,
		Observer:    cfg.observers,
		Logger:      cfg.logger,
	})
	return &Player{
		client:  client,
		bank:    bank,
		session: session,
		synth:   synth,
		journal: cfg.journal,
		fs:      cfg.fs,
		logger:  cfg.logger,
	}, nil
}

// Session exposes the playback state machine.
func (p *Player) Session() *playback.Session { return p.session }

// Song returns the current song, or nil.
func (p *Player) Song() *Song {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.song
}

// Encode sends text to the service and makes the result the current song.
func (p *Player) Encode(ctx context.Context, text string) (*Song, error) {
	text, err := ValidateText(text)
	if err != nil {
		return nil, err
	}
	res, err := p.client.Encode(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	song := &Song{
		Text:     text,
		IPA:      res.IPA,
		MIDIFile: res.MIDIFile,
		Notes:    res.Notes,
		Phonemes: res.Phonemes,
	}
	p.mu.Lock()
	p.song = song
	p.mu.Unlock()
	p.record(ctx, "encode", text)
	p.logger.Info("text encoded", slog.Int("notes", res.NoteCount), slog.String("midi_file", res.MIDIFile))
	return song, nil
}

// DecodeFile uploads the MIDI file at name, then encodes the recovered
// text so it can be displayed and played.
func (p *Player) DecodeFile(ctx context.Context, name string) (*Decoded, error) {
	if name == "" {
		return nil, ErrNoFile
	}
	info, err := p.fs.Stat(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoFile, err)
	}
	if err := ValidateMIDIFile(name, info.Size()); err != nil {
		return nil, err
	}
	f, err := p.fs.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	text, err := p.client.Decode(ctx, filepath.Base(name), f)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	p.record(ctx, "decode", text)
	out := &Decoded{Text: text}
	if strings.TrimSpace(text) == "" {
		return out, nil
	}
	song, err := p.Encode(ctx, text)
	if err != nil {
		return out, err
	}
	out.Song = song
	return out, nil
}

// Play starts the current song from the beginning, replacing anything
// already playing. It returns playback.ErrSuperseded when Stop or another
// Play won the race.
func (p *Player) Play(ctx context.Context) error {
	song := p.Song()
	if song == nil {
		return ErrNoSong
	}
	return p.session.Play(ctx, p.loadSong(song))
}

// Stop silences playback and clears the cursor.
func (p *Player) Stop() { p.session.Stop() }

// Done is closed when the current playback ends.
func (p *Player) Done() <-chan struct{} { return p.session.Done() }

// Wait blocks until the current playback ends or ctx is done.
func (p *Player) Wait(ctx context.Context) error {
	select {
	case <-p.session.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tracks downloads and decodes the MIDI file of the current song.
func (p *Player) Tracks(ctx context.Context) ([]timeline.Track, error) {
	song := p.Song()
	if song == nil {
		return nil, ErrNoSong
	}
	return p.loadSong(song)(ctx)
}

// SaveMIDI writes the current song's MIDI file into dir and returns its
// path.
func (p *Player) SaveMIDI(ctx context.Context, dir string) (string, error) {
	song := p.Song()
	if song == nil {
		return "", ErrNoSong
	}
	data, err := p.client.Download(ctx, song.MIDIFile)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	if err := p.fs.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(dir, song.DownloadName())
	if err := afero.WriteFile(p.fs, dst, data, 0o644); err != nil {
		return "", err
	}
	return dst, nil
}

func (p *Player) loadSong(song *Song) playback.LoadFunc {
	return func(ctx context.Context) ([]timeline.Track, error) {
		data, err := p.client.Download(ctx, song.MIDIFile)
		if err != nil {
			return nil, fmt.Errorf("fetch midi: %w", err)
		}
		tracks, err := midifile.Decode(data)
		if err != nil {
			return nil, err
		}
		return tracks, nil
	}
}

func (p *Player) record(ctx context.Context, kind, detail string) {
	if p.journal == nil {
		return
	}
	if err := p.journal.Record(ctx, journal.Entry{Kind: kind, Detail: detail}); err != nil {
		p.logger.Warn("journal write failed", slog.String("kind", kind), slog.String("error", err.Error()))
	}
}
