package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli"

	textmusic "github.com/cbegin/textmusic-go"
	"github.com/cbegin/textmusic-go/internal/playback"
	"github.com/cbegin/textmusic-go/internal/tui"
)

func textArg(c *cli.Context) (string, error) {
	text := strings.Join(c.Args(), " ")
	if strings.TrimSpace(text) == "" {
		return "", textmusic.ErrEmptyText
	}
	return text, nil
}

func printSong(song *textmusic.Song) {
	fmt.Printf("Text:     %s\n", song.Text)
	if song.IPA != "" {
		fmt.Printf("IPA:      /%s/\n", song.IPA)
	}
	fmt.Printf("Notes:    %d\n", len(song.Notes))
	if len(song.Phonemes) > 0 {
		fmt.Printf("Phonemes: %s\n", strings.Join(song.Phonemes, " "))
	}
	fmt.Printf("MIDI:     %s\n", song.DownloadName())
}

func encodeCmd(c *cli.Context) error {
	text, err := textArg(c)
	if err != nil {
		return err
	}
	e, err := newEnv(c)
	if err != nil {
		return err
	}
	defer e.Close()

	pl, err := e.player(true)
	if err != nil {
		return err
	}
	ctx := context.Background()
	song, err := pl.Encode(ctx, text)
	if err != nil {
		return err
	}
	printSong(song)
	if dir := c.String("out"); dir != "" {
		dst, err := pl.SaveMIDI(ctx, dir)
		if err != nil {
			return err
		}
		fmt.Printf("Saved:    %s\n", dst)
	}
	return nil
}

func decodeCmd(c *cli.Context) error {
	name := c.Args().First()
	if name == "" {
		return textmusic.ErrNoFile
	}
	e, err := newEnv(c)
	if err != nil {
		return err
	}
	defer e.Close()

	pl, err := e.player(true)
	if err != nil {
		return err
	}
	out, err := pl.DecodeFile(context.Background(), name)
	if err != nil {
		return err
	}
	fmt.Printf("Decoded:  %s\n", out.Text)
	if out.Song != nil {
		printSong(out.Song)
	}
	return nil
}

func renderCmd(c *cli.Context) error {
	text, err := textArg(c)
	if err != nil {
		return err
	}
	e, err := newEnv(c)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := context.Background()
	if err := e.loadInstruments(ctx); err != nil {
		return err
	}
	pl, err := e.player(true)
	if err != nil {
		return err
	}
	if _, err := pl.Encode(ctx, text); err != nil {
		return err
	}
	tracks, err := pl.Tracks(ctx)
	if err != nil {
		return err
	}
	rate := e.cfg.Audio.SampleRate
	samples := textmusic.RenderTracks(tracks, e.bank, rate, e.mixerOptions(), c.Float64("tail"))
	dst := c.String("out")
	if c.Bool("float") {
		err = os.WriteFile(dst, textmusic.EncodeWAVFloat32LE(samples, rate, 2), 0o644)
	} else {
		err = writeWAV16(dst, samples, rate)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Rendered %.2fs to %s\n", float64(len(samples)/2)/float64(rate), dst)
	return nil
}

func writeWAV16(dst string, samples []float32, rate int) error {
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if err := textmusic.WriteWAV16(f, samples, rate, 2); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// controls adapts the player to the view. A superseded Play is not an
// error for the view; the newer run owns Done.
type controls struct {
	ctx context.Context
	pl  *textmusic.Player
}

func (c controls) Play() error {
	err := c.pl.Play(c.ctx)
	if errors.Is(err, playback.ErrSuperseded) {
		return nil
	}
	return err
}

func (c controls) Stop() { c.pl.Stop() }

func (c controls) Done() <-chan struct{} { return c.pl.Done() }

func playCmd(c *cli.Context) error {
	text, err := textArg(c)
	if err != nil {
		return err
	}
	e, err := newEnv(c)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	// Instruments load in the background; Play waits for them.
	go func() { _ = e.loadInstruments(ctx) }()

	if c.Bool("plain") {
		return playPlain(ctx, e, text)
	}

	cursor := tui.NewCursor()
	pl, err := e.player(false, textmusic.WithHighlighter(cursor))
	if err != nil {
		return err
	}
	song, err := pl.Encode(ctx, text)
	if err != nil {
		return err
	}
	model := tui.NewModel(song.Text, song.IPA, phonemes(song), cursor, controls{ctx: ctx, pl: pl})
	_, err = tea.NewProgram(model, tea.WithContext(ctx)).Run()
	pl.Stop()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func playPlain(ctx context.Context, e *env, text string) error {
	var marks []string
	pl, err := e.player(false, textmusic.WithHighlighter(playback.HighlightFunc(func(i int) {
		if i >= 0 && i < len(marks) {
			fmt.Print(marks[i], " ")
		}
	})))
	if err != nil {
		return err
	}
	song, err := pl.Encode(ctx, text)
	if err != nil {
		return err
	}
	marks = phonemes(song)
	printSong(song)
	fmt.Println("Playing...")
	if err := pl.Play(ctx); err != nil {
		return err
	}
	err = pl.Wait(ctx)
	pl.Stop()
	fmt.Println()
	fmt.Println("Ready to play")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// phonemes labels each melody note. The service lists one phoneme per
// note; older results only carry it on the notes.
func phonemes(song *textmusic.Song) []string {
	if len(song.Phonemes) > 0 {
		return song.Phonemes
	}
	out := make([]string, len(song.Notes))
	for i, n := range song.Notes {
		out[i] = n.Phoneme
	}
	return out
}

func historyCmd(c *cli.Context) error {
	e, err := newEnv(c)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := context.Background()
	if age := c.Duration("prune"); age > 0 {
		n, err := e.journal.Prune(ctx, age)
		if err != nil {
			return err
		}
		fmt.Printf("Pruned %d entries\n", n)
	}
	entries, err := e.journal.Recent(ctx, c.Int("limit"))
	if err != nil {
		return err
	}
	for _, en := range entries {
		fmt.Printf("%s  %-10s gen=%-3d %6.2fs  %s\n",
			en.CreatedAt.Format(time.DateTime), en.Kind, en.Generation, en.Duration, en.Detail)
	}
	return nil
}
