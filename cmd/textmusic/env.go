package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/afero"
	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	textmusic "github.com/cbegin/textmusic-go"
	intaudio "github.com/cbegin/textmusic-go/internal/audio"
	"github.com/cbegin/textmusic-go/internal/config"
	"github.com/cbegin/textmusic-go/internal/instrument"
	"github.com/cbegin/textmusic-go/internal/journal"
	"github.com/cbegin/textmusic-go/internal/musicapi"
	"github.com/cbegin/textmusic-go/internal/telemetry"
)

// env holds what every command shares.
type env struct {
	cfg     config.Config
	logger  *slog.Logger
	tel     *telemetry.Telemetry
	journal *journal.Journal
	client  *musicapi.Client
	bank    *instrument.Bank
}

func newEnv(c *cli.Context) (*env, error) {
	path := c.GlobalString("config")
	if path == "" {
		path = c.String("config")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	ctx := context.Background()
	tel, err := telemetry.Setup(ctx, "textmusic", version, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	if cfg.Telemetry.MetricsBind != "" {
		addr, err := tel.Serve(cfg.Telemetry.MetricsBind)
		if err != nil {
			_ = tel.Shutdown(ctx)
			return nil, fmt.Errorf("metrics: %w", err)
		}
		logger.Info("metrics listening", slog.String("addr", addr))
	}

	j, err := journal.Open(ctx, cfg.Journal, logger)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	return &env{
		cfg:     cfg,
		logger:  logger,
		tel:     tel,
		journal: j,
		client:  musicapi.New(cfg.Service.BaseURL, cfg.ServiceTimeout()),
		bank:    instrument.NewBank(cfg.Instruments.Names, newFetcher(cfg, logger), logger),
	}, nil
}

func (e *env) Close() error {
	ctx := context.Background()
	return errors.Join(e.journal.Close(), e.tel.Shutdown(ctx))
}

func newLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// newFetcher picks the built-in timbres unless a timbre server is
// configured, in which case downloads are cached on disk when cache_dir is
// set.
func newFetcher(cfg config.Config, logger *slog.Logger) instrument.Fetcher {
	if cfg.Instruments.BaseURL == "" {
		return instrument.Builtin{}
	}
	var f instrument.Fetcher = instrument.NewHTTPFetcher(cfg.Instruments.BaseURL, cfg.ServiceTimeout())
	if cfg.Instruments.CacheDir != "" {
		f = &instrument.CachedFetcher{
			Fs:     afero.NewOsFs(),
			Dir:    cfg.Instruments.CacheDir,
			Next:   f,
			Logger: logger,
		}
	}
	return f
}

// loadInstruments loads the bank behind a progress bar. Instruments that
// fail are reported; playback goes on without their tracks.
func (e *env) loadInstruments(ctx context.Context) error {
	names := e.bank.Names()
	p := mpb.New(mpb.WithWidth(64), mpb.WithOutput(os.Stderr))
	label := "Loading instruments..."
	bar := p.AddBar(int64(len(names)),
		mpb.PrependDecorators(
			decor.Name(label, decor.WC{W: len(label) + 1, C: decor.DindentRight}),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.OnComplete(decor.Percentage(decor.WC{W: 5}), "Instruments loaded"),
		),
	)
	err := e.bank.Load(ctx, func(string, error) { bar.Increment() })
	if !bar.Completed() {
		bar.Abort(false)
	}
	p.Wait()

	for name, ferr := range e.bank.Failures() {
		fmt.Fprintf(os.Stderr, "instrument %s unavailable: %s\n", name, ferr.Error())
	}
	return err
}

// player builds a Player. Offline players get a Mixer nobody renders, so no
// audio device is opened.
func (e *env) player(offline bool, opts ...textmusic.PlayerOption) (*textmusic.Player, error) {
	a := e.cfg.Audio
	base := []textmusic.PlayerOption{
		textmusic.WithSampleRate(a.SampleRate),
		textmusic.WithGains(a.MasterGain, a.MelodyGain),
		textmusic.WithGrace(e.cfg.Grace()),
		textmusic.WithJournal(e.journal),
		textmusic.WithLogger(e.logger),
	}
	if offline {
		base = append(base, textmusic.WithSynth(intaudio.NewMixer(a.SampleRate, e.mixerOptions())))
	}
	return textmusic.NewPlayer(e.client, e.bank, append(base, opts...)...)
}

func (e *env) mixerOptions() intaudio.MixerOptions {
	opts := intaudio.DefaultMixerOptions()
	opts.MasterGain = e.cfg.Audio.MasterGain
	opts.MelodyGain = e.cfg.Audio.MelodyGain
	return opts
}
