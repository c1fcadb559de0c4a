package main

import (
	"bytes"
	"strings"
	"testing"

	textmusic "github.com/cbegin/textmusic-go"
	"github.com/cbegin/textmusic-go/internal/config"
	"github.com/cbegin/textmusic-go/internal/instrument"
	"github.com/cbegin/textmusic-go/internal/musicapi"
)

func TestNewLoggerHonoursFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info should be filtered at warn level: %s", out)
	}
	if !strings.HasPrefix(out, "{") || !strings.Contains(out, `"msg":"shown"`) {
		t.Fatalf("expected a JSON record, got %s", out)
	}

	if _, err := newLogger(config.LogConfig{Level: "loud", Format: "text"}, &buf); err == nil {
		t.Fatalf("unknown level should fail")
	}
}

func TestNewFetcherSelection(t *testing.T) {
	cfg := config.Default()
	cfg.Instruments.BaseURL = ""
	if _, ok := newFetcher(cfg, nil).(instrument.Builtin); !ok {
		t.Fatalf("empty base url should use builtin timbres")
	}

	cfg.Instruments.BaseURL = "http://timbres.example"
	cfg.Instruments.CacheDir = ""
	if _, ok := newFetcher(cfg, nil).(*instrument.HTTPFetcher); !ok {
		t.Fatalf("base url without cache should fetch over http")
	}

	cfg.Instruments.CacheDir = t.TempDir()
	cached, ok := newFetcher(cfg, nil).(*instrument.CachedFetcher)
	if !ok {
		t.Fatalf("cache dir should wrap the http fetcher")
	}
	if _, ok := cached.Next.(*instrument.HTTPFetcher); !ok {
		t.Fatalf("cache should fall back to http")
	}
}

func TestPhonemesFallBackToNotes(t *testing.T) {
	song := &textmusic.Song{Notes: []musicapi.Note{{Phoneme: "h"}, {Phoneme: "aɪ"}}}
	if got := phonemes(song); len(got) != 2 || got[1] != "aɪ" {
		t.Fatalf("phonemes = %v", got)
	}
	song.Phonemes = []string{"x"}
	if got := phonemes(song); len(got) != 1 || got[0] != "x" {
		t.Fatalf("listed phonemes should win, got %v", got)
	}
}
