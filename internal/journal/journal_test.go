package journal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/cbegin/textmusic-go/internal/config"
	"github.com/cbegin/textmusic-go/internal/playback"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOffModeIsNoop(t *testing.T) {
	j, err := Open(context.Background(), config.JournalConfig{RetentionMode: "off"}, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	if err := j.Record(context.Background(), Entry{Kind: "encode"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	entries, err := j.List(context.Background(), 10)
	if err != nil || entries != nil {
		t.Fatalf("list = %v, %v; want nothing", entries, err)
	}
}

func TestEphemeralRecordsPlaybackEvents(t *testing.T) {
	j, err := Open(context.Background(), config.JournalConfig{RetentionMode: "ephemeral"}, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	if j.SessionID() == "" {
		t.Fatalf("expected a session id")
	}

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	j.Observe(playback.Event{Kind: playback.EventPlay, Generation: 1, Duration: 1.4, At: base})
	j.Observe(playback.Event{Kind: playback.EventError, Generation: 2, Err: errors.New("download failed"), At: base.Add(time.Second)})

	entries, err := j.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Kind != "play" || entries[0].Duration != 1.4 || !entries[0].CreatedAt.Equal(base) {
		t.Fatalf("unexpected first entry %+v", entries[0])
	}
	if entries[1].Kind != "error" || entries[1].Detail != "download failed" || entries[1].Generation != 2 {
		t.Fatalf("unexpected second entry %+v", entries[1])
	}
}

func TestPersistentSurvivesReopenAndPrunes(t *testing.T) {
	cfg := config.JournalConfig{Path: filepath.Join(t.TempDir(), "journal.db"), RetentionMode: "persistent"}
	ctx := context.Background()

	j, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	j.clock = func() time.Time { return now }
	if err := j.Record(ctx, Entry{Kind: "encode", Detail: "hello", CreatedAt: now.Add(-48 * time.Hour)}); err != nil {
		t.Fatalf("record old: %v", err)
	}
	if err := j.Record(ctx, Entry{Kind: "encode", Detail: "world"}); err != nil {
		t.Fatalf("record new: %v", err)
	}
	n, err := j.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned %d rows, want 1", n)
	}
	entries, err := j.List(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].Detail != "world" {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	again, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = again.Close() })
	if again.SessionID() == j.SessionID() {
		t.Fatalf("each open should start a new session")
	}
	fresh, err := again.List(ctx, 10)
	if err != nil {
		t.Fatalf("list after reopen: %v", err)
	}
	if len(fresh) != 0 {
		t.Fatalf("new session should start empty, got %d", len(fresh))
	}
	recent, err := again.Recent(ctx, 5)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 1 || recent[0].SessionID != j.SessionID() || recent[0].Detail != "world" {
		t.Fatalf("recent should span sessions, got %+v", recent)
	}
}
