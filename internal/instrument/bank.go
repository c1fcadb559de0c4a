// Package instrument loads the per-track timbres and gates playback on
// their readiness.
package instrument

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cbegin/textmusic-go/internal/wavetable"
)

// Progress is told about every resource as it finishes loading; err is nil
// on success.
type Progress func(name string, err error)

// Bank holds one timbre per track index. A resource that fails to load
// leaves its slot empty; the rest of the bank is unaffected.
type Bank struct {
	names   []string
	fetcher Fetcher
	logger  *slog.Logger

	loadOnce sync.Once
	ready    chan struct{}

	mu       sync.RWMutex
	tables   map[int]*wavetable.Table
	failures map[string]error
}

// NewBank creates an unloaded bank; names[i] is the timbre of track i.
func NewBank(names []string, fetcher Fetcher, logger *slog.Logger) *Bank {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bank{
		names:    append([]string(nil), names...),
		fetcher:  fetcher,
		logger:   logger.With(slog.String("component", "instrument")),
		ready:    make(chan struct{}),
		tables:   make(map[int]*wavetable.Table),
		failures: make(map[string]error),
	}
}

// Names returns the resource names in track order.
func (b *Bank) Names() []string {
	return append([]string(nil), b.names...)
}

// Load fetches every resource concurrently and marks the bank ready when
// all attempts have finished. Only the first call loads; later calls
// return once the bank is ready or ctx ends. Per-resource failures are
// logged and recorded, never returned.
func (b *Bank) Load(ctx context.Context, progress Progress) error {
	started := false
	b.loadOnce.Do(func() {
		started = true
		b.load(ctx, progress)
	})
	if started {
		return ctx.Err()
	}
	return b.Wait(ctx)
}

func (b *Bank) load(ctx context.Context, progress Progress) {
	defer close(b.ready)
	b.logger.Info("Loading instruments...", slog.Int("count", len(b.names)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, name := range b.names {
		g.Go(func() error {
			table, err := b.fetchOne(gctx, name)
			b.mu.Lock()
			if err != nil {
				b.failures[name] = err
			} else {
				b.tables[i] = table
			}
			b.mu.Unlock()
			if err != nil {
				b.logger.Warn("instrument unavailable",
					slog.Int("track", i),
					slog.String("name", name),
					slog.String("error", err.Error()))
			}
			if progress != nil {
				progress(name, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	b.logger.Info("Instruments loaded",
		slog.Int("loaded", len(b.tables)),
		slog.Int("failed", len(b.failures)))
}

func (b *Bank) fetchOne(ctx context.Context, name string) (*wavetable.Table, error) {
	data, err := b.fetcher.Fetch(ctx, name)
	if err != nil {
		return nil, err
	}
	t, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return t.Table()
}

// Wait blocks until loading has finished or ctx ends.
func (b *Bank) Wait(ctx context.Context) error {
	select {
	case <-b.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready reports whether loading has finished.
func (b *Bank) Ready() bool {
	select {
	case <-b.ready:
		return true
	default:
		return false
	}
}

// Timbre returns the table of track, if it loaded.
func (b *Bank) Timbre(track int) (*wavetable.Table, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.tables[track]
	return t, ok
}

// Has reports whether track has a usable timbre.
func (b *Bank) Has(track int) bool {
	_, ok := b.Timbre(track)
	return ok
}

// Failures returns the load error of every resource that failed.
func (b *Bank) Failures() map[string]error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]error, len(b.failures))
	for k, v := range b.failures {
		out[k] = v
	}
	return out
}
