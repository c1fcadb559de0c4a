package instrument

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// Fetcher retrieves the raw timbre document for a resource name.
type Fetcher interface {
	Fetch(ctx context.Context, name string) ([]byte, error)
}

// FetchError records a failed resource fetch.
type FetchError struct {
	Name string
	Code int
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch instrument %s: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("fetch instrument %s: status %d", e.Name, e.Code)
}

func (e *FetchError) Unwrap() error { return e.Err }

// HTTPFetcher loads {BaseURL}/{name}.yaml.
type HTTPFetcher struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPFetcher returns a fetcher with a bounded client timeout.
func NewHTTPFetcher(baseURL string, timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPFetcher{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, name string) ([]byte, error) {
	endpoint := f.BaseURL + "/" + url.PathEscape(name) + ".yaml"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &FetchError{Name: name, Err: err}
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &FetchError{Name: name, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, &FetchError{Name: name, Code: resp.StatusCode}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &FetchError{Name: name, Err: err}
	}
	return data, nil
}

// CachedFetcher serves documents from Dir on Fs and falls back to Next,
// storing what Next returns. Cache write failures are logged, not returned.
type CachedFetcher struct {
	Fs     afero.Fs
	Dir    string
	Next   Fetcher
	Logger *slog.Logger
}

func (c *CachedFetcher) Fetch(ctx context.Context, name string) ([]byte, error) {
	file := filepath.Join(c.Dir, path.Base(name)+".yaml")
	if data, err := afero.ReadFile(c.Fs, file); err == nil {
		return data, nil
	} else if !os.IsNotExist(err) && c.Logger != nil {
		c.Logger.Warn("instrument cache unreadable", slog.String("file", file), slog.String("error", err.Error()))
	}

	data, err := c.Next.Fetch(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := c.Fs.MkdirAll(c.Dir, 0o755); err != nil {
		c.warn(file, err)
		return data, nil
	}
	if err := afero.WriteFile(c.Fs, file, data, 0o644); err != nil {
		c.warn(file, err)
	}
	return data, nil
}

func (c *CachedFetcher) warn(file string, err error) {
	if c.Logger != nil {
		c.Logger.Warn("instrument cache write failed", slog.String("file", file), slog.String("error", err.Error()))
	}
}

// Builtin serves generated timbres for DefaultNames so playback works
// without an instrument host.
type Builtin struct{}

func (Builtin) Fetch(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, ok := builtinTimbre(name)
	if !ok {
		return nil, &FetchError{Name: name, Code: http.StatusNotFound}
	}
	return Encode(t)
}

const builtinTableLen = 64

func builtinTimbre(name string) (Timbre, bool) {
	wave := make([]float64, builtinTableLen)
	var t Timbre
	switch name {
	case DefaultNames[0]: // acoustic piano: fundamental plus decaying partials
		for i := range wave {
			x := 2 * math.Pi * float64(i) / builtinTableLen
			wave[i] = 0.6*math.Sin(x) + 0.25*math.Sin(2*x) + 0.1*math.Sin(3*x) + 0.05*math.Sin(4*x)
		}
		t = Timbre{Program: 0, Attack: 0.004, Decay: 0.6, Sustain: 0.35, Release: 0.3}
	case DefaultNames[1]: // electric bass: rounded triangle
		for i := range wave {
			p := float64(i) / builtinTableLen
			wave[i] = 1 - 4*math.Abs(p-0.5)
		}
		t = Timbre{Program: 33, Attack: 0.006, Decay: 0.2, Sustain: 0.7, Release: 0.12}
	case DefaultNames[2]: // string ensemble: band-limited saw
		for i := range wave {
			x := 2 * math.Pi * float64(i) / builtinTableLen
			var s float64
			for k := 1; k <= 8; k++ {
				s += math.Sin(float64(k)*x) / float64(k)
			}
			wave[i] = s * 0.55
		}
		t = Timbre{Program: 48, Attack: 0.12, Decay: 0.3, Sustain: 0.8, Release: 0.4}
	case DefaultNames[3]: // warm pad: soft square
		for i := range wave {
			x := 2 * math.Pi * float64(i) / builtinTableLen
			wave[i] = 0.7*math.Sin(x) + 0.23*math.Sin(3*x) + 0.14*math.Sin(5*x)
		}
		t = Timbre{Program: 89, Attack: 0.3, Decay: 0.5, Sustain: 0.9, Release: 0.8}
	default:
		return Timbre{}, false
	}
	t.Name = name
	t.Wave = HexWave(wave)
	return t, true
}
