// Package musicapi is the HTTP client of the text↔music service.
package musicapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// ErrTransport is wrapped by every failure to reach the service or to get
// a successful answer from it.
var ErrTransport = errors.New("music service request failed")

// MaxDownloadSize bounds a downloaded MIDI file, matching the upload limit
// of the service.
const MaxDownloadSize = 5 * 1024 * 1024

// ErrDownloadTooLarge is returned when a download exceeds MaxDownloadSize.
var ErrDownloadTooLarge = fmt.Errorf("downloaded file exceeds %d bytes", MaxDownloadSize)

// StatusError reports a non-2xx response.
type StatusError struct {
	Op     string
	Code   int
	Status string
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Status)
}

func (e *StatusError) Unwrap() error { return ErrTransport }

// Note is one encoded note as returned by the service. Time and Duration
// are in seconds.
type Note struct {
	Pitch    int     `json:"pitch"`
	Duration float64 `json:"duration"`
	Velocity int     `json:"velocity"`
	Time     float64 `json:"time"`
	Phoneme  string  `json:"phoneme"`
}

// EncodeResult is the answer to an encode request.
type EncodeResult struct {
	Success   bool     `json:"success"`
	IPA       string   `json:"ipa"`
	NoteCount int      `json:"note_count"`
	MIDIFile  string   `json:"midi_file"`
	Notes     []Note   `json:"notes"`
	Phonemes  []string `json:"phonemes"`
	Message   string   `json:"message"`
}

// DownloadName is the file name to save the MIDI file under.
func (r *EncodeResult) DownloadName() string {
	if r.MIDIFile == "" {
		return ""
	}
	return path.Base(r.MIDIFile)
}

type decodeResponse struct {
	Success     bool   `json:"success"`
	DecodedText string `json:"decoded_text"`
	Message     string `json:"message"`
}

type errorResponse struct {
	Detail json.RawMessage `json:"detail"`
}

// Client talks to one service instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for baseURL.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// BaseURL returns the service root.
func (c *Client) BaseURL() string { return c.baseURL }

// Encode converts text into music.
func (c *Client) Encode(ctx context.Context, text string) (*EncodeResult, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/encode", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out EncodeResult
	if err := c.do(req, "encode", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Decode uploads a MIDI file and returns the text recovered from it.
func (c *Client) Decode(ctx context.Context, filename string, r io.Reader) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", path.Base(filename))
	if err != nil {
		return "", fmt.Errorf("decode request: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("decode request: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("decode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/decode", &buf)
	if err != nil {
		return "", fmt.Errorf("decode request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out decodeResponse
	if err := c.do(req, "decode", &out); err != nil {
		return "", err
	}
	return out.DecodedText, nil
}

// Download fetches a generated MIDI file by the path the encode result
// named.
func (c *Client) Download(ctx context.Context, midiPath string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.DownloadURL(midiPath), nil)
	if err != nil {
		return nil, fmt.Errorf("download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, statusError("download", resp)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxDownloadSize+1))
	if err != nil {
		return nil, fmt.Errorf("download: %w: %w", ErrTransport, err)
	}
	if len(data) > MaxDownloadSize {
		return nil, fmt.Errorf("download %s: %w", midiPath, ErrDownloadTooLarge)
	}
	return data, nil
}

// DownloadURL is the absolute URL of a generated file. Each path segment
// is escaped.
func (c *Client) DownloadURL(midiPath string) string {
	segs := strings.Split(strings.TrimLeft(midiPath, "/"), "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return c.baseURL + "/download/" + strings.Join(segs, "/")
}

func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return statusError(op, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w: %w", op, ErrTransport, err)
	}
	return nil
}

func statusError(op string, resp *http.Response) error {
	se := &StatusError{Op: op, Code: resp.StatusCode, Status: resp.Status}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil || len(data) == 0 {
		return se
	}
	var er errorResponse
	if json.Unmarshal(data, &er) == nil && len(er.Detail) > 0 {
		var s string
		if json.Unmarshal(er.Detail, &s) == nil {
			se.Detail = s
		} else {
			se.Detail = string(er.Detail)
		}
	}
	return se
}
